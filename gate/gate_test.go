package gate

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realavanca_go_1/capital"
	"realavanca_go_1/config"
	"realavanca_go_1/execution"
	"realavanca_go_1/learner"
	"realavanca_go_1/policy"
	"realavanca_go_1/scalp"
)

var decisionTime = time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)

func testGateConfig() *config.Config {
	return &config.Config{
		Symbol:        "ESZ5",
		UseSimulation: true,
		Capital: &config.CapitalConfig{
			CapitalUSDT:       50000,
			MarginPerContract: 12000,
			MinContracts:      1,
			MaxContractsCap:   5,
			HistoryLimit:      100,
		},
		Realavancagem: &config.RealavancagemConfig{
			Enabled:            true,
			MaxExtraContracts:  1,
			AllowedRegimes:     []string{"TRENDING_UP", "RANGING"},
			ForbiddenRegimes:   []string{"TRANSITION", "CHAOTIC"},
			MinConfidence:      0.65,
			RequireProfitToday: true,
			MinProfitToday:     100,
			MinLiquidity:       0.5,
			MaxDisagreement:    0.35,
		},
		Scalp: &config.ScalpConfig{
			TPPoints:                     80,
			SLPoints:                     40,
			PointValue:                   1.0,
			MaxHoldSeconds:               900,
			ProtectProfitAfterScalp:      true,
			ProtectProfitCooldownSeconds: 300,
			EventsLimit:                  100,
		},
		Policy: &config.PolicyConfig{
			BatchSize:            10,
			FreezeThreshold:      -0.3,
			MinFreezeSamples:     20,
			RewardScale:          500,
			SnapshotHistoryLimit: 50,
			EventLogLimit:        200,
			ConservativeFraction: 0.5,
		},
		Logs:   &config.LogConfig{LogLevel: "error"},
		Normal: &config.NormalConfig{MonitorIntervalSeconds: 5, HeartbeatIntervalMinutes: 30},
	}
}

type gateFixture struct {
	cfg      *config.Config
	capMgr   *capital.Manager
	engine   *policy.Engine
	scalpMgr *scalp.Manager
	updater  *learner.Updater
	gate     *Gate
}

func newGateFixture(t *testing.T, cfg *config.Config, sink Sink) *gateFixture {
	t.Helper()
	capMgr, err := capital.NewManager(cfg.Capital, cfg.Realavancagem)
	require.NoError(t, err)
	engine := policy.NewEngine(policy.NewStore(), cfg.Policy, rand.New(rand.NewSource(11)))
	scalpMgr := scalp.NewManager(cfg.Scalp)
	updater := learner.NewUpdater(engine, cfg.Policy)
	g := New(cfg, capMgr, engine, scalpMgr, updater, sink)
	scalpMgr.SetOnClose(g.OnScalpClosed)
	return &gateFixture{cfg: cfg, capMgr: capMgr, engine: engine, scalpMgr: scalpMgr, updater: updater, gate: g}
}

func testInput() Input {
	liquidity := 0.8
	return Input{
		Regime:       "TRENDING_UP",
		Timestamp:    decisionTime,
		Confidence:   0.9,
		Disagreement: 0.2,
		Liquidity:    &liquidity,
		ProfitToday:  250,
		CurrentPrice: 5000,
	}
}

func testDecision() *execution.Decision {
	return &execution.Decision{
		Symbol:     "ESZ5",
		Side:       execution.Buy,
		Entry:      5000,
		Stop:       4950,
		Target:     5150,
		Size:       10,
		Confidence: 0.9,
	}
}

// dominantTable biases the posterior so the given action wins selection with
// overwhelming probability.
func dominantTable(stateHash string, winner policy.Action) policy.Table {
	actions := make(map[policy.Action]*policy.ActionValue, len(policy.AllActions))
	for _, a := range policy.AllActions {
		if a == winner {
			actions[a] = &policy.ActionValue{Alpha: 5000, Beta: 1}
		} else {
			actions[a] = &policy.ActionValue{Alpha: 1, Beta: 5000}
		}
	}
	return policy.Table{stateHash: actions}
}

func stateHashFor(in Input) string {
	return policy.Discretize(in.Regime, in.Timestamp, in.Confidence, in.Disagreement).Hash()
}

func TestApplyGateFrozenRegimeHoldsZeroSize(t *testing.T) {
	f := newGateFixture(t, testGateConfig(), NopSink{})
	f.engine.FreezeRegime("TRENDING_UP", "manual")

	original := testDecision()
	res := f.gate.ApplyGate(original, testInput())

	assert.Equal(t, policy.Hold, res.Action)
	assert.Equal(t, 0, res.Decision.Size)
	assert.False(t, res.RealavancagemApproved)
	// the gate only touches size
	assert.Equal(t, original.Entry, res.Decision.Entry)
	assert.Equal(t, original.Stop, res.Decision.Stop)
	assert.Equal(t, original.Target, res.Decision.Target)
	assert.Equal(t, 10, original.Size, "original decision must not be mutated")
}

func TestApplyGateReleverageOpensScalp(t *testing.T) {
	f := newGateFixture(t, testGateConfig(), NopSink{})
	in := testInput()
	f.engine.ImportPolicyTable(in.Regime, dominantTable(stateHashFor(in), policy.EnterWithRealavancagem))

	res := f.gate.ApplyGate(testDecision(), in)

	require.Equal(t, policy.EnterWithRealavancagem, res.Action)
	assert.True(t, res.RealavancagemApproved)
	assert.Equal(t, 5, res.Decision.Size) // base 4 + extra 1
	assert.Equal(t, capital.ReasonApproved, res.CapitalState.Reason)

	setup, ok := f.scalpMgr.ActiveScalp("ESZ5")
	require.True(t, ok, "approved re-leverage must open a scalp")
	assert.Equal(t, 5080.0, setup.TPPrice)
	assert.Equal(t, 4960.0, setup.SLPrice)
	assert.Equal(t, 1, setup.ExtraContracts)
}

func TestApplyGateEnterUsesBaseSize(t *testing.T) {
	f := newGateFixture(t, testGateConfig(), NopSink{})
	in := testInput()
	f.engine.ImportPolicyTable(in.Regime, dominantTable(stateHashFor(in), policy.Enter))

	res := f.gate.ApplyGate(testDecision(), in)

	require.Equal(t, policy.Enter, res.Action)
	assert.False(t, res.RealavancagemApproved)
	assert.Equal(t, 4, res.Decision.Size)
	_, ok := f.scalpMgr.ActiveScalp("ESZ5")
	assert.False(t, ok, "plain entry must not open a scalp")
}

func TestApplyGateConservativeHalvesSize(t *testing.T) {
	f := newGateFixture(t, testGateConfig(), NopSink{})
	in := testInput()
	f.engine.ImportPolicyTable(in.Regime, dominantTable(stateHashFor(in), policy.EnterConservative))

	res := f.gate.ApplyGate(testDecision(), in)

	require.Equal(t, policy.EnterConservative, res.Action)
	assert.Equal(t, 2, res.Decision.Size) // round(4 * 0.5)
}

func TestApplyGateCapitalRejectionWithdrawsExtra(t *testing.T) {
	f := newGateFixture(t, testGateConfig(), NopSink{})
	in := testInput()
	in.ProfitToday = 0 // fails the profit gate
	f.engine.ImportPolicyTable(in.Regime, dominantTable(stateHashFor(in), policy.EnterWithRealavancagem))

	res := f.gate.ApplyGate(testDecision(), in)

	require.Equal(t, policy.EnterWithRealavancagem, res.Action)
	assert.False(t, res.RealavancagemApproved)
	assert.Equal(t, 4, res.Decision.Size)
	assert.Equal(t, capital.ReasonProfitNotMet, res.CapitalState.Reason)
	_, ok := f.scalpMgr.ActiveScalp("ESZ5")
	assert.False(t, ok)
}

func TestApplyGateCooldownBlocksExtraRequest(t *testing.T) {
	f := newGateFixture(t, testGateConfig(), NopSink{})
	in := testInput()
	f.engine.ImportPolicyTable(in.Regime, dominantTable(stateHashFor(in), policy.EnterWithRealavancagem))

	// first cycle approves and opens; the TP close starts the cooldown
	res := f.gate.ApplyGate(testDecision(), in)
	require.True(t, res.RealavancagemApproved)
	require.True(t, f.scalpMgr.UpdateScalp("ESZ5", 5090, decisionTime.Add(time.Minute)))
	require.True(t, f.scalpMgr.InCooldownAt("ESZ5", decisionTime.Add(2*time.Minute)))

	// second cycle inside the window never even requests extra
	in2 := in
	in2.Timestamp = decisionTime.Add(2 * time.Minute)
	res = f.gate.ApplyGate(testDecision(), in2)
	assert.False(t, res.RealavancagemApproved)
	assert.Equal(t, 4, res.Decision.Size)
	assert.Equal(t, capital.ReasonNoExtraRequested, res.CapitalState.Reason)
	_, ok := f.scalpMgr.ActiveScalp("ESZ5")
	assert.False(t, ok)
}

func TestApplyGateActiveScalpWithdrawsExtra(t *testing.T) {
	f := newGateFixture(t, testGateConfig(), NopSink{})
	in := testInput()
	f.engine.ImportPolicyTable(in.Regime, dominantTable(stateHashFor(in), policy.EnterWithRealavancagem))

	res := f.gate.ApplyGate(testDecision(), in)
	require.True(t, res.RealavancagemApproved)

	// scalp still live on the next cycle: approval is withdrawn, base size kept
	in2 := in
	in2.Timestamp = decisionTime.Add(time.Minute)
	res = f.gate.ApplyGate(testDecision(), in2)
	assert.False(t, res.RealavancagemApproved)
	assert.Equal(t, 4, res.Decision.Size)
}

func TestScalpCloseFeedsLearner(t *testing.T) {
	f := newGateFixture(t, testGateConfig(), NopSink{})
	in := testInput()
	f.engine.ImportPolicyTable(in.Regime, dominantTable(stateHashFor(in), policy.EnterWithRealavancagem))

	res := f.gate.ApplyGate(testDecision(), in)
	require.True(t, res.RealavancagemApproved)

	require.True(t, f.scalpMgr.UpdateScalp("ESZ5", 5090, decisionTime.Add(time.Minute)))
	assert.Equal(t, 1, f.updater.PendingCount(), "scalp close must queue one trade outcome")
}

func TestBatchBoundaryTriggersFreeze(t *testing.T) {
	cfg := testGateConfig()
	cfg.Policy.BatchSize = 1
	cfg.Policy.MinFreezeSamples = 2
	cfg.Policy.FreezeThreshold = -10
	cfg.Scalp.ProtectProfitAfterScalp = false
	f := newGateFixture(t, cfg, NopSink{})
	in := testInput()
	f.engine.ImportPolicyTable(in.Regime, dominantTable(stateHashFor(in), policy.EnterWithRealavancagem))

	// two consecutive stop-loss closes: rolling mean -40 over a full window
	for i := 0; i < 2; i++ {
		in.Timestamp = decisionTime.Add(time.Duration(i) * time.Hour)
		res := f.gate.ApplyGate(testDecision(), in)
		require.True(t, res.RealavancagemApproved, "cycle %d", i)
		require.True(t, f.scalpMgr.UpdateScalp("ESZ5", 4950, in.Timestamp.Add(time.Minute)))
	}

	frozen, reason := f.engine.IsFrozen("TRENDING_UP")
	require.True(t, frozen, "sustained losses over a full window must freeze the regime")
	assert.NotEmpty(t, reason)

	in.Timestamp = decisionTime.Add(3 * time.Hour)
	res := f.gate.ApplyGate(testDecision(), in)
	assert.Equal(t, policy.Hold, res.Action)
	assert.Equal(t, 0, res.Decision.Size)
}

func TestOnTradeClosedAppliesBatchAndSnapshots(t *testing.T) {
	cfg := testGateConfig()
	cfg.Policy.BatchSize = 3
	f := newGateFixture(t, cfg, NopSink{})

	for i := 0; i < 3; i++ {
		f.gate.OnTradeClosed(learner.TradeOutcome{
			Symbol:    "ESZ5",
			Regime:    "RANGING",
			StateHash: "RANGING|h14|cHIGH|dLOW",
			Action:    policy.Enter,
			Reward:    100,
			Timestamp: decisionTime,
		})
	}

	assert.Equal(t, 0, f.updater.PendingCount())
	snaps := f.updater.Snapshots("RANGING", 0)
	require.Len(t, snaps, 1)
	assert.Equal(t, 3, snaps[0].Metrics.TradeCount)
}

func TestOrphanScalpCloseDropsOutcome(t *testing.T) {
	f := newGateFixture(t, testGateConfig(), NopSink{})

	// close event with no recorded open context
	f.gate.OnScalpClosed(scalp.Event{Symbol: "NQZ5", Kind: scalp.EventSLHit, PnL: -40, Time: decisionTime})
	assert.Equal(t, 0, f.updater.PendingCount())
}

// failingSink errors on every write, exercising the log-and-continue contract.
type failingSink struct{ calls int }

func (s *failingSink) fail() error { s.calls++; return errors.New("sink unavailable") }

func (s *failingSink) InsertCapitalState(*capital.CapitalState) error { return s.fail() }
func (s *failingSink) InsertScalpEvent(scalp.Event) error             { return s.fail() }
func (s *failingSink) UpsertRLPolicy(string, string, policy.Action, policy.ActionValue) error {
	return s.fail()
}
func (s *failingSink) InsertRLEvent(policy.Event) error             { return s.fail() }
func (s *failingSink) CreatePolicySnapshot(*learner.Snapshot) error { return s.fail() }
func (s *failingSink) InsertRLReport(Report) error                  { return s.fail() }

func TestFailingSinkNeverBlocksDecisions(t *testing.T) {
	cfg := testGateConfig()
	cfg.Policy.BatchSize = 1
	sink := &failingSink{}
	f := newGateFixture(t, cfg, sink)
	in := testInput()
	f.engine.ImportPolicyTable(in.Regime, dominantTable(stateHashFor(in), policy.EnterWithRealavancagem))

	res := f.gate.ApplyGate(testDecision(), in)
	assert.True(t, res.RealavancagemApproved)
	assert.Equal(t, 5, res.Decision.Size)

	// the full close -> learn -> snapshot path also survives a dead sink
	require.True(t, f.scalpMgr.UpdateScalp("ESZ5", 5090, decisionTime.Add(time.Minute)))
	assert.Equal(t, 0, f.updater.PendingCount())
	assert.Greater(t, sink.calls, 0)
}
