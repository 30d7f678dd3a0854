package learner

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realavanca_go_1/config"
	"realavanca_go_1/policy"
)

func testPolicyConfig() *config.PolicyConfig {
	return &config.PolicyConfig{
		BatchSize:            10,
		FreezeThreshold:      -0.3,
		MinFreezeSamples:     20,
		RewardScale:          500,
		SnapshotHistoryLimit: 50,
		EventLogLimit:        100,
		ConservativeFraction: 0.5,
	}
}

func newTestUpdater(cfg *config.PolicyConfig) (*Updater, *policy.Engine) {
	engine := policy.NewEngine(policy.NewStore(), cfg, rand.New(rand.NewSource(1)))
	return NewUpdater(engine, cfg), engine
}

func outcome(regime string, reward float64) TradeOutcome {
	return TradeOutcome{
		Symbol:    "ESZ5",
		Regime:    regime,
		StateHash: regime + "|h14|cHIGH|dLOW",
		Action:    policy.Enter,
		Reward:    reward,
		Timestamp: time.Now(),
	}
}

func TestShouldUpdateAtBatchBoundary(t *testing.T) {
	u, _ := newTestUpdater(testPolicyConfig())

	for i := 0; i < 9; i++ {
		u.AddTrade(outcome("TRENDING_UP", 100))
		assert.False(t, u.ShouldUpdate(), "buffer of %d must not trigger", i+1)
	}
	u.AddTrade(outcome("TRENDING_UP", 100))
	assert.True(t, u.ShouldUpdate())
	assert.Equal(t, 10, u.PendingCount())
}

func TestApplyPendingDrainsBufferAndUpdatesEngine(t *testing.T) {
	u, engine := newTestUpdater(testPolicyConfig())

	for i := 0; i < 10; i++ {
		u.AddTrade(outcome("TRENDING_UP", 500))
	}
	snaps := u.ApplyPending("batch #1")

	assert.Equal(t, 0, u.PendingCount())
	require.Len(t, snaps, 1)
	assert.Equal(t, "TRENDING_UP", snaps[0].Regime)
	assert.Equal(t, 10, snaps[0].Metrics.TradeCount)
	assert.InDelta(t, 500.0, snaps[0].Metrics.MeanReward, 1e-9)
	assert.InDelta(t, 1.0, snaps[0].Metrics.WinRate, 1e-9)
	assert.Equal(t, "batch #1", snaps[0].Note)

	// ten saturated-positive updates: alpha 1 -> 11
	table := engine.ExportPolicyTable("TRENDING_UP")
	v := table[outcome("TRENDING_UP", 0).StateHash][policy.Enter]
	require.NotNil(t, v)
	assert.InDelta(t, 11.0, v.Alpha, 1e-9)
	assert.InDelta(t, 1.0, v.Beta, 1e-9)
	assert.Equal(t, 10, v.Visits)
}

func TestApplyPendingSnapshotPerTouchedRegime(t *testing.T) {
	u, _ := newTestUpdater(testPolicyConfig())

	u.AddTrade(outcome("RANGING", 50))
	u.AddTrade(outcome("TRENDING_UP", -200))
	u.AddTrade(outcome("RANGING", -100))
	snaps := u.ApplyPending("")

	require.Len(t, snaps, 2)
	// first-touch order
	assert.Equal(t, "RANGING", snaps[0].Regime)
	assert.Equal(t, "TRENDING_UP", snaps[1].Regime)
	assert.Equal(t, 2, snaps[0].Metrics.TradeCount)
	assert.InDelta(t, -25.0, snaps[0].Metrics.MeanReward, 1e-9)
	assert.InDelta(t, 0.5, snaps[0].Metrics.WinRate, 1e-9)
	assert.Equal(t, 1, snaps[1].Metrics.TradeCount)
	assert.InDelta(t, 0.0, snaps[1].Metrics.WinRate, 1e-9)
}

func TestApplyPendingEmptyBufferNoop(t *testing.T) {
	u, _ := newTestUpdater(testPolicyConfig())
	assert.Nil(t, u.ApplyPending(""))
	assert.Equal(t, 0, u.ExportState().AppliedTotal)
}

func TestRollbackRestoresTableExactly(t *testing.T) {
	u, engine := newTestUpdater(testPolicyConfig())

	u.AddTrade(outcome("TRENDING_UP", 300))
	u.AddTrade(outcome("TRENDING_UP", -150))
	snaps := u.ApplyPending("checkpoint")
	require.Len(t, snaps, 1)
	checkpoint := snaps[0]

	wantJSON, err := json.Marshal(checkpoint.Table)
	require.NoError(t, err)

	// drift the table past the checkpoint
	u.AddTrade(outcome("TRENDING_UP", -500))
	u.AddTrade(outcome("TRENDING_UP", -500))
	u.ApplyPending("drift")
	driftedJSON, err := json.Marshal(engine.ExportPolicyTable("TRENDING_UP"))
	require.NoError(t, err)
	require.NotEqual(t, string(wantJSON), string(driftedJSON))

	restored, err := u.RollbackToSnapshot(checkpoint.ID)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.ID, restored.ID)

	gotJSON, err := json.Marshal(engine.ExportPolicyTable("TRENDING_UP"))
	require.NoError(t, err)
	assert.JSONEq(t, string(wantJSON), string(gotJSON), "rollback must restore the snapshot table byte for byte")
}

func TestRollbackUnknownSnapshot(t *testing.T) {
	u, _ := newTestUpdater(testPolicyConfig())
	_, err := u.RollbackToSnapshot("no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotHistoryBounded(t *testing.T) {
	cfg := testPolicyConfig()
	cfg.SnapshotHistoryLimit = 3
	u, _ := newTestUpdater(cfg)

	var first *Snapshot
	for i := 0; i < 5; i++ {
		u.AddTrade(outcome("RANGING", float64(i*10)))
		snaps := u.ApplyPending("")
		require.Len(t, snaps, 1)
		if i == 0 {
			first = snaps[0]
		}
	}

	assert.Len(t, u.Snapshots("RANGING", 0), 3)

	// evicted snapshots are no longer addressable
	_, err := u.RollbackToSnapshot(first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotsNewestFirst(t *testing.T) {
	u, _ := newTestUpdater(testPolicyConfig())

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		u.AddTrade(outcome("RANGING", 10))
		snaps := u.ApplyPending("")
		require.Len(t, snaps, 1)
		ids = append(ids, snaps[0].ID)
	}

	got := u.Snapshots("RANGING", 2)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
}

func TestExportState(t *testing.T) {
	u, _ := newTestUpdater(testPolicyConfig())

	u.AddTrade(outcome("RANGING", 10))
	u.AddTrade(outcome("TRENDING_UP", 10))
	u.ApplyPending("")
	u.AddTrade(outcome("RANGING", -5))

	st := u.ExportState()
	assert.Equal(t, 1, st.PendingCount)
	assert.Equal(t, 2, st.AppliedTotal)
	assert.Equal(t, 1, st.SnapshotCount["RANGING"])
	assert.Equal(t, 1, st.SnapshotCount["TRENDING_UP"])
}
