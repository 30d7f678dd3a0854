// gate/gate.go
package gate

import (
	"errors"
	"math"
	"sync"
	"time"

	"realavanca_go_1/capital"
	"realavanca_go_1/config"
	"realavanca_go_1/execution"
	"realavanca_go_1/learner"
	"realavanca_go_1/logs"
	"realavanca_go_1/policy"
	"realavanca_go_1/scalp"
)

// Input carries the per-decision context from the upstream regime/ensemble
// layers. Liquidity is optional; nil means the signal is unavailable.
type Input struct {
	Regime       string
	Timestamp    time.Time
	Confidence   float64
	Disagreement float64
	Liquidity    *float64
	ProfitToday  float64
	CurrentPrice float64
}

// Result is what the gate hands to the execution layer: the size-adjusted
// decision, the action chosen by the policy engine, and whether extra
// leveraged exposure was approved.
type Result struct {
	Decision              *execution.Decision
	Action                policy.Action
	RealavancagemApproved bool
	CapitalState          *capital.CapitalState
}

// scalpContext remembers the learning context a scalp was opened under so
// its close can be fed back as a trade outcome.
type scalpContext struct {
	regime    string
	stateHash string
	action    policy.Action
}

// Gate is the only component the rest of the system talks to. It wires the
// capital manager, policy engine, scalp manager and online updater into one
// decision path and persists an audit trail through the sink.
type Gate struct {
	cfg      *config.Config
	capMgr   *capital.Manager
	engine   *policy.Engine
	scalpMgr *scalp.Manager
	updater  *learner.Updater
	sink     Sink

	mu            sync.Mutex
	openScalps    map[string]scalpContext
	rewardWindows map[string][]float64 // per regime, for the freeze health check
	reports       map[string]*Report   // keyed date|symbol
}

// New creates the gate. The sink may be a NopSink; it must not be nil.
func New(cfg *config.Config, capMgr *capital.Manager, engine *policy.Engine, scalpMgr *scalp.Manager, updater *learner.Updater, sink Sink) *Gate {
	return &Gate{
		cfg:           cfg,
		capMgr:        capMgr,
		engine:        engine,
		scalpMgr:      scalpMgr,
		updater:       updater,
		sink:          sink,
		openScalps:    make(map[string]scalpContext),
		rewardWindows: make(map[string][]float64),
		reports:       make(map[string]*Report),
	}
}

// ApplyGate runs one decision cycle: discretize the context, sample an
// action, size the exposure, open a scalp when extra exposure is approved,
// and return a decision whose entry/stop/target are untouched - the gate
// only ever adjusts size.
func (g *Gate) ApplyGate(decision *execution.Decision, in Input) Result {
	st := policy.Discretize(in.Regime, in.Timestamp, in.Confidence, in.Disagreement)
	action := g.engine.SelectAction(in.Regime, st)

	requestedExtra := 0
	if action.ImpliesExtra() {
		if g.scalpMgr.InCooldownAt(decision.Symbol, in.Timestamp) {
			// Profit-protect cooldown: never ask for re-leverage approval
			// while the window is open.
			logs.Infof("[Gate] %s in profit-protect cooldown, skipping re-leverage request", decision.Symbol)
		} else {
			requestedExtra = g.cfg.Realavancagem.MaxExtraContracts
		}
	}

	var disagreement *float64
	if !math.IsNaN(in.Disagreement) {
		d := in.Disagreement
		disagreement = &d
	}
	capState := g.capMgr.CalcContracts(g.cfg.Capital.CapitalUSDT, capital.MarketContext{
		Regime:         in.Regime,
		Confidence:     in.Confidence,
		ProfitToday:    in.ProfitToday,
		Liquidity:      in.Liquidity,
		Disagreement:   disagreement,
		RequestedExtra: requestedExtra,
	})
	approved := requestedExtra > 0 && capState.ExtraContracts > 0

	modified := decision.Clone()
	switch {
	case action == policy.Hold:
		modified.Size = 0
	case approved:
		modified.Size = capState.FinalContracts
	default:
		factor := action.SizeFactor(g.cfg.Policy.ConservativeFraction)
		modified.Size = int(math.Round(float64(capState.BaseContracts) * factor))
	}

	if approved {
		if _, err := g.scalpMgr.OpenScalp(decision.Symbol, decision.Side, in.CurrentPrice, capState.ExtraContracts, in.Timestamp); err != nil {
			if errors.Is(err, scalp.ErrAlreadyActive) {
				// The previous extra position is still live; keep the base
				// allocation and withdraw this cycle's extra.
				logs.Warnf("[Gate] Scalp already active for %s, withdrawing extra exposure", decision.Symbol)
				approved = false
				modified.Size = capState.BaseContracts
			} else {
				logs.Errorf("[Gate] Failed to open scalp for %s: %v", decision.Symbol, err)
				approved = false
				modified.Size = capState.BaseContracts
			}
		} else {
			g.mu.Lock()
			g.openScalps[decision.Symbol] = scalpContext{regime: in.Regime, stateHash: st.Hash(), action: action}
			g.mu.Unlock()
		}
	}

	g.persist("insert_capital_state", func() error { return g.sink.InsertCapitalState(capState) })
	frozen, _ := g.engine.IsFrozen(in.Regime)
	g.persist("insert_rl_event", func() error {
		return g.sink.InsertRLEvent(policy.Event{
			Time:      in.Timestamp,
			Kind:      policy.EventSelect,
			Regime:    in.Regime,
			StateHash: st.Hash(),
			Action:    action,
			Frozen:    frozen,
		})
	})

	return Result{
		Decision:              modified,
		Action:                action,
		RealavancagemApproved: approved,
		CapitalState:          capState,
	}
}

// OnScalpClosed converts a scalp close event into a trade outcome for the
// learner, using the context recorded when the scalp was opened. Wired as
// the scalp manager's close callback.
func (g *Gate) OnScalpClosed(ev scalp.Event) {
	g.persist("insert_scalp_event", func() error { return g.sink.InsertScalpEvent(ev) })

	g.mu.Lock()
	ctx, ok := g.openScalps[ev.Symbol]
	delete(g.openScalps, ev.Symbol)
	g.mu.Unlock()
	if !ok {
		logs.Warnf("[Gate] Scalp close for %s has no recorded context, outcome dropped", ev.Symbol)
		return
	}

	g.OnTradeClosed(learner.TradeOutcome{
		Symbol:    ev.Symbol,
		Regime:    ctx.regime,
		StateHash: ctx.stateHash,
		Action:    ctx.action,
		Reward:    ev.PnL,
		Timestamp: ev.Time,
	})
}

// OnTradeClosed buffers a realized outcome, applies the pending batch once
// the threshold is reached, and runs the per-regime freeze health check.
func (g *Gate) OnTradeClosed(outcome learner.TradeOutcome) {
	g.updater.AddTrade(outcome)
	g.trackReward(outcome)
	g.trackReport(outcome)

	if !g.updater.ShouldUpdate() {
		return
	}

	snapshots := g.updater.ApplyPending("batch boundary")
	for _, snap := range snapshots {
		snap := snap
		g.persist("create_policy_snapshot", func() error { return g.sink.CreatePolicySnapshot(snap) })
		for stateHash, actions := range snap.Table {
			for action, value := range actions {
				stateHash, action, value := stateHash, action, *value
				g.persist("upsert_rl_policy", func() error {
					return g.sink.UpsertRLPolicy(snap.Regime, stateHash, action, value)
				})
			}
		}
	}
	g.flushReports()
	g.checkFreeze()
}

// trackReward maintains the rolling reward window used by the freeze check.
func (g *Gate) trackReward(outcome learner.TradeOutcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	window := append(g.rewardWindows[outcome.Regime], outcome.Reward)
	if max := g.cfg.Policy.MinFreezeSamples; len(window) > max {
		window = window[len(window)-max:]
	}
	g.rewardWindows[outcome.Regime] = window
}

// checkFreeze freezes any regime whose rolling mean reward fell below the
// configured threshold over a full sample window.
func (g *Gate) checkFreeze() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for regime, window := range g.rewardWindows {
		if len(window) < g.cfg.Policy.MinFreezeSamples {
			continue
		}
		if frozen, _ := g.engine.IsFrozen(regime); frozen {
			continue
		}
		var sum float64
		for _, r := range window {
			sum += r
		}
		mean := sum / float64(len(window))
		if mean < g.cfg.Policy.FreezeThreshold {
			g.engine.FreezeRegime(regime, "rolling mean reward below freeze threshold")
		}
	}
}

func (g *Gate) trackReport(outcome learner.TradeOutcome) {
	key := outcome.Timestamp.UTC().Format("2006-01-02") + "|" + outcome.Symbol
	g.mu.Lock()
	defer g.mu.Unlock()
	report, ok := g.reports[key]
	if !ok {
		report = &Report{
			Date:   outcome.Timestamp.UTC().Format("2006-01-02"),
			Symbol: outcome.Symbol,
		}
		g.reports[key] = report
	}
	report.Trades++
	report.TotalReward += outcome.Reward
	if outcome.Reward > 0 {
		report.Wins++
	}
	report.WinRate = float64(report.Wins) / float64(report.Trades)
}

func (g *Gate) flushReports() {
	g.mu.Lock()
	reports := make([]Report, 0, len(g.reports))
	for _, r := range g.reports {
		reports = append(reports, *r)
	}
	g.mu.Unlock()
	for _, r := range reports {
		r := r
		g.persist("insert_rl_report", func() error { return g.sink.InsertRLReport(r) })
	}
}

// persist runs one sink write and logs failures without propagating them.
// A trading decision completes even when its audit trail cannot be written;
// retry policy belongs to the persistence collaborator.
func (g *Gate) persist(name string, fn func() error) {
	if err := fn(); err != nil {
		logs.Errorf("[Gate-Persist] %s failed: %v", name, err)
	}
}
