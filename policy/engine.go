// policy/engine.go
package policy

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"realavanca_go_1/config"
	"realavanca_go_1/logs"
	"realavanca_go_1/utils"
)

// EventKind tags entries in the engine's audit log.
type EventKind string

const (
	EventSelect   EventKind = "SELECT"
	EventUpdate   EventKind = "UPDATE"
	EventFreeze   EventKind = "FREEZE"
	EventUnfreeze EventKind = "UNFREEZE"
)

// Event is one append-only audit record of a selection or update.
type Event struct {
	Time      time.Time `json:"time"`
	Kind      EventKind `json:"kind"`
	Regime    string    `json:"regime"`
	StateHash string    `json:"state_hash"`
	Action    Action    `json:"action,omitempty"`
	Reward    float64   `json:"reward,omitempty"`
	Frozen    bool      `json:"frozen"`
	Note      string    `json:"note,omitempty"`
}

// RegimeStats summarizes one regime's learned table for monitoring.
type RegimeStats struct {
	Regime     string  `json:"regime"`
	States     int     `json:"states"`
	Visits     int     `json:"visits"`
	CumReward  float64 `json:"cum_reward"`
	MeanReward float64 `json:"mean_reward"`
	Frozen     bool    `json:"frozen"`
}

// Engine selects a trading action per market regime using Thompson Sampling
// over the store's Beta-distributed action values. Selection is read-only
// against the table; all learning flows through UpdateFromTrade.
type Engine struct {
	store *Store
	cfg   *config.PolicyConfig

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	frozen map[string]string // regime -> freeze reason
	events []Event
}

// NewEngine creates a policy engine over the given store. rng is the random
// source for Thompson Sampling; passing a seeded source makes selection
// reproducible. A nil rng falls back to a time-seeded source.
func NewEngine(store *Store, cfg *config.PolicyConfig, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		rng:    rng,
		frozen: make(map[string]string),
	}
}

// Store exposes the engine's table store to the online updater.
func (e *Engine) Store() *Store {
	return e.store
}

// SelectAction runs one round of Thompson Sampling for the state. A frozen
// regime deterministically returns HOLD. Ties break by the fixed action
// priority order (HOLD first).
func (e *Engine) SelectAction(regime string, st RLState) Action {
	if frozen, _ := e.IsFrozen(regime); frozen {
		e.logEvent(Event{Kind: EventSelect, Regime: regime, StateHash: st.Hash(), Action: Hold, Frozen: true})
		return Hold
	}

	stateHash := st.Hash()
	best := Hold
	bestSample := math.Inf(-1)

	// Reader lock held only for the duration of sampling; unseen cells are
	// sampled at the uninformative prior without being materialized, so
	// selection never writes the table.
	e.store.View(regime, func(t Table) {
		for _, action := range AllActions {
			alpha, beta := 1.0, 1.0
			if actions, ok := t[stateHash]; ok {
				if v, ok := actions[action]; ok {
					alpha, beta = v.Alpha, v.Beta
				}
			}
			sample := e.sampleBeta(alpha, beta)
			if sample > bestSample || (sample == bestSample && action.Priority() < best.Priority()) {
				best = action
				bestSample = sample
			}
		}
	})

	e.logEvent(Event{Kind: EventSelect, Regime: regime, StateHash: stateHash, Action: best})
	return best
}

// UpdateFromTrade folds one realized outcome into the table. The signed
// reward is normalized by cfg.RewardScale into [-1, 1], then mapped to a
// pseudo-success weight w in [0, 1]; alpha += w, beta += 1-w. This keeps the
// Beta update closed-form for continuous rewards.
func (e *Engine) UpdateFromTrade(regime, stateHash string, action Action, reward float64, note string) {
	normalized := utils.Clamp(reward/e.cfg.RewardScale, -1, 1)
	w := utils.Clamp((normalized+1)/2, 0, 1)

	e.store.Mutate(regime, func(t Table) {
		v := ensure(t, stateHash, action)
		v.Alpha += w
		v.Beta += 1 - w
		v.Visits++
		v.CumReward += reward
	})

	e.logEvent(Event{Kind: EventUpdate, Regime: regime, StateHash: stateHash, Action: action, Reward: reward, Note: note})
}

// FreezeRegime forces HOLD for every state in the regime until unfrozen.
func (e *Engine) FreezeRegime(regime, reason string) {
	e.mu.Lock()
	e.frozen[regime] = reason
	e.mu.Unlock()
	logs.Warnf("[Policy] Regime %s frozen: %s", regime, reason)
	e.logEvent(Event{Kind: EventFreeze, Regime: regime, Frozen: true, Note: reason})
}

// UnfreezeRegime lifts a freeze. Recovery policy (manual vs automatic) is
// the caller's decision.
func (e *Engine) UnfreezeRegime(regime string) {
	e.mu.Lock()
	delete(e.frozen, regime)
	e.mu.Unlock()
	logs.Infof("[Policy] Regime %s unfrozen", regime)
	e.logEvent(Event{Kind: EventUnfreeze, Regime: regime})
}

// IsFrozen reports whether a regime is frozen, with the freeze reason.
func (e *Engine) IsFrozen(regime string) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	reason, ok := e.frozen[regime]
	return ok, reason
}

// FrozenRegimes returns the frozen set as regime -> reason.
func (e *Engine) FrozenRegimes() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.frozen))
	for k, v := range e.frozen {
		out[k] = v
	}
	return out
}

// ExportPolicyTable returns a deep copy of one regime's table, used by
// snapshotting.
func (e *Engine) ExportPolicyTable(regime string) Table {
	return e.store.Export(regime)
}

// ImportPolicyTable overwrites one regime's table, used by rollback and
// restart restore.
func (e *Engine) ImportPolicyTable(regime string, data Table) {
	e.store.Import(regime, data)
}

// Events returns up to limit of the most recent audit events, oldest first.
func (e *Engine) Events(limit int) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, n)
	copy(out, e.events[len(e.events)-n:])
	return out
}

// ExportStats summarizes every regime's table.
func (e *Engine) ExportStats() []RegimeStats {
	regimes := e.store.Regimes()
	out := make([]RegimeStats, 0, len(regimes))
	for _, regime := range regimes {
		stats := RegimeStats{Regime: regime}
		e.store.View(regime, func(t Table) {
			stats.States = len(t)
			for _, actions := range t {
				for _, v := range actions {
					stats.Visits += v.Visits
					stats.CumReward += v.CumReward
				}
			}
		})
		if stats.Visits > 0 {
			stats.MeanReward = stats.CumReward / float64(stats.Visits)
		}
		stats.Frozen, _ = e.IsFrozen(regime)
		out = append(out, stats)
	}
	return out
}

func (e *Engine) logEvent(ev Event) {
	ev.Time = time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	if limit := e.cfg.EventLogLimit; limit > 0 && len(e.events) > limit {
		e.events = e.events[len(e.events)-limit:]
	}
}

// sampleBeta draws one sample from Beta(alpha, beta) via two gamma draws.
func (e *Engine) sampleBeta(alpha, beta float64) float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	x := sampleGamma(e.rng, alpha)
	y := sampleGamma(e.rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using Marsaglia-Tsang squeeze
// rejection. Shapes below 1 are boosted and corrected by U^(1/shape).
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
