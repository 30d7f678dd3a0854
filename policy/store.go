// policy/store.go
package policy

import (
	"sync"
)

// ActionValue holds the learned Beta-distribution parameters for one
// (regime, state, action) triple. Values start at the uninformative prior
// alpha=beta=1 and are mutated only by batched updates, never by selection.
type ActionValue struct {
	Alpha     float64 `json:"alpha"`
	Beta      float64 `json:"beta"`
	Visits    int     `json:"visits"`
	CumReward float64 `json:"cum_reward"`
}

// MeanValue returns alpha/(alpha+beta), the posterior mean.
func (v *ActionValue) MeanValue() float64 {
	return v.Alpha / (v.Alpha + v.Beta)
}

func newActionValue() *ActionValue {
	return &ActionValue{Alpha: 1, Beta: 1}
}

// Table is one regime's full action-value table: state hash -> action -> value.
type Table map[string]map[Action]*ActionValue

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	cp := make(Table, len(t))
	for state, actions := range t {
		cpActions := make(map[Action]*ActionValue, len(actions))
		for a, v := range actions {
			vv := *v
			cpActions[a] = &vv
		}
		cp[state] = cpActions
	}
	return cp
}

// regimeTable pairs one regime's table with its own lock so regimes read and
// update independently. Selection holds the read lock only for the duration
// of sampling; batch apply and rollback take the write lock.
type regimeTable struct {
	mu    sync.RWMutex
	table Table
}

// Store is the explicitly owned home of all action-value tables. It is
// injected into both the selector and the updater instead of living as
// ambient package state, so instances and tests stay isolated.
type Store struct {
	mu      sync.Mutex // guards the regimes map only
	regimes map[string]*regimeTable
}

// NewStore creates an empty policy store.
func NewStore() *Store {
	return &Store{regimes: make(map[string]*regimeTable)}
}

func (s *Store) regime(regime string) *regimeTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.regimes[regime]
	if !ok {
		rt = &regimeTable{table: make(Table)}
		s.regimes[regime] = rt
	}
	return rt
}

// View calls fn with a read lock held on the regime's table. fn must not
// retain references past the call.
func (s *Store) View(regime string, fn func(Table)) {
	rt := s.regime(regime)
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	fn(rt.table)
}

// Mutate calls fn with the write lock held on the regime's table.
func (s *Store) Mutate(regime string, fn func(Table)) {
	rt := s.regime(regime)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	fn(rt.table)
}

// ensure returns the value cell for (state, action), creating it at the
// uninformative prior on first visit. Caller must hold the write lock.
func ensure(t Table, stateHash string, action Action) *ActionValue {
	actions, ok := t[stateHash]
	if !ok {
		actions = make(map[Action]*ActionValue, len(AllActions))
		t[stateHash] = actions
	}
	v, ok := actions[action]
	if !ok {
		v = newActionValue()
		actions[action] = v
	}
	return v
}

// Export returns a deep copy of one regime's table.
func (s *Store) Export(regime string) Table {
	var out Table
	s.View(regime, func(t Table) {
		out = t.Clone()
	})
	return out
}

// Import replaces one regime's table with a deep copy of data.
func (s *Store) Import(regime string, data Table) {
	rt := s.regime(regime)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.table = data.Clone()
}

// Regimes returns the list of regimes that have a table.
func (s *Store) Regimes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.regimes))
	for r := range s.regimes {
		out = append(out, r)
	}
	return out
}
