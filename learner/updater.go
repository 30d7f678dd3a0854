// learner/updater.go
package learner

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"realavanca_go_1/config"
	"realavanca_go_1/logs"
	"realavanca_go_1/policy"
)

// ErrNotFound reports an unknown snapshot id on rollback.
var ErrNotFound = errors.New("snapshot not found")

// TradeOutcome is one realized trade result awaiting application.
type TradeOutcome struct {
	Symbol    string        `json:"symbol"`
	Regime    string        `json:"regime"`
	StateHash string        `json:"state_hash"`
	Action    policy.Action `json:"action"`
	Reward    float64       `json:"reward"`
	Timestamp time.Time     `json:"timestamp"`
}

// SnapshotMetrics summarizes the batch that produced a snapshot.
type SnapshotMetrics struct {
	TradeCount int     `json:"trade_count"`
	MeanReward float64 `json:"mean_reward"`
	WinRate    float64 `json:"win_rate"`
}

// Snapshot is an immutable copy of one regime's full action-value table at a
// batch boundary, retained for audit and rollback.
type Snapshot struct {
	ID        string          `json:"id"`
	Regime    string          `json:"regime"`
	Table     policy.Table    `json:"table"`
	Metrics   SnapshotMetrics `json:"metrics"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// State is the updater's exportable view for monitoring.
type State struct {
	PendingCount  int            `json:"pending_count"`
	SnapshotCount map[string]int `json:"snapshot_count"`
	AppliedTotal  int            `json:"applied_total"`
}

// Updater buffers realized trade outcomes and folds them into the policy
// engine in batches, snapshotting every touched regime at the batch
// boundary. Batching bounds the frequency of state mutation, trading a small
// learning-latency cost for auditable, coarse-grained checkpoints.
type Updater struct {
	mu        sync.Mutex
	engine    *policy.Engine
	cfg       *config.PolicyConfig
	pending   []TradeOutcome
	snapshots map[string][]*Snapshot // per regime, oldest first
	byID      map[string]*Snapshot
	applied   int
}

// NewUpdater creates an updater bound to the engine whose tables it mutates.
func NewUpdater(engine *policy.Engine, cfg *config.PolicyConfig) *Updater {
	return &Updater{
		engine:    engine,
		cfg:       cfg,
		snapshots: make(map[string][]*Snapshot),
		byID:      make(map[string]*Snapshot),
	}
}

// AddTrade appends a realized outcome to the pending buffer.
func (u *Updater) AddTrade(outcome TradeOutcome) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pending = append(u.pending, outcome)
}

// ShouldUpdate reports whether the buffer has reached the batch size.
func (u *Updater) ShouldUpdate() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending) >= u.cfg.BatchSize
}

// PendingCount returns the current buffer length.
func (u *Updater) PendingCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}

// ApplyPending drains the buffer through the policy engine, then creates one
// snapshot per regime touched in the batch and returns them in creation
// order. The buffer is cleared only after every update landed.
func (u *Updater) ApplyPending(note string) []*Snapshot {
	u.mu.Lock()
	batch := u.pending
	u.pending = nil
	u.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	perRegime := make(map[string][]TradeOutcome)
	order := make([]string, 0, 4)
	for _, trade := range batch {
		u.engine.UpdateFromTrade(trade.Regime, trade.StateHash, trade.Action, trade.Reward, "batch apply")
		if _, seen := perRegime[trade.Regime]; !seen {
			order = append(order, trade.Regime)
		}
		perRegime[trade.Regime] = append(perRegime[trade.Regime], trade)
	}

	created := make([]*Snapshot, 0, len(order))
	for _, regime := range order {
		trades := perRegime[regime]
		var sum float64
		wins := 0
		for _, t := range trades {
			sum += t.Reward
			if t.Reward > 0 {
				wins++
			}
		}
		snap := u.createSnapshot(regime, SnapshotMetrics{
			TradeCount: len(trades),
			MeanReward: sum / float64(len(trades)),
			WinRate:    float64(wins) / float64(len(trades)),
		}, note)
		created = append(created, snap)
	}

	u.mu.Lock()
	u.applied += len(batch)
	u.mu.Unlock()

	logs.Infof("[Learner] Applied batch of %d trades across %d regime(s)", len(batch), len(order))
	return created
}

// createSnapshot exports the regime's table and stores the snapshot in the
// bounded per-regime history.
func (u *Updater) createSnapshot(regime string, metrics SnapshotMetrics, note string) *Snapshot {
	snap := &Snapshot{
		ID:        uuid.NewString(),
		Regime:    regime,
		Table:     u.engine.ExportPolicyTable(regime),
		Metrics:   metrics,
		Note:      note,
		CreatedAt: time.Now(),
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.snapshots[regime] = append(u.snapshots[regime], snap)
	if limit := u.cfg.SnapshotHistoryLimit; limit > 0 && len(u.snapshots[regime]) > limit {
		evicted := u.snapshots[regime][:len(u.snapshots[regime])-limit]
		for _, old := range evicted {
			delete(u.byID, old.ID)
		}
		u.snapshots[regime] = u.snapshots[regime][len(u.snapshots[regime])-limit:]
	}
	u.byID[snap.ID] = snap
	return snap
}

// RollbackToSnapshot overwrites the snapshot's regime table with the stored
// copy. It is a manual or health-triggered safety valve, never invoked
// automatically mid-batch.
func (u *Updater) RollbackToSnapshot(id string) (*Snapshot, error) {
	u.mu.Lock()
	snap, ok := u.byID[id]
	u.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	u.engine.ImportPolicyTable(snap.Regime, snap.Table)
	logs.Warnf("[Learner] Rolled back regime %s to snapshot %s (created %s)", snap.Regime, snap.ID, snap.CreatedAt.Format(time.RFC3339))
	return snap, nil
}

// Snapshots returns up to limit of the most recent snapshots for a regime,
// newest first.
func (u *Updater) Snapshots(regime string, limit int) []*Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	all := u.snapshots[regime]
	n := len(all)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Snapshot, 0, n)
	for i := len(all) - 1; i >= len(all)-n; i-- {
		out = append(out, all[i])
	}
	return out
}

// ExportState returns a monitoring view of the updater.
func (u *Updater) ExportState() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	counts := make(map[string]int, len(u.snapshots))
	for regime, snaps := range u.snapshots {
		counts[regime] = len(snaps)
	}
	return State{
		PendingCount:  len(u.pending),
		SnapshotCount: counts,
		AppliedTotal:  u.applied,
	}
}
