// gate/sink.go
package gate

import (
	"realavanca_go_1/capital"
	"realavanca_go_1/learner"
	"realavanca_go_1/policy"
	"realavanca_go_1/scalp"
)

// Report is the daily per-symbol learning summary, keyed by date+symbol.
type Report struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	Symbol      string  `json:"symbol"`
	Trades      int     `json:"trades"`
	TotalReward float64 `json:"total_reward"`
	Wins        int     `json:"wins"`
	WinRate     float64 `json:"win_rate"`
}

// Sink is the best-effort persistence collaborator. Every call is
// idempotent by its primary key where one applies. The gate treats failures
// as log-and-continue: a missed audit write must never block a decision.
type Sink interface {
	InsertCapitalState(st *capital.CapitalState) error
	InsertScalpEvent(ev scalp.Event) error
	UpsertRLPolicy(regime, stateHash string, action policy.Action, value policy.ActionValue) error
	InsertRLEvent(ev policy.Event) error
	CreatePolicySnapshot(snap *learner.Snapshot) error
	InsertRLReport(report Report) error
}

// NopSink discards every write. Used in tests and simulation runs without a
// database.
type NopSink struct{}

var _ Sink = NopSink{}

func (NopSink) InsertCapitalState(*capital.CapitalState) error { return nil }
func (NopSink) InsertScalpEvent(scalp.Event) error             { return nil }
func (NopSink) UpsertRLPolicy(string, string, policy.Action, policy.ActionValue) error {
	return nil
}
func (NopSink) InsertRLEvent(policy.Event) error             { return nil }
func (NopSink) CreatePolicySnapshot(*learner.Snapshot) error { return nil }
func (NopSink) InsertRLReport(Report) error                  { return nil }
