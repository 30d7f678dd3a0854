package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realavanca_go_1/capital"
	"realavanca_go_1/gate"
	"realavanca_go_1/learner"
	"realavanca_go_1/policy"
	"realavanca_go_1/scalp"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	sink, err := NewSQLiteSink(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestNewSQLiteSinkEmptyPath(t *testing.T) {
	_, err := NewSQLiteSink("")
	assert.Error(t, err)
}

func TestNewSQLiteSinkCreatesFile(t *testing.T) {
	path := t.TempDir() + "/nested/audit.db"
	sink, err := NewSQLiteSink(path)
	require.NoError(t, err)
	assert.NoError(t, sink.Close())
}

func TestInsertCapitalState(t *testing.T) {
	sink := newTestSink(t)

	st := &capital.CapitalState{
		Capital:        50000,
		BaseContracts:  4,
		ExtraContracts: 1,
		FinalContracts: 5,
		Reason:         capital.ReasonApproved,
		Detail:         capital.Detail{Regime: "TRENDING_UP", Confidence: 0.9, ProfitToday: 250},
		CreatedAt:      time.Now(),
	}
	require.NoError(t, sink.InsertCapitalState(st))
	require.NoError(t, sink.InsertCapitalState(st))

	n, err := sink.CountRows("capital_states")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInsertScalpEventIdempotent(t *testing.T) {
	sink := newTestSink(t)

	ev := scalp.Event{
		ID:             "evt-1",
		Symbol:         "ESZ5",
		Kind:           scalp.EventTPHit,
		EntryPrice:     5000,
		ExitPrice:      5080,
		ExtraContracts: 1,
		PnL:            80,
		HoldDuration:   2 * time.Minute,
		Time:           time.Now(),
	}
	require.NoError(t, sink.InsertScalpEvent(ev))
	// same id again must be a no-op, not an error
	require.NoError(t, sink.InsertScalpEvent(ev))

	n, err := sink.CountRows("scalp_events")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertRLPolicyKeepsOneRowPerCell(t *testing.T) {
	sink := newTestSink(t)

	require.NoError(t, sink.UpsertRLPolicy("TRENDING_UP", "h14", policy.Enter, policy.ActionValue{Alpha: 2, Beta: 1, Visits: 1, CumReward: 100}))
	require.NoError(t, sink.UpsertRLPolicy("TRENDING_UP", "h14", policy.Enter, policy.ActionValue{Alpha: 3, Beta: 1, Visits: 2, CumReward: 180}))
	require.NoError(t, sink.UpsertRLPolicy("TRENDING_UP", "h14", policy.Hold, policy.ActionValue{Alpha: 1, Beta: 2, Visits: 1, CumReward: -40}))

	n, err := sink.CountRows("rl_policy")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCreatePolicySnapshotIdempotent(t *testing.T) {
	sink := newTestSink(t)

	snap := &learner.Snapshot{
		ID:     "snap-1",
		Regime: "RANGING",
		Table: policy.Table{
			"RANGING|h14|cHIGH|dLOW": {policy.Enter: &policy.ActionValue{Alpha: 2, Beta: 1, Visits: 1, CumReward: 50}},
		},
		Metrics:   learner.SnapshotMetrics{TradeCount: 1, MeanReward: 50, WinRate: 1},
		CreatedAt: time.Now(),
	}
	require.NoError(t, sink.CreatePolicySnapshot(snap))
	require.NoError(t, sink.CreatePolicySnapshot(snap))

	n, err := sink.CountRows("policy_snapshots")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertRLEventAndReport(t *testing.T) {
	sink := newTestSink(t)

	require.NoError(t, sink.InsertRLEvent(policy.Event{
		Time:      time.Now(),
		Kind:      policy.EventSelect,
		Regime:    "TRENDING_UP",
		StateHash: "h14",
		Action:    policy.Enter,
	}))

	report := gate.Report{Date: "2026-03-04", Symbol: "ESZ5", Trades: 3, TotalReward: 120, Wins: 2, WinRate: 2.0 / 3.0}
	require.NoError(t, sink.InsertRLReport(report))
	report.Trades = 4
	require.NoError(t, sink.InsertRLReport(report))

	n, err := sink.CountRows("rl_reports")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "report upsert must keep one row per date+symbol")
}
