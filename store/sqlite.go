// store/sqlite.go
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"realavanca_go_1/capital"
	"realavanca_go_1/gate"
	"realavanca_go_1/learner"
	"realavanca_go_1/policy"
	"realavanca_go_1/scalp"
)

// SQLiteSink persists the gate's audit trail into a local SQLite database.
// It is a best-effort sink: callers log failures and move on, so every
// method keeps its own transaction small and holds the mutex only around
// the statement.
type SQLiteSink struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

var _ gate.Sink = (*SQLiteSink)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS capital_states (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	capital REAL NOT NULL,
	base_contracts INTEGER NOT NULL,
	extra_contracts INTEGER NOT NULL,
	final_contracts INTEGER NOT NULL,
	reason TEXT NOT NULL,
	detail TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS scalp_events (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	kind TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL,
	extra_contracts INTEGER NOT NULL,
	pnl REAL NOT NULL,
	hold_seconds REAL NOT NULL,
	reason TEXT,
	event_time TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS rl_policy (
	regime TEXT NOT NULL,
	state_hash TEXT NOT NULL,
	action TEXT NOT NULL,
	alpha REAL NOT NULL,
	beta REAL NOT NULL,
	visits INTEGER NOT NULL,
	cum_reward REAL NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (regime, state_hash, action)
);
CREATE TABLE IF NOT EXISTS rl_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_time TEXT NOT NULL,
	kind TEXT NOT NULL,
	regime TEXT NOT NULL,
	state_hash TEXT,
	action TEXT,
	reward REAL,
	frozen INTEGER NOT NULL,
	note TEXT
);
CREATE TABLE IF NOT EXISTS policy_snapshots (
	id TEXT PRIMARY KEY,
	regime TEXT NOT NULL,
	created_at TEXT NOT NULL,
	note TEXT,
	trade_count INTEGER NOT NULL,
	mean_reward REAL NOT NULL,
	win_rate REAL NOT NULL,
	table_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS rl_reports (
	report_date TEXT NOT NULL,
	symbol TEXT NOT NULL,
	trades INTEGER NOT NULL,
	total_reward REAL NOT NULL,
	wins INTEGER NOT NULL,
	win_rate REAL NOT NULL,
	PRIMARY KEY (report_date, symbol)
);
`

// NewSQLiteSink opens (or creates) the database at path and ensures the
// schema. Use ":memory:" for an in-memory database in tests.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite sink path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteSink{db: db, path: path}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLiteSink) InsertCapitalState(st *capital.CapitalState) error {
	detail, err := json.Marshal(st.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal capital detail: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO capital_states (created_at, capital, base_contracts, extra_contracts, final_contracts, reason, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.CreatedAt.UTC().Format(time.RFC3339Nano), st.Capital, st.BaseContracts, st.ExtraContracts, st.FinalContracts, st.Reason, string(detail),
	)
	return err
}

func (s *SQLiteSink) InsertScalpEvent(ev scalp.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO scalp_events (id, symbol, kind, side, entry_price, exit_price, extra_contracts, pnl, hold_seconds, reason, event_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Symbol, string(ev.Kind), string(ev.Side), ev.EntryPrice, ev.ExitPrice, ev.ExtraContracts, ev.PnL,
		ev.HoldDuration.Seconds(), ev.Reason, ev.Time.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteSink) UpsertRLPolicy(regime, stateHash string, action policy.Action, value policy.ActionValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO rl_policy (regime, state_hash, action, alpha, beta, visits, cum_reward, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(regime, state_hash, action) DO UPDATE SET
			alpha = excluded.alpha,
			beta = excluded.beta,
			visits = excluded.visits,
			cum_reward = excluded.cum_reward,
			updated_at = excluded.updated_at`,
		regime, stateHash, string(action), value.Alpha, value.Beta, value.Visits, value.CumReward,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteSink) InsertRLEvent(ev policy.Event) error {
	frozen := 0
	if ev.Frozen {
		frozen = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO rl_events (event_time, kind, regime, state_hash, action, reward, frozen, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Time.UTC().Format(time.RFC3339Nano), string(ev.Kind), ev.Regime, ev.StateHash, string(ev.Action), ev.Reward, frozen, ev.Note,
	)
	return err
}

func (s *SQLiteSink) CreatePolicySnapshot(snap *learner.Snapshot) error {
	tableJSON, err := json.Marshal(snap.Table)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot table: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO policy_snapshots (id, regime, created_at, note, trade_count, mean_reward, win_rate, table_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Regime, snap.CreatedAt.UTC().Format(time.RFC3339Nano), snap.Note,
		snap.Metrics.TradeCount, snap.Metrics.MeanReward, snap.Metrics.WinRate, string(tableJSON),
	)
	return err
}

func (s *SQLiteSink) InsertRLReport(report gate.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO rl_reports (report_date, symbol, trades, total_reward, wins, win_rate)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(report_date, symbol) DO UPDATE SET
			trades = excluded.trades,
			total_reward = excluded.total_reward,
			wins = excluded.wins,
			win_rate = excluded.win_rate`,
		report.Date, report.Symbol, report.Trades, report.TotalReward, report.Wins, report.WinRate,
	)
	return err
}

// CountRows returns the row count of one table, for tests and diagnostics.
func (s *SQLiteSink) CountRows(table string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)
	return n, err
}
