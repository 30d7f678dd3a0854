// orchestrator.go
package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"realavanca_go_1/capital"
	"realavanca_go_1/config"
	"realavanca_go_1/execution"
	"realavanca_go_1/gate"
	"realavanca_go_1/learner"
	"realavanca_go_1/logs"
	"realavanca_go_1/monitor"
	"realavanca_go_1/policy"
	"realavanca_go_1/scalp"
	"realavanca_go_1/state"
	"realavanca_go_1/store"
)

// Orchestrator wires the capital manager, policy engine, scalp manager,
// online updater and gate together, restores learned state on startup and
// saves it on shutdown.
type Orchestrator struct {
	cfg          *config.Config
	executor     execution.Executor
	capMgr       *capital.Manager
	engine       *policy.Engine
	scalpMgr     *scalp.Manager
	updater      *learner.Updater
	gate         *gate.Gate
	sink         gate.Sink
	sqliteSink   *store.SQLiteSink // nil when running on the NopSink fallback
	stateManager state.StateManagerInterface
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewOrchestrator builds the full decision pipeline. The executor is the
// downstream order-execution collaborator; broker connectivity itself lives
// outside this program.
func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig, executor execution.Executor, stateFilePath string) (*Orchestrator, error) {
	capMgr, err := capital.NewManager(cfg.Capital, cfg.Realavancagem)
	if err != nil {
		return nil, fmt.Errorf("failed to create capital manager: %w", err)
	}

	policyStore := policy.NewStore()
	engine := policy.NewEngine(policyStore, cfg.Policy, rand.New(rand.NewSource(time.Now().UnixNano())))
	scalpMgr := scalp.NewManager(cfg.Scalp)
	updater := learner.NewUpdater(engine, cfg.Policy)

	// The audit sink is best-effort: a database failure downgrades to the
	// no-op sink instead of blocking startup.
	dbPath := cfg.Normal.DatabasePath
	if envCfg.DatabasePath != "" {
		dbPath = envCfg.DatabasePath
	}
	var sink gate.Sink = gate.NopSink{}
	var sqliteSink *store.SQLiteSink
	if dbPath != "" {
		sqliteSink, err = store.NewSQLiteSink(dbPath)
		if err != nil {
			logs.Errorf("[Orchestrator] Failed to open audit database at %s: %v. Continuing without persistence.", dbPath, err)
		} else {
			sink = sqliteSink
			logs.Infof("Audit trail will be persisted to: %s", dbPath)
		}
	} else {
		logs.Warnf("[Orchestrator] No database_path configured, audit trail disabled.")
	}

	stateManager, err := state.NewStateManager(stateFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state manager: %w", err)
	}
	logs.Infof("State manager initialized, learned state will be persisted to: %s", stateFilePath)

	g := gate.New(cfg, capMgr, engine, scalpMgr, updater, sink)
	scalpMgr.SetOnClose(g.OnScalpClosed)

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:          cfg,
		executor:     executor,
		capMgr:       capMgr,
		engine:       engine,
		scalpMgr:     scalpMgr,
		updater:      updater,
		gate:         g,
		sink:         sink,
		sqliteSink:   sqliteSink,
		stateManager: stateManager,
		ctx:          ctx,
		cancel:       cancel,
	}

	o.restoreStateOnStartup()
	return o, nil
}

// restoreStateOnStartup rehydrates the policy tables, frozen regimes and
// scalp cooldowns persisted by the previous run.
func (o *Orchestrator) restoreStateOnStartup() {
	appState := o.stateManager.GetFullState()

	for regime, table := range appState.PolicyTables {
		o.engine.ImportPolicyTable(regime, table)
	}
	for regime, reason := range appState.FrozenRegimes {
		o.engine.FreezeRegime(regime, reason)
	}
	o.scalpMgr.RestoreCooldowns(appState.ScalpCooldowns)

	logs.Infof("[Orchestrator] Restored %d policy table(s), %d frozen regime(s), %d cooldown(s) from state file.",
		len(appState.PolicyTables), len(appState.FrozenRegimes), len(appState.ScalpCooldowns))
}

// Gate returns the decision gate, the only surface upstream callers use.
func (o *Orchestrator) Gate() *gate.Gate {
	return o.gate
}

// Start launches the monitor loop that drives active scalps.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		monitor.Start(o.executor, o.scalpMgr, o.cfg, o.ctx.Done())
	}()
	logs.Infof("Gate for %s started, press Ctrl+C to exit.", o.cfg.Symbol)
}

// Stop performs a graceful shutdown: stop the monitor, save learned state,
// close the audit database.
func (o *Orchestrator) Stop() {
	logs.Info("Received close signal, starting graceful shutdown...")

	o.cancel()
	o.wg.Wait()

	tables := make(map[string]policy.Table)
	for _, regime := range o.engine.Store().Regimes() {
		tables[regime] = o.engine.ExportPolicyTable(regime)
	}
	if err := o.stateManager.UpdatePolicyTables(tables); err != nil {
		logs.Errorf("Failed to save final policy tables: %v", err)
	}
	if err := o.stateManager.UpdateFrozenRegimes(o.engine.FrozenRegimes()); err != nil {
		logs.Errorf("Failed to save frozen regimes: %v", err)
	}
	if err := o.stateManager.UpdateScalpCooldowns(o.scalpMgr.ExportCooldowns()); err != nil {
		logs.Errorf("Failed to save scalp cooldowns: %v", err)
	}

	o.printFinalSummary()

	if o.sqliteSink != nil {
		if err := o.sqliteSink.Close(); err != nil {
			logs.Errorf("Failed to close audit database: %v", err)
		}
	}
	logs.Info("All services stopped successfully.")
}

func (o *Orchestrator) printFinalSummary() {
	logs.Info("\n--- Final Summary ---")
	capStats := o.capMgr.ExportStats()
	logs.Infof("Capital decisions: %d (re-leverage approvals: %d)", capStats.Decisions, capStats.Approvals)
	scalpStats := o.scalpMgr.ExportStats()
	logs.Infof("Scalps: %d opened, %d TP, %d SL, %d timeout, total PnL: %.4f",
		scalpStats.Opened, scalpStats.TPHits, scalpStats.SLHits, scalpStats.Timeouts, scalpStats.TotalPnL)
	for _, rs := range o.engine.ExportStats() {
		frozenTag := ""
		if rs.Frozen {
			frozenTag = " [FROZEN]"
		}
		logs.Infof("Regime %s%s: %d states, %d visits, mean reward %.4f", rs.Regime, frozenTag, rs.States, rs.Visits, rs.MeanReward)
	}
	learnerState := o.updater.ExportState()
	logs.Infof("Learner: %d trades applied, %d pending", learnerState.AppliedTotal, learnerState.PendingCount)
	logs.Info("--------------------")
}
