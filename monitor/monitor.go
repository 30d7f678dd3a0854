// monitor/monitor.go
package monitor

import (
	"time"

	"realavanca_go_1/config"
	"realavanca_go_1/execution"
	"realavanca_go_1/logs"
	"realavanca_go_1/scalp"
)

// Start runs the monitor's main loop: on every tick it fetches the latest
// price for each symbol with an active scalp and drives the scalp state
// machine. Scalp closes flow back into the gate through the scalp manager's
// close callback, so this loop only needs prices and time.
func Start(
	executor execution.Executor,
	scalpManager *scalp.Manager,
	cfg *config.Config,
	stopChan <-chan struct{},
) {
	ticker := time.NewTicker(time.Duration(cfg.Normal.MonitorIntervalSeconds) * time.Second)
	defer ticker.Stop()

	lastHeartbeat := time.Now()
	heartbeatInterval := time.Duration(cfg.Normal.HeartbeatIntervalMinutes) * time.Minute

	for {
		select {
		case <-stopChan:
			logs.Info("Monitor received stop signal, exiting.")
			return
		case <-ticker.C:
			now := time.Now()
			for _, symbol := range scalpManager.ActiveSymbols() {
				currentPrice, err := executor.GetPrice(symbol)
				if err != nil {
					logs.Errorf("[Monitor-Error] Failed to get price for %s: %v", symbol, err)
					continue
				}
				if closed := scalpManager.UpdateScalp(symbol, currentPrice, now); closed {
					logs.Infof("[Monitor] Scalp for %s closed at price %.4f", symbol, currentPrice)
				}
			}

			if time.Since(lastHeartbeat) >= heartbeatInterval {
				stats := scalpManager.ExportStats()
				logs.Infof("[Heartbeat] Monitor running. Active scalps: %d, total scalp PnL: %.4f", stats.Active, stats.TotalPnL)
				lastHeartbeat = time.Now()
			}
		}
	}
}
