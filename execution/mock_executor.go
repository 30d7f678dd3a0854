package execution

import (
	"context"
	"fmt"
	"sync"

	"realavanca_go_1/logs"
)

// Ensure MockExecutor implements Executor interface
var _ Executor = (*MockExecutor)(nil)

// MockExecutor is an in-memory implementation of the Executor interface for
// running and testing the gate without a broker connection. Prices are set by
// the caller (tests, or the simulation loop).
type MockExecutor struct {
	mu        sync.RWMutex
	prices    map[string]float64
	executed  []Decision
	failNext  bool
	execCount int
}

// NewMockExecutor creates a new mock executor with no prices loaded.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		prices: make(map[string]float64),
	}
}

// SetPrice sets the current simulated price for a symbol.
func (m *MockExecutor) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// FailNextExecute makes the next Execute call return an error, for testing
// the gate's error path.
func (m *MockExecutor) FailNextExecute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = true
}

func (m *MockExecutor) Execute(ctx context.Context, decision *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return fmt.Errorf("mock executor: simulated execution failure for %s", decision.Symbol)
	}
	m.executed = append(m.executed, *decision)
	m.execCount++
	logs.Debugf("[MockExecutor] Executed %s %s size=%d entry=%.4f", decision.Side, decision.Symbol, decision.Size, decision.Entry)
	return nil
}

func (m *MockExecutor) GetPrice(symbol string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("mock executor: no price loaded for symbol %s", symbol)
	}
	return price, nil
}

// Executed returns a copy of all decisions passed to Execute, in order.
func (m *MockExecutor) Executed() []Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Decision, len(m.executed))
	copy(out, m.executed)
	return out
}
