// scalp/manager.go
package scalp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"realavanca_go_1/config"
	"realavanca_go_1/execution"
	"realavanca_go_1/logs"
)

// ErrAlreadyActive reports an open request for a symbol that already has an
// active scalp. The caller must wait for the close or close explicitly.
var ErrAlreadyActive = errors.New("scalp already active for symbol")

// EventKind is the lifecycle event type of a scalp.
type EventKind string

const (
	EventOpened  EventKind = "OPENED"
	EventTPHit   EventKind = "TP_HIT"
	EventSLHit   EventKind = "SL_HIT"
	EventTimeout EventKind = "TIMEOUT"
)

// Setup is an active extra-position record. At most one exists per symbol.
type Setup struct {
	Symbol         string         `json:"symbol"`
	Side           execution.Side `json:"side"`
	EntryPrice     float64        `json:"entry_price"`
	TPPrice        float64        `json:"tp_price"`
	SLPrice        float64        `json:"sl_price"`
	OpenedAt       time.Time      `json:"opened_at"`
	MaxHold        time.Duration  `json:"max_hold"`
	ExtraContracts int            `json:"extra_contracts"`
}

// Event is an immutable, append-only log entry for a scalp lifecycle
// transition.
type Event struct {
	ID             string         `json:"id"`
	Symbol         string         `json:"symbol"`
	Kind           EventKind      `json:"kind"`
	Side           execution.Side `json:"side"`
	EntryPrice     float64        `json:"entry_price"`
	ExitPrice      float64        `json:"exit_price,omitempty"`
	ExtraContracts int            `json:"extra_contracts"`
	PnL            float64        `json:"pnl"`
	HoldDuration   time.Duration  `json:"hold_duration"`
	Reason         string         `json:"reason,omitempty"`
	Time           time.Time      `json:"time"`
}

// Stats summarizes the manager's lifetime activity.
type Stats struct {
	Opened   int     `json:"opened"`
	TPHits   int     `json:"tp_hits"`
	SLHits   int     `json:"sl_hits"`
	Timeouts int     `json:"timeouts"`
	Active   int     `json:"active"`
	TotalPnL float64 `json:"total_pnl"`
}

// Manager owns the lifecycle of short-lived extra positions: open, monitor
// against TP/SL/timeout, close, and the optional profit-protect cooldown.
type Manager struct {
	mu            sync.Mutex
	cfg           *config.ScalpConfig
	active        map[string]*Setup
	cooldownUntil map[string]time.Time
	events        []Event
	stats         Stats
	onClose       func(Event)
}

// NewManager creates a scalp manager from validated config.
func NewManager(cfg *config.ScalpConfig) *Manager {
	return &Manager{
		cfg:           cfg,
		active:        make(map[string]*Setup),
		cooldownUntil: make(map[string]time.Time),
	}
}

// SetOnClose registers a callback fired once per close event (TP_HIT, SL_HIT
// or TIMEOUT), after the active setup has been removed.
func (m *Manager) SetOnClose(callback func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = callback
}

// OpenScalp opens an extra position for a symbol. TP and SL prices derive
// from the configured point distances and point value, signed by side.
func (m *Manager) OpenScalp(symbol string, side execution.Side, entryPrice float64, extraContracts int, openedAt time.Time) (*Setup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[symbol]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, symbol)
	}

	sign := side.Sign()
	setup := &Setup{
		Symbol:         symbol,
		Side:           side,
		EntryPrice:     entryPrice,
		TPPrice:        entryPrice + sign*m.cfg.TPPoints*m.cfg.PointValue,
		SLPrice:        entryPrice - sign*m.cfg.SLPoints*m.cfg.PointValue,
		OpenedAt:       openedAt,
		MaxHold:        time.Duration(m.cfg.MaxHoldSeconds) * time.Second,
		ExtraContracts: extraContracts,
	}
	m.active[symbol] = setup
	m.stats.Opened++

	m.appendEventLocked(Event{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Kind:           EventOpened,
		Side:           side,
		EntryPrice:     entryPrice,
		ExtraContracts: extraContracts,
		Time:           openedAt,
	})

	logs.Infof("[Scalp] Opened %s %s entry=%.4f tp=%.4f sl=%.4f contracts=%d",
		side, symbol, entryPrice, setup.TPPrice, setup.SLPrice, extraContracts)
	return setup, nil
}

// UpdateScalp checks the active scalp for a symbol against the current price
// and time. Checks run in fixed order: timeout, then take-profit, then
// stop-loss. Returns true if the scalp closed on this call.
func (m *Manager) UpdateScalp(symbol string, currentPrice float64, currentTime time.Time) bool {
	m.mu.Lock()
	setup, ok := m.active[symbol]
	if !ok {
		m.mu.Unlock()
		return false
	}

	var (
		kind      EventKind
		exitPrice float64
	)
	sign := setup.Side.Sign()
	switch {
	case currentTime.Sub(setup.OpenedAt) >= setup.MaxHold:
		kind, exitPrice = EventTimeout, currentPrice
	case sign*(currentPrice-setup.TPPrice) >= 0:
		// Favorable cross settles at the TP price itself.
		kind, exitPrice = EventTPHit, setup.TPPrice
	case sign*(currentPrice-setup.SLPrice) <= 0:
		kind, exitPrice = EventSLHit, setup.SLPrice
	default:
		m.mu.Unlock()
		return false
	}

	pnl := (exitPrice - setup.EntryPrice) * sign * float64(setup.ExtraContracts) * m.cfg.PointValue
	delete(m.active, symbol)

	switch kind {
	case EventTPHit:
		m.stats.TPHits++
	case EventSLHit:
		m.stats.SLHits++
	case EventTimeout:
		m.stats.Timeouts++
	}
	m.stats.TotalPnL += pnl

	if m.cfg.ProtectProfitAfterScalp && pnl > 0 {
		m.cooldownUntil[symbol] = currentTime.Add(time.Duration(m.cfg.ProtectProfitCooldownSeconds) * time.Second)
	}

	ev := Event{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Kind:           kind,
		Side:           setup.Side,
		EntryPrice:     setup.EntryPrice,
		ExitPrice:      exitPrice,
		ExtraContracts: setup.ExtraContracts,
		PnL:            pnl,
		HoldDuration:   currentTime.Sub(setup.OpenedAt),
		Time:           currentTime,
	}
	m.appendEventLocked(ev)
	onClose := m.onClose
	m.mu.Unlock()

	logs.Infof("[Scalp] Closed %s %s: exit=%.4f pnl=%.4f held=%s", symbol, kind, exitPrice, pnl, ev.HoldDuration)
	if onClose != nil {
		onClose(ev)
	}
	return true
}

// IsInCooldown reports whether the symbol is inside its profit-protect
// window right now.
func (m *Manager) IsInCooldown(symbol string) bool {
	return m.InCooldownAt(symbol, time.Now())
}

// InCooldownAt is the clock-injected form of IsInCooldown.
func (m *Manager) InCooldownAt(symbol string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.cooldownUntil[symbol]
	return ok && now.Before(until)
}

// ActiveScalp returns a copy of the active setup for a symbol, if any.
func (m *Manager) ActiveScalp(symbol string) (*Setup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	setup, ok := m.active[symbol]
	if !ok {
		return nil, false
	}
	cp := *setup
	return &cp, true
}

// ActiveSymbols returns every symbol with an open scalp.
func (m *Manager) ActiveSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.active))
	for s := range m.active {
		out = append(out, s)
	}
	return out
}

// Events returns up to limit of the most recent events, oldest first.
func (m *Manager) Events(limit int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, n)
	copy(out, m.events[len(m.events)-n:])
	return out
}

// ExportStats returns lifetime counters.
func (m *Manager) ExportStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.stats
	stats.Active = len(m.active)
	return stats
}

// ExportCooldowns returns the per-symbol cooldown deadlines for persistence.
func (m *Manager) ExportCooldowns() map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.cooldownUntil))
	for k, v := range m.cooldownUntil {
		out[k] = v
	}
	return out
}

// RestoreCooldowns rehydrates cooldown deadlines after a restart.
func (m *Manager) RestoreCooldowns(cooldowns map[string]time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range cooldowns {
		m.cooldownUntil[k] = v
	}
}

func (m *Manager) appendEventLocked(ev Event) {
	m.events = append(m.events, ev)
	if limit := m.cfg.EventsLimit; limit > 0 && len(m.events) > limit {
		m.events = m.events[len(m.events)-limit:]
	}
}
