// capital/manager.go
package capital

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"realavanca_go_1/config"
	"realavanca_go_1/logs"
	"realavanca_go_1/utils"
)

// ErrInvalidConfig reports an unusable sizing configuration. It is returned
// from NewManager only; CalcContracts never fails for normal inputs.
var ErrInvalidConfig = errors.New("invalid capital configuration")

// Gate reason codes, one per layer of CanRealavancar. The first failing gate
// determines the reported reason.
const (
	ReasonApproved         = "APPROVED"
	ReasonDisabled         = "REALAVANCAGEM_DISABLED"
	ReasonRegimeNotAllowed = "REGIME_NOT_ALLOWED"
	ReasonRegimeForbidden  = "REGIME_FORBIDDEN"
	ReasonLowConfidence    = "CONFIDENCE_BELOW_MIN"
	ReasonProfitNotMet     = "PROFIT_TODAY_BELOW_MIN"
	ReasonLowLiquidity     = "LIQUIDITY_BELOW_MIN"
	ReasonHighDisagreement = "DISAGREEMENT_ABOVE_MAX"
	ReasonContractCapHit   = "CONTRACT_CAP_EXCEEDED"
	ReasonNoExtraRequested = "NO_EXTRA_REQUESTED"
)

// MarketContext carries the per-decision inputs the gate chain evaluates.
// Liquidity and Disagreement are optional upstream signals; nil means the
// signal is unavailable and the corresponding gate passes.
type MarketContext struct {
	Regime         string
	Confidence     float64
	ProfitToday    float64
	Liquidity      *float64
	Disagreement   *float64
	RequestedExtra int
}

// Detail is the typed payload attached to a CapitalState record.
type Detail struct {
	Regime       string  `json:"regime"`
	Confidence   float64 `json:"confidence"`
	ProfitToday  float64 `json:"profit_today"`
	Liquidity    float64 `json:"liquidity,omitempty"`
	Disagreement float64 `json:"disagreement,omitempty"`
	Note         string  `json:"note,omitempty"`
}

// CapitalState is one immutable decision record. It is created once per
// decision cycle and appended to the manager's bounded history.
type CapitalState struct {
	Capital        float64   `json:"capital"`
	BaseContracts  int       `json:"base_contracts"`
	ExtraContracts int       `json:"extra_contracts"`
	FinalContracts int       `json:"final_contracts"`
	Reason         string    `json:"reason"`
	Detail         Detail    `json:"detail"`
	CreatedAt      time.Time `json:"created_at"`
}

// Stats summarizes the manager's decision history.
type Stats struct {
	Decisions      int            `json:"decisions"`
	Approvals      int            `json:"approvals"`
	ReasonCounts   map[string]int `json:"reason_counts"`
	TotalExtra     int            `json:"total_extra"`
	LastDecisionAt time.Time      `json:"last_decision_at"`
}

// Manager converts available capital into a bounded contract count and
// validates whether extra ("re-leverage") exposure is permissible.
type Manager struct {
	mu  sync.Mutex
	cfg *config.CapitalConfig
	rlv *config.RealavancagemConfig

	allowed   map[string]bool
	forbidden map[string]bool

	history      []*CapitalState // most-recent-first
	reasonCounts map[string]int
	approvals    int
}

// NewManager validates the sizing configuration up front so CalcContracts
// never has to fail per call.
func NewManager(capCfg *config.CapitalConfig, rlvCfg *config.RealavancagemConfig) (*Manager, error) {
	if capCfg == nil || rlvCfg == nil {
		return nil, fmt.Errorf("%w: missing capital or realavancagem config block", ErrInvalidConfig)
	}
	if capCfg.MarginPerContract <= 0 {
		return nil, fmt.Errorf("%w: margin_per_contract must be positive, got %.4f", ErrInvalidConfig, capCfg.MarginPerContract)
	}
	if capCfg.MinContracts < 0 || capCfg.MaxContractsCap <= 0 || capCfg.MinContracts > capCfg.MaxContractsCap {
		return nil, fmt.Errorf("%w: inconsistent contract bounds [%d, %d]", ErrInvalidConfig, capCfg.MinContracts, capCfg.MaxContractsCap)
	}

	m := &Manager{
		cfg:          capCfg,
		rlv:          rlvCfg,
		allowed:      make(map[string]bool, len(rlvCfg.AllowedRegimes)),
		forbidden:    make(map[string]bool, len(rlvCfg.ForbiddenRegimes)),
		reasonCounts: make(map[string]int),
	}
	for _, r := range rlvCfg.AllowedRegimes {
		m.allowed[r] = true
	}
	for _, r := range rlvCfg.ForbiddenRegimes {
		m.forbidden[r] = true
	}
	return m, nil
}

// CalcBaseContracts converts capital into a contract count:
// clamp(floor(capital / margin_per_contract), min_contracts, max_contracts_cap).
func (m *Manager) CalcBaseContracts(capital float64) int {
	base := int(math.Floor(capital / m.cfg.MarginPerContract))
	return utils.ClampInt(base, m.cfg.MinContracts, m.cfg.MaxContractsCap)
}

// CanRealavancar evaluates the ordered, short-circuiting chain of eight
// gates. All eight must pass; the first failure determines the reason.
// Re-leverage is a risk amplifier, so the chain fails closed: this is an
// AND-chain, not a weighted score.
func (m *Manager) CanRealavancar(ctx MarketContext) (bool, string) {
	// Gate 1: feature flag.
	if !m.rlv.Enabled {
		return false, ReasonDisabled
	}
	// Gate 2: regime must be explicitly allowed.
	if !m.allowed[ctx.Regime] {
		return false, ReasonRegimeNotAllowed
	}
	// Gate 3: forbidden regimes always block, even if gate 2 passed.
	if m.forbidden[ctx.Regime] {
		return false, ReasonRegimeForbidden
	}
	// Gate 4: decision confidence.
	if ctx.Confidence < m.rlv.MinConfidence {
		return false, ReasonLowConfidence
	}
	// Gate 5: today's realized PnL, when required.
	if m.rlv.RequireProfitToday && ctx.ProfitToday < m.rlv.MinProfitToday {
		return false, ReasonProfitNotMet
	}
	// Gate 6: liquidity signal; absence passes.
	if ctx.Liquidity != nil && *ctx.Liquidity < m.rlv.MinLiquidity {
		return false, ReasonLowLiquidity
	}
	// Gate 7: model disagreement; absence passes.
	if ctx.Disagreement != nil && *ctx.Disagreement > m.rlv.MaxDisagreement {
		return false, ReasonHighDisagreement
	}
	// Gate 8: projected final contract count stays under the hard cap.
	base := m.CalcBaseContracts(m.cfg.CapitalUSDT)
	if base+ctx.RequestedExtra > m.cfg.MaxContractsCap {
		return false, ReasonContractCapHit
	}

	return true, ReasonApproved
}

// CalcContracts computes the full allocation for one decision cycle and
// appends the resulting CapitalState to the history.
func (m *Manager) CalcContracts(capital float64, ctx MarketContext) *CapitalState {
	base := m.CalcBaseContracts(capital)

	extra := 0
	reason := ReasonNoExtraRequested
	if ctx.RequestedExtra > 0 {
		approved, gateReason := m.CanRealavancar(ctx)
		reason = gateReason
		if approved {
			extra = m.rlv.MaxExtraContracts
			if room := m.cfg.MaxContractsCap - base; extra > room {
				extra = room
			}
			if extra < 0 {
				extra = 0
			}
		}
	}

	st := &CapitalState{
		Capital:        capital,
		BaseContracts:  base,
		ExtraContracts: extra,
		FinalContracts: base + extra,
		Reason:         reason,
		Detail: Detail{
			Regime:      ctx.Regime,
			Confidence:  ctx.Confidence,
			ProfitToday: ctx.ProfitToday,
		},
		CreatedAt: time.Now(),
	}
	if ctx.Liquidity != nil {
		st.Detail.Liquidity = *ctx.Liquidity
	}
	if ctx.Disagreement != nil {
		st.Detail.Disagreement = *ctx.Disagreement
	}

	m.mu.Lock()
	m.history = append([]*CapitalState{st}, m.history...)
	if limit := m.cfg.HistoryLimit; limit > 0 && len(m.history) > limit {
		m.history = m.history[:limit]
	}
	m.reasonCounts[reason]++
	if extra > 0 {
		m.approvals++
	}
	m.mu.Unlock()

	if extra > 0 {
		logs.Infof("[Capital] Re-leverage approved for regime %s: base=%d extra=%d final=%d", ctx.Regime, base, extra, base+extra)
	} else {
		logs.Debugf("[Capital] Allocation: base=%d extra=0 reason=%s", base, reason)
	}
	return st
}

// History returns up to limit of the most recent decision records,
// most-recent-first. limit <= 0 returns the full retained history.
func (m *Manager) History(limit int) []*CapitalState {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*CapitalState, n)
	copy(out, m.history[:n])
	return out
}

// ExportStats returns a summary of the decision history.
func (m *Manager) ExportStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int, len(m.reasonCounts))
	var totalExtra int
	for k, v := range m.reasonCounts {
		counts[k] = v
	}
	var last time.Time
	if len(m.history) > 0 {
		last = m.history[0].CreatedAt
		for _, st := range m.history {
			totalExtra += st.ExtraContracts
		}
	}
	return Stats{
		Decisions:      len(m.history),
		Approvals:      m.approvals,
		ReasonCounts:   counts,
		TotalExtra:     totalExtra,
		LastDecisionAt: last,
	}
}
