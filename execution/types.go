package execution

import "context"

// Side defines the proposed trade direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Sign returns +1 for a long/buy side and -1 for a short/sell side.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

// Decision is the upstream signal layer's proposal for one symbol-bar. The
// gate only ever adjusts Size; entry, stop and target pass through untouched.
type Decision struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Entry      float64 `json:"entry"`
	Stop       float64 `json:"stop"`
	Target     float64 `json:"target"`
	Size       int     `json:"size"`
	Confidence float64 `json:"confidence"`
}

// Clone returns a copy so the gate never mutates the caller's decision.
func (d *Decision) Clone() *Decision {
	cp := *d
	return &cp
}

// Executor is the downstream order-execution collaborator.
type Executor interface {
	// Execute transmits a sized decision for order placement.
	Execute(ctx context.Context, decision *Decision) error

	// GetPrice returns the latest price for a symbol.
	GetPrice(symbol string) (float64, error)
}
