// policy/actions.go
package policy

// Action is one member of the fixed four-action set the engine selects from.
type Action string

const (
	Hold                   Action = "HOLD"
	EnterConservative      Action = "ENTER_CONSERVATIVE"
	Enter                  Action = "ENTER"
	EnterWithRealavancagem Action = "ENTER_WITH_REALAVANCAGEM"
)

// AllActions lists every action in ascending priority order. Sampling ties
// are broken by this order so behavior stays deterministic given a fixed
// random source.
var AllActions = []Action{Hold, EnterConservative, Enter, EnterWithRealavancagem}

var actionPriority = map[Action]int{
	Hold:                   0,
	EnterConservative:      1,
	Enter:                  2,
	EnterWithRealavancagem: 3,
}

// Priority returns the tie-break rank of an action (lower wins a tie).
func (a Action) Priority() int {
	return actionPriority[a]
}

// Valid reports whether a is a member of the action set.
func (a Action) Valid() bool {
	_, ok := actionPriority[a]
	return ok
}

// ImpliesExtra reports whether the action requests exposure beyond the
// capital-implied base allocation.
func (a Action) ImpliesExtra() bool {
	return a == EnterWithRealavancagem
}

// SizeFactor returns the fraction of the base contract count this action
// trades. conservativeFraction comes from config (typically 0.5).
func (a Action) SizeFactor(conservativeFraction float64) float64 {
	switch a {
	case Hold:
		return 0
	case EnterConservative:
		return conservativeFraction
	default:
		return 1
	}
}
