package searcher

import (
	"errors"
	"fmt"

	"treesearch/game"
)

var (
	// ErrExpansionExhausted is returned when expansion is attempted on a node without untried
	// actions. The search treats it as a fully expanded node and selects again.
	ErrExpansionExhausted = errors.New("no untried actions to expand")

	// ErrNoLegalActions is returned by Search when the root state is terminal.
	ErrNoLegalActions = errors.New("root state has no legal actions")

	// ErrBudgetMisconfigured is returned by NewMCTS when neither an iteration nor a time budget is set.
	ErrBudgetMisconfigured = errors.New("search budget misconfigured")

	ErrInvalidOption = errors.New("invalid search option")
)

// AdapterError reports a failed state transition. Depth counts plies from the search root to
// the state the failing action was applied to.
type AdapterError struct {
	Action game.Action
	Depth  int
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("playing %v at depth %d: %v", e.Action, e.Depth, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
