package game

import "errors"

// PlayerID identifies whose turn it is. Single-agent processes use a single ID throughout.
type PlayerID int

// Action is an opaque move of a decision process. Dynamic values must be comparable with ==
// (the searcher matches actions when reusing subtrees).
type Action any

type StateHash uint64

// State should be immutable - operations on State always return a new copy
type State interface {
	Player() PlayerID
	LegalActions() []Action
	// Play returns the successor state. Errors wrap ErrInvalidState.
	Play(Action) (State, error)
	Terminal() bool
	// Reward scores the state for player, at least at terminal states. Zero-sum processes
	// return rewards in [-1, 1] that sum to 0 across players.
	Reward(player PlayerID) float64
}

// Hasher is implemented by states that can identify themselves cheaply. The searcher uses it
// to check that a reused root still matches the position it is asked to search.
type Hasher interface {
	Hash() StateHash
}

// Evaluates the game state to a score between -1 and 1 indicating how
// favorable the current player's position is to a winning (positive) outcome.
type Evaluate func(State) float64

// ErrInvalidState is wrapped by adapters asked to act on a state or action they cannot
// interpret, such as an illegal action.
var ErrInvalidState = errors.New("invalid state")
