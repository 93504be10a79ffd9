package searcher

import (
	"golang.org/x/exp/rand"

	"treesearch/game"
)

type RolloutPolicy int

const (
	// RolloutRandom plays uniformly random legal actions, the default.
	RolloutRandom RolloutPolicy = iota
	// RolloutHeuristic plays actions chosen by an ActionPicker.
	RolloutHeuristic
	// RolloutStaticEval scores the leaf with the evaluation function without simulating.
	RolloutStaticEval
)

func (p RolloutPolicy) String() string {
	switch p {
	case RolloutRandom:
		return "random"
	case RolloutHeuristic:
		return "heuristic"
	case RolloutStaticEval:
		return "static-eval"
	default:
		return "unknown"
	}
}

// ParseRolloutPolicy is the inverse of RolloutPolicy.String.
func ParseRolloutPolicy(s string) (RolloutPolicy, bool) {
	for _, p := range []RolloutPolicy{RolloutRandom, RolloutHeuristic, RolloutStaticEval} {
		if p.String() == s {
			return p, true
		}
	}
	return RolloutRandom, false
}

// ActionPicker chooses the next rollout action among the non-empty legal actions of state.
type ActionPicker func(state game.State, legal []game.Action, rng *rand.Rand) game.Action

func randomAction(_ game.State, legal []game.Action, rng *rand.Rand) game.Action {
	return legal[rng.Intn(len(legal))]
}

// outcome is the result of a rollout as seen by each player.
type outcome interface {
	For(player game.PlayerID) float64
}

type terminalOutcome struct {
	state game.State
}

func (o terminalOutcome) For(player game.PlayerID) float64 {
	return o.state.Reward(player)
}

// evaluation is a score from the perspective of player. Other players see its negation,
// which holds for two-player zero-sum processes.
type evaluation struct {
	player game.PlayerID
	score  float64
}

func (o evaluation) For(player game.PlayerID) float64 {
	if player == o.player {
		return o.score
	}
	return -o.score
}

// constant is the value reported for rollouts cut off without an evaluation function.
type constant float64

func (o constant) For(game.PlayerID) float64 {
	return float64(o)
}

type rollout struct {
	policy   RolloutPolicy
	pick     ActionPicker
	evaluate game.Evaluate
	cutoff   int // 0 plays until a terminal state
	fallback float64
}

func isTerminal(state game.State) bool {
	return state.Terminal() || len(state.LegalActions()) == 0
}

// run simulates from state, which lies depth plies below the search root, on successor copies
// only. full reports whether the simulation reached a terminal state.
func (r *rollout) run(state game.State, depth int, rng *rand.Rand) (result outcome, full bool, err error) {
	if r.policy == RolloutStaticEval {
		if isTerminal(state) {
			return terminalOutcome{state}, true, nil
		}
		return evaluation{player: state.Player(), score: r.evaluate(state)}, false, nil
	}

	pick := randomAction
	if r.policy == RolloutHeuristic && r.pick != nil {
		pick = r.pick
	}

	// Rollout till game over or for cutoff number of moves
	for steps := 0; ; steps++ {
		if state.Terminal() {
			return terminalOutcome{state}, true, nil
		}
		legal := state.LegalActions()
		if len(legal) == 0 {
			return terminalOutcome{state}, true, nil
		}
		if r.cutoff > 0 && steps >= r.cutoff {
			break
		}

		action := pick(state, legal, rng)
		next, err := state.Play(action)
		if err != nil {
			return nil, false, &AdapterError{Action: action, Depth: depth + steps, Err: err}
		}
		state = next
	}

	// At cutoff state, return an evaluation score from current player's perspective
	if r.evaluate != nil {
		return evaluation{player: state.Player(), score: r.evaluate(state)}, false, nil
	}
	return constant(r.fallback), false, nil
}
