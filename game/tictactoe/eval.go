package tictactoe

import (
	"golang.org/x/exp/rand"

	"treesearch/game"
)

// EvaluateLines scores open lines (lines not blocked by the opponent) for each player,
// weighting a line by the square of its marks, to produce a score between -1 and 1 from the
// current player's perspective. Decided positions score their terminal reward.
func EvaluateLines(s game.State) float64 {
	gs, ok := s.(*GameState)
	if !ok {
		panic("unexpected state type")
	}
	if gs.Terminal() {
		return gs.Reward(gs.CurrentPlayer)
	}

	current := gs.CurrentPlayer
	opponent := gs.NextPlayer()
	return normalize(gs.lineScore(current), gs.lineScore(opponent))
}

func (gs *GameState) lineScore(player game.PlayerID) float64 {
	score := 0.0
	for _, line := range lines {
		marks := 0
		blocked := false
		for _, cell := range line {
			switch gs.Board[cell] {
			case player:
				marks++
			case 0:
			default:
				blocked = true
			}
		}
		if !blocked {
			score += float64(marks * marks)
		}
	}
	return score
}

// normalize normalizes value relative to otherValue to a score between -1 and 1
func normalize(value float64, otherValue float64) float64 {
	total := value + otherValue
	if total == 0 {
		return 0
	}
	return (value - otherValue) / total
}

// WinningMove is a rollout heuristic: it completes a line for the player to move if it can,
// blocks the opponent's line otherwise, and falls back to a uniform pick among legal moves.
func WinningMove(s game.State, legal []game.Action, rng *rand.Rand) game.Action {
	gs, ok := s.(*GameState)
	if !ok {
		panic("unexpected state type")
	}
	if m, ok := gs.completing(gs.CurrentPlayer); ok {
		return m
	}
	if m, ok := gs.completing(gs.NextPlayer()); ok {
		return m
	}
	return legal[rng.Intn(len(legal))]
}

func (gs *GameState) completing(player game.PlayerID) (Move, bool) {
	for _, line := range lines {
		marks := 0
		empty := -1
		for _, cell := range line {
			switch gs.Board[cell] {
			case player:
				marks++
			case 0:
				empty = cell
			}
		}
		if marks == 2 && empty >= 0 {
			return Move(empty), true
		}
	}
	return 0, false
}
