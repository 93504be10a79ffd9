package agent

import (
	"context"

	"treesearch/experiments/metrics"
	"treesearch/game"
)

type Agent interface {
	// FindMove returns the move to play and performance metrics (if collected) from the search process
	FindMove(ctx context.Context, state game.State) (game.Action, metrics.SearchMetric, error)
	// Update tells the agent which move was played, by itself or an opponent
	Update(action game.Action)
}
