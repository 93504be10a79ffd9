package agent

import (
	"context"
	"fmt"

	"treesearch/experiments/metrics"
	"treesearch/game"
	"treesearch/searcher"
)

type evaluationAgent struct {
	mcts *searcher.MCTS
}

// NewEvaluationAgent returns a new agent for actual game play during evaluation. It plays the
// action recommended by the search and reuses the subtree of every played move.
func NewEvaluationAgent(mcts *searcher.MCTS) Agent {
	return evaluationAgent{mcts: mcts}
}

func (a evaluationAgent) FindMove(ctx context.Context, state game.State) (game.Action, metrics.SearchMetric, error) {
	result, err := a.mcts.Search(ctx, state)
	if err != nil {
		return nil, result.Metric, fmt.Errorf("failed to search: %w", err)
	}
	return result.Action, result.Metric, nil
}

func (a evaluationAgent) Update(action game.Action) {
	a.mcts.Advance(action)
}
