package agent

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"treesearch/experiments/metrics"
	"treesearch/game"
	"treesearch/searcher"
)

type trainingAgent struct {
	mcts        *searcher.MCTS
	temperature float64
	rng         *rand.Rand
}

// NewTrainingAgent returns a new agent for self-play. It samples moves in proportion to
// visits^(1/temperature); a temperature of 0 always plays the most visited move.
func NewTrainingAgent(mcts *searcher.MCTS, temperature float64, seed uint64) Agent {
	return &trainingAgent{
		mcts:        mcts,
		temperature: temperature,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (a *trainingAgent) FindMove(ctx context.Context, state game.State) (game.Action, metrics.SearchMetric, error) {
	result, err := a.mcts.Search(ctx, state)
	if err != nil {
		return nil, result.Metric, fmt.Errorf("failed to search: %w", err)
	}
	if result.StopReason == searcher.StopSingleAction {
		return result.Action, result.Metric, nil
	}

	probs := adjustTemperature(result.Children, a.temperature)
	return sample(result.Children, probs, a.rng.Float64()), result.Metric, nil
}

func (a *trainingAgent) Update(action game.Action) {
	a.mcts.Advance(action)
}

// adjustTemperature computes temperature-adjusted move probabilities, aligned with children
func adjustTemperature(children []searcher.ChildStats, temperature float64) []float64 {
	probs := make([]float64, len(children))
	if temperature <= 0 {
		best := 0
		for i, child := range children {
			if child.Visits > children[best].Visits {
				best = i
			}
		}
		if len(children) > 0 {
			probs[best] = 1
		}
		return probs
	}

	exponent := 1.0 / temperature
	sum := 0.0
	for i, child := range children {
		prob := math.Pow(float64(child.Visits), exponent)
		sum += prob
		probs[i] = prob
	}
	// Normalize
	for i := range probs {
		if sum > 0 {
			probs[i] /= sum
		} else {
			probs[i] = 1 / float64(len(probs))
		}
	}
	return probs
}

func sample(children []searcher.ChildStats, probs []float64, sampled float64) game.Action {
	cumulative := 0.0
	var lastMove game.Action
	for i, prob := range probs {
		if prob == 0 {
			continue
		}
		lastMove = children[i].Action
		cumulative += prob
		if sampled < cumulative {
			return lastMove
		}
	}
	return lastMove // Fallback in case of rounding errors
}
