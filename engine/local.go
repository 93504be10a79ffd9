package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"treesearch/agent"
	"treesearch/experiments/metrics"
	"treesearch/game"
)

// Observer is notified after every move played.
type Observer func(step int, player game.PlayerID, action game.Action, state game.State)

type LocalEngine struct {
	State    game.State
	Agents   map[game.PlayerID]agent.Agent
	MaxMoves int
	Observer Observer
}

func NewLocalEngine(state game.State, agents map[game.PlayerID]agent.Agent) *LocalEngine {
	return &LocalEngine{
		State:    state,
		Agents:   agents,
		MaxMoves: MaxMoves,
	}
}

// Run executes the entire game loop until the game is over. Every agent is told about every
// move so that searching agents can reuse their trees.
func (e *LocalEngine) Run(ctx context.Context) (metrics.GameMetric, []metrics.MoveMetric, error) {
	gameMetric := metrics.GameMetric{
		StartingPlayer: e.State.Player(),
		StartTime:      time.Now(),
	}
	var moveMetrics []metrics.MoveMetric

	log.Debug().Msgf("player %d is starting", e.State.Player())

	step := 0
	for !e.State.Terminal() && len(e.State.LegalActions()) > 0 && step < e.MaxMoves {
		player := e.State.Player()
		a, ok := e.Agents[player]
		if !ok {
			return gameMetric, moveMetrics, fmt.Errorf("no agent for player %d", player)
		}

		move, searchMetric, err := a.FindMove(ctx, e.State)
		if err != nil {
			return gameMetric, moveMetrics, fmt.Errorf("player %d failed to find a move at step %d: %w", player, step+1, err)
		}
		newState, err := e.State.Play(move)
		if err != nil {
			return gameMetric, moveMetrics, fmt.Errorf("player %d played %v at step %d: %w", player, move, step+1, err)
		}

		step++
		moveMetrics = append(moveMetrics, metrics.MoveMetric{
			Step:         step,
			Player:       player,
			SearchMetric: searchMetric,
		})
		for _, other := range e.Agents {
			other.Update(move)
		}
		e.State = newState
		if e.Observer != nil {
			e.Observer(step, player, move, newState)
		}
	}

	if step >= e.MaxMoves && !e.State.Terminal() {
		log.Warn().Msgf("stopped after %d moves without a result", step)
	}

	gameMetric.EndTime = time.Now()
	gameMetric.Duration = gameMetric.EndTime.Sub(gameMetric.StartTime)
	gameMetric.TotalMoves = step
	gameMetric.Winner = Winner(e.State, e.players())
	return gameMetric, moveMetrics, nil
}

func (e *LocalEngine) players() []game.PlayerID {
	players := make([]game.PlayerID, 0, len(e.Agents))
	for player := range e.Agents {
		players = append(players, player)
	}
	return players
}

// Winner returns the player with the strictly highest reward at a terminal state, or 0 for a
// draw or an unfinished game.
func Winner(state game.State, players []game.PlayerID) game.PlayerID {
	if !state.Terminal() && len(state.LegalActions()) > 0 {
		return 0
	}

	var winner game.PlayerID
	best := 0.0
	tied := true
	for i, player := range players {
		reward := state.Reward(player)
		switch {
		case i == 0 || reward > best:
			winner, best, tied = player, reward, false
		case reward == best:
			tied = true
		}
	}
	if tied {
		return 0
	}
	return winner
}
