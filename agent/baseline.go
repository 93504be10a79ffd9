package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/exp/rand"

	"treesearch/experiments/metrics"
	"treesearch/game"
	"treesearch/utils"
)

type randomAgent struct {
	rng *rand.Rand
}

// NewRandomAgent returns the baseline that plays uniformly random legal moves.
func NewRandomAgent(seed uint64) Agent {
	return &randomAgent{rng: rand.New(rand.NewSource(seed))}
}

func (a *randomAgent) FindMove(_ context.Context, state game.State) (game.Action, metrics.SearchMetric, error) {
	legal := state.LegalActions()
	if len(legal) == 0 {
		return nil, metrics.SearchMetric{}, fmt.Errorf("random move: %w", game.ErrInvalidState)
	}
	return legal[a.rng.Intn(len(legal))], metrics.SearchMetric{}, nil
}

func (a *randomAgent) Update(game.Action) {}

type humanAgent struct {
	in    *bufio.Scanner
	out   io.Writer
	parse func(string) (game.Action, error)
}

// NewHumanAgent prompts on out and reads one move per line from in until parse accepts a legal one.
func NewHumanAgent(in io.Reader, out io.Writer, parse func(string) (game.Action, error)) Agent {
	return &humanAgent{in: bufio.NewScanner(in), out: out, parse: parse}
}

func (a *humanAgent) FindMove(ctx context.Context, state game.State) (game.Action, metrics.SearchMetric, error) {
	legal := state.LegalActions()
	for {
		if err := ctx.Err(); err != nil {
			return nil, metrics.SearchMetric{}, err
		}
		fmt.Fprintf(a.out, "%v\nplayer %d to move: ", state, state.Player())
		if !a.in.Scan() {
			if err := a.in.Err(); err != nil {
				return nil, metrics.SearchMetric{}, fmt.Errorf("failed to read move: %w", err)
			}
			return nil, metrics.SearchMetric{}, io.EOF
		}

		action, err := a.parse(strings.TrimSpace(a.in.Text()))
		if err != nil {
			fmt.Fprintf(a.out, "invalid move: %v\n", err)
			continue
		}
		if utils.FindIndex(legal, action) < 0 {
			fmt.Fprintf(a.out, "illegal move: %v\n", action)
			continue
		}
		return action, metrics.SearchMetric{}, nil
	}
}

func (a *humanAgent) Update(game.Action) {}
