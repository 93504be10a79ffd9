package agent

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"treesearch/game"
	"treesearch/game/tictactoe"
	"treesearch/searcher"
)

func newMCTS(t *testing.T, iterations int) *searcher.MCTS {
	t.Helper()
	m, err := searcher.NewMCTS(searcher.WithIterations(iterations), searcher.WithSeed(7), searcher.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return m
}

func board(t *testing.T, s string) *tictactoe.GameState {
	t.Helper()
	gs, err := tictactoe.FromString(s)
	require.NoError(t, err)
	return gs
}

func TestEvaluationAgent(t *testing.T) {
	ctx := context.Background()
	m := newMCTS(t, 2000)
	a := NewEvaluationAgent(m)

	move, _, err := a.FindMove(ctx, board(t, "XX_ OO_ ___"))
	require.NoError(t, err)
	require.Equal(t, tictactoe.Move(2), move)

	a.Update(move)
	require.Equal(t, 1, m.Size(), "Update should advance the search tree to the terminal child")

	_, _, err = a.FindMove(ctx, board(t, "XXX OO_ ___"))
	require.ErrorIs(t, err, searcher.ErrNoLegalActions)
}

func TestTrainingAgent(t *testing.T) {
	ctx := context.Background()

	t.Run("zero temperature plays the most visited move", func(t *testing.T) {
		a := NewTrainingAgent(newMCTS(t, 2000), 0, 1)

		move, _, err := a.FindMove(ctx, board(t, "XX_ OO_ ___"))

		require.NoError(t, err)
		require.Equal(t, tictactoe.Move(2), move)
	})

	t.Run("samples a legal move", func(t *testing.T) {
		a := NewTrainingAgent(newMCTS(t, 200), 1, 1)
		state := tictactoe.NewGameState()

		move, _, err := a.FindMove(ctx, state)

		require.NoError(t, err)
		require.Contains(t, state.LegalActions(), move)
	})
}

func TestAdjustTemperature(t *testing.T) {
	children := []searcher.ChildStats{{Action: "a", Visits: 1}, {Action: "b", Visits: 3}}

	t.Run("temperature 1 is proportional to visits", func(t *testing.T) {
		require.InDeltaSlice(t, []float64{0.25, 0.75}, adjustTemperature(children, 1), 1e-9)
	})

	t.Run("low temperature sharpens", func(t *testing.T) {
		probs := adjustTemperature(children, 0.5)
		require.InDeltaSlice(t, []float64{0.1, 0.9}, probs, 1e-9)
	})

	t.Run("zero temperature is greedy", func(t *testing.T) {
		require.Equal(t, []float64{0, 1}, adjustTemperature(children, 0))
	})

	t.Run("no visits is uniform", func(t *testing.T) {
		none := []searcher.ChildStats{{Action: "a"}, {Action: "b"}}
		require.Equal(t, []float64{0.5, 0.5}, adjustTemperature(none, 1))
	})
}

func TestSample(t *testing.T) {
	children := []searcher.ChildStats{{Action: "a"}, {Action: "b"}, {Action: "c"}}
	probs := []float64{0.25, 0, 0.75}

	require.Equal(t, "a", sample(children, probs, 0.1))
	require.Equal(t, "c", sample(children, probs, 0.25))
	require.Equal(t, "c", sample(children, probs, 0.9999999), "Rounding errors should fall back to the last move")
}

func TestRandomAgent(t *testing.T) {
	a := NewRandomAgent(3)
	state := tictactoe.NewGameState()

	for i := 0; i < 20; i++ {
		move, _, err := a.FindMove(context.Background(), state)
		require.NoError(t, err)
		require.Contains(t, state.LegalActions(), move)
	}

	_, _, err := a.FindMove(context.Background(), board(t, "XXX OO_ ___"))
	require.ErrorIs(t, err, game.ErrInvalidState)
}

func TestHumanAgent(t *testing.T) {
	parse := func(s string) (game.Action, error) {
		return tictactoe.ParseMove(s)
	}

	t.Run("retries until a legal move", func(t *testing.T) {
		var out bytes.Buffer
		a := NewHumanAgent(strings.NewReader("nonsense\n0,0\n1,1\n"), &out, parse)

		move, _, err := a.FindMove(context.Background(), board(t, "X__ ___ ___"))

		require.NoError(t, err)
		require.Equal(t, tictactoe.Move(4), move)
		require.Contains(t, out.String(), "invalid move")
		require.Contains(t, out.String(), "illegal move: 0,0")
	})

	t.Run("end of input", func(t *testing.T) {
		a := NewHumanAgent(strings.NewReader(""), io.Discard, parse)

		_, _, err := a.FindMove(context.Background(), tictactoe.NewGameState())

		require.ErrorIs(t, err, io.EOF)
	})
}
