package searcher

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"treesearch/game"
	"treesearch/game/tictactoe"
)

func newSearch(t *testing.T, options ...Option) *MCTS {
	t.Helper()
	options = append([]Option{WithLogger(zerolog.Nop()), WithSeed(42)}, options...)
	m, err := NewMCTS(options...)
	require.NoError(t, err)
	return m
}

func board(t *testing.T, s string) *tictactoe.GameState {
	t.Helper()
	gs, err := tictactoe.FromString(s)
	require.NoError(t, err)
	return gs
}

func TestNewMCTS(t *testing.T) {
	t.Run("requires a budget", func(t *testing.T) {
		_, err := NewMCTS()
		require.ErrorIs(t, err, ErrBudgetMisconfigured)

		_, err = NewMCTS(WithIterations(-1), WithDuration(time.Second))
		require.ErrorIs(t, err, ErrBudgetMisconfigured)
	})

	t.Run("either budget is enough", func(t *testing.T) {
		_, err := NewMCTS(WithIterations(10))
		require.NoError(t, err)

		_, err = NewMCTS(WithDuration(time.Millisecond))
		require.NoError(t, err)
	})

	t.Run("rejects invalid options", func(t *testing.T) {
		for name, option := range map[string]Option{
			"parallelism":            WithParallelism(0),
			"exploration":            WithExploration(-1),
			"cutoff":                 WithCutoff(-1),
			"static eval without fn": WithRollout(RolloutStaticEval),
			"heuristic without fn":   WithRollout(RolloutHeuristic),
		} {
			_, err := NewMCTS(WithIterations(10), option)
			require.ErrorIs(t, err, ErrInvalidOption, name)
		}
	})

	t.Run("virtual loss defaults to one loss when parallel", func(t *testing.T) {
		require.Equal(t, 0, newSearch(t, WithIterations(1)).virtualLoss)
		require.Equal(t, 1, newSearch(t, WithIterations(1), WithParallelism(4)).virtualLoss)
		require.Equal(t, 3, newSearch(t, WithIterations(1), WithParallelism(4), WithVirtualLoss(3, -0.5)).virtualLoss)
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("converges on a trivial process", func(t *testing.T) {
		m := newSearch(t, WithIterations(1000))

		result, err := m.Search(ctx, bandit())

		require.NoError(t, err)
		require.Equal(t, "A", result.Action)
		require.Equal(t, 1000, result.RootVisits)
		require.Equal(t, 1000, result.Iterations)
		require.Equal(t, StopIterations, result.StopReason)
		require.Len(t, result.Children, 2)
		require.Greater(t, result.Children[0].Visits, result.Children[1].Visits)
		require.Equal(t, 1.0, result.Children[0].Mean)
		require.Equal(t, 0.0, result.Children[1].Mean)
		requireConsistent(t, m, true)
	})

	t.Run("conserves visits", func(t *testing.T) {
		m := newSearch(t, WithIterations(500))

		result, err := m.Search(ctx, tictactoe.NewGameState())

		require.NoError(t, err)
		require.Equal(t, 500, result.RootVisits)
		requireConsistent(t, m, true)
	})

	t.Run("expands untried actions before descending", func(t *testing.T) {
		m := newSearch(t, WithIterations(tictactoe.Cells))

		result, err := m.Search(ctx, tictactoe.NewGameState())

		require.NoError(t, err)
		require.Len(t, result.Children, tictactoe.Cells)
		for i, child := range result.Children {
			require.Equal(t, tictactoe.Move(i), child.Action, "Actions should expand in listed order")
			require.Equal(t, 1, child.Visits, "Every action should be tried once before any is revisited")
		}
	})

	t.Run("random expansion still tries every action once first", func(t *testing.T) {
		m := newSearch(t, WithIterations(tictactoe.Cells), WithExpansion(ExpandRandom))

		result, err := m.Search(ctx, tictactoe.NewGameState())

		require.NoError(t, err)
		require.Len(t, result.Children, tictactoe.Cells)
		for _, child := range result.Children {
			require.Equal(t, 1, child.Visits)
		}
	})

	t.Run("single legal action", func(t *testing.T) {
		m := newSearch(t, WithIterations(1000))
		state := board(t, "XOX XOO OX_")

		result, err := m.Search(ctx, state)

		require.NoError(t, err)
		require.Equal(t, tictactoe.Move(8), result.Action)
		require.Equal(t, StopSingleAction, result.StopReason)
		require.Zero(t, result.Iterations)
		require.LessOrEqual(t, m.Size(), 2)
	})

	t.Run("terminal root", func(t *testing.T) {
		m := newSearch(t, WithIterations(10))

		result, err := m.Search(ctx, board(t, "XXX OO_ ___"))

		require.ErrorIs(t, err, ErrNoLegalActions)
		require.True(t, result.Terminal)
		require.Nil(t, result.Action)
		require.Equal(t, StopTerminal, result.StopReason)
	})

	t.Run("deterministic under a fixed seed", func(t *testing.T) {
		run := func() Result {
			m := newSearch(t, WithIterations(300), WithExpansion(ExpandRandom))
			result, err := m.Search(ctx, tictactoe.NewGameState())
			require.NoError(t, err)
			return result
		}

		first, second := run(), run()

		require.Equal(t, first.Action, second.Action)
		require.Equal(t, first.Children, second.Children)
		require.Equal(t, first.RootVisits, second.RootVisits)
	})

	t.Run("takes the win", func(t *testing.T) {
		m := newSearch(t, WithIterations(2000))

		result, err := m.Search(ctx, board(t, "XX_ OO_ ___"))

		require.NoError(t, err)
		require.Equal(t, tictactoe.Move(2), result.Action)
		require.Equal(t, []game.Action{tictactoe.Move(2)}, m.PrincipalVariation())
	})

	t.Run("blocks the opponent", func(t *testing.T) {
		m := newSearch(t, WithIterations(5000))

		result, err := m.Search(ctx, board(t, "XX_ O__ ___"))

		require.NoError(t, err)
		require.Equal(t, tictactoe.Move(2), result.Action)
	})

	t.Run("final selection policies agree on a clear best action", func(t *testing.T) {
		for _, policy := range []FinalPolicy{MostVisited, HighestValue, GreedyUCB} {
			m := newSearch(t, WithIterations(1000), WithFinalSelection(policy))

			result, err := m.Search(ctx, bandit())

			require.NoError(t, err)
			require.Equal(t, "A", result.Action, policy.String())
		}
	})

	t.Run("heuristic rollouts with a cutoff and evaluation", func(t *testing.T) {
		m := newSearch(t,
			WithIterations(2000),
			WithActionPicker(tictactoe.WinningMove),
			WithCutoff(2),
			WithEvaluationFn(tictactoe.EvaluateLines),
		)

		result, err := m.Search(ctx, board(t, "XX_ OO_ ___"))

		require.NoError(t, err)
		require.Equal(t, tictactoe.Move(2), result.Action)
		requireConsistent(t, m, true)
	})

	t.Run("static evaluation rollouts", func(t *testing.T) {
		m := newSearch(t,
			WithIterations(2000),
			WithRollout(RolloutStaticEval),
			WithEvaluationFn(tictactoe.EvaluateLines),
		)

		result, err := m.Search(ctx, board(t, "XX_ OO_ ___"))

		require.NoError(t, err)
		require.Equal(t, tictactoe.Move(2), result.Action)
	})

	t.Run("deadline budget", func(t *testing.T) {
		m := newSearch(t, WithDuration(20*time.Millisecond))

		result, err := m.Search(ctx, tictactoe.NewGameState())

		require.NoError(t, err)
		require.Equal(t, StopDeadline, result.StopReason)
		require.Positive(t, result.Iterations)
		require.Equal(t, result.Iterations, result.RootVisits)
		require.GreaterOrEqual(t, result.Elapsed, 20*time.Millisecond)
	})

	t.Run("canceled before the first iteration", func(t *testing.T) {
		m := newSearch(t, WithIterations(100))
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		result, err := m.Search(canceled, tictactoe.NewGameState())

		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, StopCanceled, result.StopReason)
		require.Nil(t, result.Action)
	})

	t.Run("adapter errors abort the search", func(t *testing.T) {
		m := newSearch(t, WithIterations(100), WithParallelism(4))
		state := twoPly()
		state.next["R"].fail = true

		_, err := m.Search(ctx, state)

		var adapterErr *AdapterError
		require.ErrorAs(t, err, &adapterErr)
		require.ErrorIs(t, err, game.ErrInvalidState)
		require.Equal(t, 1, adapterErr.Depth)
		requireNoVirtualLoss(t, m)
	})

	t.Run("collects metrics", func(t *testing.T) {
		m := newSearch(t, WithIterations(200), WithMetrics())

		result, err := m.Search(ctx, tictactoe.NewGameState())

		require.NoError(t, err)
		require.Equal(t, 200, result.Metric.Iterations)
		require.Equal(t, 1, result.Metric.Workers)
		require.Equal(t, "random", result.Metric.Rollout)
		require.Positive(t, result.Metric.Expansions)
		require.LessOrEqual(t, result.Metric.Expansions, 200, "An iteration expands at most one node")
		require.Equal(t, result.Metric.Expansions+1, result.Metric.TreeSize)
		require.Positive(t, result.Metric.FullPlayouts)
		require.False(t, result.Metric.IsTreeReused)
	})
}

func TestParallelSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("conserves visits and clears virtual loss", func(t *testing.T) {
		m := newSearch(t, WithIterations(3000), WithParallelism(8), WithMetrics())

		result, err := m.Search(ctx, tictactoe.NewGameState())

		require.NoError(t, err)
		require.Equal(t, 3000, result.Iterations)
		require.Equal(t, 3000, result.RootVisits)
		require.Equal(t, 8, result.Metric.Workers)
		requireConsistent(t, m, true)
	})

	t.Run("finds the win", func(t *testing.T) {
		m := newSearch(t, WithIterations(4000), WithParallelism(4))

		result, err := m.Search(ctx, board(t, "XX_ OO_ ___"))

		require.NoError(t, err)
		require.Equal(t, tictactoe.Move(2), result.Action)
		requireConsistent(t, m, true)
	})

	t.Run("deadline budget", func(t *testing.T) {
		m := newSearch(t, WithDuration(20*time.Millisecond), WithParallelism(4))

		result, err := m.Search(ctx, tictactoe.NewGameState())

		require.NoError(t, err)
		require.Equal(t, result.Iterations, result.RootVisits)
		requireConsistent(t, m, true)
	})
}

func TestReuse(t *testing.T) {
	ctx := context.Background()

	t.Run("advancing keeps the subtree statistics", func(t *testing.T) {
		m := newSearch(t, WithIterations(2000))
		state := tictactoe.NewGameState()
		first, err := m.Search(ctx, state)
		require.NoError(t, err)

		var retained int
		for _, child := range first.Children {
			if child.Action == first.Action {
				retained = child.Visits
			}
		}
		m.Advance(first.Action)
		next, err := state.Play(first.Action)
		require.NoError(t, err)

		second, err := m.Search(ctx, next)

		require.NoError(t, err)
		require.True(t, second.TreeReused)
		require.Equal(t, retained+2000, second.RootVisits)
		require.Equal(t, 2000, second.Iterations)
		requireConsistent(t, m, false)
	})

	t.Run("advancing compacts the store", func(t *testing.T) {
		m := newSearch(t, WithIterations(2000))
		_, err := m.Search(ctx, tictactoe.NewGameState())
		require.NoError(t, err)
		before := m.Size()
		root := m.store.get(m.root)
		child := m.store.get(root.children[0])
		visits, value, size := child.Visits(), child.Value(), m.store.subtreeSize(root.children[0])

		m.Advance(root.actions[0])

		require.Less(t, m.Size(), before)
		require.Equal(t, size, m.Size(), "Only the retained subtree should be left")
		newRoot := m.store.get(m.root)
		require.Equal(t, nilHandle, newRoot.parent)
		require.Equal(t, visits, newRoot.Visits())
		require.Equal(t, value, newRoot.Value())
		requireConsistent(t, m, false)
	})

	t.Run("advancing by an unexpanded action discards the tree", func(t *testing.T) {
		m := newSearch(t, WithIterations(3))
		state := tictactoe.NewGameState()
		_, err := m.Search(ctx, state)
		require.NoError(t, err)

		m.Advance(tictactoe.Move(8))
		require.Zero(t, m.Size())

		next, err := state.Play(tictactoe.Move(8))
		require.NoError(t, err)
		result, err := m.Search(ctx, next)
		require.NoError(t, err)
		require.False(t, result.TreeReused)
	})

	t.Run("mismatched state rebuilds the tree", func(t *testing.T) {
		m := newSearch(t, WithIterations(100))
		_, err := m.Search(ctx, board(t, "X__ _O_ ___"))
		require.NoError(t, err)

		result, err := m.Search(ctx, board(t, "_X_ _O_ ___"))

		require.NoError(t, err)
		require.False(t, result.TreeReused)
		require.Equal(t, 100, result.RootVisits)
	})

	t.Run("unhashed state with the same shape rebuilds the tree", func(t *testing.T) {
		m := newSearch(t, WithIterations(100))
		_, err := m.Search(ctx, bandit())
		require.NoError(t, err)

		other := branch("other", 1, []game.Action{"L", "R"},
			leaf("l", map[game.PlayerID]float64{1: 0}),
			leaf("r", map[game.PlayerID]float64{1: 1}),
		)
		result, err := m.Search(ctx, other)

		require.NoError(t, err)
		require.False(t, result.TreeReused)
		require.Equal(t, "R", result.Action)
		require.Equal(t, 100, result.RootVisits)
		for _, child := range result.Children {
			require.Contains(t, []game.Action{"L", "R"}, child.Action)
		}
	})

	t.Run("unhashed state continues from the same value", func(t *testing.T) {
		m := newSearch(t, WithIterations(100))
		state := bandit()
		_, err := m.Search(ctx, state)
		require.NoError(t, err)

		result, err := m.Search(ctx, state)

		require.NoError(t, err)
		require.True(t, result.TreeReused)
		require.Equal(t, 200, result.RootVisits)
	})

	t.Run("unhashed state continues after advancing", func(t *testing.T) {
		m := newSearch(t, WithIterations(200))
		state := twoPly()
		_, err := m.Search(ctx, state)
		require.NoError(t, err)

		m.Advance("L")
		next, err := state.Play("L")
		require.NoError(t, err)
		result, err := m.Search(ctx, next)

		require.NoError(t, err)
		require.True(t, result.TreeReused)
		require.Equal(t, "x", result.Action)
		requireConsistent(t, m, false)

		// Once searched, the root is tied to next
		lookalike := branch("L", 2, []game.Action{"x", "y"}, leaf("Lx", nil), leaf("Ly", nil))
		result, err = m.Search(ctx, lookalike)
		require.NoError(t, err)
		require.False(t, result.TreeReused)
	})

	t.Run("same state continues the search", func(t *testing.T) {
		m := newSearch(t, WithIterations(100))
		state := tictactoe.NewGameState()
		_, err := m.Search(ctx, state)
		require.NoError(t, err)

		result, err := m.Search(ctx, state)

		require.NoError(t, err)
		require.True(t, result.TreeReused)
		require.Equal(t, 200, result.RootVisits)
	})

	t.Run("reuse disabled", func(t *testing.T) {
		m := newSearch(t, WithIterations(100), WithReuse(false))
		state := tictactoe.NewGameState()
		_, err := m.Search(ctx, state)
		require.NoError(t, err)

		result, err := m.Search(ctx, state)

		require.NoError(t, err)
		require.False(t, result.TreeReused)
		require.Equal(t, 100, result.RootVisits)
	})

	t.Run("reset discards the tree", func(t *testing.T) {
		m := newSearch(t, WithIterations(100))
		_, err := m.Search(ctx, tictactoe.NewGameState())
		require.NoError(t, err)

		m.Reset()

		require.Zero(t, m.Size())
		require.Empty(t, m.PrincipalVariation())
	})
}

func TestDump(t *testing.T) {
	m := newSearch(t, WithIterations(1000))
	_, err := m.Search(context.Background(), bandit())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Dump(&buf, 1))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	require.Contains(t, string(lines[0]), "root N=1000")
	require.Contains(t, string(lines[1]), "  A N=")
	require.Contains(t, string(lines[2]), "  B N=")

	buf.Reset()
	require.NoError(t, m.Dump(&buf, 0))
	require.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestResultPolicy(t *testing.T) {
	result := Result{Children: []ChildStats{{Action: "A", Visits: 3}, {Action: "B", Visits: 1}}}

	require.Equal(t, map[game.Action]float64{"A": 0.75, "B": 0.25}, result.Policy())
}

func requireNoVirtualLoss(t *testing.T, m *MCTS) {
	t.Helper()
	for h := 0; h < m.store.len(); h++ {
		require.Zero(t, m.store.get(Handle(h)).vloss.Load())
	}
}
