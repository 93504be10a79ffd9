package searcher

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"treesearch/game"
)

// mockState is an explicit game tree: Play follows next, and terminal states pay rewards.
type mockState struct {
	name     string
	player   game.PlayerID
	actions  []game.Action
	next     map[game.Action]*mockState
	rewards  map[game.PlayerID]float64
	terminal bool
	fail     bool // Play always fails
}

func (m *mockState) Player() game.PlayerID {
	return m.player
}

func (m *mockState) LegalActions() []game.Action {
	return m.actions
}

func (m *mockState) Play(action game.Action) (game.State, error) {
	if m.fail {
		return nil, fmt.Errorf("mock %s cannot play %v: %w", m.name, action, game.ErrInvalidState)
	}
	next, ok := m.next[action]
	if !ok {
		return nil, fmt.Errorf("mock %s has no action %v: %w", m.name, action, game.ErrInvalidState)
	}
	return next, nil
}

func (m *mockState) Terminal() bool {
	return m.terminal
}

func (m *mockState) Reward(player game.PlayerID) float64 {
	return m.rewards[player]
}

func leaf(name string, rewards map[game.PlayerID]float64) *mockState {
	return &mockState{name: name, terminal: true, rewards: rewards}
}

// branch links actions to children in order.
func branch(name string, player game.PlayerID, actions []game.Action, children ...*mockState) *mockState {
	m := &mockState{name: name, player: player, actions: actions, next: map[game.Action]*mockState{}}
	for i, action := range actions {
		m.next[action] = children[i]
	}
	return m
}

// bandit is a single-step process with deterministic rewards {A: 1, B: 0}.
func bandit() *mockState {
	return branch("root", 1, []game.Action{"A", "B"},
		leaf("a", map[game.PlayerID]float64{1: 1}),
		leaf("b", map[game.PlayerID]float64{1: 0}),
	)
}

// twoPly is a zero-sum game: player 1 picks L or R, then player 2 picks x or y.
// Player 1 wins only after L then y.
func twoPly() *mockState {
	win1 := map[game.PlayerID]float64{1: 1, 2: -1}
	win2 := map[game.PlayerID]float64{1: -1, 2: 1}
	return branch("root", 1, []game.Action{"L", "R"},
		branch("L", 2, []game.Action{"x", "y"}, leaf("Lx", win2), leaf("Ly", win1)),
		branch("R", 2, []game.Action{"x", "y"}, leaf("Rx", win2), leaf("Ry", win2)),
	)
}

// wide is a single-step process with n actions paying nothing.
func wide(n int) *mockState {
	actions := make([]game.Action, n)
	children := make([]*mockState, n)
	for i := range actions {
		actions[i] = i
		children[i] = leaf(fmt.Sprint(i), nil)
	}
	return branch("root", 1, actions, children...)
}

// requireConsistent checks visit conservation and that no virtual loss is left behind in the
// tree under the current root.
func requireConsistent(t *testing.T, m *MCTS, freshRoot bool) {
	t.Helper()

	stack := []Handle{m.root}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := m.store.get(h)

		sum := 0
		for _, child := range n.children {
			c := m.store.get(child)
			require.LessOrEqual(t, c.Visits(), n.Visits(), "Child should not have more visits than its parent")
			sum += c.Visits()
			stack = append(stack, child)
		}
		require.Zero(t, n.vloss.Load(), "Virtual loss should be reversed")
		require.Equal(t, len(n.children), len(n.actions))

		switch {
		case h == m.root && freshRoot:
			require.Equal(t, n.Visits(), sum, "Every root visit should pass to a child")
		case h == m.root:
			require.LessOrEqual(t, sum, n.Visits())
		case n.terminal:
			require.Zero(t, sum)
		default:
			require.Equal(t, n.Visits()-1, sum, "Every visit but the first should pass to a child")
		}
	}
}
