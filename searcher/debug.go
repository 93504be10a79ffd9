package searcher

import (
	"fmt"
	"io"
	"strings"

	"treesearch/game"
)

// PrincipalVariation follows the most visited child from the root for as long as it has been visited.
func (m *MCTS) PrincipalVariation() []game.Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	var line []game.Action
	if m.root == nilHandle {
		return line
	}

	h := m.root
	for {
		best := m.store.bestChild(h, MostVisited)
		if best < 0 {
			return line
		}
		n := m.store.get(h)
		n.mu.RLock()
		action, child := n.actions[best], n.children[best]
		n.mu.RUnlock()
		if m.store.get(child).Visits() == 0 {
			return line
		}
		line = append(line, action)
		h = child
	}
}

// Dump writes the tree down to maxDepth plies below the root, one node per line, children
// indented under their parent. A negative maxDepth writes the whole tree.
func (m *MCTS) Dump(w io.Writer, maxDepth int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.root == nilHandle {
		_, err := fmt.Fprintln(w, "<empty tree>")
		return err
	}

	type frame struct {
		h     Handle
		depth int
	}
	stack := []frame{{m.root, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := m.store.get(f.h)
		n.mu.RLock()
		label := "root"
		if f.depth > 0 {
			label = fmt.Sprint(n.action)
		}
		_, err := fmt.Fprintf(w, "%s%s N=%d W=%.3f mean=%.3f player=%d untried=%d terminal=%v\n",
			strings.Repeat("  ", f.depth), label, n.Visits(), n.Value(), n.Mean(), n.player, len(n.untried), n.terminal)
		if err != nil {
			n.mu.RUnlock()
			return err
		}
		if maxDepth < 0 || f.depth < maxDepth {
			// Push in reverse so that children print in expansion order
			for i := len(n.children) - 1; i >= 0; i-- {
				stack = append(stack, frame{n.children[i], f.depth + 1})
			}
		}
		n.mu.RUnlock()
	}
	return nil
}
