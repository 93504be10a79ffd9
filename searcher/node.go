package searcher

import (
	"math"
	"sync"
	"sync/atomic"

	"treesearch/game"
)

// node is one reached state. Structural fields are guarded by mu, statistics are atomics.
// The state itself is not stored: descents replay actions from the root state.
type node struct {
	mu sync.RWMutex

	parent   Handle
	action   game.Action   // incoming action, nil at a fresh root
	mover    game.PlayerID // player who chose the incoming action; values are from its perspective
	player   game.PlayerID // player to move
	terminal bool
	hash     game.StateHash
	hashed   bool

	untried  []game.Action
	actions  []game.Action // actions[i] leads to children[i]
	children []Handle

	visits atomic.Int64
	value  atomic.Uint64 // float64 bits
	vloss  atomic.Int64
}

// init describes state reached from parent by action. A fresh root is given its own player
// to move as mover.
func (n *node) init(parent Handle, action game.Action, mover game.PlayerID, state game.State) {
	n.parent = parent
	n.action = action
	n.mover = mover
	n.player = state.Player()
	if hasher, ok := state.(game.Hasher); ok {
		n.hash = hasher.Hash()
		n.hashed = true
	}

	if !state.Terminal() {
		n.untried = append([]game.Action(nil), state.LegalActions()...)
	}
	n.terminal = len(n.untried) == 0
	n.actions = make([]game.Action, 0, len(n.untried))
	n.children = make([]Handle, 0, len(n.untried))
}

func (n *node) copyFrom(src *node, parent Handle) {
	src.mu.RLock()
	defer src.mu.RUnlock()

	n.parent = parent
	n.action = src.action
	n.mover = src.mover
	n.player = src.player
	n.terminal = src.terminal
	n.hash = src.hash
	n.hashed = src.hashed
	n.untried = append([]game.Action(nil), src.untried...)
	n.actions = append([]game.Action(nil), src.actions...)
	n.children = append([]Handle(nil), src.children...)
	n.visits.Store(src.visits.Load())
	n.value.Store(src.value.Load())
	n.vloss.Store(src.vloss.Load())
}

func (n *node) Visits() int {
	return int(n.visits.Load())
}

func (n *node) Value() float64 {
	return math.Float64frombits(n.value.Load())
}

// Mean is the average value, 0 for an unvisited node.
func (n *node) Mean() float64 {
	visits := n.visits.Load()
	if visits == 0 {
		return 0
	}
	return n.Value() / float64(visits)
}

func (n *node) addValue(delta float64) {
	for {
		old := n.value.Load()
		updated := math.Float64bits(math.Float64frombits(old) + delta)
		if n.value.CompareAndSwap(old, updated) {
			return
		}
	}
}

// effective returns the statistics seen by selection: every unit of virtual loss counts as
// one visit that scored lossValue.
func (n *node) effective(lossValue float64) (visits, value float64) {
	loss := float64(n.vloss.Load())
	return float64(n.visits.Load()) + loss, n.Value() + loss*lossValue
}

func (n *node) applyLoss(units int64) {
	if units > 0 {
		n.vloss.Add(units)
	}
}

func (n *node) reverseLoss(units int64) {
	if units > 0 {
		n.vloss.Add(-units)
	}
}

// expand pops the untried action at pick(len(untried)) from the node at h, applies it to
// state and links a child for the successor. The child carries the given virtual loss before
// it becomes visible. The node lock makes the pop atomic, so each action gets at most one child.
func (s *store) expand(h Handle, state game.State, depth int, pick func(n int) int, loss int64) (Handle, game.State, error) {
	n := s.get(h)
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.terminal || len(n.untried) == 0 {
		return nilHandle, nil, ErrExpansionExhausted
	}

	i := pick(len(n.untried))
	action := n.untried[i]
	next, err := state.Play(action)
	if err != nil {
		return nilHandle, nil, &AdapterError{Action: action, Depth: depth, Err: err}
	}

	child, c := s.alloc()
	c.init(h, action, n.player, next)
	c.applyLoss(loss)

	n.untried = append(n.untried[:i], n.untried[i+1:]...)
	n.actions = append(n.actions, action)
	n.children = append(n.children, child)
	return child, next, nil
}

// backup adds one visit and the outcome, seen by each node's mover, to every node from h up
// to the root, and reverses the virtual loss applied on the way down.
func (s *store) backup(h Handle, result outcome, loss int64) {
	for h != nilHandle {
		n := s.get(h)
		n.visits.Add(1)
		n.addValue(result.For(n.mover))
		if n.parent != nilHandle { // Non-root node
			n.reverseLoss(loss)
		}
		h = n.parent
	}
}

// abandon reverses the virtual loss of an iteration that will not be backed up.
func (s *store) abandon(h Handle, loss int64) {
	for h != nilHandle {
		n := s.get(h)
		if n.parent != nilHandle {
			n.reverseLoss(loss)
		}
		h = n.parent
	}
}

// subtreeSize counts the nodes reachable from h, h included.
func (s *store) subtreeSize(h Handle) int {
	size := 0
	stack := []Handle{h}
	for len(stack) > 0 {
		n := s.get(stack[len(stack)-1])
		stack = stack[:len(stack)-1]
		size++

		n.mu.RLock()
		stack = append(stack, n.children...)
		n.mu.RUnlock()
	}
	return size
}
