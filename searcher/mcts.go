package searcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"

	"treesearch/experiments/metrics"
	"treesearch/game"
	"treesearch/utils"
)

type Option func(mcts *MCTS)

// ExpansionPolicy chooses which untried action a node expands next.
type ExpansionPolicy int

const (
	// ExpandFirst expands untried actions in the order the state listed them, the default.
	ExpandFirst ExpansionPolicy = iota
	// ExpandRandom expands a uniformly random untried action.
	ExpandRandom
)

type StopReason int

const (
	StopNone StopReason = iota
	StopIterations
	StopDeadline
	StopCanceled
	StopTerminal
	StopSingleAction
	StopError
)

func (r StopReason) String() string {
	switch r {
	case StopIterations:
		return "iterations"
	case StopDeadline:
		return "deadline"
	case StopCanceled:
		return "canceled"
	case StopTerminal:
		return "terminal"
	case StopSingleAction:
		return "single-action"
	case StopError:
		return "error"
	default:
		return "none"
	}
}

type ChildStats struct {
	Action game.Action
	Visits int
	Mean   float64 // from the root player's perspective, 0 when unvisited
}

type Result struct {
	Action     game.Action // nil when Terminal
	Terminal   bool
	Children   []ChildStats
	RootVisits int
	Iterations int
	Elapsed    time.Duration
	TreeReused bool
	StopReason StopReason
	Metric     metrics.SearchMetric
}

// Policy returns the visit share of each root child.
func (r Result) Policy() map[game.Action]float64 {
	total := 0
	for _, child := range r.Children {
		total += child.Visits
	}
	policy := make(map[game.Action]float64, len(r.Children))
	for _, child := range r.Children {
		if total > 0 {
			policy[child.Action] = float64(child.Visits) / float64(total)
		} else {
			policy[child.Action] = 0
		}
	}
	return policy
}

// MCTS is a tree-parallel Monte Carlo tree search over any game.State. It keeps its tree
// between searches so that Advance can carry the subtree of a played action over to the
// next search.
type MCTS struct {
	mu sync.Mutex // serializes Search, Advance and Reset

	exploration float64
	iterations  int
	duration    time.Duration
	workers     int
	virtualLoss int
	lossValue   float64
	expansion   ExpansionPolicy
	final       FinalPolicy
	rollout     rollout
	seed        uint64
	seeded      bool
	reuse       bool
	metrics     metrics.Collector
	logger      zerolog.Logger

	store *store
	root  Handle
	rngs  []*rand.Rand

	// rootState is the state a fresh root was built from. advanced marks a root reached by
	// Advance, whose state only the caller knows.
	rootState game.State
	advanced  bool
}

func WithExploration(c float64) Option {
	return func(m *MCTS) {
		m.exploration = c
	}
}

// WithIterations bounds a search by completed iterations.
func WithIterations(iterations int) Option {
	return func(m *MCTS) {
		m.iterations = iterations
	}
}

// WithDuration bounds a search by wall-clock time, checked between iterations.
func WithDuration(duration time.Duration) Option {
	return func(m *MCTS) {
		m.duration = duration
	}
}

// WithCutoff bounds rollouts to depth actions. 0 plays rollouts to the end.
func WithCutoff(depth int) Option {
	return func(m *MCTS) {
		m.rollout.cutoff = depth
	}
}

// WithEvaluationFn scores states where rollouts are cut off, and leaves under RolloutStaticEval.
func WithEvaluationFn(evaluate game.Evaluate) Option {
	return func(m *MCTS) {
		m.rollout.evaluate = evaluate
	}
}

func WithRollout(policy RolloutPolicy) Option {
	return func(m *MCTS) {
		m.rollout.policy = policy
	}
}

// WithActionPicker plays rollouts with pick instead of uniformly random actions.
func WithActionPicker(pick ActionPicker) Option {
	return func(m *MCTS) {
		m.rollout.policy = RolloutHeuristic
		m.rollout.pick = pick
	}
}

// WithDefaultValue sets the value of rollouts cut off without an evaluation function.
func WithDefaultValue(value float64) Option {
	return func(m *MCTS) {
		m.rollout.fallback = value
	}
}

func WithExpansion(policy ExpansionPolicy) Option {
	return func(m *MCTS) {
		m.expansion = policy
	}
}

func WithFinalSelection(policy FinalPolicy) Option {
	return func(m *MCTS) {
		m.final = policy
	}
}

// WithParallelism runs workers goroutines on the shared tree.
func WithParallelism(workers int) Option {
	return func(m *MCTS) {
		m.workers = workers
	}
}

// WithVirtualLoss sets how many losses of lossValue a worker adds to each node it descends
// through. The default is one LOSS per node when parallel and none otherwise.
func WithVirtualLoss(count int, lossValue float64) Option {
	return func(m *MCTS) {
		m.virtualLoss = count
		m.lossValue = lossValue
	}
}

// WithSeed makes single-worker searches reproducible. Worker i draws from seed+i.
func WithSeed(seed uint64) Option {
	return func(m *MCTS) {
		m.seed = seed
		m.seeded = true
	}
}

// WithReuse toggles keeping the tree across searches.
func WithReuse(reuse bool) Option {
	return func(m *MCTS) {
		m.reuse = reuse
	}
}

func WithMetrics() Option {
	return func(m *MCTS) {
		m.metrics = metrics.NewCollector()
	}
}

func WithCollector(collector metrics.Collector) Option {
	return func(m *MCTS) {
		if collector != nil {
			m.metrics = collector
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *MCTS) {
		m.logger = logger
	}
}

func NewMCTS(options ...Option) (*MCTS, error) {
	m := &MCTS{ // Default values
		exploration: DefaultExploration,
		workers:     1,
		virtualLoss: -1,
		lossValue:   LOSS,
		reuse:       true,
		metrics:     metrics.NewDummyCollector(),
		logger:      log.Logger,
		store:       newStore(),
		root:        nilHandle,
	}
	for _, option := range options {
		option(m)
	}

	if m.iterations < 0 || m.duration < 0 {
		return nil, fmt.Errorf("negative budget (iterations=%d, duration=%s): %w", m.iterations, m.duration, ErrBudgetMisconfigured)
	}
	if m.iterations == 0 && m.duration == 0 {
		return nil, fmt.Errorf("must specify search iterations or duration: %w", ErrBudgetMisconfigured)
	}
	if m.workers < 1 {
		return nil, fmt.Errorf("parallelism %d: %w", m.workers, ErrInvalidOption)
	}
	if m.exploration < 0 || math.IsNaN(m.exploration) || math.IsInf(m.exploration, 0) {
		return nil, fmt.Errorf("exploration constant %v: %w", m.exploration, ErrInvalidOption)
	}
	if m.rollout.cutoff < 0 {
		return nil, fmt.Errorf("rollout cutoff %d: %w", m.rollout.cutoff, ErrInvalidOption)
	}
	if m.rollout.policy == RolloutStaticEval && m.rollout.evaluate == nil {
		return nil, fmt.Errorf("static evaluation rollout without an evaluation function: %w", ErrInvalidOption)
	}
	if m.rollout.policy == RolloutHeuristic && m.rollout.pick == nil {
		return nil, fmt.Errorf("heuristic rollout without an action picker: %w", ErrInvalidOption)
	}
	if m.virtualLoss < 0 {
		m.virtualLoss = 0
		if m.workers > 1 {
			m.virtualLoss = 1
		}
	}
	if !m.seeded {
		m.seed = uint64(time.Now().UnixNano())
	}
	m.reseed()
	return m, nil
}

func (m *MCTS) reseed() {
	m.rngs = make([]*rand.Rand, m.workers)
	for i := range m.rngs {
		m.rngs[i] = rand.New(rand.NewSource(m.seed + uint64(i)))
	}
}

// Search runs iterations from state until the budget is spent or ctx is done, and
// recommends an action. The tree from previous searches is reused when it is rooted at state.
// A terminal state yields ErrNoLegalActions with Result.Terminal set. An adapter failure
// aborts the search with an *AdapterError.
func (m *MCTS) Search(ctx context.Context, state game.State) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	if isTerminal(state) {
		return Result{Terminal: true, StopReason: StopTerminal}, ErrNoLegalActions
	}
	legal := state.LegalActions()

	reused := m.findRoot(state)
	m.metrics.Start(m.workers, m.rollout.cutoff, m.rollout.policy.String())
	m.metrics.SetTreeReused(reused)

	var reason StopReason
	var iterations int
	var err error
	if len(legal) == 1 {
		reason = StopSingleAction
	} else {
		m.logger.Debug().Msgf("searching with %d workers, %d iterations, %s duration, tree reused: %v", m.workers, m.iterations, m.duration, reused)
		reason, iterations, err = m.run(ctx, state, start)
	}

	m.metrics.SetTreeSize(m.store.len())
	result := m.result(start, reason, iterations, reused)
	result.Metric = m.metrics.Complete()
	if len(legal) == 1 {
		result.Action = legal[0]
	}

	if err != nil {
		m.logger.Warn().Err(err).Msgf("search aborted after %d iterations", iterations)
		return result, err
	}
	if result.Action == nil {
		return result, fmt.Errorf("search canceled before any iteration completed: %w", context.Cause(ctx))
	}

	m.logger.Debug().Msgf("search stopped (%s) after %d iterations in %s, recommending %v", reason, iterations, result.Elapsed, result.Action)
	return result, nil
}

func (m *MCTS) run(ctx context.Context, state game.State, start time.Time) (StopReason, int, error) {
	var deadline time.Time
	if m.duration > 0 {
		deadline = start.Add(m.duration)
	}

	var remaining atomic.Int64
	remaining.Store(int64(m.iterations))
	var completed atomic.Int64
	var reason atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < m.workers; i++ {
		rng := m.rngs[i]
		g.Go(func() error {
			for {
				if r := m.exhausted(gctx, deadline, &remaining, &completed); r != StopNone {
					reason.CompareAndSwap(int32(StopNone), int32(r))
					return nil
				}
				if err := m.iterate(state, rng); err != nil {
					reason.CompareAndSwap(int32(StopNone), int32(StopError))
					return err
				}
				completed.Add(1)
				m.metrics.AddIteration()
			}
		})
	}

	err := g.Wait()
	return StopReason(reason.Load()), int(completed.Load()), err
}

// exhausted checks the budget at an iteration boundary. An iteration budget is claimed one
// ticket at a time so that workers never overshoot it. A deadline lets at least one iteration
// complete so that there is something to recommend.
func (m *MCTS) exhausted(ctx context.Context, deadline time.Time, remaining, completed *atomic.Int64) StopReason {
	if ctx.Err() != nil {
		return StopCanceled
	}
	if !deadline.IsZero() && completed.Load() > 0 && !time.Now().Before(deadline) {
		return StopDeadline
	}
	if m.iterations > 0 && remaining.Add(-1) < 0 {
		return StopIterations
	}
	return StopNone
}

// iterate runs one selection, expansion, rollout and backpropagation cycle from the root.
func (m *MCTS) iterate(state game.State, rng *rand.Rand) error {
	loss := int64(m.virtualLoss)
	h := m.root
	depth := 0
	for !m.store.get(h).terminal {
		child, action, expandable := m.store.selectChild(h, m.exploration, m.lossValue)
		if !expandable && child == nilHandle {
			break
		}
		if expandable {
			next, nextState, err := m.store.expand(h, state, depth, m.pickUntried(rng), loss)
			if errors.Is(err, ErrExpansionExhausted) { // Another worker took the last action
				continue
			}
			if err != nil {
				m.store.abandon(h, loss)
				return err
			}
			m.metrics.AddExpansion()
			h, state = next, nextState
			depth++
			break
		}

		m.store.get(child).applyLoss(loss)
		next, err := state.Play(action)
		if err != nil {
			m.store.abandon(child, loss)
			return &AdapterError{Action: action, Depth: depth, Err: err}
		}
		h, state = child, next
		depth++
	}

	result, full, err := m.rollout.run(state, depth, rng)
	if err != nil {
		m.store.abandon(h, loss)
		return err
	}
	if full {
		m.metrics.AddFullPlayout()
	}
	m.store.backup(h, result, loss)
	return nil
}

func (m *MCTS) pickUntried(rng *rand.Rand) func(n int) int {
	if m.expansion == ExpandRandom {
		return rng.Intn
	}
	return func(int) int { return 0 }
}

// findRoot keeps the current root if it matches state and builds a new tree otherwise.
// A root matches on player and legal action count, and then on hash for Hasher states. Other
// states match only the root Advance moved to, or the very state the root was built from.
func (m *MCTS) findRoot(state game.State) bool {
	if m.reuse && m.root != nilHandle {
		root := m.store.get(m.root)
		matches := root.player == state.Player() &&
			len(root.untried)+len(root.actions) == len(state.LegalActions())
		if matches {
			hasher, ok := state.(game.Hasher)
			switch {
			case ok && root.hashed:
				if hash := hasher.Hash(); hash != root.hash {
					m.logger.Warn().Msgf("root's state hash %d does not match searched state hash %d", root.hash, hash)
					matches = false
				}
			case m.advanced:
			case !sameState(m.rootState, state):
				m.logger.Debug().Msg("searched state cannot be matched with the root, rebuilding the tree")
				matches = false
			}
		}
		if matches {
			m.rootState, m.advanced = state, false
			return true
		}
	}

	m.store.reset()
	h, n := m.store.alloc()
	n.init(nilHandle, nil, state.Player(), state)
	m.root = h
	m.rootState = state
	m.advanced = false
	return false
}

// sameState reports whether a and b are equal comparable values of the same type, which for
// pointer states means the same pointer.
func sameState(a, b game.State) bool {
	if a == nil || b == nil || reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if !reflect.ValueOf(a).Comparable() || !reflect.ValueOf(b).Comparable() {
		return false
	}
	return a == b
}

// Advance moves the root to the child reached by action, dropping its siblings. Without such
// a child the tree is discarded. The store is compacted once the retained subtree is less than
// half of it.
func (m *MCTS) Advance(action game.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.root == nilHandle {
		return
	}

	root := m.store.get(m.root)
	i := utils.FindIndex(root.actions, action)
	if i < 0 {
		m.logger.Debug().Msgf("action %v was not expanded, discarding the tree", action)
		m.reset()
		return
	}

	child := root.children[i]
	m.store.get(child).parent = nilHandle
	m.root = child
	m.rootState = nil
	m.advanced = true

	retained := m.store.subtreeSize(child)
	if retained*2 < m.store.len() {
		m.store, m.root = m.store.compact(child)
	}
	m.logger.Debug().Msgf("advanced by %v, retained %d nodes", action, retained)
}

// Reset discards the tree and restarts the random streams from the seed.
func (m *MCTS) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reset()
	m.reseed()
}

func (m *MCTS) reset() {
	m.store.reset()
	m.root = nilHandle
	m.rootState = nil
	m.advanced = false
}

// Size is the number of nodes held by the store, including unreachable ones awaiting compaction.
func (m *MCTS) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.store.len()
}

func (m *MCTS) result(start time.Time, reason StopReason, iterations int, reused bool) Result {
	root := m.store.get(m.root)
	result := Result{
		RootVisits: root.Visits(),
		Iterations: iterations,
		Elapsed:    time.Since(start),
		TreeReused: reused,
		StopReason: reason,
	}

	root.mu.RLock()
	result.Children = make([]ChildStats, len(root.children))
	for i, h := range root.children {
		child := m.store.get(h)
		result.Children[i] = ChildStats{
			Action: root.actions[i],
			Visits: child.Visits(),
			Mean:   child.Mean(),
		}
	}
	root.mu.RUnlock()

	if best := m.store.bestChild(m.root, m.final); best >= 0 && result.Children[best].Visits > 0 {
		result.Action = result.Children[best].Action
	}
	return result
}
