package metrics

import (
	"sync/atomic"
	"time"

	"treesearch/game"
)

type SearchMetric struct {
	Workers      int
	Duration     time.Duration
	Iterations   int
	Cutoff       int
	Rollout      string
	FullPlayouts int
	Expansions   int
	TreeSize     int
	IsTreeReused bool
}

type MoveMetric struct {
	Step   int
	Player game.PlayerID
	SearchMetric
}

type GameMetric struct {
	StartingPlayer game.PlayerID
	Winner         game.PlayerID // 0 for a draw or an unfinished game
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	TotalMoves     int
}

// Collector accumulates the metric of one search at a time. Add methods are called
// concurrently by search workers.
type Collector interface {
	Start(workers, cutoff int, rollout string)
	SetTreeReused(value bool)
	SetTreeSize(size int)
	AddFullPlayout()
	AddExpansion()
	AddIteration()
	Complete() SearchMetric
}

type collector struct {
	workers      int
	cutoff       int
	rollout      string
	startTime    time.Time
	iterations   atomic.Int64
	fullPlayouts atomic.Int64
	expansions   atomic.Int64
	treeSize     atomic.Int64
	isTreeReused atomic.Bool
}

func NewCollector() Collector {
	return &collector{}
}

func (m *collector) SetTreeReused(value bool) {
	m.isTreeReused.Store(value)
}

func (m *collector) SetTreeSize(size int) {
	m.treeSize.Store(int64(size))
}

func (m *collector) Start(workers, cutoff int, rollout string) {
	m.startTime = time.Now()
	m.workers = workers
	m.cutoff = cutoff
	m.rollout = rollout
	m.iterations.Store(0)
	m.fullPlayouts.Store(0)
	m.expansions.Store(0)
}

func (m *collector) AddFullPlayout() {
	m.fullPlayouts.Add(1)
}

func (m *collector) AddExpansion() {
	m.expansions.Add(1)
}

func (m *collector) AddIteration() {
	m.iterations.Add(1)
}

func (m *collector) Complete() SearchMetric {
	return SearchMetric{
		Workers:      m.workers,
		Duration:     time.Since(m.startTime),
		Iterations:   int(m.iterations.Load()),
		FullPlayouts: int(m.fullPlayouts.Load()),
		Expansions:   int(m.expansions.Load()),
		TreeSize:     int(m.treeSize.Load()),
		Cutoff:       m.cutoff,
		Rollout:      m.rollout,
		IsTreeReused: m.isTreeReused.Load(),
	}
}

type dummyCollector struct{}

func NewDummyCollector() Collector {
	return &dummyCollector{}
}

func (m *dummyCollector) Start(workers, cutoff int, rollout string) {}
func (m *dummyCollector) SetTreeReused(value bool)                  {}
func (m *dummyCollector) SetTreeSize(size int)                      {}
func (m *dummyCollector) AddFullPlayout()                           {}
func (m *dummyCollector) AddExpansion()                             {}
func (m *dummyCollector) AddIteration()                             {}
func (m *dummyCollector) Complete() SearchMetric                    { return SearchMetric{} }
