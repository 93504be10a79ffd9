package searcher

import (
	"math"

	"treesearch/game"
)

// Hyperparameters for MCTS

const DefaultExploration = math.Sqrt2 // Exploration constant C

const WIN = 1.0   // Reward for winning outcome
const LOSS = -WIN // Reward for loss outcome (negate from opponent perspective)

// ucb1 = w/n + c*sqrt(ln(N)/n), +Inf for an unvisited child
func ucb1(value, visits, lnParent, c float64) float64 {
	if visits <= 0 {
		return math.Inf(1)
	}
	return value/visits + c*math.Sqrt(lnParent/visits)
}

// selectChild picks the child of the node at h with the highest UCB1 score under virtual
// loss, the first one on ties. It picks nothing and reports expandable while the node has
// untried actions, since those score +Inf ahead of every child.
func (s *store) selectChild(h Handle, c, lossValue float64) (child Handle, action game.Action, expandable bool) {
	n := s.get(h)
	n.mu.RLock()
	defer n.mu.RUnlock()

	if len(n.untried) > 0 {
		return nilHandle, nil, true
	}
	if len(n.children) == 0 {
		return nilHandle, nil, false
	}

	parentVisits, _ := n.effective(lossValue)
	lnParent := math.Log(math.Max(parentVisits, 1))

	best := -1
	bestScore := math.Inf(-1)
	for i, ch := range n.children {
		visits, value := s.get(ch).effective(lossValue)
		score := ucb1(value, visits, lnParent, c)
		if score == math.Inf(1) {
			best = i
			break
		}
		if best < 0 || score > bestScore {
			bestScore = score
			best = i
		}
	}
	return n.children[best], n.actions[best], false
}

// FinalPolicy picks the recommended action among the root's children once the budget is spent.
type FinalPolicy int

const (
	// MostVisited picks the robust child, the default.
	MostVisited FinalPolicy = iota
	// HighestValue picks the visited child with the highest mean value.
	HighestValue
	// GreedyUCB picks by UCB1 with no exploration term: unvisited children first, then highest mean.
	GreedyUCB
)

func (p FinalPolicy) String() string {
	switch p {
	case MostVisited:
		return "most-visited"
	case HighestValue:
		return "highest-value"
	case GreedyUCB:
		return "greedy-ucb"
	default:
		return "unknown"
	}
}

// ParseFinalPolicy is the inverse of FinalPolicy.String.
func ParseFinalPolicy(s string) (FinalPolicy, bool) {
	for _, p := range []FinalPolicy{MostVisited, HighestValue, GreedyUCB} {
		if p.String() == s {
			return p, true
		}
	}
	return MostVisited, false
}

// bestChild returns the index of the recommended child of the node at h, or -1 without
// children. Ties go to the lowest index.
func (s *store) bestChild(h Handle, policy FinalPolicy) int {
	n := s.get(h)
	n.mu.RLock()
	defer n.mu.RUnlock()

	best := -1
	bestScore := math.Inf(-1)
	for i, ch := range n.children {
		child := s.get(ch)
		visits := child.Visits()

		var score float64
		switch policy {
		case HighestValue:
			if visits == 0 {
				continue
			}
			score = child.Mean()
		case GreedyUCB:
			score = ucb1(child.Value(), float64(visits), 0, 0)
		default:
			score = float64(visits)
		}

		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 && len(n.children) > 0 { // No visited child to rank by value
		best = 0
	}
	return best
}
