package experiments

import (
	"context"
	"fmt"
	"sort"
	"time"

	"treesearch/experiments/metrics"
	"treesearch/meta"
)

// Budget is the search budget shared by the MCTS agents of an experiment.
type Budget struct {
	Iterations int
	Duration   time.Duration
}

func (b Budget) orDefault() Budget {
	if b.Iterations <= 0 && b.Duration <= 0 {
		return Budget{Iterations: meta.ITERATIONS}
	}
	return b
}

type Experiment func(ctx context.Context, budget Budget, opts Options) ([]Summary, error)

var registry = map[string]Experiment{
	"arena":           RunArenaExperiment,
	"parallelization": RunParallelizationExperiment,
	"cutoff":          RunCutoffExperiment,
	"rollout":         RunRolloutExperiment,
	"throughput":      RunThroughputExperiment,
}

// Names lists the registered experiments in order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Lookup(name string) (Experiment, error) {
	experiment, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown experiment %q, expected one of %v", name, Names())
	}
	return experiment, nil
}

// RunArenaExperiment pits a sequential MCTS agent against the random baseline.
func RunArenaExperiment(ctx context.Context, budget Budget, opts Options) ([]Summary, error) {
	budget = budget.orDefault()
	random := metrics.AgentConfig{ID: 0, Kind: KindRandom}
	mcts := metrics.AgentConfig{ID: 1, Kind: KindMCTS, Workers: 1, Iterations: budget.Iterations, Duration: budget.Duration}

	return runExperiment(ctx, "arena", []metrics.AgentConfig{random, mcts}, [][2]metrics.AgentConfig{{mcts, random}}, opts)
}

// RunParallelizationExperiment pairs agents with more workers against the baseline sequential agent.
func RunParallelizationExperiment(ctx context.Context, budget Budget, opts Options) ([]Summary, error) {
	budget = budget.orDefault()
	baseline := metrics.AgentConfig{ID: 0, Kind: KindMCTS, Workers: 1, Iterations: budget.Iterations, Duration: budget.Duration}
	configs := []metrics.AgentConfig{baseline}
	matchUps := [][2]metrics.AgentConfig{}
	for i, workers := range []int{2, 4, meta.WORKERS} {
		config := baseline
		config.ID = i + 1
		config.Workers = workers
		configs = append(configs, config)
		matchUps = append(matchUps, [2]metrics.AgentConfig{config, baseline})
	}

	return runExperiment(ctx, "parallelization", configs, matchUps, opts)
}

// RunCutoffExperiment pairs agents with evaluated rollout cutoffs against full playouts.
func RunCutoffExperiment(ctx context.Context, budget Budget, opts Options) ([]Summary, error) {
	budget = budget.orDefault()
	baseline := metrics.AgentConfig{ID: 0, Kind: KindMCTS, Workers: 1, Iterations: budget.Iterations, Duration: budget.Duration} // Without cutoff (full playout)
	configs := []metrics.AgentConfig{baseline}
	matchUps := [][2]metrics.AgentConfig{}
	for i, cutoff := range []int{1, 2, 4} {
		config := baseline
		config.ID = i + 1
		config.Cutoff = cutoff
		configs = append(configs, config)
		matchUps = append(matchUps, [2]metrics.AgentConfig{config, baseline})
	}

	return runExperiment(ctx, "cutoff", configs, matchUps, opts)
}

// RunRolloutExperiment pairs the heuristic and static evaluation rollouts against random playouts.
func RunRolloutExperiment(ctx context.Context, budget Budget, opts Options) ([]Summary, error) {
	budget = budget.orDefault()
	baseline := metrics.AgentConfig{ID: 0, Kind: KindMCTS, Workers: 1, Iterations: budget.Iterations, Duration: budget.Duration, Rollout: "random"}
	heuristic := baseline
	heuristic.ID, heuristic.Rollout = 1, "heuristic"
	static := baseline
	static.ID, static.Rollout = 2, "static-eval"

	configs := []metrics.AgentConfig{baseline, heuristic, static}
	matchUps := [][2]metrics.AgentConfig{{heuristic, baseline}, {static, baseline}}
	return runExperiment(ctx, "rollout", configs, matchUps, opts)
}

// RunThroughputExperiment uses the same config for both players in each game for the same
// playing strength and similar game length, to compare iterations per second across workers.
func RunThroughputExperiment(ctx context.Context, budget Budget, opts Options) ([]Summary, error) {
	if budget.Duration <= 0 {
		budget = Budget{Duration: meta.DURATION}
	}
	configs := []metrics.AgentConfig{}
	matchUps := [][2]metrics.AgentConfig{}
	for i, workers := range []int{1, 2, 4, meta.WORKERS} {
		config := metrics.AgentConfig{ID: i + 1, Kind: KindMCTS, Workers: workers, Duration: budget.Duration}
		configs = append(configs, config)
		matchUps = append(matchUps, [2]metrics.AgentConfig{config, config})
	}

	return runExperiment(ctx, "throughput", configs, matchUps, opts)
}
