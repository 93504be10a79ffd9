package experiments

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"treesearch/agent"
	"treesearch/config"
	"treesearch/engine"
	"treesearch/experiments/metrics"
	"treesearch/game"
	"treesearch/game/tictactoe"
	"treesearch/searcher"
)

const (
	KindMCTS   = "mcts"
	KindRandom = "random"
)

type Options struct {
	Games    int    // Per match up
	Parallel int    // Games played concurrently
	OutDir   string // CSV records are skipped when empty
	// Prometheus, when set, receives the metrics of every search in addition to the CSV records.
	Prometheus *metrics.Prometheus
	// Search is the base config of every MCTS agent, config.Default() when zero. Agent configs
	// override its budget, workers, cutoff and rollout, and offset its seed.
	Search config.Config
}

// Summary tallies the games of one match up from agent1's point of view.
type Summary struct {
	Agent1, Agent2 int
	Wins, Losses   int
	Draws          int
}

func (s Summary) String() string {
	return fmt.Sprintf("agent %d vs agent %d: %d wins, %d draws, %d losses", s.Agent1, s.Agent2, s.Wins, s.Draws, s.Losses)
}

type gameResult struct {
	record  metrics.GameRecord
	moves   []metrics.MoveRecord
	outcome int // 1 agent1 won, -1 agent2 won, 0 draw
}

func runExperiment(ctx context.Context, name string, configs []metrics.AgentConfig, matchUps [][2]metrics.AgentConfig, opts Options) ([]Summary, error) {
	if opts.Games <= 0 {
		return nil, fmt.Errorf("experiment %s needs a positive number of games, got %d", name, opts.Games)
	}

	// Run a number of games for each matchup
	count := 0
	summaries := make([]Summary, 0, len(matchUps))
	gameRecords := []metrics.GameRecord{}
	moveRecords := []metrics.MoveRecord{}

	log.Info().Msgf("starting %s experiment...", name)

	for mi, matchup := range matchUps {
		config1 := matchup[0]
		config2 := matchup[1]

		log.Info().Msgf("starting matchup %d of %d between agent1=%+v and agent2=%+v...", mi+1, len(matchUps), config1, config2)

		results := make([]gameResult, opts.Games)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(opts.Parallel, 1))
		for i := 0; i < opts.Games; i++ {
			id := count + i + 1
			g.Go(func() error {
				// Alternate the starting agent
				result, err := runGame(gctx, id, config1, config2, i%2 == 1, opts)
				if err != nil {
					return fmt.Errorf("matchup %d game %d: %w", mi+1, i+1, err)
				}
				results[i] = result
				log.Debug().Msgf("completed matchup %d of %d game %d with outcome %d", mi+1, len(matchUps), i+1, result.outcome)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return summaries, err
		}
		count += opts.Games

		summary := Summary{Agent1: config1.ID, Agent2: config2.ID}
		for _, result := range results {
			switch result.outcome {
			case 1:
				summary.Wins++
			case -1:
				summary.Losses++
			default:
				summary.Draws++
			}
			gameRecords = append(gameRecords, result.record)
			moveRecords = append(moveRecords, result.moves...)
		}
		summaries = append(summaries, summary)
		log.Info().Msgf("completed matchup %d of %d: %s", mi+1, len(matchUps), summary)
	}

	log.Info().Msgf("completed %s experiment", name)

	if opts.OutDir == "" {
		return summaries, nil
	}
	return summaries, store(name, opts.OutDir, configs, gameRecords, moveRecords)
}

// store writes experiment metadata and results
func store(name, outDir string, configs []metrics.AgentConfig, gameRecords []metrics.GameRecord, moveRecords []metrics.MoveRecord) error {
	writer, err := metrics.NewWriter(outDir, name)
	if err != nil {
		return fmt.Errorf("failed to create experiment writer: %w", err)
	}

	err = writer.WriteAgentConfigs(configs)
	if err != nil {
		return fmt.Errorf("failed to store agent configs: %w", err)
	}
	err = writer.WriteGameRecords(gameRecords)
	if err != nil {
		return fmt.Errorf("failed to write game records: %w", err)
	}
	err = writer.WriteMoveRecords(moveRecords)
	if err != nil {
		return fmt.Errorf("failed to write move records: %w", err)
	}
	log.Info().Msgf("stored experiment records in %s", writer.Dir())
	return nil
}

// runGame plays one tic-tac-toe game, agent1 playing X unless swapped
func runGame(ctx context.Context, id int, config1, config2 metrics.AgentConfig, swap bool, opts Options) (gameResult, error) {
	agent1, err := createAgent(config1, uint64(id), opts)
	if err != nil {
		return gameResult{}, err
	}
	agent2, err := createAgent(config2, uint64(id), opts)
	if err != nil {
		return gameResult{}, err
	}

	player1, player2 := tictactoe.X, tictactoe.O
	if swap {
		player1, player2 = player2, player1
	}
	e := engine.NewLocalEngine(tictactoe.NewGameState(), map[game.PlayerID]agent.Agent{player1: agent1, player2: agent2})

	gameMetric, moveMetrics, err := e.Run(ctx)
	if err != nil {
		return gameResult{}, err
	}

	result := gameResult{
		record: metrics.GameRecord{
			ID:         id,
			Agent1:     config1.ID,
			Agent2:     config2.ID,
			GameMetric: gameMetric,
		},
	}
	switch gameMetric.Winner {
	case player1:
		result.outcome = 1
	case player2:
		result.outcome = -1
	}
	for _, mm := range moveMetrics {
		result.moves = append(result.moves, metrics.MoveRecord{Game: id, MoveMetric: mm})
	}
	return result, nil
}

func createAgent(agentConfig metrics.AgentConfig, gameID uint64, opts Options) (agent.Agent, error) {
	switch agentConfig.Kind {
	case KindRandom:
		return agent.NewRandomAgent(agentConfig.Seed + gameID), nil
	case KindMCTS, "":
		mcts, err := createMCTS(agentConfig, gameID, opts)
		if err != nil {
			return nil, err
		}
		return agent.NewEvaluationAgent(mcts), nil
	default:
		return nil, fmt.Errorf("unknown agent kind %q", agentConfig.Kind)
	}
}

func createMCTS(agentConfig metrics.AgentConfig, gameID uint64, opts Options) (*searcher.MCTS, error) {
	cfg := opts.Search
	if cfg == (config.Config{}) {
		cfg = config.Default()
	}

	// A budget on either axis replaces the base budget entirely
	if agentConfig.Iterations > 0 || agentConfig.Duration > 0 {
		cfg.Budget = config.BudgetConfig{Iterations: agentConfig.Iterations, Duration: agentConfig.Duration}
	}
	if agentConfig.Workers > 0 {
		cfg.Parallel.Workers = agentConfig.Workers
	}
	if agentConfig.Cutoff > 0 {
		cfg.Rollout.MaxDepth = agentConfig.Cutoff
	}
	if agentConfig.Rollout != "" {
		cfg.Rollout.Policy = agentConfig.Rollout
	}
	var seed uint64
	if cfg.Algorithm.Seed != nil {
		seed = *cfg.Algorithm.Seed
	}
	seed += agentConfig.Seed + gameID*1000
	cfg.Algorithm.Seed = &seed

	options, err := cfg.Options(tictactoe.EvaluateLines, tictactoe.WinningMove)
	if err != nil {
		return nil, fmt.Errorf("agent %d: %w", agentConfig.ID, err)
	}
	options = append(options, searcher.WithLogger(log.Logger))

	if opts.Prometheus != nil {
		options = append(options, searcher.WithCollector(opts.Prometheus.Collector()))
	} else {
		options = append(options, searcher.WithMetrics())
	}
	return searcher.NewMCTS(options...)
}
