package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"treesearch/agent"
	"treesearch/config"
	"treesearch/engine"
	"treesearch/experiments"
	"treesearch/experiments/metrics"
	"treesearch/game"
	"treesearch/game/tictactoe"
	"treesearch/meta"
	"treesearch/searcher"
)

var (
	configPath string
	dumpDepth  int

	humanPlays string

	games       int
	parallel    int
	outDir      string
	iterations  int
	duration    time.Duration
	metricsAddr string
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "treesearch",
		Short:         "Monte Carlo tree search over tic-tac-toe",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML or JSON search config (TREESEARCH_* env overrides it)")

	search := &cobra.Command{
		Use:   "search BOARD",
		Short: "Search a position given as rows of X, O and _ and print the recommendation",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	search.Flags().IntVar(&dumpDepth, "dump", 1, "depth of the printed search tree, 0 to skip it")

	play := &cobra.Command{
		Use:   "play",
		Short: "Play against the search on stdin, moves given as row,col",
		Args:  cobra.NoArgs,
		RunE:  runPlay,
	}
	play.Flags().StringVar(&humanPlays, "as", "X", "mark played by the human, X or O")

	experiment := &cobra.Command{
		Use:       "experiment NAME",
		Short:     fmt.Sprintf("Run one of the experiments %v", experiments.Names()),
		Args:      cobra.ExactArgs(1),
		ValidArgs: experiments.Names(),
		RunE:      runExperiment,
	}
	experiment.Flags().IntVar(&games, "games", meta.GAMES, "games per match up")
	experiment.Flags().IntVar(&parallel, "parallel", 1, "games played concurrently")
	experiment.Flags().StringVar(&outDir, "out", "results", "directory for CSV records, empty to skip them")
	experiment.Flags().IntVar(&iterations, "iterations", 0, "iterations per search")
	experiment.Flags().DurationVar(&duration, "duration", 0, "time per search")
	experiment.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	root.AddCommand(search, play, experiment)
	return root
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, fmt.Errorf("log level %q: %w", cfg.LogLevel, config.ErrInvalidConfig)
	}
	zerolog.SetGlobalLevel(level)
	return cfg, nil
}

func newMCTS(cfg config.Config) (*searcher.MCTS, error) {
	options, err := cfg.Options(tictactoe.EvaluateLines, tictactoe.WinningMove)
	if err != nil {
		return nil, err
	}
	options = append(options, searcher.WithMetrics())
	return searcher.NewMCTS(options...)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	state, err := tictactoe.FromString(args[0])
	if err != nil {
		return err
	}
	mcts, err := newMCTS(cfg)
	if err != nil {
		return err
	}

	result, err := mcts.Search(cmd.Context(), state)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%v\n\nplayer %d plays %v (%d iterations in %s, stopped by %s)\n",
		state, state.Player(), result.Action, result.Iterations, result.Elapsed, result.StopReason)
	for _, child := range result.Children {
		fmt.Fprintf(out, "  %v: visits=%d mean=%.3f\n", child.Action, child.Visits, child.Mean)
	}
	fmt.Fprintf(out, "principal variation: %v\n", mcts.PrincipalVariation())
	if dumpDepth > 0 {
		fmt.Fprintln(out)
		return mcts.Dump(out, dumpDepth)
	}
	return nil
}

func runPlay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mcts, err := newMCTS(cfg)
	if err != nil {
		return err
	}

	human, computer := tictactoe.X, tictactoe.O
	switch strings.ToUpper(humanPlays) {
	case "X":
	case "O":
		human, computer = computer, human
	default:
		return fmt.Errorf("--as must be X or O, got %q", humanPlays)
	}

	parse := func(s string) (game.Action, error) {
		return tictactoe.ParseMove(s)
	}
	e := engine.NewLocalEngine(tictactoe.NewGameState(), map[game.PlayerID]agent.Agent{
		human:    agent.NewHumanAgent(cmd.InOrStdin(), cmd.OutOrStdout(), parse),
		computer: agent.NewEvaluationAgent(mcts),
	})
	out := cmd.OutOrStdout()
	e.Observer = func(step int, player game.PlayerID, action game.Action, _ game.State) {
		if player == computer {
			fmt.Fprintf(out, "move %d: search plays %v\n", step, action)
		}
	}

	gameMetric, _, err := e.Run(cmd.Context())
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%v\n", e.State)
	switch gameMetric.Winner {
	case human:
		fmt.Fprintln(out, "you win")
	case computer:
		fmt.Fprintln(out, "search wins")
	default:
		fmt.Fprintln(out, "draw")
	}
	return nil
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	experiment, err := experiments.Lookup(args[0])
	if err != nil {
		return err
	}

	opts := experiments.Options{Games: games, Parallel: parallel, OutDir: outDir, Search: cfg}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts.Prometheus = metrics.NewPrometheus(reg, meta.NAMESPACE)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Msgf("serving metrics on %s/metrics", metricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer server.Close()
	}

	summaries, err := experiment(cmd.Context(), experiments.Budget{Iterations: iterations, Duration: duration}, opts)
	if err != nil {
		return err
	}
	for _, summary := range summaries {
		fmt.Fprintln(cmd.OutOrStdout(), summary)
	}
	return nil
}
