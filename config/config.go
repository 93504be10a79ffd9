// Package config loads search settings from a YAML or JSON file and the environment and maps
// them to searcher options. Both file formats go through yaml.v3, so durations are strings
// such as "250ms" in either.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"treesearch/game"
	"treesearch/meta"
	"treesearch/searcher"
)

const envPrefix = "TREESEARCH_"

var ErrInvalidConfig = errors.New("invalid config")

// Config holds every tunable of a search. Zero budgets mean unbounded on that axis, but at
// least one of Iterations and Duration must be set.
type Config struct {
	Budget    BudgetConfig    `json:"budget" yaml:"budget"`
	Algorithm AlgorithmConfig `json:"algorithm" yaml:"algorithm"`
	Rollout   RolloutConfig   `json:"rollout" yaml:"rollout"`
	Parallel  ParallelConfig  `json:"parallel" yaml:"parallel"`
	LogLevel  string          `json:"log_level" yaml:"log_level"`
}

type BudgetConfig struct {
	Iterations int           `json:"iterations" yaml:"iterations"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

type AlgorithmConfig struct {
	Exploration    float64 `json:"exploration" yaml:"exploration"`
	Expansion      string  `json:"expansion" yaml:"expansion"`             // first | random
	FinalSelection string  `json:"final_selection" yaml:"final_selection"` // most-visited | highest-value | greedy-ucb
	Reuse          bool    `json:"reuse" yaml:"reuse"`
	Seed           *uint64 `json:"seed" yaml:"seed"` // nil seeds from the clock
}

type RolloutConfig struct {
	Policy       string  `json:"policy" yaml:"policy"` // random | heuristic | static-eval
	MaxDepth     int     `json:"max_depth" yaml:"max_depth"`
	DefaultValue float64 `json:"default_value" yaml:"default_value"`
}

type ParallelConfig struct {
	Workers     int     `json:"workers" yaml:"workers"`
	VirtualLoss int     `json:"virtual_loss" yaml:"virtual_loss"` // -1 picks 1 when parallel, else 0
	LossValue   float64 `json:"loss_value" yaml:"loss_value"`
}

func Default() Config {
	return Config{
		Budget: BudgetConfig{
			Iterations: meta.ITERATIONS,
		},
		Algorithm: AlgorithmConfig{
			Exploration:    searcher.DefaultExploration,
			Expansion:      "first",
			FinalSelection: searcher.MostVisited.String(),
			Reuse:          true,
		},
		Rollout: RolloutConfig{
			Policy: searcher.RolloutRandom.String(),
		},
		Parallel: ParallelConfig{
			Workers:     1,
			VirtualLoss: -1,
			LossValue:   searcher.LOSS,
		},
		LogLevel: "info",
	}
}

// Load merges defaults, the file at path (skipped when empty or missing) and TREESEARCH_*
// environment variables, in increasing priority, and validates the result.
func Load(path string) (Config, error) {
	config := Default()

	if path != "" {
		if err := loadFile(path, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := loadEnv(&config); err != nil {
		return config, err
	}

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// JSON documents are valid YAML
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(config *Config) error {
	ints := map[string]*int{
		"ITERATIONS":   &config.Budget.Iterations,
		"MAX_DEPTH":    &config.Rollout.MaxDepth,
		"WORKERS":      &config.Parallel.Workers,
		"VIRTUAL_LOSS": &config.Parallel.VirtualLoss,
	}
	for key, target := range ints {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s=%q: %w", envPrefix, key, v, ErrInvalidConfig)
			}
			*target = i
		}
	}

	floats := map[string]*float64{
		"EXPLORATION":   &config.Algorithm.Exploration,
		"DEFAULT_VALUE": &config.Rollout.DefaultValue,
		"LOSS_VALUE":    &config.Parallel.LossValue,
	}
	for key, target := range floats {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s%s=%q: %w", envPrefix, key, v, ErrInvalidConfig)
			}
			*target = f
		}
	}

	strs := map[string]*string{
		"EXPANSION":       &config.Algorithm.Expansion,
		"FINAL_SELECTION": &config.Algorithm.FinalSelection,
		"ROLLOUT":         &config.Rollout.Policy,
		"LOG_LEVEL":       &config.LogLevel,
	}
	for key, target := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*target = v
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "DURATION"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sDURATION=%q: %w", envPrefix, v, ErrInvalidConfig)
		}
		config.Budget.Duration = d
	}
	if v, ok := os.LookupEnv(envPrefix + "REUSE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sREUSE=%q: %w", envPrefix, v, ErrInvalidConfig)
		}
		config.Algorithm.Reuse = b
	}
	if v, ok := os.LookupEnv(envPrefix + "SEED"); ok {
		u, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSEED=%q: %w", envPrefix, v, ErrInvalidConfig)
		}
		config.Algorithm.Seed = &u
	}
	return nil
}

// Validate reports the first invalid setting. Budget errors wrap searcher.ErrBudgetMisconfigured.
func (c Config) Validate() error {
	if c.Budget.Iterations < 0 || c.Budget.Duration < 0 {
		return fmt.Errorf("negative budget (iterations=%d, duration=%s): %w", c.Budget.Iterations, c.Budget.Duration, searcher.ErrBudgetMisconfigured)
	}
	if c.Budget.Iterations == 0 && c.Budget.Duration == 0 {
		return fmt.Errorf("budget needs iterations or duration: %w", searcher.ErrBudgetMisconfigured)
	}
	if c.Algorithm.Exploration < 0 || math.IsNaN(c.Algorithm.Exploration) || math.IsInf(c.Algorithm.Exploration, 0) {
		return fmt.Errorf("exploration %v: %w", c.Algorithm.Exploration, ErrInvalidConfig)
	}
	if _, err := c.expansion(); err != nil {
		return err
	}
	if _, ok := searcher.ParseFinalPolicy(c.Algorithm.FinalSelection); !ok {
		return fmt.Errorf("final selection %q: %w", c.Algorithm.FinalSelection, ErrInvalidConfig)
	}
	if _, ok := searcher.ParseRolloutPolicy(c.Rollout.Policy); !ok {
		return fmt.Errorf("rollout policy %q: %w", c.Rollout.Policy, ErrInvalidConfig)
	}
	if c.Rollout.MaxDepth < 0 {
		return fmt.Errorf("rollout max depth %d: %w", c.Rollout.MaxDepth, ErrInvalidConfig)
	}
	if c.Parallel.Workers < 1 {
		return fmt.Errorf("workers %d: %w", c.Parallel.Workers, ErrInvalidConfig)
	}
	if c.Parallel.VirtualLoss < -1 {
		return fmt.Errorf("virtual loss %d: %w", c.Parallel.VirtualLoss, ErrInvalidConfig)
	}
	return nil
}

func (c Config) expansion() (searcher.ExpansionPolicy, error) {
	switch c.Algorithm.Expansion {
	case "", "first":
		return searcher.ExpandFirst, nil
	case "random":
		return searcher.ExpandRandom, nil
	default:
		return searcher.ExpandFirst, fmt.Errorf("expansion policy %q: %w", c.Algorithm.Expansion, ErrInvalidConfig)
	}
}

// Options maps c to searcher options. evaluate scores cut off rollouts and drives static-eval
// rollouts, pick drives heuristic rollouts; either may be nil when c does not need it.
func (c Config) Options(evaluate game.Evaluate, pick searcher.ActionPicker) ([]searcher.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	expansion, _ := c.expansion()
	final, _ := searcher.ParseFinalPolicy(c.Algorithm.FinalSelection)
	rollout, _ := searcher.ParseRolloutPolicy(c.Rollout.Policy)

	options := []searcher.Option{
		searcher.WithExploration(c.Algorithm.Exploration),
		searcher.WithExpansion(expansion),
		searcher.WithFinalSelection(final),
		searcher.WithReuse(c.Algorithm.Reuse),
		searcher.WithCutoff(c.Rollout.MaxDepth),
		searcher.WithDefaultValue(c.Rollout.DefaultValue),
		searcher.WithParallelism(c.Parallel.Workers),
		searcher.WithVirtualLoss(c.Parallel.VirtualLoss, c.Parallel.LossValue),
	}
	if c.Budget.Iterations > 0 {
		options = append(options, searcher.WithIterations(c.Budget.Iterations))
	}
	if c.Budget.Duration > 0 {
		options = append(options, searcher.WithDuration(c.Budget.Duration))
	}
	if c.Algorithm.Seed != nil {
		options = append(options, searcher.WithSeed(*c.Algorithm.Seed))
	}
	if evaluate != nil {
		options = append(options, searcher.WithEvaluationFn(evaluate))
	}

	switch rollout {
	case searcher.RolloutHeuristic:
		if pick == nil {
			return nil, fmt.Errorf("heuristic rollout without an action picker: %w", ErrInvalidConfig)
		}
		options = append(options, searcher.WithActionPicker(pick))
	case searcher.RolloutStaticEval:
		if evaluate == nil {
			return nil, fmt.Errorf("static-eval rollout without an evaluation function: %w", ErrInvalidConfig)
		}
		options = append(options, searcher.WithRollout(rollout))
	default:
		options = append(options, searcher.WithRollout(rollout))
	}
	return options, nil
}
