package opt

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"routeworker/internal/geo"
)

var (
	ErrNoStops       = errors.New("opt: no stops")
	ErrNoDrivers     = errors.New("opt: driver count must be >= 1")
	ErrNoRoute       = errors.New("opt: no route found")
	ErrInvalidConfig = errors.New("opt: invalid solver config")
)

// Stop is a point to visit. ID is caller supplied and unique within one Problem.
type Stop struct {
	ID    int
	Point geo.Point
}

// Problem is one routing request: stops in input order, driver count and flags.
type Problem struct {
	Stops         []Stop
	Drivers       int
	ReturnToStart bool
	// Options is carried through untouched; no constraint reads it yet.
	Options []bool
}

// Config holds the GA parameters. Start from DefaultConfig and override fields.
type Config struct {
	PopulationSize int     `yaml:"population" json:"population"`
	CrossoverRate  float64 `yaml:"crossover" json:"crossover"`
	MutationRate   float64 `yaml:"mutation" json:"mutation"`
	EliteCount     int     `yaml:"elite" json:"elite"`
	Generations    int     `yaml:"generations" json:"generations"`       // 0: stops²
	MaxGenerations int     `yaml:"maxGenerations" json:"maxGenerations"` // 0: uncapped
	TournamentSize int     `yaml:"tournament" json:"tournament"`
	Seed           int64   `yaml:"seed" json:"seed"`
	Workers        int     `yaml:"workers" json:"workers"` // 0: GOMAXPROCS
}

func DefaultConfig() Config {
	return Config{
		PopulationSize: 1000,
		CrossoverRate:  0.75,
		MutationRate:   0.2,
		EliteCount:     3,
		MaxGenerations: 2500,
		TournamentSize: 3,
		Seed:           42,
	}
}

// Validate checks ranges; it does not fill in defaults.
func (c Config) Validate() error {
	switch {
	case c.PopulationSize < 1:
		return fmt.Errorf("%w: population must be >= 1", ErrInvalidConfig)
	case c.CrossoverRate < 0 || c.CrossoverRate > 1:
		return fmt.Errorf("%w: crossover rate must be in [0,1]", ErrInvalidConfig)
	case c.MutationRate < 0 || c.MutationRate > 1:
		return fmt.Errorf("%w: mutation rate must be in [0,1]", ErrInvalidConfig)
	case c.EliteCount < 1:
		return fmt.Errorf("%w: elite count must be >= 1", ErrInvalidConfig)
	case c.Generations < 0 || c.MaxGenerations < 0:
		return fmt.Errorf("%w: generation budget must be >= 0", ErrInvalidConfig)
	case c.TournamentSize < 1:
		return fmt.Errorf("%w: tournament size must be >= 1", ErrInvalidConfig)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// GenerationBudget is the number of generations run for a request with the given stop count.
func (c Config) GenerationBudget(stops int) int {
	g := c.Generations
	if g <= 0 {
		g = stops * stops
	}
	if c.MaxGenerations > 0 && g > c.MaxGenerations {
		g = c.MaxGenerations
	}
	return g
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// RoutePlan is one driver's ordered visit list. Order holds indices into Problem.Stops.
type RoutePlan struct {
	Driver   int // 1-based
	Order    []int
	Distance float64
}

// Solution has exactly one plan per driver, in driver order.
type Solution struct {
	Plans []RoutePlan
	Cost  float64
}

// Validate checks that every stop index in [0,n) appears exactly once across all plans.
func (s Solution) Validate(n int) error {
	if len(s.Plans) == 0 {
		return fmt.Errorf("%w: no driver plans", ErrNoRoute)
	}
	seen := make([]bool, n)
	count := 0
	for _, pl := range s.Plans {
		for _, idx := range pl.Order {
			if idx < 0 || idx >= n {
				return fmt.Errorf("%w: stop index %d out of range", ErrNoRoute, idx)
			}
			if seen[idx] {
				return fmt.Errorf("%w: stop index %d visited twice", ErrNoRoute, idx)
			}
			seen[idx] = true
			count++
		}
	}
	if count != n {
		return fmt.Errorf("%w: %d of %d stops routed", ErrNoRoute, count, n)
	}
	return nil
}

// Metrics describes one Solve run.
type Metrics struct {
	Population  int
	Seed        int64
	Generations int
	Evaluations int
	InitialBest float64
	BestCost    float64
	// BestHistory[0] is the best fitness of the initial population, then one entry per generation.
	BestHistory []float64
	Snapshots   []GenerationSnapshot
	Elapsed     time.Duration
}

type GenerationSnapshot struct {
	Generation int
	Best       float64
	Mean       float64
}
