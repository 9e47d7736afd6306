package opt

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	snapshotEvery = 50
	// below this many pending evaluations the errgroup costs more than it saves
	minParallelBatch = 64
)

type individual struct {
	c         Chromosome
	fitness   float64
	evaluated bool
}

func (in individual) clone() individual {
	return individual{c: in.c.Clone(), fitness: in.fitness, evaluated: in.evaluated}
}

type population []individual

// sortByFitness orders ascending; the stable sort keeps equal-fitness order deterministic.
func (pop population) sortByFitness() {
	sort.SliceStable(pop, func(i, j int) bool { return pop[i].fitness < pop[j].fitness })
}

func (pop population) mean() float64 {
	if len(pop) == 0 {
		return 0
	}
	sum := 0.0
	for _, in := range pop {
		sum += in.fitness
	}
	return sum / float64(len(pop))
}

// evaluate fills in fitness for every unevaluated individual and returns how many it
// computed. Work is split into contiguous chunks and each result lands in its own slot,
// so the outcome does not depend on scheduling.
func (e *evaluator) evaluate(ctx context.Context, pop population, workers int) (int, error) {
	todo := make([]int, 0, len(pop))
	for i := range pop {
		if !pop[i].evaluated {
			todo = append(todo, i)
		}
	}
	if workers <= 1 || len(todo) < minParallelBatch {
		for _, i := range todo {
			pop[i].fitness = e.fitness(pop[i].c)
			pop[i].evaluated = true
		}
		return len(todo), nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	chunk := (len(todo) + workers - 1) / workers
	for lo := 0; lo < len(todo); lo += chunk {
		part := todo[lo:min(lo+chunk, len(todo))]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for _, i := range part {
				pop[i].fitness = e.fitness(pop[i].c)
				pop[i].evaluated = true
			}
			return nil
		})
	}
	return len(todo), g.Wait()
}

// Solve runs the genetic algorithm on p and returns the best plan of the final generation.
// The run is fully determined by p and cfg (including cfg.Seed); cfg.Workers only changes
// how fast it gets there. ctx is checked between generations.
func Solve(ctx context.Context, p Problem, cfg Config) (Solution, Metrics, error) {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		return Solution{}, Metrics{}, err
	}
	n := len(p.Stops)
	if n == 0 {
		return Solution{}, Metrics{}, ErrNoStops
	}
	if p.Drivers < 1 {
		return Solution{}, Metrics{}, ErrNoDrivers
	}

	// drivers past the stop count can only ever get empty routes; decode adds them back
	segments := min(p.Drivers, n)

	rng := rand.New(rand.NewSource(cfg.Seed))
	ev := newEvaluator(p)
	workers := cfg.workers()
	budget := cfg.GenerationBudget(n)
	elite := min(cfg.EliteCount, cfg.PopulationSize)

	pop := make(population, cfg.PopulationSize)
	for i := range pop {
		pop[i] = individual{c: randomChromosome(n, segments, rng)}
	}
	evals, err := ev.evaluate(ctx, pop, workers)
	if err != nil {
		return Solution{}, Metrics{}, err
	}
	pop.sortByFitness()

	m := Metrics{
		Population:  cfg.PopulationSize,
		Seed:        cfg.Seed,
		Evaluations: evals,
		InitialBest: pop[0].fitness,
		BestHistory: make([]float64, 0, budget+1),
	}
	m.BestHistory = append(m.BestHistory, pop[0].fitness)

	for gen := 1; gen <= budget; gen++ {
		if err := ctx.Err(); err != nil {
			m.Elapsed = time.Since(start)
			return Solution{}, m, err
		}
		next := make(population, 0, len(pop))
		for i := 0; i < elite; i++ {
			next = append(next, pop[i].clone())
		}
		for len(next) < len(pop) {
			a := pop[tournament(pop, cfg.TournamentSize, rng)]
			b := pop[tournament(pop, cfg.TournamentSize, rng)]
			var child individual
			if rng.Float64() < cfg.CrossoverRate {
				child = individual{c: crossover(a.c, b.c, rng)}
			} else {
				child = a.clone()
			}
			if rng.Float64() < cfg.MutationRate {
				mutate(&child.c, rng)
				child.evaluated = false
			}
			next = append(next, child)
		}
		evals, err := ev.evaluate(ctx, next, workers)
		if err != nil {
			m.Elapsed = time.Since(start)
			return Solution{}, m, err
		}
		next.sortByFitness()
		pop = next

		m.Generations = gen
		m.Evaluations += evals
		m.BestHistory = append(m.BestHistory, pop[0].fitness)
		if gen%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, GenerationSnapshot{Generation: gen, Best: pop[0].fitness, Mean: pop.mean()})
		}
	}

	best := pop[0]
	if !best.c.Valid(n, segments) {
		m.Elapsed = time.Since(start)
		return Solution{}, m, fmt.Errorf("%w: best chromosome is not a valid permutation", ErrNoRoute)
	}
	sol := decode(ev, best.c, p.Drivers)
	if err := sol.Validate(n); err != nil {
		m.Elapsed = time.Since(start)
		return Solution{}, m, err
	}
	m.BestCost = sol.Cost
	m.Elapsed = time.Since(start)
	return sol, m, nil
}

// decode turns c into one plan per driver. Drivers without a segment in c get an empty route.
func decode(ev *evaluator, c Chromosome, drivers int) Solution {
	sol := Solution{Plans: make([]RoutePlan, drivers)}
	segs := c.Segments()
	for d := range sol.Plans {
		seg := []int{}
		if d < len(segs) {
			seg = segs[d]
		}
		dist := ev.route(seg)
		sol.Plans[d] = RoutePlan{Driver: d + 1, Order: seg, Distance: dist}
		sol.Cost += dist
	}
	return sol
}
