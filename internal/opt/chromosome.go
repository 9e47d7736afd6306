package opt

import (
	"math/rand"
	"sort"

	"routeworker/internal/geo"
)

// Chromosome encodes a multi-driver plan as a permutation of stop indices split by
// len(Cuts) = drivers-1 non-decreasing cut points. Driver d owns Perm[cut(d-1):cut(d)].
// Segments may be empty.
type Chromosome struct {
	Perm []int
	Cuts []int
}

func (c Chromosome) Clone() Chromosome {
	return Chromosome{
		Perm: append([]int(nil), c.Perm...),
		Cuts: append([]int(nil), c.Cuts...),
	}
}

// Drivers is the number of segments.
func (c Chromosome) Drivers() int { return len(c.Cuts) + 1 }

// Segment returns driver d's (0-based) slice of Perm. The result aliases Perm.
func (c Chromosome) Segment(d int) []int {
	lo, hi := 0, len(c.Perm)
	if d > 0 {
		lo = c.Cuts[d-1]
	}
	if d < len(c.Cuts) {
		hi = c.Cuts[d]
	}
	return c.Perm[lo:hi]
}

// Segments returns a copy of every driver's segment.
func (c Chromosome) Segments() [][]int {
	out := make([][]int, c.Drivers())
	for d := range out {
		out[d] = append([]int{}, c.Segment(d)...)
	}
	return out
}

// Valid reports whether c is a permutation of [0,n) cut into drivers segments.
func (c Chromosome) Valid(n, drivers int) bool {
	if len(c.Perm) != n || len(c.Cuts) != drivers-1 {
		return false
	}
	seen := make([]bool, n)
	for _, v := range c.Perm {
		if v < 0 || v >= n || seen[v] {
			return false
		}
		seen[v] = true
	}
	prev := 0
	for _, cut := range c.Cuts {
		if cut < prev || cut > n {
			return false
		}
		prev = cut
	}
	return true
}

// fromSegments concatenates driver segments back into a chromosome.
func fromSegments(segs [][]int) Chromosome {
	c := Chromosome{Cuts: make([]int, 0, len(segs)-1)}
	for d, seg := range segs {
		c.Perm = append(c.Perm, seg...)
		if d < len(segs)-1 {
			c.Cuts = append(c.Cuts, len(c.Perm))
		}
	}
	return c
}

func randomChromosome(n, drivers int, rng *rand.Rand) Chromosome {
	c := Chromosome{Perm: rng.Perm(n), Cuts: randomCuts(n, drivers, rng)}
	return c
}

// randomCuts draws drivers-1 cut points uniformly from [0,n]; repeats give empty segments.
func randomCuts(n, drivers int, rng *rand.Rand) []int {
	cuts := make([]int, drivers-1)
	for i := range cuts {
		cuts[i] = rng.Intn(n + 1)
	}
	sort.Ints(cuts)
	return cuts
}

// repairPerm restores a permutation of [0,n). The first occurrence of each valid index
// keeps its position; duplicated or out-of-range entries take the missing indices in
// ascending order. Surplus entries are dropped and still-missing indices appended.
func repairPerm(perm []int, n int) []int {
	seen := make([]bool, n)
	bad := 0
	for _, v := range perm {
		if v < 0 || v >= n || seen[v] {
			bad++
			continue
		}
		seen[v] = true
	}
	if bad == 0 && len(perm) == n {
		return perm
	}
	missing := make([]int, 0, n)
	for v := 0; v < n; v++ {
		if !seen[v] {
			missing = append(missing, v)
		}
	}
	out := make([]int, 0, n)
	used := make([]bool, n)
	for _, v := range perm {
		if v >= 0 && v < n && !used[v] {
			used[v] = true
			out = append(out, v)
			continue
		}
		if len(missing) > 0 {
			out = append(out, missing[0])
			used[missing[0]] = true
			missing = missing[1:]
		}
	}
	return append(out, missing...)
}

// repairCuts clamps cut points into [0,n], sorts them and fixes their count.
func repairCuts(cuts []int, n, drivers int) []int {
	out := make([]int, drivers-1)
	for i := range out {
		v := n
		if i < len(cuts) {
			v = cuts[i]
		}
		out[i] = min(max(v, 0), n)
	}
	sort.Ints(out)
	return out
}

// evaluator computes fitness from a precomputed distance matrix. It is read-only after
// construction and safe for concurrent use.
type evaluator struct {
	n      int
	dist   []float64
	closed bool
}

func newEvaluator(p Problem) *evaluator {
	n := len(p.Stops)
	e := &evaluator{n: n, dist: make([]float64, n*n), closed: p.ReturnToStart}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := geo.Distance(p.Stops[i].Point, p.Stops[j].Point)
			e.dist[i*n+j] = d
			e.dist[j*n+i] = d
		}
	}
	return e
}

func (e *evaluator) leg(a, b int) float64 { return e.dist[a*e.n+b] }

// route is the length of one driver's segment. The first stop is the driver's depot, so
// with closed set the last leg returns to it.
func (e *evaluator) route(seg []int) float64 {
	if len(seg) < 2 {
		return 0
	}
	total := 0.0
	for i := 0; i < len(seg)-1; i++ {
		total += e.leg(seg[i], seg[i+1])
	}
	if e.closed {
		total += e.leg(seg[len(seg)-1], seg[0])
	}
	return total
}

func (e *evaluator) fitness(c Chromosome) float64 {
	total := 0.0
	for d := 0; d < c.Drivers(); d++ {
		total += e.route(c.Segment(d))
	}
	return total
}

// Fitness is the total travel distance in meters of c's routes for p. Lower is better.
func Fitness(p Problem, c Chromosome) float64 {
	return newEvaluator(p).fitness(c)
}
