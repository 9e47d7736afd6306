package opt

import "math/rand"

// crossover builds one child: order crossover over the permutations, cut points inherited
// from a random parent, then repair.
func crossover(a, b Chromosome, rng *rand.Rand) Chromosome {
	n := len(a.Perm)
	child := Chromosome{Perm: orderCrossover(a.Perm, b.Perm, rng)}
	if rng.Intn(2) == 0 {
		child.Cuts = append([]int(nil), a.Cuts...)
	} else {
		child.Cuts = append([]int(nil), b.Cuts...)
	}
	child.Perm = repairPerm(child.Perm, n)
	child.Cuts = repairCuts(child.Cuts, n, a.Drivers())
	return child
}

// orderCrossover (OX1) copies p1[i..k] in place and fills the remaining positions, starting
// after k and wrapping, with the stops of p2 in p2's relative order.
func orderCrossover(p1, p2 []int, rng *rand.Rand) []int {
	n := len(p1)
	child := make([]int, n)
	if n < 2 {
		copy(child, p1)
		return child
	}
	i, k := rng.Intn(n), rng.Intn(n)
	if i > k {
		i, k = k, i
	}
	taken := make(map[int]bool, k-i+1)
	for j := i; j <= k; j++ {
		child[j] = p1[j]
		taken[p1[j]] = true
	}
	pos := (k + 1) % n
	for j := 0; j < n; j++ {
		v := p2[(k+1+j)%n]
		if taken[v] {
			continue
		}
		if pos == i {
			// only reachable with malformed parents; repair fills the tail
			break
		}
		child[pos] = v
		taken[v] = true
		pos = (pos + 1) % n
	}
	return child
}

const (
	mutSwap = iota
	mutReverse
	mutRelocate
)

// mutate applies one randomly chosen move. Relocation is only drawn when there is more
// than one driver.
func mutate(c *Chromosome, rng *rand.Rand) {
	ops := 2
	if c.Drivers() > 1 {
		ops = 3
	}
	switch rng.Intn(ops) {
	case mutSwap:
		swapMutation(c.Perm, rng)
	case mutReverse:
		reverseMutation(c.Perm, rng)
	case mutRelocate:
		relocateMutation(c, rng)
	}
}

func swapMutation(perm []int, rng *rand.Rand) {
	if len(perm) < 2 {
		return
	}
	i, j := rng.Intn(len(perm)), rng.Intn(len(perm))
	perm[i], perm[j] = perm[j], perm[i]
}

// reverseMutation reverses perm[i..k] in place (a 2-opt move when i and k share a segment).
func reverseMutation(perm []int, rng *rand.Rand) {
	n := len(perm)
	if n < 2 {
		return
	}
	i := rng.Intn(n - 1)
	k := i + 1 + rng.Intn(n-1-i)
	for a, b := i, k; a < b; a, b = a+1, b-1 {
		perm[a], perm[b] = perm[b], perm[a]
	}
}

// relocateMutation moves one stop from a non-empty driver segment to a random position in
// another driver's segment.
func relocateMutation(c *Chromosome, rng *rand.Rand) {
	drivers := c.Drivers()
	if drivers < 2 || len(c.Perm) == 0 {
		return
	}
	segs := c.Segments()
	nonEmpty := make([]int, 0, drivers)
	for d, seg := range segs {
		if len(seg) > 0 {
			nonEmpty = append(nonEmpty, d)
		}
	}
	src := nonEmpty[rng.Intn(len(nonEmpty))]
	at := rng.Intn(len(segs[src]))
	stop := segs[src][at]
	segs[src] = append(segs[src][:at], segs[src][at+1:]...)

	dst := rng.Intn(drivers - 1)
	if dst >= src {
		dst++
	}
	pos := rng.Intn(len(segs[dst]) + 1)
	seg := append(segs[dst], 0)
	copy(seg[pos+1:], seg[pos:])
	seg[pos] = stop
	segs[dst] = seg

	*c = fromSegments(segs)
}

// tournament samples size individuals and returns the index of the fittest. Ties go to
// the lower index, which in a sorted population is never worse.
func tournament(pop population, size int, rng *rand.Rand) int {
	best := rng.Intn(len(pop))
	for i := 1; i < size; i++ {
		j := rng.Intn(len(pop))
		if pop[j].fitness < pop[best].fitness || (pop[j].fitness == pop[best].fitness && j < best) {
			best = j
		}
	}
	return best
}
