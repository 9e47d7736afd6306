package opt

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"routeworker/internal/geo"
)

func gridProblem(n, drivers int, closed bool) Problem {
	p := Problem{Drivers: drivers, ReturnToStart: closed}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < n; i++ {
		p.Stops = append(p.Stops, Stop{ID: i + 1, Point: geo.Point{Lat: 43 + rng.Float64(), Lng: -79 + rng.Float64()}})
	}
	return p
}

func TestRandomChromosomeValid(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 1; n <= 12; n++ {
		for drivers := 1; drivers <= 6; drivers++ {
			c := randomChromosome(n, drivers, rng)
			if !c.Valid(n, drivers) {
				t.Fatalf("n=%d drivers=%d: invalid chromosome %+v", n, drivers, c)
			}
			if len(c.Segments()) != drivers {
				t.Fatalf("want %d segments, got %d", drivers, len(c.Segments()))
			}
		}
	}
}

func TestSegmentsAndFromSegments(t *testing.T) {
	c := Chromosome{Perm: []int{4, 2, 0, 1, 3}, Cuts: []int{0, 2, 2}}
	want := [][]int{{}, {4, 2}, {}, {0, 1, 3}}
	if got := c.Segments(); !reflect.DeepEqual(got, want) {
		t.Fatalf("segments: got %v, want %v", got, want)
	}
	back := fromSegments(want)
	if !reflect.DeepEqual(back.Perm, c.Perm) || !reflect.DeepEqual(back.Cuts, c.Cuts) {
		t.Fatalf("fromSegments: got %+v, want %+v", back, c)
	}
}

func TestValidRejectsBrokenChromosomes(t *testing.T) {
	cases := []Chromosome{
		{Perm: []int{0, 1, 1}, Cuts: []int{1}},
		{Perm: []int{0, 1, 3}, Cuts: []int{1}},
		{Perm: []int{0, 1}, Cuts: []int{1}},
		{Perm: []int{0, 1, 2}, Cuts: []int{2, 1}},
		{Perm: []int{0, 1, 2}, Cuts: []int{4}},
		{Perm: []int{0, 1, 2}, Cuts: nil},
	}
	for i, c := range cases {
		if c.Valid(3, 2) {
			t.Fatalf("case %d: %+v should be invalid", i, c)
		}
	}
}

func TestRepairPerm(t *testing.T) {
	cases := []struct {
		in   []int
		n    int
		want []int
	}{
		{[]int{2, 0, 1}, 3, []int{2, 0, 1}},
		{[]int{2, 2, 1}, 3, []int{2, 0, 1}},
		{[]int{3, 3, 3, 0}, 4, []int{3, 1, 2, 0}},
		{[]int{0, 9, -1}, 3, []int{0, 1, 2}},
		{[]int{1}, 3, []int{1, 0, 2}},
		{[]int{1, 1, 1, 1, 0}, 2, []int{1, 0}},
	}
	for _, c := range cases {
		got := repairPerm(append([]int(nil), c.in...), c.n)
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("repairPerm(%v,%d) = %v, want %v", c.in, c.n, got, c.want)
		}
	}
}

func TestRepairCuts(t *testing.T) {
	got := repairCuts([]int{7, -2}, 5, 4)
	want := []int{0, 5, 5}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCrossoverKeepsPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 500; trial++ {
		n := 1 + rng.Intn(15)
		drivers := 1 + rng.Intn(5)
		a := randomChromosome(n, drivers, rng)
		b := randomChromosome(n, drivers, rng)
		child := crossover(a, b, rng)
		if !child.Valid(n, drivers) {
			t.Fatalf("trial %d: invalid child %+v from %+v x %+v", trial, child, a, b)
		}
	}
}

func TestOrderCrossoverYieldsPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	p1 := []int{0, 1, 2, 3, 4, 5, 6, 7}
	p2 := []int{7, 6, 5, 4, 3, 2, 1, 0}
	for trial := 0; trial < 50; trial++ {
		child := orderCrossover(p1, p2, rng)
		if got := repairPerm(append([]int(nil), child...), len(p1)); !reflect.DeepEqual(got, child) {
			t.Fatalf("order crossover produced a non-permutation: %v", child)
		}
	}
}

func TestMutationKeepsPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for trial := 0; trial < 1000; trial++ {
		n := rng.Intn(12)
		if n == 0 {
			n = 1
		}
		drivers := 1 + rng.Intn(4)
		c := randomChromosome(n, drivers, rng)
		mutate(&c, rng)
		if !c.Valid(n, drivers) {
			t.Fatalf("trial %d: mutation broke chromosome %+v", trial, c)
		}
	}
}

func TestRelocateMovesStopBetweenDrivers(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	c := Chromosome{Perm: []int{0, 1, 2, 3}, Cuts: []int{4}}
	relocateMutation(&c, rng)
	if !c.Valid(4, 2) {
		t.Fatalf("invalid after relocate: %+v", c)
	}
	if got := len(c.Segment(1)); got != 1 {
		t.Fatalf("want one stop moved to driver 2, got segment %v", c.Segment(1))
	}
}

func TestReverseMutationReversesRun(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	perm := []int{0, 1}
	reverseMutation(perm, rng)
	if !reflect.DeepEqual(perm, []int{1, 0}) {
		t.Fatalf("got %v", perm)
	}
}

func TestFitnessMatchesGeo(t *testing.T) {
	p := gridProblem(6, 2, false)
	c := Chromosome{Perm: []int{5, 4, 3, 2, 1, 0}, Cuts: []int{2}}
	want := 0.0
	for _, seg := range c.Segments() {
		pts := make([]geo.Point, len(seg))
		for i, idx := range seg {
			pts[i] = p.Stops[idx].Point
		}
		want += geo.PathLength(pts, false)
	}
	if got := Fitness(p, c); math.Abs(got-want) > 1e-6 {
		t.Fatalf("fitness %f, want %f", got, want)
	}
}

func TestReturnToStartNeverDecreasesFitness(t *testing.T) {
	open := gridProblem(9, 3, false)
	closed := open
	closed.ReturnToStart = true
	rng := rand.New(rand.NewSource(4))
	for trial := 0; trial < 200; trial++ {
		c := randomChromosome(9, 3, rng)
		if Fitness(closed, c) < Fitness(open, c) {
			t.Fatalf("closed fitness lower than open for %+v", c)
		}
	}
}

func TestSingleStopSegmentsCostNothing(t *testing.T) {
	p := gridProblem(3, 3, true)
	c := Chromosome{Perm: []int{0, 1, 2}, Cuts: []int{1, 2}}
	if got := Fitness(p, c); got != 0 {
		t.Fatalf("one stop per driver should cost 0, got %f", got)
	}
}

func TestTournamentPrefersFitter(t *testing.T) {
	pop := population{{fitness: 1}, {fitness: 2}, {fitness: 3}}
	rng := rand.New(rand.NewSource(1))
	// with a tournament as large as the sample space the best almost always wins
	wins := 0
	for i := 0; i < 100; i++ {
		if tournament(pop, 20, rng) == 0 {
			wins++
		}
	}
	if wins < 95 {
		t.Fatalf("fittest won only %d/100 tournaments", wins)
	}
}
