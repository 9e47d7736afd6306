package opt

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Registry keeps the Metrics of the most recent solver runs by run id. Once full, the
// least recently recorded run is evicted. Safe for concurrent use.
type Registry struct {
	runs *lru.Cache[string, Metrics]
}

func NewRegistry(limit int) *Registry {
	if limit <= 0 {
		limit = 100
	}
	runs, err := lru.New[string, Metrics](limit)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &Registry{runs: runs}
}

func (r *Registry) Record(runID string, m Metrics) { r.runs.Add(runID, m) }

// Get does not refresh the run's position.
func (r *Registry) Get(runID string) (Metrics, bool) { return r.runs.Peek(runID) }

// Recent returns run ids newest first.
func (r *Registry) Recent() []string {
	keys := r.runs.Keys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[len(keys)-1-i] = k
	}
	return out
}
