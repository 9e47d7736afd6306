package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry served by the admin server
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts admin requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records admin request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Jobs counts settled deliveries by outcome (acked, rejected, requeued)
	Jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "worker_jobs_total", Help: "Jobs settled by outcome."},
		[]string{"outcome"},
	)
	// JobDuration is receive-to-settle time per job
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "worker_job_duration_seconds", Help: "Job duration from receive to settle.", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}},
	)
	// SolveDuration is time spent inside the GA
	SolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "worker_solve_duration_seconds", Help: "Solver run time.", Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}},
	)
	SolveGenerations = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "worker_solve_generations", Help: "Generations run per solve.", Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500}},
	)
	BestDistance = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "worker_best_distance_meters", Help: "Total distance of the returned solution.", Buckets: prometheus.ExponentialBuckets(100, 4, 10)},
	)
	// ReceiveErrors counts failed receives from the broker
	ReceiveErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_receive_errors_total", Help: "Broker receive errors."},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Jobs)
		Registry.MustRegister(JobDuration)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(SolveGenerations)
		Registry.MustRegister(BestDistance)
		Registry.MustRegister(ReceiveErrors)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
