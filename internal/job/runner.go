package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"routeworker/internal/events"
	"routeworker/internal/logging"
	"routeworker/internal/metrics"
	"routeworker/internal/opt"
	"routeworker/internal/queue"
	"routeworker/internal/store"
)

// SolveFunc matches opt.Solve.
type SolveFunc func(ctx context.Context, p opt.Problem, cfg opt.Config) (opt.Solution, opt.Metrics, error)

// Runner takes one delivery at a time through decode, solve, encode, reply and settle.
// Queue and Log are required; the rest are optional.
type Runner struct {
	Queue  queue.Queue
	Solver opt.Config
	Solve  SolveFunc // nil: opt.Solve
	Store  store.Store
	Events events.EventBroker
	Runs   *opt.Registry
	Log    *logging.Logger
	// Limiter paces retries after failed receives.
	Limiter *rate.Limiter
	// SettleTimeout bounds reply, ack and reject calls, which run on a context
	// detached from shutdown so an interrupted job is still requeued.
	SettleTimeout time.Duration
}

func NewRunner(q queue.Queue, cfg opt.Config, log *logging.Logger) *Runner {
	return &Runner{
		Queue:         q,
		Solver:        cfg,
		Log:           log,
		Limiter:       rate.NewLimiter(rate.Every(time.Second), 3),
		SettleTimeout: 5 * time.Second,
	}
}

// Run receives and processes jobs until ctx is done (returns nil) or the queue closes.
func (r *Runner) Run(ctx context.Context) error {
	log := r.log().WithComponent("runner")
	log.InfoContext(ctx, "Runner started")
	for {
		d, err := r.Queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.InfoContext(ctx, "Runner stopped")
				return nil
			}
			if errors.Is(err, queue.ErrClosed) {
				return err
			}
			metrics.ReceiveErrors.Inc()
			log.WithError(err).WarnContext(ctx, "Receive failed")
			if r.Limiter != nil {
				if err := r.Limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			continue
		}
		r.Process(ctx, d)
		if ctx.Err() != nil {
			log.InfoContext(ctx, "Runner stopped")
			return nil
		}
	}
}

type solved struct {
	req     Request
	sol     opt.Solution
	metrics opt.Metrics
	ok      bool
}

// Process handles one delivery and settles it exactly once. It never panics.
func (r *Runner) Process(ctx context.Context, d *queue.Delivery) Outcome {
	start := time.Now()
	topic := topicFor(d)
	log := r.log().WithCorrelationID(d.CorrelationID)
	log.InfoContext(ctx, "Job received", "deliveryId", d.ID, "redelivered", d.Redelivered, "bytes", len(d.Body))
	log.DebugContext(ctx, "Job body", "body", string(d.Body))
	r.emit(topic, events.JobReceived, map[string]any{"deliveryId": d.ID, "redelivered": d.Redelivered})

	res, err := r.handle(ctx, d, topic)
	outcome := Classify(err)
	if err != nil {
		log.WithError(err).WarnContext(ctx, "Job failed", "outcome", outcome, "permanent", Permanent(err))
	}

	if serr := r.settle(ctx, d, outcome); serr != nil {
		// the broker still owns the delivery and will hand it out again
		log.WithError(serr).ErrorContext(ctx, "Settle failed", "outcome", outcome)
		outcome = OutcomeRequeued
	}

	elapsed := time.Since(start)
	metrics.Jobs.WithLabelValues(string(outcome)).Inc()
	metrics.JobDuration.Observe(elapsed.Seconds())
	log.Performance(ctx, "job", elapsed, outcome == OutcomeAcked, "outcome", outcome)

	data := map[string]any{"outcome": string(outcome)}
	if err != nil {
		data["error"] = err.Error()
	}
	if outcome == OutcomeAcked {
		r.emit(topic, events.JobAcked, data)
	} else {
		r.emit(topic, events.JobRejected, data)
	}

	// a requeued job is solved again on redelivery, so only acked runs are recorded
	if res.ok && outcome == OutcomeAcked {
		r.record(ctx, d, res, outcome, elapsed)
	}
	return outcome
}

func (r *Runner) handle(ctx context.Context, d *queue.Delivery, topic string) (res solved, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log().WithCorrelationID(d.CorrelationID).Panic(ctx, rec)
			err = fmt.Errorf("job: panic: %v", rec)
		}
	}()

	if d.ReplyTo == "" {
		return res, fmt.Errorf("%w: no reply destination", ErrParse)
	}
	req, err := Decode(d.Body)
	if err != nil {
		return res, err
	}
	res.req = req

	solve := r.Solve
	if solve == nil {
		solve = opt.Solve
	}
	t0 := time.Now()
	sol, m, err := solve(ctx, req.Problem, r.Solver)
	metrics.SolveDuration.Observe(time.Since(t0).Seconds())
	if err != nil {
		if errors.Is(err, opt.ErrNoRoute) || errors.Is(err, opt.ErrNoStops) || errors.Is(err, opt.ErrNoDrivers) {
			return res, fmt.Errorf("%w: %w", ErrSolve, err)
		}
		return res, err
	}
	res.sol, res.metrics, res.ok = sol, m, true
	r.emit(topic, events.JobSolved, map[string]any{
		"stops":       len(req.Problem.Stops),
		"drivers":     req.Problem.Drivers,
		"distance":    sol.Cost,
		"generations": m.Generations,
	})

	body, err := Encode(req, sol)
	if err != nil {
		return res, err
	}
	pctx, cancel := r.detached(ctx)
	defer cancel()
	if err := r.Queue.Publish(pctx, d.ReplyTo, d.CorrelationID, body); err != nil {
		return res, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return res, nil
}

func (r *Runner) settle(ctx context.Context, d *queue.Delivery, outcome Outcome) error {
	sctx, cancel := r.detached(ctx)
	defer cancel()
	switch outcome {
	case OutcomeAcked:
		return r.Queue.Ack(sctx, d)
	case OutcomeRejected:
		return r.Queue.Reject(sctx, d, false)
	default:
		return r.Queue.Reject(sctx, d, true)
	}
}

// record writes run telemetry. Failures are logged only.
func (r *Runner) record(ctx context.Context, d *queue.Delivery, res solved, outcome Outcome, elapsed time.Duration) {
	metrics.SolveGenerations.Observe(float64(res.metrics.Generations))
	metrics.BestDistance.Observe(res.sol.Cost)
	runID := topicFor(d)
	if r.Runs != nil {
		r.Runs.Record(runID, res.metrics)
	}
	if r.Store == nil {
		return
	}
	sctx, cancel := r.detached(ctx)
	defer cancel()
	_, err := r.Store.SaveSolveRecord(sctx, store.SolveRecord{
		CorrelationID: runID,
		Stops:         len(res.req.Problem.Stops),
		Drivers:       res.req.Problem.Drivers,
		ReturnToStart: res.req.Problem.ReturnToStart,
		Generations:   res.metrics.Generations,
		Population:    res.metrics.Population,
		Seed:          res.metrics.Seed,
		BestDistance:  res.sol.Cost,
		InitialBest:   res.metrics.InitialBest,
		DurationMs:    elapsed.Milliseconds(),
		Outcome:       string(outcome),
	})
	if err != nil {
		r.log().WithCorrelationID(d.CorrelationID).WithError(err).WarnContext(ctx, "Solve record not saved")
	}
}

func (r *Runner) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.SettleTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (r *Runner) emit(topic, typ string, data map[string]any) {
	if r.Events == nil {
		return
	}
	data["correlationId"] = topic
	r.Events.Publish(topic, events.Event{Type: typ, Data: data})
}

func (r *Runner) log() *logging.Logger {
	if r.Log == nil {
		return logging.Nop()
	}
	return r.Log
}

// topicFor keys events and run records by correlation id, falling back to the delivery id.
func topicFor(d *queue.Delivery) string {
	if d.CorrelationID != "" {
		return d.CorrelationID
	}
	return d.ID
}
