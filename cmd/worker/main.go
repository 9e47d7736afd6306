package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"routeworker/internal/api"
	"routeworker/internal/buildinfo"
	"routeworker/internal/config"
	"routeworker/internal/events"
	"routeworker/internal/job"
	"routeworker/internal/logging"
	"routeworker/internal/metrics"
	"routeworker/internal/opt"
	"routeworker/internal/queue"
	"routeworker/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logCfg := logging.DefaultConfig("routeworker")
	logCfg.Level = cfg.LogLevel
	logCfg.Environment = cfg.Environment
	logCfg.Version = buildinfo.Version
	log := logging.New(logCfg)
	log.SetDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("Worker exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *logging.Logger) error {
	metrics.RegisterDefault()
	log.Info("Starting worker", "transport", cfg.Transport, "queue", cfg.Queue, "consumerId", cfg.ConsumerID, "commit", buildinfo.Commit)

	q, err := openQueue(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	broker, closeBroker, err := openBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBroker()

	runs := opt.NewRegistry(200)
	runner := job.NewRunner(q, cfg.Solver, log)
	runner.Store = st
	runner.Events = broker
	runner.Runs = runs

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })

	if cfg.AdminAddr != "" {
		admin := &api.Server{
			Store:  st,
			Broker: broker,
			Runs:   runs,
			Solver: cfg.Solver,
			Queue:  q,
			Config: cfg.Redacted(),
			Log:    log.WithComponent("admin"),
		}
		srv := admin.NewHTTPServer(cfg.AdminAddr)
		g.Go(func() error {
			log.Info("Admin listening", "addr", cfg.AdminAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info("Worker stopped")
	return err
}

// queueBackend is what the worker needs from a transport beyond queue.Queue.
type queueBackend interface {
	queue.Queue
	api.Pinger
}

func openQueue(ctx context.Context, cfg config.Config, log *logging.Logger) (queueBackend, error) {
	var q queueBackend
	err := retry.Do(
		func() error {
			switch cfg.Transport {
			case config.TransportRedis:
				rq, err := queue.OpenRedis(ctx, cfg.RedisURL, queue.RedisConfig{Queue: cfg.Queue, ConsumerID: cfg.ConsumerID})
				if err != nil {
					return err
				}
				n, err := rq.Recover(ctx)
				if err != nil {
					_ = rq.Close()
					return err
				}
				if n > 0 {
					log.Warn("Requeued jobs left by a previous run", "count", n)
				}
				q = rq
			default:
				aq, err := queue.DialAMQP(queue.AMQPConfig{
					URL:         cfg.AMQPURL,
					Queue:       cfg.Queue,
					ConsumerTag: cfg.ConsumerID,
					Declare:     cfg.QueueDeclare,
					Confirms:    cfg.PublisherConfirms,
				})
				if err != nil {
					return err
				}
				q = aq
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(10),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warn("Broker connect failed", "attempt", n+1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Transport, err)
	}
	return q, nil
}

// openStore uses Postgres when DATABASE_URL is set, otherwise the in-memory store.
func openStore(ctx context.Context, cfg config.Config, log *logging.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		return store.NewMemorySize(cfg.MemoryStoreLimit), nil
	}
	var pg *store.Postgres
	err := retry.Do(
		func() error {
			var err error
			pg, err = store.NewPostgres(cfg.DatabaseURL)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.DBMigrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info("Telemetry store ready", "backend", "postgres")
	return pg, nil
}

func openBroker(ctx context.Context, cfg config.Config) (events.EventBroker, func(), error) {
	if cfg.EventsBackend != config.BackendRedis {
		return events.NewBroker(), func() {}, nil
	}
	rdb, err := queue.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("events: %w", err)
	}
	return events.NewRedisBroker(rdb), func() { _ = rdb.Close() }, nil
}
