package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// migrationFiles lists the embedded migrations in apply order.
func migrationFiles() ([]string, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Migrate applies embedded migrations not yet recorded in schema_migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	names, err := migrationFiles()
	if err != nil {
		return err
	}
	for _, name := range names {
		var one int
		err := p.db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version=$1`, name).Scan(&one)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		body, err := migrationFS.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) SaveSolveRecord(ctx context.Context, rec SolveRecord) (SolveRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO solve_metrics (id, correlation_id, stops, drivers, return_to_start, generations, population, seed, best_distance, initial_best, duration_ms, outcome, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.ID, rec.CorrelationID, rec.Stops, rec.Drivers, rec.ReturnToStart, rec.Generations, rec.Population, rec.Seed,
		rec.BestDistance, rec.InitialBest, rec.DurationMs, rec.Outcome, rec.CreatedAt,
	)
	if err != nil {
		return SolveRecord{}, err
	}
	return rec, nil
}

func (p *Postgres) ListSolveRecords(ctx context.Context, correlationID, cursor string, limit int) ([]SolveRecord, string, error) {
	limit = clampLimit(limit)
	q := `SELECT id::text, correlation_id, stops, drivers, return_to_start, generations, population, seed, best_distance, initial_best, duration_ms, outcome, created_at FROM solve_metrics WHERE true`
	args := []any{}
	if correlationID != "" {
		args = append(args, correlationID)
		q += fmt.Sprintf(` AND correlation_id=$%d`, len(args))
	}
	if cursor != "" {
		var at time.Time
		err := p.db.QueryRowContext(ctx, `SELECT created_at FROM solve_metrics WHERE id::text=$1`, cursor).Scan(&at)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		if err != nil {
			return nil, "", err
		}
		args = append(args, at, cursor)
		q += fmt.Sprintf(` AND (created_at, id::text) < ($%d, $%d)`, len(args)-1, len(args))
	}
	args = append(args, limit+1)
	q += fmt.Sprintf(` ORDER BY created_at DESC, id::text DESC LIMIT $%d`, len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []SolveRecord{}
	for rows.Next() {
		var r SolveRecord
		if err := rows.Scan(&r.ID, &r.CorrelationID, &r.Stops, &r.Drivers, &r.ReturnToStart, &r.Generations, &r.Population, &r.Seed,
			&r.BestDistance, &r.InitialBest, &r.DurationMs, &r.Outcome, &r.CreatedAt); err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}
