package store

import (
	"context"
	"errors"
	"time"
)

// SolveRecord is the telemetry row written after a job settles. It is never read back
// to resume work.
type SolveRecord struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlationId"`
	Stops         int       `json:"stops"`
	Drivers       int       `json:"drivers"`
	ReturnToStart bool      `json:"returnToStart"`
	Generations   int       `json:"generations"`
	Population    int       `json:"population"`
	Seed          int64     `json:"seed"`
	BestDistance  float64   `json:"bestDistance"`
	InitialBest   float64   `json:"initialBest"`
	DurationMs    int64     `json:"durationMs"`
	Outcome       string    `json:"outcome"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store is the telemetry interface used by the job runner and the admin server.
type Store interface {
	// SaveSolveRecord fills ID and CreatedAt when empty.
	SaveSolveRecord(ctx context.Context, rec SolveRecord) (SolveRecord, error)
	// ListSolveRecords returns records newest first. An empty correlationID lists all;
	// cursor is the ID of the last record of the previous page.
	ListSolveRecords(ctx context.Context, correlationID, cursor string, limit int) ([]SolveRecord, string, error)
	Ping(ctx context.Context) error
	Close() error
}

var ErrNotFound = errors.New("not found")

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
