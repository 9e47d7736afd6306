package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMemoryLimit is how many records NewMemory keeps.
const DefaultMemoryLimit = 10000

// Memory is a simple in-memory store used when no DATABASE_URL is set. It keeps the
// newest records up to its limit and drops the oldest.
type Memory struct {
	mu      sync.Mutex
	records []SolveRecord // append order, oldest first
	limit   int
	now     func() time.Time
}

func NewMemory() *Memory { return NewMemorySize(DefaultMemoryLimit) }

func NewMemorySize(limit int) *Memory {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Memory{limit: limit, now: func() time.Time { return time.Now().UTC() }}
}

func (m *Memory) SaveSolveRecord(_ context.Context, rec SolveRecord) (SolveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.records = append(m.records, rec)
	if len(m.records) > m.limit {
		m.records = m.records[len(m.records)-m.limit:]
	}
	return rec, nil
}

func (m *Memory) ListSolveRecords(_ context.Context, correlationID, cursor string, limit int) ([]SolveRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := len(m.records) - 1
	if cursor != "" {
		start = -1
		for i := len(m.records) - 1; i >= 0; i-- {
			if m.records[i].ID == cursor {
				start = i - 1
				break
			}
		}
		if start == -1 && !m.has(cursor) {
			return nil, "", ErrNotFound
		}
	}
	out := []SolveRecord{}
	next := ""
	for i := start; i >= 0; i-- {
		r := m.records[i]
		if correlationID != "" && r.CorrelationID != correlationID {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, r)
	}
	return out, next, nil
}

func (m *Memory) has(id string) bool {
	for _, r := range m.records {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
