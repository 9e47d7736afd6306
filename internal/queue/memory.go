package queue

import (
	"context"
	"fmt"
	"sync"
)

// Reply is a published reply captured by Memory.
type Reply struct {
	To            string
	CorrelationID string
	Body          []byte
}

// Memory is an in-process Queue for tests and local runs. Rejected-with-requeue
// deliveries go back to the front of the queue, rejected ones to Dead.
type Memory struct {
	mu       sync.Mutex
	pending  []*Delivery
	inflight map[*Delivery]bool
	notify   chan struct{}
	closed   bool
	seq      int

	Replies []Reply
	Acked   []*Delivery
	Dead    []*Delivery
	// PublishErr, when set, is returned by Publish.
	PublishErr error
}

func NewMemory() *Memory {
	return &Memory{inflight: map[*Delivery]bool{}, notify: make(chan struct{}, 1)}
}

// Enqueue adds a job as a caller would.
func (m *Memory) Enqueue(body []byte, replyTo, correlationID string) *Delivery {
	m.mu.Lock()
	m.seq++
	d := &Delivery{ID: fmt.Sprintf("mem-%d", m.seq), Body: body, ReplyTo: replyTo, CorrelationID: correlationID}
	m.pending = append(m.pending, d)
	m.mu.Unlock()
	m.wake()
	return d
}

func (m *Memory) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Memory) Receive(ctx context.Context) (*Delivery, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		if len(m.pending) > 0 && len(m.inflight) == 0 {
			d := m.pending[0]
			m.pending = m.pending[1:]
			m.inflight[d] = true
			m.mu.Unlock()
			return d, nil
		}
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.notify:
		}
	}
}

func (m *Memory) Publish(_ context.Context, replyTo, correlationID string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Replies = append(m.Replies, Reply{To: replyTo, CorrelationID: correlationID, Body: append([]byte(nil), body...)})
	return nil
}

func (m *Memory) settle(d *Delivery) error {
	if !m.inflight[d] {
		return ErrUnknownDelivery
	}
	delete(m.inflight, d)
	return nil
}

func (m *Memory) Ack(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.wake()
	defer m.mu.Unlock()
	if err := m.settle(d); err != nil {
		return err
	}
	m.Acked = append(m.Acked, d)
	return nil
}

func (m *Memory) Reject(_ context.Context, d *Delivery, requeue bool) error {
	m.mu.Lock()
	defer m.wake()
	defer m.mu.Unlock()
	if err := m.settle(d); err != nil {
		return err
	}
	if requeue {
		d.Redelivered = true
		m.pending = append([]*Delivery{d}, m.pending...)
		return nil
	}
	m.Dead = append(m.Dead, d)
	return nil
}

// Pending reports queued and unsettled deliveries.
func (m *Memory) Pending() (queued, inflight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), len(m.inflight)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
	return nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}
