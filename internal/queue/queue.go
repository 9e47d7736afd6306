// Package queue is the job transport: receive one job, publish its reply, then settle it.
package queue

import (
	"context"
	"errors"
)

var (
	ErrClosed = errors.New("queue: closed")
	// ErrUnknownDelivery is returned when settling a delivery twice or one from another queue.
	ErrUnknownDelivery = errors.New("queue: unknown delivery")
)

// Delivery is one inbound job. ReplyTo and CorrelationID come from the caller.
type Delivery struct {
	ID            string
	Body          []byte
	ReplyTo       string
	CorrelationID string
	Redelivered   bool

	handle any
}

// Queue is what the job runner needs from a broker. Implementations keep at most one
// unsettled delivery per consumer; Receive blocks until a job arrives or ctx is done.
type Queue interface {
	Receive(ctx context.Context) (*Delivery, error)
	Publish(ctx context.Context, replyTo, correlationID string, body []byte) error
	Ack(ctx context.Context, d *Delivery) error
	Reject(ctx context.Context, d *Delivery, requeue bool) error
	Close() error
}

// Caller is the requester side of the reply-to pattern.
type Caller interface {
	Call(ctx context.Context, body []byte) ([]byte, error)
	Close() error
}
