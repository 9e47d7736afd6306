package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type AMQPConfig struct {
	URL         string // amqp:// or amqps://
	Queue       string
	ConsumerTag string
	// Declare makes the worker declare Queue as durable before consuming.
	Declare bool
	// Confirms waits for broker confirmation of each reply before Publish returns.
	Confirms bool
}

// AMQP consumes jobs from a RabbitMQ queue with manual acks and a prefetch of one.
type AMQP struct {
	cfg        AMQPConfig
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
	mu         sync.Mutex // serializes publishes so confirms line up
}

func DialAMQP(cfg AMQPConfig) (*AMQP, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("queue: dial amqp: %w", err)
	}
	q := &AMQP{cfg: cfg, conn: conn}
	if err := q.setup(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *AMQP) setup() error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("queue: open channel: %w", err)
	}
	q.ch = ch
	if q.cfg.Declare {
		if _, err := ch.QueueDeclare(q.cfg.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue: declare %s: %w", q.cfg.Queue, err)
		}
	}
	// one unacknowledged job per worker
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("queue: set qos: %w", err)
	}
	if q.cfg.Confirms {
		if err := ch.Confirm(false); err != nil {
			return fmt.Errorf("queue: enable confirms: %w", err)
		}
	}
	deliveries, err := ch.Consume(q.cfg.Queue, q.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: consume %s: %w", q.cfg.Queue, err)
	}
	q.deliveries = deliveries
	return nil
}

func (q *AMQP) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, ErrClosed
		}
		id := d.MessageId
		if id == "" {
			id = strconv.FormatUint(d.DeliveryTag, 10)
		}
		return &Delivery{
			ID:            id,
			Body:          d.Body,
			ReplyTo:       d.ReplyTo,
			CorrelationID: d.CorrelationId,
			Redelivered:   d.Redelivered,
			handle:        d,
		}, nil
	}
}

// Publish sends a transient reply through the default exchange to replyTo.
func (q *AMQP) Publish(ctx context.Context, replyTo, correlationID string, body []byte) error {
	msg := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		DeliveryMode:  amqp.Transient,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	dc, err := q.ch.PublishWithDeferredConfirmWithContext(ctx, "", replyTo, false, false, msg)
	if err != nil {
		return fmt.Errorf("queue: publish reply: %w", err)
	}
	if dc == nil {
		return nil
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("queue: await confirm: %w", err)
	}
	if !acked {
		return errors.New("queue: reply nacked by broker")
	}
	return nil
}

func (q *AMQP) Ack(_ context.Context, d *Delivery) error {
	ad, ok := d.handle.(amqp.Delivery)
	if !ok {
		return ErrUnknownDelivery
	}
	return ad.Ack(false)
}

func (q *AMQP) Reject(_ context.Context, d *Delivery, requeue bool) error {
	ad, ok := d.handle.(amqp.Delivery)
	if !ok {
		return ErrUnknownDelivery
	}
	return ad.Nack(false, requeue)
}

func (q *AMQP) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	return q.conn.Close()
}

// AMQPCaller submits jobs and waits for correlated replies on a private reply queue.
type AMQPCaller struct {
	queue   string
	conn    *amqp.Connection
	ch      *amqp.Channel
	replyTo string
	replies <-chan amqp.Delivery
}

func DialAMQPCaller(url, queue string) (*AMQPCaller, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("queue: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	rq, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: declare reply queue: %w", err)
	}
	replies, err := ch.Consume(rq.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("queue: consume replies: %w", err)
	}
	return &AMQPCaller{queue: queue, conn: conn, ch: ch, replyTo: rq.Name, replies: replies}, nil
}

func (c *AMQPCaller) Call(ctx context.Context, body []byte) ([]byte, error) {
	cid := uuid.NewString()
	err := c.ch.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: cid,
		ReplyTo:       c.replyTo,
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		Body:          body,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: publish job: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-c.replies:
			if !ok {
				return nil, ErrClosed
			}
			if d.CorrelationId == cid {
				return d.Body, nil
			}
		}
	}
}

func (c *AMQPCaller) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Ping reports whether the broker connection is still open.
func (q *AMQP) Ping(context.Context) error {
	if q.conn.IsClosed() {
		return ErrClosed
	}
	return nil
}
