package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the list-based reliable queue. Producers LPUSH envelopes
// onto Queue; the worker moves them into its own processing list while they run.
type RedisConfig struct {
	Queue      string
	ConsumerID string
	// Block bounds each BLMOVE so Receive notices cancellation. Redis rounds it up to 1s.
	Block time.Duration
	// ReplyTTL expires reply lists nobody reads.
	ReplyTTL time.Duration
}

func (c *RedisConfig) defaults() {
	if c.ConsumerID == "" {
		c.ConsumerID = "worker"
	}
	if c.Block <= 0 {
		c.Block = time.Second
	}
	if c.ReplyTTL <= 0 {
		c.ReplyTTL = 10 * time.Minute
	}
}

type envelope struct {
	ID            string `json:"id"`
	ReplyTo       string `json:"replyTo,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	Body          []byte `json:"body"`
	Deliveries    int    `json:"deliveries,omitempty"`
}

// Redis is a Queue over Redis lists. A received job sits in <queue>:processing:<consumer>
// until it is acked, requeued onto the consumer end of <queue>, or moved to <queue>:dead.
type Redis struct {
	rdb        *redis.Client
	cfg        RedisConfig
	processing string
	dead       string
}

func NewRedis(rdb *redis.Client, cfg RedisConfig) *Redis {
	cfg.defaults()
	return &Redis{
		rdb:        rdb,
		cfg:        cfg,
		processing: ProcessingKey(cfg.Queue, cfg.ConsumerID),
		dead:       DeadKey(cfg.Queue),
	}
}

// OpenRedis dials url (redis://...) and pings it.
func OpenRedis(ctx context.Context, url string, cfg RedisConfig) (*Redis, error) {
	rdb, err := Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewRedis(rdb, cfg), nil
}

// Dial returns a pinged client for url.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("queue: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("queue: ping redis: %w", err)
	}
	return rdb, nil
}

func ProcessingKey(queue, consumer string) string { return queue + ":processing:" + consumer }
func DeadKey(queue string) string                 { return queue + ":dead" }

// Recover moves jobs left in this consumer's processing list by a crashed run back
// onto the consumer end of the queue. It returns how many were moved.
func (q *Redis) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.cfg.Queue, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("queue: recover: %w", err)
		}
		n++
	}
}

// Receive blocks until a job is moved into the processing list. A job that was moved
// is always returned, even if ctx ended meanwhile, so the caller can settle it.
func (q *Redis) Receive(ctx context.Context) (*Delivery, error) {
	for {
		raw, err := q.rdb.BLMove(ctx, q.cfg.Queue, q.processing, "RIGHT", "LEFT", q.cfg.Block).Result()
		if err == nil {
			d, ok, err := q.delivery(ctx, raw)
			if err != nil || ok {
				return d, err
			}
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("queue: blmove: %w", err)
	}
}

// delivery decodes a moved envelope. Undecodable ones go to the dead list and ok is false.
func (q *Redis) delivery(ctx context.Context, raw string) (*Delivery, bool, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		if err := q.move(context.WithoutCancel(ctx), raw, q.dead, false); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return &Delivery{
		ID:            env.ID,
		Body:          env.Body,
		ReplyTo:       env.ReplyTo,
		CorrelationID: env.CorrelationID,
		Redelivered:   env.Deliveries > 0,
		handle:        raw,
	}, true, nil
}

// move removes raw from the processing list and pushes next onto key in one transaction.
func (q *Redis) move(ctx context.Context, raw, key string, tail bool, next ...string) error {
	val := raw
	if len(next) > 0 {
		val = next[0]
	}
	var rem *redis.IntCmd
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rem = pipe.LRem(ctx, q.processing, 1, raw)
		if tail {
			pipe.RPush(ctx, key, val)
		} else {
			pipe.LPush(ctx, key, val)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: settle: %w", err)
	}
	if rem.Val() == 0 {
		return ErrUnknownDelivery
	}
	return nil
}

func (q *Redis) Ack(ctx context.Context, d *Delivery) error {
	raw, ok := d.handle.(string)
	if !ok {
		return ErrUnknownDelivery
	}
	n, err := q.rdb.LRem(ctx, q.processing, 1, raw).Result()
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	if n == 0 {
		return ErrUnknownDelivery
	}
	return nil
}

func (q *Redis) Reject(ctx context.Context, d *Delivery, requeue bool) error {
	raw, ok := d.handle.(string)
	if !ok {
		return ErrUnknownDelivery
	}
	if !requeue {
		return q.move(ctx, raw, q.dead, false)
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return q.move(ctx, raw, q.dead, false)
	}
	env.Deliveries++
	next, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("queue: encode envelope: %w", err)
	}
	return q.move(ctx, raw, q.cfg.Queue, true, string(next))
}

// Publish pushes a reply envelope onto the replyTo list and refreshes its TTL.
func (q *Redis) Publish(ctx context.Context, replyTo, correlationID string, body []byte) error {
	raw, err := json.Marshal(envelope{ID: uuid.NewString(), CorrelationID: correlationID, Body: body})
	if err != nil {
		return fmt.Errorf("queue: encode reply: %w", err)
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, replyTo, raw)
		pipe.Expire(ctx, replyTo, q.cfg.ReplyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: publish reply: %w", err)
	}
	return nil
}

func (q *Redis) Close() error { return q.rdb.Close() }

// Enqueue is the producer side: it pushes a job envelope and returns its ID.
func Enqueue(ctx context.Context, rdb *redis.Client, queue string, body []byte, replyTo, correlationID string) (string, error) {
	env := envelope{ID: uuid.NewString(), ReplyTo: replyTo, CorrelationID: correlationID, Body: body}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("queue: encode envelope: %w", err)
	}
	if err := rdb.LPush(ctx, queue, raw).Err(); err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return env.ID, nil
}

// RedisCaller submits a job and waits on a per-call reply list.
type RedisCaller struct {
	rdb   *redis.Client
	queue string
	poll  time.Duration
}

func NewRedisCaller(rdb *redis.Client, queue string) *RedisCaller {
	return &RedisCaller{rdb: rdb, queue: queue, poll: time.Second}
}

func (c *RedisCaller) Call(ctx context.Context, body []byte) ([]byte, error) {
	cid := uuid.NewString()
	replyTo := c.queue + ":reply:" + cid
	if _, err := Enqueue(ctx, c.rdb, c.queue, body, replyTo, cid); err != nil {
		return nil, err
	}
	defer c.rdb.Del(context.WithoutCancel(ctx), replyTo)
	for {
		res, err := c.rdb.BRPop(ctx, c.poll, replyTo).Result()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("queue: await reply: %w", err)
		}
		var env envelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			return nil, fmt.Errorf("queue: decode reply: %w", err)
		}
		if env.CorrelationID == cid {
			return env.Body, nil
		}
	}
}

func (c *RedisCaller) Close() error { return c.rdb.Close() }

func (q *Redis) Ping(ctx context.Context) error { return q.rdb.Ping(ctx).Err() }
