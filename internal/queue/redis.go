package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis"
)

const defaultPollTimeout = 5 * time.Second

// RedisConfig describes the list-backed queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Name is the list key jobs are pushed to. In-flight messages sit in
	// Name+":processing" until acknowledged.
	Name string
	// PollTimeout bounds each blocking pop so cancellation is noticed.
	PollTimeout time.Duration
}

// Redis is a list-backed queue: LPUSH to enqueue, BRPOPLPUSH into a
// processing list to receive, LREM from that list to acknowledge.
type Redis struct {
	client      *redis.Client
	name        string
	processing  string
	pollTimeout time.Duration
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Name == "" {
		return nil, errors.New("queue name is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = defaultPollTimeout
	}
	return &Redis{
		client:      client,
		name:        cfg.Name,
		processing:  cfg.Name + ":processing",
		pollTimeout: poll,
	}, nil
}

// Ping checks connectivity.
func (q *Redis) Ping(ctx context.Context) error {
	return q.client.WithContext(ctx).Ping().Err()
}

func (q *Redis) Close() error { return q.client.Close() }

func (q *Redis) Enqueue(ctx context.Context, job Job) error {
	b, err := Encode(job)
	if err != nil {
		return err
	}
	if err := q.client.WithContext(ctx).LPush(q.name, string(b)).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", q.name, err)
	}
	return nil
}

func (q *Redis) Receive(ctx context.Context) (Delivery, error) {
	c := q.client.WithContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		raw, err := c.BRPopLPush(q.name, q.processing, q.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Delivery{}, ctxErr
			}
			return Delivery{}, fmt.Errorf("receive %s: %w", q.name, err)
		}
		return newDelivery(raw), nil
	}
}

func (q *Redis) Ack(ctx context.Context, d Delivery) error {
	if err := q.client.WithContext(ctx).LRem(q.processing, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", q.processing, err)
	}
	return nil
}
