/**
 * Redis Pub/Sub job source for the slip OCR worker
 *
 * The producer PUBLISHes one JSON job per message on the jobs channel.
 * Each Subscribe call opens a fresh PubSub connection, waits for the
 * subscription confirmation and answers the consumer's PING probe.
 */

package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	subscribeTimeout = 5 * time.Second

	defaultPollInterval        = time.Second
	defaultHealthCheckInterval = 15 * time.Second
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string

	// PollInterval bounds each blocking read, so cancellation is noticed
	// within one interval even when the channel is idle.
	PollInterval time.Duration
	// HealthCheckInterval is how long the subscription may stay silent
	// before a PING is sent, and how long that PING may go unanswered.
	HealthCheckInterval time.Duration
}

// RedisSubscriber is the pub/sub Subscriber
type RedisSubscriber struct {
	client              *redis.Client
	channel             string
	pollInterval        time.Duration
	healthCheckInterval time.Duration
}

// NewRedisSubscriber creates a subscriber. It does not connect until Subscribe.
func NewRedisSubscriber(cfg *RedisConfig) (*RedisSubscriber, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("channel is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	sub := &RedisSubscriber{
		client:              client,
		channel:             cfg.Channel,
		pollInterval:        cfg.PollInterval,
		healthCheckInterval: cfg.HealthCheckInterval,
	}
	if sub.pollInterval <= 0 {
		sub.pollInterval = defaultPollInterval
	}
	if sub.healthCheckInterval <= 0 {
		sub.healthCheckInterval = defaultHealthCheckInterval
	}
	return sub, nil
}

// Subscribe opens a subscription and waits for the server to confirm it
func (s *RedisSubscriber) Subscribe(ctx context.Context) (Subscription, error) {
	ps := s.client.Subscribe(ctx, s.channel)

	msg, err := ps.ReceiveTimeout(ctx, subscribeTimeout)
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	if _, ok := msg.(*redis.Subscription); !ok {
		ps.Close()
		return nil, fmt.Errorf("unexpected reply to subscribe: %T", msg)
	}

	return &redisSubscription{
		ps:                  ps,
		pollInterval:        s.pollInterval,
		healthCheckInterval: s.healthCheckInterval,
		lastSeen:            time.Now(),
	}, nil
}

// Ping checks the plain client connection, used by the health endpoint
func (s *RedisSubscriber) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *RedisSubscriber) Close() error {
	return s.client.Close()
}

type redisSubscription struct {
	ps                  *redis.PubSub
	pollInterval        time.Duration
	healthCheckInterval time.Duration

	lastSeen   time.Time // last reply of any kind
	pingSentAt time.Time // zero when no PING is outstanding
	pending    [][]byte  // payloads read while waiting for a pong
}

// Ping sends PING and waits for the pong. Payloads that arrive first are
// kept for Receive.
func (r *redisSubscription) Ping(ctx context.Context) error {
	if err := r.ps.Ping(ctx); err != nil {
		return fmt.Errorf("liveness probe failed: %w", err)
	}

	deadline := time.Now().Add(r.healthCheckInterval)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("liveness probe failed: no pong within %s", r.healthCheckInterval)
		}
		msg, err := r.ps.ReceiveTimeout(ctx, remaining)
		if err != nil {
			return fmt.Errorf("liveness probe failed: %w", err)
		}
		r.lastSeen = time.Now()
		switch m := msg.(type) {
		case *redis.Pong:
			return nil
		case *redis.Message:
			r.pending = append(r.pending, []byte(m.Payload))
		}
	}
}

// Receive returns the next payload. It returns ctx.Err() promptly on
// cancellation and a transport error when a PING sent on an idle
// subscription goes unanswered.
func (r *redisSubscription) Receive(ctx context.Context) ([]byte, error) {
	if len(r.pending) > 0 {
		data := r.pending[0]
		r.pending = r.pending[1:]
		return data, nil
	}

	for {
		msg, err := r.ps.ReceiveTimeout(ctx, r.pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !isTimeout(err) {
				return nil, err
			}
			if err := r.checkHealth(ctx); err != nil {
				return nil, err
			}
			continue
		}

		r.lastSeen = time.Now()
		switch m := msg.(type) {
		case *redis.Message:
			return []byte(m.Payload), nil
		case *redis.Pong:
			r.pingSentAt = time.Time{}
		}
	}
}

// checkHealth runs after a read timed out with nothing received
func (r *redisSubscription) checkHealth(ctx context.Context) error {
	now := time.Now()
	if !r.pingSentAt.IsZero() {
		if now.Sub(r.pingSentAt) >= r.healthCheckInterval {
			return fmt.Errorf("no reply to PING within %s", r.healthCheckInterval)
		}
		return nil
	}
	if now.Sub(r.lastSeen) < r.healthCheckInterval {
		return nil
	}
	if err := r.ps.Ping(ctx); err != nil {
		return fmt.Errorf("failed to send PING: %w", err)
	}
	r.pingSentAt = now
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (r *redisSubscription) Close() error {
	return r.ps.Close()
}

// RedisPublisher publishes jobs on the jobs channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher
func NewRedisPublisher(cfg *RedisConfig) *RedisPublisher {
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: cfg.Channel,
	}
}

// Publish sends a job and returns the number of subscribers that received it
func (p *RedisPublisher) Publish(ctx context.Context, job *Job) (int64, error) {
	data, err := job.Encode()
	if err != nil {
		return 0, err
	}
	n, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish job: %w", err)
	}
	return n, nil
}

// Close closes the underlying client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
