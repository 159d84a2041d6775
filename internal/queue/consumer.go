/**
 * Job Consumer for the slip OCR worker
 *
 * Subscribes to the job channel and processes one job at a time.
 * Transport loss never stops the worker: the consumer drops back to
 * disconnected and reconnects with capped exponential backoff
 * (2s, 4s, 8s, 16s, 30s, 30s, ...), reset after each good subscription.
 *
 * States: disconnected -> connecting -> subscribed -> listening
 */

package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/adverant/nexus/slipocr-worker/internal/logging"
)

// State of the consumer's connection to the job source
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateListening
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateListening:
		return "listening"
	}
	return "unknown"
}

// Subscriber opens subscriptions to the job source
type Subscriber interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is one live connection to the job source
type Subscription interface {
	// Ping is the liveness probe; a subscription is trusted only after it succeeds
	Ping(ctx context.Context) error
	// Receive blocks for the next message body
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// MessageHandler processes one raw job message
type MessageHandler interface {
	HandleMessage(ctx context.Context, data []byte) error
}

// Backoff is a doubling delay with an upper bound
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

// NewBackoff creates a backoff starting at initial and capped at max
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{initial: initial, max: max, next: initial}
}

// Next returns the delay to wait now and doubles the following one
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	if d > b.max {
		d = b.max
	}
	return d
}

// Reset starts the sequence over
func (b *Backoff) Reset() {
	b.next = b.initial
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Subscriber   Subscriber
	Handler      MessageHandler
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Consumer runs the subscribe/listen/reconnect loop
type Consumer struct {
	subscriber Subscriber
	handler    MessageHandler
	backoff    *Backoff
	state      atomic.Int32
	sleep      func(ctx context.Context, d time.Duration) error
	onState    func(State)
	logger     *logging.Logger
}

// NewConsumer creates a new consumer
func NewConsumer(cfg *ConsumerConfig) *Consumer {
	initial, max := cfg.InitialDelay, cfg.MaxDelay
	if initial <= 0 {
		initial = 2 * time.Second
	}
	if max < initial {
		max = 30 * time.Second
	}
	return &Consumer{
		subscriber: cfg.Subscriber,
		handler:    cfg.Handler,
		backoff:    NewBackoff(initial, max),
		sleep:      sleepContext,
		logger:     logging.NewLogger("consumer"),
	}
}

// State returns the current connection state
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.logger.Debug("Consumer state changed", "state", s.String())
	if c.onState != nil {
		c.onState(s)
	}
}

// Run blocks until ctx is cancelled. It only returns nil; transport errors are retried forever.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Starting job consumer")

	for ctx.Err() == nil {
		c.setState(StateConnecting)

		sub, err := c.connect(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				break
			}
			delay := c.backoff.Next()
			c.logger.Warn("Failed to subscribe to job source, retrying",
				"error", err,
				"retry_in", delay.String(),
			)
			if c.sleep(ctx, delay) != nil {
				break
			}
			continue
		}

		c.backoff.Reset()
		c.setState(StateListening)
		c.logger.Info("Listening for jobs")

		err = c.listen(ctx, sub)
		sub.Close()
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			break
		}
		delay := c.backoff.Next()
		c.logger.Warn("Lost connection to job source, reconnecting",
			"error", err,
			"retry_in", delay.String(),
		)
		if c.sleep(ctx, delay) != nil {
			break
		}
	}

	c.setState(StateDisconnected)
	c.logger.Info("Job consumer stopped")
	return nil
}

func (c *Consumer) connect(ctx context.Context) (Subscription, error) {
	sub, err := c.subscriber.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	c.setState(StateSubscribed)

	if err := sub.Ping(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// listen handles messages in receive order until the subscription fails
func (c *Consumer) listen(ctx context.Context, sub Subscription) error {
	for {
		data, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		// errors are logged by the handler; one job never stops the loop
		_ = c.handler.HandleMessage(ctx, data)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
