// Package outbox moves order events from the outbox table to the broker.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const (
	defaultInterval  = time.Second
	defaultBatchSize = 100
)

// Store hands pending events to publish and acknowledges them when publish
// succeeds. A publish error keeps the whole batch pending.
type Store interface {
	Dispatch(ctx context.Context, limit int, publish func(ctx context.Context, events []order.Event) error) (int, error)
}

// Publisher sends events to the broker.
type Publisher interface {
	Publish(ctx context.Context, events []order.Event) error
}

// Option configures a Relay.
type Option func(*Relay)

// WithInterval sets the idle polling interval.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize sets how many events are published per round.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// Relay polls the outbox and publishes events at least once, oldest first.
type Relay struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
}

// NewRelay creates a Relay.
func NewRelay(store Store, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another round so a backlog drains without waiting for the ticker.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	lg.Info("Outbox relay started",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				lg.Warn("Outbox dispatch failed", zap.Error(err))
				break
			}
			if n < r.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			lg.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce publishes at most one batch and returns the number of events
// published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	n, err := r.store.Dispatch(ctx, r.batchSize, r.publisher.Publish)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		zctx.From(ctx).Debug("Published outbox events", zap.Int("count", n))
	}
	return n, nil
}
