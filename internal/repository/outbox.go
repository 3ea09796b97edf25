package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const (
	appendEventSQL = `INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	pendingEventsSQL = `SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	markPublishedSQL = `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`
)

// OutboxRepository reads and acknowledges events appended by order
// transactions.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Dispatch locks up to limit unpublished events, oldest first, and hands
// them to publish. When publish succeeds the events are marked published in
// the same transaction; otherwise they stay pending for the next call.
// Locked rows are skipped so several relays can run side by side.
func (r *OutboxRepository) Dispatch(
	ctx context.Context,
	limit int,
	publish func(ctx context.Context, events []order.Event) error,
) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning outbox transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, pendingEventsSQL, limit)
	if err != nil {
		return 0, fmt.Errorf("querying pending events: %w", err)
	}
	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return 0, fmt.Errorf("scanning pending events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	if err := publish(ctx, events); err != nil {
		return 0, err
	}

	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	if _, err := tx.Exec(ctx, markPublishedSQL, ids); err != nil {
		return 0, fmt.Errorf("marking events published: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing outbox transaction: %w", err)
	}
	return len(events), nil
}

func appendEvent(ctx context.Context, q querier, e order.Event) error {
	_, err := q.Exec(ctx, appendEventSQL, e.ID, e.AggregateID, e.Type, e.Payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending %s event for %q: %w", e.Type, e.AggregateID, err)
	}
	return nil
}

func scanEvent(row pgx.CollectableRow) (order.Event, error) {
	var e order.Event
	err := row.Scan(&e.ID, &e.AggregateID, &e.Type, &e.Payload, &e.CreatedAt)
	return e, err
}
