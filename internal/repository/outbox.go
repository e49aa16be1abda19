package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmoiron/sqlx"
)

// ErrInvalidOutboxEvent is returned for events the outbox connector could not route or decode.
var ErrInvalidOutboxEvent = errors.New("invalid outbox event")

// OutboxRepository appends events for the Debezium outbox connector.
type OutboxRepository interface {
	// Insert writes one event. Callers pass the tx of the row the event describes,
	// so the event is published only if that row commits.
	Insert(ctx context.Context, tx *sqlx.Tx, e model.OutboxEvent) error
}

type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.OutboxEvent) error {
	if e.Topic == "" || e.AggregateID == "" || !json.Valid(e.Payload) {
		return ErrInvalidOutboxEvent
	}
	const q = `
		INSERT INTO outbox (aggregate, aggregate_id, topic, payload, attempts, created_at)
		VALUES (:aggregate, :aggregate_id, :topic, :payload, 0, NOW())
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, q, e)
		return err
	})
}
