package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmoiron/sqlx"
)

// SessionSamplesRepository stores active-session counters in ClickHouse.
type SessionSamplesRepository interface {
	InsertBatch(ctx context.Context, rows []model.SessionSample) error
	ListByUsername(ctx context.Context, routerID int64, username string, since time.Time, limit int) ([]model.SessionSample, error)
}

type chSessionSamplesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHSessionSamplesRepository(ch *sqlx.DB) SessionSamplesRepository {
	return &chSessionSamplesRepository{ch: ch}
}

// InsertBatch sends all rows as one ClickHouse block.
func (r *chSessionSamplesRepository) InsertBatch(ctx context.Context, rows []model.SessionSample) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ispbill.session_samples
		    (router_id, username, address, caller_id, uptime, bytes_in, bytes_out, sampled_at)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range rows {
		if _, err := stmt.ExecContext(ctx,
			s.RouterID, s.Username, s.Address, s.CallerID, s.Uptime, s.BytesIn, s.BytesOut, s.SampledAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *chSessionSamplesRepository) ListByUsername(ctx context.Context, routerID int64, username string, since time.Time, limit int) ([]model.SessionSample, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := `
		SELECT router_id, username, address, caller_id, uptime, bytes_in, bytes_out, sampled_at
		FROM ispbill.session_samples
		WHERE router_id = ? AND username = ?
	`
	args := []any{routerID, username}
	if !since.IsZero() {
		q += " AND sampled_at >= ?"
		args = append(args, since)
	}
	q += " ORDER BY sampled_at DESC LIMIT ?"
	args = append(args, limit)

	var rows []model.SessionSample
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
