package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmoiron/sqlx"
)

type RoutersRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Router, error)
	ListActive(ctx context.Context) ([]model.Router, error)
	TouchLastSync(ctx context.Context, tx *sqlx.Tx, id int64, at time.Time) error
	Create(ctx context.Context, tx *sqlx.Tx, rt *model.Router) (int64, error)
}

type RoutersRepositoryImpl struct {
	db *sqlx.DB
}

func NewRoutersRepository(db *sqlx.DB) *RoutersRepositoryImpl {
	return &RoutersRepositoryImpl{db: db}
}

var _ RoutersRepository = (*RoutersRepositoryImpl)(nil)

const routerColumns = `id, name, host, port, username, password, is_active, last_sync_at, created_at, updated_at`

func (r *RoutersRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Router, error) {
	var rt model.Router
	err := r.db.GetContext(ctx, &rt, `SELECT `+routerColumns+` FROM routers WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r *RoutersRepositoryImpl) ListActive(ctx context.Context) ([]model.Router, error) {
	var rows []model.Router
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+routerColumns+` FROM routers WHERE is_active = 1 ORDER BY id`)
	return rows, err
}

func (r *RoutersRepositoryImpl) TouchLastSync(ctx context.Context, tx *sqlx.Tx, id int64, at time.Time) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE routers SET last_sync_at = ?, updated_at = NOW() WHERE id = ?`, at, id)
		return err
	})
}

func (r *RoutersRepositoryImpl) Create(ctx context.Context, tx *sqlx.Tx, rt *model.Router) (int64, error) {
	const q = `
		INSERT INTO routers (name, host, port, username, password, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)
	`
	var id int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, rt.Name, rt.Host, rt.Port, rt.Username, rt.Password, rt.IsActive)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}
