package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmoiron/sqlx"
)

type PlansRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Plan, error)
	// FindActiveByProfile resolves a device profile name to an active plan; nil when none matches.
	FindActiveByProfile(ctx context.Context, profile string) (*model.Plan, error)
	Create(ctx context.Context, tx *sqlx.Tx, p *model.Plan) (int64, error)
}

type PlansRepositoryImpl struct {
	db *sqlx.DB
}

func NewPlansRepository(db *sqlx.DB) *PlansRepositoryImpl {
	return &PlansRepositoryImpl{db: db}
}

var _ PlansRepository = (*PlansRepositoryImpl)(nil)

const planColumns = `id, name, price, download_speed, upload_speed, data_limit, ppp_profile, is_active, created_at, updated_at`

func (r *PlansRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Plan, error) {
	var p model.Plan
	err := r.db.GetContext(ctx, &p, `SELECT `+planColumns+` FROM plans WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PlansRepositoryImpl) FindActiveByProfile(ctx context.Context, profile string) (*model.Plan, error) {
	var p model.Plan
	err := r.db.GetContext(ctx, &p, `
		SELECT `+planColumns+`
		  FROM plans
		 WHERE ppp_profile = ? AND is_active = 1
		 ORDER BY id LIMIT 1
	`, profile)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PlansRepositoryImpl) Create(ctx context.Context, tx *sqlx.Tx, p *model.Plan) (int64, error) {
	const q = `
		INSERT INTO plans (name, price, download_speed, upload_speed, data_limit, ppp_profile, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)
	`
	var id int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			p.Name, p.Price, p.DownloadSpeed, p.UploadSpeed, p.DataLimit, p.PPPProfile, p.IsActive)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}
