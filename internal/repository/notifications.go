package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmoiron/sqlx"
)

// NotificationsRepository appends to the notifications audit trail. Rows are never updated.
type NotificationsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, n *model.Notification) (int64, error)
	ListByCustomer(ctx context.Context, customerID int64, limit int) ([]model.Notification, error)
	// LastOfType returns the customer's most recent notification of typ, or nil.
	LastOfType(ctx context.Context, customerID int64, typ model.NotificationType) (*model.Notification, error)
}

type NotificationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewNotificationsRepository(db *sqlx.DB) *NotificationsRepositoryImpl {
	return &NotificationsRepositoryImpl{db: db}
}

var _ NotificationsRepository = (*NotificationsRepositoryImpl)(nil)

func (r *NotificationsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, n *model.Notification) (int64, error) {
	const q = `
		INSERT INTO notifications (type, customer_id, message, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var id int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, string(n.Type), n.CustomerID, n.Message, string(n.Status), createdAt.UTC())
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

func (r *NotificationsRepositoryImpl) ListByCustomer(ctx context.Context, customerID int64, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	var rows []model.Notification
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, type, customer_id, message, status, created_at
		  FROM notifications
		 WHERE customer_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?
	`, customerID, limit)
	return rows, err
}

func (r *NotificationsRepositoryImpl) LastOfType(ctx context.Context, customerID int64, typ model.NotificationType) (*model.Notification, error) {
	var n model.Notification
	err := r.db.GetContext(ctx, &n, `
		SELECT id, type, customer_id, message, status, created_at
		  FROM notifications
		 WHERE customer_id = ? AND type = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1
	`, customerID, string(typ))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}
