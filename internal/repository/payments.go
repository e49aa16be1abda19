package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmoiron/sqlx"
)

type PaymentsRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Payment, error)
	// RefundedTotal is the positive sum of refund rows recorded against the invoice.
	RefundedTotal(ctx context.Context, tx *sqlx.Tx, invoiceID int64) (int64, error)
	Create(ctx context.Context, tx *sqlx.Tx, p *model.Payment) (int64, error)
}

type PaymentsRepositoryImpl struct {
	db *sqlx.DB
}

func NewPaymentsRepository(db *sqlx.DB) *PaymentsRepositoryImpl {
	return &PaymentsRepositoryImpl{db: db}
}

var _ PaymentsRepository = (*PaymentsRepositoryImpl)(nil)

func (r *PaymentsRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Payment, error) {
	var p model.Payment
	err := r.db.GetContext(ctx, &p, `
		SELECT id, invoice_id, customer_id, amount, method, transaction_id, status, paid_at, created_at
		  FROM payments
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentsRepositoryImpl) RefundedTotal(ctx context.Context, tx *sqlx.Tx, invoiceID int64) (int64, error) {
	var total int64
	err := sqlx.GetContext(ctx, reader(r.db, tx), &total,
		`SELECT COALESCE(-SUM(amount), 0) FROM payments WHERE invoice_id = ? AND amount < 0 AND status = 'COMPLETED'`,
		invoiceID)
	return total, err
}

func (r *PaymentsRepositoryImpl) Create(ctx context.Context, tx *sqlx.Tx, p *model.Payment) (int64, error) {
	const q = `
		INSERT INTO payments
		    (invoice_id, customer_id, amount, method, transaction_id, status, paid_at, created_at)
		VALUES
		    (?,          ?,           ?,      ?,      ?,              ?,      ?,       NOW())
	`
	var id int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			p.InvoiceID, p.CustomerID, p.Amount, p.Method.String(), p.TransactionID, string(p.Status), p.PaidAt)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}
