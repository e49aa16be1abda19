package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmoiron/sqlx"
)

type InvoicesRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Invoice, error)
	// GetForUpdate locks the invoice row inside tx.
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*model.Invoice, error)
	// ListOverdue returns PENDING and OVERDUE invoices due before now, oldest due date first.
	// A zero since disables the lookback bound.
	ListOverdue(ctx context.Context, now, since time.Time) ([]model.Invoice, error)
	HasInvoiceSince(ctx context.Context, customerID int64, since time.Time) (bool, error)

	MarkOverdue(ctx context.Context, tx *sqlx.Tx, ids []int64) error
	MarkPaid(ctx context.Context, tx *sqlx.Tx, id int64, paidAt time.Time) error
	MarkRefunded(ctx context.Context, tx *sqlx.Tx, id int64) error
	Create(ctx context.Context, tx *sqlx.Tx, inv *model.Invoice) (int64, error)
}

type InvoicesRepositoryImpl struct {
	db *sqlx.DB
}

func NewInvoicesRepository(db *sqlx.DB) *InvoicesRepositoryImpl {
	return &InvoicesRepositoryImpl{db: db}
}

var _ InvoicesRepository = (*InvoicesRepositoryImpl)(nil)

const invoiceColumns = `id, invoice_no, customer_id, amount, status, description, due_date, paid_at, created_at, updated_at`

func (r *InvoicesRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Invoice, error) {
	return r.getOne(ctx, nil, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ? LIMIT 1`, id)
}

func (r *InvoicesRepositoryImpl) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*model.Invoice, error) {
	return r.getOne(ctx, tx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ? FOR UPDATE`, id)
}

func (r *InvoicesRepositoryImpl) getOne(ctx context.Context, tx *sqlx.Tx, q string, id int64) (*model.Invoice, error) {
	var inv model.Invoice
	err := sqlx.GetContext(ctx, reader(r.db, tx), &inv, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *InvoicesRepositoryImpl) ListOverdue(ctx context.Context, now, since time.Time) ([]model.Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices WHERE status IN ('PENDING', 'OVERDUE') AND due_date < ?`
	args := []any{now}
	if !since.IsZero() {
		q += ` AND due_date >= ?`
		args = append(args, since)
	}
	q += ` ORDER BY due_date ASC, id ASC`

	var rows []model.Invoice
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *InvoicesRepositoryImpl) HasInvoiceSince(ctx context.Context, customerID int64, since time.Time) (bool, error) {
	var one int
	err := r.db.QueryRowxContext(ctx,
		`SELECT 1 FROM invoices WHERE customer_id = ? AND created_at >= ? LIMIT 1`, customerID, since,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkOverdue moves PENDING invoices to OVERDUE in one statement. Rows in any other state are left alone.
func (r *InvoicesRepositoryImpl) MarkOverdue(ctx context.Context, tx *sqlx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const base = `UPDATE invoices SET status = 'OVERDUE', updated_at = NOW() WHERE status = 'PENDING' AND id IN (?)`
	query, args, err := sqlx.In(base, ids)
	if err != nil {
		return err
	}
	query = r.db.Rebind(query)

	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}

func (r *InvoicesRepositoryImpl) MarkPaid(ctx context.Context, tx *sqlx.Tx, id int64, paidAt time.Time) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE invoices SET status = 'PAID', paid_at = ?, updated_at = NOW() WHERE id = ?`, paidAt, id)
		return err
	})
}

func (r *InvoicesRepositoryImpl) MarkRefunded(ctx context.Context, tx *sqlx.Tx, id int64) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE invoices SET status = 'REFUNDED', updated_at = NOW() WHERE id = ?`, id)
		return err
	})
}

func (r *InvoicesRepositoryImpl) Create(ctx context.Context, tx *sqlx.Tx, inv *model.Invoice) (int64, error) {
	const q = `
		INSERT INTO invoices
		    (invoice_no, customer_id, amount, status, description, due_date, created_at, updated_at)
		VALUES
		    (?,          ?,           ?,      ?,      ?,           ?,        ?,          ?)
	`
	// stamped here, in UTC, so month-boundary checks never depend on the server's time zone
	createdAt := inv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC()
	var id int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			inv.InvoiceNo, inv.CustomerID, inv.Amount, inv.Status.String(), inv.Description, inv.DueDate, createdAt, createdAt)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}
