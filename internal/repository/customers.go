package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmoiron/sqlx"
)

type CustomersRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Customer, error)
	GetByUsername(ctx context.Context, username string) (*model.Customer, error)
	ListByRouter(ctx context.Context, routerID int64) ([]model.Customer, error)
	ListByStatus(ctx context.Context, status model.CustomerStatus) ([]model.Customer, error)
	// ListSuspendedWithoutOutstanding returns SUSPENDED customers with no PENDING or OVERDUE invoice.
	ListSuspendedWithoutOutstanding(ctx context.Context) ([]model.Customer, error)

	Create(ctx context.Context, tx *sqlx.Tx, c *model.Customer) (int64, error)
	UpdateSynced(ctx context.Context, tx *sqlx.Tx, id int64, upd model.CustomerSync) error
	SetStatus(ctx context.Context, tx *sqlx.Tx, id int64, status model.CustomerStatus) error
	SetSecret(ctx context.Context, tx *sqlx.Tx, id int64, secretID *string) error
	AdjustBalance(ctx context.Context, tx *sqlx.Tx, id int64, delta int64) error
}

type CustomersRepositoryImpl struct {
	db *sqlx.DB
}

func NewCustomersRepository(db *sqlx.DB) *CustomersRepositoryImpl {
	return &CustomersRepositoryImpl{db: db}
}

var _ CustomersRepository = (*CustomersRepositoryImpl)(nil)

const customerColumns = `id, username, password, name, email, phone, address, status, balance,
	router_id, plan_id, pppoe_secret, created_at, updated_at`

func (r *CustomersRepositoryImpl) get(ctx context.Context, where string, arg any) (*model.Customer, error) {
	var c model.Customer
	err := r.db.GetContext(ctx, &c, `SELECT `+customerColumns+` FROM customers WHERE `+where+` LIMIT 1`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CustomersRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Customer, error) {
	return r.get(ctx, "id = ?", id)
}

func (r *CustomersRepositoryImpl) GetByUsername(ctx context.Context, username string) (*model.Customer, error) {
	return r.get(ctx, "username = ?", username)
}

func (r *CustomersRepositoryImpl) ListByRouter(ctx context.Context, routerID int64) ([]model.Customer, error) {
	var rows []model.Customer
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+customerColumns+` FROM customers WHERE router_id = ? ORDER BY id`, routerID)
	return rows, err
}

func (r *CustomersRepositoryImpl) ListByStatus(ctx context.Context, status model.CustomerStatus) ([]model.Customer, error) {
	var rows []model.Customer
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+customerColumns+` FROM customers WHERE status = ? ORDER BY id`, status.String())
	return rows, err
}

func (r *CustomersRepositoryImpl) ListSuspendedWithoutOutstanding(ctx context.Context) ([]model.Customer, error) {
	var rows []model.Customer
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+customerColumns+`
		  FROM customers c
		 WHERE c.status = 'SUSPENDED'
		   AND NOT EXISTS (
		       SELECT 1 FROM invoices i
		        WHERE i.customer_id = c.id AND i.status IN ('PENDING', 'OVERDUE'))
		 ORDER BY c.id
	`)
	return rows, err
}

func (r *CustomersRepositoryImpl) Create(ctx context.Context, tx *sqlx.Tx, c *model.Customer) (int64, error) {
	const q = `
		INSERT INTO customers
		    (username, password, name, email, phone, address, status, balance, router_id, plan_id, pppoe_secret, created_at, updated_at)
		VALUES
		    (?,        ?,        ?,    ?,     ?,     ?,       ?,      ?,       ?,         ?,       ?,            NOW(),      NOW())
	`
	var id int64
	err := withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q,
			c.Username, c.Password, c.Name, c.Email, c.Phone, c.Address, c.Status.String(),
			c.Balance, c.RouterID, c.PlanID, c.PPPoESecret,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// UpdateSynced writes only the fields set in upd.
func (r *CustomersRepositoryImpl) UpdateSynced(ctx context.Context, tx *sqlx.Tx, id int64, upd model.CustomerSync) error {
	if upd.Empty() {
		return nil
	}

	sets := make([]string, 0, 5)
	args := make([]any, 0, 5)
	if upd.Password != nil {
		sets = append(sets, "password = ?")
		args = append(args, *upd.Password)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, upd.Status.String())
	}
	if upd.PPPoESecret != nil {
		sets = append(sets, "pppoe_secret = ?")
		args = append(args, *upd.PPPoESecret)
	}
	if upd.PlanID != nil {
		sets = append(sets, "plan_id = ?")
		args = append(args, *upd.PlanID)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	q := `UPDATE customers SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, args...)
		return err
	})
}

func (r *CustomersRepositoryImpl) SetStatus(ctx context.Context, tx *sqlx.Tx, id int64, status model.CustomerStatus) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE customers SET status = ?, updated_at = NOW() WHERE id = ?`, status.String(), id)
		return err
	})
}

// SetSecret stores the device secret id; nil clears it.
func (r *CustomersRepositoryImpl) SetSecret(ctx context.Context, tx *sqlx.Tx, id int64, secretID *string) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE customers SET pppoe_secret = ?, updated_at = NOW() WHERE id = ?`, secretID, id)
		return err
	})
}

func (r *CustomersRepositoryImpl) AdjustBalance(ctx context.Context, tx *sqlx.Tx, id int64, delta int64) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE customers SET balance = balance + ?, updated_at = NOW() WHERE id = ?`, delta, id)
		return err
	})
}
