package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmoiron/sqlx"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = raw.Close()
	})
	return sqlx.NewDb(raw, "mysql"), mock
}

var customerCols = []string{"id", "username", "password", "name", "email", "phone", "address", "status", "balance",
	"router_id", "plan_id", "pppoe_secret", "created_at", "updated_at"}

func TestCustomersGetByUsernameMissingReturnsNil(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCustomersRepository(db)

	mock.ExpectQuery(`SELECT .+ FROM customers WHERE username = \?`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(customerCols))

	c, err := repo.GetByUsername(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if c != nil {
		t.Fatalf("expected nil customer, got %+v", c)
	}
}

func TestCustomersListByRouterScansRows(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCustomersRepository(db)
	now := time.Now()
	secret := "*1"

	mock.ExpectQuery(`SELECT .+ FROM customers WHERE router_id = \?`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(customerCols).
			AddRow(1, "alice", "pw", "Alice", "alice@isp.local", nil, nil, "ACTIVE", 0, 3, 2, secret, now, now).
			AddRow(2, "bob", "pw", "Bob", "bob@isp.local", nil, nil, "SUSPENDED", -2000, 3, 2, nil, now, now))

	rows, err := repo.ListByRouter(context.Background(), 3)
	if err != nil {
		t.Fatalf("ListByRouter: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].SecretID() != "*1" || rows[1].PPPoESecret != nil {
		t.Fatalf("unexpected secrets %+v", rows)
	}
	if rows[1].Status != model.CustomerSuspended || rows[1].Balance != -2000 {
		t.Fatalf("unexpected second row %+v", rows[1])
	}
}

func TestCustomersUpdateSyncedWritesOnlySetFields(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCustomersRepository(db)
	status := model.CustomerSuspended
	secret := "*7"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE customers SET status = ?, pppoe_secret = ?, updated_at = NOW() WHERE id = ?`)).
		WithArgs("SUSPENDED", "*7", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateSynced(context.Background(), nil, 9, model.CustomerSync{Status: &status, PPPoESecret: &secret})
	if err != nil {
		t.Fatalf("UpdateSynced: %v", err)
	}
}

func TestCustomersUpdateSyncedEmptyIsNoop(t *testing.T) {
	db, _ := newMock(t)
	repo := NewCustomersRepository(db)

	if err := repo.UpdateSynced(context.Background(), nil, 9, model.CustomerSync{}); err != nil {
		t.Fatalf("UpdateSynced: %v", err)
	}
}

func TestCustomersCreateUsesCallerTx(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCustomersRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO customers`).
		WithArgs("carol", "pw", "carol", "carol@isp.local", nil, nil, "ACTIVE", int64(0), int64(1), int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectRollback()

	tx, err := db.Beginx()
	if err != nil {
		t.Fatal(err)
	}
	id, err := repo.Create(context.Background(), tx, &model.Customer{
		Username: "carol", Password: "pw", Name: "carol", Email: "carol@isp.local",
		Status: model.CustomerActive, RouterID: 1, PlanID: 2,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected id 42, got %d", id)
	}
	// the repository must not commit a transaction it does not own
	_ = tx.Rollback()
}

func TestPlansFindActiveByProfile(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPlansRepository(db)
	now := time.Now()

	mock.ExpectQuery(`FROM plans\s+WHERE ppp_profile = \? AND is_active = 1`).
		WithArgs("basic-5m").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "download_speed", "upload_speed", "data_limit", "ppp_profile", "is_active", "created_at", "updated_at"}).
			AddRow(1, "Basic", 2000, 5, 5, nil, "basic-5m", true, now, now))
	mock.ExpectQuery(`FROM plans\s+WHERE ppp_profile = \?`).
		WithArgs("unknown-profile").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	p, err := repo.FindActiveByProfile(context.Background(), "basic-5m")
	if err != nil || p == nil || p.Price != 2000 || p.DataLimit != nil {
		t.Fatalf("unexpected plan %+v err=%v", p, err)
	}
	p, err = repo.FindActiveByProfile(context.Background(), "unknown-profile")
	if err != nil || p != nil {
		t.Fatalf("expected no plan, got %+v err=%v", p, err)
	}
}

func TestRoutersTouchLastSync(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRoutersRepository(db)
	at := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE routers SET last_sync_at = \?`).
		WithArgs(at, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.TouchLastSync(context.Background(), nil, 5, at); err != nil {
		t.Fatalf("TouchLastSync: %v", err)
	}
}

func TestInvoicesListOverdueAppliesLookback(t *testing.T) {
	db, mock := newMock(t)
	repo := NewInvoicesRepository(db)
	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	since := now.AddDate(0, 0, -90)
	cols := []string{"id", "invoice_no", "customer_id", "amount", "status", "description", "due_date", "paid_at", "created_at", "updated_at"}

	mock.ExpectQuery(`WHERE status IN \('PENDING', 'OVERDUE'\) AND due_date < \? ORDER BY due_date ASC`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, "INV-2026-09-alice", 1, 2000, "PENDING", "", now.AddDate(0, 0, -10), nil, now, now))
	mock.ExpectQuery(`due_date < \? AND due_date >= \? ORDER BY`).
		WithArgs(now, since).
		WillReturnRows(sqlmock.NewRows(cols))

	rows, err := repo.ListOverdue(context.Background(), now, time.Time{})
	if err != nil || len(rows) != 1 || rows[0].InvoiceNo != "INV-2026-09-alice" {
		t.Fatalf("unexpected rows %+v err=%v", rows, err)
	}
	rows, err = repo.ListOverdue(context.Background(), now, since)
	if err != nil || len(rows) != 0 {
		t.Fatalf("unexpected rows %+v err=%v", rows, err)
	}
}

func TestInvoicesMarkOverdueExpandsIDs(t *testing.T) {
	db, mock := newMock(t)
	repo := NewInvoicesRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`WHERE status = 'PENDING' AND id IN (?, ?, ?)`)).
		WithArgs(int64(4), int64(5), int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	if err := repo.MarkOverdue(context.Background(), nil, []int64{4, 5, 6}); err != nil {
		t.Fatalf("MarkOverdue: %v", err)
	}
	if err := repo.MarkOverdue(context.Background(), nil, nil); err != nil {
		t.Fatalf("MarkOverdue(empty): %v", err)
	}
}

func TestInvoicesHasInvoiceSince(t *testing.T) {
	db, mock := newMock(t)
	repo := NewInvoicesRepository(db)
	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT 1 FROM invoices WHERE customer_id = \? AND created_at >= \?`).
		WithArgs(int64(1), since).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(`SELECT 1 FROM invoices WHERE customer_id = \?`).
		WithArgs(int64(2), since).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	ok, err := repo.HasInvoiceSince(context.Background(), 1, since)
	if err != nil || !ok {
		t.Fatalf("expected invoice, got ok=%v err=%v", ok, err)
	}
	ok, err = repo.HasInvoiceSince(context.Background(), 2, since)
	if err != nil || ok {
		t.Fatalf("expected none, got ok=%v err=%v", ok, err)
	}
}

func TestInvoicesCreateStampsUTC(t *testing.T) {
	db, mock := newMock(t)
	repo := NewInvoicesRepository(db)
	local := time.Date(2026, 4, 1, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*60*60))
	due := local.AddDate(0, 0, 30)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO invoices`).
		WithArgs("INV-2026-03-alice", int64(7), int64(2000), "PENDING", "Monthly internet service - Basic plan", due,
			local.UTC(), local.UTC()).
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectCommit()

	id, err := repo.Create(context.Background(), nil, &model.Invoice{
		InvoiceNo: "INV-2026-03-alice", CustomerID: 7, Amount: 2000, Status: model.InvoicePending,
		Description: "Monthly internet service - Basic plan", DueDate: due, CreatedAt: local,
	})
	if err != nil || id != 12 {
		t.Fatalf("Create: id=%d err=%v", id, err)
	}
}

func TestNotificationsLastOfType(t *testing.T) {
	db, mock := newMock(t)
	repo := NewNotificationsRepository(db)
	at := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	cols := []string{"id", "type", "customer_id", "message", "status", "created_at"}

	mock.ExpectQuery(`WHERE customer_id = \? AND type = \?\s+ORDER BY created_at DESC, id DESC\s+LIMIT 1`).
		WithArgs(int64(7), "OVERDUE_WARNING").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(3, "OVERDUE_WARNING", 7, "2 days overdue", "PENDING", at))
	mock.ExpectQuery(`WHERE customer_id = \? AND type = \?`).
		WithArgs(int64(8), "OVERDUE_WARNING").
		WillReturnRows(sqlmock.NewRows(cols))

	n, err := repo.LastOfType(context.Background(), 7, model.NotifyOverdueWarning)
	if err != nil || n == nil || n.ID != 3 || !n.CreatedAt.Equal(at) {
		t.Fatalf("unexpected notification %+v err=%v", n, err)
	}
	n, err = repo.LastOfType(context.Background(), 8, model.NotifyOverdueWarning)
	if err != nil || n != nil {
		t.Fatalf("expected nil for no rows, got %+v err=%v", n, err)
	}
}

func TestPaymentsCreateAndRefundedTotal(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPaymentsRepository(db)
	paidAt := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO payments`).
		WithArgs(int64(1), int64(2), int64(-500), "CASH", "REF_x", "COMPLETED", paidAt).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT COALESCE\(-SUM\(amount\), 0\) FROM payments WHERE invoice_id = \?`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(500))

	id, err := repo.Create(context.Background(), nil, &model.Payment{
		InvoiceID: 1, CustomerID: 2, Amount: -500, Method: model.MethodCash,
		TransactionID: "REF_x", Status: model.PaymentCompleted, PaidAt: &paidAt,
	})
	if err != nil || id != 11 {
		t.Fatalf("Create: id=%d err=%v", id, err)
	}
	total, err := repo.RefundedTotal(context.Background(), nil, 1)
	if err != nil || total != 500 {
		t.Fatalf("RefundedTotal: %d err=%v", total, err)
	}
}

func TestOutboxInsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOutboxRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO outbox`).
		WithArgs("notification", "7", "ispbill.notifications", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Insert(context.Background(), nil, model.OutboxEvent{
		Aggregate: "notification", AggregateID: "7", Topic: "ispbill.notifications", Payload: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestOutboxInsertRejectsUnroutableEvent(t *testing.T) {
	db, _ := newMock(t)
	repo := NewOutboxRepository(db)

	for _, e := range []model.OutboxEvent{
		{Aggregate: "notification", AggregateID: "7", Payload: []byte(`{}`)},
		{Aggregate: "notification", AggregateID: "7", Topic: "t", Payload: []byte(`{`)},
		{Aggregate: "notification", Topic: "t", Payload: []byte(`{}`)},
	} {
		if err := repo.Insert(context.Background(), nil, e); !errors.Is(err, ErrInvalidOutboxEvent) {
			t.Fatalf("expected ErrInvalidOutboxEvent, got %v", err)
		}
	}
}
