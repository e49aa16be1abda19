package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmehdipour/isp-billing/internal/config"
	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	now         = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	invoiceCols = []string{"id", "invoice_no", "customer_id", "amount", "status", "description", "due_date", "paid_at", "created_at", "updated_at"}
	paymentCols = []string{"id", "invoice_id", "customer_id", "amount", "method", "transaction_id", "status", "paid_at", "created_at"}
)

type notified struct {
	customerID int64
	typ        model.NotificationType
	message    string
}

type recorder struct {
	got []notified
	err error
}

func (r *recorder) Notify(_ context.Context, customerID int64, typ model.NotificationType, message string) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, notified{customerID, typ, message})
	return nil
}

type brokenGateway struct{}

func (brokenGateway) Charge(context.Context, int64) (GatewayResult, error) {
	return GatewayResult{}, errors.New("gateway unreachable")
}

func (brokenGateway) Refund(context.Context, string, int64) (GatewayResult, error) {
	return GatewayResult{}, errors.New("gateway unreachable")
}

func newService(t *testing.T) (*Service, sqlmock.Sqlmock, *recorder) {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = raw.Close()
	})
	db := sqlx.NewDb(raw, "mysql")

	gateways := map[model.PaymentMethod]Gateway{
		model.MethodCash:        ManualGateway{Prefix: "cash"},
		model.MethodCreditCard:  SimulatedGateway{Prefix: "txn", FailureRate: 0.1, DeclineCode: "DECLINED", Rand: func() float64 { return 0.05 }},
		model.MethodMobileMoney: brokenGateway{},
	}
	rec := &recorder{}
	svc := NewService(db,
		repository.NewInvoicesRepository(db),
		repository.NewPaymentsRepository(db),
		repository.NewCustomersRepository(db),
		rec, gateways, nil, zap.NewNop())
	svc.now = func() time.Time { return now }
	return svc, mock, rec
}

func expectInvoice(mock sqlmock.Sqlmock, id int64, status model.InvoiceStatus, amount int64) {
	mock.ExpectQuery(`FROM invoices WHERE id = \? FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(invoiceCols).
			AddRow(id, "INV-2026-10-alice", 7, amount, string(status), "Monthly internet service - Basic plan", now.AddDate(0, 0, -3), nil, now, now))
}

func TestProcessPaymentSettlesInvoice(t *testing.T) {
	svc, mock, rec := newService(t)

	mock.ExpectBegin()
	expectInvoice(mock, 1, model.InvoiceOverdue, 2000)
	mock.ExpectExec(`INSERT INTO payments`).
		WithArgs(int64(1), int64(7), int64(2000), "CASH", sqlmock.AnyArg(), "COMPLETED", now).
		WillReturnResult(sqlmock.NewResult(31, 1))
	mock.ExpectExec(`UPDATE invoices SET status = 'PAID', paid_at = \?`).
		WithArgs(now, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE customers SET balance = balance \+ \?`).
		WithArgs(int64(2000), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := svc.ProcessPayment(context.Background(), Request{InvoiceID: 1, Amount: 2000, Method: "cash"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(31), res.PaymentID)
	require.Regexp(t, `^cash_[0-9a-z]{26}$`, res.TransactionID)

	require.Len(t, rec.got, 1)
	require.Equal(t, model.NotifyPaymentReceived, rec.got[0].typ)
	require.Contains(t, rec.got[0].message, "20.00")
}

func TestProcessPaymentAmountMismatchWritesNothing(t *testing.T) {
	svc, mock, rec := newService(t)

	mock.ExpectBegin()
	expectInvoice(mock, 1, model.InvoicePending, 2000)
	mock.ExpectRollback()

	res, err := svc.ProcessPayment(context.Background(), Request{InvoiceID: 1, Amount: 1500, Method: "CASH"})
	require.NoError(t, err)
	require.Equal(t, Result{Error: CodeAmountMismatch, Message: "Payment amount does not match invoice amount"}, res)
	require.Empty(t, rec.got)
}

func TestProcessPaymentInvoiceStates(t *testing.T) {
	cases := []struct {
		name   string
		status model.InvoiceStatus
		code   string
	}{
		{"paid", model.InvoicePaid, CodeInvoiceAlreadyPaid},
		{"cancelled", model.InvoiceCancelled, CodeInvoiceNotPayable},
		{"refunded", model.InvoiceRefunded, CodeInvoiceNotPayable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, mock, _ := newService(t)
			mock.ExpectBegin()
			expectInvoice(mock, 1, tc.status, 2000)
			mock.ExpectRollback()

			res, err := svc.ProcessPayment(context.Background(), Request{InvoiceID: 1, Amount: 2000, Method: "CASH"})
			require.NoError(t, err)
			require.False(t, res.Success)
			require.Equal(t, tc.code, res.Error)
		})
	}
}

func TestProcessPaymentInvoiceNotFound(t *testing.T) {
	svc, mock, _ := newService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM invoices WHERE id = \? FOR UPDATE`).WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows(invoiceCols))
	mock.ExpectRollback()

	res, err := svc.ProcessPayment(context.Background(), Request{InvoiceID: 9, Amount: 2000, Method: "CASH"})
	require.NoError(t, err)
	require.Equal(t, CodeInvoiceNotFound, res.Error)
}

func TestProcessPaymentRejectsBeforeTouchingStore(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	res, err := svc.ProcessPayment(ctx, Request{InvoiceID: 1, Amount: 2000, Method: "BANK_TRANSFER"})
	require.NoError(t, err)
	require.Equal(t, CodeUnsupportedMethod, res.Error)

	res, err = svc.ProcessPayment(ctx, Request{InvoiceID: 1, Amount: 2000, Method: "BITCOIN"})
	require.NoError(t, err)
	require.Equal(t, CodeUnsupportedMethod, res.Error)

	res, err = svc.ProcessPayment(ctx, Request{InvoiceID: 1, Amount: 0, Method: "CASH"})
	require.NoError(t, err)
	require.Equal(t, CodeInvalidAmount, res.Error)
}

func TestProcessPaymentDeclineWritesNothing(t *testing.T) {
	svc, mock, _ := newService(t)
	svc.gateways[model.MethodCreditCard] = SimulatedGateway{FailureRate: 1, DeclineCode: "DECLINED"}

	mock.ExpectBegin()
	expectInvoice(mock, 1, model.InvoicePending, 2000)
	mock.ExpectRollback()

	res, err := svc.ProcessPayment(context.Background(), Request{InvoiceID: 1, Amount: 2000, Method: "CREDIT_CARD"})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "DECLINED", res.Error)
}

func TestProcessPaymentGatewayErrorIsProcessingError(t *testing.T) {
	svc, mock, _ := newService(t)

	mock.ExpectBegin()
	expectInvoice(mock, 1, model.InvoicePending, 2000)
	mock.ExpectRollback()

	res, err := svc.ProcessPayment(context.Background(), Request{InvoiceID: 1, Amount: 2000, Method: "MOBILE_MONEY"})
	require.NoError(t, err)
	require.Equal(t, CodeProcessingError, res.Error)
}

func expectPayment(mock sqlmock.Sqlmock, id, amount int64, status model.PaymentStatus) {
	mock.ExpectQuery(`FROM payments\s+WHERE id = \?`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(paymentCols).
			AddRow(id, 1, 7, amount, "CASH", "cash_01", string(status), now, now))
}

func TestProcessRefundFullMarksInvoiceRefunded(t *testing.T) {
	svc, mock, _ := newService(t)

	expectPayment(mock, 31, 2000, model.PaymentCompleted)
	mock.ExpectBegin()
	expectInvoice(mock, 1, model.InvoicePaid, 2000)
	mock.ExpectQuery(`SELECT COALESCE\(-SUM\(amount\), 0\) FROM payments`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO payments`).
		WithArgs(int64(1), int64(7), int64(-2000), "CASH", sqlmock.AnyArg(), "COMPLETED", now).
		WillReturnResult(sqlmock.NewResult(32, 1))
	mock.ExpectExec(`UPDATE customers SET balance = balance \+ \?`).
		WithArgs(int64(-2000), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE invoices SET status = 'REFUNDED'`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := svc.ProcessRefund(context.Background(), 31, 0)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, int64(32), res.PaymentID)
	require.Regexp(t, `^cashref_`, res.TransactionID)
}

func TestProcessRefundPartialKeepsInvoicePaid(t *testing.T) {
	svc, mock, _ := newService(t)

	expectPayment(mock, 31, 2000, model.PaymentCompleted)
	mock.ExpectBegin()
	expectInvoice(mock, 1, model.InvoicePaid, 2000)
	mock.ExpectQuery(`SELECT COALESCE`).WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(500))
	mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(33, 1))
	mock.ExpectExec(`UPDATE customers SET balance`).WithArgs(int64(-700), int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := svc.ProcessRefund(context.Background(), 31, 700)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestProcessRefundBeyondRemaining(t *testing.T) {
	svc, mock, _ := newService(t)

	expectPayment(mock, 31, 2000, model.PaymentCompleted)
	mock.ExpectBegin()
	expectInvoice(mock, 1, model.InvoicePaid, 2000)
	mock.ExpectQuery(`SELECT COALESCE`).WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(1500))
	mock.ExpectRollback()

	res, err := svc.ProcessRefund(context.Background(), 31, 600)
	require.NoError(t, err)
	require.Equal(t, CodeInvalidAmount, res.Error)
}

func TestProcessRefundRejectsUnknownOrRefundRows(t *testing.T) {
	svc, mock, _ := newService(t)

	mock.ExpectQuery(`FROM payments`).WithArgs(int64(99)).WillReturnRows(sqlmock.NewRows(paymentCols))
	expectPayment(mock, 32, -2000, model.PaymentCompleted)

	res, err := svc.ProcessRefund(context.Background(), 99, 0)
	require.NoError(t, err)
	require.Equal(t, CodePaymentNotFound, res.Error)

	res, err = svc.ProcessRefund(context.Background(), 32, 0)
	require.NoError(t, err)
	require.Equal(t, CodeInvalidPayment, res.Error)
}

func TestGatewaysFromConfig(t *testing.T) {
	gateways, methods, err := GatewaysFromConfig(map[string]config.GatewayConfig{
		"CASH":        {Gateway: "manual", Label: "Cash", Prefix: "cash"},
		"CREDIT_CARD": {Gateway: "simulated", Prefix: "txn", FailureRate: 0.1, DeclineCode: "DECLINED"},
	})
	require.NoError(t, err)
	require.Len(t, gateways, 2)
	require.IsType(t, ManualGateway{}, gateways[model.MethodCash])
	require.Equal(t, []Method{
		{Method: model.MethodCash, Label: "Cash"},
		{Method: model.MethodCreditCard, Label: "CREDIT_CARD"},
	}, methods)
	_, ok := gateways[model.MethodOther]
	require.False(t, ok)

	_, _, err = GatewaysFromConfig(map[string]config.GatewayConfig{"CASH": {Gateway: "stripe"}})
	require.Error(t, err)
	_, _, err = GatewaysFromConfig(map[string]config.GatewayConfig{"CHEQUE": {Gateway: "manual"}})
	require.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "20.00", FormatAmount(2000))
	require.Equal(t, "0.05", FormatAmount(5))
	require.Equal(t, "-15.50", FormatAmount(-1550))
}
