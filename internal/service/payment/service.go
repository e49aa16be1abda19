package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/isp-billing/internal/metrics"
	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/repository"
	"github.com/jmehdipour/isp-billing/internal/service/notify"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Result codes for expected, user-correctable failures.
const (
	CodeInvoiceNotFound    = "INVOICE_NOT_FOUND"
	CodeInvoiceAlreadyPaid = "INVOICE_ALREADY_PAID"
	CodeInvoiceNotPayable  = "INVOICE_NOT_PAYABLE"
	CodeAmountMismatch     = "AMOUNT_MISMATCH"
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeUnsupportedMethod  = "UNSUPPORTED_METHOD"
	CodePaymentNotFound    = "PAYMENT_NOT_FOUND"
	CodeInvalidPayment     = "INVALID_PAYMENT"
	CodeProcessingError    = "PROCESSING_ERROR"
)

type Request struct {
	InvoiceID int64  `json:"invoice_id"`
	Amount    int64  `json:"amount"` // minor units
	Method    string `json:"method"`
}

type Result struct {
	Success       bool   `json:"success"`
	PaymentID     int64  `json:"payment_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message"`
}

func failure(code, msg string) Result {
	return Result{Error: code, Message: msg}
}

// Notifier appends a notification record.
type Notifier interface {
	Notify(ctx context.Context, customerID int64, typ model.NotificationType, message string) error
}

// Service settles invoices. Invoice, payment and balance writes share one transaction
// that holds the invoice row lock across the gateway call.
type Service struct {
	db        *sqlx.DB
	invoices  repository.InvoicesRepository
	payments  repository.PaymentsRepository
	customers repository.CustomersRepository
	notifier  Notifier
	gateways  map[model.PaymentMethod]Gateway
	methods   []Method
	log       *zap.Logger
	now       func() time.Time
}

func NewService(
	db *sqlx.DB,
	invoices repository.InvoicesRepository,
	payments repository.PaymentsRepository,
	customers repository.CustomersRepository,
	notifier Notifier,
	gateways map[model.PaymentMethod]Gateway,
	methods []Method,
	log *zap.Logger,
) *Service {
	return &Service{
		db:        db,
		invoices:  invoices,
		payments:  payments,
		customers: customers,
		notifier:  notifier,
		gateways:  gateways,
		methods:   methods,
		log:       log,
		now:       time.Now,
	}
}

// AvailableMethods lists the configured payment methods.
func (s *Service) AvailableMethods() []Method {
	return append([]Method(nil), s.methods...)
}

func (s *Service) gateway(raw string) (model.PaymentMethod, Gateway, bool) {
	m, _ := model.ParsePaymentMethod(raw)
	gw, ok := s.gateways[m]
	return m, gw, ok
}

// ProcessPayment charges the full invoice amount. Validation failures and declines
// come back as Result with Success=false and no writes; error means the store failed.
func (s *Service) ProcessPayment(ctx context.Context, req Request) (Result, error) {
	if req.Amount <= 0 {
		return failure(CodeInvalidAmount, "Payment amount must be positive"), nil
	}
	method, gw, ok := s.gateway(req.Method)
	if !ok {
		metrics.PaymentsTotal.WithLabelValues("charge", string(method), "unsupported").Inc()
		return failure(CodeUnsupportedMethod, fmt.Sprintf("Unsupported payment method: %s", req.Method)), nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback() }()

	inv, err := s.invoices.GetForUpdate(ctx, tx, req.InvoiceID)
	if err != nil {
		return Result{}, fmt.Errorf("load invoice %d: %w", req.InvoiceID, err)
	}
	switch {
	case inv == nil:
		return failure(CodeInvoiceNotFound, "Invoice not found"), nil
	case inv.Status == model.InvoicePaid:
		return failure(CodeInvoiceAlreadyPaid, "Invoice is already paid"), nil
	case !inv.Status.Outstanding():
		return failure(CodeInvoiceNotPayable, fmt.Sprintf("Invoice is %s", inv.Status)), nil
	case req.Amount != inv.Amount:
		return failure(CodeAmountMismatch, "Payment amount does not match invoice amount"), nil
	}

	gr, err := gw.Charge(ctx, req.Amount)
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues("charge", string(method), "error").Inc()
		s.log.Warn("gateway charge failed", zap.Int64("invoice_id", inv.ID), zap.String("method", string(method)), zap.Error(err))
		return failure(CodeProcessingError, "Payment could not be processed"), nil
	}
	if !gr.Success {
		metrics.PaymentsTotal.WithLabelValues("charge", string(method), "declined").Inc()
		return failure(gr.Code, gr.Message), nil
	}

	paidAt := s.now()
	p := model.Payment{
		InvoiceID:     inv.ID,
		CustomerID:    inv.CustomerID,
		Amount:        req.Amount,
		Method:        method,
		TransactionID: gr.TransactionID,
		Status:        model.PaymentCompleted,
		PaidAt:        &paidAt,
	}
	id, err := s.payments.Create(ctx, tx, &p)
	if err != nil {
		return s.lostCharge(inv, method, gr, fmt.Errorf("insert payment: %w", err))
	}
	if err := s.invoices.MarkPaid(ctx, tx, inv.ID, paidAt); err != nil {
		return s.lostCharge(inv, method, gr, fmt.Errorf("mark invoice paid: %w", err))
	}
	if err := s.customers.AdjustBalance(ctx, tx, inv.CustomerID, req.Amount); err != nil {
		return s.lostCharge(inv, method, gr, fmt.Errorf("credit balance: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return s.lostCharge(inv, method, gr, err)
	}
	metrics.PaymentsTotal.WithLabelValues("charge", string(method), "ok").Inc()

	msg := fmt.Sprintf(notify.PaymentReceivedMessage, FormatAmount(req.Amount), inv.InvoiceNo)
	if err := s.notifier.Notify(ctx, inv.CustomerID, model.NotifyPaymentReceived, msg); err != nil {
		s.log.Warn("payment notification not appended", zap.Int64("payment_id", id), zap.Error(err))
	}

	s.log.Info("payment completed",
		zap.Int64("payment_id", id), zap.Int64("invoice_id", inv.ID), zap.Int64("customer_id", inv.CustomerID),
		zap.String("method", string(method)), zap.String("transaction_id", gr.TransactionID))
	return Result{Success: true, PaymentID: id, TransactionID: gr.TransactionID, Message: gr.Message}, nil
}

// lostCharge logs a charge the gateway accepted but the store did not record.
func (s *Service) lostCharge(inv *model.Invoice, method model.PaymentMethod, gr GatewayResult, err error) (Result, error) {
	metrics.PaymentsTotal.WithLabelValues("charge", string(method), "unrecorded").Inc()
	s.log.Error("gateway charged but payment not recorded",
		zap.Int64("invoice_id", inv.ID), zap.String("transaction_id", gr.TransactionID), zap.Error(err))
	return Result{}, err
}

// ProcessRefund refunds amount (0 = everything not yet refunded) of a completed charge.
// The refund is a negative payment row; the invoice turns REFUNDED once the whole charge is returned.
func (s *Service) ProcessRefund(ctx context.Context, paymentID int64, amount int64) (Result, error) {
	if amount < 0 {
		return failure(CodeInvalidAmount, "Refund amount must not be negative"), nil
	}
	orig, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return Result{}, fmt.Errorf("load payment %d: %w", paymentID, err)
	}
	if orig == nil {
		return failure(CodePaymentNotFound, "Payment not found"), nil
	}
	if orig.IsRefund() || orig.Status != model.PaymentCompleted {
		return failure(CodeInvalidPayment, "Only completed charges can be refunded"), nil
	}
	gw, ok := s.gateways[orig.Method]
	if !ok {
		return failure(CodeUnsupportedMethod, "Unsupported payment method for refund"), nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback() }()

	inv, err := s.invoices.GetForUpdate(ctx, tx, orig.InvoiceID)
	if err != nil {
		return Result{}, fmt.Errorf("load invoice %d: %w", orig.InvoiceID, err)
	}
	if inv == nil {
		return failure(CodeInvoiceNotFound, "Invoice not found"), nil
	}
	refunded, err := s.payments.RefundedTotal(ctx, tx, orig.InvoiceID)
	if err != nil {
		return Result{}, fmt.Errorf("sum refunds: %w", err)
	}
	remaining := orig.Amount - refunded
	if amount == 0 {
		amount = remaining
	}
	if remaining <= 0 || amount > remaining {
		return failure(CodeInvalidAmount, fmt.Sprintf("Refund exceeds refundable amount %s", FormatAmount(max(remaining, 0)))), nil
	}

	gr, err := gw.Refund(ctx, orig.TransactionID, amount)
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues("refund", string(orig.Method), "error").Inc()
		s.log.Warn("gateway refund failed", zap.Int64("payment_id", orig.ID), zap.Error(err))
		return failure(CodeProcessingError, "Refund could not be processed"), nil
	}
	if !gr.Success {
		metrics.PaymentsTotal.WithLabelValues("refund", string(orig.Method), "declined").Inc()
		return failure(gr.Code, gr.Message), nil
	}

	paidAt := s.now()
	id, err := s.payments.Create(ctx, tx, &model.Payment{
		InvoiceID:     orig.InvoiceID,
		CustomerID:    orig.CustomerID,
		Amount:        -amount,
		Method:        orig.Method,
		TransactionID: gr.TransactionID,
		Status:        model.PaymentCompleted,
		PaidAt:        &paidAt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("insert refund: %w", err)
	}
	if err := s.customers.AdjustBalance(ctx, tx, orig.CustomerID, -amount); err != nil {
		return Result{}, fmt.Errorf("debit balance: %w", err)
	}
	if refunded+amount >= orig.Amount {
		if err := s.invoices.MarkRefunded(ctx, tx, orig.InvoiceID); err != nil {
			return Result{}, fmt.Errorf("mark invoice refunded: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	metrics.PaymentsTotal.WithLabelValues("refund", string(orig.Method), "ok").Inc()

	s.log.Info("refund completed",
		zap.Int64("refund_id", id), zap.Int64("payment_id", orig.ID), zap.Int64("amount", amount),
		zap.String("transaction_id", gr.TransactionID))
	return Result{Success: true, PaymentID: id, TransactionID: gr.TransactionID, Message: gr.Message}, nil
}

// Status returns the payment, or nil when it does not exist.
func (s *Service) Status(ctx context.Context, paymentID int64) (*model.Payment, error) {
	return s.payments.GetByID(ctx, paymentID)
}

// FormatAmount renders minor units as a decimal string, e.g. 2050 -> "20.50".
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
