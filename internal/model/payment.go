package model

import (
	"strings"
	"time"
)

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCreditCard   PaymentMethod = "CREDIT_CARD"
	MethodMobileMoney  PaymentMethod = "MOBILE_MONEY"
	MethodOther        PaymentMethod = "OTHER"
)

func (m PaymentMethod) String() string { return string(m) }

// ParsePaymentMethod normalizes input. Unknown methods are returned as-is with ok=false.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodCash, MethodBankTransfer, MethodCreditCard, MethodMobileMoney, MethodOther:
		return m, true
	default:
		return m, false
	}
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment is a charge (positive amount) or a refund (negative amount) against an invoice.
type Payment struct {
	ID            int64         `db:"id"`
	InvoiceID     int64         `db:"invoice_id"`
	CustomerID    int64         `db:"customer_id"`
	Amount        int64         `db:"amount"`
	Method        PaymentMethod `db:"method"`
	TransactionID string        `db:"transaction_id"`
	Status        PaymentStatus `db:"status"`
	PaidAt        *time.Time    `db:"paid_at"`
	CreatedAt     time.Time     `db:"created_at"`
}

func (p Payment) IsRefund() bool { return p.Amount < 0 }
