package model

import "time"

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "PENDING"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceOverdue   InvoiceStatus = "OVERDUE"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
	InvoiceRefunded  InvoiceStatus = "REFUNDED"
)

func (s InvoiceStatus) String() string { return string(s) }

// Outstanding reports whether the invoice still expects a payment.
func (s InvoiceStatus) Outstanding() bool {
	return s == InvoicePending || s == InvoiceOverdue
}

type Invoice struct {
	ID          int64         `db:"id"`
	InvoiceNo   string        `db:"invoice_no"`
	CustomerID  int64         `db:"customer_id"`
	Amount      int64         `db:"amount"` // minor units
	Status      InvoiceStatus `db:"status"`
	Description string        `db:"description"`
	DueDate     time.Time     `db:"due_date"`
	PaidAt      *time.Time    `db:"paid_at"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}
