package model

import "time"

type NotificationType string

const (
	NotifySuspension      NotificationType = "SUSPENSION"
	NotifyOverdueWarning  NotificationType = "OVERDUE_WARNING"
	NotifyReactivation    NotificationType = "REACTIVATION"
	NotifyPaymentReceived NotificationType = "PAYMENT_RECEIVED"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationFailed  NotificationStatus = "FAILED"
)

// Notification is an append-only audit record; rows are never updated.
type Notification struct {
	ID         int64              `db:"id" json:"id"`
	Type       NotificationType   `db:"type" json:"type"`
	CustomerID int64              `db:"customer_id" json:"customer_id"`
	Message    string             `db:"message" json:"message"`
	Status     NotificationStatus `db:"status" json:"status"`
	CreatedAt  time.Time          `db:"created_at" json:"created_at"`
}
