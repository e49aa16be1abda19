package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const DefaultTopic = "ispbill.notifications"

// Message templates for the automated notifications.
const (
	SuspensionMessage      = "Your account has been suspended due to payment being %d days overdue. Please pay your outstanding balance to reactivate your service."
	OverdueWarningMessage  = "Your payment is %d days overdue. Please pay your invoice to avoid service suspension."
	ReactivationMessage    = "Your account has been reactivated. Thank you for your payment!"
	PaymentReceivedMessage = "We received your payment of %s for invoice %s. Thank you!"
)

// Event is the outbox payload relayed to the delivery workers.
type Event struct {
	NotificationID int64                  `json:"notification_id"`
	Type           model.NotificationType `json:"type"`
	CustomerID     int64                  `json:"customer_id"`
	Message        string                 `json:"message"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Service appends notifications and their outbox events in one transaction.
// Delivery (email, SMS) happens downstream of the outbox.
type Service struct {
	db            *sqlx.DB
	notifications repository.NotificationsRepository
	outbox        repository.OutboxRepository
	topic         string
	log           *zap.Logger
	now           func() time.Time
}

func New(db *sqlx.DB, notifications repository.NotificationsRepository, outbox repository.OutboxRepository, topic string, log *zap.Logger) *Service {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Service{db: db, notifications: notifications, outbox: outbox, topic: topic, log: log, now: time.Now}
}

func (s *Service) Notify(ctx context.Context, customerID int64, typ model.NotificationType, message string) error {
	n := model.Notification{
		Type:       typ,
		CustomerID: customerID,
		Message:    message,
		Status:     model.NotificationPending,
		CreatedAt:  s.now().UTC(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	id, err := s.notifications.Insert(ctx, tx, &n)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	payload, err := json.Marshal(Event{
		NotificationID: id,
		Type:           n.Type,
		CustomerID:     n.CustomerID,
		Message:        n.Message,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := s.outbox.Insert(ctx, tx, model.OutboxEvent{
		Aggregate:   "notification",
		AggregateID: strconv.FormatInt(id, 10),
		Topic:       s.topic,
		Payload:     payload,
	}); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("notification appended",
		zap.Int64("customer_id", customerID), zap.String("type", string(typ)), zap.Int64("notification_id", id))
	return nil
}

// LastOfType returns the customer's latest notification of typ, or nil when none was sent.
func (s *Service) LastOfType(ctx context.Context, customerID int64, typ model.NotificationType) (*model.Notification, error) {
	return s.notifications.LastOfType(ctx, customerID, typ)
}
