package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/isp-billing/internal/metrics"
	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/repository"
	"github.com/jmehdipour/isp-billing/internal/service/notify"
	"go.uber.org/zap"
)

const day = 24 * time.Hour

// Provisioner flips device access for a customer. Implemented by the provisioning service.
type Provisioner interface {
	Suspend(ctx context.Context, c *model.Customer) error
	Resume(ctx context.Context, c *model.Customer) error
}

// Notifier appends a notification record and looks up the latest one of a kind.
type Notifier interface {
	Notify(ctx context.Context, customerID int64, typ model.NotificationType, message string) error
	LastOfType(ctx context.Context, customerID int64, typ model.NotificationType) (*model.Notification, error)
}

type Policy struct {
	SuspendAfterDays int           // warn below, suspend at or above
	OverdueLookback  time.Duration // 0 = unbounded
	InvoiceDueDays   int
	WarningInterval  time.Duration // minimum gap between two overdue warnings to one customer
}

func (p Policy) withDefaults() Policy {
	if p.SuspendAfterDays <= 0 {
		p.SuspendAfterDays = 7
	}
	if p.InvoiceDueDays <= 0 {
		p.InvoiceDueDays = 30
	}
	if p.WarningInterval <= 0 {
		p.WarningInterval = day
	}
	return p
}

type SuspensionResult struct {
	Suspended   int      `json:"suspended"`
	Reactivated int      `json:"reactivated"`
	Notified    int      `json:"notified"`
	Errors      []string `json:"errors"`
}

type InvoiceResult struct {
	Generated int      `json:"generated"`
	Errors    []string `json:"errors"`
}

type Service struct {
	invoices  repository.InvoicesRepository
	customers repository.CustomersRepository
	plans     repository.PlansRepository
	prov      Provisioner
	notifier  Notifier
	policy    Policy
	log       *zap.Logger
	now       func() time.Time
}

func NewService(invoices repository.InvoicesRepository, customers repository.CustomersRepository, plans repository.PlansRepository,
	prov Provisioner, notifier Notifier, policy Policy, log *zap.Logger) *Service {
	return &Service{
		invoices:  invoices,
		customers: customers,
		plans:     plans,
		prov:      prov,
		notifier:  notifier,
		policy:    policy.withDefaults(),
		log:       log,
		now:       time.Now,
	}
}

// ProcessOverdueInvoices marks past-due invoices OVERDUE, warns or suspends their
// customers, and reactivates suspended customers with nothing left to pay.
// Per-customer failures are collected; the returned error means the store failed
// or ctx ended, and the partial result is still valid.
func (s *Service) ProcessOverdueInvoices(ctx context.Context) (SuspensionResult, error) {
	res := SuspensionResult{Errors: []string{}}
	now := s.now()

	var since time.Time
	if s.policy.OverdueLookback > 0 {
		since = now.Add(-s.policy.OverdueLookback)
	}
	overdue, err := s.invoices.ListOverdue(ctx, now, since)
	if err != nil {
		return res, fmt.Errorf("list overdue invoices: %w", err)
	}

	pending := make([]int64, 0, len(overdue))
	for _, inv := range overdue {
		if inv.Status == model.InvoicePending {
			pending = append(pending, inv.ID)
		}
	}
	if err := s.invoices.MarkOverdue(ctx, nil, pending); err != nil {
		return res, fmt.Errorf("mark overdue: %w", err)
	}

	// Rows arrive oldest due date first, so the first invoice seen per customer represents it.
	var order []int64
	oldest := make(map[int64]model.Invoice)
	for _, inv := range overdue {
		if _, seen := oldest[inv.CustomerID]; !seen {
			oldest[inv.CustomerID] = inv
			order = append(order, inv.CustomerID)
		}
	}

	for _, customerID := range order {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s.enforce(ctx, &res, customerID, oldest[customerID], now)
	}

	suspended, err := s.customers.ListSuspendedWithoutOutstanding(ctx)
	if err != nil {
		return res, fmt.Errorf("list reactivation candidates: %w", err)
	}
	for i := range suspended {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s.reactivate(ctx, &res, &suspended[i])
	}

	s.log.Info("overdue invoices processed",
		zap.Int("invoices", len(overdue)), zap.Int("suspended", res.Suspended),
		zap.Int("reactivated", res.Reactivated), zap.Int("notified", res.Notified), zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (s *Service) enforce(ctx context.Context, res *SuspensionResult, customerID int64, inv model.Invoice, now time.Time) {
	c, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		s.fail(res, "customer %d: load: %v", customerID, err)
		return
	}
	if c == nil {
		s.fail(res, "customer %d: not found for invoice %s", customerID, inv.InvoiceNo)
		return
	}
	if c.Status == model.CustomerSuspended {
		return
	}

	days := int(now.Sub(inv.DueDate) / day)
	if days >= s.policy.SuspendAfterDays {
		if err := s.prov.Suspend(ctx, c); err != nil {
			s.fail(res, "customer %s: suspend: %v", c.Username, err)
			return
		}
		res.Suspended++
		metrics.BillingActionsTotal.WithLabelValues("suspended").Inc()
		s.notify(ctx, res, c, model.NotifySuspension, fmt.Sprintf(notify.SuspensionMessage, days))
		return
	}

	// OVERDUE invoices come back on every pass; warn again only once the interval has passed
	last, err := s.notifier.LastOfType(ctx, c.ID, model.NotifyOverdueWarning)
	if err != nil {
		s.fail(res, "customer %s: load last warning: %v", c.Username, err)
		return
	}
	if last != nil && now.Sub(last.CreatedAt) < s.policy.WarningInterval {
		metrics.BillingActionsTotal.WithLabelValues("warning_deferred").Inc()
		return
	}

	metrics.BillingActionsTotal.WithLabelValues("warned").Inc()
	s.notify(ctx, res, c, model.NotifyOverdueWarning, fmt.Sprintf(notify.OverdueWarningMessage, days))
}

func (s *Service) reactivate(ctx context.Context, res *SuspensionResult, c *model.Customer) {
	if err := s.prov.Resume(ctx, c); err != nil {
		s.fail(res, "customer %s: resume: %v", c.Username, err)
		return
	}
	res.Reactivated++
	metrics.BillingActionsTotal.WithLabelValues("reactivated").Inc()
	s.notify(ctx, res, c, model.NotifyReactivation, notify.ReactivationMessage)
}

func (s *Service) notify(ctx context.Context, res *SuspensionResult, c *model.Customer, typ model.NotificationType, msg string) {
	if err := s.notifier.Notify(ctx, c.ID, typ, msg); err != nil {
		s.fail(res, "customer %s: notify %s: %v", c.Username, typ, err)
		return
	}
	res.Notified++
}

func (s *Service) fail(res *SuspensionResult, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	res.Errors = append(res.Errors, msg)
	metrics.BillingActionsTotal.WithLabelValues("error").Inc()
	s.log.Warn("billing step failed", zap.String("error", msg))
}

// GenerateMonthlyInvoices bills every ACTIVE customer that has no invoice created this
// calendar month. Concurrent runs can double-invoice only if they race past the check;
// the unique invoice number rejects the second insert.
func (s *Service) GenerateMonthlyInvoices(ctx context.Context) (InvoiceResult, error) {
	res := InvoiceResult{Errors: []string{}}
	// billing months are UTC months, the zone invoice timestamps are stored in
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	active, err := s.customers.ListByStatus(ctx, model.CustomerActive)
	if err != nil {
		return res, fmt.Errorf("list active customers: %w", err)
	}

	for _, c := range active {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		created, err := s.invoice(ctx, c, now, monthStart)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("customer %s: %v", c.Username, err))
			metrics.BillingActionsTotal.WithLabelValues("error").Inc()
			continue
		}
		if created {
			res.Generated++
		}
	}

	s.log.Info("monthly invoices generated", zap.Int("generated", res.Generated), zap.Int("errors", len(res.Errors)))
	return res, nil
}

// invoice reports false when the customer was already billed since monthStart.
func (s *Service) invoice(ctx context.Context, c model.Customer, now, monthStart time.Time) (bool, error) {
	has, err := s.invoices.HasInvoiceSince(ctx, c.ID, monthStart)
	if err != nil {
		return false, fmt.Errorf("check existing invoice: %w", err)
	}
	if has {
		return false, nil
	}

	plan, err := s.plans.GetByID(ctx, c.PlanID)
	if err != nil {
		return false, fmt.Errorf("load plan %d: %w", c.PlanID, err)
	}
	if plan == nil {
		return false, fmt.Errorf("plan %d not found", c.PlanID)
	}

	inv := model.Invoice{
		InvoiceNo:   InvoiceNumber(now, c.Username),
		CustomerID:  c.ID,
		Amount:      plan.Price,
		Status:      model.InvoicePending,
		Description: fmt.Sprintf("Monthly internet service - %s plan", plan.Name),
		DueDate:     now.AddDate(0, 0, s.policy.InvoiceDueDays),
		CreatedAt:   now,
	}
	if _, err := s.invoices.Create(ctx, nil, &inv); err != nil {
		return false, fmt.Errorf("create invoice: %w", err)
	}
	metrics.BillingActionsTotal.WithLabelValues("invoiced").Inc()
	return true, nil
}

// InvoiceNumber formats INV-YYYY-MM-<username>.
func InvoiceNumber(at time.Time, username string) string {
	return fmt.Sprintf("INV-%04d-%02d-%s", at.Year(), int(at.Month()), username)
}
