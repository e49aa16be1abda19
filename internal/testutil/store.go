// Package testutil holds in-memory repositories for service tests. Transactions are ignored.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/repository"
	"github.com/jmoiron/sqlx"
)

// Store is a shared in-memory record store. Views returned by its accessors
// implement the repository interfaces over the same data.
type Store struct {
	mu            sync.Mutex
	seq           int64
	customers     map[int64]model.Customer
	plans         map[int64]model.Plan
	routers       map[int64]model.Router
	invoices      map[int64]model.Invoice
	notifications []model.Notification
	fail          map[string]error
	Now           func() time.Time
}

func NewStore() *Store {
	return &Store{
		customers: make(map[int64]model.Customer),
		plans:     make(map[int64]model.Plan),
		routers:   make(map[int64]model.Router),
		invoices:  make(map[int64]model.Invoice),
		fail:      make(map[string]error),
		Now:       time.Now,
	}
}

// FailOn makes the named method (e.g. "customers.SetStatus") return err. A nil err clears it.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, method)
		return
	}
	s.fail[method] = err
}

func (s *Store) check(method string) error {
	return s.fail[method]
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// seeding helpers

func (s *Store) AddPlan(p model.Plan) model.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextID()
	}
	s.plans[p.ID] = p
	return p
}

func (s *Store) AddRouter(r model.Router) model.Router {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		r.ID = s.nextID()
	}
	s.routers[r.ID] = r
	return r
}

func (s *Store) AddCustomer(c model.Customer) model.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.nextID()
	}
	s.customers[c.ID] = c
	return c
}

func (s *Store) AddInvoice(inv model.Invoice) model.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == 0 {
		inv.ID = s.nextID()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.Now()
	}
	s.invoices[inv.ID] = inv
	return inv
}

// inspection helpers

func (s *Store) Customer(username string) (model.Customer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if c.Username == username {
			return c, true
		}
	}
	return model.Customer{}, false
}

func (s *Store) Router(id int64) model.Router {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.routers[id]
}

func (s *Store) Invoice(id int64) model.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoices[id]
}

func (s *Store) InvoicesOf(customerID int64) []model.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Invoice
	for _, inv := range s.invoices {
		if inv.CustomerID == customerID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) NotificationsOf(customerID int64) []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Notification
	for _, n := range s.notifications {
		if n.CustomerID == customerID {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) CustomerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.customers)
}

// Notify appends a PENDING notification, mirroring the notify service.
func (s *Store) Notify(_ context.Context, customerID int64, typ model.NotificationType, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("notify"); err != nil {
		return err
	}
	s.notifications = append(s.notifications, model.Notification{
		ID: s.nextID(), Type: typ, CustomerID: customerID, Message: message,
		Status: model.NotificationPending, CreatedAt: s.Now(),
	})
	return nil
}

func (s *Store) LastOfType(_ context.Context, customerID int64, typ model.NotificationType) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("notifications.LastOfType"); err != nil {
		return nil, err
	}
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if n := s.notifications[i]; n.CustomerID == customerID && n.Type == typ {
			return &n, nil
		}
	}
	return nil, nil
}

func (s *Store) Customers() repository.CustomersRepository { return customers{s} }
func (s *Store) Plans() repository.PlansRepository         { return plans{s} }
func (s *Store) Routers() repository.RoutersRepository     { return routers{s} }
func (s *Store) Invoices() repository.InvoicesRepository   { return invoices{s} }

type customers struct{ s *Store }

func (r customers) find(pred func(model.Customer) bool) []model.Customer {
	var out []model.Customer
	for _, c := range r.s.customers {
		if pred(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r customers) GetByID(_ context.Context, id int64) (*model.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("customers.GetByID"); err != nil {
		return nil, err
	}
	c, ok := r.s.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r customers) GetByUsername(_ context.Context, username string) (*model.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.customers {
		if c.Username == username {
			return &c, nil
		}
	}
	return nil, nil
}

func (r customers) ListByRouter(_ context.Context, routerID int64) ([]model.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("customers.ListByRouter"); err != nil {
		return nil, err
	}
	return r.find(func(c model.Customer) bool { return c.RouterID == routerID }), nil
}

func (r customers) ListByStatus(_ context.Context, status model.CustomerStatus) ([]model.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.find(func(c model.Customer) bool { return c.Status == status }), nil
}

func (r customers) ListSuspendedWithoutOutstanding(_ context.Context) ([]model.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.find(func(c model.Customer) bool {
		if c.Status != model.CustomerSuspended {
			return false
		}
		for _, inv := range r.s.invoices {
			if inv.CustomerID == c.ID && inv.Status.Outstanding() {
				return false
			}
		}
		return true
	}), nil
}

func (r customers) Create(_ context.Context, _ *sqlx.Tx, c *model.Customer) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("customers.Create"); err != nil {
		return 0, err
	}
	for _, ex := range r.s.customers {
		if ex.Username == c.Username {
			return 0, fmt.Errorf("duplicate username %q", c.Username)
		}
	}
	row := *c
	row.ID = r.s.nextID()
	row.CreatedAt, row.UpdatedAt = r.s.Now(), r.s.Now()
	r.s.customers[row.ID] = row
	return row.ID, nil
}

func (r customers) UpdateSynced(_ context.Context, _ *sqlx.Tx, id int64, upd model.CustomerSync) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("customers.UpdateSynced"); err != nil {
		return err
	}
	c, ok := r.s.customers[id]
	if !ok {
		return fmt.Errorf("customer %d not found", id)
	}
	if upd.Password != nil {
		c.Password = *upd.Password
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.PPPoESecret != nil {
		v := *upd.PPPoESecret
		c.PPPoESecret = &v
	}
	if upd.PlanID != nil {
		c.PlanID = *upd.PlanID
	}
	r.s.customers[id] = c
	return nil
}

func (r customers) SetStatus(_ context.Context, _ *sqlx.Tx, id int64, status model.CustomerStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("customers.SetStatus"); err != nil {
		return err
	}
	c := r.s.customers[id]
	c.Status = status
	r.s.customers[id] = c
	return nil
}

func (r customers) SetSecret(_ context.Context, _ *sqlx.Tx, id int64, secretID *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("customers.SetSecret"); err != nil {
		return err
	}
	c := r.s.customers[id]
	c.PPPoESecret = secretID
	r.s.customers[id] = c
	return nil
}

func (r customers) AdjustBalance(_ context.Context, _ *sqlx.Tx, id int64, delta int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.s.customers[id]
	c.Balance += delta
	r.s.customers[id] = c
	return nil
}

type plans struct{ s *Store }

func (r plans) GetByID(_ context.Context, id int64) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.plans[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r plans) FindActiveByProfile(_ context.Context, profile string) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("plans.FindActiveByProfile"); err != nil {
		return nil, err
	}
	var best *model.Plan
	for _, p := range r.s.plans {
		if p.IsActive && p.PPPProfile == profile && (best == nil || p.ID < best.ID) {
			best = &p
		}
	}
	return best, nil
}

func (r plans) Create(_ context.Context, _ *sqlx.Tx, p *model.Plan) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	// upsert by name, like the unique key in MySQL
	for id, ex := range r.s.plans {
		if ex.Name == p.Name {
			return id, nil
		}
	}
	row := *p
	row.ID = r.s.nextID()
	r.s.plans[row.ID] = row
	return row.ID, nil
}

type routers struct{ s *Store }

func (r routers) GetByID(_ context.Context, id int64) (*model.Router, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rt, ok := r.s.routers[id]
	if !ok {
		return nil, nil
	}
	return &rt, nil
}

func (r routers) ListActive(_ context.Context) ([]model.Router, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Router
	for _, rt := range r.s.routers {
		if rt.IsActive {
			out = append(out, rt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r routers) TouchLastSync(_ context.Context, _ *sqlx.Tx, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("routers.TouchLastSync"); err != nil {
		return err
	}
	rt := r.s.routers[id]
	rt.LastSyncAt = &at
	r.s.routers[id] = rt
	return nil
}

func (r routers) Create(_ context.Context, _ *sqlx.Tx, rt *model.Router) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, ex := range r.s.routers {
		if ex.Name == rt.Name {
			return id, nil
		}
	}
	row := *rt
	row.ID = r.s.nextID()
	r.s.routers[row.ID] = row
	return row.ID, nil
}

type invoices struct{ s *Store }

func (r invoices) GetByID(_ context.Context, id int64) (*model.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (r invoices) GetForUpdate(ctx context.Context, _ *sqlx.Tx, id int64) (*model.Invoice, error) {
	return r.GetByID(ctx, id)
}

func (r invoices) ListOverdue(_ context.Context, now, since time.Time) ([]model.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("invoices.ListOverdue"); err != nil {
		return nil, err
	}
	var out []model.Invoice
	for _, inv := range r.s.invoices {
		if !inv.Status.Outstanding() || !inv.DueDate.Before(now) {
			continue
		}
		if !since.IsZero() && inv.DueDate.Before(since) {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (r invoices) HasInvoiceSince(_ context.Context, customerID int64, since time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, inv := range r.s.invoices {
		if inv.CustomerID == customerID && !inv.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r invoices) MarkOverdue(_ context.Context, _ *sqlx.Tx, ids []int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		inv, ok := r.s.invoices[id]
		if ok && inv.Status == model.InvoicePending {
			inv.Status = model.InvoiceOverdue
			r.s.invoices[id] = inv
		}
	}
	return nil
}

func (r invoices) MarkPaid(_ context.Context, _ *sqlx.Tx, id int64, paidAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv := r.s.invoices[id]
	inv.Status = model.InvoicePaid
	inv.PaidAt = &paidAt
	r.s.invoices[id] = inv
	return nil
}

func (r invoices) MarkRefunded(_ context.Context, _ *sqlx.Tx, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv := r.s.invoices[id]
	inv.Status = model.InvoiceRefunded
	r.s.invoices[id] = inv
	return nil
}

func (r invoices) Create(_ context.Context, _ *sqlx.Tx, inv *model.Invoice) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check("invoices.Create"); err != nil {
		return 0, err
	}
	for _, ex := range r.s.invoices {
		if strings.EqualFold(ex.InvoiceNo, inv.InvoiceNo) {
			return 0, fmt.Errorf("duplicate invoice_no %q", inv.InvoiceNo)
		}
	}
	row := *inv
	row.ID = r.s.nextID()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = r.s.Now()
	}
	r.s.invoices[row.ID] = row
	return row.ID, nil
}
