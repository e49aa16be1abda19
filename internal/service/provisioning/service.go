package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/repository"
	"github.com/jmehdipour/isp-billing/internal/routeros"
	"github.com/jmehdipour/isp-billing/internal/util"
	"go.uber.org/zap"
)

var (
	ErrPlanNotFound       = errors.New("plan not found")
	ErrNotProvisioned     = errors.New("customer has no device secret")
	ErrAlreadyProvisioned = errors.New("customer already has a device secret")
	ErrBusy               = errors.New("customer has a mutation in flight")
)

// Service converges device secrets toward the customer records. Mutations for
// one customer are serialized through locks, which the sync pass shares.
type Service struct {
	pool      *routeros.Pool
	customers repository.CustomersRepository
	plans     repository.PlansRepository
	locks     *util.KeyLock
	log       *zap.Logger
}

func NewService(pool *routeros.Pool, customers repository.CustomersRepository, plans repository.PlansRepository, locks *util.KeyLock, log *zap.Logger) *Service {
	if locks == nil {
		locks = util.NewKeyLock()
	}
	return &Service{pool: pool, customers: customers, plans: plans, locks: locks, log: log}
}

func (s *Service) lock(ctx context.Context, c *model.Customer) (func(), error) {
	unlock, err := s.locks.Lock(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: customer %d: %v", ErrBusy, c.ID, err)
	}
	return unlock, nil
}

func (s *Service) plan(ctx context.Context, c *model.Customer) (*model.Plan, error) {
	p, err := s.plans.GetByID(ctx, c.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load plan %d: %w", c.PlanID, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: id=%d", ErrPlanNotFound, c.PlanID)
	}
	return p, nil
}

// Provision creates the customer's device secret and stores its id on the customer.
// A customer that already holds a secret is rejected; adds are not idempotent on the device.
func (s *Service) Provision(ctx context.Context, c *model.Customer) (string, error) {
	unlock, err := s.lock(ctx, c)
	if err != nil {
		return "", err
	}
	defer unlock()

	if c.SecretID() != "" {
		return "", fmt.Errorf("%w: customer %d secret %s", ErrAlreadyProvisioned, c.ID, c.SecretID())
	}
	p, err := s.plan(ctx, c)
	if err != nil {
		return "", err
	}
	dev, err := s.pool.For(ctx, c.RouterID)
	if err != nil {
		return "", err
	}

	id, err := dev.AddSecret(ctx, model.SecretSpec{
		Name:     c.Username,
		Password: c.Password,
		Service:  "pppoe",
		Profile:  p.PPPProfile,
		Disabled: c.Status != model.CustomerActive,
		Comment:  c.DisplayName(),
	})
	if err != nil {
		return "", err
	}

	if err := s.customers.SetSecret(ctx, nil, c.ID, &id); err != nil {
		s.log.Error("device secret created but not recorded",
			zap.Int64("customer_id", c.ID), zap.Int64("router_id", c.RouterID),
			zap.String("secret_id", id), zap.Error(err))
		return id, fmt.Errorf("store secret id: %w", err)
	}
	c.PPPoESecret = &id
	s.log.Info("secret provisioned", zap.Int64("customer_id", c.ID), zap.String("secret_id", id))
	return id, nil
}

// UpdateProvisioning pushes the customer's current name, password, profile, status and comment.
func (s *Service) UpdateProvisioning(ctx context.Context, c *model.Customer) error {
	unlock, err := s.lock(ctx, c)
	if err != nil {
		return err
	}
	defer unlock()

	id, err := requireSecret(c)
	if err != nil {
		return err
	}
	p, err := s.plan(ctx, c)
	if err != nil {
		return err
	}
	dev, err := s.pool.For(ctx, c.RouterID)
	if err != nil {
		return err
	}

	name, password, comment := c.Username, c.Password, c.DisplayName()
	disabled := c.Status != model.CustomerActive
	return dev.UpdateSecret(ctx, id, model.SecretUpdate{
		Name:     &name,
		Password: &password,
		Profile:  &p.PPPProfile,
		Disabled: &disabled,
		Comment:  &comment,
	})
}

// Suspend disables the device secret, then marks the customer SUSPENDED.
func (s *Service) Suspend(ctx context.Context, c *model.Customer) error {
	return s.setAccess(ctx, c, model.CustomerSuspended)
}

// Resume enables the device secret, then marks the customer ACTIVE.
func (s *Service) Resume(ctx context.Context, c *model.Customer) error {
	return s.setAccess(ctx, c, model.CustomerActive)
}

// setAccess flips the device first so a device failure never leaves the record falsely suspended.
func (s *Service) setAccess(ctx context.Context, c *model.Customer, status model.CustomerStatus) error {
	unlock, err := s.lock(ctx, c)
	if err != nil {
		return err
	}
	defer unlock()

	id, err := requireSecret(c)
	if err != nil {
		return err
	}
	dev, err := s.pool.For(ctx, c.RouterID)
	if err != nil {
		return err
	}

	if status == model.CustomerSuspended {
		err = dev.DisableSecret(ctx, id)
	} else {
		err = dev.EnableSecret(ctx, id)
	}
	if err != nil {
		return err
	}

	// The device is authoritative from here; the next sync pass repairs a stale record.
	if err := s.customers.SetStatus(ctx, nil, c.ID, status); err != nil {
		s.log.Error("device confirmed but customer status not recorded",
			zap.Int64("customer_id", c.ID), zap.Int64("router_id", c.RouterID),
			zap.String("secret_id", id), zap.String("intended_status", status.String()), zap.Error(err))
		return fmt.Errorf("store customer status: %w", err)
	}
	c.Status = status
	s.log.Info("customer access changed",
		zap.Int64("customer_id", c.ID), zap.String("secret_id", id), zap.String("status", status.String()))
	return nil
}

// Deprovision removes the device secret. The customer row is left untouched.
func (s *Service) Deprovision(ctx context.Context, c *model.Customer) error {
	unlock, err := s.lock(ctx, c)
	if err != nil {
		return err
	}
	defer unlock()

	id, err := requireSecret(c)
	if err != nil {
		return err
	}
	dev, err := s.pool.For(ctx, c.RouterID)
	if err != nil {
		return err
	}
	return dev.RemoveSecret(ctx, id)
}

// ListActiveSessions returns the router's live sessions through the result cache.
func (s *Service) ListActiveSessions(ctx context.Context, routerID int64) ([]model.Session, error) {
	dev, err := s.pool.For(ctx, routerID)
	if err != nil {
		return nil, err
	}
	return dev.ListActiveSessions(ctx)
}

// TestConnection performs an uncached secret listing against the router.
func (s *Service) TestConnection(ctx context.Context, routerID int64) error {
	dev, err := s.pool.For(ctx, routerID)
	if err != nil {
		return err
	}
	_, err = dev.Uncached().ListSecrets(ctx)
	return err
}

func requireSecret(c *model.Customer) (string, error) {
	id := c.SecretID()
	if id == "" {
		return "", fmt.Errorf("%w: customer %d", ErrNotProvisioned, c.ID)
	}
	return id, nil
}
