// Package devicesync mirrors a router's PPP secrets into customer records.
package devicesync

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/isp-billing/internal/metrics"
	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/repository"
	"github.com/jmehdipour/isp-billing/internal/routeros"
	"github.com/jmehdipour/isp-billing/internal/util"
	"go.uber.org/zap"
)

// Result summarizes one reconciliation pass over a router.
type Result struct {
	RouterID int64    `json:"router_id"`
	Added    int      `json:"added"`
	Updated  int      `json:"updated"`
	Disabled int      `json:"disabled"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

func (r *Result) skip() {
	r.Skipped++
	metrics.SyncRecordsTotal.WithLabelValues("skipped").Inc()
}

func (r *Result) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	metrics.SyncRecordsTotal.WithLabelValues("error").Inc()
}

type Service struct {
	pool      *routeros.Pool
	customers repository.CustomersRepository
	plans     repository.PlansRepository
	routers   repository.RoutersRepository
	locks     *util.KeyLock
	log       *zap.Logger
	now       func() time.Time
}

func NewService(pool *routeros.Pool, customers repository.CustomersRepository, plans repository.PlansRepository,
	routers repository.RoutersRepository, locks *util.KeyLock, log *zap.Logger) *Service {
	if locks == nil {
		locks = util.NewKeyLock()
	}
	return &Service{
		pool:      pool,
		customers: customers,
		plans:     plans,
		routers:   routers,
		locks:     locks,
		log:       log,
		now:       time.Now,
	}
}

// Sync reconciles the router's secrets into customers. Per-secret failures land in
// Result.Errors; the returned error is reserved for store failures and cancellation,
// and comes with the partial result.
func (s *Service) Sync(ctx context.Context, router model.Router) (Result, error) {
	res := Result{RouterID: router.ID, Errors: []string{}}
	log := s.log.With(zap.Int64("router_id", router.ID))

	dev, err := s.pool.ForRouter(router)
	if err != nil {
		res.fail("router %d: %v", router.ID, err)
		return res, nil
	}

	// Customers are read before the device so that any mutation finishing in between
	// shows up as a newer row or a newer device generation in reconcile.
	existing, err := s.customers.ListByRouter(ctx, router.ID)
	if err != nil {
		return res, fmt.Errorf("list customers of router %d: %w", router.ID, err)
	}
	byName := make(map[string]model.Customer, len(existing))
	for _, c := range existing {
		byName[c.Username] = c
	}

	secrets := &listing{dev: dev}
	if err := secrets.load(ctx); err != nil {
		log.Warn("list secrets failed", zap.Error(err))
		res.fail("list secrets: %v", err)
		return res, ctx.Err()
	}

	plans := planCache{repo: s.plans, byID: map[int64]*model.Plan{}, byProfile: map[string]*model.Plan{}}
	for _, sec := range secrets.all {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if c, ok := byName[sec.Name]; ok {
			s.reconcile(ctx, log, &res, &plans, secrets, c.ID, sec.Name)
			continue
		}
		if c, ok := s.create(ctx, log, &res, &plans, router, sec); ok {
			byName[c.Username] = c
		}
	}

	if err := s.routers.TouchLastSync(ctx, nil, router.ID, s.now()); err != nil {
		return res, fmt.Errorf("stamp last sync of router %d: %w", router.ID, err)
	}
	log.Info("router synced",
		zap.Int("added", res.Added), zap.Int("updated", res.Updated), zap.Int("disabled", res.Disabled),
		zap.Int("skipped", res.Skipped), zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (s *Service) create(ctx context.Context, log *zap.Logger, res *Result, plans *planCache, router model.Router, sec model.Secret) (model.Customer, bool) {
	plan, err := plans.byProfileName(ctx, sec.Profile)
	if err != nil {
		res.fail("secret %s: resolve profile %s: %v", sec.Name, sec.Profile, err)
		return model.Customer{}, false
	}
	if plan == nil {
		res.fail("secret %s: no plan found for profile: %s", sec.Name, sec.Profile)
		return model.Customer{}, false
	}

	name := sec.Comment
	if name == "" {
		name = sec.Name
	}
	secretID := sec.ID
	c := model.Customer{
		Username:    sec.Name,
		Password:    sec.Password,
		Name:        name,
		Email:       sec.Name + "@isp.local",
		Status:      model.StatusFromDisabled(sec.Disabled),
		RouterID:    router.ID,
		PlanID:      plan.ID,
		PPPoESecret: &secretID,
	}
	id, err := s.customers.Create(ctx, nil, &c)
	if err != nil {
		res.fail("secret %s: create customer: %v", sec.Name, err)
		return model.Customer{}, false
	}
	c.ID = id

	res.Added++
	metrics.SyncRecordsTotal.WithLabelValues("added").Inc()
	if sec.Disabled {
		res.Disabled++
	}
	log.Debug("customer created from secret", zap.Int64("customer_id", id), zap.String("secret_id", sec.ID))
	return c, true
}

// reconcile updates only fields that drifted. Customers with a provisioning call in flight are skipped.
// Under the lock both sides are re-read: the row from the store, and the secret again from the
// device if a mutation invalidated the listing since it was taken.
func (s *Service) reconcile(ctx context.Context, log *zap.Logger, res *Result, plans *planCache, secrets *listing, customerID int64, name string) {
	unlock, ok := s.locks.TryLock(customerID)
	if !ok {
		res.skip()
		return
	}
	defer unlock()

	fresh, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		res.fail("secret %s: reload customer %d: %v", name, customerID, err)
		return
	}
	sec, found, err := secrets.current(ctx, name)
	if err != nil {
		res.fail("secret %s: relist secrets: %v", name, err)
		return
	}
	if fresh == nil || !found {
		// removed on either side while the pass was running
		res.skip()
		return
	}
	c := *fresh

	var upd model.CustomerSync
	if status := model.StatusFromDisabled(sec.Disabled); status != c.Status {
		upd.Status = &status
	}
	if c.SecretID() != sec.ID {
		id := sec.ID
		upd.PPPoESecret = &id
	}
	if sec.Password != "" && sec.Password != c.Password {
		pw := sec.Password
		upd.Password = &pw
	}

	current, err := plans.byPlanID(ctx, c.PlanID)
	if err != nil {
		res.fail("secret %s: load plan %d: %v", sec.Name, c.PlanID, err)
	} else if current == nil || current.PPPProfile != sec.Profile {
		plan, err := plans.byProfileName(ctx, sec.Profile)
		switch {
		case err != nil:
			res.fail("secret %s: resolve profile %s: %v", sec.Name, sec.Profile, err)
		case plan == nil:
			res.fail("secret %s: no plan found for profile: %s", sec.Name, sec.Profile)
		case plan.ID != c.PlanID:
			id := plan.ID
			upd.PlanID = &id
		}
	}

	if upd.Empty() {
		metrics.SyncRecordsTotal.WithLabelValues("unchanged").Inc()
		return
	}
	if err := s.customers.UpdateSynced(ctx, nil, c.ID, upd); err != nil {
		res.fail("secret %s: update customer %d: %v", sec.Name, c.ID, err)
		return
	}

	res.Updated++
	metrics.SyncRecordsTotal.WithLabelValues("updated").Inc()
	if upd.Status != nil && *upd.Status == model.CustomerSuspended {
		res.Disabled++
	}
	log.Debug("customer updated from secret", zap.Int64("customer_id", c.ID), zap.String("secret_id", sec.ID))
}

// SyncAll runs Sync over every active router. It stops at the first store failure.
func (s *Service) SyncAll(ctx context.Context) ([]Result, error) {
	routers, err := s.routers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list routers: %w", err)
	}
	out := make([]Result, 0, len(routers))
	for _, r := range routers {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := s.Sync(ctx, r)
		out = append(out, res)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// listing is one router's secret table together with the device generation it was read at.
type listing struct {
	dev    *routeros.CachedDevice
	gen    uint64
	known  bool
	all    []model.Secret
	byName map[string]model.Secret
}

func (l *listing) load(ctx context.Context) error {
	gen, err := l.dev.Generation(ctx)
	l.gen, l.known = gen, err == nil

	all, err := l.dev.ListSecrets(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]model.Secret, len(all))
	for _, sec := range all {
		byName[sec.Name] = sec
	}
	if l.all == nil {
		l.all = all
	}
	l.byName = byName
	return nil
}

// current returns the named secret as of now, relisting when the device was mutated since
// the last load. An unknown generation always relists.
func (l *listing) current(ctx context.Context, name string) (model.Secret, bool, error) {
	gen, err := l.dev.Generation(ctx)
	if err != nil || !l.known || gen != l.gen {
		if err := l.load(ctx); err != nil {
			return model.Secret{}, false, err
		}
	}
	sec, ok := l.byName[name]
	return sec, ok, nil
}

// planCache memoizes plan lookups for the duration of one pass.
type planCache struct {
	repo      repository.PlansRepository
	byID      map[int64]*model.Plan
	byProfile map[string]*model.Plan
}

func (p *planCache) byPlanID(ctx context.Context, id int64) (*model.Plan, error) {
	if plan, ok := p.byID[id]; ok {
		return plan, nil
	}
	plan, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.byID[id] = plan
	return plan, nil
}

func (p *planCache) byProfileName(ctx context.Context, profile string) (*model.Plan, error) {
	if plan, ok := p.byProfile[profile]; ok {
		return plan, nil
	}
	plan, err := p.repo.FindActiveByProfile(ctx, profile)
	if err != nil {
		return nil, err
	}
	p.byProfile[profile] = plan
	return plan, nil
}
