package provisioning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/isp-billing/internal/devicecache"
	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/routeros"
	"github.com/jmehdipour/isp-billing/internal/testutil"
	"github.com/jmehdipour/isp-billing/internal/util"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	store *testutil.Store
	dev   *routeros.MemoryDevice
	locks *util.KeyLock
	svc   *Service
	plan  model.Plan
}

func newFixture(t *testing.T, seed ...model.Secret) *fixture {
	t.Helper()
	store := testutil.NewStore()
	store.AddRouter(model.Router{ID: 1, Name: "core", Host: "10.0.0.1", IsActive: true})
	plan := store.AddPlan(model.Plan{ID: 10, Name: "Basic", Price: 2000, PPPProfile: "basic-5m", IsActive: true})

	dev := routeros.NewMemoryDevice(seed...)
	factory := func(model.Router) (routeros.Device, error) { return dev, nil }
	cache := devicecache.New(devicecache.NewMemoryStore(), 5*time.Minute)
	pool := routeros.NewPool(factory, store.Routers(), cache)

	locks := util.NewKeyLock()
	svc := NewService(pool, store.Customers(), store.Plans(), locks, zaptest.NewLogger(t))
	return &fixture{store: store, dev: dev, locks: locks, svc: svc, plan: plan}
}

func (f *fixture) customer(status model.CustomerStatus, secret *string) model.Customer {
	return f.store.AddCustomer(model.Customer{
		Username: "alice", Password: "pw", Name: "Alice", Status: status,
		RouterID: 1, PlanID: f.plan.ID, PPPoESecret: secret,
	})
}

func strp(s string) *string { return &s }

func TestProvisionCreatesSecretAndStoresID(t *testing.T) {
	f := newFixture(t)
	c := f.customer(model.CustomerActive, nil)

	id, err := f.svc.Provision(context.Background(), &c)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, id, c.SecretID())

	sec, ok := f.dev.Secret("alice")
	require.True(t, ok)
	require.Equal(t, "basic-5m", sec.Profile)
	require.Equal(t, "pw", sec.Password)
	require.False(t, sec.Disabled)
	require.Equal(t, "Alice", sec.Comment)

	stored, _ := f.store.Customer("alice")
	require.Equal(t, id, stored.SecretID())
}

func TestProvisionNonActiveCustomerIsDisabledOnDevice(t *testing.T) {
	f := newFixture(t)
	c := f.customer(model.CustomerPending, nil)

	_, err := f.svc.Provision(context.Background(), &c)
	require.NoError(t, err)
	sec, _ := f.dev.Secret("alice")
	require.True(t, sec.Disabled)
}

func TestProvisionDanglingPlan(t *testing.T) {
	f := newFixture(t)
	c := f.customer(model.CustomerActive, nil)
	c.PlanID = 999

	_, err := f.svc.Provision(context.Background(), &c)
	require.ErrorIs(t, err, ErrPlanNotFound)
	require.Zero(t, f.dev.Calls(routeros.OpAddSecret))
}

func TestProvisionRejectsAlreadyProvisioned(t *testing.T) {
	f := newFixture(t)
	c := f.customer(model.CustomerActive, strp("*1"))

	_, err := f.svc.Provision(context.Background(), &c)
	require.ErrorIs(t, err, ErrAlreadyProvisioned)
	require.Zero(t, f.dev.Calls(routeros.OpAddSecret))
}

func TestOperationsRequireSecret(t *testing.T) {
	f := newFixture(t)
	c := f.customer(model.CustomerActive, nil)
	ctx := context.Background()

	require.ErrorIs(t, f.svc.UpdateProvisioning(ctx, &c), ErrNotProvisioned)
	require.ErrorIs(t, f.svc.Suspend(ctx, &c), ErrNotProvisioned)
	require.ErrorIs(t, f.svc.Resume(ctx, &c), ErrNotProvisioned)
	require.ErrorIs(t, f.svc.Deprovision(ctx, &c), ErrNotProvisioned)
}

func TestSuspendDisablesDeviceThenRecord(t *testing.T) {
	f := newFixture(t, model.Secret{ID: "*1", Name: "alice", Password: "pw", Profile: "basic-5m"})
	c := f.customer(model.CustomerActive, strp("*1"))

	require.NoError(t, f.svc.Suspend(context.Background(), &c))
	require.Equal(t, model.CustomerSuspended, c.Status)

	sec, _ := f.dev.Secret("alice")
	require.True(t, sec.Disabled)
	stored, _ := f.store.Customer("alice")
	require.Equal(t, model.CustomerSuspended, stored.Status)

	require.NoError(t, f.svc.Resume(context.Background(), &c))
	sec, _ = f.dev.Secret("alice")
	require.False(t, sec.Disabled)
	stored, _ = f.store.Customer("alice")
	require.Equal(t, model.CustomerActive, stored.Status)
}

func TestSuspendDeviceFailureLeavesRecordUntouched(t *testing.T) {
	f := newFixture(t, model.Secret{ID: "*1", Name: "alice", Profile: "basic-5m"})
	c := f.customer(model.CustomerActive, strp("*1"))
	f.dev.FailOn(routeros.OpDisableSecret, errors.New("no route to host"))

	err := f.svc.Suspend(context.Background(), &c)
	require.Error(t, err)
	require.True(t, routeros.IsDeviceError(err))

	stored, _ := f.store.Customer("alice")
	require.Equal(t, model.CustomerActive, stored.Status)
	require.Equal(t, model.CustomerActive, c.Status)
}

func TestSuspendLocalCommitFailureAfterDeviceConfirm(t *testing.T) {
	f := newFixture(t, model.Secret{ID: "*1", Name: "alice", Profile: "basic-5m"})
	c := f.customer(model.CustomerActive, strp("*1"))
	f.store.FailOn("customers.SetStatus", errors.New("connection reset"))

	err := f.svc.Suspend(context.Background(), &c)
	require.Error(t, err)
	require.False(t, routeros.IsDeviceError(err))

	sec, _ := f.dev.Secret("alice")
	require.True(t, sec.Disabled, "device stays disabled for the next sync to mirror")
	require.Equal(t, model.CustomerActive, c.Status)
}

func TestUpdateProvisioningPushesFields(t *testing.T) {
	f := newFixture(t, model.Secret{ID: "*1", Name: "alice", Password: "old", Profile: "old-profile"})
	c := f.customer(model.CustomerSuspended, strp("*1"))
	c.Password = "new"

	require.NoError(t, f.svc.UpdateProvisioning(context.Background(), &c))
	sec, _ := f.dev.Secret("alice")
	require.Equal(t, "new", sec.Password)
	require.Equal(t, "basic-5m", sec.Profile)
	require.True(t, sec.Disabled)
}

func TestDeprovisionKeepsCustomerRow(t *testing.T) {
	f := newFixture(t, model.Secret{ID: "*1", Name: "alice"})
	c := f.customer(model.CustomerActive, strp("*1"))

	require.NoError(t, f.svc.Deprovision(context.Background(), &c))
	_, ok := f.dev.Secret("alice")
	require.False(t, ok)
	stored, ok := f.store.Customer("alice")
	require.True(t, ok)
	require.Equal(t, "*1", stored.SecretID())
}

func TestMutationWaitsForCustomerLock(t *testing.T) {
	f := newFixture(t, model.Secret{ID: "*1", Name: "alice"})
	c := f.customer(model.CustomerActive, strp("*1"))

	unlock, ok := f.locks.TryLock(c.ID)
	require.True(t, ok)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.svc.Suspend(ctx, &c)
	require.ErrorIs(t, err, ErrBusy)
	require.Zero(t, f.dev.Calls(routeros.OpDisableSecret))
}

func TestListActiveSessionsIsCached(t *testing.T) {
	f := newFixture(t)
	f.dev.SetSessions(routeros.DemoSessions())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		sessions, err := f.svc.ListActiveSessions(ctx, 1)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
	}
	require.Equal(t, 1, f.dev.Calls(routeros.OpListSessions))
}

func TestTestConnectionBypassesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.TestConnection(ctx, 1))
	require.NoError(t, f.svc.TestConnection(ctx, 1))
	require.Equal(t, 2, f.dev.Calls(routeros.OpListSecrets))

	f.dev.FailOn(routeros.OpListSecrets, errors.New("401 unauthorized"))
	require.Error(t, f.svc.TestConnection(ctx, 1))
	require.ErrorIs(t, f.svc.TestConnection(ctx, 42), routeros.ErrRouterNotFound)
}
