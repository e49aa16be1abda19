package routeros

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/isp-billing/internal/devicecache"
	"github.com/jmehdipour/isp-billing/internal/model"
)

func newCached(t *testing.T) (*CachedDevice, *MemoryDevice) {
	t.Helper()
	mem := NewMemoryDevice(DemoSecrets()...)
	mem.SetSessions(DemoSessions())
	cache := devicecache.New(devicecache.NewMemoryStore(), 5*time.Minute)
	return NewCachedDevice(mem, cache, "router-1"), mem
}

func TestCachedDeviceServesRepeatedReadsFromCache(t *testing.T) {
	ctx := context.Background()
	dev, mem := newCached(t)

	for i := 0; i < 3; i++ {
		secrets, err := dev.ListSecrets(ctx)
		if err != nil {
			t.Fatalf("ListSecrets: %v", err)
		}
		if len(secrets) != 3 {
			t.Fatalf("expected 3 secrets, got %d", len(secrets))
		}
		if _, err := dev.ListActiveSessions(ctx); err != nil {
			t.Fatalf("ListActiveSessions: %v", err)
		}
	}
	if got := mem.Calls(OpListSecrets); got != 1 {
		t.Fatalf("expected 1 device list call, got %d", got)
	}
	if got := mem.Calls(OpListSessions); got != 1 {
		t.Fatalf("expected 1 device session call, got %d", got)
	}
}

func TestCachedDeviceMutationInvalidatesReads(t *testing.T) {
	ctx := context.Background()
	dev, mem := newCached(t)

	if _, err := dev.ListSecrets(ctx); err != nil {
		t.Fatal(err)
	}
	if err := dev.DisableSecret(ctx, "*1"); err != nil {
		t.Fatalf("DisableSecret: %v", err)
	}

	secrets, err := dev.ListSecrets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if mem.Calls(OpListSecrets) != 2 {
		t.Fatalf("expected re-fetch after mutation, calls=%d", mem.Calls(OpListSecrets))
	}
	for _, s := range secrets {
		if s.ID == "*1" && !s.Disabled {
			t.Fatalf("stale read after disable: %+v", s)
		}
	}

	id, err := dev.AddSecret(ctx, model.SecretSpec{Name: "dave", Password: "pw", Profile: "basic-5m"})
	if err != nil {
		t.Fatalf("AddSecret: %v", err)
	}
	if id == "*1" || id == "*2" || id == "*3" {
		t.Fatalf("new id %q collides with seeded secret", id)
	}
	secrets, _ = dev.ListSecrets(ctx)
	if len(secrets) != 4 {
		t.Fatalf("expected 4 secrets after add, got %d", len(secrets))
	}
}

func TestCachedDeviceFailedMutationKeepsCache(t *testing.T) {
	ctx := context.Background()
	dev, mem := newCached(t)

	if _, err := dev.ListSecrets(ctx); err != nil {
		t.Fatal(err)
	}
	err := dev.RemoveSecret(ctx, "*missing")
	if !errors.Is(err, ErrSecretNotFound) || !IsDeviceError(err) {
		t.Fatalf("expected not-found DeviceError, got %v", err)
	}
	if _, err := dev.ListSecrets(ctx); err != nil {
		t.Fatal(err)
	}
	if mem.Calls(OpListSecrets) != 1 {
		t.Fatalf("failed mutation must not invalidate, calls=%d", mem.Calls(OpListSecrets))
	}
}

func TestCachedDeviceDoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	dev, mem := newCached(t)

	boom := errors.New("connection refused")
	mem.FailOn(OpListSecrets, boom)
	if _, err := dev.ListSecrets(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	mem.FailOn(OpListSecrets, nil)
	if _, err := dev.ListSecrets(ctx); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if mem.Calls(OpListSecrets) != 2 {
		t.Fatalf("expected 2 calls, got %d", mem.Calls(OpListSecrets))
	}
}

func TestMemoryDeviceHonoursCancelledContext(t *testing.T) {
	mem := NewMemoryDevice()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mem.ListSecrets(ctx)
	if !errors.Is(err, context.Canceled) || !IsDeviceError(err) {
		t.Fatalf("expected cancelled DeviceError, got %v", err)
	}
}

type routerTable map[int64]model.Router

func (rt routerTable) GetByID(_ context.Context, id int64) (*model.Router, error) {
	r, ok := rt[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func TestPoolReusesDevicePerRouter(t *testing.T) {
	ctx := context.Background()
	factory, err := NewFactory("mock", RESTOptions{})
	if err != nil {
		t.Fatal(err)
	}
	cache := devicecache.New(devicecache.NewMemoryStore(), time.Minute)
	p := NewPool(factory, routerTable{1: {ID: 1, Name: "core"}, 2: {ID: 2, Name: "edge"}}, cache)

	a, err := p.For(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := p.For(ctx, 1)
	if a != b {
		t.Fatal("expected the same device for the same router")
	}
	c, _ := p.For(ctx, 2)
	if a == c {
		t.Fatal("expected distinct devices per router")
	}

	if err := a.DisableSecret(ctx, "*2"); err != nil {
		t.Fatal(err)
	}
	other, _ := c.ListSecrets(ctx)
	for _, s := range other {
		if s.ID == "*2" && s.Disabled {
			t.Fatal("mutation on router 1 leaked into router 2")
		}
	}

	if _, err := p.For(ctx, 99); !errors.Is(err, ErrRouterNotFound) {
		t.Fatalf("expected ErrRouterNotFound, got %v", err)
	}
}

func TestNewFactoryRejectsUnknownDriver(t *testing.T) {
	if _, err := NewFactory("telnet", RESTOptions{}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
