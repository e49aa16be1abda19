package routeros

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmehdipour/isp-billing/internal/devicecache"
	"github.com/jmehdipour/isp-billing/internal/model"
)

// Factory builds a raw device client for a router.
type Factory func(r model.Router) (Device, error)

// RouterLookup resolves router records by id.
type RouterLookup interface {
	GetByID(ctx context.Context, id int64) (*model.Router, error)
}

// Pool owns the result cache and hands out one cached device per router.
type Pool struct {
	mu      sync.Mutex
	devices map[int64]*CachedDevice
	factory Factory
	routers RouterLookup
	cache   *devicecache.Cache
}

func NewPool(factory Factory, routers RouterLookup, cache *devicecache.Cache) *Pool {
	return &Pool{
		devices: make(map[int64]*CachedDevice),
		factory: factory,
		routers: routers,
		cache:   cache,
	}
}

var ErrRouterNotFound = errors.New("router not found")

// For returns the cached device of routerID, loading the router record on first use.
func (p *Pool) For(ctx context.Context, routerID int64) (*CachedDevice, error) {
	p.mu.Lock()
	d, ok := p.devices[routerID]
	p.mu.Unlock()
	if ok {
		return d, nil
	}

	r, err := p.routers.GetByID(ctx, routerID)
	if err != nil {
		return nil, fmt.Errorf("load router %d: %w", routerID, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: id=%d", ErrRouterNotFound, routerID)
	}
	return p.ForRouter(*r)
}

// ForRouter returns the cached device of r, building it if needed.
func (p *Pool) ForRouter(r model.Router) (*CachedDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d, ok := p.devices[r.ID]; ok {
		return d, nil
	}
	raw, err := p.factory(r)
	if err != nil {
		return nil, fmt.Errorf("build device for router %d: %w", r.ID, err)
	}
	d := NewCachedDevice(raw, p.cache, r.DeviceID())
	p.devices[r.ID] = d
	return d, nil
}

// Forget drops the client of routerID, e.g. after its credentials changed.
func (p *Pool) Forget(ctx context.Context, routerID int64) error {
	p.mu.Lock()
	delete(p.devices, routerID)
	p.mu.Unlock()
	return p.cache.Invalidate(ctx, model.Router{ID: routerID}.DeviceID())
}

// NewFactory selects the device implementation for a driver name.
func NewFactory(driver string, opts RESTOptions) (Factory, error) {
	switch driver {
	case "rest":
		return func(r model.Router) (Device, error) {
			if r.Host == "" {
				return nil, fmt.Errorf("router %d has no host", r.ID)
			}
			return NewRESTClient(r, opts), nil
		}, nil
	case "mock":
		var mu sync.Mutex
		devices := map[int64]*MemoryDevice{}
		return func(r model.Router) (Device, error) {
			mu.Lock()
			defer mu.Unlock()
			d, ok := devices[r.ID]
			if !ok {
				d = NewMemoryDevice(DemoSecrets()...)
				d.SetSessions(DemoSessions())
				devices[r.ID] = d
			}
			return d, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown device driver %q", driver)
	}
}
