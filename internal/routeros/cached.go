package routeros

import (
	"context"
	"fmt"

	"github.com/jmehdipour/isp-billing/internal/devicecache"
	"github.com/jmehdipour/isp-billing/internal/model"
)

const (
	cacheKeySecrets  = "ppp-secrets"
	cacheKeySessions = "ppp-actives"
)

// CachedDevice serves reads through the result cache and invalidates the device's
// entries after every successful mutation, before returning to the caller.
type CachedDevice struct {
	dev      Device
	cache    *devicecache.Cache
	deviceID string
}

func NewCachedDevice(dev Device, cache *devicecache.Cache, deviceID string) *CachedDevice {
	return &CachedDevice{dev: dev, cache: cache, deviceID: deviceID}
}

var _ Device = (*CachedDevice)(nil)

// Uncached exposes the underlying device for calls that must observe live state.
func (c *CachedDevice) Uncached() Device { return c.dev }

// Generation changes whenever a mutation of this device invalidated its cached reads.
func (c *CachedDevice) Generation(ctx context.Context) (uint64, error) {
	return c.cache.Generation(ctx, c.deviceID)
}

func (c *CachedDevice) ListSecrets(ctx context.Context) ([]model.Secret, error) {
	return devicecache.GetOrFetch(ctx, c.cache, c.deviceID, cacheKeySecrets, c.dev.ListSecrets)
}

func (c *CachedDevice) ListActiveSessions(ctx context.Context) ([]model.Session, error) {
	return devicecache.GetOrFetch(ctx, c.cache, c.deviceID, cacheKeySessions, c.dev.ListActiveSessions)
}

func (c *CachedDevice) AddSecret(ctx context.Context, spec model.SecretSpec) (string, error) {
	id, err := c.dev.AddSecret(ctx, spec)
	if err != nil {
		return "", err
	}
	return id, c.invalidate(ctx, OpAddSecret)
}

func (c *CachedDevice) UpdateSecret(ctx context.Context, id string, upd model.SecretUpdate) error {
	if err := c.dev.UpdateSecret(ctx, id, upd); err != nil {
		return err
	}
	return c.invalidate(ctx, OpUpdateSecret)
}

func (c *CachedDevice) DisableSecret(ctx context.Context, id string) error {
	if err := c.dev.DisableSecret(ctx, id); err != nil {
		return err
	}
	return c.invalidate(ctx, OpDisableSecret)
}

func (c *CachedDevice) EnableSecret(ctx context.Context, id string) error {
	if err := c.dev.EnableSecret(ctx, id); err != nil {
		return err
	}
	return c.invalidate(ctx, OpEnableSecret)
}

func (c *CachedDevice) RemoveSecret(ctx context.Context, id string) error {
	if err := c.dev.RemoveSecret(ctx, id); err != nil {
		return err
	}
	return c.invalidate(ctx, OpRemoveSecret)
}

func (c *CachedDevice) invalidate(ctx context.Context, op string) error {
	if err := c.cache.Invalidate(ctx, c.deviceID); err != nil {
		return wrap(op, fmt.Errorf("invalidate cache: %w", err))
	}
	return nil
}
