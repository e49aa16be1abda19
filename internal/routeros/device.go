// Package routeros talks to the access-control device that holds PPP secrets and sessions.
package routeros

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/isp-billing/internal/model"
)

// Operation names carried by DeviceError and used as metric labels.
const (
	OpListSecrets   = "list_secrets"
	OpListSessions  = "list_sessions"
	OpAddSecret     = "add_secret"
	OpUpdateSecret  = "update_secret"
	OpDisableSecret = "disable_secret"
	OpEnableSecret  = "enable_secret"
	OpRemoveSecret  = "remove_secret"
)

// Device is the set of primitive remote-management calls. AddSecret is not idempotent:
// repeating it may create a duplicate secret, so callers must not retry it blindly.
type Device interface {
	ListSecrets(ctx context.Context) ([]model.Secret, error)
	ListActiveSessions(ctx context.Context) ([]model.Session, error)
	AddSecret(ctx context.Context, spec model.SecretSpec) (string, error)
	UpdateSecret(ctx context.Context, id string, upd model.SecretUpdate) error
	DisableSecret(ctx context.Context, id string) error
	EnableSecret(ctx context.Context, id string) error
	RemoveSecret(ctx context.Context, id string) error
}

var (
	ErrCircuitOpen    = errors.New("device circuit open")
	ErrSecretNotFound = errors.New("secret not found")
	ErrBadResponse    = errors.New("malformed device response")
)

// DeviceError is the single error type surfaced by device calls.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &DeviceError{Op: op, Err: err}
}

// IsDeviceError reports whether err came from a device call.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
