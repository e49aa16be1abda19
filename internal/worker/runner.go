package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/service/billing"
	"github.com/jmehdipour/isp-billing/internal/service/devicesync"
	"github.com/jmehdipour/isp-billing/internal/service/usage"
	"go.uber.org/zap"
)

type Billing interface {
	ProcessOverdueInvoices(ctx context.Context) (billing.SuspensionResult, error)
	GenerateMonthlyInvoices(ctx context.Context) (billing.InvoiceResult, error)
}

type Syncer interface {
	Sync(ctx context.Context, router model.Router) (devicesync.Result, error)
	SyncAll(ctx context.Context) ([]devicesync.Result, error)
}

type Snapshotter interface {
	Snapshot(ctx context.Context) (usage.SnapshotResult, error)
}

type RouterLookup interface {
	GetByID(ctx context.Context, id int64) (*model.Router, error)
}

var ErrUnknownRouter = errors.New("router not found")

// Runner executes one pass per command. Record-level failures stay inside the pass
// summary; only store failures and cancellation come back as errors.
type Runner struct {
	Billing Billing
	Sync    Syncer
	Usage   Snapshotter
	Routers RouterLookup
	Log     *zap.Logger
}

func (r *Runner) Run(ctx context.Context, cmd model.Command) error {
	log := r.Log.With(zap.String("command_id", cmd.ID), zap.String("action", string(cmd.Action)))

	switch cmd.Action {
	case model.ActionProcessOverdue:
		res, err := r.Billing.ProcessOverdueInvoices(ctx)
		log.Info("pass done", zap.Int("suspended", res.Suspended), zap.Int("reactivated", res.Reactivated),
			zap.Int("notified", res.Notified), zap.Strings("errors", res.Errors))
		return err

	case model.ActionGenerateMonthly:
		res, err := r.Billing.GenerateMonthlyInvoices(ctx)
		log.Info("pass done", zap.Int("generated", res.Generated), zap.Strings("errors", res.Errors))
		return err

	case model.ActionSyncRouter:
		router, err := r.Routers.GetByID(ctx, cmd.RouterID)
		if err != nil {
			return fmt.Errorf("get router %d: %w", cmd.RouterID, err)
		}
		if router == nil {
			return fmt.Errorf("%w: %d", ErrUnknownRouter, cmd.RouterID)
		}
		res, err := r.Sync.Sync(ctx, *router)
		logSync(log, res)
		return err

	case model.ActionSyncAll:
		results, err := r.Sync.SyncAll(ctx)
		for _, res := range results {
			logSync(log, res)
		}
		return err

	case model.ActionSnapshotSessions:
		res, err := r.Usage.Snapshot(ctx)
		log.Info("pass done", zap.Int("routers", res.Routers), zap.Int("samples", res.Samples),
			zap.Strings("errors", res.Errors))
		return err
	}
	return fmt.Errorf("unknown action %q", cmd.Action)
}

func logSync(log *zap.Logger, res devicesync.Result) {
	log.Info("pass done", zap.Int64("router_id", res.RouterID), zap.Int("added", res.Added),
		zap.Int("updated", res.Updated), zap.Int("disabled", res.Disabled), zap.Int("skipped", res.Skipped),
		zap.Strings("errors", res.Errors))
}
