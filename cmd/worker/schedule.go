package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runAtStart bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run sync, billing, invoicing and snapshot passes on the configured intervals",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, log, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sc := a.Cfg.Schedule
		s := &worker.Scheduler{
			Runner:     a.Runner(),
			RunAtStart: runAtStart,
			Log:        log,
			Jobs: []worker.Job{
				{Action: model.ActionSyncAll, Every: sc.SyncInterval},
				{Action: model.ActionProcessOverdue, Every: sc.BillingInterval},
				{Action: model.ActionGenerateMonthly, Every: sc.InvoiceInterval},
				{Action: model.ActionSnapshotSessions, Every: sc.SnapshotInterval},
			},
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		serveMetrics(ctx, log)

		log.Info("scheduler started",
			zap.Duration("sync", sc.SyncInterval), zap.Duration("billing", sc.BillingInterval),
			zap.Duration("invoices", sc.InvoiceInterval), zap.Duration("snapshot", sc.SnapshotInterval))
		return s.Run(ctx)
	},
}

func init() {
	scheduleCmd.Flags().BoolVar(&runAtStart, "run-at-start", false, "run every job once before waiting for the first tick")
}
