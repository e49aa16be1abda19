package worker

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/isp-billing/internal/kafka"
	"go.uber.org/zap"
)

// Fetcher is the subset of kafka.Consumer the worker needs.
type Fetcher interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// CommandWorker:
// - fetches commands from Kafka,
// - runs the requested pass, one at a time,
// - commits after the pass, so a crash mid-pass redelivers the command.
type CommandWorker struct {
	Consumer Fetcher
	Runner   *Runner
	Log      *zap.Logger

	FetchBackoff time.Duration // pause after a fetch error
}

func NewCommandWorker(consumer Fetcher, runner *Runner, log *zap.Logger) *CommandWorker {
	return &CommandWorker{
		Consumer:     consumer,
		Runner:       runner,
		Log:          log,
		FetchBackoff: 200 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled.
func (w *CommandWorker) Run(ctx context.Context) error {
	for {
		m, err := w.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.Log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.FetchBackoff):
			}
			continue
		}
		w.handle(ctx, m)
	}
}

func (w *CommandWorker) handle(ctx context.Context, m kafka.Message) {
	cmd, err := kafka.DecodeCommand(m)
	if err != nil {
		// poison: commit and skip
		w.Log.Warn("dropping bad command", zap.Int64("offset", m.Offset), zap.Error(err))
		w.commit(ctx, m)
		return
	}

	start := time.Now()
	err = w.Runner.Run(ctx, cmd)
	if ctx.Err() != nil {
		// interrupted: leave uncommitted for redelivery
		w.Log.Info("command interrupted", zap.String("command_id", cmd.ID), zap.String("action", string(cmd.Action)))
		return
	}
	if err != nil {
		// passes are idempotent and the next scheduled run repeats the work
		w.Log.Error("command failed", zap.String("command_id", cmd.ID), zap.String("action", string(cmd.Action)),
			zap.Duration("took", time.Since(start)), zap.Error(err))
	} else {
		w.Log.Info("command done", zap.String("command_id", cmd.ID), zap.String("action", string(cmd.Action)),
			zap.Duration("took", time.Since(start)))
	}
	w.commit(ctx, m)
}

func (w *CommandWorker) commit(ctx context.Context, m kafka.Message) {
	if err := w.Consumer.Commit(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
		w.Log.Error("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}
