package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/util"
	"go.uber.org/zap"
)

// Job runs Action every Every. A non-positive Every disables the job.
type Job struct {
	Action model.CommandAction
	Every  time.Duration
}

// Scheduler runs passes on fixed intervals in-process, for deployments without
// an external command producer. Runs of one job never overlap; a tick that
// arrives while the previous run is busy is dropped.
type Scheduler struct {
	Runner     *Runner
	Jobs       []Job
	RunAtStart bool
	Log        *zap.Logger
}

// Run blocks until ctx is cancelled and every in-flight pass has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, j := range s.Jobs {
		if j.Every <= 0 {
			continue
		}
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	tick := time.NewTicker(j.Every)
	defer tick.Stop()

	if s.RunAtStart {
		s.once(ctx, j)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.once(ctx, j)
		}
	}
}

func (s *Scheduler) once(ctx context.Context, j Job) {
	cmd := model.Command{ID: util.New(), Action: j.Action}
	if err := s.Runner.Run(ctx, cmd); err != nil && ctx.Err() == nil {
		s.Log.Error("scheduled pass failed", zap.String("action", string(j.Action)), zap.Error(err))
	}
}
