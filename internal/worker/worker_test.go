package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/isp-billing/internal/kafka"
	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/service/billing"
	"github.com/jmehdipour/isp-billing/internal/service/devicesync"
	"github.com/jmehdipour/isp-billing/internal/service/usage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeServices struct {
	mu       sync.Mutex
	calls    []string
	synced   []int64
	overdue  atomic.Int32
	fail     error
	blockFor time.Duration
}

func (f *fakeServices) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeServices) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeServices) ProcessOverdueInvoices(ctx context.Context) (billing.SuspensionResult, error) {
	f.record("process-overdue")
	f.overdue.Add(1)
	if f.blockFor > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(f.blockFor):
		}
	}
	return billing.SuspensionResult{Errors: []string{}}, f.fail
}

func (f *fakeServices) GenerateMonthlyInvoices(context.Context) (billing.InvoiceResult, error) {
	f.record("generate-monthly")
	return billing.InvoiceResult{Generated: 2, Errors: []string{}}, f.fail
}

func (f *fakeServices) Sync(_ context.Context, r model.Router) (devicesync.Result, error) {
	f.record("sync-router")
	f.mu.Lock()
	f.synced = append(f.synced, r.ID)
	f.mu.Unlock()
	return devicesync.Result{RouterID: r.ID, Errors: []string{}}, f.fail
}

func (f *fakeServices) SyncAll(context.Context) ([]devicesync.Result, error) {
	f.record("sync-all")
	return []devicesync.Result{{RouterID: 1, Errors: []string{}}}, f.fail
}

func (f *fakeServices) Snapshot(context.Context) (usage.SnapshotResult, error) {
	f.record("snapshot-sessions")
	return usage.SnapshotResult{Errors: []string{}}, f.fail
}

func (f *fakeServices) GetByID(_ context.Context, id int64) (*model.Router, error) {
	if id != 1 {
		return nil, nil
	}
	return &model.Router{ID: 1, Name: "core", IsActive: true}, nil
}

func newRunner(t *testing.T, f *fakeServices) *Runner {
	return &Runner{Billing: f, Sync: f, Usage: f, Routers: f, Log: zaptest.NewLogger(t)}
}

func TestRunnerDispatchesEveryAction(t *testing.T) {
	f := &fakeServices{}
	r := newRunner(t, f)
	ctx := context.Background()

	for _, a := range []model.CommandAction{
		model.ActionProcessOverdue, model.ActionGenerateMonthly, model.ActionSyncAll, model.ActionSnapshotSessions,
	} {
		require.NoError(t, r.Run(ctx, model.Command{ID: "c", Action: a}))
	}
	require.NoError(t, r.Run(ctx, model.Command{ID: "c", Action: model.ActionSyncRouter, RouterID: 1}))

	require.Equal(t, []string{"process-overdue", "generate-monthly", "sync-all", "snapshot-sessions", "sync-router"}, f.Calls())
	require.Equal(t, []int64{1}, f.synced)
}

func TestRunnerUnknownRouter(t *testing.T) {
	f := &fakeServices{}
	err := newRunner(t, f).Run(context.Background(), model.Command{Action: model.ActionSyncRouter, RouterID: 9})
	require.True(t, errors.Is(err, ErrUnknownRouter))
	require.Empty(t, f.Calls())
}

func TestRunnerReturnsPassError(t *testing.T) {
	f := &fakeServices{fail: errors.New("db down")}
	err := newRunner(t, f).Run(context.Background(), model.Command{Action: model.ActionGenerateMonthly})
	require.EqualError(t, err, "db down")
}

// fakeFetcher hands out msgs and then cancels the worker.
type fakeFetcher struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	fetchErrs int
	cancel    context.CancelFunc
	committed []int64
}

func (f *fakeFetcher) Fetch(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErrs > 0 {
		f.fetchErrs--
		return kafka.Message{}, errors.New("broker unavailable")
	}
	if len(f.msgs) == 0 {
		f.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeFetcher) Commit(_ context.Context, m kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, m.Offset)
	return nil
}

func msg(t *testing.T, offset int64, cmd model.Command) kafka.Message {
	t.Helper()
	m, err := kafka.EncodeCommand(cmd)
	require.NoError(t, err)
	m.Offset = offset
	return m
}

func TestCommandWorkerRunsAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeServices{}
	fetch := &fakeFetcher{
		cancel:    cancel,
		fetchErrs: 1,
		msgs: []kafka.Message{
			msg(t, 1, model.Command{ID: "a", Action: model.ActionProcessOverdue}),
			{Offset: 2, Value: []byte(`{"id":"b","action":"reboot"}`)},
			msg(t, 3, model.Command{ID: "c", Action: model.ActionSyncRouter, RouterID: 1}),
		},
	}
	w := NewCommandWorker(fetch, newRunner(t, f), zaptest.NewLogger(t))
	w.FetchBackoff = time.Millisecond

	require.NoError(t, w.Run(ctx))
	require.Equal(t, []string{"process-overdue", "sync-router"}, f.Calls())
	require.Equal(t, []int64{1, 2, 3}, fetch.committed)
}

func TestCommandWorkerCommitsFailedPass(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeServices{fail: errors.New("db down")}
	fetch := &fakeFetcher{cancel: cancel, msgs: []kafka.Message{
		msg(t, 7, model.Command{ID: "a", Action: model.ActionGenerateMonthly}),
	}}
	require.NoError(t, NewCommandWorker(fetch, newRunner(t, f), zaptest.NewLogger(t)).Run(ctx))
	require.Equal(t, []int64{7}, fetch.committed)
}

func TestCommandWorkerLeavesInterruptedPassUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeServices{blockFor: time.Minute}
	fetch := &fakeFetcher{cancel: cancel, msgs: []kafka.Message{
		msg(t, 1, model.Command{ID: "a", Action: model.ActionProcessOverdue}),
	}}
	go func() {
		for f.overdue.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	require.NoError(t, NewCommandWorker(fetch, newRunner(t, f), zaptest.NewLogger(t)).Run(ctx))
	require.Empty(t, fetch.committed)
}

func TestSchedulerRunsJobsUntilCancelled(t *testing.T) {
	f := &fakeServices{}
	s := &Scheduler{
		Runner:     newRunner(t, f),
		RunAtStart: true,
		Log:        zaptest.NewLogger(t),
		Jobs: []Job{
			{Action: model.ActionProcessOverdue, Every: 5 * time.Millisecond},
			{Action: model.ActionSnapshotSessions, Every: 0}, // disabled
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx))
	require.GreaterOrEqual(t, int(f.overdue.Load()), 2)
	require.NotContains(t, f.Calls(), "snapshot-sessions")
}

func TestSchedulerDoesNotOverlapRuns(t *testing.T) {
	f := &fakeServices{blockFor: 40 * time.Millisecond}
	s := &Scheduler{
		Runner:     newRunner(t, f),
		RunAtStart: true,
		Log:        zaptest.NewLogger(t),
		Jobs:       []Job{{Action: model.ActionProcessOverdue, Every: time.Millisecond}},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx))
	require.LessOrEqual(t, int(f.overdue.Load()), 3)
}
