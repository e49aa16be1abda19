package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/repository"
	"github.com/jmehdipour/isp-billing/internal/routeros"
	"go.uber.org/zap"
)

var ErrCustomerNotFound = errors.New("customer not found")

// SnapshotResult counts samples written per pass.
type SnapshotResult struct {
	Routers int      `json:"routers"`
	Samples int      `json:"samples"`
	Errors  []string `json:"errors"`
}

// Service samples live session counters into ClickHouse and reads them back per customer.
type Service struct {
	pool      *routeros.Pool
	routers   repository.RoutersRepository
	customers repository.CustomersRepository
	samples   repository.SessionSamplesRepository
	log       *zap.Logger
	now       func() time.Time
}

func NewService(pool *routeros.Pool, routers repository.RoutersRepository, customers repository.CustomersRepository,
	samples repository.SessionSamplesRepository, log *zap.Logger) *Service {
	return &Service{pool: pool, routers: routers, customers: customers, samples: samples, log: log, now: time.Now}
}

// Snapshot reads active sessions of every active router, bypassing the result cache,
// and appends one sample per session. A failing router does not stop the others.
func (s *Service) Snapshot(ctx context.Context) (SnapshotResult, error) {
	res := SnapshotResult{Errors: []string{}}
	routers, err := s.routers.ListActive(ctx)
	if err != nil {
		return res, fmt.Errorf("list routers: %w", err)
	}

	at := s.now().UTC()
	var batch []model.SessionSample
	for _, r := range routers {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		dev, err := s.pool.ForRouter(r)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("router %d: %v", r.ID, err))
			continue
		}
		sessions, err := dev.Uncached().ListActiveSessions(ctx)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("router %d: %v", r.ID, err))
			continue
		}
		res.Routers++
		for _, ss := range sessions {
			batch = append(batch, model.SessionSample{
				RouterID:  r.ID,
				Username:  ss.Name,
				Address:   ss.Address,
				CallerID:  ss.CallerID,
				Uptime:    ss.Uptime,
				BytesIn:   ss.BytesIn,
				BytesOut:  ss.BytesOut,
				SampledAt: at,
			})
		}
	}

	if err := s.samples.InsertBatch(ctx, batch); err != nil {
		return res, fmt.Errorf("insert samples: %w", err)
	}
	res.Samples = len(batch)
	s.log.Info("session snapshot stored", zap.Int("routers", res.Routers), zap.Int("samples", res.Samples))
	return res, nil
}

// Usage lists the customer's recorded samples, newest first.
func (s *Service) Usage(ctx context.Context, customerID int64, since time.Time, limit int) ([]model.SessionSample, error) {
	c, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCustomerNotFound
	}
	return s.samples.ListByUsername(ctx, c.RouterID, c.Username, since, limit)
}
