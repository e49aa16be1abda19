// Package app wires the stores, device pool and services shared by the serve and worker commands.
package app

import (
	"fmt"
	"time"

	"github.com/jmehdipour/isp-billing/internal/config"
	"github.com/jmehdipour/isp-billing/internal/db"
	"github.com/jmehdipour/isp-billing/internal/devicecache"
	httpSrv "github.com/jmehdipour/isp-billing/internal/http"
	"github.com/jmehdipour/isp-billing/internal/repository"
	"github.com/jmehdipour/isp-billing/internal/routeros"
	"github.com/jmehdipour/isp-billing/internal/service/billing"
	"github.com/jmehdipour/isp-billing/internal/service/devicesync"
	"github.com/jmehdipour/isp-billing/internal/service/notify"
	"github.com/jmehdipour/isp-billing/internal/service/payment"
	"github.com/jmehdipour/isp-billing/internal/service/provisioning"
	"github.com/jmehdipour/isp-billing/internal/service/usage"
	"github.com/jmehdipour/isp-billing/internal/util"
	"github.com/jmehdipour/isp-billing/internal/worker"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Cfg config.Config
	Log *zap.Logger

	MySQL      *sqlx.DB
	ClickHouse *sqlx.DB
	Redis      *redis.Client

	Customers *repository.CustomersRepositoryImpl
	Plans     *repository.PlansRepositoryImpl
	Routers   *repository.RoutersRepositoryImpl

	Pool         *routeros.Pool
	Provisioning *provisioning.Service
	Sync         *devicesync.Service
	Notify       *notify.Service
	Billing      *billing.Service
	Payments     *payment.Service
	Usage        *usage.Service

	closers []func() error
}

// New connects every store and builds the services. Close releases what was opened,
// also when New fails halfway.
func New(cfg config.Config, log *zap.Logger) (a *App, err error) {
	a = &App{Cfg: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.MySQL, err = db.NewMySQL(cfg.MySQL); err != nil {
		return a, fmt.Errorf("mysql connect: %w", err)
	}
	a.closers = append(a.closers, a.MySQL.Close)

	if a.Redis, err = db.NewRedis(cfg.Redis); err != nil {
		return a, fmt.Errorf("redis connect: %w", err)
	}
	a.closers = append(a.closers, a.Redis.Close)

	if a.ClickHouse, err = db.NewClickHouse(cfg.ClickHouse); err != nil {
		return a, fmt.Errorf("clickhouse connect: %w", err)
	}
	a.closers = append(a.closers, a.ClickHouse.Close)

	// repos (MySQL)
	a.Customers = repository.NewCustomersRepository(a.MySQL)
	a.Plans = repository.NewPlansRepository(a.MySQL)
	a.Routers = repository.NewRoutersRepository(a.MySQL)
	invoices := repository.NewInvoicesRepository(a.MySQL)
	payments := repository.NewPaymentsRepository(a.MySQL)
	notifications := repository.NewNotificationsRepository(a.MySQL)
	outbox := repository.NewOutboxRepository(a.MySQL)

	// repos (ClickHouse)
	samples := repository.NewCHSessionSamplesRepository(a.ClickHouse)

	// device access
	var store devicecache.Store = devicecache.NewMemoryStore()
	if cfg.Cache.Backend == "redis" {
		store = devicecache.NewRedisStore(a.Redis, cfg.Cache.KeyPrefix)
	}
	factory, err := routeros.NewFactory(cfg.Device.Driver, routeros.RESTOptions{
		Scheme:        cfg.Device.Scheme,
		Timeout:       cfg.Device.Timeout,
		InsecureTLS:   cfg.Device.InsecureTLS,
		FailThreshold: cfg.Device.Breaker.FailThreshold,
		OpenFor:       time.Duration(cfg.Device.Breaker.OpenForMs) * time.Millisecond,
	})
	if err != nil {
		return a, err
	}
	a.Pool = routeros.NewPool(factory, a.Routers, devicecache.New(store, cfg.Cache.TTL))

	gateways, methods, err := payment.GatewaysFromConfig(cfg.Payments.Methods)
	if err != nil {
		return a, fmt.Errorf("payment gateways: %w", err)
	}

	// provisioning and sync serialize on the same per-customer locks
	locks := util.NewKeyLock()

	a.Provisioning = provisioning.NewService(a.Pool, a.Customers, a.Plans, locks, log)
	a.Sync = devicesync.NewService(a.Pool, a.Customers, a.Plans, a.Routers, locks, log)
	a.Notify = notify.New(a.MySQL, notifications, outbox, cfg.Kafka.NotificationsTopic, log)
	a.Billing = billing.NewService(invoices, a.Customers, a.Plans, a.Provisioning, a.Notify, billing.Policy{
		SuspendAfterDays: cfg.Billing.SuspendAfterDays,
		OverdueLookback:  cfg.Billing.OverdueLookback,
		InvoiceDueDays:   cfg.Billing.InvoiceDueDays,
		WarningInterval:  cfg.Billing.WarningInterval,
	}, log)
	a.Payments = payment.NewService(a.MySQL, invoices, payments, a.Customers, a.Notify, gateways, methods, log)
	a.Usage = usage.NewService(a.Pool, a.Routers, a.Customers, samples, log)

	return a, nil
}

// HTTPDeps exposes the services to the HTTP adapters.
func (a *App) HTTPDeps() httpSrv.Deps {
	return httpSrv.Deps{
		Routers:      a.Routers,
		Customers:    a.Customers,
		Sync:         a.Sync,
		Provisioning: a.Provisioning,
		Billing:      a.Billing,
		Payments:     a.Payments,
		Usage:        a.Usage,
		Redis:        a.Redis,
	}
}

// Runner executes worker commands against the services.
func (a *App) Runner() *worker.Runner {
	return &worker.Runner{
		Billing: a.Billing,
		Sync:    a.Sync,
		Usage:   a.Usage,
		Routers: a.Routers,
		Log:     a.Log,
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
