package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/isp-billing/internal/config"
	"github.com/jmehdipour/isp-billing/internal/http/middleware"
	"github.com/jmehdipour/isp-billing/internal/metrics"
	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/jmehdipour/isp-billing/internal/service/billing"
	"github.com/jmehdipour/isp-billing/internal/service/devicesync"
	"github.com/jmehdipour/isp-billing/internal/service/payment"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type RouterLookup interface {
	GetByID(ctx context.Context, id int64) (*model.Router, error)
}

type CustomerLookup interface {
	GetByID(ctx context.Context, id int64) (*model.Customer, error)
}

type Syncer interface {
	Sync(ctx context.Context, router model.Router) (devicesync.Result, error)
}

type Provisioner interface {
	Provision(ctx context.Context, c *model.Customer) (string, error)
	UpdateProvisioning(ctx context.Context, c *model.Customer) error
	Suspend(ctx context.Context, c *model.Customer) error
	Resume(ctx context.Context, c *model.Customer) error
	Deprovision(ctx context.Context, c *model.Customer) error
	ListActiveSessions(ctx context.Context, routerID int64) ([]model.Session, error)
	TestConnection(ctx context.Context, routerID int64) error
}

type Biller interface {
	ProcessOverdueInvoices(ctx context.Context) (billing.SuspensionResult, error)
	GenerateMonthlyInvoices(ctx context.Context) (billing.InvoiceResult, error)
}

type Payments interface {
	AvailableMethods() []payment.Method
	ProcessPayment(ctx context.Context, req payment.Request) (payment.Result, error)
	ProcessRefund(ctx context.Context, paymentID int64, amount int64) (payment.Result, error)
	Status(ctx context.Context, paymentID int64) (*model.Payment, error)
}

type UsageReader interface {
	Usage(ctx context.Context, customerID int64, since time.Time, limit int) ([]model.SessionSample, error)
}

// Deps are the services the HTTP adapters call into.
type Deps struct {
	Routers      RouterLookup
	Customers    CustomerLookup
	Sync         Syncer
	Provisioning Provisioner
	Billing      Biller
	Payments     Payments
	Usage        UsageReader
	Redis        *redis.Client
	// Registry defaults to the global prometheus registry.
	Registry *prometheus.Registry
}

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, d Deps) *Server {
	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	var (
		reg    prometheus.Registerer = prometheus.DefaultRegisterer
		gather prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if d.Registry != nil {
		reg, gather = d.Registry, d.Registry
	}
	metrics.MustRegister(reg)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gather, promhttp.HandlerOpts{})))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(cfg.Auth.APIKeys)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		Burst:          cfg.RateLimit.Burst,
		KeyPrefix:      "rl:key:",
		Window:         time.Second,
		RetryAfterHint: true,
	})
	ownerMW := middleware.RequireRole(middleware.RoleOwner)

	// routes
	v1 := e.Group("/v1", authMW, rlMW)

	owner := v1.Group("", ownerMW)
	owner.POST("/routers/:id/sync", syncRouterHandler(d.Routers, d.Sync))
	owner.GET("/routers/:id/sessions", sessionsHandler(d.Provisioning))
	owner.POST("/routers/:id/test", testConnectionHandler(d.Provisioning))
	owner.POST("/customers/:id/pppoe", pppoeHandler(d.Customers, d.Provisioning))
	owner.GET("/customers/:id/usage", usageHandler(d.Usage))
	owner.POST("/billing/automation", automationHandler(d.Billing))

	v1.GET("/payments/methods", paymentMethodsHandler(d.Payments))
	v1.POST("/payments", createPaymentHandler(d.Payments))
	v1.POST("/payments/:id/refund", refundHandler(d.Payments))
	v1.GET("/payments/:id/status", paymentStatusHandler(d.Payments))

	return &Server{e: e}
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func (s *Server) Start(addr string) error {
	log.Infof("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
