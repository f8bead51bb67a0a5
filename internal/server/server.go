package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/packclaim/internal/audit"
	auditdomain "github.com/smallbiznis/packclaim/internal/audit/domain"
	"github.com/smallbiznis/packclaim/internal/checkout"
	checkoutdomain "github.com/smallbiznis/packclaim/internal/checkout/domain"
	"github.com/smallbiznis/packclaim/internal/claim"
	"github.com/smallbiznis/packclaim/internal/config"
	"github.com/smallbiznis/packclaim/internal/customer"
	"github.com/smallbiznis/packclaim/internal/events"
	"github.com/smallbiznis/packclaim/internal/inventory"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/smallbiznis/packclaim/internal/observability"
	obsmiddleware "github.com/smallbiznis/packclaim/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/packclaim/internal/observability/metrics"
	obstracing "github.com/smallbiznis/packclaim/internal/observability/tracing"
	"github.com/smallbiznis/packclaim/internal/payment"
	paymentdomain "github.com/smallbiznis/packclaim/internal/payment/domain"
	"github.com/smallbiznis/packclaim/internal/pricing"
	"github.com/smallbiznis/packclaim/internal/ratelimit"
	"github.com/smallbiznis/packclaim/internal/referral"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	audit.Module,
	events.Module,
	customer.Module,
	inventory.Module,
	pricing.Module,
	referral.Module,
	claim.Module,
	checkout.Module,
	payment.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.Metrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	useJSONFieldNames()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// RunHTTP serves the engine for the lifetime of the fx app.
func RunHTTP(lc fx.Lifecycle, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	referrals    *referral.Validator
	claims       *claim.Manager
	checkoutSvc  checkoutdomain.Service
	paymentSvc   paymentdomain.Service
	inventorySvc inventorydomain.Service
	auditSvc     auditdomain.Service
	limiter      *ratelimit.Limiter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Referrals    *referral.Validator
	Claims       *claim.Manager
	CheckoutSvc  checkoutdomain.Service
	PaymentSvc   paymentdomain.Service
	InventorySvc inventorydomain.Service
	AuditSvc     auditdomain.Service
	Limiter      *ratelimit.Limiter  `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		referrals:    p.Referrals,
		claims:       p.Claims,
		checkoutSvc:  p.CheckoutSvc,
		paymentSvc:   p.PaymentSvc,
		inventorySvc: p.InventorySvc,
		auditSvc:     p.AuditSvc,
		limiter:      p.Limiter,
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerPublicRoutes()
	svc.registerWebhookRoutes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	pkg := s.engine.Group("/v1/packages/:package_id")

	pkg.GET("/referral", s.RateLimit("referral"), s.ValidateReferral)
	pkg.POST("/claim", s.RateLimit("claim"), s.ClaimPackage)
	pkg.POST("/checkout", s.CreateCheckoutSession)
	pkg.GET("/status", s.GetPackageStatus)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhook", s.HandlePaymentWebhook)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.InternalAPIKeyRequired())

	internal.GET("/packages", s.ListSettledPackages)
	internal.POST("/packages", s.IssuePackage)
	internal.POST("/packages/:package_id/cancel", s.CancelPackage)
	internal.GET("/packages/:package_id/payments", s.ListPackagePayments)

	internal.GET("/audit-logs", s.ListAuditLogs)
}
