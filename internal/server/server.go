package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/payflow/internal/config"
	customerdomain "github.com/smallbiznis/payflow/internal/customer/domain"
	idempotencydomain "github.com/smallbiznis/payflow/internal/idempotency/domain"
	invoicedomain "github.com/smallbiznis/payflow/internal/invoice/domain"
	"github.com/smallbiznis/payflow/internal/observability"
	obslogger "github.com/smallbiznis/payflow/internal/observability/logger"
	obstracing "github.com/smallbiznis/payflow/internal/observability/tracing"
	plandomain "github.com/smallbiznis/payflow/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/payflow/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/payflow/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, classifyErrorForLog))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(obsCfg, log)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	if !cfg.HasRole(config.RoleAPI) {
		return
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine          *gin.Engine
	log             *zap.Logger
	runtimeConfig   *config.RuntimeConfigHolder
	customerSvc     customerdomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	idempotencySvc  idempotencydomain.Service
	webhookSvc      webhookdomain.Service
	verifier        *webhookdomain.Verifier
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Log             *zap.Logger
	RuntimeConfig   *config.RuntimeConfigHolder
	CustomerSvc     customerdomain.Service
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	IdempotencySvc  idempotencydomain.Service
	WebhookSvc      webhookdomain.Service
	Verifier        *webhookdomain.Verifier `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		log:             p.Log.Named("http.server"),
		runtimeConfig:   p.RuntimeConfig,
		customerSvc:     p.CustomerSvc,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		idempotencySvc:  p.IdempotencySvc,
		webhookSvc:      p.WebhookSvc,
		verifier:        p.Verifier,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.MaxBodyBytes())

	// -------- Provider webhooks --------
	api.POST("/webhooks/provider", s.HandleProviderWebhook)

	// -------- Customers --------
	api.POST("/customers", s.CreateCustomer)
	api.GET("/customers/:id", s.GetCustomerByID)

	// -------- Plans --------
	api.POST("/plans", s.CreatePlan)
	api.GET("/plans/:id", s.GetPlanByID)

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.GET("/subscriptions/:id/invoices", s.ListSubscriptionInvoices)

	// -------- Invoices --------
	api.GET("/invoices/:id", s.GetInvoiceByID)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

func (s *Server) maxPayloadBytes() int64 {
	if s.runtimeConfig == nil {
		return int64(config.DefaultRuntimeConfig().MaxPayloadBytes)
	}
	return int64(s.runtimeConfig.Get().MaxPayloadBytes)
}
