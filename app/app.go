// Package app wires configuration, storage and the payment core into an HTTP server.
package app

import (
	"io"
	"log/slog"
	"net/http"

	"splitpay-api/checkout"
	"splitpay-api/claims"
	"splitpay-api/config"
	"splitpay-api/display"
	"splitpay-api/gateway"
	"splitpay-api/handlers"
	"splitpay-api/ledger"
	"splitpay-api/middleware"
	"splitpay-api/models"
	"splitpay-api/realtime"
	"splitpay-api/reconcile"
	"splitpay-api/routes"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// sandboxProcessorFeeBps is what the sandbox reports as its own fee
const sandboxProcessorFeeBps = 300

type App struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *slog.Logger
	Claims *claims.Store
	Hub    *realtime.Hub
	Deps   *handlers.Deps
	Engine *gin.Engine
}

// NewLogger returns a JSON logger in release mode and a text logger otherwise
func NewLogger(mode string, w io.Writer) *slog.Logger {
	if mode == gin.ReleaseMode {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// New builds the service on an already migrated database
func New(cfg *config.Config, db *gorm.DB, logger *slog.Logger) *App {
	p := cfg.Payments
	l := ledger.New(p.PaidTolerance)
	hub := realtime.NewHub(cfg.CORS.AllowOrigins, logger)
	store := claims.NewStore(db, l, claims.Options{
		FixedFee: p.FixedSplitFee,
		Window:   p.ClaimWindow,
		Notifier: hub,
		Logger:   logger,
	})
	creds := gateway.NewCredentialStore(db, gateway.NewSealer(cfg.Secrets.CredentialKey))

	registry := gateway.NewRegistry()
	registry.Register(models.ProcessorMercadoPago,
		gateway.NewMercadoPago(p.MercadoPagoBaseURL, p.CurrencyDecimals, &http.Client{Timeout: p.GatewayTimeout}))
	var sandbox *gateway.Sandbox
	if p.SandboxEnabled {
		sandbox = gateway.NewSandbox(cfg.Server.PublicBaseURL, sandboxProcessorFeeBps)
		registry.Register(models.ProcessorSandbox, sandbox)
	}
	resolver := gateway.NewResolver(creds, registry, p.GatewayTimeout, p.MaxCredentialAttempts, logger)

	deps := &handlers.Deps{
		DB:     db,
		Claims: store,
		Initiator: checkout.NewInitiator(db, store, l, creds, registry, checkout.Options{
			PublicBaseURL:     cfg.Server.PublicBaseURL,
			Currency:          p.Currency,
			MarketplaceFeeBps: p.MarketplaceFeeBps,
			Timeout:           p.GatewayTimeout,
			Logger:            logger,
		}),
		Reconciler:  reconcile.New(db, store, l, resolver, hub, logger),
		Display:     display.NewResolver(db, store, resolver, logger),
		Credentials: creds,
		Hub:         hub,
		Logger:      logger,
		Sandbox:     sandbox,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogger(logger))
	routes.SetupRoutes(engine, deps, routes.Options{
		JWTSecret:    []byte(cfg.Auth.JWTSecret),
		AllowOrigins: cfg.CORS.AllowOrigins,
		Limiter:      middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	})

	return &App{
		Config: cfg,
		DB:     db,
		Logger: logger,
		Claims: store,
		Hub:    hub,
		Deps:   deps,
		Engine: engine,
	}
}
