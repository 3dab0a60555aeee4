package routes

import (
	"net/http"
	"time"

	"splitpay-api/handlers"
	"splitpay-api/middleware"
	"splitpay-api/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Options struct {
	JWTSecret    []byte
	AllowOrigins []string
	Limiter      *middleware.RateLimiter
}

func SetupRoutes(r *gin.Engine, d *handlers.Deps, opts Options) {
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(opts.AllowOrigins) == 0 || (len(opts.AllowOrigins) == 1 && opts.AllowOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = opts.AllowOrigins
	}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "SplitPay Payment Reconciliation API",
		})
	})

	limited := func(h gin.HandlerFunc) []gin.HandlerFunc {
		if opts.Limiter == nil {
			return []gin.HandlerFunc{h}
		}
		return []gin.HandlerFunc{opts.Limiter.Middleware(), h}
	}

	// ── Diner routes, scoped by table QR code ──────────────────────
	tables := r.Group("/api/tables/:qr")
	{
		tables.GET("/orders/:orderId", handlers.GetOrder(d))
		tables.GET("/orders/:orderId/fee-estimate", handlers.FeeEstimate(d))
		tables.POST("/orders/:orderId/claims", limited(handlers.CreateClaim(d))...)
		tables.GET("/orders/:orderId/live", handlers.OrderLive(d))
		tables.GET("/claims/:claimId", handlers.GetClaim(d))
		tables.POST("/payments", limited(handlers.CreatePayment(d))...)
	}

	// ── Gateway callbacks ──────────────────────────────────────────
	api := r.Group("/api")
	{
		api.POST("/webhooks/payments", handlers.PaymentWebhook(d))
		api.GET("/checkout/success", handlers.CheckoutSuccess(d))
	}

	if d.Sandbox != nil {
		r.GET("/sandbox/checkout/:preferenceId", handlers.SandboxCheckout(d))
		api.POST("/sandbox/preferences/:preferenceId/pay", handlers.SandboxPay(d))
	}

	// ── Staff routes ───────────────────────────────────────────────
	staff := r.Group("/api/staff")
	staff.Use(middleware.AuthRequired(opts.JWTSecret), middleware.RoleRequired(models.RoleStaff, models.RoleAdmin))
	{
		staff.POST("/credentials", handlers.SaveCredential(d))
		staff.GET("/orders/:orderId/claims", handlers.ListOrderClaims(d))
		staff.POST("/orders/:orderId/cancel", handlers.CancelOrder(d))
		staff.POST("/sweep", handlers.Sweep(d))
	}
}
