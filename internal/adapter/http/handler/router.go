package handler

import (
	"vendor-payouts/internal/adapter/http/middleware"
	redisStore "vendor-payouts/internal/adapter/storage/redis"
	"vendor-payouts/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	PayoutSvc      ports.PayoutService
	BalanceSvc     ports.BalanceService
	ScheduleSvc    ports.ScheduleService
	AccountSvc     ports.AccountService
	Reconciler     ports.WebhookReconciler
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// --- Processor notifications (signature-authenticated) ---
	webhookHandler := NewWebhookHandler(deps.Reconciler, deps.Logger)
	r.POST("/webhooks/:processor", rl("webhooks"), webhookHandler.Receive)

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	vendorOnly := middleware.RequireVendor()
	v1 := r.Group("/api/v1", jwtAuth)

	payoutHandler := NewPayoutHandler(deps.PayoutSvc)
	payouts := v1.Group("/payouts")
	{
		payouts.POST("", vendorOnly, rl("payouts_create"), payoutHandler.Create)
		payouts.GET("", vendorOnly, rl("read"), payoutHandler.List)
		payouts.GET("/:id", rl("read"), payoutHandler.Get)
		payouts.POST("/:id/cancel", rl("payouts_create"), payoutHandler.Cancel)
	}

	balanceHandler := NewBalanceHandler(deps.BalanceSvc, deps.ScheduleSvc)
	v1.GET("/balance", vendorOnly, rl("read"), balanceHandler.GetBalance)
	v1.GET("/payout-schedule", vendorOnly, rl("read"), balanceHandler.GetSchedule)
	v1.PUT("/payout-schedule", vendorOnly, rl("schedule_update"), balanceHandler.UpdateSchedule)

	accountHandler := NewAccountHandler(deps.AccountSvc)
	v1.POST("/payout-accounts/:id/verify", rl("account_verify"), accountHandler.Verify)

	return r
}
