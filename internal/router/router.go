package router

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vietcart-next/internal/cache"
	"github.com/vietcart-next/internal/config"
	adminhandlers "github.com/vietcart-next/internal/http/handlers/admin"
	publichandlers "github.com/vietcart-next/internal/http/handlers/public"
	"github.com/vietcart-next/internal/logger"
	"github.com/vietcart-next/internal/provider"
)

// SetupRouter wires the HTTP surface.
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)

	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "vc"
	}
	webhookRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:webhook", redisPrefix),
		WindowSeconds: 60,
		MaxRequests:   600,
	}

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	// provider notifications, outside the API envelope conventions
	webhooks := r.Group("/webhooks")
	webhooks.Use(RateLimitMiddleware(cache.Client(), webhookRule, KeyByProviderAndIP))
	{
		webhooks.POST("/:provider", publicHandler.HandleWebhook)
		webhooks.GET("/:provider", publicHandler.HandleWebhook)
		webhooks.POST("/:provider/:tenant_id", publicHandler.HandleWebhook)
		webhooks.GET("/:provider/:tenant_id", publicHandler.HandleWebhook)
	}

	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/providers", publicHandler.ListProviders)

		payments := apiV1.Group("/payments")
		{
			payments.POST("", publicHandler.InitiatePayment)
			payments.GET("", publicHandler.ListPayments)
			payments.GET("/:transaction_no", publicHandler.GetPayment)
			payments.POST("/:transaction_no/cancel", publicHandler.CancelPayment)
			payments.POST("/:transaction_no/confirm", publicHandler.ConfirmManualPayment)
			payments.POST("/:transaction_no/refunds", publicHandler.RequestRefund)
			payments.GET("/:transaction_no/refunds", publicHandler.ListRefunds)
		}

		refunds := apiV1.Group("/refunds")
		{
			refunds.GET("/:refund_no", publicHandler.GetRefund)
			refunds.POST("/:refund_no/approve", publicHandler.ApproveRefund)
			refunds.POST("/:refund_no/reject", publicHandler.RejectRefund)
			refunds.POST("/:refund_no/process", publicHandler.ProcessRefund)
			refunds.POST("/:refund_no/complete", publicHandler.CompleteRefund)
		}

		admin := apiV1.Group("/admin")
		{
			admin.GET("/gateway-configs", adminHandler.ListGatewayConfigs)
			admin.PUT("/gateway-configs", adminHandler.UpsertGatewayConfig)
			admin.GET("/gateway-configs/:provider", adminHandler.GetGatewayConfig)
			admin.POST("/gateway-configs/:provider/active", adminHandler.SetGatewayConfigActive)
			admin.DELETE("/gateway-configs/:provider", adminHandler.DeleteGatewayConfig)
			admin.GET("/gateway-configs/:provider/health", adminHandler.GetGatewayHealth)
			admin.POST("/gateway-health/run", adminHandler.RunGatewayHealthCheck)
			admin.GET("/operation-logs", adminHandler.ListOperationLogs)
		}
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
