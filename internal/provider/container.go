package provider

import (
	"time"

	"github.com/vietcart-next/internal/cache"
	"github.com/vietcart-next/internal/config"
	"github.com/vietcart-next/internal/gateway/registry"
	"github.com/vietcart-next/internal/logger"
	"github.com/vietcart-next/internal/models"
	"github.com/vietcart-next/internal/queue"
	"github.com/vietcart-next/internal/repository"
	"github.com/vietcart-next/internal/secrets"
	"github.com/vietcart-next/internal/service"
)

// Container holds the wired application graph.
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	GatewayConfigRepo *repository.GatewayConfigRepository
	TransactionRepo   *repository.TransactionRepository
	RefundRepo        *repository.RefundRepository
	OperationLogRepo  *repository.OperationLogRepository
	WebhookRecordRepo *repository.WebhookRecordRepository

	// Core components
	SecretsResolver *secrets.Resolver
	Registry        *registry.Registry

	// Services
	OperationLogService  *service.OperationLogService
	PaymentService       *service.PaymentService
	WebhookService       *service.WebhookService
	GatewayConfigService *service.GatewayConfigService
	HealthService        *service.HealthService
}

// NewContainer wires the dependency graph.
func NewContainer(cfg *config.Config) *Container {
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	db := models.DB
	gatewayConfigRepo := repository.NewGatewayConfigRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	operationLogRepo := repository.NewOperationLogRepository(db)
	webhookRecordRepo := repository.NewWebhookRecordRepository(db)

	resolver, err := secrets.NewResolver(cfg.Payment.CredentialMasterKey)
	if err != nil {
		logger.Errorw("provider_init_secrets_failed", "error", err)
		panic(err)
	}
	reg := registry.New(gatewayConfigRepo, resolver,
		time.Duration(cfg.Payment.RequestTimeoutSeconds)*time.Second)

	oplogService := service.NewOperationLogService(operationLogRepo)
	var notifier service.Notifier = service.NopNotifier{}
	if queueClient != nil {
		notifier = queue.NewStatusNotifier(queueClient)
	}
	paymentService := service.NewPaymentService(
		transactionRepo, refundRepo, reg, oplogService, notifier, cfg.Payment)
	webhookService := service.NewWebhookService(
		reg, transactionRepo, webhookRecordRepo, paymentService, oplogService)
	gatewayConfigService := service.NewGatewayConfigService(gatewayConfigRepo, reg, resolver)
	healthService := service.NewHealthService(gatewayConfigRepo, reg, oplogService)

	return &Container{
		Config:      cfg,
		QueueClient: queueClient,

		GatewayConfigRepo: gatewayConfigRepo,
		TransactionRepo:   transactionRepo,
		RefundRepo:        refundRepo,
		OperationLogRepo:  operationLogRepo,
		WebhookRecordRepo: webhookRecordRepo,

		SecretsResolver: resolver,
		Registry:        reg,

		OperationLogService:  oplogService,
		PaymentService:       paymentService,
		WebhookService:       webhookService,
		GatewayConfigService: gatewayConfigService,
		HealthService:        healthService,
	}
}

// Close releases long-lived resources.
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			logger.Warnw("provider_close_queue_failed", "error", err)
		}
	}
}
