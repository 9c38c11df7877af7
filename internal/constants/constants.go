package constants

// Canonical transaction status values. Every provider-specific status is
// mapped onto this vocabulary before it touches stored state.
const (
	TxnStatusPending    = "pending"
	TxnStatusProcessing = "processing"
	TxnStatusSucceeded  = "succeeded"
	TxnStatusFailed     = "failed"
	TxnStatusExpired    = "expired"
	TxnStatusCancelled  = "cancelled"
)

// Refund status values.
const (
	RefundStatusRequested  = "requested"
	RefundStatusApproved   = "approved"
	RefundStatusProcessing = "processing"
	RefundStatusCompleted  = "completed"
	RefundStatusFailed     = "failed"
	RefundStatusRejected   = "rejected"
)

// Provider names. The registry keys adapters by these values.
const (
	ProviderVNPay   = "vnpay"
	ProviderMoMo    = "momo"
	ProviderZaloPay = "zalopay"
	ProviderSePay   = "sepay"
	ProviderCOD     = "cod"
)

// Gateway environment values.
const (
	GatewayEnvSandbox    = "sandbox"
	GatewayEnvProduction = "production"
)

// Gateway health status values.
const (
	GatewayHealthUnknown  = "unknown"
	GatewayHealthHealthy  = "healthy"
	GatewayHealthDegraded = "degraded"
	GatewayHealthDown     = "down"
)

// Webhook record processing status values.
const (
	WebhookStatusProcessed = "processed"
	WebhookStatusDuplicate = "duplicate"
	WebhookStatusUnmatched = "unmatched"
	WebhookStatusRejected  = "rejected"
	WebhookStatusSkipped   = "skipped"
)

// Operation log operation types.
const (
	OperationInitiatePayment = "initiate_payment"
	OperationQueryStatus     = "query_status"
	OperationProcessRefund   = "process_refund"
	OperationHealthCheck     = "health_check"
	OperationWebhook         = "webhook"
)

// Async task type names.
const (
	TaskPaymentExpireSweep  = "payment:expire_sweep"
	TaskGatewayHealthCheck  = "gateway:health_check"
	TaskPaymentNotifyUpdate = "payment:notify_update"
)

// QueueDefault is the default asynq queue name.
const QueueDefault = "default"

// PlatformTenantID marks a platform-default gateway config row. Tenant
// lookups fall back to it when no tenant-specific row exists.
const PlatformTenantID = ""
