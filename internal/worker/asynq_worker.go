package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/vietcart-next/internal/gateway/transport"
	"github.com/vietcart-next/internal/logger"
	"github.com/vietcart-next/internal/provider"
	"github.com/vietcart-next/internal/queue"
)

// Consumer handles the async task set.
type Consumer struct {
	*provider.Container

	notifyTransport *transport.Client
}

// NewConsumer builds the consumer.
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container:       c,
		notifyTransport: transport.New("tenant-notify", transport.Options{}),
	}
}

// Register wires task handlers onto the mux.
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskPaymentExpireSweep, c.handleExpireSweep)
	mux.HandleFunc(queue.TaskGatewayHealthCheck, c.handleHealthCheck)
	mux.HandleFunc(queue.TaskPaymentNotifyUpdate, c.handleNotifyUpdate)
}

func (c *Consumer) handleExpireSweep(ctx context.Context, _ *asynq.Task) error {
	expired, err := c.PaymentService.ExpireStalePayments(ctx)
	if err != nil {
		logger.Warnw("worker_expire_sweep_failed", "error", err)
		return err
	}
	logger.Debugw("worker_expire_sweep_done", "expired", expired)
	return nil
}

func (c *Consumer) handleHealthCheck(ctx context.Context, _ *asynq.Task) error {
	if err := c.HealthService.CheckAll(ctx); err != nil {
		logger.Warnw("worker_health_check_failed", "error", err)
		return err
	}
	return nil
}

// handleNotifyUpdate forwards a payment status change to the tenant's
// configured callback URL. Tenants without one just skip delivery.
func (c *Consumer) handleNotifyUpdate(ctx context.Context, task *asynq.Task) error {
	var payload queue.PaymentNotifyUpdatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_notify_update_unmarshal_failed", "error", err)
		return err
	}
	if payload.TransactionID == 0 {
		return nil
	}
	txn, err := c.TransactionRepo.GetByID(payload.TransactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Debugw("worker_notify_update_skip_missing", "transaction_id", payload.TransactionID)
		return nil
	}
	if err != nil {
		return err
	}
	cfg, err := c.GatewayConfigRepo.GetByTenantAndProvider(txn.TenantID, txn.Provider)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && cfg.WebhookURL == "") {
		return nil
	}
	if err != nil {
		return err
	}

	body, _ := json.Marshal(map[string]string{
		"transaction_no": txn.TransactionNo,
		"order_ref":      txn.OrderRef,
		"provider":       txn.Provider,
		"status":         txn.Status,
		"amount":         txn.Amount.String(),
		"currency":       txn.Currency,
	})
	_, err = c.notifyTransport.Do(ctx, &transport.Request{
		Method:      "POST",
		URL:         cfg.WebhookURL,
		Body:        body,
		ContentType: "application/json",
	})
	if err != nil {
		logger.Warnw("worker_notify_update_delivery_failed",
			"transaction_no", txn.TransactionNo, "url", cfg.WebhookURL, "error", err.Error())
		return err
	}
	logger.Infow("worker_notify_update_delivered",
		"transaction_no", txn.TransactionNo, "status", txn.Status)
	return nil
}
