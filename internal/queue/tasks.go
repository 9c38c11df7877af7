package queue

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/vietcart-next/internal/constants"
)

const (
	// TaskPaymentExpireSweep moves stale pending payments to expired.
	TaskPaymentExpireSweep = constants.TaskPaymentExpireSweep
	// TaskGatewayHealthCheck probes every active gateway config.
	TaskGatewayHealthCheck = constants.TaskGatewayHealthCheck
	// TaskPaymentNotifyUpdate fans a payment status change out to the
	// tenant's order system.
	TaskPaymentNotifyUpdate = constants.TaskPaymentNotifyUpdate
)

// PaymentNotifyUpdatePayload carries one status change notification.
type PaymentNotifyUpdatePayload struct {
	TransactionID uint   `json:"transaction_id"`
	TransactionNo string `json:"transaction_no"`
	TenantID      string `json:"tenant_id"`
	Status        string `json:"status"`
}

// NewPaymentExpireSweepTask builds the sweep task. It carries no
// payload, the sweep reads its window from config.
func NewPaymentExpireSweepTask() *asynq.Task {
	return asynq.NewTask(TaskPaymentExpireSweep, nil)
}

// NewGatewayHealthCheckTask builds the health probe task.
func NewGatewayHealthCheckTask() *asynq.Task {
	return asynq.NewTask(TaskGatewayHealthCheck, nil)
}

// NewPaymentNotifyUpdateTask builds a status change notification task.
func NewPaymentNotifyUpdateTask(payload PaymentNotifyUpdatePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentNotifyUpdate, body), nil
}
