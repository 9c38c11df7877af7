package queue

import (
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/vietcart-next/internal/config"
	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/logger"
	"github.com/vietcart-next/internal/models"
)

// DefaultQueue is the queue tasks land on unless overridden.
const DefaultQueue = constants.QueueDefault

// Client wraps the asynq producer. A disabled queue degrades to no-ops
// so single-process deployments run without Redis.
type Client struct {
	client       *asynq.Client
	enabled      bool
	defaultQueue string
}

// NewClient builds the queue producer.
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{enabled: false, defaultQueue: DefaultQueue}, nil
	}
	opt := buildRedisOpt(cfg)
	client := asynq.NewClient(opt)
	return &Client{
		client:       client,
		enabled:      true,
		defaultQueue: DefaultQueue,
	}, nil
}

// Enabled reports whether tasks actually reach a broker.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// Close releases the broker connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueuePaymentNotifyUpdate pushes a status change notification.
func (c *Client) EnqueuePaymentNotifyUpdate(payload PaymentNotifyUpdatePayload, opts ...asynq.Option) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewPaymentNotifyUpdateTask(payload)
	if err != nil {
		return err
	}
	options := append([]asynq.Option{asynq.Queue(c.defaultQueue)}, opts...)
	_, err = c.client.Enqueue(task, options...)
	return err
}

// StatusNotifier bridges payment status changes onto the queue.
type StatusNotifier struct {
	client *Client
}

// NewStatusNotifier builds the queue-backed notifier.
func NewStatusNotifier(client *Client) *StatusNotifier {
	return &StatusNotifier{client: client}
}

// PaymentStatusChanged enqueues a notification task. Failures are
// logged and swallowed; the state change already happened.
func (n *StatusNotifier) PaymentStatusChanged(txn *models.PaymentTransaction) {
	if n == nil || txn == nil {
		return
	}
	err := n.client.EnqueuePaymentNotifyUpdate(PaymentNotifyUpdatePayload{
		TransactionID: txn.ID,
		TransactionNo: txn.TransactionNo,
		TenantID:      txn.TenantID,
		Status:        txn.Status,
	})
	if err != nil {
		logger.Errorw("payment_notify_enqueue_failed",
			"transaction_no", txn.TransactionNo, "error", err.Error())
	}
}

// BuildServerConfig produces the consumer-side asynq settings.
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := buildRedisOpt(cfg)
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{DefaultQueue: 1}
	if cfg != nil && len(cfg.Queues) > 0 {
		queues = cfg.Queues
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
	}
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	password := ""
	db := 0
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			host = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		password = cfg.Password
		db = cfg.DB
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
}
