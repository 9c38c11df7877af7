package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway"
	"github.com/vietcart-next/internal/gateway/registry"
	"github.com/vietcart-next/internal/logger"
	"github.com/vietcart-next/internal/models"
	"github.com/vietcart-next/internal/repository"
)

// ErrWebhookSignature marks a notification that failed authentication.
// It is the only webhook failure a provider sees as an error response.
var ErrWebhookSignature = errors.New("webhook signature verification failed")

// WebhookInput is one raw inbound notification.
type WebhookInput struct {
	Provider        string
	TenantID        string // from the webhook URL; empty on legacy routes
	RawPayload      []byte
	SignatureHeader string
}

// WebhookResult reports what happened to a notification. Everything
// except a signature failure acknowledges with success so providers do
// not retry forever.
type WebhookResult struct {
	Status        string
	TransactionNo string
	RefundNo      string
	Note          string
}

// WebhookService runs the inbound notification pipeline: authenticate,
// parse, deduplicate, match, and apply.
type WebhookService struct {
	registry *registry.Registry
	txns     *repository.TransactionRepository
	records  *repository.WebhookRecordRepository
	payments *PaymentService
	oplog    *OperationLogService
}

func NewWebhookService(
	reg *registry.Registry,
	txns *repository.TransactionRepository,
	records *repository.WebhookRecordRepository,
	payments *PaymentService,
	oplog *OperationLogService,
) *WebhookService {
	return &WebhookService{
		registry: reg,
		txns:     txns,
		records:  records,
		payments: payments,
		oplog:    oplog,
	}
}

// Process handles one notification end to end. Signature failures
// return ErrWebhookSignature; every other outcome is recorded and
// acknowledged.
func (s *WebhookService) Process(ctx context.Context, input WebhookInput) (*WebhookResult, error) {
	entry := s.oplog.Start(constants.OperationWebhook, input.Provider, input.TenantID)

	adapter, cfg, err := s.registry.ForTenant(input.TenantID, input.Provider)
	if err != nil {
		entry.CompleteFailure("provider_unavailable", err.Error(), 0, nil)
		return nil, err
	}

	if !adapter.VerifyWebhookSignature(input.RawPayload, input.SignatureHeader, cfg.WebhookSecret) {
		s.record(input, "", constants.WebhookStatusRejected, false, nil, "signature verification failed")
		entry.CompleteFailure("signature_invalid", "signature verification failed", 0, nil)
		logger.Warnw("webhook_rejected",
			"provider", input.Provider, "tenant_id", input.TenantID, "reason", "signature")
		return nil, ErrWebhookSignature
	}

	event, err := adapter.ParseWebhookPayload(input.RawPayload)
	if err != nil {
		s.record(input, "", constants.WebhookStatusSkipped, true, nil, err.Error())
		entry.CompleteFailure("payload_invalid", err.Error(), 0, nil)
		return &WebhookResult{Status: constants.WebhookStatusSkipped, Note: err.Error()}, nil
	}
	entry.AddContext("gateway_ref", event.GatewayRef).AddContext("event_status", event.Status)

	record := &models.WebhookRecord{
		TenantID:          input.TenantID,
		Provider:          input.Provider,
		DedupKey:          dedupKey(event, input.RawPayload),
		EventType:         event.EventType,
		RawPayload:        string(input.RawPayload),
		SignatureVerified: true,
		ProcessingStatus:  constants.WebhookStatusProcessed,
	}
	if err := s.records.CreateIfAbsent(record); err != nil {
		if errors.Is(err, repository.ErrDuplicateWebhook) {
			entry.CompleteSuccess(0, models.JSON{"outcome": constants.WebhookStatusDuplicate})
			logger.Infow("webhook_duplicate",
				"provider", input.Provider, "dedup_key", record.DedupKey)
			return &WebhookResult{Status: constants.WebhookStatusDuplicate}, nil
		}
		entry.CompleteFailure("record_failed", err.Error(), 0, nil)
		return nil, err
	}

	// refund outcomes reference the refund, not the payment; resolve
	// those first so a refund notification never lands on the original
	// transaction as a stale no-op
	refund, refundTxn, rerr := s.payments.ResolveRefundNotification(
		input.TenantID, input.Provider, []string{event.EventID, event.GatewayRef})
	if rerr == nil {
		return s.applyRefundEvent(entry, record, event, refund, refundTxn)
	}
	if !errors.Is(rerr, ErrRefundNotFound) {
		entry.CompleteFailure("lookup_failed", rerr.Error(), 0, nil)
		return nil, rerr
	}

	txn, err := s.txns.GetByProviderRef(input.TenantID, input.Provider, event.GatewayRef)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.finishRecord(record, constants.WebhookStatusUnmatched, nil, "no transaction for gateway ref")
		entry.CompleteSuccess(0, models.JSON{"outcome": constants.WebhookStatusUnmatched})
		logger.Warnw("webhook_unmatched",
			"provider", input.Provider, "gateway_ref", event.GatewayRef)
		return &WebhookResult{Status: constants.WebhookStatusUnmatched}, nil
	}
	if err != nil {
		entry.CompleteFailure("lookup_failed", err.Error(), 0, nil)
		return nil, err
	}
	entry.SetTransaction(txn.TransactionNo)

	if !event.Amount.IsZero() && !event.Amount.Equal(txn.Amount.Decimal) {
		note := fmt.Sprintf("amount mismatch: notification %s, transaction %s",
			event.Amount.String(), txn.Amount.String())
		s.finishRecord(record, constants.WebhookStatusRejected, &txn.ID, note)
		entry.CompleteFailure("amount_mismatch", note, 0, nil)
		logger.Warnw("webhook_amount_mismatch",
			"provider", input.Provider, "transaction_no", txn.TransactionNo, "note", note)
		return &WebhookResult{Status: constants.WebhookStatusRejected, TransactionNo: txn.TransactionNo, Note: note}, nil
	}

	moved, err := s.payments.ApplyStatus(txn, event.Status, "", "")
	if err != nil {
		entry.CompleteFailure("apply_failed", err.Error(), 0, nil)
		return nil, err
	}
	note := ""
	if !moved {
		note = "no transition applied"
	}
	s.finishRecord(record, constants.WebhookStatusProcessed, &txn.ID, note)
	entry.CompleteSuccess(0, models.JSON{
		"outcome": constants.WebhookStatusProcessed,
		"applied": moved,
	})
	logger.Infow("webhook_processed",
		"provider", input.Provider, "transaction_no", txn.TransactionNo,
		"status", event.Status, "applied", moved)
	return &WebhookResult{Status: constants.WebhookStatusProcessed, TransactionNo: txn.TransactionNo, Note: note}, nil
}

// applyRefundEvent settles a processing refund from a gateway
// notification.
func (s *WebhookService) applyRefundEvent(entry *OperationEntry, record *models.WebhookRecord, event *gateway.WebhookEvent, refund *models.Refund, txn *models.PaymentTransaction) (*WebhookResult, error) {
	entry.SetTransaction(txn.TransactionNo).SetRefund(refund.RefundNo)
	record.RefundID = &refund.ID

	if !event.Amount.IsZero() && !event.Amount.Equal(refund.Amount.Decimal) {
		note := fmt.Sprintf("refund amount mismatch: notification %s, refund %s",
			event.Amount.String(), refund.Amount.String())
		s.finishRecord(record, constants.WebhookStatusRejected, &txn.ID, note)
		entry.CompleteFailure("amount_mismatch", note, 0, nil)
		logger.Warnw("webhook_refund_amount_mismatch",
			"provider", record.Provider, "refund_no", refund.RefundNo, "note", note)
		return &WebhookResult{
			Status:        constants.WebhookStatusRejected,
			TransactionNo: txn.TransactionNo,
			RefundNo:      refund.RefundNo,
			Note:          note,
		}, nil
	}

	moved, err := s.payments.SettleRefundNotification(refund, event.Status, event.EventID)
	if err != nil {
		entry.CompleteFailure("apply_failed", err.Error(), 0, nil)
		return nil, err
	}
	note := ""
	if !moved {
		note = "no transition applied"
	}
	s.finishRecord(record, constants.WebhookStatusProcessed, &txn.ID, note)
	entry.CompleteSuccess(0, models.JSON{
		"outcome":   constants.WebhookStatusProcessed,
		"refund_no": refund.RefundNo,
		"applied":   moved,
	})
	logger.Infow("webhook_refund_processed",
		"provider", record.Provider, "refund_no", refund.RefundNo,
		"status", event.Status, "applied", moved)
	return &WebhookResult{
		Status:        constants.WebhookStatusProcessed,
		TransactionNo: txn.TransactionNo,
		RefundNo:      refund.RefundNo,
		Note:          note,
	}, nil
}

// record journals an outcome reached before a dedup row existed. The
// key is prefixed with the outcome so a rejected or skipped delivery
// does not occupy the dedup slot of a later valid one with the same
// body.
func (s *WebhookService) record(input WebhookInput, eventType, status string, verified bool, txnID *uint, note string) {
	row := &models.WebhookRecord{
		TenantID:          input.TenantID,
		Provider:          input.Provider,
		DedupKey:          status + ":" + payloadKey(input.RawPayload),
		EventType:         eventType,
		RawPayload:        string(input.RawPayload),
		SignatureVerified: verified,
		ProcessingStatus:  status,
		TransactionID:     txnID,
		Note:              note,
	}
	if err := s.records.CreateIfAbsent(row); err != nil && !errors.Is(err, repository.ErrDuplicateWebhook) {
		logger.Errorw("webhook_record_failed", "provider", input.Provider, "error", err.Error())
	}
}

func (s *WebhookService) finishRecord(record *models.WebhookRecord, status string, txnID *uint, note string) {
	record.ProcessingStatus = status
	record.TransactionID = txnID
	record.Note = note
	if err := s.records.Update(record); err != nil {
		logger.Errorw("webhook_record_update_failed",
			"provider", record.Provider, "dedup_key", record.DedupKey, "error", err.Error())
	}
}

// dedupKey prefers the provider event id and falls back to a payload
// hash for providers without one.
func dedupKey(event *gateway.WebhookEvent, raw []byte) string {
	if event.EventID != "" {
		return event.EventID
	}
	return payloadKey(raw)
}

func payloadKey(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:16])
}
