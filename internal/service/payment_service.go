package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/vietcart-next/internal/config"
	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway"
	"github.com/vietcart-next/internal/gateway/registry"
	"github.com/vietcart-next/internal/gateway/transport"
	"github.com/vietcart-next/internal/logger"
	"github.com/vietcart-next/internal/models"
	"github.com/vietcart-next/internal/repository"
)

// Notifier publishes payment status changes to interested parties.
// Delivery is fire and forget; a failed publish never rolls back state.
type Notifier interface {
	PaymentStatusChanged(txn *models.PaymentTransaction)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) PaymentStatusChanged(*models.PaymentTransaction) {}

// PaymentService drives the payment lifecycle: initiation, status
// reconciliation, manual confirmation, cancellation, and expiry.
type PaymentService struct {
	txns     *repository.TransactionRepository
	refunds  *repository.RefundRepository
	registry *registry.Registry
	oplog    *OperationLogService
	notifier Notifier
	payCfg   config.PaymentConfig
}

func NewPaymentService(
	txns *repository.TransactionRepository,
	refunds *repository.RefundRepository,
	reg *registry.Registry,
	oplog *OperationLogService,
	notifier Notifier,
	payCfg config.PaymentConfig,
) *PaymentService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &PaymentService{
		txns:     txns,
		refunds:  refunds,
		registry: reg,
		oplog:    oplog,
		notifier: notifier,
		payCfg:   payCfg,
	}
}

// GenerateTransactionNumber returns a new payment number. The format is
// stable: bank-transfer matching extracts it from transfer memos.
func GenerateTransactionNumber() string {
	return "PAY" + time.Now().Format("20060102150405") + randomDigits(6)
}

// GenerateRefundNumber returns a new refund number.
func GenerateRefundNumber() string {
	return "RFD" + time.Now().Format("20060102150405") + randomDigits(6)
}

func randomDigits(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			b.WriteByte('0')
			continue
		}
		b.WriteByte(byte('0' + v.Int64()))
	}
	return b.String()
}

// InitiatePaymentInput carries one payment initiation request.
type InitiatePaymentInput struct {
	TenantID    string
	OrderRef    string
	Provider    string
	Amount      models.Money
	Currency    string
	Description string
	ClientIP    string
	ReturnURL   string
}

// InitiatePayment creates a transaction and starts it at the gateway.
// The row is persisted before the gateway call so a crash mid-call
// leaves an auditable pending payment rather than nothing.
func (s *PaymentService) InitiatePayment(ctx context.Context, input InitiatePaymentInput) (*models.PaymentTransaction, error) {
	if !input.Amount.IsPositive() {
		return nil, ErrAmountInvalid
	}
	adapter, cfg, err := s.registry.ForTenant(input.TenantID, input.Provider)
	if err != nil {
		return nil, err
	}
	if err := checkLimits(cfg, input.Amount, input.Currency); err != nil {
		return nil, err
	}

	txn := &models.PaymentTransaction{
		TenantID:      input.TenantID,
		TransactionNo: GenerateTransactionNumber(),
		OrderRef:      input.OrderRef,
		Provider:      input.Provider,
		Amount:        input.Amount,
		Currency:      input.Currency,
		Status:        constants.TxnStatusPending,
	}
	if err := s.txns.Create(txn); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	entry := s.oplog.Start(constants.OperationInitiatePayment, input.Provider, input.TenantID).
		SetTransaction(txn.TransactionNo).
		SetRequest(models.JSON{
			"order_ref": input.OrderRef,
			"amount":    input.Amount.String(),
			"currency":  input.Currency,
		})

	result, err := adapter.InitiatePayment(ctx, gateway.InitiateInput{
		TransactionNo: txn.TransactionNo,
		Amount:        input.Amount.Decimal,
		Currency:      input.Currency,
		Description:   input.Description,
		ClientIP:      input.ClientIP,
		NotifyURL:     s.notifyURL(input.Provider, input.TenantID),
		ReturnURL:     input.ReturnURL,
	})
	if err != nil {
		code, msg, httpStatus := describeError(err)
		entry.CompleteFailure(code, msg, httpStatus, nil)
		s.markInitiationFailed(txn, code, msg)
		return nil, err
	}

	txn.GatewayRef = result.GatewayRef
	txn.PayURL = result.PayURL
	txn.Instructions = result.Instructions
	if err := s.txns.Update(txn); err != nil {
		entry.CompleteFailure("persist_failed", err.Error(), 0, nil)
		return nil, fmt.Errorf("persist gateway result: %w", err)
	}
	entry.CompleteSuccess(0, models.JSON{"gateway_ref": result.GatewayRef})

	logger.Infow("payment_initiated",
		"tenant_id", input.TenantID, "transaction_no", txn.TransactionNo,
		"provider", input.Provider, "amount", input.Amount.String())
	return txn, nil
}

func (s *PaymentService) markInitiationFailed(txn *models.PaymentTransaction, code, msg string) {
	moved, err := s.txns.UpdateStatusGuarded(txn.ID, constants.TxnStatusFailed,
		allowedFrom(constants.TxnStatusFailed), map[string]interface{}{
			"last_error_code":    code,
			"last_error_message": msg,
		})
	if err != nil {
		logger.Errorw("payment_mark_failed_error", "transaction_no", txn.TransactionNo, "error", err.Error())
		return
	}
	if moved {
		txn.Status = constants.TxnStatusFailed
		s.notifier.PaymentStatusChanged(txn)
	}
}

// GetPayment loads a transaction by tenant and number.
func (s *PaymentService) GetPayment(tenantID, transactionNo string) (*models.PaymentTransaction, error) {
	txn, err := s.txns.GetByTenantAndNo(tenantID, transactionNo)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	return txn, err
}

// GetPaymentStatus returns the current status, reconciling against the
// gateway first when the payment is still open and reconcile is set.
func (s *PaymentService) GetPaymentStatus(ctx context.Context, tenantID, transactionNo string, reconcile bool) (*models.PaymentTransaction, error) {
	txn, err := s.GetPayment(tenantID, transactionNo)
	if err != nil {
		return nil, err
	}
	if !reconcile || isTerminal(txn.Status) {
		return txn, nil
	}

	adapter, _, err := s.registry.ForTenant(tenantID, txn.Provider)
	if err != nil {
		return txn, nil
	}
	entry := s.oplog.Start(constants.OperationQueryStatus, txn.Provider, tenantID).
		SetTransaction(txn.TransactionNo)
	result, err := adapter.GetStatus(ctx, txn.GatewayRef)
	if err != nil {
		// stored state stands when the gateway cannot answer
		code, msg, httpStatus := describeError(err)
		entry.CompleteFailure(code, msg, httpStatus, nil)
		if !errors.Is(err, gateway.ErrNotSupported) {
			logger.Warnw("payment_reconcile_failed",
				"transaction_no", txn.TransactionNo, "error", err.Error())
		}
		return txn, nil
	}
	entry.CompleteSuccess(0, models.JSON{"status": result.Status})

	if _, err := s.ApplyStatus(txn, result.Status, "", ""); err != nil {
		return txn, err
	}
	return s.GetPayment(tenantID, transactionNo)
}

// ApplyStatus moves a transaction along the lifecycle. Transitions run
// forward only; anything else is silently dropped and reported false.
func (s *PaymentService) ApplyStatus(txn *models.PaymentTransaction, newStatus, errorCode, errorMessage string) (bool, error) {
	if newStatus == txn.Status || newStatus == constants.TxnStatusPending {
		return false, nil
	}
	from := allowedFrom(newStatus)
	if from == nil {
		return false, nil
	}
	extra := map[string]interface{}{}
	if errorCode != "" || errorMessage != "" {
		extra["last_error_code"] = errorCode
		extra["last_error_message"] = errorMessage
	}
	moved, err := s.txns.UpdateStatusGuarded(txn.ID, newStatus, from, extra)
	if err != nil {
		return false, err
	}
	if moved {
		txn.Status = newStatus
		logger.Infow("payment_status_changed",
			"transaction_no", txn.TransactionNo, "provider", txn.Provider, "status", newStatus)
		s.notifier.PaymentStatusChanged(txn)
	}
	return moved, nil
}

// ConfirmManualPayment settles a cash-on-delivery payment from the
// operator side.
func (s *PaymentService) ConfirmManualPayment(tenantID, transactionNo string, collected bool, note string) (*models.PaymentTransaction, error) {
	txn, err := s.GetPayment(tenantID, transactionNo)
	if err != nil {
		return nil, err
	}
	if txn.Provider != constants.ProviderCOD {
		return nil, ErrManualOnly
	}
	if isTerminal(txn.Status) {
		return nil, ErrTransactionNotPayable
	}
	status := constants.TxnStatusSucceeded
	errCode, errMsg := "", ""
	if !collected {
		status = constants.TxnStatusFailed
		errCode, errMsg = "collection_failed", note
	}
	if _, err := s.ApplyStatus(txn, status, errCode, errMsg); err != nil {
		return nil, err
	}
	return s.GetPayment(tenantID, transactionNo)
}

// CancelPayment cancels a payment that has not reached the gateway
// settled states.
func (s *PaymentService) CancelPayment(tenantID, transactionNo string) (*models.PaymentTransaction, error) {
	txn, err := s.GetPayment(tenantID, transactionNo)
	if err != nil {
		return nil, err
	}
	moved, err := s.ApplyStatus(txn, constants.TxnStatusCancelled, "", "")
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrTransactionNotPayable
	}
	return s.GetPayment(tenantID, transactionNo)
}

// ExpireStalePayments moves payments past the configured window to
// expired. Returns the number of payments moved.
func (s *PaymentService) ExpireStalePayments(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-time.Duration(s.payCfg.ExpireMinutes) * time.Minute)
	stale, err := s.txns.ListStalePending(cutoff, 200)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		txn := &stale[i]
		moved, err := s.ApplyStatus(txn, constants.TxnStatusExpired, "", "")
		if err != nil {
			logger.Errorw("payment_expire_failed",
				"transaction_no", txn.TransactionNo, "error", err.Error())
			continue
		}
		if moved {
			expired++
		}
	}
	if expired > 0 {
		logger.Infow("payment_expire_sweep_completed", "expired", expired)
	}
	return expired, nil
}

// ListPayments exposes the transaction journal for one tenant.
func (s *PaymentService) ListPayments(filter repository.TransactionFilter, page repository.PageQuery) ([]models.PaymentTransaction, int64, error) {
	return s.txns.List(filter, page)
}

func (s *PaymentService) notifyURL(provider, tenantID string) string {
	base := strings.TrimRight(s.payCfg.WebhookBaseURL, "/")
	if base == "" {
		return ""
	}
	if tenantID == constants.PlatformTenantID {
		return fmt.Sprintf("%s/webhooks/%s", base, provider)
	}
	return fmt.Sprintf("%s/webhooks/%s/%s", base, provider, tenantID)
}

// allowedFrom lists the states a transition may leave. A nil result
// means the target status is never applied after creation.
func allowedFrom(newStatus string) []string {
	switch newStatus {
	case constants.TxnStatusProcessing:
		return []string{constants.TxnStatusPending}
	case constants.TxnStatusExpired:
		// only never-started payments lapse; a processing payment
		// resolves through its gateway result
		return []string{constants.TxnStatusPending}
	case constants.TxnStatusSucceeded,
		constants.TxnStatusFailed,
		constants.TxnStatusCancelled:
		return []string{constants.TxnStatusPending, constants.TxnStatusProcessing}
	}
	return nil
}

func isTerminal(status string) bool {
	switch status {
	case constants.TxnStatusSucceeded,
		constants.TxnStatusFailed,
		constants.TxnStatusExpired,
		constants.TxnStatusCancelled:
		return true
	}
	return false
}

func checkLimits(cfg *models.GatewayConfig, amount models.Money, currency string) error {
	if cfg.MinAmount.IsPositive() && amount.LessThan(cfg.MinAmount.Decimal) {
		return ErrAmountOutOfRange
	}
	if cfg.MaxAmount.IsPositive() && amount.GreaterThan(cfg.MaxAmount.Decimal) {
		return ErrAmountOutOfRange
	}
	if len(cfg.SupportedCurrencies) > 0 && !cfg.SupportedCurrencies.Contains(currency) {
		return ErrCurrencyNotSupported
	}
	return nil
}

// describeError maps a gateway failure onto audit fields.
func describeError(err error) (code, message string, httpStatus int) {
	var ge *transport.GatewayError
	if errors.As(err, &ge) {
		return ge.Code, ge.Message, ge.HTTPStatus
	}
	switch {
	case errors.Is(err, gateway.ErrNotSupported):
		return "not_supported", err.Error(), 0
	case errors.Is(err, gateway.ErrCredentialsInvalid):
		return "credentials_invalid", err.Error(), 0
	case errors.Is(err, gateway.ErrResponseInvalid):
		return "response_invalid", err.Error(), 0
	}
	return "internal_error", err.Error(), 0
}
