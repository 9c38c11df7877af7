package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway"
	"github.com/vietcart-next/internal/logger"
	"github.com/vietcart-next/internal/models"
)

// RequestRefund opens a refund against a succeeded payment. The
// requested amount plus everything already approved or further along
// must stay within the transaction amount.
func (s *PaymentService) RequestRefund(tenantID, transactionNo string, amount models.Money, reason string) (*models.Refund, error) {
	if !amount.IsPositive() {
		return nil, ErrAmountInvalid
	}
	txn, err := s.GetPayment(tenantID, transactionNo)
	if err != nil {
		return nil, err
	}
	if txn.Status != constants.TxnStatusSucceeded {
		return nil, ErrRefundNotRefundable
	}
	committed, err := s.refunds.SumCommitted(txn.ID)
	if err != nil {
		return nil, err
	}
	if committed.Add(amount.Decimal).GreaterThan(txn.Amount.Decimal) {
		return nil, ErrRefundExceedsAmount
	}

	refund := &models.Refund{
		TransactionID: txn.ID,
		RefundNo:      GenerateRefundNumber(),
		Amount:        amount,
		Status:        constants.RefundStatusRequested,
		Reason:        reason,
	}
	if err := s.refunds.Create(refund); err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}
	logger.Infow("refund_requested",
		"tenant_id", tenantID, "transaction_no", transactionNo,
		"refund_no", refund.RefundNo, "amount", amount.String())
	return refund, nil
}

// ApproveRefund moves a refund to approved. The amount invariant is
// re-checked inside a database transaction so two concurrent approvals
// cannot jointly overshoot the payment.
func (s *PaymentService) ApproveRefund(tenantID, refundNo string) (*models.Refund, error) {
	refund, txn, err := s.loadRefund(tenantID, refundNo)
	if err != nil {
		return nil, err
	}
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		refunds := s.refunds.WithTx(tx)
		committed, err := refunds.SumCommitted(txn.ID)
		if err != nil {
			return err
		}
		if committed.Add(refund.Amount.Decimal).GreaterThan(txn.Amount.Decimal) {
			return ErrRefundExceedsAmount
		}
		moved, err := refunds.UpdateStatusGuarded(refund.ID, constants.RefundStatusApproved,
			[]string{constants.RefundStatusRequested}, nil)
		if err != nil {
			return err
		}
		if !moved {
			return ErrRefundInvalidState
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("refund_approved", "refund_no", refundNo)
	return s.refunds.GetByID(refund.ID)
}

// RejectRefund closes a requested refund without executing it.
func (s *PaymentService) RejectRefund(tenantID, refundNo, reason string) (*models.Refund, error) {
	refund, _, err := s.loadRefund(tenantID, refundNo)
	if err != nil {
		return nil, err
	}
	moved, err := s.refunds.UpdateStatusGuarded(refund.ID, constants.RefundStatusRejected,
		[]string{constants.RefundStatusRequested}, map[string]interface{}{
			"last_error_code":    "rejected",
			"last_error_message": reason,
		})
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrRefundInvalidState
	}
	logger.Infow("refund_rejected", "refund_no", refundNo, "reason", reason)
	return s.refunds.GetByID(refund.ID)
}

// ProcessRefund executes an approved refund at the gateway. Providers
// that settle asynchronously leave the refund in processing until their
// notification arrives; providers without refund support fail it.
func (s *PaymentService) ProcessRefund(ctx context.Context, tenantID, refundNo string) (*models.Refund, error) {
	refund, txn, err := s.loadRefund(tenantID, refundNo)
	if err != nil {
		return nil, err
	}
	moved, err := s.refunds.UpdateStatusGuarded(refund.ID, constants.RefundStatusProcessing,
		[]string{constants.RefundStatusApproved}, nil)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrRefundInvalidState
	}

	adapter, _, err := s.registry.ForTenant(tenantID, txn.Provider)
	if err != nil {
		s.failRefund(refund.ID, "provider_unavailable", err.Error())
		return nil, err
	}
	entry := s.oplog.Start(constants.OperationProcessRefund, txn.Provider, tenantID).
		SetTransaction(txn.TransactionNo).
		SetRefund(refundNo).
		SetRequest(models.JSON{"amount": refund.Amount.String()})

	result, err := adapter.ProcessRefund(ctx, gateway.RefundInput{
		GatewayRef: txn.GatewayRef,
		RefundNo:   refundNo,
		Amount:     refund.Amount.Decimal,
		Reason:     refund.Reason,
	})
	if err != nil {
		code, msg, httpStatus := describeError(err)
		entry.CompleteFailure(code, msg, httpStatus, nil)
		s.failRefund(refund.ID, code, msg)
		return s.refunds.GetByID(refund.ID)
	}
	entry.CompleteSuccess(0, models.JSON{
		"gateway_refund_ref": result.GatewayRefundRef,
		"status":             result.Status,
	})

	extra := map[string]interface{}{"gateway_refund_ref": result.GatewayRefundRef}
	if result.Status == constants.RefundStatusCompleted {
		_, err = s.refunds.UpdateStatusGuarded(refund.ID, constants.RefundStatusCompleted,
			[]string{constants.RefundStatusProcessing}, extra)
	} else {
		err = models.DB.Model(&models.Refund{}).Where("id = ?", refund.ID).Updates(extra).Error
	}
	if err != nil {
		return nil, err
	}
	logger.Infow("refund_processed",
		"refund_no", refundNo, "provider", txn.Provider, "status", result.Status)
	return s.refunds.GetByID(refund.ID)
}

// CompleteRefund settles a processing refund, driven by a gateway
// notification or manual reconciliation.
func (s *PaymentService) CompleteRefund(refundID uint, gatewayRefundRef string) (bool, error) {
	extra := map[string]interface{}{}
	if gatewayRefundRef != "" {
		extra["gateway_refund_ref"] = gatewayRefundRef
	}
	return s.refunds.UpdateStatusGuarded(refundID, constants.RefundStatusCompleted,
		[]string{constants.RefundStatusProcessing}, extra)
}

// FailRefund closes a processing refund with a gateway failure cause.
func (s *PaymentService) FailRefund(refundID uint, code, msg string) (bool, error) {
	return s.refunds.UpdateStatusGuarded(refundID, constants.RefundStatusFailed,
		[]string{constants.RefundStatusProcessing}, map[string]interface{}{
			"last_error_code":    code,
			"last_error_message": msg,
		})
}

func (s *PaymentService) failRefund(refundID uint, code, msg string) {
	if _, err := s.FailRefund(refundID, code, msg); err != nil {
		logger.Errorw("refund_mark_failed_error", "refund_id", refundID, "error", err.Error())
	}
}

// SettleRefund completes a processing refund from the operator side.
// Providers whose refunds settle out of band are reconciled through it.
func (s *PaymentService) SettleRefund(tenantID, refundNo, gatewayRefundRef string) (*models.Refund, error) {
	refund, _, err := s.loadRefund(tenantID, refundNo)
	if err != nil {
		return nil, err
	}
	moved, err := s.CompleteRefund(refund.ID, gatewayRefundRef)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrRefundInvalidState
	}
	logger.Infow("refund_settled", "refund_no", refundNo)
	return s.refunds.GetByID(refund.ID)
}

// ResolveRefundNotification finds the processing refund a gateway
// notification refers to. refs carries the candidate references from
// the event.
func (s *PaymentService) ResolveRefundNotification(tenantID, provider string, refs []string) (*models.Refund, *models.PaymentTransaction, error) {
	refund, err := s.refunds.GetByNotificationRef(tenantID, provider, refs)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrRefundNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	txn, err := s.txns.GetByID(refund.TransactionID)
	if err != nil {
		return nil, nil, err
	}
	return refund, txn, nil
}

// SettleRefundNotification applies a gateway refund outcome to a
// processing refund. A succeeded event completes it, a failed event
// fails it; anything else leaves it processing.
func (s *PaymentService) SettleRefundNotification(refund *models.Refund, eventStatus, gatewayRefundRef string) (bool, error) {
	switch eventStatus {
	case constants.TxnStatusSucceeded:
		moved, err := s.CompleteRefund(refund.ID, gatewayRefundRef)
		if err == nil && moved {
			refund.Status = constants.RefundStatusCompleted
		}
		return moved, err
	case constants.TxnStatusFailed:
		moved, err := s.FailRefund(refund.ID, "gateway_refund_failed", "gateway reported refund failure")
		if err == nil && moved {
			refund.Status = constants.RefundStatusFailed
		}
		return moved, err
	}
	return false, nil
}

// GetRefund loads a refund and checks tenant ownership.
func (s *PaymentService) GetRefund(tenantID, refundNo string) (*models.Refund, error) {
	refund, _, err := s.loadRefund(tenantID, refundNo)
	return refund, err
}

// ListRefunds returns the refunds of one payment.
func (s *PaymentService) ListRefunds(tenantID, transactionNo string) ([]models.Refund, error) {
	txn, err := s.GetPayment(tenantID, transactionNo)
	if err != nil {
		return nil, err
	}
	return s.refunds.ListByTransaction(txn.ID)
}

func (s *PaymentService) loadRefund(tenantID, refundNo string) (*models.Refund, *models.PaymentTransaction, error) {
	refund, err := s.refunds.GetByRefundNo(refundNo)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrRefundNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	txn, err := s.txns.GetByID(refund.TransactionID)
	if err != nil {
		return nil, nil, err
	}
	if txn.TenantID != tenantID {
		return nil, nil, ErrRefundNotFound
	}
	return refund, txn, nil
}
