package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/models"
)

// RefundRepository persists refunds.
type RefundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *RefundRepository) WithTx(tx *gorm.DB) *RefundRepository {
	return &RefundRepository{db: tx}
}

func (r *RefundRepository) Create(refund *models.Refund) error {
	return r.db.Create(refund).Error
}

func (r *RefundRepository) Update(refund *models.Refund) error {
	return r.db.Save(refund).Error
}

func (r *RefundRepository) GetByID(id uint) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.First(&refund, id).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *RefundRepository) GetByRefundNo(refundNo string) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.Where("refund_no = ?", refundNo).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

// GetByNotificationRef resolves the processing refund a gateway
// notification refers to. refs carries the candidate references from
// the notification (gateway event id, transaction reference); a refund
// matches on its gateway refund ref or its refund number. tenantID
// narrows the match when non-empty.
func (r *RefundRepository) GetByNotificationRef(tenantID, provider string, refs []string) (*models.Refund, error) {
	candidates := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref != "" {
			candidates = append(candidates, ref)
		}
	}
	if len(candidates) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	query := r.db.Joins("JOIN payment_transactions ON payment_transactions.id = refunds.transaction_id").
		Where("payment_transactions.provider = ?", provider).
		Where("refunds.status = ?", constants.RefundStatusProcessing).
		Where(r.db.Where("refunds.gateway_refund_ref IN ?", candidates).
			Or("refunds.refund_no IN ?", candidates))
	if tenantID != "" {
		query = query.Where("payment_transactions.tenant_id = ?", tenantID)
	}
	var refund models.Refund
	if err := query.First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *RefundRepository) ListByTransaction(transactionID uint) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.Where("transaction_id = ?", transactionID).Order("id ASC").Find(&refunds).Error
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

// SumCommitted totals the refund amounts already counted against a
// transaction: everything approved or further along, excluding failed
// and rejected ones. New refund requests are validated against this sum.
func (r *RefundRepository) SumCommitted(transactionID uint) (decimal.Decimal, error) {
	var out struct {
		Total decimal.Decimal
	}
	err := r.db.Model(&models.Refund{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("transaction_id = ? AND status IN ?", transactionID, []string{
			constants.RefundStatusApproved,
			constants.RefundStatusProcessing,
			constants.RefundStatusCompleted,
		}).
		Scan(&out).Error
	if err != nil {
		return decimal.Zero, err
	}
	return out.Total, nil
}

// UpdateStatusGuarded moves a refund to newStatus only while its current
// status is in allowedFrom. Returns false when nothing moved.
func (r *RefundRepository) UpdateStatusGuarded(id uint, newStatus string, allowedFrom []string, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": newStatus}
	switch newStatus {
	case constants.RefundStatusApproved:
		updates["approved_at"] = time.Now()
	case constants.RefundStatusCompleted:
		updates["completed_at"] = time.Now()
	case constants.RefundStatusFailed:
		updates["failed_at"] = time.Now()
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.Model(&models.Refund{}).
		Where("id = ? AND status IN ?", id, allowedFrom).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
