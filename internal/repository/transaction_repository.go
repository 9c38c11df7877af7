package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/models"
)

// TransactionRepository persists payment transactions.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *TransactionRepository) WithTx(tx *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

func (r *TransactionRepository) Create(txn *models.PaymentTransaction) error {
	return r.db.Create(txn).Error
}

func (r *TransactionRepository) Update(txn *models.PaymentTransaction) error {
	return r.db.Save(txn).Error
}

func (r *TransactionRepository) GetByID(id uint) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := r.db.First(&txn, id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *TransactionRepository) GetByTenantAndNo(tenantID, transactionNo string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.Where("tenant_id = ? AND transaction_no = ?", tenantID, transactionNo).First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetByProviderRef resolves a transaction from a gateway reference.
// tenantID narrows the match when the caller knows it; pass the empty
// string to search across tenants (webhook paths that identify the
// tenant from the URL always pass it).
func (r *TransactionRepository) GetByProviderRef(tenantID, provider, gatewayRef string) (*models.PaymentTransaction, error) {
	query := r.db.Where("provider = ? AND gateway_ref = ?", provider, gatewayRef)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	var txn models.PaymentTransaction
	if err := query.First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// UpdateStatusGuarded moves a transaction to newStatus only while its
// current status is in allowedFrom, and stamps the transition time
// column. Returns true when the row actually moved; false means a
// concurrent writer got there first or the transition is not allowed.
func (r *TransactionRepository) UpdateStatusGuarded(id uint, newStatus string, allowedFrom []string, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": newStatus}
	if col := transitionColumn(newStatus); col != "" {
		updates[col] = time.Now()
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.Model(&models.PaymentTransaction{}).
		Where("id = ? AND status IN ?", id, allowedFrom).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func transitionColumn(status string) string {
	switch status {
	case constants.TxnStatusProcessing:
		return "processing_at"
	case constants.TxnStatusSucceeded:
		return "succeeded_at"
	case constants.TxnStatusFailed:
		return "failed_at"
	case constants.TxnStatusExpired:
		return "expired_at"
	case constants.TxnStatusCancelled:
		return "cancelled_at"
	}
	return ""
}

// ListStalePending returns pending payments past the cutoff. The expiry
// sweep feeds on this. Only pending rows qualify: a processing payment
// has a buyer at the gateway and is settled by webhook or
// reconciliation, never by the sweep.
func (r *TransactionRepository) ListStalePending(cutoff time.Time, limit int) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := r.db.Where("status = ? AND created_at < ?", constants.TxnStatusPending, cutoff).
		Order("id ASC").Limit(limit).Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	TenantID string
	Provider string
	Status   string
	OrderRef string
}

// List returns a transaction page plus the unpaged total.
func (r *TransactionRepository) List(filter TransactionFilter, page PageQuery) ([]models.PaymentTransaction, int64, error) {
	page = page.Normalize()
	query := r.db.Model(&models.PaymentTransaction{}).Where("tenant_id = ?", filter.TenantID)
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.OrderRef != "" {
		query = query.Where("order_ref = ?", filter.OrderRef)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var txns []models.PaymentTransaction
	err := query.Order("id DESC").Offset(page.Offset()).Limit(page.PageSize).Find(&txns).Error
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}
