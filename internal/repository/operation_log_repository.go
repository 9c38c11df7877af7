package repository

import (
	"gorm.io/gorm"

	"github.com/vietcart-next/internal/models"
)

// OperationLogRepository persists the gateway operation audit trail.
type OperationLogRepository struct {
	db *gorm.DB
}

func NewOperationLogRepository(db *gorm.DB) *OperationLogRepository {
	return &OperationLogRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *OperationLogRepository) WithTx(tx *gorm.DB) *OperationLogRepository {
	return &OperationLogRepository{db: tx}
}

func (r *OperationLogRepository) Create(entry *models.OperationLog) error {
	return r.db.Create(entry).Error
}

func (r *OperationLogRepository) Update(entry *models.OperationLog) error {
	return r.db.Save(entry).Error
}

func (r *OperationLogRepository) GetByID(id uint) (*models.OperationLog, error) {
	var entry models.OperationLog
	if err := r.db.First(&entry, id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// OperationLogFilter narrows audit trail listings.
type OperationLogFilter struct {
	TenantID      string
	Provider      string
	OperationType string
	TransactionNo string
	CorrelationID string
	OnlyFailed    bool
}

// List returns an audit page plus the unpaged total, newest first.
func (r *OperationLogRepository) List(filter OperationLogFilter, page PageQuery) ([]models.OperationLog, int64, error) {
	page = page.Normalize()
	query := r.db.Model(&models.OperationLog{})
	if filter.TenantID != "" {
		query = query.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.OperationType != "" {
		query = query.Where("operation_type = ?", filter.OperationType)
	}
	if filter.TransactionNo != "" {
		query = query.Where("transaction_no = ?", filter.TransactionNo)
	}
	if filter.CorrelationID != "" {
		query = query.Where("correlation_id = ?", filter.CorrelationID)
	}
	if filter.OnlyFailed {
		query = query.Where("success = ?", false)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []models.OperationLog
	err := query.Order("id DESC").Offset(page.Offset()).Limit(page.PageSize).Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
