package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/vietcart-next/internal/models"
)

// ErrDuplicateWebhook marks a notification whose (provider, dedup key)
// pair was already recorded.
var ErrDuplicateWebhook = errors.New("webhook already recorded")

// WebhookRecordRepository persists the webhook ingest journal.
type WebhookRecordRepository struct {
	db *gorm.DB
}

func NewWebhookRecordRepository(db *gorm.DB) *WebhookRecordRepository {
	return &WebhookRecordRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *WebhookRecordRepository) WithTx(tx *gorm.DB) *WebhookRecordRepository {
	return &WebhookRecordRepository{db: tx}
}

// CreateIfAbsent inserts the record, relying on the unique
// (provider, dedup_key) index to reject replays. Returns
// ErrDuplicateWebhook when the pair already exists.
func (r *WebhookRecordRepository) CreateIfAbsent(record *models.WebhookRecord) error {
	err := r.db.Create(record).Error
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateWebhook
	}
	return err
}

func (r *WebhookRecordRepository) Update(record *models.WebhookRecord) error {
	return r.db.Save(record).Error
}

func (r *WebhookRecordRepository) GetByProviderAndKey(provider, dedupKey string) (*models.WebhookRecord, error) {
	var record models.WebhookRecord
	err := r.db.Where("provider = ? AND dedup_key = ?", provider, dedupKey).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByTransaction returns the notifications applied to a transaction.
func (r *WebhookRecordRepository) ListByTransaction(transactionID uint) ([]models.WebhookRecord, error) {
	var records []models.WebhookRecord
	err := r.db.Where("transaction_id = ?", transactionID).Order("id ASC").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// isUniqueViolation covers gorm's translated error plus the raw driver
// messages sqlite and postgres emit for constraint hits.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
