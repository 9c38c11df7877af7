package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/vietcart-next/internal/models"
)

// GatewayConfigRepository persists per-tenant provider configurations.
type GatewayConfigRepository struct {
	db *gorm.DB
}

func NewGatewayConfigRepository(db *gorm.DB) *GatewayConfigRepository {
	return &GatewayConfigRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *GatewayConfigRepository) WithTx(tx *gorm.DB) *GatewayConfigRepository {
	return &GatewayConfigRepository{db: tx}
}

func (r *GatewayConfigRepository) Create(cfg *models.GatewayConfig) error {
	return r.db.Create(cfg).Error
}

func (r *GatewayConfigRepository) Update(cfg *models.GatewayConfig) error {
	return r.db.Save(cfg).Error
}

func (r *GatewayConfigRepository) Delete(id uint) error {
	return r.db.Delete(&models.GatewayConfig{}, id).Error
}

func (r *GatewayConfigRepository) GetByID(id uint) (*models.GatewayConfig, error) {
	var cfg models.GatewayConfig
	if err := r.db.First(&cfg, id).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetByTenantAndProvider resolves the configuration the tenant uses for
// one provider.
func (r *GatewayConfigRepository) GetByTenantAndProvider(tenantID, provider string) (*models.GatewayConfig, error) {
	var cfg models.GatewayConfig
	err := r.db.Where("tenant_id = ? AND provider = ?", tenantID, provider).First(&cfg).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListByTenant returns the tenant's configurations ordered for display.
// activeOnly narrows to enabled ones.
func (r *GatewayConfigRepository) ListByTenant(tenantID string, activeOnly bool) ([]models.GatewayConfig, error) {
	query := r.db.Where("tenant_id = ?", tenantID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var configs []models.GatewayConfig
	if err := query.Order("sort_order ASC, id ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// ListActive returns every enabled configuration across tenants. The
// health sweep walks this set.
func (r *GatewayConfigRepository) ListActive() ([]models.GatewayConfig, error) {
	var configs []models.GatewayConfig
	err := r.db.Where("is_active = ?", true).Order("id ASC").Find(&configs).Error
	if err != nil {
		return nil, err
	}
	return configs, nil
}

// UpdateHealth records a probe result.
func (r *GatewayConfigRepository) UpdateHealth(id uint, status string, checkedAt time.Time) error {
	return r.db.Model(&models.GatewayConfig{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"health_status":        status,
			"last_health_check_at": checkedAt,
		}).Error
}
