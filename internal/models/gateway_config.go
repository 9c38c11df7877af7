package models

import (
	"time"

	"gorm.io/gorm"
)

// GatewayConfig is the per-tenant provider configuration. A row with an
// empty tenant id is the platform default; tenant lookups fall back to it.
// Credentials stays opaque ciphertext everywhere outside the secrets
// resolver.
type GatewayConfig struct {
	ID                  uint           `gorm:"primarykey" json:"id"`
	TenantID            string         `gorm:"type:varchar(64);index:idx_gateway_tenant_provider,unique;not null;default:''" json:"tenant_id"`
	Provider            string         `gorm:"type:varchar(32);index:idx_gateway_tenant_provider,unique;not null" json:"provider"`
	DisplayName         string         `gorm:"type:varchar(120);not null" json:"display_name"`
	IsActive            bool           `gorm:"not null;default:true" json:"is_active"`
	SortOrder           int            `gorm:"not null;default:0" json:"sort_order"`
	Environment         string         `gorm:"type:varchar(20);not null;default:'sandbox'" json:"environment"`
	Credentials         string         `gorm:"type:text" json:"-"` // AES-GCM ciphertext, base64
	WebhookSecret       string         `gorm:"type:varchar(255)" json:"-"`
	WebhookURL          string         `gorm:"type:varchar(500)" json:"webhook_url"`
	MinAmount           Money          `gorm:"type:decimal(20,2);not null;default:0" json:"min_amount"`
	MaxAmount           Money          `gorm:"type:decimal(20,2);not null;default:0" json:"max_amount"`
	SupportedCurrencies StringArray    `gorm:"type:json" json:"supported_currencies"`
	HealthStatus        string         `gorm:"type:varchar(20);not null;default:'unknown'" json:"health_status"`
	LastHealthCheckAt   *time.Time     `json:"last_health_check_at"`
	CreatedAt           time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"index" json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName sets the table name.
func (GatewayConfig) TableName() string {
	return "gateway_configs"
}
