package models

import "time"

// WebhookRecord stores one inbound provider notification. The dedup key
// is unique per provider; a second delivery with the same key is a no-op.
type WebhookRecord struct {
	ID                uint      `gorm:"primarykey" json:"id"`
	TenantID          string    `gorm:"type:varchar(64);index" json:"tenant_id"`
	Provider          string    `gorm:"type:varchar(32);index:idx_webhook_provider_dedup,unique;not null" json:"provider"`
	DedupKey          string    `gorm:"type:varchar(128);index:idx_webhook_provider_dedup,unique;not null" json:"dedup_key"`
	EventType         string    `gorm:"type:varchar(64)" json:"event_type"`
	RawPayload        string    `gorm:"type:text" json:"raw_payload"`
	SignatureVerified bool      `json:"signature_verified"`
	ProcessingStatus  string    `gorm:"type:varchar(20);index;not null" json:"processing_status"`
	TransactionID     *uint     `gorm:"index" json:"transaction_id,omitempty"`
	RefundID          *uint     `gorm:"index" json:"refund_id,omitempty"`
	Note              string    `gorm:"type:varchar(500)" json:"note"`
	CreatedAt         time.Time `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName sets the table name.
func (WebhookRecord) TableName() string {
	return "webhook_records"
}
