package models

import "time"

// OperationLog is the append-only record of one gateway interaction.
// Rows are written best-effort around every outbound call and inbound
// webhook and are never updated after completion is recorded.
type OperationLog struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	CorrelationID string    `gorm:"type:varchar(64);index" json:"correlation_id"`
	OperationType string    `gorm:"type:varchar(32);index;not null" json:"operation_type"`
	Provider      string    `gorm:"type:varchar(32);index;not null" json:"provider"`
	TenantID      string    `gorm:"type:varchar(64);index" json:"tenant_id"`
	TransactionNo string    `gorm:"type:varchar(64);index" json:"transaction_no"`
	RefundNo      string    `gorm:"type:varchar(64);index" json:"refund_no"`
	RequestData   JSON      `gorm:"type:json" json:"request_data"`
	ResponseData  JSON      `gorm:"type:json" json:"response_data"`
	ContextData   JSON      `gorm:"type:json" json:"context_data"`
	HTTPStatus    int       `json:"http_status"`
	DurationMS    int64     `json:"duration_ms"`
	Success       bool      `gorm:"index" json:"success"`
	ErrorCode     string    `gorm:"type:varchar(64)" json:"error_code"`
	ErrorMessage  string    `gorm:"type:varchar(500)" json:"error_message"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

// TableName sets the table name.
func (OperationLog) TableName() string {
	return "operation_logs"
}
