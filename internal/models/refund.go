package models

import "time"

// Refund is a refund request against a succeeded transaction. The sum of
// approved plus completed refund amounts never exceeds the transaction
// amount; the service enforces this at approval and completion.
type Refund struct {
	ID               uint       `gorm:"primarykey" json:"id"`
	TransactionID    uint       `gorm:"index;not null" json:"transaction_id"`
	RefundNo         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"refund_no"`
	Amount           Money      `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status           string     `gorm:"type:varchar(20);index;not null" json:"status"`
	Reason           string     `gorm:"type:varchar(500)" json:"reason"`
	GatewayRefundRef string     `gorm:"type:varchar(128);index" json:"gateway_refund_ref"`
	LastErrorCode    string     `gorm:"type:varchar(64)" json:"last_error_code"`
	LastErrorMessage string     `gorm:"type:varchar(500)" json:"last_error_message"`
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"index" json:"updated_at"`
	ApprovedAt       *time.Time `json:"approved_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	FailedAt         *time.Time `json:"failed_at"`
}

// TableName sets the table name.
func (Refund) TableName() string {
	return "refunds"
}
