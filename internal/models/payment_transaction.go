package models

import "time"

// PaymentTransaction is one payment attempt against a gateway. Rows are
// never deleted; terminal states end the lifecycle.
type PaymentTransaction struct {
	ID               uint       `gorm:"primarykey" json:"id"`
	TenantID         string     `gorm:"type:varchar(64);index:idx_txn_tenant_no,unique;not null;default:''" json:"tenant_id"`
	TransactionNo    string     `gorm:"type:varchar(64);index:idx_txn_tenant_no,unique;not null" json:"transaction_no"`
	OrderRef         string     `gorm:"type:varchar(64);index;not null" json:"order_ref"`
	Provider         string     `gorm:"type:varchar(32);index;not null" json:"provider"`
	Amount           Money      `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency         string     `gorm:"type:varchar(8);not null" json:"currency"`
	Status           string     `gorm:"type:varchar(20);index;not null" json:"status"`
	GatewayRef       string     `gorm:"type:varchar(128);index" json:"gateway_ref"` // set once the gateway acknowledges
	PayURL           string     `gorm:"type:text" json:"pay_url"`
	Instructions     string     `gorm:"type:text" json:"instructions"` // manual providers only
	LastErrorCode    string     `gorm:"type:varchar(64)" json:"last_error_code"`
	LastErrorMessage string     `gorm:"type:varchar(500)" json:"last_error_message"`
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"index" json:"updated_at"`
	ProcessingAt     *time.Time `json:"processing_at"`
	SucceededAt      *time.Time `json:"succeeded_at"`
	FailedAt         *time.Time `json:"failed_at"`
	ExpiredAt        *time.Time `json:"expired_at"`
	CancelledAt      *time.Time `json:"cancelled_at"`
}

// TableName sets the table name.
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}
