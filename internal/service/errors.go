package service

import "errors"

var (
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrTransactionNotPayable = errors.New("transaction is not in a payable state")
	ErrRefundNotFound        = errors.New("refund not found")
	ErrRefundNotRefundable   = errors.New("transaction is not refundable")
	ErrRefundExceedsAmount   = errors.New("refund total exceeds transaction amount")
	ErrRefundInvalidState    = errors.New("refund is not in a state that allows this action")
	ErrAmountInvalid         = errors.New("amount must be positive")
	ErrAmountOutOfRange      = errors.New("amount outside gateway limits")
	ErrCurrencyNotSupported  = errors.New("currency not supported by gateway")
	ErrDuplicateTransaction  = errors.New("transaction number already exists")
	ErrConfigNotFound        = errors.New("gateway config not found")
	ErrManualOnly            = errors.New("operation only valid for the manual provider")
)
