package cod

import (
	"context"
	"fmt"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway"
)

// Adapter is the manual cash-on-delivery provider. There is no remote
// gateway: payments stay pending until an operator confirms collection,
// and refunds settle the moment they are approved.
type Adapter struct{}

// New builds the manual adapter. It takes no credentials.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string              { return constants.ProviderCOD }
func (a *Adapter) WeaklyAuthenticated() bool { return false }

// InitiatePayment returns collection instructions. The payment number
// doubles as the gateway reference.
func (a *Adapter) InitiatePayment(_ context.Context, input gateway.InitiateInput) (*gateway.InitiateResult, error) {
	return &gateway.InitiateResult{
		GatewayRef: input.TransactionNo,
		Instructions: fmt.Sprintf(
			"Collect %s %s in cash on delivery. Quote payment number %s on the receipt.",
			input.Amount.Truncate(0).String(), input.Currency, input.TransactionNo),
	}, nil
}

// GetStatus has no remote side to ask.
func (a *Adapter) GetStatus(context.Context, string) (*gateway.StatusResult, error) {
	return nil, gateway.ErrNotSupported
}

// ProcessRefund settles immediately: handing cash back is the refund.
func (a *Adapter) ProcessRefund(_ context.Context, input gateway.RefundInput) (*gateway.RefundResult, error) {
	return &gateway.RefundResult{
		GatewayRefundRef: input.RefundNo,
		Status:           constants.RefundStatusCompleted,
	}, nil
}

// VerifyWebhookSignature always fails: the manual provider receives no
// webhooks, confirmation goes through the operator API.
func (a *Adapter) VerifyWebhookSignature([]byte, string, string) bool { return false }

func (a *Adapter) ParseWebhookPayload([]byte) (*gateway.WebhookEvent, error) {
	return nil, gateway.ErrNotSupported
}

// HealthCheck is trivially healthy, there is nothing to probe.
func (a *Adapter) HealthCheck(context.Context) string { return constants.GatewayHealthHealthy }
