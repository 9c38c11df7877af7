package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Credentials is a decrypted provider credential set. Adapters read their
// own keys out of it; nothing else inspects the contents.
type Credentials map[string]string

// Get returns a credential value, empty when absent.
func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// ParseCredentials decodes a decrypted credential blob.
func ParseCredentials(raw []byte) (Credentials, error) {
	if len(raw) == 0 {
		return Credentials{}, nil
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("credentials decode failed: %w", err)
	}
	return creds, nil
}

// InitiateInput is the canonical payment initiation request.
type InitiateInput struct {
	TransactionNo string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	ClientIP      string
	NotifyURL     string
	ReturnURL     string
}

// InitiateResult is the canonical payment initiation response. HTTP
// providers fill PayURL; the manual provider fills Instructions.
type InitiateResult struct {
	GatewayRef   string
	PayURL       string
	Instructions string
	Raw          map[string]interface{}
}

// StatusResult is the canonical status query response.
type StatusResult struct {
	Status     string // canonical status vocabulary
	GatewayRef string
	Raw        map[string]interface{}
}

// RefundInput is the canonical refund execution request.
type RefundInput struct {
	GatewayRef string
	RefundNo   string
	Amount     decimal.Decimal
	Reason     string
}

// RefundResult is the canonical refund execution response.
type RefundResult struct {
	GatewayRefundRef string
	Status           string // canonical refund status: processing or completed
	Raw              map[string]interface{}
}

// WebhookEvent is the canonical shape every provider notification is
// parsed into before it touches the state machine.
type WebhookEvent struct {
	EventID    string // provider event id; empty when the provider has none
	EventType  string
	GatewayRef string
	Status     string // canonical status vocabulary
	Amount     decimal.Decimal
	OccurredAt time.Time
	Raw        map[string]interface{}
}

// Provider is the capability set every adapter implements. Adapters hold
// decrypted credentials for exactly one tenant and are cheap to build per
// call.
type Provider interface {
	// Name returns the registry key.
	Name() string
	// InitiatePayment starts a payment attempt at the gateway.
	InitiatePayment(ctx context.Context, input InitiateInput) (*InitiateResult, error)
	// GetStatus polls the gateway query endpoint.
	GetStatus(ctx context.Context, gatewayRef string) (*StatusResult, error)
	// ProcessRefund executes a refund at the gateway.
	ProcessRefund(ctx context.Context, input RefundInput) (*RefundResult, error)
	// VerifyWebhookSignature checks a raw notification against the
	// provider scheme. secret is the tenant webhook secret where the
	// scheme uses one.
	VerifyWebhookSignature(rawPayload []byte, signatureHeader string, secret string) bool
	// ParseWebhookPayload maps a raw notification to the canonical event.
	ParseWebhookPayload(rawPayload []byte) (*WebhookEvent, error)
	// WeaklyAuthenticated reports that the provider has no cryptographic
	// webhook signing (header key comparison only).
	WeaklyAuthenticated() bool
	// HealthCheck probes the gateway with a single lightweight call.
	// Returns a gateway health constant.
	HealthCheck(ctx context.Context) string
}

// ErrNotSupported marks a capability a provider does not offer (refunds
// on bank-transfer providers, remote status on the manual provider).
var ErrNotSupported = errors.New("gateway: operation not supported by provider")

// ErrCredentialsInvalid marks an unusable credential set.
var ErrCredentialsInvalid = errors.New("gateway: credentials invalid")

// ErrResponseInvalid marks an unparseable or failed provider response.
var ErrResponseInvalid = errors.New("gateway: response invalid")
