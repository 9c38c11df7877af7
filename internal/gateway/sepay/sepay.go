package sepay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway"
	"github.com/vietcart-next/internal/gateway/transport"
)

const (
	listPath    = "/userapi/transactions/list"
	countPath   = "/userapi/transactions/count"
	qrBase      = "https://qr.sepay.vn/img"
	timeLayout  = "2006-01-02 15:04:05"
	apikeyToken = "Apikey "
)

// refPattern matches a payment number embedded in a bank transfer memo.
var refPattern = regexp.MustCompile(`PAY\d{14,}`)

// Config is the credential set for a SePay account. The account fields
// feed the transfer instructions shown to the payer.
type Config struct {
	APIToken      string
	Endpoint      string
	AccountNumber string
	BankCode      string
	AccountName   string
}

// Adapter integrates the SePay bank-transfer reconciliation service.
// Payment happens out of band: the payer transfers to a bank account
// with the payment number in the memo, and SePay reports the matching
// incoming transaction.
type Adapter struct {
	cfg Config
	rt  *transport.Client
}

// New builds an adapter from decrypted credentials.
func New(rt *transport.Client, creds gateway.Credentials) (*Adapter, error) {
	cfg := Config{
		APIToken:      creds.Get("api_token"),
		Endpoint:      creds.Get("endpoint"),
		AccountNumber: creds.Get("account_number"),
		BankCode:      creds.Get("bank_code"),
		AccountName:   creds.Get("account_name"),
	}
	if cfg.APIToken == "" || cfg.AccountNumber == "" || cfg.BankCode == "" {
		return nil, fmt.Errorf("%w: sepay requires api_token, account_number, bank_code", gateway.ErrCredentialsInvalid)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://my.sepay.vn"
	}
	return &Adapter{cfg: cfg, rt: rt}, nil
}

func (a *Adapter) Name() string { return constants.ProviderSePay }

// WeaklyAuthenticated is true: SePay webhooks carry only an API key
// header, no payload signature.
func (a *Adapter) WeaklyAuthenticated() bool { return true }

// InitiatePayment produces transfer instructions and a QR image URL.
// Nothing is sent to the gateway; matching happens when the transfer
// arrives.
func (a *Adapter) InitiatePayment(_ context.Context, input gateway.InitiateInput) (*gateway.InitiateResult, error) {
	qr := url.Values{}
	qr.Set("acc", a.cfg.AccountNumber)
	qr.Set("bank", a.cfg.BankCode)
	qr.Set("amount", input.Amount.Truncate(0).String())
	qr.Set("des", input.TransactionNo)

	var b strings.Builder
	fmt.Fprintf(&b, "Transfer %s %s to account %s (%s)",
		input.Amount.Truncate(0).String(), input.Currency, a.cfg.AccountNumber, a.cfg.BankCode)
	if a.cfg.AccountName != "" {
		fmt.Fprintf(&b, ", holder %s", a.cfg.AccountName)
	}
	fmt.Fprintf(&b, ". Transfer memo must contain: %s", input.TransactionNo)

	return &gateway.InitiateResult{
		GatewayRef:   input.TransactionNo,
		PayURL:       qrBase + "?" + qr.Encode(),
		Instructions: b.String(),
	}, nil
}

// GetStatus searches recent incoming transactions for the payment
// number. SePay has no per-order query, so an absent match means the
// transfer has not arrived yet.
func (a *Adapter) GetStatus(ctx context.Context, gatewayRef string) (*gateway.StatusResult, error) {
	query := url.Values{}
	query.Set("account_number", a.cfg.AccountNumber)
	query.Set("transaction_content", gatewayRef)
	query.Set("limit", "10")

	resp, err := a.rt.Do(ctx, &transport.Request{
		Method: "GET",
		URL:    a.cfg.Endpoint + listPath + "?" + query.Encode(),
		Header: map[string]string{"Authorization": "Bearer " + a.cfg.APIToken},
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		Status       int              `json:"status"`
		Transactions []map[string]any `json:"transactions"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrResponseInvalid, err)
	}
	for _, txn := range body.Transactions {
		content, _ := txn["transaction_content"].(string)
		amountIn, _ := txn["amount_in"].(string)
		if strings.Contains(content, gatewayRef) && amountIn != "" && amountIn != "0" {
			return &gateway.StatusResult{
				Status:     constants.TxnStatusSucceeded,
				GatewayRef: gatewayRef,
				Raw:        txn,
			}, nil
		}
	}
	return &gateway.StatusResult{Status: constants.TxnStatusPending, GatewayRef: gatewayRef}, nil
}

// ProcessRefund is not available: bank transfers are refunded manually
// outside the gateway.
func (a *Adapter) ProcessRefund(context.Context, gateway.RefundInput) (*gateway.RefundResult, error) {
	return nil, gateway.ErrNotSupported
}

// VerifyWebhookSignature compares the Authorization header against the
// configured webhook API key in constant time.
func (a *Adapter) VerifyWebhookSignature(_ []byte, signatureHeader string, secret string) bool {
	if secret == "" || !strings.HasPrefix(signatureHeader, apikeyToken) {
		return false
	}
	presented := strings.TrimPrefix(signatureHeader, apikeyToken)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}

// ParseWebhookPayload maps an incoming-transfer notification to the
// canonical event. The payment number is recovered from the transfer
// memo.
func (a *Adapter) ParseWebhookPayload(rawPayload []byte) (*gateway.WebhookEvent, error) {
	var body struct {
		ID              int64           `json:"id"`
		TransferType    string          `json:"transferType"`
		TransferAmount  decimal.Decimal `json:"transferAmount"`
		Content         string          `json:"content"`
		ReferenceCode   string          `json:"referenceCode"`
		TransactionDate string          `json:"transactionDate"`
	}
	if err := json.Unmarshal(rawPayload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrResponseInvalid, err)
	}
	if body.TransferType != "in" {
		return nil, fmt.Errorf("%w: outgoing transfer", gateway.ErrResponseInvalid)
	}
	ref := refPattern.FindString(body.Content)
	if ref == "" {
		return nil, fmt.Errorf("%w: no payment number in transfer memo", gateway.ErrResponseInvalid)
	}
	occurred := time.Now()
	if t, err := time.ParseInLocation(timeLayout, body.TransactionDate, time.Local); err == nil {
		occurred = t
	}
	eventID := body.ReferenceCode
	if eventID == "" {
		eventID = fmt.Sprintf("%d", body.ID)
	}
	raw := map[string]interface{}{
		"id":             body.ID,
		"content":        body.Content,
		"referenceCode":  body.ReferenceCode,
		"transferAmount": body.TransferAmount.String(),
	}
	return &gateway.WebhookEvent{
		EventID:    eventID,
		EventType:  "bank_transfer_in",
		GatewayRef: ref,
		Status:     constants.TxnStatusSucceeded,
		Amount:     body.TransferAmount,
		OccurredAt: occurred,
		Raw:        raw,
	}, nil
}

// HealthCheck issues a single authenticated count call.
func (a *Adapter) HealthCheck(ctx context.Context) string {
	_, err := a.rt.DoOnce(ctx, &transport.Request{
		Method: "GET",
		URL:    a.cfg.Endpoint + countPath,
		Header: map[string]string{"Authorization": "Bearer " + a.cfg.APIToken},
	})
	switch {
	case err == nil:
		return constants.GatewayHealthHealthy
	case transport.IsTransient(err):
		return constants.GatewayHealthDown
	default:
		return constants.GatewayHealthDegraded
	}
}
