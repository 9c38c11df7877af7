package sepay

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(nil, gateway.Credentials{
		"api_token":      "token-1",
		"account_number": "0123456789",
		"bank_code":      "VPBank",
		"account_name":   "VIETCART JSC",
	})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}
	return a
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(nil, gateway.Credentials{"api_token": "token-1"})
	if err == nil {
		t.Fatalf("expected credential error")
	}
	a := newTestAdapter(t)
	if a.cfg.Endpoint != "https://my.sepay.vn" {
		t.Fatalf("expected default endpoint, got %s", a.cfg.Endpoint)
	}
}

func TestInitiatePaymentReturnsInstructions(t *testing.T) {
	a := newTestAdapter(t)
	result, err := a.InitiatePayment(context.Background(), gateway.InitiateInput{
		TransactionNo: "PAY20250101120000123456",
		Amount:        decimal.NewFromInt(250000),
		Currency:      "VND",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if result.GatewayRef != "PAY20250101120000123456" {
		t.Fatalf("unexpected gateway ref %s", result.GatewayRef)
	}
	if !strings.HasPrefix(result.PayURL, "https://qr.sepay.vn/img?") {
		t.Fatalf("unexpected qr url %s", result.PayURL)
	}
	if !strings.Contains(result.Instructions, "PAY20250101120000123456") {
		t.Fatalf("instructions missing payment number: %q", result.Instructions)
	}
	if !strings.Contains(result.Instructions, "0123456789") {
		t.Fatalf("instructions missing account number: %q", result.Instructions)
	}
}

func TestProcessRefundNotSupported(t *testing.T) {
	a := newTestAdapter(t)
	if _, err := a.ProcessRefund(context.Background(), gateway.RefundInput{}); err != gateway.ErrNotSupported {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	a := newTestAdapter(t)
	if !a.VerifyWebhookSignature(nil, "Apikey hook-secret", "hook-secret") {
		t.Fatalf("valid api key rejected")
	}
	if a.VerifyWebhookSignature(nil, "Apikey wrong", "hook-secret") {
		t.Fatalf("wrong api key accepted")
	}
	if a.VerifyWebhookSignature(nil, "Bearer hook-secret", "hook-secret") {
		t.Fatalf("wrong scheme accepted")
	}
	if a.VerifyWebhookSignature(nil, "Apikey anything", "") {
		t.Fatalf("empty configured secret accepted")
	}
}

func TestParseWebhookPayload(t *testing.T) {
	a := newTestAdapter(t)
	payload := []byte(`{
		"id": 92704,
		"gateway": "VPBank",
		"transactionDate": "2025-01-01 12:05:00",
		"accountNumber": "0123456789",
		"transferType": "in",
		"transferAmount": 250000,
		"content": "CK PAY20250101120000123456 thanh toan don hang",
		"referenceCode": "FT25001123456"
	}`)

	event, err := a.ParseWebhookPayload(payload)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.GatewayRef != "PAY20250101120000123456" {
		t.Fatalf("memo match failed, got %s", event.GatewayRef)
	}
	if event.EventID != "FT25001123456" {
		t.Fatalf("unexpected event id %s", event.EventID)
	}
	if event.Status != constants.TxnStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", event.Status)
	}
	if !event.Amount.Equal(decimal.NewFromInt(250000)) {
		t.Fatalf("unexpected amount %s", event.Amount.String())
	}
}

func TestParseWebhookPayloadFallsBackToID(t *testing.T) {
	a := newTestAdapter(t)
	payload := []byte(`{"id":92704,"transferType":"in","transferAmount":1000,"content":"PAY20250101120000123456"}`)
	event, err := a.ParseWebhookPayload(payload)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.EventID != "92704" {
		t.Fatalf("expected id fallback, got %s", event.EventID)
	}
}

func TestParseWebhookPayloadRejectsOutgoing(t *testing.T) {
	a := newTestAdapter(t)
	payload := []byte(`{"id":1,"transferType":"out","transferAmount":1000,"content":"PAY20250101120000123456"}`)
	if _, err := a.ParseWebhookPayload(payload); err == nil {
		t.Fatalf("expected error for outgoing transfer")
	}
}

func TestParseWebhookPayloadRequiresMemoMatch(t *testing.T) {
	a := newTestAdapter(t)
	payload := []byte(`{"id":1,"transferType":"in","transferAmount":1000,"content":"no reference here"}`)
	if _, err := a.ParseWebhookPayload(payload); err == nil {
		t.Fatalf("expected error for memo without payment number")
	}
}

func TestRefPattern(t *testing.T) {
	cases := []struct {
		memo string
		want string
	}{
		{"CK PAY20250101120000123456 don 42", "PAY20250101120000123456"},
		{"PAY20250101120000123456", "PAY20250101120000123456"},
		{"PAY123", ""},
		{"payment 123", ""},
	}
	for _, c := range cases {
		if got := refPattern.FindString(c.memo); got != c.want {
			t.Fatalf("refPattern(%q) = %q, want %q", c.memo, got, c.want)
		}
	}
}
