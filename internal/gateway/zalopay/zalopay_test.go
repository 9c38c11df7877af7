package zalopay

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(nil, gateway.Credentials{
		"app_id":   "2553",
		"key1":     "key1-test",
		"key2":     "key2-test",
		"endpoint": "https://sb-openapi.zalopay.vn",
	})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}
	return a
}

func callbackEnvelope(t *testing.T, a *Adapter, data map[string]interface{}) []byte {
	t.Helper()
	inner, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data failed: %v", err)
	}
	raw, err := json.Marshal(map[string]string{
		"data": string(inner),
		"mac":  a.mac(a.cfg.Key2, string(inner)),
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}
	return raw
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(nil, gateway.Credentials{"app_id": "2553", "key1": "k"})
	if err == nil {
		t.Fatalf("expected credential error")
	}
}

func TestAppTransIDFormat(t *testing.T) {
	id := appTransID("PAY20250101120000123456")
	prefix := time.Now().Format(dayLayout) + "_"
	if !strings.HasPrefix(id, prefix) || !strings.HasSuffix(id, "PAY20250101120000123456") {
		t.Fatalf("unexpected app_trans_id %s", id)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	a := newTestAdapter(t)
	payload := callbackEnvelope(t, a, map[string]interface{}{
		"app_trans_id": "250101_PAY20250101120000123456",
		"zp_trans_id":  "250101000000123",
		"amount":       float64(150000),
	})
	if !a.VerifyWebhookSignature(payload, "", "") {
		t.Fatalf("valid callback rejected")
	}

	// mac computed with key1 must not verify
	inner := `{"app_trans_id":"250101_PAY1","amount":1}`
	wrongKey, _ := json.Marshal(map[string]string{
		"data": inner,
		"mac":  a.mac(a.cfg.Key1, inner),
	})
	if a.VerifyWebhookSignature(wrongKey, "", "") {
		t.Fatalf("callback signed with key1 accepted")
	}

	if a.VerifyWebhookSignature([]byte(`{"data":"","mac":""}`), "", "") {
		t.Fatalf("empty envelope accepted")
	}
	if a.VerifyWebhookSignature([]byte("not json"), "", "") {
		t.Fatalf("malformed envelope accepted")
	}
}

func TestParseWebhookPayload(t *testing.T) {
	a := newTestAdapter(t)
	payload := callbackEnvelope(t, a, map[string]interface{}{
		"app_trans_id": "250101_PAY20250101120000123456",
		"zp_trans_id":  "250101000000123",
		"amount":       float64(150000),
		"server_time":  float64(1735732800000),
	})

	event, err := a.ParseWebhookPayload(payload)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.GatewayRef != "250101_PAY20250101120000123456" {
		t.Fatalf("unexpected gateway ref %s", event.GatewayRef)
	}
	if event.EventID != "250101000000123" {
		t.Fatalf("unexpected event id %s", event.EventID)
	}
	if event.Status != constants.TxnStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", event.Status)
	}
	if !event.Amount.Equal(decimal.NewFromInt(150000)) {
		t.Fatalf("expected amount 150000, got %s", event.Amount.String())
	}
	if event.OccurredAt.UnixMilli() != 1735732800000 {
		t.Fatalf("unexpected occurred at %v", event.OccurredAt)
	}

	if _, err := a.ParseWebhookPayload([]byte(`{"data":"{}"}`)); err == nil {
		t.Fatalf("expected error for missing app_trans_id")
	}
	if _, err := a.ParseWebhookPayload([]byte(`{"data":"not json"}`)); err == nil {
		t.Fatalf("expected error for bad data envelope")
	}
}

func TestMapReturnCode(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{1, constants.TxnStatusSucceeded},
		{3, constants.TxnStatusProcessing},
		{2, constants.TxnStatusFailed},
		{-1, constants.TxnStatusFailed},
	}
	for _, c := range cases {
		if got := mapReturnCode(c.code); got != c.want {
			t.Fatalf("mapReturnCode(%d) = %s, want %s", c.code, got, c.want)
		}
	}
}
