package momo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway"
	"github.com/vietcart-next/internal/gateway/transport"
)

const (
	createPath  = "/v2/gateway/api/create"
	queryPath   = "/v2/gateway/api/query"
	refundPath  = "/v2/gateway/api/refund"
	requestType = "captureWallet"
	lang        = "vi"
)

// Config is the credential set for a MoMo partner.
type Config struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
}

// Adapter talks to the MoMo wallet JSON API.
type Adapter struct {
	cfg Config
	rt  *transport.Client
}

// New builds an adapter from decrypted credentials.
func New(rt *transport.Client, creds gateway.Credentials) (*Adapter, error) {
	cfg := Config{
		PartnerCode: creds.Get("partner_code"),
		AccessKey:   creds.Get("access_key"),
		SecretKey:   creds.Get("secret_key"),
		Endpoint:    creds.Get("endpoint"),
	}
	if cfg.PartnerCode == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: momo requires partner_code, access_key, secret_key, endpoint", gateway.ErrCredentialsInvalid)
	}
	return &Adapter{cfg: cfg, rt: rt}, nil
}

func (a *Adapter) Name() string              { return constants.ProviderMoMo }
func (a *Adapter) WeaklyAuthenticated() bool { return false }

// InitiatePayment calls the create API and returns the wallet pay URL.
func (a *Adapter) InitiatePayment(ctx context.Context, input gateway.InitiateInput) (*gateway.InitiateResult, error) {
	requestID := uuid.NewString()
	amount := input.Amount.Truncate(0).String()
	payload := map[string]interface{}{
		"partnerCode": a.cfg.PartnerCode,
		"requestId":   requestID,
		"amount":      amount,
		"orderId":     input.TransactionNo,
		"orderInfo":   input.Description,
		"redirectUrl": input.ReturnURL,
		"ipnUrl":      input.NotifyURL,
		"requestType": requestType,
		"extraData":   "",
		"lang":        lang,
	}
	payload["signature"] = a.sign(rawSignature{
		"accessKey":   a.cfg.AccessKey,
		"amount":      amount,
		"extraData":   "",
		"ipnUrl":      input.NotifyURL,
		"orderId":     input.TransactionNo,
		"orderInfo":   input.Description,
		"partnerCode": a.cfg.PartnerCode,
		"redirectUrl": input.ReturnURL,
		"requestId":   requestID,
		"requestType": requestType,
	})

	raw, err := a.post(ctx, createPath, payload)
	if err != nil {
		return nil, err
	}
	if code := num(raw["resultCode"]); code != 0 {
		return nil, &transport.GatewayError{
			Provider: a.Name(),
			Code:     fmt.Sprintf("result_%d", code),
			Message:  "create rejected: " + str(raw["message"]),
		}
	}
	return &gateway.InitiateResult{
		GatewayRef: input.TransactionNo,
		PayURL:     str(raw["payUrl"]),
		Raw:        raw,
	}, nil
}

// GetStatus calls the query API.
func (a *Adapter) GetStatus(ctx context.Context, gatewayRef string) (*gateway.StatusResult, error) {
	requestID := uuid.NewString()
	payload := map[string]interface{}{
		"partnerCode": a.cfg.PartnerCode,
		"requestId":   requestID,
		"orderId":     gatewayRef,
		"lang":        lang,
	}
	payload["signature"] = a.sign(rawSignature{
		"accessKey":   a.cfg.AccessKey,
		"orderId":     gatewayRef,
		"partnerCode": a.cfg.PartnerCode,
		"requestId":   requestID,
	})

	raw, err := a.post(ctx, queryPath, payload)
	if err != nil {
		return nil, err
	}
	return &gateway.StatusResult{
		Status:     mapResultCode(num(raw["resultCode"])),
		GatewayRef: gatewayRef,
		Raw:        raw,
	}, nil
}

// ProcessRefund calls the refund API. MoMo settles refunds synchronously.
func (a *Adapter) ProcessRefund(ctx context.Context, input gateway.RefundInput) (*gateway.RefundResult, error) {
	requestID := uuid.NewString()
	amount := input.Amount.Truncate(0).String()
	payload := map[string]interface{}{
		"partnerCode": a.cfg.PartnerCode,
		"requestId":   requestID,
		"orderId":     input.RefundNo,
		"amount":      amount,
		"transId":     input.GatewayRef,
		"description": input.Reason,
		"lang":        lang,
	}
	payload["signature"] = a.sign(rawSignature{
		"accessKey":   a.cfg.AccessKey,
		"amount":      amount,
		"description": input.Reason,
		"orderId":     input.RefundNo,
		"partnerCode": a.cfg.PartnerCode,
		"requestId":   requestID,
		"transId":     input.GatewayRef,
	})

	raw, err := a.post(ctx, refundPath, payload)
	if err != nil {
		return nil, err
	}
	if code := num(raw["resultCode"]); code != 0 {
		return nil, &transport.GatewayError{
			Provider: a.Name(),
			Code:     fmt.Sprintf("result_%d", code),
			Message:  "refund rejected: " + str(raw["message"]),
		}
	}
	return &gateway.RefundResult{
		GatewayRefundRef: str(raw["transId"]),
		Status:           constants.RefundStatusCompleted,
		Raw:              raw,
	}, nil
}

// VerifyWebhookSignature recomputes the IPN signature from the JSON body.
func (a *Adapter) VerifyWebhookSignature(rawPayload []byte, _ string, _ string) bool {
	var body map[string]interface{}
	if err := json.Unmarshal(rawPayload, &body); err != nil {
		return false
	}
	received := str(body["signature"])
	if received == "" {
		return false
	}
	expected := a.sign(rawSignature{
		"accessKey":    a.cfg.AccessKey,
		"amount":       field(body, "amount"),
		"extraData":    field(body, "extraData"),
		"message":      field(body, "message"),
		"orderId":      field(body, "orderId"),
		"orderInfo":    field(body, "orderInfo"),
		"orderType":    field(body, "orderType"),
		"partnerCode":  field(body, "partnerCode"),
		"payType":      field(body, "payType"),
		"requestId":    field(body, "requestId"),
		"responseTime": field(body, "responseTime"),
		"resultCode":   field(body, "resultCode"),
		"transId":      field(body, "transId"),
	})
	return hmac.Equal([]byte(received), []byte(expected))
}

// ParseWebhookPayload maps an IPN body to the canonical event.
func (a *Adapter) ParseWebhookPayload(rawPayload []byte) (*gateway.WebhookEvent, error) {
	var body map[string]interface{}
	if err := json.Unmarshal(rawPayload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrResponseInvalid, err)
	}
	orderID := str(body["orderId"])
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing orderId", gateway.ErrResponseInvalid)
	}
	amount, err := decimal.NewFromString(field(body, "amount"))
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount", gateway.ErrResponseInvalid)
	}
	occurred := time.Now()
	if ms, ok := body["responseTime"].(float64); ok && ms > 0 {
		occurred = time.UnixMilli(int64(ms))
	}
	return &gateway.WebhookEvent{
		EventID:    field(body, "transId"),
		EventType:  "payment_result",
		GatewayRef: orderID,
		Status:     mapResultCode(num(body["resultCode"])),
		Amount:     amount,
		OccurredAt: occurred,
		Raw:        body,
	}, nil
}

// HealthCheck issues a single unsigned query. Any well-formed rejection
// still proves the API is reachable.
func (a *Adapter) HealthCheck(ctx context.Context) string {
	_, err := a.rt.DoOnce(ctx, &transport.Request{
		Method:      "POST",
		URL:         a.cfg.Endpoint + queryPath,
		Body:        []byte(`{}`),
		ContentType: "application/json",
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

func (a *Adapter) post(ctx context.Context, path string, payload map[string]interface{}) (map[string]interface{}, error) {
	body, _ := json.Marshal(payload)
	resp, err := a.rt.Do(ctx, &transport.Request{
		Method:      "POST",
		URL:         a.cfg.Endpoint + path,
		Body:        body,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrResponseInvalid, err)
	}
	return raw, nil
}

// rawSignature is the key-value set signed in ascending key order as
// "k1=v1&k2=v2".
type rawSignature map[string]string

func (a *Adapter) sign(fields rawSignature) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b []byte
	for i, k := range keys {
		if i > 0 {
			b = append(b, '&')
		}
		b = append(b, k...)
		b = append(b, '=')
		b = append(b, fields[k]...)
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.SecretKey))
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil))
}

func mapResultCode(code int) string {
	switch code {
	case 0:
		return constants.TxnStatusSucceeded
	case 9000, 7000, 7002, 1000:
		return constants.TxnStatusProcessing
	case 1003, 1006:
		return constants.TxnStatusCancelled
	case 1005:
		return constants.TxnStatusExpired
	default:
		return constants.TxnStatusFailed
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// field renders a JSON value the way MoMo includes it in signatures:
// numbers without a decimal point, everything else as-is.
func field(body map[string]interface{}, key string) string {
	switch v := body[key].(type) {
	case string:
		return v
	case float64:
		return decimal.NewFromFloat(v).Truncate(0).String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func num(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		var i int
		fmt.Sscanf(n, "%d", &i)
		return i
	default:
		return -1
	}
}
