package zalopay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway"
	"github.com/vietcart-next/internal/gateway/transport"
)

const (
	createPath = "/v2/create"
	queryPath  = "/v2/query"
	refundPath = "/v2/refund"
	appUser    = "merchant"
	dayLayout  = "060102"
)

// Config is the credential set for a ZaloPay application. Key1 signs
// merchant requests, Key2 verifies callbacks.
type Config struct {
	AppID    string
	Key1     string
	Key2     string
	Endpoint string
}

// Adapter talks to the ZaloPay form-encoded API.
type Adapter struct {
	cfg Config
	rt  *transport.Client
}

// New builds an adapter from decrypted credentials.
func New(rt *transport.Client, creds gateway.Credentials) (*Adapter, error) {
	cfg := Config{
		AppID:    creds.Get("app_id"),
		Key1:     creds.Get("key1"),
		Key2:     creds.Get("key2"),
		Endpoint: creds.Get("endpoint"),
	}
	if cfg.AppID == "" || cfg.Key1 == "" || cfg.Key2 == "" || cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: zalopay requires app_id, key1, key2, endpoint", gateway.ErrCredentialsInvalid)
	}
	return &Adapter{cfg: cfg, rt: rt}, nil
}

func (a *Adapter) Name() string              { return constants.ProviderZaloPay }
func (a *Adapter) WeaklyAuthenticated() bool { return false }

// appTransID renders the order reference the gateway requires, prefixed
// with the current date.
func appTransID(transactionNo string) string {
	return time.Now().Format(dayLayout) + "_" + transactionNo
}

// InitiatePayment calls the create API and returns the order URL.
func (a *Adapter) InitiatePayment(ctx context.Context, input gateway.InitiateInput) (*gateway.InitiateResult, error) {
	transID := appTransID(input.TransactionNo)
	appTime := fmt.Sprintf("%d", time.Now().UnixMilli())
	amount := input.Amount.Truncate(0).String()
	embedData := "{}"
	item := "[]"

	form := url.Values{}
	form.Set("app_id", a.cfg.AppID)
	form.Set("app_user", appUser)
	form.Set("app_trans_id", transID)
	form.Set("app_time", appTime)
	form.Set("amount", amount)
	form.Set("description", input.Description)
	form.Set("embed_data", embedData)
	form.Set("item", item)
	form.Set("callback_url", input.NotifyURL)
	form.Set("mac", a.mac(a.cfg.Key1, strings.Join([]string{
		a.cfg.AppID, transID, appUser, amount, appTime, embedData, item,
	}, "|")))

	raw, err := a.postForm(ctx, createPath, form)
	if err != nil {
		return nil, err
	}
	if code := num(raw["return_code"]); code != 1 {
		return nil, &transport.GatewayError{
			Provider: a.Name(),
			Code:     fmt.Sprintf("return_%d", code),
			Message:  "create rejected: " + str(raw["return_message"]),
		}
	}
	return &gateway.InitiateResult{
		GatewayRef: transID,
		PayURL:     str(raw["order_url"]),
		Raw:        raw,
	}, nil
}

// GetStatus calls the query API.
func (a *Adapter) GetStatus(ctx context.Context, gatewayRef string) (*gateway.StatusResult, error) {
	form := url.Values{}
	form.Set("app_id", a.cfg.AppID)
	form.Set("app_trans_id", gatewayRef)
	form.Set("mac", a.mac(a.cfg.Key1, strings.Join([]string{
		a.cfg.AppID, gatewayRef, a.cfg.Key1,
	}, "|")))

	raw, err := a.postForm(ctx, queryPath, form)
	if err != nil {
		return nil, err
	}
	return &gateway.StatusResult{
		Status:     mapReturnCode(num(raw["return_code"])),
		GatewayRef: gatewayRef,
		Raw:        raw,
	}, nil
}

// ProcessRefund calls the refund API. A return code of 3 means the
// refund is still settling on the gateway side.
func (a *Adapter) ProcessRefund(ctx context.Context, input gateway.RefundInput) (*gateway.RefundResult, error) {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	amount := input.Amount.Truncate(0).String()
	refundID := time.Now().Format(dayLayout) + "_" + a.cfg.AppID + "_" + input.RefundNo

	form := url.Values{}
	form.Set("app_id", a.cfg.AppID)
	form.Set("m_refund_id", refundID)
	form.Set("zp_trans_id", input.GatewayRef)
	form.Set("amount", amount)
	form.Set("description", input.Reason)
	form.Set("timestamp", timestamp)
	form.Set("mac", a.mac(a.cfg.Key1, strings.Join([]string{
		a.cfg.AppID, input.GatewayRef, amount, input.Reason, timestamp,
	}, "|")))

	raw, err := a.postForm(ctx, refundPath, form)
	if err != nil {
		return nil, err
	}
	switch num(raw["return_code"]) {
	case 1:
		return &gateway.RefundResult{
			GatewayRefundRef: refundID,
			Status:           constants.RefundStatusCompleted,
			Raw:              raw,
		}, nil
	case 3:
		return &gateway.RefundResult{
			GatewayRefundRef: refundID,
			Status:           constants.RefundStatusProcessing,
			Raw:              raw,
		}, nil
	default:
		return nil, &transport.GatewayError{
			Provider: a.Name(),
			Code:     fmt.Sprintf("return_%d", num(raw["return_code"])),
			Message:  "refund rejected: " + str(raw["return_message"]),
		}
	}
}

// VerifyWebhookSignature checks the callback envelope mac, computed
// with key2 over the opaque data string.
func (a *Adapter) VerifyWebhookSignature(rawPayload []byte, _ string, _ string) bool {
	var envelope struct {
		Data string `json:"data"`
		Mac  string `json:"mac"`
	}
	if err := json.Unmarshal(rawPayload, &envelope); err != nil {
		return false
	}
	if envelope.Data == "" || envelope.Mac == "" {
		return false
	}
	expected := a.mac(a.cfg.Key2, envelope.Data)
	return hmac.Equal([]byte(envelope.Mac), []byte(expected))
}

// ParseWebhookPayload unwraps the callback envelope. ZaloPay only posts
// callbacks for successful payments.
func (a *Adapter) ParseWebhookPayload(rawPayload []byte) (*gateway.WebhookEvent, error) {
	var envelope struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(rawPayload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrResponseInvalid, err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(envelope.Data), &data); err != nil {
		return nil, fmt.Errorf("%w: bad data envelope", gateway.ErrResponseInvalid)
	}
	transID := str(data["app_trans_id"])
	if transID == "" {
		return nil, fmt.Errorf("%w: missing app_trans_id", gateway.ErrResponseInvalid)
	}
	amount := decimal.Zero
	if f, ok := data["amount"].(float64); ok {
		amount = decimal.NewFromFloat(f)
	}
	occurred := time.Now()
	if ms, ok := data["server_time"].(float64); ok && ms > 0 {
		occurred = time.UnixMilli(int64(ms))
	}
	return &gateway.WebhookEvent{
		EventID:    str(data["zp_trans_id"]),
		EventType:  "payment_result",
		GatewayRef: transID,
		Status:     constants.TxnStatusSucceeded,
		Amount:     amount,
		OccurredAt: occurred,
		Raw:        data,
	}, nil
}

// HealthCheck issues a single unsigned query.
func (a *Adapter) HealthCheck(ctx context.Context) string {
	_, err := a.rt.DoOnce(ctx, &transport.Request{
		Method:      "POST",
		URL:         a.cfg.Endpoint + queryPath,
		Body:        []byte("app_id=" + url.QueryEscape(a.cfg.AppID)),
		ContentType: "application/x-www-form-urlencoded",
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

func (a *Adapter) postForm(ctx context.Context, path string, form url.Values) (map[string]interface{}, error) {
	resp, err := a.rt.Do(ctx, &transport.Request{
		Method:      "POST",
		URL:         a.cfg.Endpoint + path,
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
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

func (a *Adapter) mac(key, data string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func mapReturnCode(code int) string {
	switch code {
	case 1:
		return constants.TxnStatusSucceeded
	case 3:
		return constants.TxnStatusProcessing
	default:
		return constants.TxnStatusFailed
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func num(v interface{}) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return -1
}
