package vnpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway"
	"github.com/vietcart-next/internal/gateway/transport"
)

const (
	version     = "2.1.0"
	timeLayout  = "20060102150405"
	orderType   = "other"
	locale      = "vn"
	expireAfter = 15 * time.Minute
)

// Config is the credential set for a VNPay merchant.
type Config struct {
	TmnCode    string // merchant terminal code
	HashSecret string // HMAC-SHA512 secret
	PayURL     string // hosted payment page endpoint
	APIURL     string // merchant API endpoint (querydr, refund)
}

// Adapter talks to the VNPay hosted-page gateway.
type Adapter struct {
	cfg Config
	rt  *transport.Client
}

// New builds an adapter from decrypted credentials.
func New(rt *transport.Client, creds gateway.Credentials) (*Adapter, error) {
	cfg := Config{
		TmnCode:    creds.Get("tmn_code"),
		HashSecret: creds.Get("hash_secret"),
		PayURL:     creds.Get("pay_url"),
		APIURL:     creds.Get("api_url"),
	}
	if cfg.TmnCode == "" || cfg.HashSecret == "" || cfg.PayURL == "" {
		return nil, fmt.Errorf("%w: vnpay requires tmn_code, hash_secret, pay_url", gateway.ErrCredentialsInvalid)
	}
	return &Adapter{cfg: cfg, rt: rt}, nil
}

func (a *Adapter) Name() string              { return constants.ProviderVNPay }
func (a *Adapter) WeaklyAuthenticated() bool { return false }

// InitiatePayment builds the signed hosted-page redirect URL. VNPay has
// no create API call; the signed URL is the whole handshake.
func (a *Adapter) InitiatePayment(_ context.Context, input gateway.InitiateInput) (*gateway.InitiateResult, error) {
	now := time.Now()
	params := map[string]string{
		"vnp_Version":    version,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    a.cfg.TmnCode,
		"vnp_Amount":     minorUnits(input.Amount),
		"vnp_CurrCode":   input.Currency,
		"vnp_TxnRef":     input.TransactionNo,
		"vnp_OrderInfo":  input.Description,
		"vnp_OrderType":  orderType,
		"vnp_Locale":     locale,
		"vnp_ReturnUrl":  input.ReturnURL,
		"vnp_IpAddr":     input.ClientIP,
		"vnp_CreateDate": now.Format(timeLayout),
		"vnp_ExpireDate": now.Add(expireAfter).Format(timeLayout),
	}
	query := canonicalQuery(params)
	sig := sign(a.cfg.HashSecret, query)
	return &gateway.InitiateResult{
		GatewayRef: input.TransactionNo,
		PayURL:     a.cfg.PayURL + "?" + query + "&vnp_SecureHash=" + sig,
	}, nil
}

// GetStatus calls the querydr merchant API.
func (a *Adapter) GetStatus(ctx context.Context, gatewayRef string) (*gateway.StatusResult, error) {
	if a.cfg.APIURL == "" {
		return nil, gateway.ErrNotSupported
	}
	requestID := uuid.NewString()
	createDate := time.Now().Format(timeLayout)
	orderInfo := "status query " + gatewayRef
	payload := map[string]string{
		"vnp_RequestId":       requestID,
		"vnp_Version":         version,
		"vnp_Command":         "querydr",
		"vnp_TmnCode":         a.cfg.TmnCode,
		"vnp_TxnRef":          gatewayRef,
		"vnp_OrderInfo":       orderInfo,
		"vnp_TransactionDate": createDate,
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          "127.0.0.1",
	}
	payload["vnp_SecureHash"] = sign(a.cfg.HashSecret, strings.Join([]string{
		requestID, version, "querydr", a.cfg.TmnCode, gatewayRef,
		createDate, createDate, "127.0.0.1", orderInfo,
	}, "|"))

	raw, err := a.postJSON(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &gateway.StatusResult{
		Status:     mapStatus(str(raw["vnp_ResponseCode"]), str(raw["vnp_TransactionStatus"])),
		GatewayRef: gatewayRef,
		Raw:        raw,
	}, nil
}

// ProcessRefund calls the refund merchant API. VNPay executes refunds
// asynchronously, so success means processing.
func (a *Adapter) ProcessRefund(ctx context.Context, input gateway.RefundInput) (*gateway.RefundResult, error) {
	if a.cfg.APIURL == "" {
		return nil, gateway.ErrNotSupported
	}
	requestID := uuid.NewString()
	createDate := time.Now().Format(timeLayout)
	amount := minorUnits(input.Amount)
	payload := map[string]string{
		"vnp_RequestId":       requestID,
		"vnp_Version":         version,
		"vnp_Command":         "refund",
		"vnp_TmnCode":         a.cfg.TmnCode,
		"vnp_TransactionType": "03",
		"vnp_TxnRef":          input.GatewayRef,
		"vnp_Amount":          amount,
		"vnp_OrderInfo":       input.Reason,
		"vnp_TransactionDate": createDate,
		"vnp_CreateBy":        "system",
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          "127.0.0.1",
	}
	payload["vnp_SecureHash"] = sign(a.cfg.HashSecret, strings.Join([]string{
		requestID, version, "refund", a.cfg.TmnCode, "03", input.GatewayRef,
		amount, "", createDate, "system", createDate, "127.0.0.1", input.Reason,
	}, "|"))

	raw, err := a.postJSON(ctx, payload)
	if err != nil {
		return nil, err
	}
	if code := str(raw["vnp_ResponseCode"]); code != "00" {
		return nil, &transport.GatewayError{
			Provider: a.Name(),
			Code:     code,
			Message:  "refund rejected: " + str(raw["vnp_Message"]),
		}
	}
	return &gateway.RefundResult{
		GatewayRefundRef: str(raw["vnp_TransactionNo"]),
		Status:           constants.RefundStatusProcessing,
		Raw:              raw,
	}, nil
}

// VerifyWebhookSignature checks the IPN secure hash. The raw payload is
// the IPN query string.
func (a *Adapter) VerifyWebhookSignature(rawPayload []byte, _ string, _ string) bool {
	values, err := url.ParseQuery(string(rawPayload))
	if err != nil {
		return false
	}
	received := values.Get("vnp_SecureHash")
	if received == "" {
		return false
	}
	values.Del("vnp_SecureHash")
	values.Del("vnp_SecureHashType")
	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}
	expected := sign(a.cfg.HashSecret, canonicalQuery(params))
	return hmac.Equal([]byte(strings.ToLower(received)), []byte(expected))
}

// ParseWebhookPayload maps an IPN query string to the canonical event.
func (a *Adapter) ParseWebhookPayload(rawPayload []byte) (*gateway.WebhookEvent, error) {
	values, err := url.ParseQuery(string(rawPayload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrResponseInvalid, err)
	}
	txnRef := values.Get("vnp_TxnRef")
	if txnRef == "" {
		return nil, fmt.Errorf("%w: missing vnp_TxnRef", gateway.ErrResponseInvalid)
	}
	amount, err := decimal.NewFromString(values.Get("vnp_Amount"))
	if err != nil {
		return nil, fmt.Errorf("%w: bad vnp_Amount", gateway.ErrResponseInvalid)
	}
	occurred := time.Now()
	if t, err := time.ParseInLocation(timeLayout, values.Get("vnp_PayDate"), time.Local); err == nil {
		occurred = t
	}
	raw := make(map[string]interface{}, len(values))
	for k := range values {
		raw[k] = values.Get(k)
	}
	return &gateway.WebhookEvent{
		EventID:    values.Get("vnp_TransactionNo"),
		EventType:  "payment_result",
		GatewayRef: txnRef,
		Status:     mapStatus(values.Get("vnp_ResponseCode"), values.Get("vnp_TransactionStatus")),
		Amount:     amount.Div(decimal.NewFromInt(100)),
		OccurredAt: occurred,
		Raw:        raw,
	}, nil
}

// HealthCheck probes the hosted page with a single unretried request.
func (a *Adapter) HealthCheck(ctx context.Context) string {
	_, err := a.rt.DoOnce(ctx, &transport.Request{Method: "GET", URL: a.cfg.PayURL})
	switch {
	case err == nil:
		return constants.GatewayHealthHealthy
	case transport.IsTransient(err):
		return constants.GatewayHealthDown
	default:
		return constants.GatewayHealthDegraded
	}
}

func (a *Adapter) postJSON(ctx context.Context, payload map[string]string) (map[string]interface{}, error) {
	body, _ := json.Marshal(payload)
	resp, err := a.rt.Do(ctx, &transport.Request{
		Method:      "POST",
		URL:         a.cfg.APIURL,
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

// canonicalQuery sorts keys and url-encodes values the way the secure
// hash expects.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

func sign(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// minorUnits renders an amount multiplied by 100 with no decimal point.
func minorUnits(amount decimal.Decimal) string {
	return amount.Mul(decimal.NewFromInt(100)).Truncate(0).String()
}

func mapStatus(responseCode, transactionStatus string) string {
	switch transactionStatus {
	case "00":
		return constants.TxnStatusSucceeded
	case "01", "04", "05", "06":
		return constants.TxnStatusProcessing
	}
	switch responseCode {
	case "00":
		return constants.TxnStatusSucceeded
	case "24":
		return constants.TxnStatusCancelled
	case "01", "04", "05", "06":
		return constants.TxnStatusProcessing
	default:
		return constants.TxnStatusFailed
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
