package service

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
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/vietcart-next/internal/config"
	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway/registry"
	"github.com/vietcart-next/internal/models"
	"github.com/vietcart-next/internal/repository"
	"github.com/vietcart-next/internal/secrets"
)

const sepayWebhookSecret = "sepay-test-apikey"

func setupWebhookServiceTest(t *testing.T) (*WebhookService, *PaymentService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:webhook_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.GatewayConfig{},
		&models.PaymentTransaction{},
		&models.Refund{},
		&models.OperationLog{},
		&models.WebhookRecord{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	models.DB = db

	resolver, err := secrets.NewResolver(testMasterKey)
	if err != nil {
		t.Fatalf("resolver init failed: %v", err)
	}
	configRepo := repository.NewGatewayConfigRepository(db)
	txnRepo := repository.NewTransactionRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	recordRepo := repository.NewWebhookRecordRepository(db)
	oplogRepo := repository.NewOperationLogRepository(db)
	reg := registry.New(configRepo, resolver, 5*time.Second)
	oplog := NewOperationLogService(oplogRepo)

	payments := NewPaymentService(txnRepo, refundRepo, reg, oplog, nil,
		config.PaymentConfig{ExpireMinutes: 15, CredentialMasterKey: testMasterKey})
	webhooks := NewWebhookService(reg, txnRepo, recordRepo, payments, oplog)

	createTestGatewayConfig(t, db, "shop-1", constants.ProviderSePay, map[string]string{
		"api_token":      "token-1",
		"account_number": "0123456789",
		"bank_code":      "VPBank",
	}, func(cfg *models.GatewayConfig) {
		cfg.WebhookSecret = sepayWebhookSecret
	})
	return webhooks, payments, db
}

func createSePayPayment(t *testing.T, db *gorm.DB, amount string) *models.PaymentTransaction {
	t.Helper()
	money, err := models.NewMoneyFromString(amount)
	if err != nil {
		t.Fatalf("parse amount failed: %v", err)
	}
	txn := &models.PaymentTransaction{
		TenantID:      "shop-1",
		TransactionNo: GenerateTransactionNumber(),
		OrderRef:      "ORD-1",
		Provider:      constants.ProviderSePay,
		Amount:        money,
		Currency:      "VND",
		Status:        constants.TxnStatusPending,
	}
	txn.GatewayRef = txn.TransactionNo
	if err := db.Create(txn).Error; err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}
	return txn
}

func sepayTransferPayload(t *testing.T, id int64, memo, amount string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":              id,
		"transferType":    "in",
		"transferAmount":  json.Number(amount),
		"content":         memo,
		"referenceCode":   fmt.Sprintf("FT%d", id),
		"transactionDate": time.Now().Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}
	return raw
}

func TestWebhookProcessMatchesAndApplies(t *testing.T) {
	webhooks, _, db := setupWebhookServiceTest(t)
	txn := createSePayPayment(t, db, "250000")

	payload := sepayTransferPayload(t, 1001, "CK "+txn.TransactionNo+" thanh toan", "250000")
	result, err := webhooks.Process(context.Background(), WebhookInput{
		Provider:        constants.ProviderSePay,
		TenantID:        "shop-1",
		RawPayload:      payload,
		SignatureHeader: "Apikey " + sepayWebhookSecret,
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Status != constants.WebhookStatusProcessed {
		t.Fatalf("expected processed, got %s (%s)", result.Status, result.Note)
	}
	if result.TransactionNo != txn.TransactionNo {
		t.Fatalf("expected match to %s, got %s", txn.TransactionNo, result.TransactionNo)
	}

	var stored models.PaymentTransaction
	if err := db.First(&stored, txn.ID).Error; err != nil {
		t.Fatalf("load transaction failed: %v", err)
	}
	if stored.Status != constants.TxnStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", stored.Status)
	}
}

func TestWebhookProcessDeduplicates(t *testing.T) {
	webhooks, _, db := setupWebhookServiceTest(t)
	txn := createSePayPayment(t, db, "100000")

	payload := sepayTransferPayload(t, 2002, txn.TransactionNo, "100000")
	input := WebhookInput{
		Provider:        constants.ProviderSePay,
		TenantID:        "shop-1",
		RawPayload:      payload,
		SignatureHeader: "Apikey " + sepayWebhookSecret,
	}
	if _, err := webhooks.Process(context.Background(), input); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	result, err := webhooks.Process(context.Background(), input)
	if err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}
	if result.Status != constants.WebhookStatusDuplicate {
		t.Fatalf("expected duplicate, got %s", result.Status)
	}

	var count int64
	if err := db.Model(&models.WebhookRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count records failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single webhook record, got %d", count)
	}
}

func TestWebhookProcessSignatureFailure(t *testing.T) {
	webhooks, _, db := setupWebhookServiceTest(t)
	txn := createSePayPayment(t, db, "100000")

	payload := sepayTransferPayload(t, 3003, txn.TransactionNo, "100000")
	_, err := webhooks.Process(context.Background(), WebhookInput{
		Provider:        constants.ProviderSePay,
		TenantID:        "shop-1",
		RawPayload:      payload,
		SignatureHeader: "Apikey wrong-key",
	})
	if err != ErrWebhookSignature {
		t.Fatalf("expected ErrWebhookSignature, got %v", err)
	}

	var record models.WebhookRecord
	if err := db.First(&record).Error; err != nil {
		t.Fatalf("load record failed: %v", err)
	}
	if record.ProcessingStatus != constants.WebhookStatusRejected || record.SignatureVerified {
		t.Fatalf("expected unverified rejected record, got %s verified=%v",
			record.ProcessingStatus, record.SignatureVerified)
	}

	var stored models.PaymentTransaction
	if err := db.First(&stored, txn.ID).Error; err != nil {
		t.Fatalf("load transaction failed: %v", err)
	}
	if stored.Status != constants.TxnStatusPending {
		t.Fatalf("payment must stay pending after rejected webhook, got %s", stored.Status)
	}
}

func TestWebhookProcessUnmatched(t *testing.T) {
	webhooks, _, _ := setupWebhookServiceTest(t)

	payload := sepayTransferPayload(t, 4004, "PAY20250101000000999999", "50000")
	result, err := webhooks.Process(context.Background(), WebhookInput{
		Provider:        constants.ProviderSePay,
		TenantID:        "shop-1",
		RawPayload:      payload,
		SignatureHeader: "Apikey " + sepayWebhookSecret,
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Status != constants.WebhookStatusUnmatched {
		t.Fatalf("expected unmatched, got %s", result.Status)
	}
}

func TestWebhookProcessAmountMismatch(t *testing.T) {
	webhooks, _, db := setupWebhookServiceTest(t)
	txn := createSePayPayment(t, db, "100000")

	payload := sepayTransferPayload(t, 5005, txn.TransactionNo, "90000")
	result, err := webhooks.Process(context.Background(), WebhookInput{
		Provider:        constants.ProviderSePay,
		TenantID:        "shop-1",
		RawPayload:      payload,
		SignatureHeader: "Apikey " + sepayWebhookSecret,
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Status != constants.WebhookStatusRejected {
		t.Fatalf("expected rejected, got %s", result.Status)
	}

	var stored models.PaymentTransaction
	if err := db.First(&stored, txn.ID).Error; err != nil {
		t.Fatalf("load transaction failed: %v", err)
	}
	if stored.Status != constants.TxnStatusPending {
		t.Fatalf("payment must stay pending on amount mismatch, got %s", stored.Status)
	}
}

func TestWebhookProcessMalformedPayloadAcknowledged(t *testing.T) {
	webhooks, _, _ := setupWebhookServiceTest(t)

	result, err := webhooks.Process(context.Background(), WebhookInput{
		Provider:        constants.ProviderSePay,
		TenantID:        "shop-1",
		RawPayload:      []byte("{not json"),
		SignatureHeader: "Apikey " + sepayWebhookSecret,
	})
	if err != nil {
		t.Fatalf("malformed payload must be acknowledged, got %v", err)
	}
	if result.Status != constants.WebhookStatusSkipped {
		t.Fatalf("expected skipped, got %s", result.Status)
	}
}

func TestWebhookProcessIdempotentAfterTerminal(t *testing.T) {
	webhooks, payments, db := setupWebhookServiceTest(t)
	txn := createSePayPayment(t, db, "100000")
	if _, err := payments.ApplyStatus(txn, constants.TxnStatusSucceeded, "", ""); err != nil {
		t.Fatalf("apply succeeded failed: %v", err)
	}

	payload := sepayTransferPayload(t, 6006, txn.TransactionNo, "100000")
	result, err := webhooks.Process(context.Background(), WebhookInput{
		Provider:        constants.ProviderSePay,
		TenantID:        "shop-1",
		RawPayload:      payload,
		SignatureHeader: "Apikey " + sepayWebhookSecret,
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Status != constants.WebhookStatusProcessed || result.Note != "no transition applied" {
		t.Fatalf("expected processed with no transition, got %s (%q)", result.Status, result.Note)
	}
}

const vnpayHashSecret = "vnpay-test-secret"

func createVNPayConfig(t *testing.T, db *gorm.DB, hashSecret string) {
	t.Helper()
	createTestGatewayConfig(t, db, "shop-1", constants.ProviderVNPay, map[string]string{
		"tmn_code":    "TESTTMN1",
		"hash_secret": hashSecret,
		"pay_url":     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
	}, nil)
}

func createVNPayPayment(t *testing.T, db *gorm.DB, amount, status string) *models.PaymentTransaction {
	t.Helper()
	money, err := models.NewMoneyFromString(amount)
	if err != nil {
		t.Fatalf("parse amount failed: %v", err)
	}
	txn := &models.PaymentTransaction{
		TenantID:      "shop-1",
		TransactionNo: GenerateTransactionNumber(),
		OrderRef:      "ORD-2",
		Provider:      constants.ProviderVNPay,
		Amount:        money,
		Currency:      "VND",
		Status:        status,
	}
	txn.GatewayRef = txn.TransactionNo
	if err := db.Create(txn).Error; err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}
	return txn
}

func createProcessingRefund(t *testing.T, db *gorm.DB, txn *models.PaymentTransaction, amount, gatewayRefundRef string) *models.Refund {
	t.Helper()
	money, err := models.NewMoneyFromString(amount)
	if err != nil {
		t.Fatalf("parse amount failed: %v", err)
	}
	refund := &models.Refund{
		TransactionID:    txn.ID,
		RefundNo:         GenerateRefundNumber(),
		Amount:           money,
		Status:           constants.RefundStatusProcessing,
		GatewayRefundRef: gatewayRefundRef,
	}
	if err := db.Create(refund).Error; err != nil {
		t.Fatalf("create refund failed: %v", err)
	}
	return refund
}

// vnpaySignedIPN renders a signed IPN query string: sorted keys, empty
// values dropped, HMAC-SHA512 over the url-encoded form.
func vnpaySignedIPN(t *testing.T, secret string, params map[string]string) []byte {
	t.Helper()
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			keys = append(keys, k)
		}
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
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return []byte(b.String() + "&vnp_SecureHash=" + hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookProcessCompletesRefund(t *testing.T) {
	webhooks, _, db := setupWebhookServiceTest(t)
	createVNPayConfig(t, db, vnpayHashSecret)
	txn := createVNPayPayment(t, db, "100000", constants.TxnStatusSucceeded)
	refund := createProcessingRefund(t, db, txn, "40000", "7001001")

	payload := vnpaySignedIPN(t, vnpayHashSecret, map[string]string{
		"vnp_TmnCode":           "TESTTMN1",
		"vnp_TxnRef":            txn.TransactionNo,
		"vnp_Amount":            "4000000",
		"vnp_TransactionNo":     "7001001",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
	})
	result, err := webhooks.Process(context.Background(), WebhookInput{
		Provider:   constants.ProviderVNPay,
		TenantID:   "shop-1",
		RawPayload: payload,
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Status != constants.WebhookStatusProcessed || result.RefundNo != refund.RefundNo {
		t.Fatalf("expected processed refund %s, got %s (%s)", refund.RefundNo, result.Status, result.RefundNo)
	}

	var stored models.Refund
	if err := db.First(&stored, refund.ID).Error; err != nil {
		t.Fatalf("load refund failed: %v", err)
	}
	if stored.Status != constants.RefundStatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("expected completed_at to be stamped")
	}

	var record models.WebhookRecord
	if err := db.First(&record).Error; err != nil {
		t.Fatalf("load record failed: %v", err)
	}
	if record.RefundID == nil || *record.RefundID != refund.ID {
		t.Fatalf("expected record linked to refund %d, got %v", refund.ID, record.RefundID)
	}

	// the original payment is untouched by a refund notification
	var payment models.PaymentTransaction
	if err := db.First(&payment, txn.ID).Error; err != nil {
		t.Fatalf("load transaction failed: %v", err)
	}
	if payment.Status != constants.TxnStatusSucceeded {
		t.Fatalf("expected payment to stay succeeded, got %s", payment.Status)
	}
}

func TestWebhookProcessFailsRefundOnFailureEvent(t *testing.T) {
	webhooks, _, db := setupWebhookServiceTest(t)
	createVNPayConfig(t, db, vnpayHashSecret)
	txn := createVNPayPayment(t, db, "100000", constants.TxnStatusSucceeded)
	refund := createProcessingRefund(t, db, txn, "40000", "7001002")

	payload := vnpaySignedIPN(t, vnpayHashSecret, map[string]string{
		"vnp_TmnCode":           "TESTTMN1",
		"vnp_TxnRef":            txn.TransactionNo,
		"vnp_Amount":            "4000000",
		"vnp_TransactionNo":     "7001002",
		"vnp_ResponseCode":      "99",
		"vnp_TransactionStatus": "02",
	})
	result, err := webhooks.Process(context.Background(), WebhookInput{
		Provider:   constants.ProviderVNPay,
		TenantID:   "shop-1",
		RawPayload: payload,
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Status != constants.WebhookStatusProcessed {
		t.Fatalf("expected processed, got %s", result.Status)
	}

	var stored models.Refund
	if err := db.First(&stored, refund.ID).Error; err != nil {
		t.Fatalf("load refund failed: %v", err)
	}
	if stored.Status != constants.RefundStatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.LastErrorCode != "gateway_refund_failed" {
		t.Fatalf("expected failure cause recorded, got %q", stored.LastErrorCode)
	}
}

func TestWebhookRedeliveryAfterSecretRotation(t *testing.T) {
	webhooks, _, db := setupWebhookServiceTest(t)
	createVNPayConfig(t, db, vnpayHashSecret)
	txn := createVNPayPayment(t, db, "100000", constants.TxnStatusPending)

	// no vnp_TransactionNo: the dedup key falls back to the payload hash
	payload := vnpaySignedIPN(t, "rotated-secret", map[string]string{
		"vnp_TmnCode":           "TESTTMN1",
		"vnp_TxnRef":            txn.TransactionNo,
		"vnp_Amount":            "10000000",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
	})
	input := WebhookInput{
		Provider:   constants.ProviderVNPay,
		TenantID:   "shop-1",
		RawPayload: payload,
	}
	if _, err := webhooks.Process(context.Background(), input); err != ErrWebhookSignature {
		t.Fatalf("expected ErrWebhookSignature before rotation, got %v", err)
	}

	// rotate the stored credentials to the secret the gateway signs with
	resolver, err := secrets.NewResolver(testMasterKey)
	if err != nil {
		t.Fatalf("resolver init failed: %v", err)
	}
	plaintext, _ := json.Marshal(map[string]string{
		"tmn_code":    "TESTTMN1",
		"hash_secret": "rotated-secret",
		"pay_url":     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
	})
	ciphertext, err := resolver.Encrypt("shop-1", plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if err := db.Model(&models.GatewayConfig{}).
		Where("tenant_id = ? AND provider = ?", "shop-1", constants.ProviderVNPay).
		Update("credentials", ciphertext).Error; err != nil {
		t.Fatalf("rotate credentials failed: %v", err)
	}

	result, err := webhooks.Process(context.Background(), input)
	if err != nil {
		t.Fatalf("redelivery after rotation failed: %v", err)
	}
	if result.Status != constants.WebhookStatusProcessed {
		t.Fatalf("redelivery must apply, got %s (%s)", result.Status, result.Note)
	}

	var stored models.PaymentTransaction
	if err := db.First(&stored, txn.ID).Error; err != nil {
		t.Fatalf("load transaction failed: %v", err)
	}
	if stored.Status != constants.TxnStatusSucceeded {
		t.Fatalf("expected succeeded after redelivery, got %s", stored.Status)
	}
}
