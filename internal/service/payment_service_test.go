package service

import (
	"context"
	"encoding/json"
	"fmt"
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

const testMasterKey = "test-master-key-0123456789abcdef"

type recordingNotifier struct {
	changes []string
}

func (n *recordingNotifier) PaymentStatusChanged(txn *models.PaymentTransaction) {
	n.changes = append(n.changes, txn.TransactionNo+":"+txn.Status)
}

func setupPaymentServiceTest(t *testing.T) (*PaymentService, *gorm.DB, *recordingNotifier) {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	oplogRepo := repository.NewOperationLogRepository(db)
	reg := registry.New(configRepo, resolver, 5*time.Second)
	notifier := &recordingNotifier{}

	svc := NewPaymentService(txnRepo, refundRepo, reg, NewOperationLogService(oplogRepo), notifier,
		config.PaymentConfig{ExpireMinutes: 15, CredentialMasterKey: testMasterKey})
	return svc, db, notifier
}

func createTestGatewayConfig(t *testing.T, db *gorm.DB, tenantID, provider string, creds map[string]string, mutate func(*models.GatewayConfig)) {
	t.Helper()
	cfg := &models.GatewayConfig{
		TenantID:    tenantID,
		Provider:    provider,
		DisplayName: provider + " test",
		IsActive:    true,
		Environment: constants.GatewayEnvSandbox,
	}
	if len(creds) > 0 {
		resolver, err := secrets.NewResolver(testMasterKey)
		if err != nil {
			t.Fatalf("resolver init failed: %v", err)
		}
		plaintext, _ := json.Marshal(creds)
		ciphertext, err := resolver.Encrypt(tenantID, plaintext)
		if err != nil {
			t.Fatalf("encrypt creds failed: %v", err)
		}
		cfg.Credentials = ciphertext
	}
	if mutate != nil {
		mutate(cfg)
	}
	if err := db.Create(cfg).Error; err != nil {
		t.Fatalf("create gateway config failed: %v", err)
	}
}

func TestGenerateTransactionNumberFormat(t *testing.T) {
	no := GenerateTransactionNumber()
	if !strings.HasPrefix(no, "PAY") {
		t.Fatalf("expected PAY prefix, got %s", no)
	}
	if len(no) != 3+14+6 {
		t.Fatalf("unexpected length %d for %s", len(no), no)
	}
	if no == GenerateTransactionNumber() && no == GenerateTransactionNumber() {
		t.Fatalf("numbers do not vary: %s", no)
	}
}

func TestInitiatePaymentManualProvider(t *testing.T) {
	svc, db, _ := setupPaymentServiceTest(t)
	createTestGatewayConfig(t, db, "shop-1", constants.ProviderCOD, nil, nil)

	amount, _ := models.NewMoneyFromString("150000")
	txn, err := svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		TenantID: "shop-1",
		OrderRef: "ORD-1",
		Provider: constants.ProviderCOD,
		Amount:   amount,
		Currency: "VND",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if txn.Status != constants.TxnStatusPending {
		t.Fatalf("expected pending, got %s", txn.Status)
	}
	if txn.Instructions == "" || !strings.Contains(txn.Instructions, txn.TransactionNo) {
		t.Fatalf("expected instructions referencing %s, got %q", txn.TransactionNo, txn.Instructions)
	}
	if txn.GatewayRef != txn.TransactionNo {
		t.Fatalf("expected gateway ref %s, got %s", txn.TransactionNo, txn.GatewayRef)
	}
}

func TestInitiatePaymentRejectsUnconfiguredProvider(t *testing.T) {
	svc, _, _ := setupPaymentServiceTest(t)
	amount, _ := models.NewMoneyFromString("1000")
	_, err := svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		TenantID: "shop-1",
		OrderRef: "ORD-1",
		Provider: constants.ProviderVNPay,
		Amount:   amount,
		Currency: "VND",
	})
	if err == nil {
		t.Fatalf("expected error for unconfigured provider")
	}
}

func TestInitiatePaymentAmountLimits(t *testing.T) {
	svc, db, _ := setupPaymentServiceTest(t)
	minAmount, _ := models.NewMoneyFromString("10000")
	maxAmount, _ := models.NewMoneyFromString("500000")
	createTestGatewayConfig(t, db, "shop-1", constants.ProviderCOD, nil, func(cfg *models.GatewayConfig) {
		cfg.MinAmount = minAmount
		cfg.MaxAmount = maxAmount
		cfg.SupportedCurrencies = models.StringArray{"VND"}
	})

	tooSmall, _ := models.NewMoneyFromString("5000")
	if _, err := svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		TenantID: "shop-1", OrderRef: "O1", Provider: constants.ProviderCOD,
		Amount: tooSmall, Currency: "VND",
	}); err != ErrAmountOutOfRange {
		t.Fatalf("expected ErrAmountOutOfRange, got %v", err)
	}

	tooBig, _ := models.NewMoneyFromString("600000")
	if _, err := svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		TenantID: "shop-1", OrderRef: "O2", Provider: constants.ProviderCOD,
		Amount: tooBig, Currency: "VND",
	}); err != ErrAmountOutOfRange {
		t.Fatalf("expected ErrAmountOutOfRange, got %v", err)
	}

	wrongCurrency, _ := models.NewMoneyFromString("20000")
	if _, err := svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		TenantID: "shop-1", OrderRef: "O3", Provider: constants.ProviderCOD,
		Amount: wrongCurrency, Currency: "USD",
	}); err != ErrCurrencyNotSupported {
		t.Fatalf("expected ErrCurrencyNotSupported, got %v", err)
	}
}

func TestApplyStatusForwardOnly(t *testing.T) {
	svc, db, notifier := setupPaymentServiceTest(t)
	createTestGatewayConfig(t, db, "shop-1", constants.ProviderCOD, nil, nil)
	amount, _ := models.NewMoneyFromString("100")
	txn, err := svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		TenantID: "shop-1", OrderRef: "O1", Provider: constants.ProviderCOD,
		Amount: amount, Currency: "VND",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}

	moved, err := svc.ApplyStatus(txn, constants.TxnStatusSucceeded, "", "")
	if err != nil || !moved {
		t.Fatalf("expected transition to succeeded, moved=%v err=%v", moved, err)
	}

	// terminal state never moves again
	moved, err = svc.ApplyStatus(txn, constants.TxnStatusFailed, "", "")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if moved {
		t.Fatalf("succeeded payment must not move to failed")
	}

	stored, err := svc.GetPayment("shop-1", txn.TransactionNo)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != constants.TxnStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", stored.Status)
	}
	if stored.SucceededAt == nil {
		t.Fatalf("expected succeeded_at to be stamped")
	}
	if len(notifier.changes) == 0 {
		t.Fatalf("expected a status change notification")
	}
}

func TestConfirmManualPayment(t *testing.T) {
	svc, db, _ := setupPaymentServiceTest(t)
	createTestGatewayConfig(t, db, "shop-1", constants.ProviderCOD, nil, nil)
	amount, _ := models.NewMoneyFromString("100")
	txn, err := svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		TenantID: "shop-1", OrderRef: "O1", Provider: constants.ProviderCOD,
		Amount: amount, Currency: "VND",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}

	confirmed, err := svc.ConfirmManualPayment("shop-1", txn.TransactionNo, true, "")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if confirmed.Status != constants.TxnStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", confirmed.Status)
	}

	if _, err := svc.ConfirmManualPayment("shop-1", txn.TransactionNo, true, ""); err != ErrTransactionNotPayable {
		t.Fatalf("expected ErrTransactionNotPayable on second confirm, got %v", err)
	}
}

func TestCancelPayment(t *testing.T) {
	svc, db, _ := setupPaymentServiceTest(t)
	createTestGatewayConfig(t, db, "shop-1", constants.ProviderCOD, nil, nil)
	amount, _ := models.NewMoneyFromString("100")
	txn, err := svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		TenantID: "shop-1", OrderRef: "O1", Provider: constants.ProviderCOD,
		Amount: amount, Currency: "VND",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}

	cancelled, err := svc.CancelPayment("shop-1", txn.TransactionNo)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != constants.TxnStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	if _, err := svc.CancelPayment("shop-1", txn.TransactionNo); err != ErrTransactionNotPayable {
		t.Fatalf("expected ErrTransactionNotPayable, got %v", err)
	}
}

func TestExpireStalePayments(t *testing.T) {
	svc, db, _ := setupPaymentServiceTest(t)
	createTestGatewayConfig(t, db, "shop-1", constants.ProviderCOD, nil, nil)
	amount, _ := models.NewMoneyFromString("100")

	stale, err := svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		TenantID: "shop-1", OrderRef: "O1", Provider: constants.ProviderCOD,
		Amount: amount, Currency: "VND",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	fresh, err := svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		TenantID: "shop-1", OrderRef: "O2", Provider: constants.ProviderCOD,
		Amount: amount, Currency: "VND",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := db.Model(&models.PaymentTransaction{}).Where("id = ?", stale.ID).
		Update("created_at", old).Error; err != nil {
		t.Fatalf("age transaction failed: %v", err)
	}

	expired, err := svc.ExpireStalePayments(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired, got %d", expired)
	}

	got, _ := svc.GetPayment("shop-1", stale.TransactionNo)
	if got.Status != constants.TxnStatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
	got, _ = svc.GetPayment("shop-1", fresh.TransactionNo)
	if got.Status != constants.TxnStatusPending {
		t.Fatalf("expected fresh payment untouched, got %s", got.Status)
	}
}

func TestExpireStalePaymentsSkipsProcessing(t *testing.T) {
	svc, db, _ := setupPaymentServiceTest(t)
	createTestGatewayConfig(t, db, "shop-1", constants.ProviderCOD, nil, nil)
	amount, _ := models.NewMoneyFromString("100")

	txn, err := svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		TenantID: "shop-1", OrderRef: "O1", Provider: constants.ProviderCOD,
		Amount: amount, Currency: "VND",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if moved, err := svc.ApplyStatus(txn, constants.TxnStatusProcessing, "", ""); err != nil || !moved {
		t.Fatalf("expected transition to processing, moved=%v err=%v", moved, err)
	}
	old := time.Now().Add(-time.Hour)
	if err := db.Model(&models.PaymentTransaction{}).Where("id = ?", txn.ID).
		Update("created_at", old).Error; err != nil {
		t.Fatalf("age transaction failed: %v", err)
	}

	expired, err := svc.ExpireStalePayments(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if expired != 0 {
		t.Fatalf("sweep must not expire a processing payment, expired %d", expired)
	}

	got, _ := svc.GetPayment("shop-1", txn.TransactionNo)
	if got.Status != constants.TxnStatusProcessing {
		t.Fatalf("expected processing, got %s", got.Status)
	}

	// the gateway result still settles the payment afterwards
	if moved, err := svc.ApplyStatus(got, constants.TxnStatusSucceeded, "", ""); err != nil || !moved {
		t.Fatalf("expected transition to succeeded, moved=%v err=%v", moved, err)
	}

	// expiry never applies to a processing payment even when forced
	fresh2, err := svc.InitiatePayment(context.Background(), InitiatePaymentInput{
		TenantID: "shop-1", OrderRef: "O2", Provider: constants.ProviderCOD,
		Amount: amount, Currency: "VND",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if moved, err := svc.ApplyStatus(fresh2, constants.TxnStatusProcessing, "", ""); err != nil || !moved {
		t.Fatalf("expected transition to processing, moved=%v err=%v", moved, err)
	}
	if moved, _ := svc.ApplyStatus(fresh2, constants.TxnStatusExpired, "", ""); moved {
		t.Fatalf("expired must not apply to a processing payment")
	}
}
