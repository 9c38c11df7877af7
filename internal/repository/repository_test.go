package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/models"
)

func setupRepositoryTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repository_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	return db
}

func createTransaction(t *testing.T, db *gorm.DB, no, status string, amount string) *models.PaymentTransaction {
	t.Helper()
	money, err := models.NewMoneyFromString(amount)
	if err != nil {
		t.Fatalf("parse amount failed: %v", err)
	}
	txn := &models.PaymentTransaction{
		TenantID:      "shop-1",
		TransactionNo: no,
		OrderRef:      "ORD-" + no,
		Provider:      constants.ProviderVNPay,
		Amount:        money,
		Currency:      "VND",
		Status:        status,
		GatewayRef:    no,
	}
	if err := db.Create(txn).Error; err != nil {
		t.Fatalf("create transaction failed: %v", err)
	}
	return txn
}

func TestUpdateStatusGuarded(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewTransactionRepository(db)
	txn := createTransaction(t, db, "PAY1", constants.TxnStatusPending, "100")

	moved, err := repo.UpdateStatusGuarded(txn.ID, constants.TxnStatusSucceeded,
		[]string{constants.TxnStatusPending, constants.TxnStatusProcessing}, nil)
	if err != nil {
		t.Fatalf("guarded update failed: %v", err)
	}
	if !moved {
		t.Fatalf("expected transition from pending")
	}

	// the row is no longer in an allowed source state
	moved, err = repo.UpdateStatusGuarded(txn.ID, constants.TxnStatusFailed,
		[]string{constants.TxnStatusPending, constants.TxnStatusProcessing}, nil)
	if err != nil {
		t.Fatalf("guarded update failed: %v", err)
	}
	if moved {
		t.Fatalf("terminal row must not move")
	}

	stored, err := repo.GetByID(txn.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != constants.TxnStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", stored.Status)
	}
	if stored.SucceededAt == nil || stored.FailedAt != nil {
		t.Fatalf("transition stamps wrong: succeeded_at=%v failed_at=%v", stored.SucceededAt, stored.FailedAt)
	}
}

func TestUpdateStatusGuardedExtraColumns(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewTransactionRepository(db)
	txn := createTransaction(t, db, "PAY1", constants.TxnStatusPending, "100")

	moved, err := repo.UpdateStatusGuarded(txn.ID, constants.TxnStatusFailed,
		[]string{constants.TxnStatusPending}, map[string]interface{}{
			"last_error_code":    "result_1001",
			"last_error_message": "insufficient balance",
		})
	if err != nil || !moved {
		t.Fatalf("guarded update failed: moved=%v err=%v", moved, err)
	}
	stored, _ := repo.GetByID(txn.ID)
	if stored.LastErrorCode != "result_1001" || stored.LastErrorMessage != "insufficient balance" {
		t.Fatalf("extra columns not written: %+v", stored)
	}
}

func TestGetByProviderRefTenantScoping(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewTransactionRepository(db)
	createTransaction(t, db, "PAY1", constants.TxnStatusPending, "100")

	if _, err := repo.GetByProviderRef("shop-1", constants.ProviderVNPay, "PAY1"); err != nil {
		t.Fatalf("scoped lookup failed: %v", err)
	}
	if _, err := repo.GetByProviderRef("", constants.ProviderVNPay, "PAY1"); err != nil {
		t.Fatalf("cross-tenant lookup failed: %v", err)
	}
	if _, err := repo.GetByProviderRef("shop-2", constants.ProviderVNPay, "PAY1"); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected not found for wrong tenant, got %v", err)
	}
	if _, err := repo.GetByProviderRef("shop-1", constants.ProviderMoMo, "PAY1"); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected not found for wrong provider, got %v", err)
	}
}

func TestListStalePending(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewTransactionRepository(db)
	stale := createTransaction(t, db, "PAY1", constants.TxnStatusPending, "100")
	createTransaction(t, db, "PAY2", constants.TxnStatusPending, "100")
	done := createTransaction(t, db, "PAY3", constants.TxnStatusSucceeded, "100")

	old := time.Now().Add(-time.Hour)
	for _, id := range []uint{stale.ID, done.ID} {
		if err := db.Model(&models.PaymentTransaction{}).Where("id = ?", id).
			Update("created_at", old).Error; err != nil {
			t.Fatalf("age row failed: %v", err)
		}
	}

	rows, err := repo.ListStalePending(time.Now().Add(-30*time.Minute), 100)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != stale.ID {
		t.Fatalf("expected only the stale pending row, got %d rows", len(rows))
	}
}

func TestTransactionList(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewTransactionRepository(db)
	for i := 0; i < 3; i++ {
		createTransaction(t, db, fmt.Sprintf("PAY%d", i), constants.TxnStatusPending, "100")
	}
	txn := createTransaction(t, db, "PAY9", constants.TxnStatusSucceeded, "100")

	rows, total, err := repo.List(TransactionFilter{TenantID: "shop-1"}, PageQuery{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 4 || len(rows) != 2 {
		t.Fatalf("expected total 4 page of 2, got total %d rows %d", total, len(rows))
	}

	rows, total, err = repo.List(TransactionFilter{
		TenantID: "shop-1", Status: constants.TxnStatusSucceeded,
	}, PageQuery{})
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if total != 1 || rows[0].ID != txn.ID {
		t.Fatalf("status filter broken: total %d", total)
	}
}

func TestWebhookCreateIfAbsent(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewWebhookRecordRepository(db)

	record := &models.WebhookRecord{
		Provider:         constants.ProviderMoMo,
		DedupKey:         "4088878653",
		ProcessingStatus: constants.WebhookStatusProcessed,
	}
	if err := repo.CreateIfAbsent(record); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	replay := &models.WebhookRecord{
		Provider:         constants.ProviderMoMo,
		DedupKey:         "4088878653",
		ProcessingStatus: constants.WebhookStatusProcessed,
	}
	if err := repo.CreateIfAbsent(replay); err != ErrDuplicateWebhook {
		t.Fatalf("expected ErrDuplicateWebhook, got %v", err)
	}

	// same key under a different provider is a distinct notification
	other := &models.WebhookRecord{
		Provider:         constants.ProviderZaloPay,
		DedupKey:         "4088878653",
		ProcessingStatus: constants.WebhookStatusProcessed,
	}
	if err := repo.CreateIfAbsent(other); err != nil {
		t.Fatalf("cross-provider insert failed: %v", err)
	}
}

func TestRefundSumCommitted(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewRefundRepository(db)
	txn := createTransaction(t, db, "PAY1", constants.TxnStatusSucceeded, "100")

	add := func(amount, status string) {
		money, _ := models.NewMoneyFromString(amount)
		refund := &models.Refund{
			TransactionID: txn.ID,
			RefundNo:      "RFD" + amount + status,
			Amount:        money,
			Status:        status,
		}
		if err := db.Create(refund).Error; err != nil {
			t.Fatalf("create refund failed: %v", err)
		}
	}
	add("10", constants.RefundStatusRequested)
	add("20", constants.RefundStatusApproved)
	add("30", constants.RefundStatusProcessing)
	add("15", constants.RefundStatusCompleted)
	add("40", constants.RefundStatusRejected)
	add("40", constants.RefundStatusFailed)

	sum, err := repo.SumCommitted(txn.ID)
	if err != nil {
		t.Fatalf("sum failed: %v", err)
	}
	if !sum.Equal(decimal.NewFromInt(65)) {
		t.Fatalf("expected committed sum 65, got %s", sum.String())
	}
}

func TestRefundUpdateStatusGuarded(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewRefundRepository(db)
	txn := createTransaction(t, db, "PAY1", constants.TxnStatusSucceeded, "100")

	money, _ := models.NewMoneyFromString("50")
	refund := &models.Refund{
		TransactionID: txn.ID,
		RefundNo:      "RFD1",
		Amount:        money,
		Status:        constants.RefundStatusRequested,
	}
	if err := repo.Create(refund); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	moved, err := repo.UpdateStatusGuarded(refund.ID, constants.RefundStatusApproved,
		[]string{constants.RefundStatusRequested}, nil)
	if err != nil || !moved {
		t.Fatalf("approve failed: moved=%v err=%v", moved, err)
	}
	moved, err = repo.UpdateStatusGuarded(refund.ID, constants.RefundStatusApproved,
		[]string{constants.RefundStatusRequested}, nil)
	if err != nil {
		t.Fatalf("second approve errored: %v", err)
	}
	if moved {
		t.Fatalf("approved refund must not approve twice")
	}

	stored, _ := repo.GetByID(refund.ID)
	if stored.ApprovedAt == nil {
		t.Fatalf("expected approved_at to be stamped")
	}
}

func TestPageQueryNormalize(t *testing.T) {
	page := PageQuery{}.Normalize()
	if page.Page != 1 || page.PageSize != 20 {
		t.Fatalf("unexpected defaults %+v", page)
	}
	page = PageQuery{Page: 3, PageSize: 500}.Normalize()
	if page.PageSize != 100 {
		t.Fatalf("page size cap broken: %d", page.PageSize)
	}
	if page.Offset() != 200 {
		t.Fatalf("expected offset 200, got %d", page.Offset())
	}
}

func TestRefundGetByNotificationRef(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewRefundRepository(db)
	txn := createTransaction(t, db, "PAY40", constants.TxnStatusSucceeded, "100")

	amount, _ := models.NewMoneyFromString("40")
	refund := &models.Refund{
		TransactionID:    txn.ID,
		RefundNo:         "RFD40",
		Amount:           amount,
		Status:           constants.RefundStatusProcessing,
		GatewayRefundRef: "GW-40",
	}
	if err := db.Create(refund).Error; err != nil {
		t.Fatalf("create refund failed: %v", err)
	}

	// matched by gateway refund ref
	got, err := repo.GetByNotificationRef("shop-1", constants.ProviderVNPay, []string{"", "GW-40"})
	if err != nil {
		t.Fatalf("lookup by gateway ref failed: %v", err)
	}
	if got.ID != refund.ID {
		t.Fatalf("expected refund %d, got %d", refund.ID, got.ID)
	}

	// matched by refund number
	if _, err := repo.GetByNotificationRef("shop-1", constants.ProviderVNPay, []string{"RFD40"}); err != nil {
		t.Fatalf("lookup by refund number failed: %v", err)
	}

	// provider and tenant scoping
	if _, err := repo.GetByNotificationRef("shop-1", constants.ProviderMoMo, []string{"GW-40"}); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected not found for wrong provider, got %v", err)
	}
	if _, err := repo.GetByNotificationRef("shop-2", constants.ProviderVNPay, []string{"GW-40"}); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected not found for wrong tenant, got %v", err)
	}
	if _, err := repo.GetByNotificationRef("shop-1", constants.ProviderVNPay, []string{""}); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected not found for empty refs, got %v", err)
	}

	// only processing refunds settle by notification
	if err := db.Model(&models.Refund{}).Where("id = ?", refund.ID).
		Update("status", constants.RefundStatusCompleted).Error; err != nil {
		t.Fatalf("move to completed failed: %v", err)
	}
	if _, err := repo.GetByNotificationRef("shop-1", constants.ProviderVNPay, []string{"GW-40"}); err != gorm.ErrRecordNotFound {
		t.Fatalf("expected not found for completed refund, got %v", err)
	}
}

func TestListStalePendingSkipsProcessing(t *testing.T) {
	db := setupRepositoryTest(t)
	repo := NewTransactionRepository(db)
	pending := createTransaction(t, db, "PAY50", constants.TxnStatusPending, "100")
	processing := createTransaction(t, db, "PAY51", constants.TxnStatusProcessing, "100")

	old := time.Now().Add(-time.Hour)
	for _, id := range []uint{pending.ID, processing.ID} {
		if err := db.Model(&models.PaymentTransaction{}).Where("id = ?", id).
			Update("created_at", old).Error; err != nil {
			t.Fatalf("age transaction failed: %v", err)
		}
	}

	stale, err := repo.ListStalePending(time.Now().Add(-30*time.Minute), 100)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != pending.ID {
		t.Fatalf("expected only the pending row, got %d rows", len(stale))
	}
}
