package main

import (
	"time"

	"github.com/vietcart-next/internal/config"
	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway/registry"
	"github.com/vietcart-next/internal/logger"
	"github.com/vietcart-next/internal/models"
	"github.com/vietcart-next/internal/repository"
	"github.com/vietcart-next/internal/secrets"
	"github.com/vietcart-next/internal/service"
)

// Seeds sandbox gateway configurations for the platform tenant so a
// fresh install can take test payments immediately.
func main() {
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()

	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns: cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns: cfg.Database.Pool.MaxIdleConns,
	}); err != nil {
		stdLog.Fatalf("database init failed: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("database migration failed: %v", err)
	}

	resolver, err := secrets.NewResolver(cfg.Payment.CredentialMasterKey)
	if err != nil {
		stdLog.Fatalf("secrets init failed: %v", err)
	}
	repo := repository.NewGatewayConfigRepository(models.DB)
	reg := registry.New(repo, resolver, time.Duration(cfg.Payment.RequestTimeoutSeconds)*time.Second)
	configs := service.NewGatewayConfigService(repo, reg, resolver)

	webhookSecret := "sepay-sandbox-apikey"
	seeds := []service.UpsertInput{
		{
			Provider:    constants.ProviderVNPay,
			DisplayName: "VNPay (sandbox)",
			IsActive:    true,
			SortOrder:   10,
			Environment: constants.GatewayEnvSandbox,
			Credentials: map[string]string{
				"tmn_code":    "DEMOTMN1",
				"hash_secret": "DEMOSECRETDEMOSECRETDEMOSECRET12",
				"pay_url":     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
				"api_url":     "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction",
			},
			SupportedCurrencies: []string{"VND"},
		},
		{
			Provider:    constants.ProviderMoMo,
			DisplayName: "MoMo (sandbox)",
			IsActive:    true,
			SortOrder:   20,
			Environment: constants.GatewayEnvSandbox,
			Credentials: map[string]string{
				"partner_code": "MOMODEMO",
				"access_key":   "demo-access-key",
				"secret_key":   "demo-secret-key",
				"endpoint":     "https://test-payment.momo.vn",
			},
			SupportedCurrencies: []string{"VND"},
		},
		{
			Provider:    constants.ProviderZaloPay,
			DisplayName: "ZaloPay (sandbox)",
			IsActive:    true,
			SortOrder:   30,
			Environment: constants.GatewayEnvSandbox,
			Credentials: map[string]string{
				"app_id":   "2553",
				"key1":     "demo-key1",
				"key2":     "demo-key2",
				"endpoint": "https://sb-openapi.zalopay.vn",
			},
			SupportedCurrencies: []string{"VND"},
		},
		{
			Provider:    constants.ProviderSePay,
			DisplayName: "SePay bank transfer (sandbox)",
			IsActive:    true,
			SortOrder:   40,
			Environment: constants.GatewayEnvSandbox,
			Credentials: map[string]string{
				"api_token":      "demo-api-token",
				"account_number": "0123456789",
				"bank_code":      "VCB",
				"account_name":   "VIETCART DEMO",
			},
			WebhookSecret:       &webhookSecret,
			SupportedCurrencies: []string{"VND"},
		},
		{
			Provider:            constants.ProviderCOD,
			DisplayName:         "Cash on delivery",
			IsActive:            true,
			SortOrder:           50,
			Environment:         constants.GatewayEnvSandbox,
			Credentials:         map[string]string{},
			SupportedCurrencies: []string{"VND"},
		},
	}

	for _, seed := range seeds {
		seed.TenantID = constants.PlatformTenantID
		if _, err := configs.Upsert(seed); err != nil {
			stdLog.Fatalf("seed %s failed: %v", seed.Provider, err)
		}
		stdLog.Printf("seeded gateway config: %s", seed.Provider)
	}
}
