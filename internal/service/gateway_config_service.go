package service

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway/registry"
	"github.com/vietcart-next/internal/logger"
	"github.com/vietcart-next/internal/models"
	"github.com/vietcart-next/internal/repository"
	"github.com/vietcart-next/internal/secrets"
)

// GatewayConfigService manages per-tenant provider configurations.
// Credentials are encrypted before they reach storage and never leave
// this service in plaintext.
type GatewayConfigService struct {
	repo     *repository.GatewayConfigRepository
	registry *registry.Registry
	resolver *secrets.Resolver
}

func NewGatewayConfigService(repo *repository.GatewayConfigRepository, reg *registry.Registry, resolver *secrets.Resolver) *GatewayConfigService {
	return &GatewayConfigService{repo: repo, registry: reg, resolver: resolver}
}

// UpsertInput carries a configuration write. Credentials nil means
// keep the stored ciphertext; an empty map clears it.
type UpsertInput struct {
	TenantID            string
	Provider            string
	DisplayName         string
	IsActive            bool
	SortOrder           int
	Environment         string
	Credentials         map[string]string
	WebhookSecret       *string
	MinAmount           models.Money
	MaxAmount           models.Money
	SupportedCurrencies []string
}

// Upsert creates or replaces the tenant's configuration for a provider.
func (s *GatewayConfigService) Upsert(input UpsertInput) (*models.GatewayConfig, error) {
	if !s.registry.Supported(input.Provider) {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnknownProvider, input.Provider)
	}
	if input.Environment == "" {
		input.Environment = constants.GatewayEnvSandbox
	}
	if input.Environment != constants.GatewayEnvSandbox && input.Environment != constants.GatewayEnvProduction {
		return nil, fmt.Errorf("invalid environment %q", input.Environment)
	}

	cfg, err := s.repo.GetByTenantAndProvider(input.TenantID, input.Provider)
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return nil, err
	}
	if isNew {
		cfg = &models.GatewayConfig{
			TenantID: input.TenantID,
			Provider: input.Provider,
		}
	}

	cfg.DisplayName = input.DisplayName
	cfg.IsActive = input.IsActive
	cfg.SortOrder = input.SortOrder
	cfg.Environment = input.Environment
	cfg.MinAmount = input.MinAmount
	cfg.MaxAmount = input.MaxAmount
	cfg.SupportedCurrencies = input.SupportedCurrencies
	if input.WebhookSecret != nil {
		cfg.WebhookSecret = *input.WebhookSecret
	}
	if input.Credentials != nil {
		plaintext, err := json.Marshal(input.Credentials)
		if err != nil {
			return nil, err
		}
		ciphertext, err := s.resolver.Encrypt(input.TenantID, plaintext)
		if err != nil {
			return nil, fmt.Errorf("encrypt credentials: %w", err)
		}
		cfg.Credentials = ciphertext
		// fresh credentials invalidate whatever the last probe saw
		cfg.HealthStatus = constants.GatewayHealthUnknown
	}

	if isNew {
		err = s.repo.Create(cfg)
	} else {
		err = s.repo.Update(cfg)
	}
	if err != nil {
		return nil, err
	}
	logger.Infow("gateway_config_saved",
		"tenant_id", input.TenantID, "provider", input.Provider, "active", input.IsActive)
	return cfg, nil
}

// Get loads one configuration.
func (s *GatewayConfigService) Get(tenantID, provider string) (*models.GatewayConfig, error) {
	cfg, err := s.repo.GetByTenantAndProvider(tenantID, provider)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConfigNotFound
	}
	return cfg, err
}

// List returns the tenant's configurations.
func (s *GatewayConfigService) List(tenantID string, activeOnly bool) ([]models.GatewayConfig, error) {
	return s.repo.ListByTenant(tenantID, activeOnly)
}

// SetActive flips a configuration on or off.
func (s *GatewayConfigService) SetActive(tenantID, provider string, active bool) (*models.GatewayConfig, error) {
	cfg, err := s.Get(tenantID, provider)
	if err != nil {
		return nil, err
	}
	cfg.IsActive = active
	if err := s.repo.Update(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Delete removes a configuration.
func (s *GatewayConfigService) Delete(tenantID, provider string) error {
	cfg, err := s.Get(tenantID, provider)
	if err != nil {
		return err
	}
	return s.repo.Delete(cfg.ID)
}

// Providers lists every provider name the platform can run.
func (s *GatewayConfigService) Providers() []string {
	return s.registry.Names()
}
