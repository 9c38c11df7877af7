package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway"
	"github.com/vietcart-next/internal/gateway/cod"
	"github.com/vietcart-next/internal/gateway/momo"
	"github.com/vietcart-next/internal/gateway/sepay"
	"github.com/vietcart-next/internal/gateway/transport"
	"github.com/vietcart-next/internal/gateway/vnpay"
	"github.com/vietcart-next/internal/gateway/zalopay"
	"github.com/vietcart-next/internal/models"
	"github.com/vietcart-next/internal/repository"
	"github.com/vietcart-next/internal/secrets"
)

var (
	// ErrUnknownProvider marks a provider name no adapter claims.
	ErrUnknownProvider = errors.New("registry: unknown provider")
	// ErrProviderNotConfigured marks a tenant without a usable config
	// for the requested provider.
	ErrProviderNotConfigured = errors.New("registry: provider not configured for tenant")
	// ErrProviderDisabled marks a config a tenant has switched off.
	ErrProviderDisabled = errors.New("registry: provider disabled for tenant")
)

type factory func(rt *transport.Client, creds gateway.Credentials) (gateway.Provider, error)

// Registry resolves provider adapters. Adapters are built per call from
// the tenant's decrypted credentials; transport clients are shared per
// provider so breaker state survives across calls.
type Registry struct {
	configs  *repository.GatewayConfigRepository
	resolver *secrets.Resolver
	timeout  time.Duration

	mu         sync.Mutex
	transports map[string]*transport.Client
	factories  map[string]factory
}

// New builds a registry over the stored gateway configurations.
func New(configs *repository.GatewayConfigRepository, resolver *secrets.Resolver, timeout time.Duration) *Registry {
	r := &Registry{
		configs:    configs,
		resolver:   resolver,
		timeout:    timeout,
		transports: make(map[string]*transport.Client),
	}
	r.factories = map[string]factory{
		constants.ProviderVNPay: func(rt *transport.Client, creds gateway.Credentials) (gateway.Provider, error) {
			return vnpay.New(rt, creds)
		},
		constants.ProviderMoMo: func(rt *transport.Client, creds gateway.Credentials) (gateway.Provider, error) {
			return momo.New(rt, creds)
		},
		constants.ProviderZaloPay: func(rt *transport.Client, creds gateway.Credentials) (gateway.Provider, error) {
			return zalopay.New(rt, creds)
		},
		constants.ProviderSePay: func(rt *transport.Client, creds gateway.Credentials) (gateway.Provider, error) {
			return sepay.New(rt, creds)
		},
		constants.ProviderCOD: func(_ *transport.Client, _ gateway.Credentials) (gateway.Provider, error) {
			return cod.New(), nil
		},
	}
	return r
}

// Names returns every registered provider name.
func (r *Registry) Names() []string {
	return []string{
		constants.ProviderVNPay,
		constants.ProviderMoMo,
		constants.ProviderZaloPay,
		constants.ProviderSePay,
		constants.ProviderCOD,
	}
}

// Supported reports whether an adapter exists for the name.
func (r *Registry) Supported(provider string) bool {
	_, ok := r.factories[provider]
	return ok
}

// Get builds the named adapter with no tenant credentials, without
// touching stored configurations. An unknown name yields
// ErrUnknownProvider; adapters that cannot exist without credentials
// yield gateway.ErrCredentialsInvalid. Callers that need a configured
// adapter use ForTenant.
func (r *Registry) Get(provider string) (gateway.Provider, error) {
	build, ok := r.factories[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return build(r.transport(provider), gateway.Credentials{})
}

// ForTenant resolves the adapter and stored configuration a tenant uses
// for one provider. A tenant without its own row falls back to the
// platform default row.
func (r *Registry) ForTenant(tenantID, provider string) (gateway.Provider, *models.GatewayConfig, error) {
	if !r.Supported(provider) {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	cfg, err := r.lookupConfig(tenantID, provider)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.IsActive {
		return nil, nil, fmt.Errorf("%w: %s", ErrProviderDisabled, provider)
	}
	adapter, err := r.FromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	return adapter, cfg, nil
}

// FromConfig builds an adapter directly from a stored configuration.
// The health sweep uses this to probe disabled-tenant fallbacks too.
func (r *Registry) FromConfig(cfg *models.GatewayConfig) (gateway.Provider, error) {
	build, ok := r.factories[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
	creds := gateway.Credentials{}
	if cfg.Credentials != "" {
		plaintext, err := r.resolver.Decrypt(cfg.TenantID, cfg.Credentials)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrCredentialsInvalid, err)
		}
		creds, err = gateway.ParseCredentials(plaintext)
		if err != nil {
			return nil, err
		}
	}
	return build(r.transport(cfg.Provider), creds)
}

func (r *Registry) lookupConfig(tenantID, provider string) (*models.GatewayConfig, error) {
	cfg, err := r.configs.GetByTenantAndProvider(tenantID, provider)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if tenantID != constants.PlatformTenantID {
		cfg, err = r.configs.GetByTenantAndProvider(constants.PlatformTenantID, provider)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
}

// transport returns the shared per-provider client, building it on
// first use.
func (r *Registry) transport(provider string) *transport.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.transports[provider]; ok {
		return c
	}
	c := transport.New(provider, transport.Options{Timeout: r.timeout})
	r.transports[provider] = c
	return c
}
