package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vietcart-next/internal/cache"
	"github.com/vietcart-next/internal/constants"
	"github.com/vietcart-next/internal/gateway/registry"
	"github.com/vietcart-next/internal/logger"
	"github.com/vietcart-next/internal/repository"
)

const healthCacheTTL = 5 * time.Minute

// HealthService probes configured gateways and records the outcome on
// the configuration row, with a short-lived cache in front for routing
// decisions.
type HealthService struct {
	configs  *repository.GatewayConfigRepository
	registry *registry.Registry
	oplog    *OperationLogService
}

func NewHealthService(configs *repository.GatewayConfigRepository, reg *registry.Registry, oplog *OperationLogService) *HealthService {
	return &HealthService{configs: configs, registry: reg, oplog: oplog}
}

// CheckAll probes every active configuration once. Probe failures are
// recorded, never retried within a sweep.
func (s *HealthService) CheckAll(ctx context.Context) error {
	configs, err := s.configs.ListActive()
	if err != nil {
		return err
	}
	for i := range configs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cfg := &configs[i]
		status := s.probe(ctx, cfg.TenantID, cfg.Provider)
		if err := s.configs.UpdateHealth(cfg.ID, status, time.Now()); err != nil {
			logger.Errorw("gateway_health_persist_failed",
				"provider", cfg.Provider, "tenant_id", cfg.TenantID, "error", err.Error())
			continue
		}
		_ = cache.SetString(ctx, healthKey(cfg.TenantID, cfg.Provider), status, healthCacheTTL)
	}
	return nil
}

func (s *HealthService) probe(ctx context.Context, tenantID, provider string) string {
	entry := s.oplog.Start(constants.OperationHealthCheck, provider, tenantID)
	adapter, _, err := s.registry.ForTenant(tenantID, provider)
	if err != nil {
		entry.CompleteFailure("provider_unavailable", err.Error(), 0, nil)
		return constants.GatewayHealthUnknown
	}
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	status := adapter.HealthCheck(probeCtx)
	entry.CompleteSuccess(0, map[string]interface{}{"health": status})
	if status != constants.GatewayHealthHealthy {
		logger.Warnw("gateway_unhealthy",
			"provider", provider, "tenant_id", tenantID, "health", status)
	}
	return status
}

// Status returns the cached health for routing, falling back to the
// stored row and finally to unknown. Unknown never blocks a payment.
func (s *HealthService) Status(ctx context.Context, tenantID, provider string) string {
	if val, hit, err := cache.GetString(ctx, healthKey(tenantID, provider)); err == nil && hit {
		return val
	}
	cfg, err := s.configs.GetByTenantAndProvider(tenantID, provider)
	if err != nil {
		return constants.GatewayHealthUnknown
	}
	return cfg.HealthStatus
}

func healthKey(tenantID, provider string) string {
	return fmt.Sprintf("gateway:health:%s:%s", tenantID, provider)
}
