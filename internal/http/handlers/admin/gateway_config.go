package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/vietcart-next/internal/http/response"
	"github.com/vietcart-next/internal/models"
	"github.com/vietcart-next/internal/service"
)

type upsertGatewayConfigRequest struct {
	Provider            string            `json:"provider" binding:"required"`
	DisplayName         string            `json:"display_name" binding:"required"`
	IsActive            bool              `json:"is_active"`
	SortOrder           int               `json:"sort_order"`
	Environment         string            `json:"environment"`
	Credentials         map[string]string `json:"credentials"`
	WebhookSecret       *string           `json:"webhook_secret"`
	MinAmount           string            `json:"min_amount"`
	MaxAmount           string            `json:"max_amount"`
	SupportedCurrencies []string          `json:"supported_currencies"`
}

// UpsertGatewayConfig creates or replaces a provider configuration.
// Credentials arrive in plaintext here and leave encrypted; the stored
// row never echoes them back.
func (h *Handler) UpsertGatewayConfig(c *gin.Context) {
	var req upsertGatewayConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	minAmount, err := parseOptionalMoney(req.MinAmount)
	if err != nil {
		response.BadRequest(c, "invalid min_amount")
		return
	}
	maxAmount, err := parseOptionalMoney(req.MaxAmount)
	if err != nil {
		response.BadRequest(c, "invalid max_amount")
		return
	}
	cfg, err := h.GatewayConfigService.Upsert(service.UpsertInput{
		TenantID:            tenantID(c),
		Provider:            req.Provider,
		DisplayName:         req.DisplayName,
		IsActive:            req.IsActive,
		SortOrder:           req.SortOrder,
		Environment:         req.Environment,
		Credentials:         req.Credentials,
		WebhookSecret:       req.WebhookSecret,
		MinAmount:           minAmount,
		MaxAmount:           maxAmount,
		SupportedCurrencies: req.SupportedCurrencies,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, cfg)
}

// ListGatewayConfigs returns the tenant's provider configurations.
func (h *Handler) ListGatewayConfigs(c *gin.Context) {
	configs, err := h.GatewayConfigService.List(tenantID(c), c.Query("active") == "true")
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, configs)
}

// GetGatewayConfig returns one provider configuration.
func (h *Handler) GetGatewayConfig(c *gin.Context) {
	cfg, err := h.GatewayConfigService.Get(tenantID(c), c.Param("provider"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, cfg)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetGatewayConfigActive flips a configuration on or off.
func (h *Handler) SetGatewayConfigActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	cfg, err := h.GatewayConfigService.SetActive(tenantID(c), c.Param("provider"), req.Active)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, cfg)
}

// DeleteGatewayConfig removes a provider configuration.
func (h *Handler) DeleteGatewayConfig(c *gin.Context) {
	if err := h.GatewayConfigService.Delete(tenantID(c), c.Param("provider")); err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetGatewayHealth returns the last known health of one provider.
func (h *Handler) GetGatewayHealth(c *gin.Context) {
	status := h.HealthService.Status(c.Request.Context(), tenantID(c), c.Param("provider"))
	response.Success(c, gin.H{"provider": c.Param("provider"), "health": status})
}

// RunGatewayHealthCheck probes every active configuration now.
func (h *Handler) RunGatewayHealthCheck(c *gin.Context) {
	if err := h.HealthService.CheckAll(c.Request.Context()); err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, nil)
}

func parseOptionalMoney(s string) (models.Money, error) {
	if s == "" {
		return models.Money{}, nil
	}
	return models.NewMoneyFromString(s)
}
