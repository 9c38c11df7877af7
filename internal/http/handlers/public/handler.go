package public

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/vietcart-next/internal/gateway"
	"github.com/vietcart-next/internal/gateway/registry"
	"github.com/vietcart-next/internal/http/response"
	"github.com/vietcart-next/internal/provider"
	"github.com/vietcart-next/internal/service"
)

const tenantHeader = "X-Tenant-ID"

// Handler serves the payment-facing API.
type Handler struct {
	*provider.Container
}

// New builds the public handler group.
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

func tenantID(c *gin.Context) string {
	return c.GetHeader(tenantHeader)
}

// respondServiceError maps service failures onto the response envelope.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTransactionNotFound),
		errors.Is(err, service.ErrRefundNotFound),
		errors.Is(err, service.ErrConfigNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrAmountInvalid),
		errors.Is(err, service.ErrAmountOutOfRange),
		errors.Is(err, service.ErrCurrencyNotSupported),
		errors.Is(err, service.ErrManualOnly),
		errors.Is(err, registry.ErrUnknownProvider),
		errors.Is(err, registry.ErrProviderNotConfigured),
		errors.Is(err, registry.ErrProviderDisabled):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrTransactionNotPayable),
		errors.Is(err, service.ErrRefundNotRefundable),
		errors.Is(err, service.ErrRefundExceedsAmount),
		errors.Is(err, service.ErrRefundInvalidState):
		response.Conflict(c, err.Error())
	case errors.Is(err, gateway.ErrCredentialsInvalid):
		response.Error(c, response.CodeInternal, "gateway credentials unusable")
	default:
		response.Error(c, response.CodeInternal, err.Error())
	}
}
