package admin

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/vietcart-next/internal/gateway/registry"
	"github.com/vietcart-next/internal/http/response"
	"github.com/vietcart-next/internal/provider"
	"github.com/vietcart-next/internal/service"
)

const tenantHeader = "X-Tenant-ID"

// Handler serves the operator-facing API.
type Handler struct {
	*provider.Container
}

// New builds the admin handler group.
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

func tenantID(c *gin.Context) string {
	return c.GetHeader(tenantHeader)
}

func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrConfigNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, registry.ErrUnknownProvider):
		response.BadRequest(c, err.Error())
	default:
		response.Error(c, response.CodeInternal, err.Error())
	}
}
