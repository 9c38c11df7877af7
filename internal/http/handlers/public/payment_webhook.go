package public

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/vietcart-next/internal/http/response"
	"github.com/vietcart-next/internal/service"
)

const maxWebhookBody = 1 << 20

// HandleWebhook ingests one provider notification. Providers that
// deliver via query string (hosted-page IPN) arrive with an empty body;
// the query string is the payload then. Only an authentication failure
// produces a non-success response, so gateways retry exactly the
// deliveries worth retrying.
func (h *Handler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable payload")
		return
	}
	if len(payload) == 0 {
		payload = []byte(c.Request.URL.RawQuery)
	}

	result, err := h.WebhookService.Process(c.Request.Context(), service.WebhookInput{
		Provider:        c.Param("provider"),
		TenantID:        c.Param("tenant_id"),
		RawPayload:      payload,
		SignatureHeader: c.GetHeader("Authorization"),
	})
	if err != nil {
		if errors.Is(err, service.ErrWebhookSignature) {
			response.Unauthorized(c, "signature verification failed")
			return
		}
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"status":         result.Status,
		"transaction_no": result.TransactionNo,
	})
}

// ListProviders returns the provider names the platform can run.
func (h *Handler) ListProviders(c *gin.Context) {
	response.Success(c, h.GatewayConfigService.Providers())
}
