package admin

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vietcart-next/internal/http/response"
	"github.com/vietcart-next/internal/repository"
)

// ListOperationLogs exposes the gateway audit trail.
func (h *Handler) ListOperationLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	filter := repository.OperationLogFilter{
		TenantID:      tenantID(c),
		Provider:      c.Query("provider"),
		OperationType: c.Query("operation_type"),
		TransactionNo: c.Query("transaction_no"),
		CorrelationID: c.Query("correlation_id"),
		OnlyFailed:    c.Query("only_failed") == "true",
	}
	query := repository.PageQuery{Page: page, PageSize: pageSize}.Normalize()
	entries, total, err := h.OperationLogService.List(filter, query)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, entries, response.NewPagination(query.Page, query.PageSize, total))
}
