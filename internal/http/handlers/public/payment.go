package public

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vietcart-next/internal/http/response"
	"github.com/vietcart-next/internal/models"
	"github.com/vietcart-next/internal/repository"
	"github.com/vietcart-next/internal/service"
)

type initiatePaymentRequest struct {
	OrderRef    string `json:"order_ref" binding:"required"`
	Provider    string `json:"provider" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
	Description string `json:"description"`
	ReturnURL   string `json:"return_url"`
}

// InitiatePayment starts a payment attempt.
func (h *Handler) InitiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	amount, err := models.NewMoneyFromString(req.Amount)
	if err != nil {
		response.BadRequest(c, "invalid amount")
		return
	}
	txn, err := h.PaymentService.InitiatePayment(c.Request.Context(), service.InitiatePaymentInput{
		TenantID:    tenantID(c),
		OrderRef:    req.OrderRef,
		Provider:    req.Provider,
		Amount:      amount,
		Currency:    req.Currency,
		Description: req.Description,
		ClientIP:    c.ClientIP(),
		ReturnURL:   req.ReturnURL,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, txn)
}

// GetPayment returns a payment, reconciling with the gateway when the
// caller asks for it.
func (h *Handler) GetPayment(c *gin.Context) {
	reconcile := c.Query("reconcile") == "true"
	txn, err := h.PaymentService.GetPaymentStatus(
		c.Request.Context(), tenantID(c), c.Param("transaction_no"), reconcile)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, txn)
}

// ListPayments returns the tenant's payment journal.
func (h *Handler) ListPayments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	filter := repository.TransactionFilter{
		TenantID: tenantID(c),
		Provider: c.Query("provider"),
		Status:   c.Query("status"),
		OrderRef: c.Query("order_ref"),
	}
	query := repository.PageQuery{Page: page, PageSize: pageSize}.Normalize()
	txns, total, err := h.PaymentService.ListPayments(filter, query)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, txns, response.NewPagination(query.Page, query.PageSize, total))
}

// CancelPayment cancels an open payment.
func (h *Handler) CancelPayment(c *gin.Context) {
	txn, err := h.PaymentService.CancelPayment(tenantID(c), c.Param("transaction_no"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, txn)
}

type confirmManualRequest struct {
	Collected bool   `json:"collected"`
	Note      string `json:"note"`
}

// ConfirmManualPayment settles a cash-on-delivery payment.
func (h *Handler) ConfirmManualPayment(c *gin.Context) {
	var req confirmManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	txn, err := h.PaymentService.ConfirmManualPayment(
		tenantID(c), c.Param("transaction_no"), req.Collected, req.Note)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, txn)
}

type requestRefundRequest struct {
	Amount string `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

// RequestRefund opens a refund against a payment.
func (h *Handler) RequestRefund(c *gin.Context) {
	var req requestRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	amount, err := models.NewMoneyFromString(req.Amount)
	if err != nil {
		response.BadRequest(c, "invalid amount")
		return
	}
	refund, err := h.PaymentService.RequestRefund(
		tenantID(c), c.Param("transaction_no"), amount, req.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, refund)
}

// ListRefunds returns the refunds of one payment.
func (h *Handler) ListRefunds(c *gin.Context) {
	refunds, err := h.PaymentService.ListRefunds(tenantID(c), c.Param("transaction_no"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, refunds)
}

// GetRefund returns one refund.
func (h *Handler) GetRefund(c *gin.Context) {
	refund, err := h.PaymentService.GetRefund(tenantID(c), c.Param("refund_no"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, refund)
}

// ApproveRefund approves a requested refund.
func (h *Handler) ApproveRefund(c *gin.Context) {
	refund, err := h.PaymentService.ApproveRefund(tenantID(c), c.Param("refund_no"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, refund)
}

type rejectRefundRequest struct {
	Reason string `json:"reason"`
}

// RejectRefund closes a requested refund without executing it.
func (h *Handler) RejectRefund(c *gin.Context) {
	var req rejectRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	refund, err := h.PaymentService.RejectRefund(tenantID(c), c.Param("refund_no"), req.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, refund)
}

// ProcessRefund executes an approved refund at the gateway.
func (h *Handler) ProcessRefund(c *gin.Context) {
	refund, err := h.PaymentService.ProcessRefund(c.Request.Context(), tenantID(c), c.Param("refund_no"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, refund)
}

type completeRefundRequest struct {
	GatewayRefundRef string `json:"gateway_refund_ref"`
}

// CompleteRefund settles a processing refund confirmed out of band,
// for providers that never send a refund notification.
func (h *Handler) CompleteRefund(c *gin.Context) {
	var req completeRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	refund, err := h.PaymentService.SettleRefund(tenantID(c), c.Param("refund_no"), req.GatewayRefundRef)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, refund)
}
