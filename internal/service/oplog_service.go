package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/vietcart-next/internal/logger"
	"github.com/vietcart-next/internal/models"
	"github.com/vietcart-next/internal/repository"
)

// OperationLogService records the audit trail around every gateway
// interaction. Logging is best effort: a failed write never fails the
// payment operation it describes.
type OperationLogService struct {
	repo *repository.OperationLogRepository
}

func NewOperationLogService(repo *repository.OperationLogRepository) *OperationLogService {
	return &OperationLogService{repo: repo}
}

// OperationEntry is one in-flight audit record. Start opens it,
// CompleteSuccess or CompleteFailure closes it.
type OperationEntry struct {
	svc   *OperationLogService
	row   *models.OperationLog
	start time.Time
}

// Start opens an audit record with a fresh correlation id.
func (s *OperationLogService) Start(operationType, provider, tenantID string) *OperationEntry {
	row := &models.OperationLog{
		CorrelationID: uuid.NewString(),
		OperationType: operationType,
		Provider:      provider,
		TenantID:      tenantID,
	}
	if err := s.repo.Create(row); err != nil {
		logger.Errorw("operation_log_create_failed",
			"operation", operationType, "provider", provider, "error", err.Error())
	}
	return &OperationEntry{svc: s, row: row, start: time.Now()}
}

// CorrelationID returns the id shared by log lines of this operation.
func (e *OperationEntry) CorrelationID() string { return e.row.CorrelationID }

// SetTransaction attaches the payment number.
func (e *OperationEntry) SetTransaction(transactionNo string) *OperationEntry {
	e.row.TransactionNo = transactionNo
	return e
}

// SetRefund attaches the refund number.
func (e *OperationEntry) SetRefund(refundNo string) *OperationEntry {
	e.row.RefundNo = refundNo
	return e
}

// SetRequest attaches the outbound payload, already stripped of
// credentials by the caller.
func (e *OperationEntry) SetRequest(data models.JSON) *OperationEntry {
	e.row.RequestData = data
	return e
}

// AddContext attaches a free-form context value.
func (e *OperationEntry) AddContext(key string, value interface{}) *OperationEntry {
	if e.row.ContextData == nil {
		e.row.ContextData = models.JSON{}
	}
	e.row.ContextData[key] = value
	return e
}

// CompleteSuccess closes the record as succeeded.
func (e *OperationEntry) CompleteSuccess(httpStatus int, response models.JSON) {
	e.finish(true, httpStatus, response, "", "")
}

// CompleteFailure closes the record as failed.
func (e *OperationEntry) CompleteFailure(errorCode, errorMessage string, httpStatus int, response models.JSON) {
	e.finish(false, httpStatus, response, errorCode, errorMessage)
}

func (e *OperationEntry) finish(success bool, httpStatus int, response models.JSON, errorCode, errorMessage string) {
	now := time.Now()
	e.row.Success = success
	e.row.HTTPStatus = httpStatus
	e.row.ResponseData = response
	e.row.ErrorCode = errorCode
	e.row.ErrorMessage = errorMessage
	e.row.DurationMS = now.Sub(e.start).Milliseconds()
	e.row.CompletedAt = &now
	if err := e.svc.repo.Update(e.row); err != nil {
		logger.Errorw("operation_log_update_failed",
			"correlation_id", e.row.CorrelationID, "error", err.Error())
	}
}

// List exposes the audit trail with filtering and paging.
func (s *OperationLogService) List(filter repository.OperationLogFilter, page repository.PageQuery) ([]models.OperationLog, int64, error) {
	return s.repo.List(filter, page)
}
