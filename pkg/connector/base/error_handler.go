package base

import (
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/errors"
)

// ErrorHandler applies the per-item failure policy of write batches and
// decides which read failures are worth retrying.
type ErrorHandler struct {
	logger      *zap.Logger
	failFast    bool
	errorCounts map[string]int64
	errorMutex  sync.RWMutex
	totalErrors int64
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger, failFast bool) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{
		logger:      logger,
		failFast:    failFast,
		errorCounts: make(map[string]int64),
	}
}

// FailFast reports whether a batch stops at its first failed item.
func (eh *ErrorHandler) FailFast() bool {
	return eh.failFast
}

// HandleItemError records a failed item. It logs the offending column and
// request payload when the error carries them.
func (eh *ErrorHandler) HandleItemError(op string, id int64, err error) {
	if err == nil {
		return
	}
	atomic.AddInt64(&eh.totalErrors, 1)

	category := eh.categorizeError(err)
	eh.incrementErrorCount(category)

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("error_type", category),
		zap.Error(err),
	}
	if id != 0 {
		fields = append(fields, zap.Int64("id", id))
	}
	if column, ok := errors.GetDetail(err, errors.DetailColumn); ok {
		fields = append(fields, zap.Any("column", column))
	}
	if payload, ok := errors.GetDetail(err, errors.DetailPayload); ok {
		fields = append(fields, zap.Any("payload", payload))
	}

	if eh.failFast {
		eh.logger.Error("item failed", fields...)
		return
	}
	eh.logger.Warn("item failed, continuing", fields...)
}

// ShouldRetry determines if a failed read should be retried. Rate limit
// errors are not retried: the quota window is an hour long.
func (eh *ErrorHandler) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return errors.IsType(err, errors.ErrorTypeConnection) ||
		errors.IsType(err, errors.ErrorTypeTimeout)
}

// GetErrorStats returns error statistics
func (eh *ErrorHandler) GetErrorStats() map[string]interface{} {
	eh.errorMutex.RLock()
	defer eh.errorMutex.RUnlock()

	errorCounts := make(map[string]int64, len(eh.errorCounts))
	for k, v := range eh.errorCounts {
		errorCounts[k] = v
	}
	return map[string]interface{}{
		"total_errors":   atomic.LoadInt64(&eh.totalErrors),
		"errors_by_type": errorCounts,
	}
}

// ResetStats resets error statistics
func (eh *ErrorHandler) ResetStats() {
	eh.errorMutex.Lock()
	defer eh.errorMutex.Unlock()

	atomic.StoreInt64(&eh.totalErrors, 0)
	eh.errorCounts = make(map[string]int64)
}

// categorizeError determines the error category
func (eh *ErrorHandler) categorizeError(err error) string {
	for _, t := range []errors.ErrorType{
		errors.ErrorTypeValidation,
		errors.ErrorTypeAuthentication,
		errors.ErrorTypeRateLimit,
		errors.ErrorTypeNotFound,
		errors.ErrorTypeConnection,
		errors.ErrorTypeTimeout,
		errors.ErrorTypeAPI,
		errors.ErrorTypeConfig,
		errors.ErrorTypeData,
	} {
		if errors.IsType(err, t) {
			return string(t)
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "context canceled"):
		return "cancelled"
	case strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	default:
		return "unknown"
	}
}

func (eh *ErrorHandler) incrementErrorCount(errorType string) {
	eh.errorMutex.Lock()
	defer eh.errorMutex.Unlock()
	eh.errorCounts[errorType]++
}
