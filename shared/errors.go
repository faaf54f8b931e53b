package shared

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCategory groups pipeline failures by what went wrong rather than
// where. Scrapers and API clients raise network and timeout errors,
// normalization raises validation and processing errors, and startup
// raises configuration errors.
type ErrorCategory string

const (
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryValidation    ErrorCategory = "validation"
	ErrorCategoryProcessing    ErrorCategory = "processing"
	ErrorCategoryTimeout       ErrorCategory = "timeout"
)

// ServiceError carries enough context to tell which stage of the
// pipeline failed on which operation, and whether retrying is worth it.
type ServiceError struct {
	Category    ErrorCategory `json:"category"`
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	Timestamp   time.Time     `json:"timestamp"`
	ServiceName string        `json:"service_name"`
	Operation   string        `json:"operation"`
	Retryable   bool          `json:"retryable"`
	Cause       error         `json:"-"` // Original error, not serialized
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a new service error
func NewServiceError(category ErrorCategory, code, message, serviceName, operation string, retryable bool, cause error) *ServiceError {
	return &ServiceError{
		Category:    category,
		Code:        code,
		Message:     message,
		Timestamp:   time.Now(),
		ServiceName: serviceName,
		Operation:   operation,
		Retryable:   retryable,
		Cause:       cause,
	}
}

// IsRetryableError reports whether retrying the failed operation could
// succeed. ServiceErrors carry the answer explicitly; for anything else
// the message is matched against common transient failure wording.
func IsRetryableError(err error) bool {
	if serviceErr, ok := err.(*ServiceError); ok {
		return serviceErr.Retryable
	}

	errorMsg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout", "connection refused", "connection reset",
		"temporary failure", "service unavailable", "too many requests",
		"network", "dns", "socket",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errorMsg, pattern) {
			return true
		}
	}
	return false
}
