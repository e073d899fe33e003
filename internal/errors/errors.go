// Package errors defines the error taxonomy shared by the adapters, the tax
// engine and the API layer. Every error carries a category, a stable code and
// an HTTP status so handlers can map failures without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryNetwork represents node/provider communication errors
	CategoryNetwork ErrorCategory = "network"
	// CategoryParse represents malformed raw transaction data
	CategoryParse ErrorCategory = "parse"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryTax represents cost-basis accounting errors
	CategoryTax ErrorCategory = "tax"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// User Input Errors (4xx)

// NewInvalidAddressError creates an invalid address error
func NewInvalidAddressError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_ADDRESS",
		Message:    fmt.Sprintf("invalid address format: %s", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// Adapter Errors

// NewNetworkError creates a node/provider communication error. Network
// errors are transient and safe to retry.
func NewNetworkError(chain string, operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNetwork,
		StatusCode: http.StatusBadGateway,
		Code:       "NETWORK_ERROR",
		Message:    fmt.Sprintf("network error on %s during %s", chain, operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"chain":     chain,
			"operation": operation,
		},
	}
}

// NewParseError creates an error for raw transaction data that does not
// match the expected chain format. Parse errors are permanent: retrying the
// same payload cannot succeed.
func NewParseError(chain string, hash string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryParse,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "PARSE_ERROR",
		Message:    fmt.Sprintf("malformed %s transaction %s", chain, hash),
		Cause:      cause,
		Details: map[string]interface{}{
			"chain": chain,
			"hash":  hash,
		},
	}
}

// NewUnknownAssetError creates an error for a token contract or mint with no
// known metadata. Callers degrade to a placeholder asset rather than fail.
func NewUnknownAssetError(chain string, contract string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryParse,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "UNKNOWN_ASSET",
		Message:    fmt.Sprintf("unknown asset %s on %s", contract, chain),
		Details: map[string]interface{}{
			"chain":    chain,
			"contract": contract,
		},
	}
}

// Tax Errors

// NewInsufficientLotsError creates an error for a disposal that exceeds the
// open lot balance of a (wallet, asset) pair. The gap between the requested
// and available amounts usually means acquisitions are missing from ingestion.
func NewInsufficientLotsError(walletID, assetKey, requested, available string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTax,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "INSUFFICIENT_LOTS",
		Message:    fmt.Sprintf("disposal of %s exceeds open lots (%s available) for %s", requested, available, assetKey),
		Details: map[string]interface{}{
			"walletId":  walletID,
			"asset":     assetKey,
			"requested": requested,
			"available": available,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable. Parse and tax errors are
// permanent; network, database and cache failures are transient.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryNetwork, CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsParseError reports whether the error is a permanent parse failure.
func IsParseError(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryParse
}

// IsInsufficientLots reports whether the error is an open-lot shortfall.
func IsInsufficientLots(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == "INSUFFICIENT_LOTS"
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 500
}
