package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
	Data       any    `json:"-"` // Optional payload returned alongside the error (e.g. the prior payout on a duplicate)
	Retryable  bool   `json:"-"` // The same request may succeed later
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithData returns a copy of e carrying data.
func (e *AppError) WithData(data any) *AppError {
	cp := *e
	cp.Data = data
	return &cp
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether the first AppError in err's chain is retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

// ---- Payout Business Logic (PAY) ----

const (
	CodeInsufficientFunds      = "PAY_001"
	CodeValidation             = "PAY_002"
	CodeDuplicateRequest       = "PAY_003"
	CodeNotFound               = "PAY_004"
	CodeAccountUnverified      = "PAY_005"
	CodeBelowMinimumPayout     = "PAY_006"
	CodeInvalidStateTransition = "PAY_007"
)

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient available balance", http.StatusUnprocessableEntity)
}

func ErrInvalidAmount() *AppError {
	return New(CodeValidation, "Amount must be a positive integer in minor units", http.StatusBadRequest)
}

func ErrDuplicateRequest() *AppError {
	return New(CodeDuplicateRequest, "Payout request with this idempotency key already exists", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrAccountUnverified() *AppError {
	return New(CodeAccountUnverified, "Payout account is not verified", http.StatusUnprocessableEntity)
}

func ErrBelowMinimumPayout(min int64) *AppError {
	return New(CodeBelowMinimumPayout, fmt.Sprintf("Amount is below the minimum payout of %d", min), http.StatusUnprocessableEntity)
}

func ErrInvalidStateTransition(from, to string) *AppError {
	return New(CodeInvalidStateTransition, fmt.Sprintf("Cannot move payout from %s to %s", from, to), http.StatusConflict)
}

// ---- Processor (PRC) ----

const (
	CodeProcessorUnavailable = "PRC_001"
	CodeProcessorTimeout     = "PRC_002"
	CodeAccountInvalid       = "PRC_003"
	CodeAmountRejected       = "PRC_004"
	CodeUnknownTransfer      = "PRC_005"
	CodeUnsupportedProcessor = "PRC_006"
)

func ErrProcessorUnavailable(err error) *AppError {
	return Wrap(CodeProcessorUnavailable, "Payment processor unavailable", http.StatusServiceUnavailable, err)
}

func ErrProcessorTimeout(err error) *AppError {
	return Wrap(CodeProcessorTimeout, "Payment processor timed out", http.StatusGatewayTimeout, err)
}

func ErrAccountInvalid(reason string) *AppError {
	return New(CodeAccountInvalid, fmt.Sprintf("Destination account rejected: %s", reason), http.StatusUnprocessableEntity)
}

func ErrAmountRejected(reason string) *AppError {
	return New(CodeAmountRejected, fmt.Sprintf("Amount rejected by processor: %s", reason), http.StatusUnprocessableEntity)
}

func ErrUnknownTransfer() *AppError {
	return New(CodeUnknownTransfer, "Transfer not known to processor", http.StatusNotFound)
}

func ErrUnsupportedProcessor(kind string) *AppError {
	return New(CodeUnsupportedProcessor, fmt.Sprintf("Unsupported processor: %s", kind), http.StatusNotFound)
}

// ---- Security & Authentication (SEC / AUTH) ----

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New("AUTH_004", "Not allowed to access this resource", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	appErr := Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
	appErr.Retryable = true
	return appErr
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a PAY_002-style validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}
