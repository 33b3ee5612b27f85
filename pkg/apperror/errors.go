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

// CodeOf returns the code of the first AppError in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ---- Authentication & Authorization (AUTH) ----

func ErrUnauthenticated() *AppError {
	return New("AUTH_001", "Missing authentication", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_002", "Invalid token", http.StatusUnauthorized)
}

func ErrTokenExpired() *AppError {
	return New("AUTH_003", "Token expired", http.StatusUnauthorized)
}

func ErrInvalidAPIKey() *AppError {
	return New("AUTH_004", "Invalid or expired API key", http.StatusUnauthorized)
}

func ErrForbidden(message string) *AppError {
	return New("AUTH_005", message, http.StatusForbidden)
}

// ErrMissingPermission is the Forbidden outcome of a failed permission gate.
func ErrMissingPermission(permission string) *AppError {
	return ErrForbidden(fmt.Sprintf("Missing permission: %s", permission))
}

func ErrSignInFailed(err error) *AppError {
	return Wrap("AUTH_006", "Sign-in with identity provider failed", http.StatusBadRequest, err)
}

func ErrEmailInUse() *AppError {
	return New("AUTH_007", "Email is already bound to another account", http.StatusConflict)
}

// ---- API Keys (KEY) ----

func ErrKeyLimitExceeded(max int) *AppError {
	return New("KEY_001", fmt.Sprintf("Maximum %d active API keys allowed", max), http.StatusConflict)
}

func ErrKeyAlreadyRevoked() *AppError {
	return New("KEY_002", "API key is already revoked", http.StatusConflict)
}

func ErrKeyNotYetExpired() *AppError {
	return New("KEY_003", "API key must be expired", http.StatusConflict)
}

func ErrInvalidKeyRequest(message string) *AppError {
	return New("KEY_004", message, http.StatusBadRequest)
}

// ---- Ledger (PAY) ----

func ErrInsufficientFunds() *AppError {
	return New("PAY_001", "Insufficient balance", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New("PAY_002", "Invalid amount", http.StatusBadRequest)
}

func ErrSelfTransfer() *AppError {
	return New("PAY_003", "You cannot transfer money to your own wallet", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Security (SEC) ----

func ErrInvalidSignature() *AppError {
	return New("SEC_001", "Invalid signature", http.StatusUnauthorized)
}

// ---- Payment Gateway (GW) ----

func ErrGatewayUnavailable(err error) *AppError {
	return Wrap("GW_001", "Payment service unavailable", http.StatusServiceUnavailable, err)
}

func ErrGatewayRejected(err error) *AppError {
	return Wrap("GW_002", "Payment provider declined the request", http.StatusBadGateway, err)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrRequestTooLarge() *AppError {
	return New("SYS_002", "Request body too large", http.StatusRequestEntityTooLarge)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a PAY_002-style validation error.
func Validation(message string) *AppError {
	return New("PAY_002", message, http.StatusBadRequest)
}
