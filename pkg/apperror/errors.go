package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error carrying a stable code. HTTPStatus is only
// consulted by the admin HTTP surface; the TCP relay never exposes errors to peers.
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

// HasCode reports whether err, or any error it wraps, is an AppError with code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

const (
	CodeInvalidPadding     = "VAULT_001"
	CodeVaultAuthFailed    = "VAULT_002"
	CodeMalformedRecord    = "VAULT_003"
	CodePasswordMismatch   = "VAULT_004"
	CodeUnauthorizedSource = "SIGN_001"
	CodeConnectionError    = "SIGN_002"
	CodeInvalidMessage     = "SIGN_003"
	CodeRateLimited        = "SIGN_004"
	CodeSigningUnavailable = "SIGN_101"
	CodeSigningFailed      = "SIGN_102"
	CodeDuplicateParameter = "CANON_001"
	CodeUnsupportedValue   = "CANON_002"
	CodeSignatureSlotTaken = "CANON_003"
	CodeExchangeAPI        = "EXCH_001"
	CodeExchangeResponse   = "EXCH_002"
	CodeInternal           = "SYS_001"
	CodeValidation         = "SYS_002"
	CodeNotConfigured      = "SYS_003"
)

// ---- Secret Vault (VAULT) ----

func ErrInvalidPadding() *AppError {
	return New(CodeInvalidPadding, "Invalid padding in vault record (wrong password?)", http.StatusInternalServerError)
}

func ErrVaultAuthFailed(err error) *AppError {
	return Wrap(CodeVaultAuthFailed, "Vault authentication failed (wrong password or tampered record)", http.StatusInternalServerError, err)
}

func ErrMalformedRecord(err error) *AppError {
	return Wrap(CodeMalformedRecord, "Malformed vault record", http.StatusInternalServerError, err)
}

func ErrPasswordMismatch() *AppError {
	return New(CodePasswordMismatch, "Passwords do not match", http.StatusBadRequest)
}

// ---- Signing Service (SIGN_0xx) ----

func ErrUnauthorizedSource(addr string) *AppError {
	return New(CodeUnauthorizedSource, fmt.Sprintf("Source %s is not allowlisted", addr), http.StatusForbidden)
}

func ErrConnection(err error) *AppError {
	return Wrap(CodeConnectionError, "Connection error", http.StatusInternalServerError, err)
}

func ErrInvalidMessage(message string) *AppError {
	return New(CodeInvalidMessage, message, http.StatusBadRequest)
}

func ErrRateLimited(addr string) *AppError {
	return New(CodeRateLimited, fmt.Sprintf("Source %s exceeded its signing rate", addr), http.StatusTooManyRequests)
}

// ---- Signing Client (SIGN_1xx) ----

func ErrSigningUnavailable(err error) *AppError {
	return Wrap(CodeSigningUnavailable, "Signing service unavailable", http.StatusServiceUnavailable, err)
}

func ErrSigningFailed(reason string) *AppError {
	return New(CodeSigningFailed, "Signing failed: "+reason, http.StatusBadGateway)
}

// ---- Canonicalizer (CANON) ----

func ErrDuplicateParameter(key string) *AppError {
	return New(CodeDuplicateParameter, fmt.Sprintf("Duplicate parameter %q", key), http.StatusBadRequest)
}

func ErrUnsupportedValue(key string, value interface{}) *AppError {
	return New(CodeUnsupportedValue, fmt.Sprintf("Unsupported value %T for parameter %q", value, key), http.StatusBadRequest)
}

func ErrSignatureSlotTaken() *AppError {
	return New(CodeSignatureSlotTaken, "Parameters already carry a signature", http.StatusBadRequest)
}

// ---- Exchange REST (EXCH) ----

func ErrExchangeAPI(err error) *AppError {
	return Wrap(CodeExchangeAPI, "Exchange API error", http.StatusBadGateway, err)
}

func ErrExchangeResponse(err error) *AppError {
	return Wrap(CodeExchangeResponse, "Invalid exchange response", http.StatusBadGateway, err)
}

// ---- System (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func ErrNotConfigured(feature string) *AppError {
	return New(CodeNotConfigured, feature+" is not configured", http.StatusNotFound)
}
