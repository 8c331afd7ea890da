package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes returned to clients.
const (
	CodeInsufficientFunds      = "WAL_001"
	CodeInvalidAmount          = "WAL_002"
	CodeWalletNotFound         = "WAL_003"
	CodeCurrencyMismatch       = "WAL_004"
	CodeReferenceConflict      = "WAL_005"
	CodeAgreementNotAcceptable = "ESC_001"
	CodeAlreadyStaked          = "ESC_002"
	CodeNoActiveStake          = "ESC_003"
	CodeAlreadyReleased        = "ESC_004"
	CodeStakeAmountMismatch    = "ESC_005"
	CodeNotParticipant         = "ESC_006"
	CodePartnershipNotFound    = "ESC_007"
	CodeStakeTermsMismatch     = "ESC_008"
	CodeAlreadyApplied         = "PEN_001"
	CodeViolationNotFound      = "PEN_002"
	CodeInvalidCorrection      = "REC_001"
	CodeValidation             = "REQ_001"
	CodeInvalidToken           = "AUTH_001"
	CodeForbidden              = "AUTH_002"
	CodeRateLimitExceeded      = "RATE_001"
	CodeInternal               = "SYS_001"
	CodeRetryableConflict      = "SYS_002"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
	// Details is client-facing context, e.g. what an operator must do next.
	Details map[string]any `json:"details,omitempty"`
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

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ---- Wallet (WAL) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient available balance", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Amount must be a positive integer of minor units", http.StatusBadRequest)
}

// ErrAmountOverflow shares the invalid-amount code: the amount is too large
// for the wallet to hold.
func ErrAmountOverflow() *AppError {
	return New(CodeInvalidAmount, "Amount would overflow the wallet balance", http.StatusBadRequest)
}

func ErrWalletNotFound() *AppError {
	return New(CodeWalletNotFound, "Wallet not found", http.StatusNotFound)
}

func ErrCurrencyMismatch(expected string) *AppError {
	return New(CodeCurrencyMismatch, fmt.Sprintf("Only %s is supported", expected), http.StatusBadRequest)
}

func ErrReferenceConflict() *AppError {
	return New(CodeReferenceConflict, "Reference already used for a different operation", http.StatusConflict)
}

// ---- Escrow (ESC) ----

func ErrAgreementNotAcceptable() *AppError {
	return New(CodeAgreementNotAcceptable, "Partnership is not accepted", http.StatusConflict)
}

func ErrAlreadyStaked() *AppError {
	return New(CodeAlreadyStaked, "Stake already locked for this partnership", http.StatusConflict)
}

func ErrNoActiveStake() *AppError {
	return New(CodeNoActiveStake, "No active stake for this partnership", http.StatusConflict)
}

func ErrAlreadyReleased() *AppError {
	return New(CodeAlreadyReleased, "Escrow already released", http.StatusConflict)
}

// ErrStakeAmountMismatch carries the stake recorded by the lock entry.
func ErrStakeAmountMismatch(stake, escrow int64) *AppError {
	return New(CodeStakeAmountMismatch,
		fmt.Sprintf("Escrow balance %d is below the locked stake %d; repair required", escrow, stake),
		http.StatusConflict)
}

func ErrNotParticipant() *AppError {
	return New(CodeNotParticipant, "Caller is not a participant of this partnership", http.StatusForbidden)
}

func ErrPartnershipNotFound() *AppError {
	return New(CodePartnershipNotFound, "Partnership not found", http.StatusNotFound)
}

func ErrStakeTermsMismatch(agreed int64) *AppError {
	return New(CodeStakeTermsMismatch,
		fmt.Sprintf("Stake amount must equal the agreed amount %d", agreed),
		http.StatusUnprocessableEntity)
}

// ---- Penalty (PEN) ----

func ErrAlreadyApplied() *AppError {
	return New(CodeAlreadyApplied, "Penalty already applied for this violation", http.StatusConflict)
}

func ErrViolationNotFound() *AppError {
	return New(CodeViolationNotFound, "Violation not found", http.StatusNotFound)
}

// ---- Reconciliation (REC) ----

func ErrInvalidCorrection(reason string) *AppError {
	return New(CodeInvalidCorrection, reason, http.StatusBadRequest)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New(CodeForbidden, "Insufficient permissions", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// ErrRetryableConflict reports contention that outlasted the retry budget.
func ErrRetryableConflict(err error) *AppError {
	return Wrap(CodeRetryableConflict, "Concurrent update conflict, retry later", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a REQ_001 validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}
