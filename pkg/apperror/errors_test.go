package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("WAL_001", "Insufficient funds", http.StatusPaymentRequired),
			expected: "[WAL_001] Insufficient funds",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
	assert.Nil(t, New("WAL_001", "test", http.StatusBadRequest).Unwrap())
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("stake: %w", ErrAlreadyStaked())

	assert.True(t, HasCode(wrapped, CodeAlreadyStaked))
	assert.False(t, HasCode(wrapped, CodeAlreadyReleased))
	assert.False(t, HasCode(errors.New("plain"), CodeAlreadyStaked))
	assert.False(t, HasCode(nil, CodeAlreadyStaked))
}

func TestErrorCatalog(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InsufficientFunds", ErrInsufficientFunds(), "WAL_001", 402},
		{"InvalidAmount", ErrInvalidAmount(), "WAL_002", 400},
		{"WalletNotFound", ErrWalletNotFound(), "WAL_003", 404},
		{"CurrencyMismatch", ErrCurrencyMismatch("USD"), "WAL_004", 400},
		{"ReferenceConflict", ErrReferenceConflict(), "WAL_005", 409},
		{"AgreementNotAcceptable", ErrAgreementNotAcceptable(), "ESC_001", 409},
		{"AlreadyStaked", ErrAlreadyStaked(), "ESC_002", 409},
		{"NoActiveStake", ErrNoActiveStake(), "ESC_003", 409},
		{"AlreadyReleased", ErrAlreadyReleased(), "ESC_004", 409},
		{"StakeAmountMismatch", ErrStakeAmountMismatch(40, 10), "ESC_005", 409},
		{"NotParticipant", ErrNotParticipant(), "ESC_006", 403},
		{"PartnershipNotFound", ErrPartnershipNotFound(), "ESC_007", 404},
		{"StakeTermsMismatch", ErrStakeTermsMismatch(50), "ESC_008", 422},
		{"AlreadyApplied", ErrAlreadyApplied(), "PEN_001", 409},
		{"ViolationNotFound", ErrViolationNotFound(), "PEN_002", 404},
		{"InvalidCorrection", ErrInvalidCorrection("bad"), "REC_001", 400},
		{"Validation", Validation("bad input"), "REQ_001", 400},
		{"InvalidToken", ErrInvalidToken(), "AUTH_001", 401},
		{"Forbidden", ErrForbidden(), "AUTH_002", 403},
		{"RateLimitExceeded", ErrRateLimitExceeded(), "RATE_001", 429},
		{"Internal", InternalError(errors.New("x")), "SYS_001", 500},
		{"RetryableConflict", ErrRetryableConflict(errors.New("x")), "SYS_002", 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestStakeAmountMismatch_CarriesStake(t *testing.T) {
	err := ErrStakeAmountMismatch(40, 10)
	assert.Contains(t, err.Message, "40")
	assert.Contains(t, err.Message, "10")
}

func TestWithDetails_CopiesError(t *testing.T) {
	base := ErrStakeAmountMismatch(40, 10)
	detailed := base.WithDetails(map[string]any{"shortfall": int64(30)})

	assert.Nil(t, base.Details)
	assert.Equal(t, int64(30), detailed.Details["shortfall"])
	assert.Equal(t, base.Code, detailed.Code)
	assert.Equal(t, base.HTTPStatus, detailed.HTTPStatus)
}
