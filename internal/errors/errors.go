package errors

import (
	"errors"
	"net/http"
)

var (
	// ErrCardNotFound is returned when a card is not found.
	ErrCardNotFound = errors.New("card not found")
	// ErrCardBlocked is returned when the card is blocked.
	ErrCardBlocked = errors.New("card is blocked")
	// ErrCardExpired is returned when the card is past its expiry date.
	ErrCardExpired = errors.New("card is expired")
	// ErrAmountExceedsSingleLimit is returned when a single payment exceeds the per-transaction cap.
	ErrAmountExceedsSingleLimit = errors.New("amount exceeds single transaction limit")
	// ErrDailyLimitExceeded is returned when a reservation would exceed the daily limit.
	ErrDailyLimitExceeded = errors.New("daily limit exceeded")
	// ErrMonthlyLimitExceeded is returned when a reservation would exceed the monthly limit.
	ErrMonthlyLimitExceeded = errors.New("monthly limit exceeded")
	// ErrMerchantNotFound is returned when a merchant is not found.
	ErrMerchantNotFound = errors.New("merchant not found")
	// ErrInvalidAmount is returned when amount is invalid.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrTransactionNotFound is returned when a transaction is not found.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrNotCancellable is returned when cancellation is requested after submission began.
	ErrNotCancellable = errors.New("transaction can no longer be cancelled")

	// ErrSecretNotFound is returned when no wallet secret exists for an account.
	ErrSecretNotFound = errors.New("wallet secret not found")
	// ErrSecretIntegrity is returned when vault ciphertext fails authentication.
	// It is deliberately distinct from ErrSecretNotFound and must abort the
	// enclosing operation.
	ErrSecretIntegrity = errors.New("wallet secret integrity check failed")

	// ErrNetworkTimeout is returned when a ledger submission did not confirm
	// within budget. The transaction outcome is unknown and must be reconciled.
	ErrNetworkTimeout = errors.New("ledger network timeout")
	// ErrNetworkRejected is returned when the ledger network explicitly rejects a transfer.
	ErrNetworkRejected = errors.New("ledger network rejected transfer")

	// ErrStorageConflict is returned when an atomic counter update lost a race
	// to a concurrent writer. Retried internally by the limit ledger.
	ErrStorageConflict = errors.New("storage conflict")
)

// PolicyDenied reports whether err is a policy denial: surfaced to the caller
// immediately, never retried.
func PolicyDenied(err error) bool {
	switch {
	case errors.Is(err, ErrCardBlocked),
		errors.Is(err, ErrCardExpired),
		errors.Is(err, ErrAmountExceedsSingleLimit),
		errors.Is(err, ErrDailyLimitExceeded),
		errors.Is(err, ErrMonthlyLimitExceeded):
		return true
	}
	return false
}

// ReasonCode returns the stable, user-visible reason code for err. Internal
// diagnostic detail never leaks through this mapping.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, ErrCardNotFound):
		return "CARD_NOT_FOUND"
	case errors.Is(err, ErrCardBlocked):
		return "CARD_BLOCKED"
	case errors.Is(err, ErrCardExpired):
		return "CARD_EXPIRED"
	case errors.Is(err, ErrAmountExceedsSingleLimit):
		return "AMOUNT_EXCEEDS_SINGLE_LIMIT"
	case errors.Is(err, ErrDailyLimitExceeded):
		return "DAILY_LIMIT_EXCEEDED"
	case errors.Is(err, ErrMonthlyLimitExceeded):
		return "MONTHLY_LIMIT_EXCEEDED"
	case errors.Is(err, ErrMerchantNotFound):
		return "MERCHANT_NOT_FOUND"
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrTransactionNotFound):
		return "TRANSACTION_NOT_FOUND"
	case errors.Is(err, ErrNotCancellable):
		return "NOT_CANCELLABLE"
	case errors.Is(err, ErrSecretIntegrity):
		return "SECRET_INTEGRITY"
	case errors.Is(err, ErrSecretNotFound):
		return "SECRET_NOT_FOUND"
	case errors.Is(err, ErrNetworkTimeout):
		return "NETWORK_TIMEOUT"
	case errors.Is(err, ErrNetworkRejected):
		return "NETWORK_REJECTED"
	case errors.Is(err, ErrStorageConflict):
		return "STORAGE_CONFLICT"
	default:
		return "INTERNAL_ERROR"
	}
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error: e.Message,
		Code:  e.Code,
	}
}

// MapErrorToHTTP maps domain errors to HTTP errors.
func MapErrorToHTTP(err error) *HTTPError {
	switch {
	case errors.Is(err, ErrCardNotFound), errors.Is(err, ErrMerchantNotFound), errors.Is(err, ErrTransactionNotFound):
		return NewHTTPError(http.StatusNotFound, err.Error(), ReasonCode(err))
	case PolicyDenied(err):
		return NewHTTPError(http.StatusUnprocessableEntity, err.Error(), ReasonCode(err))
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrNotCancellable):
		return NewHTTPError(http.StatusBadRequest, err.Error(), ReasonCode(err))
	case errors.Is(err, ErrNetworkTimeout):
		return NewHTTPError(http.StatusAccepted, "transfer submitted, confirmation pending", ReasonCode(err))
	case errors.Is(err, ErrNetworkRejected):
		return NewHTTPError(http.StatusBadGateway, err.Error(), ReasonCode(err))
	default:
		return NewHTTPError(http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}
