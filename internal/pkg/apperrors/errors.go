package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrInvalidCollateralType        ErrorType = "INVALID_COLLATERAL_TYPE"
	ErrInvalidFeedPrice             ErrorType = "INVALID_FEED_PRICE"
	ErrCollateralAmountBelowMinimum ErrorType = "COLLATERAL_AMOUNT_BELOW_MINIMUM"
	ErrRemainDebitValueTooSmall     ErrorType = "REMAIN_DEBIT_VALUE_TOO_SMALL"
	ErrExceedDebitValueHardCap      ErrorType = "EXCEED_DEBIT_VALUE_HARD_CAP"
	ErrBelowLiquidationRatio        ErrorType = "BELOW_LIQUIDATION_RATIO"
	ErrBelowRequiredCollateralRatio ErrorType = "BELOW_REQUIRED_COLLATERAL_RATIO"
	ErrMustBeUnsafe                 ErrorType = "MUST_BE_UNSAFE"
	ErrMustBeSafe                   ErrorType = "MUST_BE_SAFE"
	ErrNoDebitValue                 ErrorType = "NO_DEBIT_VALUE"
	ErrAlreadyShutdown              ErrorType = "ALREADY_SHUTDOWN"
	ErrMustAfterShutdown            ErrorType = "MUST_AFTER_SHUTDOWN"
	ErrLiquidationFailed            ErrorType = "LIQUIDATION_FAILED"
	ErrNotEnoughDebitDecrement      ErrorType = "NOT_ENOUGH_DEBIT_DECREMENT"
	ErrCannotSwap                   ErrorType = "CANNOT_SWAP"
	ErrBadOrigin                    ErrorType = "BAD_ORIGIN"

	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
	ErrUpstream       ErrorType = "UPSTREAM_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match two AppErrors by type, so engine code can compare
// against the package-level sentinels below.
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	return ok && other.Type == e.Type
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func Newf(errType ErrorType, format string, args ...any) *AppError {
	return New(errType, fmt.Sprintf(format, args...), nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// TypeOf reports the ErrorType carried by err, or ErrInternal for plain errors.
func TypeOf(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrInternal
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidCollateralType, ErrCollateralAmountBelowMinimum,
		ErrRemainDebitValueTooSmall, ErrExceedDebitValueHardCap,
		ErrBelowLiquidationRatio, ErrBelowRequiredCollateralRatio,
		ErrNotEnoughDebitDecrement, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrMustBeUnsafe, ErrMustBeSafe, ErrNoDebitValue,
		ErrAlreadyShutdown, ErrMustAfterShutdown:
		return http.StatusConflict
	case ErrBadOrigin:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInvalidFeedPrice, ErrCannotSwap, ErrLiquidationFailed, ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrInvalidCollateralType:
		return "Enable the collateral type via governance first."
	case ErrInvalidFeedPrice:
		return "Wait for the price feed to recover and retry."
	case ErrBelowRequiredCollateralRatio, ErrBelowLiquidationRatio:
		return "Add collateral or repay debt before adjusting."
	case ErrExceedDebitValueHardCap:
		return "The collateral-wide debt cap is reached; retry later."
	case ErrCannotSwap:
		return "The swap venue lacks liquidity for this trade."
	case ErrBadOrigin:
		return "Check the governance credentials."
	default:
		return ""
	}
}
