package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrorCode represents a unified error code across the orchestration core.
type ErrorCode string

// Credit and wallet error codes
const (
	ErrInsufficientCredits ErrorCode = "INSUFFICIENT_CREDITS"
	ErrPlanLimitExceeded   ErrorCode = "PLAN_LIMIT_EXCEEDED"
	ErrWalletNotFound      ErrorCode = "WALLET_NOT_FOUND"
)

// Upstream error codes
const (
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrModelUnavailable ErrorCode = "MODEL_UNAVAILABLE"
	ErrContentFiltered  ErrorCode = "CONTENT_FILTERED"
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrProviderError    ErrorCode = "PROVIDER_ERROR"
	ErrTimeout          ErrorCode = "TIMEOUT"
)

// CreditDetail carries the numbers a caller needs to render an upgrade prompt.
type CreditDetail struct {
	Required decimal.Decimal `json:"required"`
	Balance  decimal.Decimal `json:"balance"`
	Limit    decimal.Decimal `json:"limit"`
	Used     decimal.Decimal `json:"used"`
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code         ErrorCode     `json:"code"`
	Message      string        `json:"message"`
	HTTPStatus   int           `json:"http_status,omitempty"`
	Retryable    bool          `json:"retryable"`
	Provider     string        `json:"provider,omitempty"`
	Credit       *CreditDetail `json:"credit,omitempty"`
	Alternatives []string      `json:"alternatives,omitempty"`
	Cause        error         `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithCredit attaches credit detail.
func (e *Error) WithCredit(detail CreditDetail) *Error {
	e.Credit = &detail
	return e
}

// WithAlternatives lists models the caller may pick instead.
func (e *Error) WithAlternatives(ids []string) *Error {
	e.Alternatives = append([]string(nil), ids...)
	return e
}

// AsError 沿错误链查找 *Error。
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode 判断错误链上是否存在指定错误码。
func IsCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// NewInsufficientCreditsError 钱包余额不足。
func NewInsufficientCreditsError(detail CreditDetail) *Error {
	return NewError(ErrInsufficientCredits,
		fmt.Sprintf("insufficient credits: required %s, balance %s", detail.Required.String(), detail.Balance.String())).
		WithHTTPStatus(402).
		WithCredit(detail)
}

// NewPlanLimitError 套餐月度上限已用尽，与余额无关。
func NewPlanLimitError(detail CreditDetail) *Error {
	return NewError(ErrPlanLimitExceeded,
		fmt.Sprintf("monthly plan limit exceeded: used %s of %s, required %s",
			detail.Used.String(), detail.Limit.String(), detail.Required.String())).
		WithHTTPStatus(402).
		WithCredit(detail)
}

// NewModelUnavailableError 模型不可用，附带当前可用的替代模型。
func NewModelUnavailableError(message string, alternatives []string) *Error {
	return NewError(ErrModelUnavailable, message).
		WithHTTPStatus(503).
		WithAlternatives(alternatives)
}
