// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors
var (
	ErrMarketDataUnavailable = errors.New("market data unavailable")
	ErrRateLimited           = errors.New("rate limited")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrNotConnected          = errors.New("not connected")
	ErrConnectionFailed      = errors.New("connection failed")
	ErrSymbolNotFound        = errors.New("symbol not found")
	ErrTimeout               = errors.New("operation timed out")
	ErrConfigInvalid         = errors.New("invalid configuration")
	ErrQueueFull             = errors.New("message queue full")
	ErrParseFailure          = errors.New("message parse failure")
)

// MarketDataError is returned when no provider could serve a request.
type MarketDataError struct {
	Symbol    string
	Providers int
	Err       error
}

func (e *MarketDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("market data unavailable for %s after %d providers: %v", e.Symbol, e.Providers, e.Err)
	}
	return fmt.Sprintf("market data unavailable for %s after %d providers", e.Symbol, e.Providers)
}

func (e *MarketDataError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrMarketDataUnavailable
}

// NewMarketDataError creates a new MarketDataError.
func NewMarketDataError(symbol string, providers int, err error) *MarketDataError {
	return &MarketDataError{
		Symbol:    symbol,
		Providers: providers,
		Err:       err,
	}
}

// RateLimitError marks a provider-specific rate-limit response.
// The gateway treats it as transient unavailability for this cycle and
// moves to the next provider without retrying the limited one.
type RateLimitError struct {
	Provider string
	Err      error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s rate limited: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %s rate limited", e.Provider)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(provider string, err error) *RateLimitError {
	return &RateLimitError{Provider: provider, Err: err}
}

// InsufficientBuyingPowerError blocks a trade whose margin requirement
// exceeds the available cash balance.
type InsufficientBuyingPowerError struct {
	Required  float64
	Available float64
}

func (e *InsufficientBuyingPowerError) Error() string {
	return fmt.Sprintf("insufficient buying power: required $%.2f, available $%.2f", e.Required, e.Available)
}

func (e *InsufficientBuyingPowerError) Unwrap() error {
	return ErrInsufficientFunds
}

// NewInsufficientBuyingPowerError creates a new InsufficientBuyingPowerError.
func NewInsufficientBuyingPowerError(required, available float64) *InsufficientBuyingPowerError {
	return &InsufficientBuyingPowerError{Required: required, Available: available}
}

// ValidationError represents a single validation violation.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// ValidationErrors aggregates every violation found in one validation pass
// into a single human-readable message.
type ValidationErrors struct {
	Violations []*ValidationError
}

func (e *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "invalid input: " + strings.Join(msgs, "; ")
}

// Add appends a violation.
func (e *ValidationErrors) Add(field string, value interface{}, message string) {
	e.Violations = append(e.Violations, NewValidationError(field, value, message))
}

// HasErrors reports whether any violation was recorded.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Violations) > 0
}

// ParseError represents a malformed streaming message. The single message is
// dropped; the batch and the connection carry on.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failure: %v: %q", e.Err, truncate(e.Payload, 80))
}

func (e *ParseError) Unwrap() error {
	return ErrParseFailure
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
