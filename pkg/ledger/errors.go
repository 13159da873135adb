package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger services.
var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrAccountNotFound         = errors.New("account not found")
	ErrContentNotFound         = errors.New("content not found")
	ErrContentInactive         = errors.New("content inactive")
	ErrBelowMinimumWithdrawal  = errors.New("below minimum withdrawal")
	ErrConcurrencyConflict     = errors.New("concurrency conflict")
	ErrStoreUnavailable        = errors.New("store unavailable")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrDuplicateGrant          = errors.New("duplicate access grant")
	ErrUnknownWithdrawal       = errors.New("unknown withdrawal")
	ErrWithdrawalClosed        = errors.New("withdrawal closed")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidContentID        = errors.New("invalid content id")
	ErrInvalidContentType      = errors.New("invalid content type")
	ErrInvalidDirection        = errors.New("invalid direction")
	ErrInvalidEntryKind        = errors.New("invalid entry kind")
	ErrInvalidEntryStatus      = errors.New("invalid entry status")
	ErrInvalidAccessType       = errors.New("invalid access type")
	ErrInvalidIdempotencyKey   = errors.New("invalid idempotency key")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidPayoutMethod     = errors.New("invalid payout method")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)

// InsufficientBalanceError reports how far a debit overshoots the balance.
type InsufficientBalanceError struct {
	Required  Coins
	Available Coins
}

// Error returns the formatted error message.
func (insufficient InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%v: required %d, available %d", ErrInsufficientBalance, insufficient.Required, insufficient.Available)
}

// Unwrap returns the sentinel.
func (insufficient InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// Shortfall returns the missing coins.
func (insufficient InsufficientBalanceError) Shortfall() Coins {
	if insufficient.Required <= insufficient.Available {
		return 0
	}
	return insufficient.Required - insufficient.Available
}

// BelowMinimumError reports the withdrawal threshold that was not met.
type BelowMinimumError struct {
	Requested Coins
	Minimum   Coins
}

// Error returns the formatted error message.
func (belowMinimum BelowMinimumError) Error() string {
	return fmt.Sprintf("%v: requested %d, minimum %d", ErrBelowMinimumWithdrawal, belowMinimum.Requested, belowMinimum.Minimum)
}

// Unwrap returns the sentinel.
func (belowMinimum BelowMinimumError) Unwrap() error {
	return ErrBelowMinimumWithdrawal
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsRetryable reports whether a single automatic retry is safe.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrStoreUnavailable)
}
