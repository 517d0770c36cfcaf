package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrIdempotencyMismatch     = errors.New("idempotency key reused with a different payload")
	ErrChainBroken             = errors.New("ledger hash chain broken")
	ErrAccountFrozen           = errors.New("account frozen pending audit")
	ErrUnknownEntry            = errors.New("unknown ledger entry")
	ErrInvalidAccount          = errors.New("invalid account")
	ErrInvalidOwnerType        = errors.New("invalid owner type")
	ErrInvalidOwnerID          = errors.New("invalid owner id")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidBalance          = errors.New("invalid balance")
	ErrInvalidEntryType        = errors.New("invalid entry type")
	ErrInvalidEntryStatus      = errors.New("invalid entry status")
	ErrInvalidTransactionType  = errors.New("invalid transaction type")
	ErrInvalidIdempotencyKey   = errors.New("invalid idempotency key")
	ErrInvalidListLimit        = errors.New("invalid list limit")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)

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

// ChainBrokenError identifies the account whose chain failed verification.
type ChainBrokenError struct {
	Account  Account
	Sequence int64
	Reason   string
}

// Error returns the formatted error message.
func (chainError ChainBrokenError) Error() string {
	return fmt.Sprintf("%v: account %s at sequence %d: %s", ErrChainBroken, chainError.Account.String(), chainError.Sequence, chainError.Reason)
}

// Unwrap returns ErrChainBroken.
func (chainError ChainBrokenError) Unwrap() error {
	return ErrChainBroken
}
