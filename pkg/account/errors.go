package account

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the account service.
var (
	ErrUserNotFound               = errors.New("user not found")
	ErrAccountNotFound            = errors.New("account not found")
	ErrTransactionNotFound        = errors.New("transaction not found")
	ErrUserAccountMismatch        = errors.New("user does not own account")
	ErrTransactionAccountMismatch = errors.New("transaction does not belong to account")
	ErrAccountAlreadyClosed       = errors.New("account already closed")
	ErrAmountExceedsBalance       = errors.New("amount exceeds balance")
	ErrCancelMustBeFullAmount     = errors.New("cancel must be full amount")
	ErrTransactionTooOld          = errors.New("transaction too old to cancel")
	ErrTransactionAlreadyCanceled = errors.New("transaction already canceled")
	ErrTransactionNotCancelable   = errors.New("transaction not cancelable")
	ErrMaxAccountsPerUser         = errors.New("max accounts per user reached")
	ErrBalanceNotEmpty            = errors.New("balance not empty")
	ErrDuplicateAccountNumber     = errors.New("account number already issued")
	ErrDuplicateTransactionID     = errors.New("transaction id already recorded")
	ErrInvalidUserID              = errors.New("invalid user id")
	ErrInvalidAccountNumber       = errors.New("invalid account number")
	ErrInvalidTransactionID       = errors.New("invalid transaction id")
	ErrInvalidAmountCents         = errors.New("invalid amount cents")
	ErrInvalidBalanceCents        = errors.New("invalid balance cents")
	ErrInvalidMetadataJSON        = errors.New("invalid metadata json")
	ErrInvalidAccountStatus       = errors.New("invalid account status")
	ErrInvalidTransactionType     = errors.New("invalid transaction type")
	ErrInvalidTransactionResult   = errors.New("invalid transaction result")
	ErrInvalidServiceConfig       = errors.New("invalid service config")
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
