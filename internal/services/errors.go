package services

import (
	"errors"
	"fmt"

	"braibit-api/internal/ledger"
)

// AppError is a custom error type that includes an HTTP status code.
type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"message"`
	Details string `json:"details"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("AppError: %s (Code: %d, Details: %s)", e.Message, e.Code, e.Details)
}

func (e *AppError) Unwrap() error { return e.Err }

func forbidden(details string) *AppError {
	return &AppError{Code: 403, Message: "Operation not permitted", Details: details}
}

// fromLedger translates a ledger validation failure into an AppError.
func fromLedger(err error) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return &AppError{Code: 404, Message: "Account not found", Details: err.Error(), Err: err}
	case errors.Is(err, ledger.ErrTaskNotFound):
		return &AppError{Code: 404, Message: "Task not found", Details: err.Error(), Err: err}
	case errors.Is(err, ledger.ErrItemNotFound):
		return &AppError{Code: 404, Message: "Item not found", Details: err.Error(), Err: err}
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return &AppError{Code: 404, Message: "Transaction not found", Details: err.Error(), Err: err}
	case errors.Is(err, ledger.ErrGroupNotFound):
		return &AppError{Code: 404, Message: "Group not found", Details: err.Error(), Err: err}
	case errors.Is(err, ledger.ErrRoleMismatch):
		return &AppError{Code: 403, Message: "Operation not permitted", Details: err.Error(), Err: err}
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return &AppError{Code: 400, Message: "Insufficient balance", Details: err.Error(), Err: err}
	case errors.Is(err, ledger.ErrOutOfStock):
		return &AppError{Code: 409, Message: "Item out of stock", Details: err.Error(), Err: err}
	case errors.Is(err, ledger.ErrInvalidAmount):
		return &AppError{Code: 400, Message: "Invalid amount", Details: err.Error(), Err: err}
	case errors.Is(err, ledger.ErrAlreadyCancelled):
		return &AppError{Code: 409, Message: "Transaction already cancelled", Details: err.Error(), Err: err}
	case errors.Is(err, ledger.ErrNotCancellable):
		return &AppError{Code: 409, Message: "Transaction cannot be cancelled", Details: err.Error(), Err: err}
	case errors.Is(err, ledger.ErrInvalidName):
		return &AppError{Code: 400, Message: "Invalid name", Details: err.Error(), Err: err}
	}
	return &AppError{Code: 500, Message: "Internal error", Details: err.Error(), Err: err}
}
