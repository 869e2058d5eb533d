package ledger

import "errors"

// Validation failures. None of them leave a partial mutation behind.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTaskNotFound        = errors.New("task not found")
	ErrItemNotFound        = errors.New("item not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrGroupNotFound       = errors.New("group not found")
	ErrRoleMismatch        = errors.New("account role does not permit this operation")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOutOfStock          = errors.New("item out of stock")
	ErrInvalidAmount       = errors.New("amount does not cover the fee")
	ErrAlreadyCancelled    = errors.New("transaction already cancelled")
	ErrNotCancellable      = errors.New("transaction is already confirmed")
	ErrInvalidName         = errors.New("name must not be empty")
)
