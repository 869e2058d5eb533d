// Path: internal/services/transaction_service.go
package services

import (
	"context"
	"fmt"

	"braibit-api/internal/ledger"
	"braibit-api/internal/models"

	"go.uber.org/zap"
)

// TransactionService handles transaction-related operations.
type TransactionService interface {
	Award(ctx context.Context, req *models.AwardRequest, claims *models.Claims) (models.Transaction, error)
	Purchase(ctx context.Context, req *models.PurchaseRequest, claims *models.Claims) (models.Transaction, error)
	Cancel(ctx context.Context, txID string, claims *models.Claims) (models.Transaction, error)
	History(claims *models.Claims) ([]models.Transaction, error)
}

type transactionService struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewTransactionService creates a new TransactionService.
func NewTransactionService(l *ledger.Ledger, logger *zap.Logger) TransactionService {
	return &transactionService{ledger: l, logger: logger}
}

// Award pays a task reward to one of the tutor's own or unowned students.
func (s *transactionService) Award(ctx context.Context, req *models.AwardRequest, claims *models.Claims) (models.Transaction, error) {
	if claims.Role != models.RoleTutor {
		return models.Transaction{}, forbidden("only tutors can award tokens")
	}
	student, ok := s.ledger.Account(req.StudentID)
	if !ok {
		return models.Transaction{}, &AppError{Code: 404, Message: "Account not found", Details: fmt.Sprintf("student_id: %d", req.StudentID)}
	}
	if student.Role == models.RoleStudent && !ownedBy(student, claims.AccountID) {
		return models.Transaction{}, forbidden(fmt.Sprintf("student_id %d belongs to another tutor", req.StudentID))
	}

	tx, err := s.ledger.Award(ctx, claims.AccountID, req.StudentID, req.TaskID)
	if err != nil {
		return models.Transaction{}, fromLedger(err)
	}

	s.logger.Info("Tokens awarded",
		zap.String("tx_id", tx.ID),
		zap.Int("tutor_id", claims.AccountID),
		zap.Int("student_id", req.StudentID),
		zap.String("amount", tx.Amount.String()),
	)
	return tx, nil
}

// Purchase buys one unit of a catalog item for the signed-in student.
func (s *transactionService) Purchase(ctx context.Context, req *models.PurchaseRequest, claims *models.Claims) (models.Transaction, error) {
	if claims.Role != models.RoleStudent {
		return models.Transaction{}, forbidden("only students can buy from the store")
	}

	tx, err := s.ledger.Purchase(ctx, claims.AccountID, req.ItemID)
	if err != nil {
		return models.Transaction{}, fromLedger(err)
	}

	s.logger.Info("Item purchased",
		zap.String("tx_id", tx.ID),
		zap.Int("account_id", claims.AccountID),
		zap.Int("item_id", req.ItemID),
		zap.String("amount", tx.Amount.String()),
	)
	return tx, nil
}

// Cancel reverts a pending transaction. Awards can be cancelled by the tutor
// who issued them; purchases by the buyer or the buyer's tutor.
func (s *transactionService) Cancel(ctx context.Context, txID string, claims *models.Claims) (models.Transaction, error) {
	tx, ok := s.ledger.Transaction(txID)
	if !ok {
		return models.Transaction{}, fromLedger(fmt.Errorf("%w: id %s", ledger.ErrTransactionNotFound, txID))
	}
	if !s.canCancel(tx, claims) {
		return models.Transaction{}, forbidden(fmt.Sprintf("transaction %s cannot be cancelled by account_id %d", txID, claims.AccountID))
	}

	cancelled, err := s.ledger.Cancel(ctx, txID)
	if err != nil {
		return models.Transaction{}, fromLedger(err)
	}

	s.logger.Info("Transaction cancelled",
		zap.String("tx_id", txID),
		zap.String("kind", string(cancelled.Kind)),
		zap.Int("by_account_id", claims.AccountID),
	)
	return cancelled, nil
}

func (s *transactionService) canCancel(tx models.Transaction, claims *models.Claims) bool {
	switch tx.Kind {
	case models.TxKindAward:
		return claims.Role == models.RoleTutor && tx.CounterpartID == claims.AccountID
	case models.TxKindPurchase:
		if tx.AccountID == claims.AccountID {
			return true
		}
		if claims.Role != models.RoleTutor {
			return false
		}
		buyer, ok := s.ledger.Account(tx.AccountID)
		return ok && ownedBy(buyer, claims.AccountID)
	}
	return false
}

// History returns the signed-in account's transactions, newest first. Tutors
// also see every transaction of their students.
func (s *transactionService) History(claims *models.Claims) ([]models.Transaction, error) {
	acc, ok := s.ledger.Account(claims.AccountID)
	if !ok {
		return nil, &AppError{Code: 404, Message: "Account not found", Details: fmt.Sprintf("account_id: %d", claims.AccountID)}
	}
	if acc.Role != models.RoleTutor {
		return s.ledger.TransactionsFor(acc.Address), nil
	}

	addresses := map[string]bool{acc.Address: true}
	for _, st := range ownedStudents(s.ledger, acc.ID, "") {
		addresses[st.Address] = true
	}
	out := make([]models.Transaction, 0)
	for _, tx := range s.ledger.Transactions() {
		if addresses[tx.FromAddress] || addresses[tx.ToAddress] {
			out = append(out, tx)
		}
	}
	return out, nil
}
