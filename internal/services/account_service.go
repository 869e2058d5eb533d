// Path: internal/services/account_service.go
package services

import (
	"context"
	"fmt"

	"braibit-api/internal/ledger"
	"braibit-api/internal/market"
	"braibit-api/internal/models"
)

// Wallet is the signed-in account with its valuation and history.
type Wallet struct {
	Account               models.Account       `json:"account"`
	Login                 string               `json:"login"`
	RequiredConfirmations int                  `json:"required_confirmations"`
	Valuation             market.Valuation     `json:"valuation"`
	Transactions          []models.Transaction `json:"transactions"`
}

// AccountService handles account-related queries and group edits.
type AccountService interface {
	Wallet(claims *models.Claims) (*Wallet, error)
	Students(claims *models.Claims, group string) ([]models.Account, error)
	RenameGroup(ctx context.Context, claims *models.Claims, groupID, name string) (models.Group, error)
	Tasks() []models.Task
	Catalog() []models.CatalogItem
	Blocks() []models.Block
	Market() market.Snapshot
}

type accountService struct {
	ledger *ledger.Ledger
	market *market.Market
}

// NewAccountService creates a new AccountService.
func NewAccountService(l *ledger.Ledger, m *market.Market) AccountService {
	return &accountService{ledger: l, market: m}
}

func (s *accountService) Wallet(claims *models.Claims) (*Wallet, error) {
	acc, ok := s.ledger.Account(claims.AccountID)
	if !ok {
		return nil, &AppError{Code: 404, Message: "Account not found", Details: fmt.Sprintf("account_id: %d", claims.AccountID)}
	}
	return &Wallet{
		Account:               publicView(acc),
		Login:                 acc.LoginCredential(),
		RequiredConfirmations: s.ledger.RequiredConfirmations(),
		Valuation:             s.market.Value(acc.Balance),
		Transactions:          s.ledger.TransactionsFor(acc.Address),
	}, nil
}

// Students lists the students owned by the signed-in tutor, optionally
// restricted to one group.
func (s *accountService) Students(claims *models.Claims, group string) ([]models.Account, error) {
	if claims.Role != models.RoleTutor {
		return nil, forbidden("only tutors can list students")
	}
	owned := ownedStudents(s.ledger, claims.AccountID, group)
	for i := range owned {
		owned[i] = publicView(owned[i])
	}
	return owned, nil
}

func (s *accountService) RenameGroup(ctx context.Context, claims *models.Claims, groupID, name string) (models.Group, error) {
	if claims.Role != models.RoleTutor {
		return models.Group{}, forbidden("only tutors can rename groups")
	}
	g, err := s.ledger.RenameGroup(ctx, claims.AccountID, groupID, name)
	return g, fromLedger(err)
}

func (s *accountService) Tasks() []models.Task { return s.ledger.Tasks() }

func (s *accountService) Catalog() []models.CatalogItem { return s.ledger.Catalog() }

func (s *accountService) Blocks() []models.Block { return s.ledger.Blocks() }

func (s *accountService) Market() market.Snapshot { return s.market.Snapshot() }

// ownedBy reports whether a tutor manages a student. Students without an
// owning tutor are shared by every tutor.
func ownedBy(st models.Account, tutorID int) bool {
	return st.TutorOwnerID == 0 || st.TutorOwnerID == tutorID
}

func ownedStudents(l *ledger.Ledger, tutorID int, group string) []models.Account {
	out := make([]models.Account, 0)
	for _, st := range l.Students(group) {
		if ownedBy(st, tutorID) {
			out = append(out, st)
		}
	}
	return out
}
