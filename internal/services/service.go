package services

import (
	"braibit-api/internal/ledger"
	"braibit-api/internal/market"

	"go.uber.org/zap"
)

// Service bundles every service the HTTP layer depends on.
type Service struct {
	Auth         AuthService
	Accounts     AccountService
	Transactions TransactionService
	Export       ExportService
}

func NewService(l *ledger.Ledger, m *market.Market, jwtSecret, tutorSecret string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Auth:         NewAuthService(l, jwtSecret, tutorSecret),
		Accounts:     NewAccountService(l, m),
		Transactions: NewTransactionService(l, logger),
		Export:       NewExportService(l),
	}
}
