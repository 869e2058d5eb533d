// Path: internal/models/models.go
package models

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

// Group is a tutor-owned sub-group of students. Only the display name is editable.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Account holds a tutor's or a student's balance. Secret and RecoveryPhrase are
// kept in plain text unless the service runs with hashed secret storage.
type Account struct {
	ID             int             `json:"id"`
	Role           Role            `json:"role"`
	Name           string          `json:"name"`
	Email          string          `json:"email,omitempty"`
	Nickname       string          `json:"nickname,omitempty"`
	Secret         string          `json:"secret,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
	Address        string          `json:"address"`
	RecoveryPhrase string          `json:"recovery_phrase"`
	Group          string          `json:"group,omitempty"`
	TutorOwnerID   int             `json:"tutor_owner_id,omitempty"`
	Groups         []Group         `json:"groups,omitempty"`
}

// LoginCredential is the email for tutors and the nickname for students.
func (a Account) LoginCredential() string {
	if a.Role == RoleTutor {
		return a.Email
	}
	return a.Nickname
}

type TxKind string

const (
	TxKindAward    TxKind = "award"
	TxKindPurchase TxKind = "purchase"
)

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusCancelled TxStatus = "cancelled"
)

// Transaction is one balance movement. FromName and ToName are snapshots taken
// when the record was created; renaming an account does not update them.
type Transaction struct {
	ID            string          `json:"id"`
	Hash          string          `json:"hash"`
	Kind          TxKind          `json:"kind"`
	Status        TxStatus        `json:"status"`
	FromAddress   string          `json:"from_address"`
	ToAddress     string          `json:"to_address"`
	FromName      string          `json:"from_name"`
	ToName        string          `json:"to_name"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Confirmations int             `json:"confirmations"`
	BlockRef      int64           `json:"block_ref"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`

	// Bookkeeping needed to undo the movement on cancellation.
	AccountID     int  `json:"account_id"`
	CounterpartID int  `json:"counterpart_id,omitempty"`
	TaskID        int  `json:"task_id,omitempty"`
	ItemID        int  `json:"item_id,omitempty"`
	SenderDebited bool `json:"sender_debited,omitempty"`
}

type Task struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Reward   decimal.Decimal `json:"reward"`
	Category string          `json:"category"`
}

type CatalogItem struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category"`
	Icon        string          `json:"icon,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Block only animates the explorer view. It has no relationship with the transaction log.
type Block struct {
	Number       int64           `json:"number"`
	Timestamp    time.Time       `json:"timestamp"`
	Miner        string          `json:"miner"`
	Transactions int             `json:"transactions"`
	Reward       decimal.Decimal `json:"reward"`
}

type LoginRequest struct {
	Role     Role   `json:"role" validate:"required,oneof=tutor student"`
	Email    string `json:"email" validate:"required_if=Role tutor"`
	Nickname string `json:"nickname" validate:"required_if=Role student"`
	Password string `json:"password" validate:"required"`
}

type AwardRequest struct {
	StudentID int `json:"student_id" validate:"required,gt=0"`
	TaskID    int `json:"task_id" validate:"required,gt=0"`
}

type PurchaseRequest struct {
	ItemID int `json:"item_id" validate:"required,gt=0"`
}

type RenameGroupRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

// JWT Проверка
type Claims struct {
	AccountID int  `json:"account_id"`
	Role      Role `json:"role"`
	jwt.RegisteredClaims
}
