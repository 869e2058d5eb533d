// Package seed turns a YAML classroom roster into the ledger's genesis state.
package seed

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"braibit-api/internal/ledger"
	"braibit-api/internal/models"
	"braibit-api/pkg/utils"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

//go:embed roster.yaml
var defaultRoster []byte

type GroupEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type TutorEntry struct {
	ID      int          `yaml:"id"`
	Name    string       `yaml:"name"`
	Email   string       `yaml:"email"`
	Balance float64      `yaml:"balance"`
	Groups  []GroupEntry `yaml:"groups"`
}

type StudentEntry struct {
	ID       int     `yaml:"id"`
	Nickname string  `yaml:"nickname"`
	Name     string  `yaml:"name"`
	Secret   string  `yaml:"secret"`
	Balance  float64 `yaml:"balance"`
	Group    string  `yaml:"group"`
	Tutor    int     `yaml:"tutor"`
}

type TaskEntry struct {
	ID       int     `yaml:"id"`
	Name     string  `yaml:"name"`
	Reward   float64 `yaml:"reward"`
	Category string  `yaml:"category"`
}

type ItemEntry struct {
	ID          int     `yaml:"id"`
	Name        string  `yaml:"name"`
	Price       float64 `yaml:"price"`
	Stock       int     `yaml:"stock"`
	Icon        string  `yaml:"icon"`
	Description string  `yaml:"description"`
	Category    string  `yaml:"category"`
}

type Roster struct {
	Tutors   []TutorEntry   `yaml:"tutors"`
	Students []StudentEntry `yaml:"students"`
	Tasks    []TaskEntry    `yaml:"tasks"`
	Store    []ItemEntry    `yaml:"store"`
}

// LoadRoster reads a roster file. An empty path selects the embedded default.
func LoadRoster(path string) (*Roster, error) {
	data := defaultRoster
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read roster %s: %w", path, err)
		}
	}
	return ParseRoster(data)
}

func ParseRoster(data []byte) (*Roster, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var r Roster
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Roster) validate() error {
	if len(r.Tutors) == 0 {
		return fmt.Errorf("roster: at least one tutor is required")
	}

	ids := make(map[int]bool)
	tutors := make(map[int]bool)
	for _, t := range r.Tutors {
		if ids[t.ID] {
			return fmt.Errorf("roster: duplicate account id %d", t.ID)
		}
		if t.Email == "" {
			return fmt.Errorf("roster: tutor %d has no email", t.ID)
		}
		if t.Balance < 0 {
			return fmt.Errorf("roster: tutor %d has a negative balance", t.ID)
		}
		ids[t.ID] = true
		tutors[t.ID] = true
	}

	nicknames := make(map[string]bool)
	for _, s := range r.Students {
		if ids[s.ID] {
			return fmt.Errorf("roster: duplicate account id %d", s.ID)
		}
		if s.Nickname == "" || nicknames[s.Nickname] {
			return fmt.Errorf("roster: student %d needs a unique nickname", s.ID)
		}
		if s.Tutor != 0 && !tutors[s.Tutor] {
			return fmt.Errorf("roster: student %d references unknown tutor %d", s.ID, s.Tutor)
		}
		if s.Balance < 0 {
			return fmt.Errorf("roster: student %d has a negative balance", s.ID)
		}
		ids[s.ID] = true
		nicknames[s.Nickname] = true
	}

	for _, task := range r.Tasks {
		if task.Reward < 0 {
			return fmt.Errorf("roster: task %d has a negative reward", task.ID)
		}
	}

	for _, it := range r.Store {
		if it.Stock < 0 {
			return fmt.Errorf("roster: item %d has a negative stock", it.ID)
		}
		if it.Price < 0 {
			return fmt.Errorf("roster: item %d has a negative price", it.ID)
		}
	}
	return nil
}

type Options struct {
	// HashSecrets stores student secrets as bcrypt hashes instead of plain text.
	HashSecrets           bool
	BcryptCost            int
	RequiredConfirmations int
	Now                   func() time.Time
}

// Build generates addresses and recovery phrases for every account and one
// confirmed "Initial balance" award per student holding tokens.
func Build(r *Roster, gen *utils.Generator, opts Options) (*ledger.Genesis, error) {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.RequiredConfirmations <= 0 {
		opts.RequiredConfirmations = ledger.DefaultRequiredConfirmations
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	g := &ledger.Genesis{}
	tutorIndex := make(map[int]int, len(r.Tutors))
	for i, t := range r.Tutors {
		acc := models.Account{
			ID:             t.ID,
			Role:           models.RoleTutor,
			Name:           t.Name,
			Email:          t.Email,
			Balance:        decimal.NewFromFloat(t.Balance),
			Address:        gen.GenerateAddress(),
			RecoveryPhrase: gen.GenerateRecoveryPhrase(),
		}
		for _, grp := range t.Groups {
			acc.Groups = append(acc.Groups, models.Group{ID: grp.ID, Name: grp.Name})
		}
		tutorIndex[t.ID] = i
		g.Accounts = append(g.Accounts, acc)
	}

	for i, s := range r.Students {
		secret := s.Secret
		if opts.HashSecrets && secret != "" {
			hashed, err := bcrypt.GenerateFromPassword([]byte(secret), opts.BcryptCost)
			if err != nil {
				return nil, fmt.Errorf("hash secret of student %d: %w", s.ID, err)
			}
			secret = string(hashed)
		}

		acc := models.Account{
			ID:             s.ID,
			Role:           models.RoleStudent,
			Name:           s.Name,
			Nickname:       s.Nickname,
			Secret:         secret,
			Balance:        decimal.NewFromFloat(s.Balance),
			Address:        gen.GenerateAddress(),
			RecoveryPhrase: gen.GenerateRecoveryPhrase(),
			Group:          s.Group,
			TutorOwnerID:   s.Tutor,
		}
		g.Accounts = append(g.Accounts, acc)

		if !acc.Balance.IsPositive() {
			continue
		}
		// Students without an owner are spread over the tutors.
		tutor := g.Accounts[i%len(r.Tutors)]
		if idx, ok := tutorIndex[s.Tutor]; ok {
			tutor = g.Accounts[idx]
		}
		g.Transactions = append(g.Transactions, models.Transaction{
			ID:            utils.GenerateTransactionID(),
			Hash:          gen.GenerateTxHash(),
			Kind:          models.TxKindAward,
			Status:        models.TxStatusConfirmed,
			FromAddress:   tutor.Address,
			ToAddress:     acc.Address,
			FromName:      tutor.Name,
			ToName:        acc.Name,
			Amount:        acc.Balance,
			Fee:           ledger.Fee(acc.Balance),
			Confirmations: opts.RequiredConfirmations,
			Description:   "Initial balance",
			CreatedAt:     opts.Now(),
			AccountID:     acc.ID,
			CounterpartID: tutor.ID,
		})
	}

	for _, t := range r.Tasks {
		g.Tasks = append(g.Tasks, models.Task{
			ID:       t.ID,
			Name:     t.Name,
			Reward:   decimal.NewFromFloat(t.Reward),
			Category: t.Category,
		})
	}
	for _, it := range r.Store {
		g.Catalog = append(g.Catalog, models.CatalogItem{
			ID:          it.ID,
			Name:        it.Name,
			Price:       decimal.NewFromFloat(it.Price),
			Stock:       it.Stock,
			Category:    it.Category,
			Icon:        it.Icon,
			Description: it.Description,
		})
	}

	return g, nil
}
