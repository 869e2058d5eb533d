package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"braibit-api/internal/models"
	"braibit-api/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Document names in the backing store. Each one is read and written wholesale.
const (
	DocUsers      = "users"
	DocBlockchain = "blockchain"
	DocTasks      = "tasks"
	DocProducts   = "products"
)

const (
	DefaultRequiredConfirmations = 3
	DefaultMaxBlocks             = 50
)

var BlockReward = decimal.RequireFromString("2.5")

// AwardPolicy decides whether the tutor's balance is debited when tokens are awarded.
type AwardPolicy string

const (
	// PolicyMint creates the awarded tokens; the tutor's balance is untouched.
	PolicyMint AwardPolicy = "mint"
	// PolicyTransfer debits the tutor by the gross reward.
	PolicyTransfer AwardPolicy = "transfer"
)

// Store persists whole documents. Implementations live in pkg/database.
type Store interface {
	Load(ctx context.Context, name string, v any) (bool, error)
	Save(ctx context.Context, name string, v any) error
}

// Genesis is the state written on first run, when the store holds no accounts yet.
type Genesis struct {
	Accounts     []models.Account
	Tasks        []models.Task
	Catalog      []models.CatalogItem
	Transactions []models.Transaction
}

// ChainDocument is the persisted shape of the "blockchain" document.
type ChainDocument struct {
	Height       int64                `json:"height"`
	Transactions []models.Transaction `json:"transactions"`
	Blocks       []models.Block       `json:"blocks"`
}

type Options struct {
	Policy                AwardPolicy
	RequiredConfirmations int
	MaxBlocks             int
	Generator             *utils.Generator
	Clock                 func() time.Time
	// OnPersist is called after a document has been written successfully.
	OnPersist func(name string)
}

// Ledger owns every balance, the transaction log, the task list, the store
// catalog and the cosmetic block list. It is the only mutation surface.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[int]*models.Account
	tasks    []models.Task
	catalog  []models.CatalogItem
	txs      []*models.Transaction
	txIndex  map[string]*models.Transaction
	blocks   []models.Block
	height   int64

	policy    AwardPolicy
	required  int
	maxBlocks int
	gen       *utils.Generator
	now       func() time.Time
	onPersist func(name string)

	store  Store
	logger *zap.Logger

	persistMu sync.Mutex
	seq       uint64
	written   map[string]uint64
}

// New creates an empty ledger. Call Load before serving requests.
func New(store Store, logger *zap.Logger, opts Options) *Ledger {
	l := &Ledger{
		accounts:  make(map[int]*models.Account),
		txIndex:   make(map[string]*models.Transaction),
		policy:    opts.Policy,
		required:  opts.RequiredConfirmations,
		maxBlocks: opts.MaxBlocks,
		gen:       opts.Generator,
		now:       opts.Clock,
		onPersist: opts.OnPersist,
		store:     store,
		logger:    logger,
		written:   make(map[string]uint64),
	}
	if l.policy == "" {
		l.policy = PolicyMint
	}
	if l.required <= 0 {
		l.required = DefaultRequiredConfirmations
	}
	if l.maxBlocks <= 0 {
		l.maxBlocks = DefaultMaxBlocks
	}
	if l.gen == nil {
		l.gen = utils.NewGenerator()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	return l
}

func (l *Ledger) Policy() AwardPolicy { return l.policy }

func (l *Ledger) RequiredConfirmations() int { return l.required }

// Load restores every document from the store. When no account document
// exists yet, the ledger is initialised from genesis and fully persisted.
func (l *Ledger) Load(ctx context.Context, genesis func() (*Genesis, error)) error {
	var accounts []models.Account
	found, err := l.store.Load(ctx, DocUsers, &accounts)
	if err != nil {
		return fmt.Errorf("load %s: %w", DocUsers, err)
	}

	if !found {
		g, err := genesis()
		if err != nil {
			return fmt.Errorf("build genesis: %w", err)
		}

		l.mu.Lock()
		l.reset(g.Accounts, g.Tasks, g.Catalog, ChainDocument{Transactions: g.Transactions})
		snaps := l.snapshotLocked(DocUsers, DocBlockchain, DocTasks, DocProducts)
		l.mu.Unlock()

		l.logger.Info("Ledger seeded from genesis",
			zap.Int("accounts", len(g.Accounts)),
			zap.Int("tasks", len(g.Tasks)),
			zap.Int("items", len(g.Catalog)),
		)
		return l.write(ctx, snaps)
	}

	var (
		chain   ChainDocument
		tasks   []models.Task
		catalog []models.CatalogItem
	)
	if _, err := l.store.Load(ctx, DocBlockchain, &chain); err != nil {
		return fmt.Errorf("load %s: %w", DocBlockchain, err)
	}
	if _, err := l.store.Load(ctx, DocTasks, &tasks); err != nil {
		return fmt.Errorf("load %s: %w", DocTasks, err)
	}
	if _, err := l.store.Load(ctx, DocProducts, &catalog); err != nil {
		return fmt.Errorf("load %s: %w", DocProducts, err)
	}

	l.mu.Lock()
	l.reset(accounts, tasks, catalog, chain)
	l.mu.Unlock()

	l.logger.Info("Ledger restored from store",
		zap.Int("accounts", len(accounts)),
		zap.Int("transactions", len(chain.Transactions)),
		zap.Int64("height", chain.Height),
	)
	return nil
}

func (l *Ledger) reset(accounts []models.Account, tasks []models.Task, catalog []models.CatalogItem, chain ChainDocument) {
	l.accounts = make(map[int]*models.Account, len(accounts))
	for i := range accounts {
		acc := cloneAccount(accounts[i])
		l.accounts[acc.ID] = &acc
	}
	l.tasks = append([]models.Task(nil), tasks...)
	l.catalog = append([]models.CatalogItem(nil), catalog...)

	l.txs = make([]*models.Transaction, 0, len(chain.Transactions))
	l.txIndex = make(map[string]*models.Transaction, len(chain.Transactions))
	for i := range chain.Transactions {
		tx := chain.Transactions[i]
		l.txs = append(l.txs, &tx)
		l.txIndex[tx.ID] = &tx
	}
	l.blocks = append([]models.Block(nil), chain.Blocks...)
	l.height = restoredHeight(chain)
}

// restoredHeight never goes below a block or transaction reference already
// handed out, so numbering cannot repeat after a restart.
func restoredHeight(chain ChainDocument) int64 {
	height := chain.Height
	if len(chain.Blocks) > 0 && chain.Blocks[0].Number > height {
		height = chain.Blocks[0].Number
	}
	for _, tx := range chain.Transactions {
		if tx.BlockRef-1 > height {
			height = tx.BlockRef - 1
		}
	}
	return height
}

// Award credits a student with a task's reward minus the fee and records a
// pending transaction for the gross reward from the tutor to the student.
func (l *Ledger) Award(ctx context.Context, tutorID, studentID, taskID int) (models.Transaction, error) {
	var out models.Transaction
	err := l.mutate(ctx, []string{DocUsers, DocBlockchain}, func() error {
		tutor, err := l.accountWithRole(tutorID, models.RoleTutor)
		if err != nil {
			return err
		}
		student, err := l.accountWithRole(studentID, models.RoleStudent)
		if err != nil {
			return err
		}
		task, ok := l.findTask(taskID)
		if !ok {
			return fmt.Errorf("%w: task_id %d", ErrTaskNotFound, taskID)
		}

		fee := Fee(task.Reward)
		net := task.Reward.Sub(fee)
		if !net.IsPositive() {
			return fmt.Errorf("%w: reward %s, fee %s", ErrInvalidAmount, task.Reward, fee)
		}

		debit := l.policy == PolicyTransfer
		if debit && tutor.Balance.LessThan(task.Reward) {
			return fmt.Errorf("%w: account_id %d, balance %s, requested %s", ErrInsufficientBalance, tutor.ID, tutor.Balance, task.Reward)
		}

		if debit {
			tutor.Balance = tutor.Balance.Sub(task.Reward)
		}
		student.Balance = student.Balance.Add(net)

		tx := l.appendTransaction(models.Transaction{
			Kind:          models.TxKindAward,
			FromAddress:   tutor.Address,
			ToAddress:     student.Address,
			FromName:      tutor.Name,
			ToName:        student.Name,
			Amount:        task.Reward,
			Fee:           fee,
			Description:   task.Name,
			AccountID:     student.ID,
			CounterpartID: tutor.ID,
			TaskID:        task.ID,
			SenderDebited: debit,
		})
		out = *tx
		return nil
	})
	return out, err
}

// Purchase debits price plus fee from the buyer, takes one unit out of stock
// and records a pending transaction to the store address.
func (l *Ledger) Purchase(ctx context.Context, accountID, itemID int) (models.Transaction, error) {
	var out models.Transaction
	err := l.mutate(ctx, []string{DocUsers, DocBlockchain, DocProducts}, func() error {
		buyer, ok := l.accounts[accountID]
		if !ok {
			return fmt.Errorf("%w: account_id %d", ErrAccountNotFound, accountID)
		}
		item := l.findItem(itemID)
		if item == nil {
			return fmt.Errorf("%w: item_id %d", ErrItemNotFound, itemID)
		}
		if item.Stock <= 0 {
			return fmt.Errorf("%w: item_id %d", ErrOutOfStock, itemID)
		}

		if item.Price.IsNegative() {
			return fmt.Errorf("%w: item_id %d has price %s", ErrInvalidAmount, itemID, item.Price)
		}

		fee := Fee(item.Price)
		total := item.Price.Add(fee)
		if buyer.Balance.LessThan(total) {
			return fmt.Errorf("%w: account_id %d, balance %s, requested %s", ErrInsufficientBalance, buyer.ID, buyer.Balance, total)
		}

		buyer.Balance = buyer.Balance.Sub(total)
		item.Stock--

		tx := l.appendTransaction(models.Transaction{
			Kind:        models.TxKindPurchase,
			FromAddress: buyer.Address,
			ToAddress:   utils.StoreAddress,
			FromName:    buyer.Name,
			ToName:      "Store",
			Amount:      item.Price,
			Fee:         fee,
			Description: item.Name,
			AccountID:   buyer.ID,
			ItemID:      item.ID,
		})
		out = *tx
		return nil
	})
	return out, err
}

// Cancel reverts a pending transaction and marks it cancelled. Confirmed and
// cancelled transactions are terminal.
func (l *Ledger) Cancel(ctx context.Context, txID string) (models.Transaction, error) {
	var out models.Transaction
	err := l.mutate(ctx, []string{DocUsers, DocBlockchain, DocProducts}, func() error {
		tx, ok := l.txIndex[txID]
		if !ok {
			return fmt.Errorf("%w: id %s", ErrTransactionNotFound, txID)
		}
		switch tx.Status {
		case models.TxStatusCancelled:
			return fmt.Errorf("%w: id %s", ErrAlreadyCancelled, txID)
		case models.TxStatusConfirmed:
			return fmt.Errorf("%w: id %s", ErrNotCancellable, txID)
		}

		holder, ok := l.accounts[tx.AccountID]
		if !ok {
			return fmt.Errorf("%w: account_id %d", ErrAccountNotFound, tx.AccountID)
		}

		switch tx.Kind {
		case models.TxKindAward:
			net := tx.Amount.Sub(tx.Fee)
			if holder.Balance.LessThan(net) {
				return fmt.Errorf("%w: account_id %d, balance %s, requested %s", ErrInsufficientBalance, holder.ID, holder.Balance, net)
			}
			var sender *models.Account
			if tx.SenderDebited {
				if sender, ok = l.accounts[tx.CounterpartID]; !ok {
					return fmt.Errorf("%w: account_id %d", ErrAccountNotFound, tx.CounterpartID)
				}
			}
			holder.Balance = holder.Balance.Sub(net)
			if sender != nil {
				sender.Balance = sender.Balance.Add(tx.Amount)
			}
		case models.TxKindPurchase:
			holder.Balance = holder.Balance.Add(tx.Amount.Add(tx.Fee))
			if item := l.findItem(tx.ItemID); item != nil {
				item.Stock++
			}
		}

		tx.Status = models.TxStatusCancelled
		out = *tx
		return nil
	})
	return out, err
}

// RenameGroup edits the display name of one of a tutor's groups.
func (l *Ledger) RenameGroup(ctx context.Context, tutorID int, groupID, name string) (models.Group, error) {
	var out models.Group
	err := l.mutate(ctx, []string{DocUsers}, func() error {
		name = strings.TrimSpace(name)
		if name == "" {
			return ErrInvalidName
		}
		tutor, err := l.accountWithRole(tutorID, models.RoleTutor)
		if err != nil {
			return err
		}
		for i := range tutor.Groups {
			if tutor.Groups[i].ID == groupID {
				tutor.Groups[i].Name = name
				out = tutor.Groups[i]
				return nil
			}
		}
		return fmt.Errorf("%w: group_id %s", ErrGroupNotFound, groupID)
	})
	return out, err
}

// Tick appends one cosmetic block and advances every pending transaction by
// one confirmation. It returns the new block and the number of transactions
// that became confirmed.
func (l *Ledger) Tick(ctx context.Context) (models.Block, int) {
	l.mu.Lock()

	l.height++
	block := models.Block{
		Number:       l.height,
		Timestamp:    l.now(),
		Miner:        l.gen.GenerateAddress(),
		Transactions: l.gen.Intn(5),
		Reward:       BlockReward,
	}
	l.blocks = append([]models.Block{block}, l.blocks...)
	if len(l.blocks) > l.maxBlocks {
		l.blocks = l.blocks[:l.maxBlocks]
	}

	confirmed := 0
	for _, tx := range l.txs {
		if tx.Status != models.TxStatusPending {
			continue
		}
		tx.Confirmations++
		if tx.Confirmations >= l.required {
			tx.Status = models.TxStatusConfirmed
			confirmed++
		}
	}

	snaps := l.snapshotLocked(DocBlockchain)
	l.mu.Unlock()

	l.persist(ctx, snaps)
	return block, confirmed
}

func (l *Ledger) appendTransaction(tx models.Transaction) *models.Transaction {
	tx.ID = utils.GenerateTransactionID()
	tx.Hash = l.gen.GenerateTxHash()
	tx.Status = models.TxStatusPending
	tx.Confirmations = 0
	tx.BlockRef = l.height + 1
	tx.CreatedAt = l.now()

	p := &tx
	l.txs = append(l.txs, p)
	l.txIndex[p.ID] = p
	return p
}

func (l *Ledger) accountWithRole(id int, role models.Role) (*models.Account, error) {
	acc, ok := l.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account_id %d", ErrAccountNotFound, id)
	}
	if acc.Role != role {
		return nil, fmt.Errorf("%w: account_id %d is a %s", ErrRoleMismatch, id, acc.Role)
	}
	return acc, nil
}

func (l *Ledger) findTask(id int) (models.Task, bool) {
	for _, t := range l.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return models.Task{}, false
}

func (l *Ledger) findItem(id int) *models.CatalogItem {
	for i := range l.catalog {
		if l.catalog[i].ID == id {
			return &l.catalog[i]
		}
	}
	return nil
}

// Account returns a copy of the account with the given id.
func (l *Ledger) Account(id int) (models.Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acc, ok := l.accounts[id]
	if !ok {
		return models.Account{}, false
	}
	return cloneAccount(*acc), true
}

func (l *Ledger) AccountByEmail(email string) (models.Account, bool) {
	return l.findAccount(func(a *models.Account) bool {
		return a.Role == models.RoleTutor && strings.EqualFold(a.Email, email)
	})
}

func (l *Ledger) AccountByNickname(nickname string) (models.Account, bool) {
	return l.findAccount(func(a *models.Account) bool {
		return a.Role == models.RoleStudent && a.Nickname == nickname
	})
}

func (l *Ledger) findAccount(match func(*models.Account) bool) (models.Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, acc := range l.accounts {
		if match(acc) {
			return cloneAccount(*acc), true
		}
	}
	return models.Account{}, false
}

// Students lists students ordered by id. An empty group matches every student.
func (l *Ledger) Students(group string) []models.Account {
	return l.listAccounts(func(a *models.Account) bool {
		return a.Role == models.RoleStudent && (group == "" || a.Group == group)
	})
}

func (l *Ledger) Tutors() []models.Account {
	return l.listAccounts(func(a *models.Account) bool { return a.Role == models.RoleTutor })
}

func (l *Ledger) listAccounts(match func(*models.Account) bool) []models.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.Account
	for _, acc := range l.accounts {
		if match(acc) {
			out = append(out, cloneAccount(*acc))
		}
	}
	sortAccounts(out)
	return out
}

func (l *Ledger) Tasks() []models.Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Task(nil), l.tasks...)
}

func (l *Ledger) Catalog() []models.CatalogItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.CatalogItem(nil), l.catalog...)
}

func (l *Ledger) Transaction(id string) (models.Transaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tx, ok := l.txIndex[id]
	if !ok {
		return models.Transaction{}, false
	}
	return *tx, true
}

// Transactions returns the whole log, newest first.
func (l *Ledger) Transactions() []models.Transaction {
	return l.listTransactions(func(*models.Transaction) bool { return true })
}

// TransactionsFor returns the transactions sent from or to address, newest first.
func (l *Ledger) TransactionsFor(address string) []models.Transaction {
	return l.listTransactions(func(tx *models.Transaction) bool {
		return tx.FromAddress == address || tx.ToAddress == address
	})
}

func (l *Ledger) listTransactions(match func(*models.Transaction) bool) []models.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Transaction, 0)
	for i := len(l.txs) - 1; i >= 0; i-- {
		if match(l.txs[i]) {
			out = append(out, *l.txs[i])
		}
	}
	return out
}

// Blocks returns the retained blocks, newest first.
func (l *Ledger) Blocks() []models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Block(nil), l.blocks...)
}

func cloneAccount(a models.Account) models.Account {
	a.Groups = append([]models.Group(nil), a.Groups...)
	return a
}
