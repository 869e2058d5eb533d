package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"braibit-api/internal/models"

	"go.uber.org/zap"
)

type snapshot struct {
	name  string
	seq   uint64
	value any
}

// mutate runs fn under the write lock. On success the listed documents are
// snapshotted before the lock is released and then persisted. A failed fn
// must not have changed anything.
func (l *Ledger) mutate(ctx context.Context, docs []string, fn func() error) error {
	l.mu.Lock()
	if err := fn(); err != nil {
		l.mu.Unlock()
		return err
	}
	snaps := l.snapshotLocked(docs...)
	l.mu.Unlock()

	l.persist(ctx, snaps)
	return nil
}

func (l *Ledger) snapshotLocked(docs ...string) []snapshot {
	l.seq++
	out := make([]snapshot, 0, len(docs))
	for _, name := range docs {
		var value any
		switch name {
		case DocUsers:
			accounts := make([]models.Account, 0, len(l.accounts))
			for _, acc := range l.accounts {
				accounts = append(accounts, cloneAccount(*acc))
			}
			sortAccounts(accounts)
			value = accounts
		case DocBlockchain:
			chain := ChainDocument{
				Height:       l.height,
				Transactions: make([]models.Transaction, len(l.txs)),
				Blocks:       append([]models.Block(nil), l.blocks...),
			}
			for i, tx := range l.txs {
				chain.Transactions[i] = *tx
			}
			value = chain
		case DocTasks:
			value = append([]models.Task(nil), l.tasks...)
		case DocProducts:
			value = append([]models.CatalogItem(nil), l.catalog...)
		default:
			continue
		}
		out = append(out, snapshot{name: name, seq: l.seq, value: value})
	}
	return out
}

// persist writes snapshots and swallows failures: the in-memory ledger stays
// authoritative and the store catches up on the next successful write.
func (l *Ledger) persist(ctx context.Context, snaps []snapshot) {
	if err := l.write(ctx, snaps); err != nil {
		l.logger.Warn("Failed to persist ledger documents", zap.Error(err))
	}
}

func (l *Ledger) write(ctx context.Context, snaps []snapshot) error {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	var errs []error
	for _, s := range snaps {
		// A newer snapshot of the same document has already been written.
		if s.seq <= l.written[s.name] {
			continue
		}
		if err := l.store.Save(ctx, s.name, s.value); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", s.name, err))
			continue
		}
		l.written[s.name] = s.seq
		if l.onPersist != nil {
			l.onPersist(s.name)
		}
	}
	return errors.Join(errs...)
}

func sortAccounts(accounts []models.Account) {
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
}
