package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"braibit-api/internal/ledger"
	"braibit-api/internal/models"
	"braibit-api/pkg/database"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedulerStopIsDeterministic(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(zap.NewNop(), Task{
		Name:       "count",
		Interval:   time.Millisecond,
		RunAtStart: true,
		Run:        func(context.Context) { runs.Add(1) },
	})

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no task may run after Stop returns")

	// a second Stop is a no-op
	s.Stop()
}

func TestSchedulerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s := NewScheduler(zap.NewNop(), Task{
		Name:     "idle",
		Interval: time.Hour,
		Run:      func(context.Context) {},
	})
	s.Start(ctx)
	cancel()

	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}

type fakeProducer struct {
	mu    sync.Mutex
	ticks int
}

func (f *fakeProducer) Tick(context.Context) (models.Block, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	return models.Block{Number: int64(f.ticks)}, 1
}

func TestConfirmationTaskTicksProducer(t *testing.T) {
	producer := &fakeProducer{}
	task := ConfirmationTask(producer, time.Second, zap.NewNop())
	assert.Equal(t, "confirmations", task.Name)
	assert.Equal(t, time.Second, task.Interval)

	task.Run(context.Background())
	task.Run(context.Background())
	assert.Equal(t, 2, producer.ticks)
}

func TestConfirmationTaskConfirmsLedgerTransactions(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(database.NewMemoryStore(), nil, ledger.Options{})
	require.NoError(t, l.Load(ctx, func() (*ledger.Genesis, error) {
		return &ledger.Genesis{
			Accounts: []models.Account{
				{ID: 1, Role: models.RoleTutor, Name: "T", Address: "0x1", Balance: decimal.NewFromInt(10000)},
				{ID: 2, Role: models.RoleStudent, Name: "S", Address: "0x2", Balance: decimal.Zero},
			},
			Tasks: []models.Task{{ID: 1, Name: "Help", Reward: decimal.NewFromInt(50)}},
		}, nil
	}))

	tx, err := l.Award(ctx, 1, 2, 1)
	require.NoError(t, err)

	s := NewScheduler(zap.NewNop(), ConfirmationTask(l, time.Millisecond, zap.NewNop()))
	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		got, _ := l.Transaction(tx.ID)
		return got.Status == models.TxStatusConfirmed
	}, time.Second, time.Millisecond)

	got, _ := l.Transaction(tx.ID)
	assert.Equal(t, 3, got.Confirmations)
}
