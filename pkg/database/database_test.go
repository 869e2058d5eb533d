package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type record struct {
	ID      int             `json:"id"`
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

func roundTrip(t *testing.T, store DocumentStore) {
	t.Helper()
	ctx := context.Background()

	var missing []record
	found, err := store.Load(ctx, "users", &missing)
	require.NoError(t, err)
	assert.False(t, found)

	in := []record{
		{ID: 1, Address: "0xabc", Balance: decimal.RequireFromString("149.85")},
		{ID: 2, Address: "0xdef", Balance: decimal.RequireFromString("0.1")},
	}
	require.NoError(t, store.Save(ctx, "users", in))

	var out []record
	found, err = store.Load(ctx, "users", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, out, 2)
	for i := range in {
		assert.Equal(t, in[i].Address, out[i].Address)
		assert.True(t, in[i].Balance.Equal(out[i].Balance), "balance %s != %s", in[i].Balance, out[i].Balance)
	}

	// last writer wins
	require.NoError(t, store.Save(ctx, "users", in[:1]))
	out = nil
	_, err = store.Load(ctx, "users", &out)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestMemoryStore(t *testing.T) {
	roundTrip(t, NewMemoryStore())
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "braibit.db")
	store, err := OpenBolt(path)
	require.NoError(t, err)
	roundTrip(t, store)
	require.NoError(t, store.Close())

	// documents survive reopening the file
	reopened, err := OpenBolt(path)
	require.NoError(t, err)
	defer reopened.Close()

	var out []record
	found, err := reopened.Load(context.Background(), "users", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, out, 1)
}

func TestBoltStoreHonoursCancelledContext(t *testing.T) {
	store, err := OpenBolt(filepath.Join(t.TempDir(), "braibit.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Save(ctx, "users", []record{}), context.Canceled)
}

func TestMemoryStoreFailSaves(t *testing.T) {
	store := NewMemoryStore()
	store.FailSaves = true
	assert.Error(t, store.Save(context.Background(), "users", []record{}))
	assert.Nil(t, store.Raw("users"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = Open(ctx, Config{Driver: DriverBolt, BoltPath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(ctx, Config{Driver: "firestore"})
	assert.EqualError(t, err, `unknown store driver "firestore"`)
}

func dryRunPostgres(t *testing.T) *postgresStore {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=braibit dbname=braibit sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	return &postgresStore{db: db}
}

func TestPostgresStoreUpsertStatement(t *testing.T) {
	store := dryRunPostgres(t)

	doc := Document{Name: "blockchain", Data: `{"height":6}`, UpdatedAt: time.Now()}
	stmt := store.upsert(context.Background(), &doc).Statement
	sql := stmt.SQL.String()

	assert.Contains(t, sql, `INSERT INTO "documents"`)
	assert.Contains(t, sql, `ON CONFLICT ("name") DO UPDATE SET`)
	assert.Contains(t, sql, `"data"="excluded"."data"`)
	assert.Contains(t, sql, `"updated_at"="excluded"."updated_at"`)
	require.NotEmpty(t, stmt.Vars)
	assert.Equal(t, "blockchain", stmt.Vars[0])
	assert.Contains(t, stmt.Vars, `{"height":6}`)

	// dry-run sessions build the statement without touching the database
	assert.NoError(t, store.Save(context.Background(), "blockchain", map[string]int{"height": 6}))
}

func TestPostgresStoreFindStatement(t *testing.T) {
	store := dryRunPostgres(t)

	var doc Document
	stmt := store.find(context.Background(), "users", &doc).Statement
	sql := stmt.SQL.String()

	assert.Contains(t, sql, `SELECT * FROM "documents" WHERE name = $1`)
	assert.Contains(t, sql, `ORDER BY "documents"."name"`)
	require.NotEmpty(t, stmt.Vars)
	assert.Equal(t, "users", stmt.Vars[0])
}
