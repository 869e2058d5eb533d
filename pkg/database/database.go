// Path: pkg/database/database.go
package database

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
	DriverMemory   = "memory"
)

// DocumentStore reads and writes whole named JSON documents. Writes are
// last-writer-wins; there is no version check.
type DocumentStore interface {
	Load(ctx context.Context, name string, v any) (bool, error)
	Save(ctx context.Context, name string, v any) error
	Close() error
}

type Config struct {
	Driver   string
	DSN      string
	BoltPath string
}

// Open builds the document store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (DocumentStore, error) {
	switch cfg.Driver {
	case DriverPostgres:
		db, err := InitDB(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(db), nil
	case DriverBolt:
		return OpenBolt(cfg.BoltPath)
	case DriverMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Document represents one named document in the database.
type Document struct {
	Name      string    `gorm:"primaryKey"`
	Data      string    `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// InitDB opens the database and applies pending migrations.
func InitDB(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		return nil, err
	}

	return db, nil
}

// migrate runs the embedded goose migrations against the gorm connection pool.
func migrate(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

type postgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) DocumentStore {
	return &postgresStore{db: db}
}

func (s *postgresStore) Load(ctx context.Context, name string, v any) (bool, error) {
	var doc Document
	err := s.find(ctx, name, &doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("query document %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(doc.Data), v); err != nil {
		return false, fmt.Errorf("decode document %s: %w", name, err)
	}
	return true, nil
}

func (s *postgresStore) Save(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", name, err)
	}

	doc := Document{Name: name, Data: string(data), UpdatedAt: time.Now()}
	if err := s.upsert(ctx, &doc).Error; err != nil {
		return fmt.Errorf("upsert document %s: %w", name, err)
	}
	return nil
}

func (s *postgresStore) find(ctx context.Context, name string, doc *Document) *gorm.DB {
	return s.db.WithContext(ctx).Where("name = ?", name).First(doc)
}

// upsert replaces the whole document row, keyed by name.
func (s *postgresStore) upsert(ctx context.Context, doc *Document) *gorm.DB {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(doc)
}

func (s *postgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
