package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// boltStore keeps documents in a single embedded bbolt file, one key per document.
type boltStore struct {
	db *bbolt.DB
}

func OpenBolt(path string) (DocumentStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt file %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create documents bucket: %w", err)
	}

	return &boltStore{db: db}, nil
}

func (s *boltStore) Load(ctx context.Context, name string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(documentsBucket).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	if err != nil {
		return false, fmt.Errorf("read document %s: %w", name, err)
	}
	return found, nil
}

func (s *boltStore) Save(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", name, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(name), data)
	})
	if err != nil {
		return fmt.Errorf("write document %s: %w", name, err)
	}
	return nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
