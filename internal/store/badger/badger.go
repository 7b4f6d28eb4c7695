// Package badger keeps service snapshots in an embedded Badger key-value
// store, one key per service under the "svc:" prefix.
package badger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/loykin/svcmgr/internal/store"
)

const keyPrefix = "svc:"

type DB struct {
	db *badger.DB
}

// New opens (creating if needed) a Badger database in dir.
func New(dir string) (*DB, error) {
	d := strings.TrimSpace(dir)
	if d == "" {
		return nil, errors.New("empty badger directory")
	}
	opts := badger.DefaultOptions(d)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &DB{db: db}, nil
}

// EnsureSchema is a no-op; Badger is schemaless.
func (b *DB) EnsureSchema(context.Context) error { return nil }

func (b *DB) Close() error { return b.db.Close() }

func (b *DB) Save(ctx context.Context, snaps []store.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now().UTC()
	return b.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn); err != nil {
			return err
		}
		for _, sn := range snaps {
			if sn.UpdatedAt.IsZero() {
				sn.UpdatedAt = now
			}
			val, err := json.Marshal(sn)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(keyPrefix+sn.Name), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefix(txn *badger.Txn) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	prefix := []byte(keyPrefix)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (b *DB) Load(ctx context.Context) ([]store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]store.Snapshot, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		// keys iterate in byte order, which is name order
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sn store.Snapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sn)
			}); err != nil {
				return err
			}
			out = append(out, sn)
		}
		return nil
	})
	return out, err
}
