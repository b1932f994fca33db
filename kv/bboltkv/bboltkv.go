// Package bboltkv implements kv.Backend over an embedded B-tree
// (go.etcd.io/bbolt) with explicit read/write transactions. Standing in for
// erigon-lib's cgo MDBX driver (erigontech/mdbx-go), which only builds
// through a cgo+vendored-C toolchain: bbolt offers the same ordered-bucket,
// single-writer/many-readers transaction shape in pure Go.
package bboltkv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tscoredb/engine/errs"
	"github.com/tscoredb/engine/kv"
)

// Backend wraps a single bbolt.DB file. Keyspaces are bbolt buckets.
type Backend struct {
	db   *bolt.DB
	path string
	// comparators records the comparator each keyspace was registered
	// with; bbolt itself always orders bucket keys by bytes.Compare, which
	// every keycodec in this module already produces. The recorded
	// comparator is not consulted: registering one that disagrees with
	// byte order is not detected.
	comparators map[string]kv.Comparator
}

// Open creates the parent directory if needed and opens (or creates) the
// bbolt file at path.
func Open(path string) (*Backend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("bboltkv: mkdir %s: %w", dir, errs.ErrIO)
		}
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bboltkv: open %s: %w", path, errs.ErrIO)
	}
	return &Backend{db: db, path: path, comparators: map[string]kv.Comparator{}}, nil
}

type table struct{ name string }

func (t table) Name() string { return t.name }

func (b *Backend) RegisterKeyspace(name string, _, _ int, cmp kv.Comparator) (kv.Tbl, error) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists([]byte(name))
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("bboltkv: register keyspace %s: %w", name, errs.ErrIO)
	}
	b.comparators[name] = cmp
	return table{name: name}, nil
}

func (b *Backend) Begin(_ context.Context, writable bool) (kv.Tx, error) {
	tx, err := b.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("bboltkv: begin: %w", errs.ErrIO)
	}
	return &boltTx{tx: tx, writable: writable}, nil
}

func (b *Backend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("bboltkv: close: %w", errs.ErrIO)
	}
	return nil
}

type boltTx struct {
	tx       *bolt.Tx
	writable bool
}

func (t *boltTx) Writable() bool { return t.writable }

func (t *boltTx) bucket(tbl kv.Tbl) (*bolt.Bucket, error) {
	bk := t.tx.Bucket([]byte(tbl.Name()))
	if bk == nil {
		return nil, fmt.Errorf("bboltkv: unknown keyspace %s: %w", tbl.Name(), errs.ErrInvalidArgument)
	}
	return bk, nil
}

func (t *boltTx) Upsert(tbl kv.Tbl, key, value []byte) error {
	bk, err := t.bucket(tbl)
	if err != nil {
		return err
	}
	if err := bk.Put(key, value); err != nil {
		return fmt.Errorf("bboltkv: put: %w", errs.ErrIO)
	}
	return nil
}

func (t *boltTx) Get(tbl kv.Tbl, key []byte) ([]byte, error) {
	bk, err := t.bucket(tbl)
	if err != nil {
		return nil, err
	}
	v := bk.Get(key)
	if v == nil {
		return nil, fmt.Errorf("bboltkv: get %x: %w", key, errs.ErrNotFound)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *boltTx) Delete(tbl kv.Tbl, key []byte) error {
	bk, err := t.bucket(tbl)
	if err != nil {
		return err
	}
	if err := bk.Delete(key); err != nil {
		return fmt.Errorf("bboltkv: delete: %w", errs.ErrIO)
	}
	return nil
}

func (t *boltTx) OpenCursor(tbl kv.Tbl) (kv.Cursor, error) {
	bk, err := t.bucket(tbl)
	if err != nil {
		return nil, err
	}
	return &boltCursor{c: bk.Cursor()}, nil
}

func (t *boltTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("bboltkv: commit: %w", errs.ErrIO)
	}
	return nil
}

func (t *boltTx) Abort() error {
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("bboltkv: rollback: %w", errs.ErrIO)
	}
	return nil
}

type boltCursor struct {
	c          *bolt.Cursor
	k, v       []byte
	positioned bool
}

func (bc *boltCursor) Seek(key []byte) (kv.Ordering, error) {
	k, v := bc.c.Seek(key)
	if k == nil {
		bc.positioned = false
		return kv.Greater, nil
	}
	bc.k, bc.v, bc.positioned = k, v, true
	return kv.OrderingOf(compareBytes(k, key)), nil
}

func (bc *boltCursor) First() error {
	k, v := bc.c.First()
	bc.k, bc.v, bc.positioned = k, v, k != nil
	return nil
}

func (bc *boltCursor) Last() error {
	k, v := bc.c.Last()
	bc.k, bc.v, bc.positioned = k, v, k != nil
	return nil
}

func (bc *boltCursor) Next() error {
	if !bc.positioned {
		return nil
	}
	k, v := bc.c.Next()
	bc.k, bc.v, bc.positioned = k, v, k != nil
	return nil
}

func (bc *boltCursor) Prev() error {
	if !bc.positioned {
		return nil
	}
	k, v := bc.c.Prev()
	bc.k, bc.v, bc.positioned = k, v, k != nil
	return nil
}

func (bc *boltCursor) Current() (key, value []byte, ok bool) {
	if !bc.positioned {
		return nil, nil, false
	}
	return bc.k, bc.v, true
}

func (bc *boltCursor) Close() {}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}
