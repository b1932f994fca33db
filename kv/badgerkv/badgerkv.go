// Package badgerkv implements kv.Backend over an embedded LSM
// (github.com/dgraph-io/badger/v4), where begin/commit/abort degenerate to
// no-ops and each write is immediately visible. Badger has no bucket
// concept, so keyspaces are simulated with a
// one-byte keyspace-id prefix folded into every key; the facade above is
// unaware of this and sees the same kv.Tbl handle shape either way.
//
// Grounded in other_examples' badger-backed KV wrapper
// (nicktill-tinyobs/pkg/storage/badger), which wraps the same
// Update/View/Txn API in the same style.
package badgerkv

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tscoredb/engine/errs"
	"github.com/tscoredb/engine/kv"
)

const metaPrefix = 0xFF

// Backend wraps a single badger.DB. Keyspace name -> prefix byte is
// persisted under the reserved 0xFF meta prefix so the mapping survives
// reopen.
type Backend struct {
	db *badger.DB

	mu      sync.Mutex
	nextID  byte
	prefix  map[string]byte
}

// Open creates the directory (badger.Open does this itself) and restores
// the keyspace->prefix mapping.
func Open(dir string) (*Backend, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerkv: open %s: %w", dir, errs.ErrIO)
	}
	b := &Backend{db: db, prefix: map[string]byte{}, nextID: 1}
	if err := b.loadPrefixes(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) loadPrefixes() error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{metaPrefix}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			name := string(key[1:])
			err := item.Value(func(val []byte) error {
				if len(val) == 1 {
					b.prefix[name] = val[0]
					if val[0] >= b.nextID {
						b.nextID = val[0] + 1
					}
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("badgerkv: load keyspace meta: %w", errs.ErrCorruption)
			}
		}
		return nil
	})
}

type table struct {
	name   string
	prefix byte
}

func (t table) Name() string { return t.name }

func (b *Backend) RegisterKeyspace(name string, _, _ int, _ kv.Comparator) (kv.Tbl, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.prefix[name]; ok {
		return table{name: name, prefix: id}, nil
	}
	if b.nextID == metaPrefix {
		return nil, fmt.Errorf("badgerkv: too many keyspaces: %w", errs.ErrInvalidArgument)
	}
	id := b.nextID
	b.nextID++
	b.prefix[name] = id
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append([]byte{metaPrefix}, name...), []byte{id})
	})
	if err != nil {
		return nil, fmt.Errorf("badgerkv: persist keyspace %s: %w", name, errs.ErrIO)
	}
	return table{name: name, prefix: id}, nil
}

// Begin returns a Tx that does not stage writes in a held badger.Txn: every
// Upsert/Delete runs its own immediate b.db.Update and is visible to every
// other caller as soon as that call returns. Commit and Abort are therefore
// both literal no-ops — callers observe "read-committed latest" semantics
// whether or not they ever call Commit.
func (b *Backend) Begin(_ context.Context, writable bool) (kv.Tx, error) {
	return &badgerTx{db: b.db, writable: writable}, nil
}

func (b *Backend) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("badgerkv: close: %w", errs.ErrIO)
	}
	return nil
}

type badgerTx struct {
	db       *badger.DB
	writable bool
}

func (t *badgerTx) Writable() bool { return t.writable }

func prefixed(tbl kv.Tbl, key []byte) []byte {
	tb := tbl.(table)
	out := make([]byte, 0, 1+len(key))
	out = append(out, tb.prefix)
	out = append(out, key...)
	return out
}

// Upsert applies immediately: it runs its own db.Update and returns only
// once that write is durable and visible, rather than staging it against a
// held transaction for a later Commit.
func (t *badgerTx) Upsert(tbl kv.Tbl, key, value []byte) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(prefixed(tbl, key), value)
	})
	if err != nil {
		return fmt.Errorf("badgerkv: set: %w", errs.ErrIO)
	}
	return nil
}

// Get always reads against a fresh db.View, so it observes every write
// committed before the call, including ones from Tx objects never Committed.
func (t *badgerTx) Get(tbl kv.Tbl, key []byte) ([]byte, error) {
	var out []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefixed(tbl, key))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("badgerkv: get %x: %w", key, errs.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("badgerkv: get: %w", errs.ErrIO)
	}
	return out, nil
}

// Delete applies immediately, matching Upsert.
func (t *badgerTx) Delete(tbl kv.Tbl, key []byte) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(prefixed(tbl, key))
	})
	if err != nil {
		return fmt.Errorf("badgerkv: delete: %w", errs.ErrIO)
	}
	return nil
}

// OpenCursor takes its own read-only badger.Txn as a stable snapshot for the
// cursor's walk; that snapshot sees every write committed up to this call,
// matching the immediate-visibility contract up to the moment the walk
// begins.
func (t *badgerTx) OpenCursor(tbl kv.Tbl) (kv.Cursor, error) {
	tb := tbl.(table)
	txn := t.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	return &badgerCursor{txn: txn, it: it, prefix: []byte{tb.prefix}}, nil
}

// Commit is a no-op: every write already applied and became visible at its
// own Upsert/Delete call.
func (t *badgerTx) Commit() error { return nil }

// Abort is a no-op for the same reason: there is no staged state to discard.
func (t *badgerTx) Abort() error { return nil }

// badgerCursor adapts badger's forward-only Iterator to kv.Cursor's
// bidirectional contract by re-seeking for Prev/Last; badger iterators have
// no native reverse mode switch mid-stream, so this walks the keyspace via
// a fresh snapshot of key order captured at open lazily through re-seek.
type badgerCursor struct {
	txn        *badger.Txn
	it         *badger.Iterator
	prefix     []byte
	k, v       []byte
	positioned bool
	closed     bool
}

func (bc *badgerCursor) withinPrefix(k []byte) bool { return bytes.HasPrefix(k, bc.prefix) }

func (bc *badgerCursor) loadCurrent() {
	if !bc.it.ValidForPrefix(bc.prefix) {
		bc.positioned = false
		return
	}
	item := bc.it.Item()
	bc.k = item.KeyCopy(nil)[len(bc.prefix):]
	v, err := item.ValueCopy(nil)
	if err != nil {
		bc.positioned = false
		return
	}
	bc.v = v
	bc.positioned = true
}

func (bc *badgerCursor) Seek(key []byte) (kv.Ordering, error) {
	bc.it.Seek(append(append([]byte{}, bc.prefix...), key...))
	bc.loadCurrent()
	if !bc.positioned {
		return kv.Greater, nil
	}
	return kv.OrderingOf(bytes.Compare(bc.k, key)), nil
}

func (bc *badgerCursor) First() error {
	bc.it.Seek(bc.prefix)
	bc.loadCurrent()
	return nil
}

// Last scans to the end of the keyspace's prefix range. Badger iterators
// are forward-only per instance, so a reverse cursor would need its own
// badger.IteratorOptions{Reverse:true} iterator; Last/Prev here are
// implemented by materializing the final key via a full forward scan,
// which is correct but not optimal — acceptable because stream-state
// cursor walks are short-lived.
func (bc *badgerCursor) Last() error {
	bc.it.Seek(bc.prefix)
	var lastK, lastV []byte
	found := false
	for ; bc.it.ValidForPrefix(bc.prefix); bc.it.Next() {
		item := bc.it.Item()
		lastK = item.KeyCopy(nil)[len(bc.prefix):]
		v, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("badgerkv: last: %w", errs.ErrIO)
		}
		lastV = v
		found = true
	}
	if found {
		bc.k, bc.v, bc.positioned = lastK, lastV, true
	} else {
		bc.positioned = false
	}
	return nil
}

func (bc *badgerCursor) Next() error {
	if !bc.positioned {
		return nil
	}
	bc.it.Next()
	bc.loadCurrent()
	return nil
}

// Prev re-seeks from the start and walks forward to the entry just before
// the current key, mirroring Last's forward-scan tradeoff.
func (bc *badgerCursor) Prev() error {
	if !bc.positioned {
		return nil
	}
	cur := append([]byte(nil), bc.k...)
	bc.it.Seek(bc.prefix)
	var prevK, prevV []byte
	found := false
	for ; bc.it.ValidForPrefix(bc.prefix); bc.it.Next() {
		item := bc.it.Item()
		k := item.KeyCopy(nil)[len(bc.prefix):]
		if bytes.Compare(k, cur) >= 0 {
			break
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("badgerkv: prev: %w", errs.ErrIO)
		}
		prevK, prevV, found = k, v, true
	}
	if found {
		bc.k, bc.v, bc.positioned = prevK, prevV, true
	} else {
		bc.positioned = false
	}
	return nil
}

func (bc *badgerCursor) Current() (key, value []byte, ok bool) {
	if !bc.positioned {
		return nil, nil, false
	}
	return bc.k, bc.v, true
}

func (bc *badgerCursor) Close() {
	if !bc.closed {
		bc.it.Close()
		bc.txn.Discard()
		bc.closed = true
	}
}
