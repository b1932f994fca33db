// Package streamstate implements the typed facade over kv.Backend that
// maintains per-operator window and session state for stream pipelines.
// streamStateOpen in the original stream-state engine always creates all six
// keyspace files together (interval, fill, session, func, par-name,
// par-tag), so this package always opens all six rather than lazily
// creating them.
package streamstate

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	logpkg "github.com/ledgerwatch/log/v3"
	"go.uber.org/atomic"

	"github.com/tscoredb/engine/errs"
	"github.com/tscoredb/engine/kv"
)

// Config mirrors the on-disk "cfg" file: two lines, pageSize then
// pageCount.
type Config struct {
	PageSize  int
	PageCount int
}

// DefaultConfig is written when cfg is absent at open.
var DefaultConfig = Config{PageSize: 4096, PageCount: 256}

// Opener constructs a kv.Backend rooted at path. bboltkv.Open and
// badgerkv.Open both satisfy this after a thin signature wrap.
type Opener func(path string) (kv.Backend, error)

const mainTable = "main"

// keyspace identifies one of the six logical keyspaces a Store maintains.
type keyspace int

const (
	ksInterval keyspace = iota
	ksFill
	ksFunc
	ksSession
	ksParName
	ksParTag
	numKeyspaces
)

var keyspaceFile = [numKeyspaces]string{
	ksInterval: "state.db",
	ksFill:     "fill.state.db",
	ksFunc:     "func.state.db",
	ksSession:  "session.state.db",
	ksParName:  "parname.state.db",
	ksParTag:   "partag.state.db",
}

// storeState is the lifecycle state machine:
// OPEN -> (TXN_ACTIVE <-> COMMITTED/ABORTED) -> CLOSED.
type storeState int32

const (
	stateOpen storeState = iota
	stateTxnActive
	stateClosed
)

// Store is a typed, operator-scoped facade over six keyspaces backed by a
// kv.Backend each. All keyed operations compose opNum from the store's
// current SetNumber value, never from the caller, so cursor operator-scope
// isolation is enforced in one place.
type Store struct {
	dir    string
	logger logpkg.Logger

	backends [numKeyspaces]kv.Backend
	tbls     [numKeyspaces]kv.Tbl
	txs      [numKeyspaces]kv.Tx

	opNum atomic.Int32
	state atomic.Int32 // storeState

	mu sync.Mutex
}

// Open opens (or creates) the task directory dir, reading/writing cfg, and
// opens all six keyspaces through opener. A fresh write transaction is
// started immediately so the store is always writable.
func Open(ctx context.Context, dir string, opener Opener, logger logpkg.Logger) (*Store, error) {
	if logger == nil {
		logger = logpkg.Root()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("streamstate: mkdir %s: %w", dir, errs.ErrIO)
	}
	if _, err := loadOrWriteConfig(filepath.Join(dir, "cfg")); err != nil {
		return nil, err
	}

	s := &Store{dir: dir, logger: logger}
	for ks := keyspace(0); ks < numKeyspaces; ks++ {
		backend, err := opener(filepath.Join(dir, keyspaceFile[ks]))
		if err != nil {
			s.closeBackends(int(ks))
			return nil, fmt.Errorf("streamstate: open %s: %w", keyspaceFile[ks], errs.ErrIO)
		}
		tbl, err := backend.RegisterKeyspace(mainTable, 0, 0, nil)
		if err != nil {
			backend.Close()
			s.closeBackends(int(ks))
			return nil, fmt.Errorf("streamstate: register %s: %w", keyspaceFile[ks], errs.ErrIO)
		}
		s.backends[ks] = backend
		s.tbls[ks] = tbl
	}

	if err := s.begin(ctx); err != nil {
		s.closeBackends(int(numKeyspaces))
		return nil, err
	}
	return s, nil
}

func (s *Store) closeBackends(n int) {
	for i := 0; i < n; i++ {
		if s.backends[i] != nil {
			s.backends[i].Close()
		}
	}
}

func loadOrWriteConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("streamstate: read cfg: %w", errs.ErrIO)
		}
		if err := writeConfig(path, DefaultConfig); err != nil {
			return Config{}, err
		}
		return DefaultConfig, nil
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	var cfg Config
	if sc.Scan() {
		fmt.Sscanf(sc.Text(), "%d", &cfg.PageSize)
	}
	if sc.Scan() {
		fmt.Sscanf(sc.Text(), "%d", &cfg.PageCount)
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultConfig.PageSize
	}
	if cfg.PageCount == 0 {
		cfg.PageCount = DefaultConfig.PageCount
	}
	return cfg, nil
}

func writeConfig(path string, cfg Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("streamstate: write cfg: %w", errs.ErrIO)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d\n%d\n", cfg.PageSize, cfg.PageCount); err != nil {
		return fmt.Errorf("streamstate: write cfg: %w", errs.ErrIO)
	}
	return nil
}

// SetNumber switches the active operator scope (stream_state_set_number).
func (s *Store) SetNumber(opNum int32) { s.opNum.Store(opNum) }

// Number returns the current operator scope.
func (s *Store) Number() int32 { return s.opNum.Load() }

func (s *Store) checkOpen() error {
	if storeState(s.state.Load()) == stateClosed {
		return fmt.Errorf("streamstate: %w", errs.ErrClosed)
	}
	return nil
}

func (s *Store) begin(ctx context.Context) error {
	for ks := keyspace(0); ks < numKeyspaces; ks++ {
		tx, err := s.backends[ks].Begin(ctx, true)
		if err != nil {
			return fmt.Errorf("streamstate: begin %s: %w", keyspaceFile[ks], errs.ErrIO)
		}
		s.txs[ks] = tx
	}
	s.state.Store(int32(stateTxnActive))
	return nil
}

// Begin is a no-op when a transaction is already active; the store stays
// writable outside of Commit/Abort's brief reopen window.
func (s *Store) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if storeState(s.state.Load()) == stateTxnActive {
		return nil
	}
	return s.begin(ctx)
}

// Commit commits the active transaction across all six keyspaces, then
// immediately opens a fresh one so the store remains writable.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for ks := keyspace(0); ks < numKeyspaces; ks++ {
		if err := s.txs[ks].Commit(); err != nil {
			return fmt.Errorf("streamstate: commit %s: %w", keyspaceFile[ks], errs.ErrIO)
		}
	}
	return s.begin(ctx)
}

// Abort discards the active transaction's writes, then opens a fresh one.
func (s *Store) Abort(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for ks := keyspace(0); ks < numKeyspaces; ks++ {
		if err := s.txs[ks].Abort(); err != nil {
			return fmt.Errorf("streamstate: abort %s: %w", keyspaceFile[ks], errs.ErrIO)
		}
	}
	return s.begin(ctx)
}

// Close commits any pending transaction then releases backend resources.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if storeState(s.state.Load()) == stateClosed {
		return nil
	}
	if storeState(s.state.Load()) == stateTxnActive {
		for ks := keyspace(0); ks < numKeyspaces; ks++ {
			if err := s.txs[ks].Commit(); err != nil {
				s.logger.Warn("streamstate: commit on close failed", "keyspace", keyspaceFile[ks], "err", err)
			}
		}
	}
	var firstErr error
	for ks := keyspace(0); ks < numKeyspaces; ks++ {
		if err := s.backends[ks].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.state.Store(int32(stateClosed))
	if firstErr != nil {
		return fmt.Errorf("streamstate: close: %w", errs.ErrIO)
	}
	return nil
}

// Clear scans all keys of the current opNum in the interval keyspace and
// deletes them (stream_state_clear).
func (s *Store) Clear() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	cur, err := s.txs[ksInterval].OpenCursor(s.tbls[ksInterval])
	if err != nil {
		return fmt.Errorf("streamstate: clear: %w", errs.ErrIO)
	}
	defer cur.Close()

	opNum := s.opNum.Load()
	var toDelete [][]byte
	for err := cur.First(); err == nil; err = cur.Next() {
		k, _, ok := cur.Current()
		if !ok {
			break
		}
		sk, decErr := decodeStateKeyPrefix(k)
		if decErr != nil {
			return fmt.Errorf("streamstate: clear decode: %w", errs.ErrCorruption)
		}
		if sk != opNum {
			continue
		}
		toDelete = append(toDelete, append([]byte(nil), k...))
	}
	for _, k := range toDelete {
		if err := s.txs[ksInterval].Delete(s.tbls[ksInterval], k); err != nil {
			return fmt.Errorf("streamstate: clear delete: %w", errs.ErrIO)
		}
	}
	return nil
}
