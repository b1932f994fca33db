/*
   Copyright 2022 Erigon contributors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package kv defines the abstract ordered key/value backend the stream
// state store and the index facade are built on. Two concrete backends
// implement it: kv/bboltkv (embedded B-tree, explicit transactions) and
// kv/badgerkv (embedded LSM, begin/commit/abort degrade to no-ops). The
// facade above must behave identically under both.
package kv

import "context"

// Variable naming convention used throughout this package:
//   tbl - table / keyspace handle
//   tx  - a Backend transaction
//   k,v - key, value

// Comparator orders two encoded keys within a keyspace. The registered
// Comparator must equal the byte order of the keyspace's key codec, so
// that byte-order comparison and semantic comparison always agree.
type Comparator func(a, b []byte) int

// Ordering mirrors the tri-valued result of a cursor Seek: the positioned
// key compares Less/Equal/Greater than the sought key.
type Ordering int

const (
	Less Ordering = -1
	Eq   Ordering = 0
	Greater Ordering = 1
)

func OrderingOf(cmp int) Ordering {
	switch {
	case cmp < 0:
		return Less
	case cmp > 0:
		return Greater
	default:
		return Eq
	}
}

// Tbl is an opaque handle to a registered keyspace.
type Tbl interface {
	Name() string
}

// Backend is the capability set a concrete ordered-KV engine must provide.
// Open is idempotent: it creates the backing directory if needed.
type Backend interface {
	// RegisterKeyspace declares a keyspace with the given comparator. Size
	// hints are advisory (page/value sizing) and may be ignored by a given
	// backend.
	RegisterKeyspace(name string, keySizeHint, valueSizeHint int, cmp Comparator) (Tbl, error)

	// Begin starts a transaction. For a B-tree backend this is a real
	// transaction; for an LSM backend this may return a handle whose
	// Commit/Abort are no-ops.
	Begin(ctx context.Context, writable bool) (Tx, error)

	// Close releases all backend resources. It does not commit or abort a
	// transaction that is still open on the backend.
	Close() error
}

// Tx is a (possibly read-only) transaction handle.
type Tx interface {
	// Writable reports whether this Tx permits Upsert/Delete.
	Writable() bool

	Upsert(tbl Tbl, key, value []byte) error
	Get(tbl Tbl, key []byte) ([]byte, error)
	Delete(tbl Tbl, key []byte) error

	OpenCursor(tbl Tbl) (Cursor, error)

	// Commit finalizes the transaction. On a backend where Begin/Commit
	// degrade to no-ops, Commit always succeeds.
	Commit() error
	// Abort discards the transaction's writes. A no-op on backends without
	// real transactions.
	Abort() error
}

// Cursor navigates a keyspace in its registered comparator's order.
//
// Contract: after Seek(k), the returned Ordering compares the *positioned*
// key against k, so callers can decide whether to step. After
// any movement that fails to find a row (e.g. Next past the end), Current
// returns (nil, nil, false) and further movement is a no-op returning the
// same empty state.
type Cursor interface {
	Seek(key []byte) (Ordering, error)
	First() error
	Last() error
	Next() error
	Prev() error

	// Current returns the key/value at the cursor's position, or ok=false
	// if the cursor is not positioned on a row.
	Current() (key, value []byte, ok bool)

	Close()
}
