package kv_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tscoredb/engine/kv"
	"github.com/tscoredb/engine/kv/badgerkv"
	"github.com/tscoredb/engine/kv/bboltkv"
)

// backendFactories returns one constructor per concrete kv.Backend so the
// same behavioral contract is exercised against both, matching the
// teacher's habit of running one test body against multiple kv.RwDB
// implementations.
func backendFactories(t *testing.T) map[string]func() kv.Backend {
	t.Helper()
	return map[string]func() kv.Backend{
		"bbolt": func() kv.Backend {
			b, err := bboltkv.Open(filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			return b
		},
		"badger": func() kv.Backend {
			b, err := badgerkv.Open(t.TempDir())
			require.NoError(t, err)
			return b
		},
	}
}

func TestBackendPutGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			b := factory()
			defer b.Close()

			tbl, err := b.RegisterKeyspace("demo", 16, 16, nil)
			require.NoError(err)

			tx, err := b.Begin(ctx, true)
			require.NoError(err)
			require.NoError(tx.Upsert(tbl, []byte("k1"), []byte("v1")))
			require.NoError(tx.Commit())

			tx, err = b.Begin(ctx, false)
			require.NoError(err)
			v, err := tx.Get(tbl, []byte("k1"))
			require.NoError(err)
			require.Equal([]byte("v1"), v)
			require.NoError(tx.Abort())

			tx, err = b.Begin(ctx, true)
			require.NoError(err)
			require.NoError(tx.Delete(tbl, []byte("k1")))
			require.NoError(tx.Commit())

			tx, err = b.Begin(ctx, false)
			require.NoError(err)
			_, err = tx.Get(tbl, []byte("k1"))
			require.Error(err)
			require.NoError(tx.Abort())
		})
	}
}

func TestCursorSeekOrderingAndBounds(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			b := factory()
			defer b.Close()

			tbl, err := b.RegisterKeyspace("demo", 16, 16, nil)
			require.NoError(err)

			tx, err := b.Begin(ctx, true)
			require.NoError(err)
			for _, k := range []string{"a", "c", "e"} {
				require.NoError(tx.Upsert(tbl, []byte(k), []byte(k+"v")))
			}
			require.NoError(tx.Commit())

			tx, err = b.Begin(ctx, false)
			require.NoError(err)
			cur, err := tx.OpenCursor(tbl)
			require.NoError(err)
			defer cur.Close()

			ord, err := cur.Seek([]byte("b"))
			require.NoError(err)
			require.Equal(kv.Greater, ord)
			k, v, ok := cur.Current()
			require.True(ok)
			require.Equal([]byte("c"), k)
			require.Equal([]byte("cv"), v)

			ord, err = cur.Seek([]byte("c"))
			require.NoError(err)
			require.Equal(kv.Eq, ord)

			require.NoError(cur.Last())
			k, _, ok = cur.Current()
			require.True(ok)
			require.Equal([]byte("e"), k)

			require.NoError(cur.Next())
			_, _, ok = cur.Current()
			require.False(ok, "stepping past the end must leave the cursor empty")

			require.NoError(cur.Next())
			_, _, ok = cur.Current()
			require.False(ok, "further movement after exhaustion is a no-op")

			require.NoError(tx.Abort())
		})
	}
}

func TestCursorWalkOrder(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			b := factory()
			defer b.Close()

			tbl, err := b.RegisterKeyspace("demo", 16, 16, nil)
			require.NoError(err)

			tx, err := b.Begin(ctx, true)
			require.NoError(err)
			for _, k := range []string{"a", "b", "c", "d"} {
				require.NoError(tx.Upsert(tbl, []byte(k), []byte(k)))
			}
			require.NoError(tx.Commit())

			tx, err = b.Begin(ctx, false)
			require.NoError(err)
			cur, err := tx.OpenCursor(tbl)
			require.NoError(err)
			defer cur.Close()

			require.NoError(cur.First())
			var forward []string
			for k, _, ok := cur.Current(); ok; k, _, ok = cur.Current() {
				forward = append(forward, string(k))
				require.NoError(cur.Next())
			}
			require.Equal([]string{"a", "b", "c", "d"}, forward)

			require.NoError(cur.Last())
			var backward []string
			for k, _, ok := cur.Current(); ok; k, _, ok = cur.Current() {
				backward = append(backward, string(k))
				require.NoError(cur.Prev())
			}
			require.Equal([]string{"d", "c", "b", "a"}, backward)
			require.NoError(tx.Abort())
		})
	}
}
