package streamstate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tscoredb/engine/errs"
	"github.com/tscoredb/engine/keycodec"
	"github.com/tscoredb/engine/kv"
	"github.com/tscoredb/engine/kv/badgerkv"
	"github.com/tscoredb/engine/kv/bboltkv"
	"github.com/tscoredb/engine/streamstate"
)

func openers(t *testing.T) map[string]streamstate.Opener {
	t.Helper()
	return map[string]streamstate.Opener{
		"bbolt": func(path string) (kv.Backend, error) { return bboltkv.Open(path) },
		"badger": func(path string) (kv.Backend, error) { return badgerkv.Open(path) },
	}
}

func openStore(t *testing.T, opener streamstate.Opener) *streamstate.Store {
	t.Helper()
	s, err := streamstate.Open(context.Background(), t.TempDir(), opener, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestIntervalPutGetDel(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			win := keycodec.WinKey{Ts: 100, GroupID: 1}
			require.NoError(s.Put(win, []byte("v1")))

			v, err := s.Get(win)
			require.NoError(err)
			require.Equal([]byte("v1"), v)

			require.NoError(s.Del(win))
			_, err = s.Get(win)
			require.Error(err)
		})
	}
}

func TestOperatorScopeIsolation(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			win := keycodec.WinKey{Ts: 100, GroupID: 1}
			s.SetNumber(1)
			require.NoError(s.Put(win, []byte("A")))

			s.SetNumber(2)
			require.NoError(s.Put(win, []byte("B")))
			v, err := s.Get(win)
			require.NoError(err)
			require.Equal([]byte("B"), v)

			s.SetNumber(1)
			v, err = s.Get(win)
			require.NoError(err)
			require.Equal([]byte("A"), v)
		})
	}
}

func TestCursorRejectsForeignOperator(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			s.SetNumber(1)
			require.NoError(s.Put(keycodec.WinKey{Ts: 100, GroupID: 1}, []byte("A")))

			s.SetNumber(2)
			require.NoError(s.Put(keycodec.WinKey{Ts: 200, GroupID: 1}, []byte("B")))

			// The cursor is opened after both rows exist: a badger cursor
			// reads a snapshot taken when it is opened.
			s.SetNumber(1)
			c, err := s.OpenCursor()
			require.NoError(err)
			defer c.Close()

			// Keys are ordered (opNum, ts, groupId), so stepping past the
			// cursor's own opNum=1 row lands on the opNum=2 row.
			_, err = c.SeekKeyNext(keycodec.WinKey{Ts: 100, GroupID: 1})
			require.Error(err)
			require.ErrorIs(err, errs.ErrOperatorMismatch)
		})
	}
}

func TestSeekKeyPrevLandsOnNearestLesserKey(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			for _, ts := range []int64{5, 10, 15, 20, 100} {
				require.NoError(s.Put(keycodec.WinKey{Ts: ts, GroupID: 1}, []byte("v")))
			}

			c, err := s.OpenCursor()
			require.NoError(err)
			defer c.Close()

			sk, err := c.SeekKeyPrev(keycodec.WinKey{Ts: 12, GroupID: 1})
			require.NoError(err)
			require.Equal(int64(10), sk.Win.Ts)
		})
	}
}

func TestSeekKeyPrevPastEndReturnsLast(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			for _, ts := range []int64{5, 10, 15} {
				require.NoError(s.Put(keycodec.WinKey{Ts: ts, GroupID: 1}, []byte("v")))
			}

			c, err := s.OpenCursor()
			require.NoError(err)
			defer c.Close()

			sk, err := c.SeekKeyPrev(keycodec.WinKey{Ts: 1000, GroupID: 1})
			require.NoError(err)
			require.Equal(int64(15), sk.Win.Ts)
		})
	}
}

func TestCommitPersistsAcrossTxn(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			ctx := context.Background()
			s := openStore(t, opener)

			win := keycodec.WinKey{Ts: 50, GroupID: 7}
			require.NoError(s.Put(win, []byte("x")))
			require.NoError(s.Commit(ctx))

			v, err := s.Get(win)
			require.NoError(err)
			require.Equal([]byte("x"), v)
		})
	}
}

func TestClearRemovesOnlyCurrentOperator(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			s.SetNumber(1)
			require.NoError(s.Put(keycodec.WinKey{Ts: 1, GroupID: 1}, []byte("a")))
			s.SetNumber(2)
			require.NoError(s.Put(keycodec.WinKey{Ts: 1, GroupID: 1}, []byte("b")))

			require.NoError(s.Clear())
			_, err := s.Get(keycodec.WinKey{Ts: 1, GroupID: 1})
			require.Error(err)

			s.SetNumber(1)
			v, err := s.Get(keycodec.WinKey{Ts: 1, GroupID: 1})
			require.NoError(err)
			require.Equal([]byte("a"), v)
		})
	}
}
