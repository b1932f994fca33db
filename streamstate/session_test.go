package streamstate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tscoredb/engine/keycodec"
)

func TestSessionAddIfNotExistCreatesThenMerges(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			k1 := keycodec.SessionKey{GroupID: 1, Win: keycodec.SessionRange{Skey: 100, Ekey: 150}}
			got, _, created, err := s.SessionAddIfNotExist(k1, 10, 8)
			require.NoError(err)
			require.True(created)
			require.Equal(k1, got)

			// Gap-tolerant neighbor: [160,210] is within 10 of [100,150]'s
			// end (150+10=160), so it must merge into [100,210].
			k2 := keycodec.SessionKey{GroupID: 1, Win: keycodec.SessionRange{Skey: 160, Ekey: 210}}
			merged, _, created, err := s.SessionAddIfNotExist(k2, 10, 8)
			require.NoError(err)
			require.False(created)
			require.Equal(int64(100), merged.Win.Skey)
			require.Equal(int64(210), merged.Win.Ekey)

			// The pre-merge session keys must no longer exist individually.
			_, err = s.SessionGet(k1)
			require.Error(err)

			v, err := s.SessionGet(merged)
			require.NoError(err)
			require.NotNil(v)
		})
	}
}

func TestSessionAddIfNotExistNoMergeWhenGapExceeded(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			k1 := keycodec.SessionKey{GroupID: 1, Win: keycodec.SessionRange{Skey: 100, Ekey: 150}}
			_, _, created, err := s.SessionAddIfNotExist(k1, 5, 8)
			require.NoError(err)
			require.True(created)

			k2 := keycodec.SessionKey{GroupID: 1, Win: keycodec.SessionRange{Skey: 200, Ekey: 250}}
			_, _, created, err = s.SessionAddIfNotExist(k2, 5, 8)
			require.NoError(err)
			require.True(created, "far-apart sessions outside the gap must not merge")
		})
	}
}

func TestSessionGetKeyByRangeFindsOverlap(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			k1 := keycodec.SessionKey{GroupID: 1, Win: keycodec.SessionRange{Skey: 100, Ekey: 200}}
			require.NoError(s.SessionPut(k1, []byte("v")))

			probe := keycodec.SessionKey{GroupID: 1, Win: keycodec.SessionRange{Skey: 150, Ekey: 160}}
			found, _, ok, err := s.SessionGetKeyByRange(probe)
			require.NoError(err)
			require.True(ok)
			require.Equal(k1, found)

			miss := keycodec.SessionKey{GroupID: 1, Win: keycodec.SessionRange{Skey: 500, Ekey: 600}}
			_, _, ok, err = s.SessionGetKeyByRange(miss)
			require.NoError(err)
			require.False(ok)
		})
	}
}

func TestSessionScopedByOperator(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			k := keycodec.SessionKey{GroupID: 1, Win: keycodec.SessionRange{Skey: 0, Ekey: 10}}
			s.SetNumber(1)
			require.NoError(s.SessionPut(k, []byte("A")))

			s.SetNumber(2)
			_, err := s.SessionGet(k)
			require.Error(err, "session state must not leak across opNum")
		})
	}
}
