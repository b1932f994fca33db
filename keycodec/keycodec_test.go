package keycodec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateKeyRoundTrip(t *testing.T) {
	require := require.New(t)
	k := StateKey{OpNum: -7, Win: WinKey{Ts: -12345, GroupID: 9876543210}}
	enc := EncodeStateKey(k)
	dec, err := DecodeStateKey(enc)
	require.NoError(err)
	require.Equal(k, dec)
}

func TestStateKeyOrderMatchesByteOrder(t *testing.T) {
	require := require.New(t)
	r := rand.New(rand.NewSource(1))
	keys := make([]StateKey, 200)
	for i := range keys {
		keys[i] = StateKey{
			OpNum: int32(r.Intn(2000) - 1000),
			Win: WinKey{
				Ts:      int64(r.Intn(200000) - 100000),
				GroupID: uint64(r.Intn(1000000)),
			},
		}
	}
	for i := range keys {
		for j := range keys {
			semantic := CompareStateKey(keys[i], keys[j])
			byteCmp := bytes.Compare(EncodeStateKey(keys[i]), EncodeStateKey(keys[j]))
			require.Equal(sign(semantic), sign(byteCmp), "mismatch at %d,%d: %+v vs %+v", i, j, keys[i], keys[j])
		}
	}
}

func TestSessionKeyRoundTripAndOrder(t *testing.T) {
	require := require.New(t)
	a := SessionKey{GroupID: 1, Win: SessionRange{Skey: -5, Ekey: 10}}
	enc := EncodeSessionKey(a)
	dec, err := DecodeSessionKey(enc)
	require.NoError(err)
	require.Equal(a, dec)

	b := SessionKey{GroupID: 1, Win: SessionRange{Skey: 11, Ekey: 20}}
	require.True(CompareSessionKey(a, b) < 0)
	require.True(bytes.Compare(EncodeSessionKey(a), EncodeSessionKey(b)) < 0)
}

func TestRangeOverlaps(t *testing.T) {
	require := require.New(t)
	a := SessionKey{GroupID: 1, Win: SessionRange{Skey: 100, Ekey: 200}}
	b := SessionKey{GroupID: 1, Win: SessionRange{Skey: 205, Ekey: 210}}
	require.False(RangeOverlaps(a, b))

	c := SessionKey{GroupID: 1, Win: SessionRange{Skey: 150, Ekey: 160}}
	require.True(RangeOverlaps(a, c))

	d := SessionKey{GroupID: 2, Win: SessionRange{Skey: 150, Ekey: 160}}
	require.False(RangeOverlaps(a, d))
}

func TestStateSessionKeyRoundTrip(t *testing.T) {
	require := require.New(t)
	k := StateSessionKey{OpNum: 3, Session: SessionKey{GroupID: 42, Win: SessionRange{Skey: -1, Ekey: 1}}}
	enc := EncodeStateSessionKey(k)
	dec, err := DecodeStateSessionKey(enc)
	require.NoError(err)
	require.Equal(k, dec)
}

func TestTupleKeyIsLexicographic(t *testing.T) {
	require := require.New(t)
	a := TupleKey("aaa")
	b := TupleKey("aab")
	require.True(CompareTupleKey(a, b) < 0)
	require.Equal(0, bytes.Compare(EncodeTupleKey(a), a))
}

func TestGroupKeyRoundTrip(t *testing.T) {
	require := require.New(t)
	k := GroupKey(-99)
	dec, err := DecodeGroupKey(EncodeGroupKey(k))
	require.NoError(err)
	require.Equal(k, dec)
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}
