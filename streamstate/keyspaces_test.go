package streamstate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tscoredb/engine/keycodec"
)

func TestFillPutGetDelIsUnscopedByOperator(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			win := keycodec.WinKey{Ts: 10, GroupID: 3}
			s.SetNumber(1)
			require.NoError(s.FillPut(win, []byte("filled")))

			s.SetNumber(2)
			v, err := s.FillGet(win)
			require.NoError(err, "fill keyspace must be visible regardless of the active opNum")
			require.Equal([]byte("filled"), v)

			require.NoError(s.FillDel(win))
			_, err = s.FillGet(win)
			require.Error(err)
		})
	}
}

func TestFuncPutGetDel(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			k := keycodec.TupleKey("sum:group1")
			require.NoError(s.FuncPut(k, []byte("42")))

			v, err := s.FuncGet(k)
			require.NoError(err)
			require.Equal([]byte("42"), v)

			require.NoError(s.FuncDel(k))
			_, err = s.FuncGet(k)
			require.Error(err)
		})
	}
}

func TestParNameAndParTag(t *testing.T) {
	for name, opener := range openers(t) {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			s := openStore(t, opener)

			g := keycodec.GroupKey(7)
			require.NoError(s.ParNamePut(g, []byte("meter_readings")))
			require.NoError(s.ParTagPut(g, []byte("region=west")))

			name, err := s.ParNameGet(g)
			require.NoError(err)
			require.Equal([]byte("meter_readings"), name)

			tag, err := s.ParTagGet(g)
			require.NoError(err)
			require.Equal([]byte("region=west"), tag)
		})
	}
}
