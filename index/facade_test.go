package index_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tscoredb/engine/index"
	"github.com/tscoredb/engine/index/flush"
	"github.com/tscoredb/engine/index/tfile"
)

func openIndex(t *testing.T) *index.Index {
	t.Helper()
	idx, err := index.Open(t.TempDir(), flush.InlineFlusher{}, nil)
	require.NoError(t, err)
	t.Cleanup(idx.Close)
	return idx
}

func TestPutSearchDeleteVisibility(t *testing.T) {
	idx := openIndex(t)

	require.NoError(t, idx.Put("region", 1, tfile.ColTypeString, []byte("east"), 1, tfile.OperAdd))
	require.NoError(t, idx.Put("region", 1, tfile.ColTypeString, []byte("east"), 2, tfile.OperAdd))

	got, err := idx.Search("region", []byte("east"))
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{1, 2}, got)

	require.NoError(t, idx.Delete("region", 1, tfile.ColTypeString, []byte("east"), 1))
	got, err = idx.Search("region", []byte("east"))
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, got)
}

func TestRebuildFlushesToSegmentAndSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	idx, err := index.Open(dir, flush.InlineFlusher{}, nil)
	require.NoError(t, err)

	require.NoError(t, idx.Put("region", 1, tfile.ColTypeString, []byte("east"), 1, tfile.OperAdd))
	require.NoError(t, idx.Put("region", 1, tfile.ColTypeString, []byte("west"), 2, tfile.OperAdd))
	require.NoError(t, idx.Rebuild("region"))

	got, err := idx.Search("region", []byte("east"))
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, got)
	idx.Close()

	reopened, err := index.Open(dir, flush.InlineFlusher{}, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err = reopened.Search("region", []byte("east"))
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, got)
}

func TestRebuildThenNewWritesStillVisible(t *testing.T) {
	idx := openIndex(t)

	require.NoError(t, idx.Put("region", 1, tfile.ColTypeString, []byte("east"), 1, tfile.OperAdd))
	require.NoError(t, idx.Rebuild("region"))
	require.NoError(t, idx.Put("region", 1, tfile.ColTypeString, []byte("east"), 2, tfile.OperAdd))

	got, err := idx.Search("region", []byte("east"))
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{1, 2}, got)
}

func TestRebuildCollapsesTombstoneAgainstSegment(t *testing.T) {
	idx := openIndex(t)

	require.NoError(t, idx.Put("region", 1, tfile.ColTypeString, []byte("east"), 1, tfile.OperAdd))
	require.NoError(t, idx.Put("region", 1, tfile.ColTypeString, []byte("east"), 2, tfile.OperAdd))
	require.NoError(t, idx.Rebuild("region"))

	require.NoError(t, idx.Delete("region", 1, tfile.ColTypeString, []byte("east"), 1))
	require.NoError(t, idx.Rebuild("region"))

	got, err := idx.Search("region", []byte("east"))
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, got)
}

func TestMultiTermQueryMustAcrossTwoColumns(t *testing.T) {
	idx := openIndex(t)

	require.NoError(t, idx.Put("region", 1, tfile.ColTypeString, []byte("east"), 1, tfile.OperAdd))
	require.NoError(t, idx.Put("region", 1, tfile.ColTypeString, []byte("east"), 2, tfile.OperAdd))
	require.NoError(t, idx.Put("status", 1, tfile.ColTypeString, []byte("active"), 1, tfile.OperAdd))
	require.NoError(t, idx.Put("status", 1, tfile.ColTypeString, []byte("active"), 3, tfile.OperAdd))

	q := index.NewMultiTermQuery(index.Must)
	q.Add(index.TermQuery{Col: "region", Term: []byte("east"), QType: index.QEqual})
	q.Add(index.TermQuery{Col: "status", Term: []byte("active"), QType: index.QEqual})

	got, err := idx.Eval(q)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, got)
}

func TestMultiTermQueryShouldAcrossTwoColumns(t *testing.T) {
	idx := openIndex(t)

	require.NoError(t, idx.Put("region", 1, tfile.ColTypeString, []byte("east"), 1, tfile.OperAdd))
	require.NoError(t, idx.Put("status", 1, tfile.ColTypeString, []byte("active"), 3, tfile.OperAdd))

	q := index.NewMultiTermQuery(index.Should)
	q.Add(index.TermQuery{Col: "region", Term: []byte("east"), QType: index.QEqual})
	q.Add(index.TermQuery{Col: "status", Term: []byte("active"), QType: index.QEqual})

	got, err := idx.Eval(q)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{1, 3}, got)
}

func TestRebuildAllBoundedConcurrency(t *testing.T) {
	idx := openIndex(t)

	for i := 0; i < 5; i++ {
		col := string(rune('a' + i))
		require.NoError(t, idx.Put(col, 1, tfile.ColTypeString, []byte("t"), uint64(i), tfile.OperAdd))
	}

	require.NoError(t, idx.RebuildAll(context.Background(), 2))

	for i := 0; i < 5; i++ {
		col := string(rune('a' + i))
		got, err := idx.Search(col, []byte("t"))
		require.NoError(t, err)
		require.Equal(t, []uint64{uint64(i)}, got)
	}
}
