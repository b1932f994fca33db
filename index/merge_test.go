package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tscoredb/engine/index/tfile"
)

func TestCombineMustIntersects(t *testing.T) {
	got := Combine(Must, []uint64{1, 2, 3}, []uint64{2, 3, 4})
	require.Equal(t, []uint64{2, 3}, got)
}

func TestCombineShouldUnions(t *testing.T) {
	got := Combine(Should, []uint64{1, 2}, []uint64{2, 3})
	require.Equal(t, []uint64{1, 2, 3}, got)
}

func TestCombineNotSubtracts(t *testing.T) {
	got := Combine(Not, []uint64{1, 2, 3}, []uint64{2})
	require.Equal(t, []uint64{1, 3}, got)
}

func writeSegment(t *testing.T, terms []tfile.Term) *tfile.Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seg.tf")
	w := tfile.Open(path, 1, tfile.ColTypeString, "col")
	require.NoError(t, w.Put(terms))
	require.NoError(t, w.Close(1))
	r, err := tfile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Unref() })
	return r
}

func TestMergeFlushNoExistingSegment(t *testing.T) {
	c := NewCache(0, 1<<20)
	c.Put([]byte("x"), 1, tfile.OperAdd)
	c.Put([]byte("y"), 2, tfile.OperAdd)

	merged := mergeFlush(c.Iterator(), nil)
	require.Len(t, merged, 2)
	require.Equal(t, []byte("x"), merged[0].Key)
	require.Equal(t, []uint64{1}, merged[0].UIDs)
	require.Equal(t, []byte("y"), merged[1].Key)
	require.Equal(t, []uint64{2}, merged[1].UIDs)
}

func TestMergeFlushUnionsOverlappingTerm(t *testing.T) {
	c := NewCache(0, 1<<20)
	c.Put([]byte("x"), 5, tfile.OperAdd)

	seg := writeSegment(t, []tfile.Term{{Key: []byte("x"), UIDs: []uint64{1, 2}}})
	merged := mergeFlush(c.Iterator(), seg.Iterator())
	require.Len(t, merged, 1)
	require.Equal(t, []uint64{1, 2, 5}, merged[0].UIDs)
}

func TestMergeFlushAppliesTombstone(t *testing.T) {
	c := NewCache(0, 1<<20)
	c.Put([]byte("x"), 1, tfile.OperDel)

	seg := writeSegment(t, []tfile.Term{{Key: []byte("x"), UIDs: []uint64{1, 2}}})
	merged := mergeFlush(c.Iterator(), seg.Iterator())
	require.Len(t, merged, 1)
	require.Equal(t, []uint64{2}, merged[0].UIDs)
}

func TestMergeFlushPassesThroughNonOverlappingTerms(t *testing.T) {
	c := NewCache(0, 1<<20)
	c.Put([]byte("b"), 1, tfile.OperAdd)

	seg := writeSegment(t, []tfile.Term{{Key: []byte("a"), UIDs: []uint64{9}}})
	merged := mergeFlush(c.Iterator(), seg.Iterator())
	require.Len(t, merged, 2)
	require.Equal(t, []byte("a"), merged[0].Key)
	require.Equal(t, []byte("b"), merged[1].Key)
}

func TestUnionWithTombstones(t *testing.T) {
	got := unionWithTombstones([]uint64{1, 2}, []uint64{3}, []uint64{2})
	require.Equal(t, []uint64{1, 3}, got)
}

func TestSortedUnion(t *testing.T) {
	got := sortedUnion([]uint64{1, 3}, []uint64{2, 3})
	require.Equal(t, []uint64{1, 2, 3}, got)
}

func TestIndexMergeSameKeyCoalescesAdjacent(t *testing.T) {
	in := []mergedTerm{
		{term: []byte("x"), uids: []uint64{1}},
		{term: []byte("x"), uids: []uint64{2}},
		{term: []byte("y"), uids: []uint64{3}},
	}
	out := indexMergeSameKey(in)
	require.Len(t, out, 2)
	require.Equal(t, []uint64{1, 2}, out[0].uids)
}
