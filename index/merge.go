package index

import (
	"bytes"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/tscoredb/engine/index/tfile"
)

// source is the {next, current, drop} iterator capability both
// CacheIterator and tfile.Iterator implement.
type source interface {
	Next() bool
	Current() (key []byte, uids []uint64)
	Drop()
}

// mergedTerm is one (term, postings) record ready for TFileWriter.Put.
type mergedTerm struct {
	term []byte
	uids []uint64
}

// mergeFlush runs the two-input ordered merge from the cache's snapshot
// iterator against the current segment's iterator (nil if there is none
// yet): matching terms union their postings with tombstone collapse,
// non-matching terms pass through, and the whole stream is coalesced by
// indexMergeSameKey as a defense against duplicate keys across the two
// sources.
func mergeFlush(cache *CacheIterator, seg *tfile.Iterator) []tfile.Term {
	var emitted []mergedTerm

	cHas := cache.Next()
	var sHas bool
	if seg != nil {
		sHas = seg.Next()
	}

	for cHas && sHas {
		cTerm, _ := cache.Current()
		sTerm, sUIDs := seg.Current()
		switch bytes.Compare(cTerm, sTerm) {
		case 0:
			merged := unionWithTombstones(sUIDs, cache.entries[cache.idx].live, cache.Deleted())
			emitted = append(emitted, mergedTerm{term: append([]byte(nil), cTerm...), uids: merged})
			cHas = cache.Next()
			sHas = seg.Next()
		case -1:
			emitted = append(emitted, mergedTerm{term: append([]byte(nil), cTerm...), uids: cache.entries[cache.idx].live})
			cHas = cache.Next()
		default:
			emitted = append(emitted, mergedTerm{term: append([]byte(nil), sTerm...), uids: append([]uint64(nil), sUIDs...)})
			sHas = seg.Next()
		}
	}
	for cHas {
		cTerm, _ := cache.Current()
		emitted = append(emitted, mergedTerm{term: append([]byte(nil), cTerm...), uids: cache.entries[cache.idx].live})
		cHas = cache.Next()
	}
	for sHas {
		sTerm, sUIDs := seg.Current()
		emitted = append(emitted, mergedTerm{term: append([]byte(nil), sTerm...), uids: append([]uint64(nil), sUIDs...)})
		sHas = seg.Next()
	}

	coalesced := indexMergeSameKey(emitted)

	out := make([]tfile.Term, 0, len(coalesced))
	for _, m := range coalesced {
		out = append(out, tfile.Term{Key: m.term, UIDs: m.uids})
	}
	return out
}

// indexMergeSameKey coalesces adjacent emissions sharing a term by
// appending postings into the prior record, guarding against either side
// surfacing the same key twice in a row.
func indexMergeSameKey(emitted []mergedTerm) []mergedTerm {
	var out []mergedTerm
	for _, m := range emitted {
		if n := len(out); n > 0 && bytes.Equal(out[n-1].term, m.term) {
			out[n-1].uids = sortedUnion(out[n-1].uids, m.uids)
			continue
		}
		out = append(out, m)
	}
	return out
}

// unionWithTombstones computes (segUIDs ∪ cacheLive) \ cacheDeleted, using
// roaring64 bitmaps for the set operations.
func unionWithTombstones(segUIDs, cacheLive, cacheDeleted []uint64) []uint64 {
	bm := roaring64.New()
	for _, u := range segUIDs {
		bm.Add(u)
	}
	for _, u := range cacheLive {
		bm.Add(u)
	}
	for _, u := range cacheDeleted {
		bm.Remove(u)
	}
	return bm.ToArray()
}

func sortedUnion(a, b []uint64) []uint64 {
	bm := roaring64.New()
	for _, u := range a {
		bm.Add(u)
	}
	for _, u := range b {
		bm.Add(u)
	}
	return bm.ToArray()
}

// Combinator applies a boolean query operator across per-term posting
// lists, each already ascending and deduplicated.
type Combinator int

const (
	Must Combinator = iota // AND: sorted intersection
	Should                 // OR: sorted union
	Not                    // subtraction from the first list
)

// Combine applies op across lists using roaring64 set operations; ties are
// broken by ascending uid as roaring bitmaps are inherently sorted.
func Combine(op Combinator, lists ...[]uint64) []uint64 {
	if len(lists) == 0 {
		return nil
	}
	bitmaps := make([]*roaring64.Bitmap, len(lists))
	for i, l := range lists {
		bm := roaring64.New()
		bm.AddMany(l)
		bitmaps[i] = bm
	}
	result := bitmaps[0].Clone()
	for _, bm := range bitmaps[1:] {
		switch op {
		case Must:
			result.And(bm)
		case Should:
			result.Or(bm)
		case Not:
			result.AndNot(bm)
		}
	}
	return result.ToArray()
}
