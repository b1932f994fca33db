// Package index implements the two-tier inverted-index engine: an
// in-memory Index Cache per column (this file) backed by immutable,
// on-disk TFile segments (index/tfile) once flushed.
package index

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/btree"
	"go.uber.org/atomic"

	"github.com/tscoredb/engine/index/tfile"
)

// CacheState is the Index Cache's lifecycle: a cache accepts writes only
// while ACTIVE; once swapped out for flushing it becomes IMMUTABLE, and is
// freed once DISCARDED and its refcount reaches zero.
type CacheState int32

const (
	CacheActive CacheState = iota
	CacheImmutable
	CacheDiscarded
)

type cacheNode struct {
	term    []byte
	records map[uint64]tfile.OperType
}

func cacheNodeLess(a, b *cacheNode) bool { return bytes.Compare(a.term, b.term) < 0 }

// Cache is one column's ordered in-memory write buffer. It accumulates
// (term, uid, op) records keyed by term, collapsing repeated writes for
// the same uid to the most recently applied operation.
type Cache struct {
	mu   sync.Mutex
	tree *btree.BTreeG[*cacheNode]

	cVersion  uint32
	threshold int64
	size      atomic.Int64
	state     atomic.Int32
	refCount  atomic.Int32
}

// NewCache returns a fresh ACTIVE cache stamped with cVersion (the column
// version in effect at creation) and a flush threshold in bytes.
func NewCache(cVersion uint32, threshold int64) *Cache {
	c := &Cache{
		tree:      btree.NewG[*cacheNode](32, cacheNodeLess),
		cVersion:  cVersion,
		threshold: threshold,
	}
	c.refCount.Store(1)
	return c
}

// Put appends one (term, uid, op) record. It reports whether the cache's
// byte footprint now exceeds its flush threshold; the caller (the Index
// Facade) is responsible for actually triggering a flush.
func (c *Cache) Put(term []byte, uid uint64, op tfile.OperType) (shouldFlush bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	probe := &cacheNode{term: term}
	node, ok := c.tree.Get(probe)
	if !ok {
		node = &cacheNode{term: append([]byte(nil), term...), records: map[uint64]tfile.OperType{}}
		c.tree.ReplaceOrInsert(node)
	}
	if _, existed := node.records[uid]; !existed {
		c.size.Add(int64(len(term)) + 8 + 1)
	}
	node.records[uid] = op
	return c.size.Load() > c.threshold
}

// collapse splits a term's records into live (Add) and tombstoned (Del)
// uids, both sorted ascending, and reports whether any record exists.
func collapse(node *cacheNode) (live, deleted []uint64, anyRecords bool) {
	if node == nil {
		return nil, nil, false
	}
	for uid, op := range node.records {
		anyRecords = true
		if op == tfile.OperAdd {
			live = append(live, uid)
		} else {
			deleted = append(deleted, uid)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })
	sort.Slice(deleted, func(i, j int) bool { return deleted[i] < deleted[j] })
	return live, deleted, anyRecords
}

// Search performs an exact-term lookup. deletion=true signals that every
// record the cache holds for term is a Del with no live Add — the caller
// (the Index Facade's query path) must then skip the TFile for this term
// entirely rather than merging against it.
func (c *Cache) Search(term []byte) (postings []uint64, deletion bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.tree.Get(&cacheNode{term: term})
	if !ok {
		return nil, false
	}
	live, _, any := collapse(node)
	if any && len(live) == 0 {
		return nil, true
	}
	return live, false
}

// SearchRange returns the live postings for every term in [lower, upper].
func (c *Cache) SearchRange(lower, upper []byte) [][]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out [][]uint64
	c.tree.AscendRange(&cacheNode{term: lower}, &cacheNode{term: append(append([]byte(nil), upper...), 0)}, func(n *cacheNode) bool {
		if live, _, _ := collapse(n); len(live) > 0 {
			out = append(out, live)
		}
		return true
	})
	return out
}

// SearchPrefix returns the live postings for every term beginning with
// prefix.
func (c *Cache) SearchPrefix(prefix []byte) [][]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out [][]uint64
	c.tree.AscendGreaterOrEqual(&cacheNode{term: prefix}, func(n *cacheNode) bool {
		if !bytes.HasPrefix(n.term, prefix) {
			return false
		}
		if live, _, _ := collapse(n); len(live) > 0 {
			out = append(out, live)
		}
		return true
	})
	return out
}

// Ref increments the cache's refcount.
func (c *Cache) Ref() { c.refCount.Inc() }

// Unref decrements the refcount; the cache's underlying tree is dropped
// for GC once the count reaches zero and the cache has been discarded.
func (c *Cache) Unref() {
	if c.refCount.Dec() == 0 && CacheState(c.state.Load()) == CacheDiscarded {
		c.tree = nil
	}
}

// MarkImmutable transitions an ACTIVE cache to IMMUTABLE, refusing further
// writes from the caller's perspective (enforcement is by convention: the
// facade stops routing Put calls to an immutable cache once swapped out).
func (c *Cache) MarkImmutable() { c.state.Store(int32(CacheImmutable)) }

// MarkDiscarded transitions an IMMUTABLE cache to DISCARDED once its flush
// has completed.
func (c *Cache) MarkDiscarded() { c.state.Store(int32(CacheDiscarded)) }

func (c *Cache) State() CacheState { return CacheState(c.state.Load()) }

// Size reports the cache's approximate byte footprint.
func (c *Cache) Size() int64 { return c.size.Load() }

// Iterator returns a snapshot iterator over the cache's terms in ascending
// order, each paired with its collapsed live postings. Matches the
// {next, current, drop} shape index/tfile.Iterator also implements, so the
// flush merge (index/merge.go) can treat both sources uniformly.
func (c *Cache) Iterator() *CacheIterator {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make([]cacheIterEntry, 0, c.tree.Len())
	c.tree.Ascend(func(n *cacheNode) bool {
		live, deleted, any := collapse(n)
		if !any {
			return true
		}
		snapshot = append(snapshot, cacheIterEntry{term: n.term, live: live, deleted: deleted})
		return true
	})
	return &CacheIterator{entries: snapshot, idx: -1}
}

type cacheIterEntry struct {
	term    []byte
	live    []uint64
	deleted []uint64
}

// CacheIterator is a finite, non-restartable walk over a cache snapshot
// taken at Iterator() call time; later Puts on the same (still-active)
// cache are not observed.
type CacheIterator struct {
	entries []cacheIterEntry
	idx     int
}

func (it *CacheIterator) Next() bool {
	it.idx++
	return it.idx < len(it.entries)
}

func (it *CacheIterator) Current() (term []byte, uids []uint64) {
	e := it.entries[it.idx]
	return e.term, e.live
}

// Deleted returns the current term's tombstoned uids, used by the flush
// merge to subtract matching uids from the TFile side (index/merge.go).
func (it *CacheIterator) Deleted() []uint64 { return it.entries[it.idx].deleted }

func (it *CacheIterator) Drop() {}
