package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	logpkg "github.com/ledgerwatch/log/v3"
	"golang.org/x/sync/semaphore"

	"github.com/tscoredb/engine/errs"
	"github.com/tscoredb/engine/index/tfile"
)

// DefaultFlushThreshold is the byte footprint at which a column's active
// cache signals that it should be flushed.
const DefaultFlushThreshold = 4 << 20

// column holds one column's live state: the cache currently accepting
// writes, the latest installed segment reader (nil before any flush), and
// the version that reader carries.
type column struct {
	mu      sync.Mutex
	suid    uint64
	colType tfile.ColType

	active  *Cache
	version uint32
	reader  *tfile.Reader // nil until the first flush
}

// Index is the facade: column name -> column state, plus the directory
// segments are written to and the flush threshold applied to new caches.
type Index struct {
	dir       string
	logger    logpkg.Logger
	threshold int64

	mu      sync.Mutex
	columns map[string]*column

	flusher Flusher
}

// Flusher submits a flush job for column col for later (possibly
// asynchronous) execution. index/flush.Pool provides a worker-pool
// implementation that drops a submission if col already has a flush
// enqueued or running; index/flush.InlineFlusher runs jobs synchronously
// for tests.
type Flusher interface {
	Submit(col string, job func())
}

// Open creates dir if needed, registers a column for every segment file
// already in dir (see discover), and returns the Index; any other column is
// registered lazily on its first Put.
func Open(dir string, flusher Flusher, logger logpkg.Logger) (*Index, error) {
	if logger == nil {
		logger = logpkg.Root()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("index: mkdir %s: %w", dir, errs.ErrIO)
	}
	idx := &Index{
		dir:       dir,
		logger:    logger,
		threshold: DefaultFlushThreshold,
		columns:   map[string]*column{},
		flusher:   flusher,
	}
	if err := idx.discover(); err != nil {
		return nil, err
	}
	return idx, nil
}

// discover scans dir for existing segment files written by a prior run and
// installs the highest version found per column as that column's reader.
func (idx *Index) discover() error {
	entries, err := os.ReadDir(idx.dir)
	if err != nil {
		return fmt.Errorf("index: readdir %s: %w", idx.dir, errs.ErrIO)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		suid, colName, version, err := tfile.ParsePath(e.Name())
		if err != nil {
			continue // not a segment file; ignore
		}
		col := idx.columnFor(colName, suid, tfile.ColTypeString)
		col.mu.Lock()
		if version >= col.version || col.reader == nil {
			reader, err := tfile.Open(filepath.Join(idx.dir, e.Name()))
			if err != nil {
				col.mu.Unlock()
				return err
			}
			if col.reader != nil {
				col.reader.Unref()
			}
			col.reader = reader
			col.version = version
		}
		col.mu.Unlock()
	}
	return nil
}

func (idx *Index) columnFor(name string, suid uint64, colType tfile.ColType) *column {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	c, ok := idx.columns[name]
	if !ok {
		c = &column{suid: suid, colType: colType, active: NewCache(0, idx.threshold)}
		idx.columns[name] = c
	}
	return c
}

// Put records (uid, op) under term in col's active cache, triggering a
// flush when the cache's threshold is exceeded. The write runs under c.mu
// so it can never land in a cache that triggerFlush is concurrently
// swapping out from under it — releasing the lock first and writing to a
// merely-captured *Cache afterward would let a flush retire that exact
// cache in the gap, losing the write from both the new active cache and
// the segment the retired cache gets merged into.
func (idx *Index) Put(col string, suid uint64, colType tfile.ColType, term []byte, uid uint64, op tfile.OperType) error {
	c := idx.columnFor(col, suid, colType)

	c.mu.Lock()
	shouldFlush := c.active.Put(term, uid, op)
	c.mu.Unlock()

	if shouldFlush {
		idx.triggerFlush(col, c)
	}
	return nil
}

// Delete tombstones uid under term: a plain write-through the cache with
// OperDel, collapsed against the TFile at the next flush. Before that flush,
// Search skips the TFile only when every cache record for term is a Del; a
// Del next to live Adds is not subtracted from the TFile's uids.
func (idx *Index) Delete(col string, suid uint64, colType tfile.ColType, term []byte, uid uint64) error {
	return idx.Put(col, suid, colType, term, uid, tfile.OperDel)
}

// Search performs an exact-term lookup: the cache is consulted first; if
// it signals deletion (every cache record for term is a Del with no live
// Add), the TFile is skipped entirely. Otherwise the cache's live uids and
// the TFile's stored uids are merged by set union.
func (idx *Index) Search(col string, term []byte) ([]uint64, error) {
	c := idx.columnLocked(col)
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	active, reader := c.active, c.reader
	c.mu.Unlock()

	live, deletion := active.Search(term)
	if deletion {
		return nil, nil
	}
	if reader == nil {
		return live, nil
	}
	reader.Ref()
	defer reader.Unref()
	segUIDs, _ := reader.SearchEqual(term)
	return Combine(Should, live, segUIDs), nil
}

func (idx *Index) columnLocked(name string) *column {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.columns[name]
}

// triggerFlush swaps out col's active cache for a fresh one and submits
// (or runs, if no Flusher was configured) the flush job.
func (idx *Index) triggerFlush(colName string, c *column) {
	c.mu.Lock()
	old := c.active
	if old.State() != CacheActive {
		c.mu.Unlock()
		return // a flush for this column is already in flight
	}
	old.MarkImmutable()
	c.active = NewCache(c.version+1, idx.threshold)
	c.mu.Unlock()

	job := func() { idx.flush(colName, c, old) }
	if idx.flusher != nil {
		idx.flusher.Submit(colName, job)
	} else {
		job()
	}
}

// flush merges old's snapshot against col's current segment, writes a new
// segment at version+1, and installs it under lock. Failures leave the
// prior segment and cache state untouched.
func (idx *Index) flush(colName string, c *column, old *Cache) {
	c.mu.Lock()
	curReader := c.reader
	suid, colType, version := c.suid, c.colType, c.version
	c.mu.Unlock()

	var segIter *tfile.Iterator
	if curReader != nil {
		curReader.Ref()
		defer curReader.Unref()
		segIter = curReader.Iterator()
	}

	merged := mergeFlush(old.Iterator(), segIter)
	newVersion := version + 1
	path := filepath.Join(idx.dir, tfile.Name(suid, colName, newVersion))
	w := tfile.Open(path, suid, colType, colName)
	if err := w.Put(merged); err != nil {
		idx.logger.Warn("index: flush merge write failed, leaving prior segment", "col", colName, "err", err)
		return
	}
	if err := w.Close(newVersion); err != nil {
		idx.logger.Warn("index: flush close failed, leaving prior segment", "col", colName, "err", err)
		return
	}
	newReader, err := tfile.Open(path)
	if err != nil {
		idx.logger.Warn("index: flush reopen failed, leaving prior segment", "col", colName, "err", err)
		return
	}

	c.mu.Lock()
	if c.reader != nil {
		c.reader.Unref()
	}
	c.reader = newReader
	c.version = newVersion
	c.mu.Unlock()

	old.MarkDiscarded()
	old.Unref()
}

// Rebuild triggers a flush of col's active cache regardless of its size,
// draining it into a single new segment merged with whatever segment
// currently exists. The flush runs on the caller's goroutine when the Index
// has no Flusher (or an InlineFlusher); otherwise it is submitted to the
// Flusher and Rebuild returns without waiting for it.
func (idx *Index) Rebuild(col string) error {
	c := idx.columnLocked(col)
	if c == nil {
		return nil
	}
	idx.triggerFlush(col, c)
	return nil
}

// RebuildAll rebuilds every registered column, running at most maxConcurrent
// rebuilds at once so a many-column task doesn't saturate disk I/O with one
// flush goroutine per column.
func (idx *Index) RebuildAll(ctx context.Context, maxConcurrent int64) error {
	idx.mu.Lock()
	names := make([]string, 0, len(idx.columns))
	for name := range idx.columns {
		names = append(names, name)
	}
	idx.mu.Unlock()

	sem := semaphore.NewWeighted(maxConcurrent)
	var wg sync.WaitGroup
	for _, name := range names {
		if err := sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("index: rebuild all: %w", errs.ErrIO)
		}
		wg.Add(1)
		go func(col string) {
			defer wg.Done()
			defer sem.Release(1)
			_ = idx.Rebuild(col)
		}(name)
	}
	wg.Wait()
	return nil
}

// Close releases every column's installed reader.
func (idx *Index) Close() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, c := range idx.columns {
		c.mu.Lock()
		if c.reader != nil {
			c.reader.Unref()
		}
		c.mu.Unlock()
	}
}
