package tfile

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/tscoredb/engine/errs"
)

const footerLen = 8 + 4

type termEntry struct {
	key    []byte
	offset int64
	length uint32
}

// Reader is a refcounted, mmap-backed view of one immutable segment file.
// The term index is parsed once at Open into an in-memory sorted slice;
// postings are read on demand directly out of the mmap region, so a
// segment with many terms and few hot postings never pages in the whole
// file.
type Reader struct {
	Suid    uint64
	ColName string
	ColType ColType
	Version uint32

	path string
	f    *os.File
	mm   mmap.MMap

	terms []termEntry

	mu       sync.Mutex
	refCount int
	closed   bool
}

// Open mmaps path, validates the footer checksum, and parses the term
// index into memory. The returned Reader starts with a refcount of 1.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tfile: open %s: %w", path, errs.ErrIO)
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("tfile: mmap %s: %w", path, errs.ErrIO)
	}

	r := &Reader{path: path, f: f, mm: mm, refCount: 1}
	if err := r.parse(); err != nil {
		mm.Unmap()
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) parse() error {
	if len(r.mm) < 4+4+8+1+2+footerLen {
		return fmt.Errorf("tfile: %s truncated: %w", r.path, errs.ErrCorruption)
	}
	if getUint32(r.mm[0:4]) != magic {
		return fmt.Errorf("tfile: %s bad magic: %w", r.path, errs.ErrCorruption)
	}
	r.Version = getUint32(r.mm[4:8])
	r.Suid = getUint64(r.mm[8:16])
	r.ColType = ColType(r.mm[16])
	colNameLen := binary.BigEndian.Uint16(r.mm[17:19])
	headerLen := 19 + int(colNameLen) + 4
	if len(r.mm) < headerLen {
		return fmt.Errorf("tfile: %s truncated header: %w", r.path, errs.ErrCorruption)
	}
	r.ColName = string(r.mm[19 : 19+colNameLen])
	numTerms := getUint32(r.mm[19+colNameLen : headerLen])

	footerOff := len(r.mm) - footerLen
	termIndexOffset := int64(getUint64(r.mm[footerOff : footerOff+8]))
	wantCRC := getUint32(r.mm[footerOff+8 : footerOff+12])
	gotCRC := crc32.ChecksumIEEE(r.mm[:footerOff])
	if wantCRC != gotCRC {
		return fmt.Errorf("tfile: %s checksum mismatch: %w", r.path, errs.ErrCorruption)
	}

	pos := termIndexOffset
	terms := make([]termEntry, 0, numTerms)
	for i := uint32(0); i < numTerms; i++ {
		if pos+2 > int64(footerOff) {
			return fmt.Errorf("tfile: %s term index overrun: %w", r.path, errs.ErrCorruption)
		}
		termLen := binary.BigEndian.Uint16(r.mm[pos : pos+2])
		pos += 2
		key := append([]byte(nil), r.mm[pos:pos+int64(termLen)]...)
		pos += int64(termLen)
		offset := int64(getUint64(r.mm[pos : pos+8]))
		pos += 8
		length := getUint32(r.mm[pos : pos+4])
		pos += 4
		terms = append(terms, termEntry{key: key, offset: offset, length: length})
	}
	r.terms = terms
	return nil
}

// Ref increments the reader's refcount; matching Unref calls are required.
func (r *Reader) Ref() {
	r.mu.Lock()
	r.refCount++
	r.mu.Unlock()
}

// Unref decrements the refcount, closing the underlying mmap and file once
// it reaches zero.
func (r *Reader) Unref() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refCount--
	if r.refCount > 0 || r.closed {
		return nil
	}
	r.closed = true
	if err := r.mm.Unmap(); err != nil {
		r.f.Close()
		return fmt.Errorf("tfile: unmap %s: %w", r.path, errs.ErrIO)
	}
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("tfile: close %s: %w", r.path, errs.ErrIO)
	}
	return nil
}

func (r *Reader) uidsAt(e termEntry) []uint64 {
	out := make([]uint64, e.length)
	base := e.offset
	for i := range out {
		out[i] = getUint64(r.mm[base : base+8])
		base += 8
	}
	return out
}

func (r *Reader) find(term []byte) (termEntry, bool) {
	i := sort.Search(len(r.terms), func(i int) bool {
		return compareBytes(r.terms[i].key, term) >= 0
	})
	if i < len(r.terms) && compareBytes(r.terms[i].key, term) == 0 {
		return r.terms[i], true
	}
	return termEntry{}, false
}

// SearchEqual returns the UID list for an exact term match, or (nil,false).
func (r *Reader) SearchEqual(term []byte) ([]uint64, bool) {
	e, ok := r.find(term)
	if !ok {
		return nil, false
	}
	return r.uidsAt(e), true
}

// SearchRange returns the UID lists for every term in [lower, upper]
// (inclusive), in term order, as a scan from the first term >= lower until
// the first term > upper.
func (r *Reader) SearchRange(lower, upper []byte) [][]uint64 {
	start := sort.Search(len(r.terms), func(i int) bool {
		return compareBytes(r.terms[i].key, lower) >= 0
	})
	var out [][]uint64
	for i := start; i < len(r.terms); i++ {
		if compareBytes(r.terms[i].key, upper) > 0 {
			break
		}
		out = append(out, r.uidsAt(r.terms[i]))
	}
	return out
}

// SearchPrefix returns the UID lists for every term beginning with prefix.
func (r *Reader) SearchPrefix(prefix []byte) [][]uint64 {
	start := sort.Search(len(r.terms), func(i int) bool {
		return compareBytes(r.terms[i].key, prefix) >= 0
	})
	var out [][]uint64
	for i := start; i < len(r.terms); i++ {
		if !hasPrefix(r.terms[i].key, prefix) {
			break
		}
		out = append(out, r.uidsAt(r.terms[i]))
	}
	return out
}

// Iterator returns a lazy, monotonically increasing (term, UIDs) sequence
// over the whole segment, matching the cache's iterator contract so the
// two can be merged by the flush algorithm.
func (r *Reader) Iterator() *Iterator {
	return &Iterator{r: r, idx: -1}
}

// Iterator walks a Reader's terms in ascending order. It implements the
// {next, current, drop} capability the flush merge needs; Drop is a no-op
// here since the Reader itself owns the mmap lifetime via ref/unref.
type Iterator struct {
	r   *Reader
	idx int
}

func (it *Iterator) Next() bool {
	it.idx++
	return it.idx < len(it.r.terms)
}

func (it *Iterator) Current() (key []byte, uids []uint64) {
	e := it.r.terms[it.idx]
	return e.key, it.r.uidsAt(e)
}

func (it *Iterator) Drop() {}

func hasPrefix(s, prefix []byte) bool {
	if len(s) < len(prefix) {
		return false
	}
	return compareBytes(s[:len(prefix)], prefix) == 0
}
