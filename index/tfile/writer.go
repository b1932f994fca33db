package tfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/tscoredb/engine/errs"
)

// spillThreshold bounds how many terms Writer accumulates in memory before
// spilling the batch to a zstd-compressed scratch file; large rebuild
// merges (all terms of a column, all segments) can otherwise hold the
// entire postings set in memory at once between Put calls. Close reads every
// spill file back into memory before writing the segment.
const spillThreshold = 4096

// Writer assembles one TFile segment. Put accepts term batches in any
// order; Close sorts, dedups adjacent same-term records (concatenating and
// re-sorting their postings), and writes the final file.
type Writer struct {
	path    string
	suid    uint64
	colType ColType
	colName string

	buffered []Term

	spillFiles []string
	spillCount int
}

// Open begins a new segment write. The segment file is not created until
// Close runs; a Close that fails partway can leave a partial file at path,
// and a Writer abandoned after a Put that spilled leaves its scratch files
// in the temp directory.
func Open(path string, suid uint64, colType ColType, colName string) *Writer {
	return &Writer{path: path, suid: suid, colType: colType, colName: colName}
}

// Put appends a batch of (term, postings) records. Batches need not be
// sorted or deduplicated; Close normalizes the full accumulated set.
func (w *Writer) Put(batch []Term) error {
	w.buffered = append(w.buffered, batch...)
	if len(w.buffered) >= spillThreshold {
		if err := w.spill(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) spill() error {
	f, err := os.CreateTemp("", "tfile-spill-*")
	if err != nil {
		return fmt.Errorf("tfile: create spill file: %w", errs.ErrIO)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("tfile: zstd writer: %w", errs.ErrIO)
	}
	for _, t := range w.buffered {
		if err := writeSpillTerm(zw, t); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("tfile: zstd close: %w", errs.ErrIO)
	}
	w.spillFiles = append(w.spillFiles, f.Name())
	w.spillCount += len(w.buffered)
	w.buffered = w.buffered[:0]
	return nil
}

func writeSpillTerm(dst io.Writer, t Term) error {
	var hdr [4 + 4]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(t.Key)))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(t.UIDs)))
	if _, err := dst.Write(hdr[:]); err != nil {
		return fmt.Errorf("tfile: spill write: %w", errs.ErrIO)
	}
	if _, err := dst.Write(t.Key); err != nil {
		return fmt.Errorf("tfile: spill write: %w", errs.ErrIO)
	}
	for _, uid := range t.UIDs {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uid)
		if _, err := dst.Write(b[:]); err != nil {
			return fmt.Errorf("tfile: spill write: %w", errs.ErrIO)
		}
	}
	return nil
}

func readSpillTerms(path string) ([]Term, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tfile: open spill file: %w", errs.ErrIO)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("tfile: zstd reader: %w", errs.ErrIO)
	}
	defer zr.Close()

	var terms []Term
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(zr, hdr[:]); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("tfile: spill read: %w", errs.ErrCorruption)
		}
		keyLen := binary.BigEndian.Uint32(hdr[0:4])
		numUIDs := binary.BigEndian.Uint32(hdr[4:8])
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(zr, key); err != nil {
			return nil, fmt.Errorf("tfile: spill read: %w", errs.ErrCorruption)
		}
		uids := make([]uint64, numUIDs)
		for i := range uids {
			var b [8]byte
			if _, err := io.ReadFull(zr, b[:]); err != nil {
				return nil, fmt.Errorf("tfile: spill read: %w", errs.ErrCorruption)
			}
			uids[i] = binary.BigEndian.Uint64(b[:])
		}
		terms = append(terms, Term{Key: key, UIDs: uids})
	}
	return terms, nil
}

// Close normalizes the accumulated terms (sort, dedup-merge adjacent same
// key, sort+dedup postings within each) and writes the final segment file
// at version.
func (w *Writer) Close(version uint32) error {
	all := w.buffered
	for _, path := range w.spillFiles {
		terms, err := readSpillTerms(path)
		os.Remove(path)
		if err != nil {
			return err
		}
		all = append(all, terms...)
	}

	merged := normalizeTerms(all)

	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("tfile: create %s: %w", w.path, errs.ErrIO)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	colNameBytes := []byte(w.colName)
	header := make([]byte, 4+4+8+1+2+len(colNameBytes)+4)
	putUint32(header[0:4], magic)
	putUint32(header[4:8], version)
	putUint64(header[8:16], w.suid)
	header[16] = byte(w.colType)
	binary.BigEndian.PutUint16(header[17:19], uint16(len(colNameBytes)))
	copy(header[19:19+len(colNameBytes)], colNameBytes)
	putUint32(header[19+len(colNameBytes):], uint32(len(merged)))
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("tfile: write header: %w", errs.ErrIO)
	}

	type indexEntry struct {
		key    []byte
		offset int64
		length uint32
	}
	entries := make([]indexEntry, 0, len(merged))
	var offset int64
	for _, t := range merged {
		postingLen := uint32(len(t.UIDs))
		var lenBuf [4]byte
		putUint32(lenBuf[:], postingLen)
		if _, err := bw.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("tfile: write posting len: %w", errs.ErrIO)
		}
		offset += 4
		for _, uid := range t.UIDs {
			var b [8]byte
			putUint64(b[:], uid)
			if _, err := bw.Write(b[:]); err != nil {
				return fmt.Errorf("tfile: write posting: %w", errs.ErrIO)
			}
			offset += 8
		}
		// offset points at the first UID byte (postingLen already recorded
		// separately in this index entry, so a reader never needs to
		// re-read the 4-byte length prefix from the postings area).
		entries = append(entries, indexEntry{key: t.Key, offset: offset - int64(8*postingLen), length: postingLen})
	}

	termIndexOffset := int64(len(header)) + offset

	for _, e := range entries {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(e.key)))
		if _, err := bw.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("tfile: write term index: %w", errs.ErrIO)
		}
		if _, err := bw.Write(e.key); err != nil {
			return fmt.Errorf("tfile: write term index: %w", errs.ErrIO)
		}
		var offBuf [8]byte
		putUint64(offBuf[:], uint64(e.offset)+uint64(len(header)))
		if _, err := bw.Write(offBuf[:]); err != nil {
			return fmt.Errorf("tfile: write term index: %w", errs.ErrIO)
		}
		var lenBuf4 [4]byte
		putUint32(lenBuf4[:], e.length)
		if _, err := bw.Write(lenBuf4[:]); err != nil {
			return fmt.Errorf("tfile: write term index: %w", errs.ErrIO)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("tfile: flush: %w", errs.ErrIO)
	}

	// Footer checksum covers the whole file written so far.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("tfile: seek for checksum: %w", errs.ErrIO)
	}
	sum, err := checksumFile(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("tfile: seek to end: %w", errs.ErrIO)
	}
	var footer [8 + 4]byte
	putUint64(footer[0:8], uint64(termIndexOffset))
	putUint32(footer[8:12], sum)
	if _, err := f.Write(footer[:]); err != nil {
		return fmt.Errorf("tfile: write footer: %w", errs.ErrIO)
	}
	return nil
}

func checksumFile(f *os.File) (uint32, error) {
	crc := crc32.NewIEEE()
	if _, err := io.Copy(crc, f); err != nil {
		return 0, fmt.Errorf("tfile: checksum: %w", errs.ErrIO)
	}
	return crc.Sum32(), nil
}

// normalizeTerms sorts by key, merges adjacent entries sharing a key by
// concatenating postings, then sorts and dedups each merged posting list.
func normalizeTerms(all []Term) []Term {
	sort.Slice(all, func(i, j int) bool {
		return compareBytes(all[i].Key, all[j].Key) < 0
	})

	var merged []Term
	for _, t := range all {
		if n := len(merged); n > 0 && compareBytes(merged[n-1].Key, t.Key) == 0 {
			merged[n-1].UIDs = append(merged[n-1].UIDs, t.UIDs...)
		} else {
			cp := Term{Key: append([]byte(nil), t.Key...), UIDs: append([]uint64(nil), t.UIDs...)}
			merged = append(merged, cp)
		}
	}
	for i := range merged {
		merged[i].UIDs = dedupSortedUint64(merged[i].UIDs)
	}
	return merged
}

func dedupSortedUint64(uids []uint64) []uint64 {
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	out := uids[:0]
	var last uint64
	have := false
	for _, u := range uids {
		if have && u == last {
			continue
		}
		out = append(out, u)
		last, have = u, true
	}
	return out
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
