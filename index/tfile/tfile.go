// Package tfile implements the immutable on-disk inverted-index segment:
// one file per (suid, column, version), holding every term's posting list
// in term-sorted order, an on-disk term index for binary-search lookup,
// and a footer checksum.
//
// Layout, in file order:
//
//	Header:      magic(4) version(4) suid(8) colType(1) colNameLen(2) colName numTerms(4)
//	Postings:    for each term, term-sorted: postingLen(4) uid0..uidN(8 each, ascending)
//	Term index:  for each term: termLen(2) termBytes postingOffset(8) postingLen(4)
//	Footer:      termIndexOffset(8) crc32(4)
package tfile

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/tscoredb/engine/errs"
)

const magic uint32 = 0x54464C31 // "TFL1"

// ColType distinguishes the value domain of a column for query-time
// interpretation; the byte layout itself is type-agnostic.
type ColType uint8

const (
	ColTypeString ColType = iota
	ColTypeInt
	ColTypeBinary
)

// OperType is the operation a cache record carries for one uid: Add or Del.
type OperType uint8

const (
	OperAdd OperType = iota
	OperDel
)

// Term is one term's sorted, deduplicated posting list as it is written to
// or read from a segment. UIDs are ascending; Del tombstones have already
// been collapsed out by the time a Term reaches the writer (the facade's
// merge stage owns tombstone collapse — see index/merge.go).
type Term struct {
	Key  []byte
	UIDs []uint64
}

// Name returns the canonical on-disk filename for a segment.
func Name(suid uint64, colName string, version uint32) string {
	return fmt.Sprintf("%016x.%s.v%d.tf", suid, colName, version)
}

// ParsePath extracts (suid, colName, version) from a segment path produced
// by Name, for discovery at index open.
func ParsePath(path string) (suid uint64, colName string, version uint32, err error) {
	base := filepath.Base(path)
	var rest string
	n, scanErr := fmt.Sscanf(base, "%016x.", &suid)
	if scanErr != nil || n != 1 {
		return 0, "", 0, fmt.Errorf("tfile: bad segment filename %q: %w", base, errs.ErrInvalidArgument)
	}
	rest = base[17:] // 16 hex digits + '.'
	var ver uint32
	dotV := -1
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '.' {
			dotV = i
			break
		}
	}
	if dotV < 0 {
		return 0, "", 0, fmt.Errorf("tfile: bad segment filename %q: %w", base, errs.ErrInvalidArgument)
	}
	ext := rest[dotV:]
	if ext != ".tf" {
		return 0, "", 0, fmt.Errorf("tfile: bad segment extension %q: %w", base, errs.ErrInvalidArgument)
	}
	withoutExt := rest[:dotV]
	vDot := -1
	for i := len(withoutExt) - 1; i >= 0; i-- {
		if withoutExt[i] == '.' {
			vDot = i
			break
		}
	}
	if vDot < 0 {
		return 0, "", 0, fmt.Errorf("tfile: bad segment filename %q: %w", base, errs.ErrInvalidArgument)
	}
	colName = withoutExt[:vDot]
	if _, err := fmt.Sscanf(withoutExt[vDot+1:], "v%d", &ver); err != nil {
		return 0, "", 0, fmt.Errorf("tfile: bad version suffix %q: %w", base, errs.ErrInvalidArgument)
	}
	return suid, colName, ver, nil
}

func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func putUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func getUint32(b []byte) uint32    { return binary.BigEndian.Uint32(b) }
func getUint64(b []byte) uint64    { return binary.BigEndian.Uint64(b) }
