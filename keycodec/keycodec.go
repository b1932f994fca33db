// Package keycodec encodes the composite keys used by the stream state
// store into byte strings whose lexicographic order equals the keys'
// semantic order. Numeric fields are big-endian; signed fields have their
// sign bit flipped so two's-complement negative values sort before
// positive ones.
package keycodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WinKey is a time-window key: (ts, groupId). Used by interval and fill
// windows.
type WinKey struct {
	Ts      int64
	GroupID uint64
}

// StateKey is an operator-scoped window key: (opNum, ts, groupId). Ordered
// first by opNum, then ts, then groupId.
type StateKey struct {
	OpNum int32
	Win   WinKey
}

// SessionRange is a closed [Skey, Ekey] interval owned by a group; both
// ends count as inside it for RangeOverlaps.
type SessionRange struct {
	Skey int64
	Ekey int64
}

// SessionKey is (groupId, [skey, ekey]).
type SessionKey struct {
	GroupID uint64
	Win     SessionRange
}

// StateSessionKey is an operator-scoped session key: (opNum, SessionKey).
type StateSessionKey struct {
	OpNum   int32
	Session SessionKey
}

// TupleKey is an application-defined fixed-size descriptor for
// state-function intermediates, ordered lexicographically by its raw bytes.
type TupleKey []byte

// GroupKey is the plain groupId key used by the par-name/par-tag side
// tables.
type GroupKey int64

const (
	sizeInt64  = 8
	sizeUint64 = 8
	sizeInt32  = 4
)

func putInt64(buf []byte, v int64) {
	binary.BigEndian.PutUint64(buf, uint64(v)^signBit64)
}

func getInt64(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf) ^ signBit64)
}

func putInt32(buf []byte, v int32) {
	binary.BigEndian.PutUint32(buf, uint32(v)^signBit32)
}

func getInt32(buf []byte) int32 {
	return int32(binary.BigEndian.Uint32(buf) ^ signBit32)
}

const (
	signBit64 = uint64(1) << 63
	signBit32 = uint32(1) << 31
)

// EncodeWinKey writes (ts, groupId) in sort order: ts (biased) then groupId.
func EncodeWinKey(k WinKey) []byte {
	buf := make([]byte, sizeInt64+sizeUint64)
	putInt64(buf[0:8], k.Ts)
	binary.BigEndian.PutUint64(buf[8:16], k.GroupID)
	return buf
}

// DecodeWinKey is the inverse of EncodeWinKey.
func DecodeWinKey(b []byte) (WinKey, error) {
	if len(b) != sizeInt64+sizeUint64 {
		return WinKey{}, fmt.Errorf("keycodec: bad WinKey length %d", len(b))
	}
	return WinKey{
		Ts:      getInt64(b[0:8]),
		GroupID: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// CompareWinKey returns -1, 0, or 1 comparing a and b by (ts, groupId).
func CompareWinKey(a, b WinKey) int {
	if a.Ts != b.Ts {
		if a.Ts < b.Ts {
			return -1
		}
		return 1
	}
	switch {
	case a.GroupID < b.GroupID:
		return -1
	case a.GroupID > b.GroupID:
		return 1
	default:
		return 0
	}
}

// EncodeStateKey writes (opNum, ts, groupId).
func EncodeStateKey(k StateKey) []byte {
	buf := make([]byte, sizeInt32+sizeInt64+sizeUint64)
	putInt32(buf[0:4], k.OpNum)
	putInt64(buf[4:12], k.Win.Ts)
	binary.BigEndian.PutUint64(buf[12:20], k.Win.GroupID)
	return buf
}

// DecodeStateKey is the inverse of EncodeStateKey.
func DecodeStateKey(b []byte) (StateKey, error) {
	if len(b) != sizeInt32+sizeInt64+sizeUint64 {
		return StateKey{}, fmt.Errorf("keycodec: bad StateKey length %d", len(b))
	}
	return StateKey{
		OpNum: getInt32(b[0:4]),
		Win: WinKey{
			Ts:      getInt64(b[4:12]),
			GroupID: binary.BigEndian.Uint64(b[12:20]),
		},
	}, nil
}

// CompareStateKey orders first by opNum, then ts, then groupId — equal to
// CompareBytes(EncodeStateKey(a), EncodeStateKey(b)) by construction.
func CompareStateKey(a, b StateKey) int {
	if a.OpNum != b.OpNum {
		if a.OpNum < b.OpNum {
			return -1
		}
		return 1
	}
	return CompareWinKey(a.Win, b.Win)
}

// EncodeSessionKey writes (groupId, skey, ekey).
func EncodeSessionKey(k SessionKey) []byte {
	buf := make([]byte, sizeUint64+sizeInt64+sizeInt64)
	binary.BigEndian.PutUint64(buf[0:8], k.GroupID)
	putInt64(buf[8:16], k.Win.Skey)
	putInt64(buf[16:24], k.Win.Ekey)
	return buf
}

// DecodeSessionKey is the inverse of EncodeSessionKey.
func DecodeSessionKey(b []byte) (SessionKey, error) {
	if len(b) != sizeUint64+sizeInt64+sizeInt64 {
		return SessionKey{}, fmt.Errorf("keycodec: bad SessionKey length %d", len(b))
	}
	return SessionKey{
		GroupID: binary.BigEndian.Uint64(b[0:8]),
		Win: SessionRange{
			Skey: getInt64(b[8:16]),
			Ekey: getInt64(b[16:24]),
		},
	}, nil
}

// CompareSessionKey is the *total order* comparator: groupId, then skey,
// then ekey. Distinct from RangeOverlaps, which tests interval overlap for
// session-merge operators.
func CompareSessionKey(a, b SessionKey) int {
	switch {
	case a.GroupID < b.GroupID:
		return -1
	case a.GroupID > b.GroupID:
		return 1
	}
	if a.Win.Skey != b.Win.Skey {
		if a.Win.Skey < b.Win.Skey {
			return -1
		}
		return 1
	}
	switch {
	case a.Win.Ekey < b.Win.Ekey:
		return -1
	case a.Win.Ekey > b.Win.Ekey:
		return 1
	default:
		return 0
	}
}

// RangeOverlaps reports whether a and b belong to the same group and their
// [skey,ekey] intervals overlap. This is the "match" relation used by
// session-merge operators, not the total order above.
func RangeOverlaps(a, b SessionKey) bool {
	if a.GroupID != b.GroupID {
		return false
	}
	return a.Win.Skey <= b.Win.Ekey && b.Win.Skey <= a.Win.Ekey
}

// EncodeStateSessionKey writes (opNum, groupId, skey, ekey).
func EncodeStateSessionKey(k StateSessionKey) []byte {
	buf := make([]byte, sizeInt32+sizeUint64+sizeInt64+sizeInt64)
	putInt32(buf[0:4], k.OpNum)
	copy(buf[4:], EncodeSessionKey(k.Session))
	return buf
}

// DecodeStateSessionKey is the inverse of EncodeStateSessionKey.
func DecodeStateSessionKey(b []byte) (StateSessionKey, error) {
	if len(b) != sizeInt32+sizeUint64+sizeInt64+sizeInt64 {
		return StateSessionKey{}, fmt.Errorf("keycodec: bad StateSessionKey length %d", len(b))
	}
	sess, err := DecodeSessionKey(b[4:])
	if err != nil {
		return StateSessionKey{}, err
	}
	return StateSessionKey{OpNum: getInt32(b[0:4]), Session: sess}, nil
}

// CompareStateSessionKey orders first by opNum, then by SessionKey's total
// order.
func CompareStateSessionKey(a, b StateSessionKey) int {
	if a.OpNum != b.OpNum {
		if a.OpNum < b.OpNum {
			return -1
		}
		return 1
	}
	return CompareSessionKey(a.Session, b.Session)
}

// EncodeTupleKey returns the tuple's raw bytes; TupleKey is already
// lexicographically ordered by construction.
func EncodeTupleKey(k TupleKey) []byte { return append([]byte(nil), k...) }

// CompareTupleKey compares two tuple keys byte-wise.
func CompareTupleKey(a, b TupleKey) int { return bytes.Compare(a, b) }

// EncodeGroupKey writes a plain groupId key for the par-name/par-tag
// keyspaces.
func EncodeGroupKey(k GroupKey) []byte {
	buf := make([]byte, sizeInt64)
	putInt64(buf, int64(k))
	return buf
}

// DecodeGroupKey is the inverse of EncodeGroupKey.
func DecodeGroupKey(b []byte) (GroupKey, error) {
	if len(b) != sizeInt64 {
		return 0, fmt.Errorf("keycodec: bad GroupKey length %d", len(b))
	}
	return GroupKey(getInt64(b)), nil
}

// CompareBytes is the byte-order comparator registered with the KV backend
// for a given keyspace; CompareBytes(Encode(a), Encode(b)) must always agree
// with the semantic comparator for the same type.
func CompareBytes(a, b []byte) int { return bytes.Compare(a, b) }
