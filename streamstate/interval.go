package streamstate

import (
	"encoding/binary"
	"fmt"

	"github.com/tscoredb/engine/errs"
	"github.com/tscoredb/engine/keycodec"
	"github.com/tscoredb/engine/kv"
)

func decodeStateKeyPrefix(b []byte) (int32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("streamstate: short state key")
	}
	return int32(binary.BigEndian.Uint32(b[0:4]) ^ (1 << 31)), nil
}

func (s *Store) stateKey(win keycodec.WinKey) keycodec.StateKey {
	return keycodec.StateKey{OpNum: s.opNum.Load(), Win: win}
}

// Put stores val under the interval-window key (opNum, ts, groupId).
func (s *Store) Put(win keycodec.WinKey, val []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := keycodec.EncodeStateKey(s.stateKey(win))
	if err := s.txs[ksInterval].Upsert(s.tbls[ksInterval], key, val); err != nil {
		return fmt.Errorf("streamstate: put: %w", errs.ErrIO)
	}
	return nil
}

// Get returns the value stored under (opNum, win), or ErrNotFound.
func (s *Store) Get(win keycodec.WinKey) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	key := keycodec.EncodeStateKey(s.stateKey(win))
	v, err := s.txs[ksInterval].Get(s.tbls[ksInterval], key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Del removes the interval-window entry at (opNum, win).
func (s *Store) Del(win keycodec.WinKey) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := keycodec.EncodeStateKey(s.stateKey(win))
	if err := s.txs[ksInterval].Delete(s.tbls[ksInterval], key); err != nil {
		return fmt.Errorf("streamstate: del: %w", errs.ErrIO)
	}
	return nil
}

// StateCursor walks the interval keyspace restricted to the opNum it was
// opened under.
type StateCursor struct {
	store  *Store
	cur    kv.Cursor
	origin int32
}

// OpenCursor returns a new StateCursor scoped to the store's current opNum.
func (s *Store) OpenCursor() (*StateCursor, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	c, err := s.txs[ksInterval].OpenCursor(s.tbls[ksInterval])
	if err != nil {
		return nil, fmt.Errorf("streamstate: open cursor: %w", errs.ErrIO)
	}
	return &StateCursor{store: s, cur: c, origin: s.opNum.Load()}, nil
}

func (c *StateCursor) Close() { c.cur.Close() }

// SeekKeyNext positions at the smallest stored key strictly greater than k
// within the cursor's opNum. It reports ErrNotFound when no greater key
// exists and ErrOperatorMismatch when the next key belongs to another opNum.
func (c *StateCursor) SeekKeyNext(win keycodec.WinKey) (keycodec.StateKey, error) {
	target := keycodec.StateKey{OpNum: c.origin, Win: win}
	ord, err := c.cur.Seek(keycodec.EncodeStateKey(target))
	if err != nil {
		return keycodec.StateKey{}, fmt.Errorf("streamstate: seek: %w", errs.ErrIO)
	}
	if ord == kv.Eq {
		if err := c.cur.Next(); err != nil {
			return keycodec.StateKey{}, fmt.Errorf("streamstate: seek next: %w", errs.ErrIO)
		}
	}
	return c.currentInScope()
}

// SeekKeyPrev positions at the largest stored key strictly less than k
// within the cursor's opNum. It reports ErrNotFound when no lesser key
// exists and ErrOperatorMismatch when the previous key belongs to another
// opNum.
//
// Seek's returned ordering alone can't tell "ran off the end of the
// keyspace" apart from "landed on the next-greater key with no exact
// match" — bbolt's Seek returns kv.Greater in both cases. So this checks
// Current()'s positioned flag instead, the same pattern session.go's
// seekPrevNeighbor uses: positioned (whether at an exact match or at the
// next-greater key) always means "step back one"; only an unpositioned
// cursor means Seek ran past every stored key, and Last() is then already
// strictly less than target.
func (c *StateCursor) SeekKeyPrev(win keycodec.WinKey) (keycodec.StateKey, error) {
	target := keycodec.StateKey{OpNum: c.origin, Win: win}
	if _, err := c.cur.Seek(keycodec.EncodeStateKey(target)); err != nil {
		return keycodec.StateKey{}, fmt.Errorf("streamstate: seek: %w", errs.ErrIO)
	}
	if _, _, ok := c.cur.Current(); !ok {
		if err := c.cur.Last(); err != nil {
			return keycodec.StateKey{}, fmt.Errorf("streamstate: seek prev: %w", errs.ErrIO)
		}
	} else if err := c.cur.Prev(); err != nil {
		return keycodec.StateKey{}, fmt.Errorf("streamstate: seek prev: %w", errs.ErrIO)
	}
	return c.currentInScope()
}

// CurNext steps the cursor forward one position within scope.
func (c *StateCursor) CurNext() (keycodec.StateKey, error) {
	if err := c.cur.Next(); err != nil {
		return keycodec.StateKey{}, fmt.Errorf("streamstate: cur next: %w", errs.ErrIO)
	}
	return c.currentInScope()
}

// CurPrev steps the cursor backward one position within scope.
func (c *StateCursor) CurPrev() (keycodec.StateKey, error) {
	if err := c.cur.Prev(); err != nil {
		return keycodec.StateKey{}, fmt.Errorf("streamstate: cur prev: %w", errs.ErrIO)
	}
	return c.currentInScope()
}

// GetKVByCur returns the key/value at the cursor's current position. If the
// positioned key's opNum differs from the cursor's origin opNum, the call
// fails with ErrOperatorMismatch — cursors must never silently cross into
// another opNum.
func (c *StateCursor) GetKVByCur() (keycodec.StateKey, []byte, error) {
	k, v, ok := c.cur.Current()
	if !ok {
		return keycodec.StateKey{}, nil, fmt.Errorf("streamstate: getkvbycur: %w", errs.ErrNotFound)
	}
	sk, err := keycodec.DecodeStateKey(k)
	if err != nil {
		return keycodec.StateKey{}, nil, fmt.Errorf("streamstate: decode: %w", errs.ErrCorruption)
	}
	if sk.OpNum != c.origin {
		return keycodec.StateKey{}, nil, fmt.Errorf("streamstate: cursor crossed opNum %d -> %d: %w", c.origin, sk.OpNum, errs.ErrOperatorMismatch)
	}
	return sk, v, nil
}

func (c *StateCursor) currentInScope() (keycodec.StateKey, error) {
	sk, _, err := c.GetKVByCur()
	return sk, err
}

// StateAddIfNotExist probes the previous and next interval-window entries
// for a match: either temporal containment (same WinKey) or equality on the
// caller-supplied extension bytes via eqFn. If neither matches, a
// zero-initialized buffer of len(zeroLen) is stored at k and created=true is
// returned.
func (s *Store) StateAddIfNotExist(win keycodec.WinKey, extKeyBytes []byte, zeroLen int, eqFn func(extKeyBytes, storedVal []byte) bool) (keycodec.WinKey, []byte, bool, error) {
	if err := s.checkOpen(); err != nil {
		return keycodec.WinKey{}, nil, false, err
	}
	c, err := s.OpenCursor()
	if err != nil {
		return keycodec.WinKey{}, nil, false, err
	}
	defer c.Close()

	if v, err := s.Get(win); err == nil {
		return win, v, false, nil
	}
	if sk, v, ok := s.probeNeighbor(c, win, extKeyBytes, eqFn, true); ok {
		return sk.Win, v, false, nil
	}
	if sk, v, ok := s.probeNeighbor(c, win, extKeyBytes, eqFn, false); ok {
		return sk.Win, v, false, nil
	}

	zero := make([]byte, zeroLen)
	if err := s.Put(win, zero); err != nil {
		return keycodec.WinKey{}, nil, false, err
	}
	return win, zero, true, nil
}

func (s *Store) probeNeighbor(c *StateCursor, win keycodec.WinKey, extKeyBytes []byte, eqFn func(a, b []byte) bool, prev bool) (keycodec.StateKey, []byte, bool) {
	var sk keycodec.StateKey
	var err error
	if prev {
		sk, err = c.SeekKeyPrev(win)
	} else {
		sk, err = c.SeekKeyNext(win)
	}
	if err != nil {
		return keycodec.StateKey{}, nil, false
	}
	_, v, err := c.GetKVByCur()
	if err != nil {
		return keycodec.StateKey{}, nil, false
	}
	if keycodec.CompareWinKey(sk.Win, win) == 0 {
		return sk, v, true
	}
	if eqFn != nil && eqFn(extKeyBytes, v) {
		return sk, v, true
	}
	return keycodec.StateKey{}, nil, false
}
