package streamstate

import (
	"fmt"

	"github.com/tscoredb/engine/errs"
	"github.com/tscoredb/engine/keycodec"
	"github.com/tscoredb/engine/kv"
)

func (s *Store) stateSessionKey(sess keycodec.SessionKey) keycodec.StateSessionKey {
	return keycodec.StateSessionKey{OpNum: s.opNum.Load(), Session: sess}
}

// SessionPut stores val under (opNum, groupId, skey, ekey).
func (s *Store) SessionPut(k keycodec.SessionKey, val []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := keycodec.EncodeStateSessionKey(s.stateSessionKey(k))
	if err := s.txs[ksSession].Upsert(s.tbls[ksSession], key, val); err != nil {
		return fmt.Errorf("streamstate: session put: %w", errs.ErrIO)
	}
	return nil
}

// SessionGet returns the value stored at the exact session key k.
func (s *Store) SessionGet(k keycodec.SessionKey) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	key := keycodec.EncodeStateSessionKey(s.stateSessionKey(k))
	return s.txs[ksSession].Get(s.tbls[ksSession], key)
}

// SessionDel removes the entry at the exact session key k.
func (s *Store) SessionDel(k keycodec.SessionKey) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := keycodec.EncodeStateSessionKey(s.stateSessionKey(k))
	if err := s.txs[ksSession].Delete(s.tbls[ksSession], key); err != nil {
		return fmt.Errorf("streamstate: session del: %w", errs.ErrIO)
	}
	return nil
}

func (s *Store) sessionCursor() (kv.Cursor, error) {
	c, err := s.txs[ksSession].OpenCursor(s.tbls[ksSession])
	if err != nil {
		return nil, fmt.Errorf("streamstate: session cursor: %w", errs.ErrIO)
	}
	return c, nil
}

// currentSession decodes the cursor's current row, verifying it belongs to
// the store's current opNum.
func (s *Store) currentSession(c kv.Cursor) (keycodec.SessionKey, []byte, bool) {
	k, v, ok := c.Current()
	if !ok {
		return keycodec.SessionKey{}, nil, false
	}
	ssk, err := keycodec.DecodeStateSessionKey(k)
	if err != nil || ssk.OpNum != s.opNum.Load() {
		return keycodec.SessionKey{}, nil, false
	}
	return ssk.Session, v, true
}

// seekPrevNeighbor positions c at the largest stored row whose key is
// strictly less than target, or leaves c unpositioned if none exists. Seek
// lands at the smallest row >= target (or none, if target is past the
// last row); the previous neighbor is one step back from there, or the
// last row outright when Seek ran off the end.
func (s *Store) seekPrevNeighbor(c kv.Cursor, target []byte) error {
	ord, err := c.Seek(target)
	if err != nil {
		return err
	}
	if _, _, ok := c.Current(); !ok {
		return c.Last()
	}
	if ord == kv.Eq {
		return c.Prev()
	}
	return c.Prev()
}

// seekNextNeighbor positions c at the smallest stored row whose key is
// strictly greater than target.
func (s *Store) seekNextNeighbor(c kv.Cursor, target []byte) error {
	ord, err := c.Seek(target)
	if err != nil {
		return err
	}
	if ord == kv.Eq {
		return c.Next()
	}
	return nil // Seek already landed on the next-greater row, or none exists.
}

// SessionGetKeyByRange returns the existing session overlapping k: seek to
// k's position, test the landed row, then its previous and next neighbors,
// returning the first overlap found.
func (s *Store) SessionGetKeyByRange(k keycodec.SessionKey) (keycodec.SessionKey, []byte, bool, error) {
	if err := s.checkOpen(); err != nil {
		return keycodec.SessionKey{}, nil, false, err
	}
	c, err := s.sessionCursor()
	if err != nil {
		return keycodec.SessionKey{}, nil, false, err
	}
	defer c.Close()

	target := keycodec.EncodeStateSessionKey(s.stateSessionKey(k))
	if _, err := c.Seek(target); err != nil {
		return keycodec.SessionKey{}, nil, false, fmt.Errorf("streamstate: session range seek: %w", errs.ErrIO)
	}
	if sk, v, ok := s.currentSession(c); ok && keycodec.RangeOverlaps(sk, k) {
		return sk, v, true, nil
	}

	if err := s.seekPrevNeighbor(c, target); err != nil {
		return keycodec.SessionKey{}, nil, false, fmt.Errorf("streamstate: session range prev: %w", errs.ErrIO)
	}
	if sk, v, ok := s.currentSession(c); ok && keycodec.RangeOverlaps(sk, k) {
		return sk, v, true, nil
	}

	if err := s.seekNextNeighbor(c, target); err != nil {
		return keycodec.SessionKey{}, nil, false, fmt.Errorf("streamstate: session range next: %w", errs.ErrIO)
	}
	if sk, v, ok := s.currentSession(c); ok && keycodec.RangeOverlaps(sk, k) {
		return sk, v, true, nil
	}
	return keycodec.SessionKey{}, nil, false, nil
}

// SessionAddIfNotExist probes the previous then next session for one whose
// range overlaps [k.skey-gap, k.ekey+gap]; on a match the two are merged
// (old entry deleted, span unioned) and the prior value is returned with
// created=false. Otherwise a zero-initialized buffer is stored at k and
// created=true is returned.
func (s *Store) SessionAddIfNotExist(k keycodec.SessionKey, gap int64, zeroLen int) (keycodec.SessionKey, []byte, bool, error) {
	if err := s.checkOpen(); err != nil {
		return keycodec.SessionKey{}, nil, false, err
	}
	expanded := keycodec.SessionRange{Skey: k.Win.Skey - gap, Ekey: k.Win.Ekey + gap}
	probe := keycodec.SessionKey{GroupID: k.GroupID, Win: expanded}
	target := keycodec.EncodeStateSessionKey(s.stateSessionKey(k))

	c, err := s.sessionCursor()
	if err != nil {
		return keycodec.SessionKey{}, nil, false, err
	}
	defer c.Close()

	if err := s.seekPrevNeighbor(c, target); err != nil {
		return keycodec.SessionKey{}, nil, false, fmt.Errorf("streamstate: session add prev: %w", errs.ErrIO)
	}
	if sk, v, ok := s.currentSession(c); ok && keycodec.RangeOverlaps(sk, probe) {
		return s.mergeSession(sk, v, k)
	}

	if err := s.seekNextNeighbor(c, target); err != nil {
		return keycodec.SessionKey{}, nil, false, fmt.Errorf("streamstate: session add next: %w", errs.ErrIO)
	}
	if sk, v, ok := s.currentSession(c); ok && keycodec.RangeOverlaps(sk, probe) {
		return s.mergeSession(sk, v, k)
	}

	zero := make([]byte, zeroLen)
	if err := s.SessionPut(k, zero); err != nil {
		return keycodec.SessionKey{}, nil, false, err
	}
	return k, zero, true, nil
}

// mergeSession deletes the existing session found, stores its value under
// the unioned span, and returns that span with created=false.
func (s *Store) mergeSession(existing keycodec.SessionKey, val []byte, incoming keycodec.SessionKey) (keycodec.SessionKey, []byte, bool, error) {
	oldKey := keycodec.EncodeStateSessionKey(s.stateSessionKey(existing))
	if err := s.txs[ksSession].Delete(s.tbls[ksSession], oldKey); err != nil {
		return keycodec.SessionKey{}, nil, false, fmt.Errorf("streamstate: session merge delete: %w", errs.ErrIO)
	}
	merged := keycodec.SessionKey{
		GroupID: existing.GroupID,
		Win: keycodec.SessionRange{
			Skey: min64(existing.Win.Skey, incoming.Win.Skey),
			Ekey: max64(existing.Win.Ekey, incoming.Win.Ekey),
		},
	}
	if err := s.SessionPut(merged, val); err != nil {
		return keycodec.SessionKey{}, nil, false, err
	}
	return merged, val, false, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
