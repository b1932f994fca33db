package streamstate

import (
	"fmt"

	"github.com/tscoredb/engine/errs"
	"github.com/tscoredb/engine/keycodec"
)

// FillPut stores val under the fill keyspace's (ts, groupId) key. The fill
// keyspace is not scoped by opNum: fill state tracks calendar gaps across
// an entire task, independent of which operator currently owns the store.
func (s *Store) FillPut(win keycodec.WinKey, val []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := keycodec.EncodeWinKey(win)
	if err := s.txs[ksFill].Upsert(s.tbls[ksFill], key, val); err != nil {
		return fmt.Errorf("streamstate: fill put: %w", errs.ErrIO)
	}
	return nil
}

// FillGet returns the value stored at the exact fill key win.
func (s *Store) FillGet(win keycodec.WinKey) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	key := keycodec.EncodeWinKey(win)
	return s.txs[ksFill].Get(s.tbls[ksFill], key)
}

// FillDel removes the entry at the exact fill key win.
func (s *Store) FillDel(win keycodec.WinKey) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := keycodec.EncodeWinKey(win)
	if err := s.txs[ksFill].Delete(s.tbls[ksFill], key); err != nil {
		return fmt.Errorf("streamstate: fill del: %w", errs.ErrIO)
	}
	return nil
}
