package streamstate

import (
	"fmt"

	"github.com/tscoredb/engine/errs"
	"github.com/tscoredb/engine/keycodec"
)

// FuncPut stores val under the state-function keyspace's tuple key k.
func (s *Store) FuncPut(k keycodec.TupleKey, val []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := keycodec.EncodeTupleKey(k)
	if err := s.txs[ksFunc].Upsert(s.tbls[ksFunc], key, val); err != nil {
		return fmt.Errorf("streamstate: func put: %w", errs.ErrIO)
	}
	return nil
}

// FuncGet returns the value stored at the exact tuple key k: a plain keyed
// Get against the state-function keyspace.
func (s *Store) FuncGet(k keycodec.TupleKey) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	key := keycodec.EncodeTupleKey(k)
	return s.txs[ksFunc].Get(s.tbls[ksFunc], key)
}

// FuncDel removes the entry at the exact tuple key k.
func (s *Store) FuncDel(k keycodec.TupleKey) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := keycodec.EncodeTupleKey(k)
	if err := s.txs[ksFunc].Delete(s.tbls[ksFunc], key); err != nil {
		return fmt.Errorf("streamstate: func del: %w", errs.ErrIO)
	}
	return nil
}
