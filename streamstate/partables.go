package streamstate

import (
	"fmt"

	"github.com/tscoredb/engine/errs"
	"github.com/tscoredb/engine/keycodec"
)

// ParNamePut stores the table name associated with groupId.
func (s *Store) ParNamePut(k keycodec.GroupKey, val []byte) error {
	return s.putGroupKeyed(ksParName, "parname", k, val)
}

// ParNameGet returns the table name stored for groupId.
func (s *Store) ParNameGet(k keycodec.GroupKey) ([]byte, error) {
	return s.getGroupKeyed(ksParName, k)
}

// ParTagPut stores the tag blob associated with groupId.
func (s *Store) ParTagPut(k keycodec.GroupKey, val []byte) error {
	return s.putGroupKeyed(ksParTag, "partag", k, val)
}

// ParTagGet returns the tag blob stored for groupId.
func (s *Store) ParTagGet(k keycodec.GroupKey) ([]byte, error) {
	return s.getGroupKeyed(ksParTag, k)
}

func (s *Store) putGroupKeyed(ks keyspace, op string, k keycodec.GroupKey, val []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	key := keycodec.EncodeGroupKey(k)
	if err := s.txs[ks].Upsert(s.tbls[ks], key, val); err != nil {
		return fmt.Errorf("streamstate: %s put: %w", op, errs.ErrIO)
	}
	return nil
}

func (s *Store) getGroupKeyed(ks keyspace, k keycodec.GroupKey) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	key := keycodec.EncodeGroupKey(k)
	return s.txs[ks].Get(s.tbls[ks], key)
}
