// Package memkv is the in-memory ordered store. Keys are held in a btree ordered by
// unsigned bytewise lexicographic comparison, so a full iteration yields keys in
// ascending byte order regardless of insertion order.
package memkv

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/google/btree"

	"github.com/telekv/telekv/common"
	"github.com/telekv/telekv/errors"
	"github.com/telekv/telekv/kv"
)

const btreeDegree = 3

type Store struct {
	mu     sync.RWMutex
	tree   *btree.BTree
	closed bool
}

var _ kv.KV = &Store{}

func NewStore() *Store {
	return &Store{tree: btree.New(btreeDegree)}
}

type kvPair struct {
	key   []byte
	value []byte
}

func (p *kvPair) Less(than btree.Item) bool {
	return bytes.Compare(p.key, than.(*kvPair).key) < 0
}

func (s *Store) Has(key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, errors.NewClosedError()
	}
	if err := checkKey(key); err != nil {
		return false, err
	}
	return s.tree.Get(&kvPair{key: key}) != nil, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.NewClosedError()
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	item := s.tree.Get(&kvPair{key: key})
	if item == nil {
		return nil, errors.NewNotFoundError()
	}
	return common.CopyByteSlice(item.(*kvPair).value), nil
}

func (s *Store) Put(key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewClosedError()
	}
	if err := checkKey(key); err != nil {
		return err
	}
	// Copy key and value so later mutation by the caller cannot reach into the tree
	s.tree.ReplaceOrInsert(&kvPair{
		key:   common.CopyByteSlice(key),
		value: common.CopyByteSlice(value),
	})
	return nil
}

func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewClosedError()
	}
	if err := checkKey(key); err != nil {
		return err
	}
	// Delete returns nil for an absent key - deleting an absent key is not an error
	s.tree.Delete(&kvPair{key: key})
	return nil
}

func (s *Store) NewIterator() (kv.Iterator, error) {
	return s.NewIteratorWithStartAndPrefix(nil, nil)
}

func (s *Store) NewIteratorWithStart(start []byte) (kv.Iterator, error) {
	return s.NewIteratorWithStartAndPrefix(start, nil)
}

func (s *Store) NewIteratorWithPrefix(prefix []byte) (kv.Iterator, error) {
	return s.NewIteratorWithStartAndPrefix(nil, prefix)
}

// NewIteratorWithStartAndPrefix creates a forward cursor over a snapshot of the store
// taken now. The btree clone is copy-on-write so the snapshot costs no copying up front;
// writes after this point are not observed by the iterator.
func (s *Store) NewIteratorWithStartAndPrefix(start []byte, prefix []byte) (kv.Iterator, error) {
	// Clone mutates shared copy-on-write state so we need the write lock
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.NewClosedError()
	}
	return &iterator{
		snapshot: s.tree.Clone(),
		start:    copyBound(start),
		prefix:   copyBound(prefix),
	}, nil
}

func (s *Store) Compact(start []byte, limit []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewClosedError()
	}
	// Nothing to compact in memory
	return nil
}

func (s *Store) HealthCheck() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.NewClosedError()
	}
	status := struct {
		Healthy bool `json:"healthy"`
		Keys    int  `json:"keys"`
	}{Healthy: true, Keys: s.tree.Len()}
	b, err := json.Marshal(&status)
	return b, errors.WithStack(err)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewClosedError()
	}
	s.closed = true
	s.tree = nil
	return nil
}

func checkKey(key []byte) error {
	if len(key) == 0 {
		return errors.NewInvalidArgumentError("key must be non-empty")
	}
	return nil
}
