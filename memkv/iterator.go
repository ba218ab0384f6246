package memkv

import (
	"bytes"

	"github.com/google/btree"

	"github.com/telekv/telekv/common"
	"github.com/telekv/telekv/errors"
)

// iterator is a forward cursor over a copy-on-write snapshot of the store. It starts
// before the first qualifying entry; each Next seeks the next key past the current
// position, so the cursor is O(log n) per step and holds no materialized entry list.
type iterator struct {
	snapshot  *btree.BTree
	start     []byte
	prefix    []byte
	cur       *kvPair
	started   bool
	exhausted bool
	released  bool
}

func (it *iterator) Next() bool {
	if it.exhausted || it.released {
		it.cur = nil
		return false
	}
	var pivot *kvPair
	skipPivot := false
	if !it.started {
		it.started = true
		pivot = &kvPair{key: firstQualifyingKey(it.start, it.prefix)}
	} else {
		// Seek strictly past the current key
		pivot = it.cur
		skipPivot = true
	}
	var next *kvPair
	it.snapshot.AscendGreaterOrEqual(pivot, func(item btree.Item) bool {
		p := item.(*kvPair)
		if skipPivot && bytes.Equal(p.key, pivot.key) {
			return true
		}
		next = p
		return false
	})
	if next == nil || !bytes.HasPrefix(next.key, it.prefix) {
		// Keys are sorted, so the first key past the prefix range ends the iteration
		it.exhausted = true
		it.cur = nil
		return false
	}
	it.cur = next
	return true
}

func (it *iterator) Key() ([]byte, error) {
	if it.cur == nil {
		return nil, errors.NewInvalidArgumentError("iterator is not positioned on an entry")
	}
	return common.CopyByteSlice(it.cur.key), nil
}

func (it *iterator) Value() ([]byte, error) {
	if it.cur == nil {
		return nil, errors.NewInvalidArgumentError("iterator is not positioned on an entry")
	}
	return common.CopyByteSlice(it.cur.value), nil
}

// Error always returns nil - advancing over an in-memory snapshot cannot fail.
func (it *iterator) Error() error {
	return nil
}

func (it *iterator) Release() error {
	it.released = true
	it.cur = nil
	it.snapshot = nil
	return nil
}

// firstQualifyingKey returns the seek position for the first entry admitted by both
// bounds. Any key carrying the prefix is >= the prefix itself, so the larger of the two
// bounds is the right pivot; a start at or below the smallest qualifying key has no
// effect beyond the prefix filter.
func firstQualifyingKey(start []byte, prefix []byte) []byte {
	if bytes.Compare(start, prefix) >= 0 {
		return start
	}
	return prefix
}

func copyBound(b []byte) []byte {
	if b == nil {
		return nil
	}
	return common.CopyByteSlice(b)
}
