package guard

import (
	"github.com/telekv/telekv/errors"
	"github.com/telekv/telekv/kv"
)

// iterator guards a cursor obtained through the guard: a fault surfacing from the
// underlying iterator corrupts the owning guard the same way a point operation fault
// does.
type iterator struct {
	g     *Store
	inner kv.Iterator
}

func (it *iterator) Next() bool {
	if err := it.g.checkUsable(); err != nil {
		return false
	}
	valid := it.inner.Next()
	if !valid {
		// A failed advance reports itself through Error; check it so the fault is
		// observed even if the caller never asks
		if err := it.inner.Error(); err != nil {
			_ = it.g.handleError(err)
		}
	}
	return valid
}

func (it *iterator) Key() ([]byte, error) {
	if err := it.g.checkUsable(); err != nil {
		return nil, err
	}
	key, err := it.inner.Key()
	return key, it.g.handleError(err)
}

func (it *iterator) Value() ([]byte, error) {
	if err := it.g.checkUsable(); err != nil {
		return nil, err
	}
	value, err := it.inner.Value()
	return value, it.g.handleError(err)
}

func (it *iterator) Error() error {
	if err := it.g.checkUsable(); err != nil && errors.IsCorrupted(err) {
		return err
	}
	return it.g.handleError(it.inner.Error())
}

func (it *iterator) Release() error {
	return it.g.handleError(it.inner.Release())
}
