// Package guard provides a fail-stop decorator around any kv.KV. The guard intercepts
// every operation and converts the first unexpected failure from the wrapped store into a
// permanent corrupted state: a storage fault may leave the underlying store in an unknown
// state, and continuing to serve reads or writes would risk acting on stale or
// inconsistent data. There is no recovery path - a fresh store instance must be built.
package guard

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/telekv/telekv/errors"
	"github.com/telekv/telekv/kv"
)

type state int

const (
	stateHealthy state = iota
	stateClosed
	stateCorrupted
)

type Store struct {
	wrapped       kv.KV
	lock          sync.RWMutex
	state         state
	corruptionErr error
}

var _ kv.KV = &Store{}

func New(wrapped kv.KV) *Store {
	return &Store{wrapped: wrapped}
}

func (g *Store) Has(key []byte) (bool, error) {
	if err := g.checkUsable(); err != nil {
		return false, err
	}
	has, err := g.wrapped.Has(key)
	return has, g.handleError(err)
}

func (g *Store) Get(key []byte) ([]byte, error) {
	if err := g.checkUsable(); err != nil {
		return nil, err
	}
	value, err := g.wrapped.Get(key)
	return value, g.handleError(err)
}

func (g *Store) Put(key []byte, value []byte) error {
	if err := g.checkUsable(); err != nil {
		return err
	}
	return g.handleError(g.wrapped.Put(key, value))
}

func (g *Store) Delete(key []byte) error {
	if err := g.checkUsable(); err != nil {
		return err
	}
	return g.handleError(g.wrapped.Delete(key))
}

func (g *Store) NewIterator() (kv.Iterator, error) {
	return g.NewIteratorWithStartAndPrefix(nil, nil)
}

func (g *Store) NewIteratorWithStart(start []byte) (kv.Iterator, error) {
	return g.NewIteratorWithStartAndPrefix(start, nil)
}

func (g *Store) NewIteratorWithPrefix(prefix []byte) (kv.Iterator, error) {
	return g.NewIteratorWithStartAndPrefix(nil, prefix)
}

func (g *Store) NewIteratorWithStartAndPrefix(start []byte, prefix []byte) (kv.Iterator, error) {
	if err := g.checkUsable(); err != nil {
		return nil, err
	}
	inner, err := g.wrapped.NewIteratorWithStartAndPrefix(start, prefix)
	if err != nil {
		return nil, g.handleError(err)
	}
	return &iterator{g: g, inner: inner}, nil
}

func (g *Store) Compact(start []byte, limit []byte) error {
	if err := g.checkUsable(); err != nil {
		return err
	}
	return g.handleError(g.wrapped.Compact(start, limit))
}

func (g *Store) HealthCheck() ([]byte, error) {
	if err := g.checkUsable(); err != nil {
		return nil, err
	}
	status, err := g.wrapped.HealthCheck()
	return status, g.handleError(err)
}

// Close transitions healthy to closed. Corrupted is stickier than closed: once the guard
// has observed a fault, Close reports the corruption rather than succeeding silently.
func (g *Store) Close() error {
	g.lock.Lock()
	defer g.lock.Unlock()
	switch g.state {
	case stateCorrupted:
		return g.corruptionErr
	case stateClosed:
		return errors.NewClosedError()
	}
	if err := g.wrapped.Close(); err != nil && !errors.Expected(err) {
		return g.corrupt(err)
	}
	g.state = stateClosed
	return nil
}

// Corrupted reports whether the guard has observed an unexpected fault.
func (g *Store) Corrupted() bool {
	g.lock.RLock()
	defer g.lock.RUnlock()
	return g.state == stateCorrupted
}

func (g *Store) checkUsable() error {
	g.lock.RLock()
	defer g.lock.RUnlock()
	switch g.state {
	case stateClosed:
		return errors.NewClosedError()
	case stateCorrupted:
		return g.corruptionErr
	}
	return nil
}

// handleError inspects the result of a forwarded call. Expected conditions (absent key,
// caller usage errors) pass through unchanged; anything else flips the guard to corrupted
// for the rest of its lifetime.
func (g *Store) handleError(err error) error {
	if err == nil || errors.Expected(err) {
		return err
	}
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.corrupt(err)
}

// corrupt must be called with the write lock held. The first fault wins - later faults
// return the original corruption error.
func (g *Store) corrupt(cause error) error {
	if g.state == stateCorrupted {
		return g.corruptionErr
	}
	log.Errorf("store corrupted: %+v", cause)
	g.state = stateCorrupted
	g.corruptionErr = errors.NewCorruptedError(cause)
	return g.corruptionErr
}
