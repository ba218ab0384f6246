package client

import (
	"sync"

	"github.com/telekv/telekv/errors"
	"github.com/telekv/telekv/remoting"
)

// iterator is a local proxy for a server-side cursor. It holds only the handle id - no
// entry data is cached, so every accessor is authoritative against server state at call
// time. Ordering between Next and a following Key/Value on the same handle is the
// caller's responsibility, exactly as with a local iterator.
type iterator struct {
	c  *Client
	id uint64

	lock     sync.Mutex
	transErr error
}

func (it *iterator) Next() bool {
	resp, err := it.c.sendRPC(&remoting.IteratorNextRequest{ID: it.id})
	if err != nil {
		// A transport (or unknown handle) failure during advance is reported through
		// Error, the boolean only says whether there is an entry
		it.setTransportError(err)
		return false
	}
	return resp.(*remoting.IteratorNextResponse).Valid
}

func (it *iterator) Key() ([]byte, error) {
	resp, err := it.c.sendRPC(&remoting.IteratorKeyRequest{ID: it.id})
	if err != nil {
		return nil, err
	}
	return resp.(*remoting.IteratorKeyResponse).Key, nil
}

func (it *iterator) Value() ([]byte, error) {
	resp, err := it.c.sendRPC(&remoting.IteratorValueRequest{ID: it.id})
	if err != nil {
		return nil, err
	}
	return resp.(*remoting.IteratorValueResponse).Value, nil
}

func (it *iterator) Error() error {
	if err := it.transportError(); err != nil {
		return err
	}
	resp, err := it.c.sendRPC(&remoting.IteratorErrorRequest{ID: it.id})
	if err != nil {
		return err
	}
	errResp := resp.(*remoting.IteratorErrorResponse)
	if !errResp.HasError {
		return nil
	}
	return errors.NewKVError(errors.ErrorCode(errResp.ErrCode), errResp.ErrMsg)
}

// Release is safe to call after a failure - the handle may or may not still exist
// server-side, and release of an unknown handle is a no-op there.
func (it *iterator) Release() error {
	_, err := it.c.sendRPC(&remoting.IteratorReleaseRequest{ID: it.id})
	return err
}

func (it *iterator) setTransportError(err error) {
	it.lock.Lock()
	defer it.lock.Unlock()
	if it.transErr == nil {
		it.transErr = err
	}
}

func (it *iterator) transportError() error {
	it.lock.Lock()
	defer it.lock.Unlock()
	return it.transErr
}
