package server

import (
	log "github.com/sirupsen/logrus"

	"github.com/telekv/telekv/errors"
	"github.com/telekv/telekv/kv"
	"github.com/telekv/telekv/remoting"
)

// storeHandler adapts the wrapped store to the wire protocol: one protocol operation per
// request message type, results and coded errors mapped onto the response envelope. It
// also owns the iterator handle table.
type storeHandler struct {
	store   kv.KV
	handles *handleTable
	metrics *serverMetrics
}

func newStoreHandler(store kv.KV) *storeHandler {
	return &storeHandler{
		store:   store,
		handles: newHandleTable(),
		metrics: &serverMetrics{},
	}
}

var requestMessageTypes = []remoting.MessageType{
	remoting.MessageTypeHasRequest,
	remoting.MessageTypeGetRequest,
	remoting.MessageTypePutRequest,
	remoting.MessageTypeDeleteRequest,
	remoting.MessageTypeNewIteratorRequest,
	remoting.MessageTypeNewIteratorWithStartRequest,
	remoting.MessageTypeNewIteratorWithPrefixRequest,
	remoting.MessageTypeNewIteratorWithStartAndPrefixRequest,
	remoting.MessageTypeIteratorNextRequest,
	remoting.MessageTypeIteratorKeyRequest,
	remoting.MessageTypeIteratorValueRequest,
	remoting.MessageTypeIteratorErrorRequest,
	remoting.MessageTypeIteratorReleaseRequest,
	remoting.MessageTypeCompactRequest,
	remoting.MessageTypeHealthCheckRequest,
	remoting.MessageTypeCloseRequest,
}

func (s *storeHandler) registerWith(remServer remoting.Server) {
	for _, mt := range requestMessageTypes {
		remServer.RegisterMessageHandler(mt, s)
	}
	remServer.RegisterConnectionListener(s)
}

func (s *storeHandler) HandleMessage(message remoting.Message, connID int64) (remoting.Message, error) {
	switch m := message.(type) {
	case *remoting.HasRequest:
		return s.handleHas(m)
	case *remoting.GetRequest:
		return s.handleGet(m)
	case *remoting.PutRequest:
		return s.handlePut(m)
	case *remoting.DeleteRequest:
		return s.handleDelete(m)
	case *remoting.NewIteratorRequest:
		return s.newIterator(nil, nil, connID)
	case *remoting.NewIteratorWithStartRequest:
		return s.newIterator(m.Start, nil, connID)
	case *remoting.NewIteratorWithPrefixRequest:
		return s.newIterator(nil, m.Prefix, connID)
	case *remoting.NewIteratorWithStartAndPrefixRequest:
		return s.newIterator(m.Start, m.Prefix, connID)
	case *remoting.IteratorNextRequest:
		return s.handleIteratorNext(m)
	case *remoting.IteratorKeyRequest:
		return s.handleIteratorKey(m)
	case *remoting.IteratorValueRequest:
		return s.handleIteratorValue(m)
	case *remoting.IteratorErrorRequest:
		return s.handleIteratorError(m)
	case *remoting.IteratorReleaseRequest:
		return s.handleIteratorRelease(m)
	case *remoting.CompactRequest:
		return s.handleCompact(m)
	case *remoting.HealthCheckRequest:
		return s.handleHealthCheck()
	case *remoting.CloseRequest:
		return s.handleClose()
	default:
		return nil, errors.NewInvalidArgumentError("unknown request message")
	}
}

// ConnectionClosed releases every handle created on the connection so a client that
// drops without releasing its iterators cannot grow the table without bound.
func (s *storeHandler) ConnectionClosed(connID int64) {
	iters := s.handles.removeConnection(connID)
	if len(iters) == 0 {
		return
	}
	log.Debugf("reclaiming %d iterator handle(s) of closed connection %d", len(iters), connID)
	for _, iter := range iters {
		if err := iter.Release(); err != nil {
			log.Errorf("failed to release iterator %+v", err)
		}
		s.metrics.incIteratorsReleased()
	}
}

func (s *storeHandler) handleHas(m *remoting.HasRequest) (remoting.Message, error) {
	s.metrics.incPointOps()
	has, err := s.store.Has(m.Key)
	if err != nil {
		return nil, err
	}
	return &remoting.HasResponse{Has: has}, nil
}

func (s *storeHandler) handleGet(m *remoting.GetRequest) (remoting.Message, error) {
	s.metrics.incPointOps()
	value, err := s.store.Get(m.Key)
	if err != nil {
		return nil, err
	}
	return &remoting.GetResponse{Value: value}, nil
}

func (s *storeHandler) handlePut(m *remoting.PutRequest) (remoting.Message, error) {
	s.metrics.incPointOps()
	if err := s.store.Put(m.Key, m.Value); err != nil {
		return nil, err
	}
	return &remoting.OKResponse{}, nil
}

func (s *storeHandler) handleDelete(m *remoting.DeleteRequest) (remoting.Message, error) {
	s.metrics.incPointOps()
	if err := s.store.Delete(m.Key); err != nil {
		return nil, err
	}
	return &remoting.OKResponse{}, nil
}

func (s *storeHandler) newIterator(start []byte, prefix []byte, connID int64) (remoting.Message, error) {
	iter, err := s.store.NewIteratorWithStartAndPrefix(start, prefix)
	if err != nil {
		return nil, err
	}
	id := s.handles.add(iter, connID)
	s.metrics.incIteratorsOpened()
	return &remoting.IteratorHandleResponse{ID: id}, nil
}

func (s *storeHandler) handleIteratorNext(m *remoting.IteratorNextRequest) (remoting.Message, error) {
	iter, ok := s.handles.get(m.ID)
	if !ok {
		return nil, errors.NewUnknownIteratorError(m.ID)
	}
	// A failed advance reports false here; the detail is retrieved via IteratorError
	return &remoting.IteratorNextResponse{Valid: iter.Next()}, nil
}

func (s *storeHandler) handleIteratorKey(m *remoting.IteratorKeyRequest) (remoting.Message, error) {
	iter, ok := s.handles.get(m.ID)
	if !ok {
		return nil, errors.NewUnknownIteratorError(m.ID)
	}
	key, err := iter.Key()
	if err != nil {
		return nil, err
	}
	return &remoting.IteratorKeyResponse{Key: key}, nil
}

func (s *storeHandler) handleIteratorValue(m *remoting.IteratorValueRequest) (remoting.Message, error) {
	iter, ok := s.handles.get(m.ID)
	if !ok {
		return nil, errors.NewUnknownIteratorError(m.ID)
	}
	value, err := iter.Value()
	if err != nil {
		return nil, err
	}
	return &remoting.IteratorValueResponse{Value: value}, nil
}

func (s *storeHandler) handleIteratorError(m *remoting.IteratorErrorRequest) (remoting.Message, error) {
	iter, ok := s.handles.get(m.ID)
	if !ok {
		return nil, errors.NewUnknownIteratorError(m.ID)
	}
	err := iter.Error()
	if err == nil {
		return &remoting.IteratorErrorResponse{}, nil
	}
	return &remoting.IteratorErrorResponse{
		HasError: true,
		ErrCode:  uint32(errors.Code(err)),
		ErrMsg:   err.Error(),
	}, nil
}

// handleIteratorRelease tolerates an unknown handle - releasing an already released
// iterator is a no-op to keep client cleanup paths simple.
func (s *storeHandler) handleIteratorRelease(m *remoting.IteratorReleaseRequest) (remoting.Message, error) {
	iter, ok := s.handles.remove(m.ID)
	if !ok {
		return &remoting.OKResponse{}, nil
	}
	if err := iter.Release(); err != nil {
		return nil, err
	}
	s.metrics.incIteratorsReleased()
	return &remoting.OKResponse{}, nil
}

func (s *storeHandler) handleCompact(m *remoting.CompactRequest) (remoting.Message, error) {
	if err := s.store.Compact(m.Start, m.Limit); err != nil {
		return nil, err
	}
	return &remoting.OKResponse{}, nil
}

func (s *storeHandler) handleHealthCheck() (remoting.Message, error) {
	details, err := s.store.HealthCheck()
	if err != nil {
		return nil, err
	}
	return &remoting.HealthCheckResponse{Details: details}, nil
}

func (s *storeHandler) handleClose() (remoting.Message, error) {
	if err := s.store.Close(); err != nil {
		return nil, err
	}
	return &remoting.OKResponse{}, nil
}
