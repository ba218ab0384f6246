package remoting

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/telekv/telekv/errors"
)

type clientConnection struct {
	lock          sync.RWMutex
	netConn       net.Conn
	closeGroup    sync.WaitGroup
	respHandlers  sync.Map
	reqSequence   int64
	closed        bool
	serverAddress string
}

type responseHandler interface {
	HandleResponse(resp Message, err error)
}

var ErrConnectionClosed = errors.NewInternalError("connection closed")

func createConnection(serverAddress string) (*clientConnection, error) {
	netConn, err := createNetConnection(serverAddress)
	if err != nil {
		return nil, err
	}
	cc := &clientConnection{
		netConn:       netConn,
		serverAddress: serverAddress,
	}
	cc.start()
	return cc, nil
}

func (c *clientConnection) SendRequestAsync(message Message, respHandler responseHandler) error {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	seq := atomic.AddInt64(&c.reqSequence, 1)
	c.respHandlers.Store(seq, respHandler)
	request := &storeRequest{
		sequence:       seq,
		requestMessage: message,
	}
	buff := request.serialize(nil)
	return writeMessage(requestMessageType, buff, c.netConn)
}

func (c *clientConnection) start() {
	c.closeGroup.Add(1)
	go readMessages(c.handleFrame, c.netConn, func() {
		// This is called after the read loop has exited. We close the connection from
		// this side too, to avoid leaking connections in CLOSE_WAIT state
		c.lock.Lock()
		c.closed = true
		c.lock.Unlock()
		if err := c.netConn.Close(); err != nil {
			// Ignore
		}
		// Notify any waiting response handlers that the connection is closed
		c.respHandlers.Range(func(seq, v interface{}) bool {
			handler, ok := v.(responseHandler)
			if !ok {
				panic("not a responseHandler")
			}
			c.respHandlers.Delete(seq)
			handler.HandleResponse(nil, ErrConnectionClosed)
			return true
		})
		c.closeGroup.Done()
	})
}

func (c *clientConnection) Close() {
	c.lock.Lock()
	c.closed = true
	c.lock.Unlock() // Note, we must unlock before closing the connection to avoid deadlock
	if err := c.netConn.Close(); err != nil {
		// Do nothing - connection might already have been closed from other side - this is ok
	}
	c.closeGroup.Wait()
}

func (c *clientConnection) ServerAddress() string {
	return c.serverAddress
}

func (c *clientConnection) handleFrame(msgType messageType, msg []byte) error {
	if msgType == heartbeatMessageType {
		// Server heartbeat reply - nothing to correlate
		return nil
	}
	if msgType != responseMessageType {
		panic(fmt.Sprintf("unexpected message type %d msg %v", msgType, msg))
	}
	resp := &storeResponse{}
	if err := resp.deserialize(msg); err != nil {
		log.Errorf("failed to deserialize response %v", err)
		return err
	}
	r, ok := c.respHandlers.LoadAndDelete(resp.sequence)
	if !ok {
		return errors.New("failed to find response handler")
	}
	handler, ok := r.(responseHandler)
	if !ok {
		panic("not a responseHandler")
	}
	if resp.ok {
		handler.HandleResponse(resp.responseMessage, nil)
	} else {
		// Rebuild the coded error so callers can branch on the code without string
		// matching
		respErr := errors.NewKVError(errors.ErrorCode(resp.errCode), resp.errMsg)
		handler.HandleResponse(nil, respErr)
	}
	return nil
}

func createNetConnection(serverAddress string) (net.Conn, error) {
	addr, err := net.ResolveTCPAddr("tcp", serverAddress)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	nc, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := nc.SetNoDelay(true); err != nil {
		return nil, errors.WithStack(err)
	}
	return nc, nil
}
