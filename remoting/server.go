package remoting

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/telekv/telekv/common"
	"github.com/telekv/telekv/errors"
)

const maxConcurrentMsgsPerConnection = 100000

// Server accepts framed request/response connections and dispatches each request to the
// handler registered for its message type. Handlers run concurrently; the server answers
// heartbeats even while requests are in flight.
type Server interface {
	Start() error

	Stop() error

	ListenAddress() string

	RegisterMessageHandler(messageType MessageType, handler MessageHandler)

	RegisterConnectionListener(listener ConnectionListener)
}

func NewServer(listenAddress string) Server {
	return newServer(listenAddress)
}

func newServer(listenAddress string) *server {
	return &server{
		listenAddress: listenAddress,
		acceptLoopCh:  make(chan struct{}, 1),
	}
}

type server struct {
	listenAddress     string
	listener          net.Listener
	started           bool
	lock              sync.RWMutex
	acceptLoopCh      chan struct{}
	connections       sync.Map
	messageHandlers   sync.Map
	connListeners     []ConnectionListener
	connListenersLock sync.Mutex
	responsesDisabled common.AtomicBool
	connSequence      int64
}

func (s *server) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		return nil
	}
	list, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return errors.WithStack(err)
	}
	s.listener = list
	s.started = true
	go s.acceptLoop()
	return nil
}

func (s *server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Ok - was closed
			break
		}
		c := s.newConnection(conn)
		s.connections.Store(c, struct{}{})
		c.start()
	}
	s.acceptLoopCh <- struct{}{}
}

func (s *server) Stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.started {
		return nil
	}
	if err := s.listener.Close(); err != nil {
		return errors.WithStack(err)
	}
	// Wait for accept loop to exit
	_, ok := <-s.acceptLoopCh
	if !ok {
		panic("channel was closed")
	}
	// Now close connections
	var e error
	s.connections.Range(func(conn, _ interface{}) bool {
		if err := conn.(*connection).stop(); err != nil {
			e = err
			return false
		}
		return true
	})
	s.started = false
	return e
}

func (s *server) ListenAddress() string {
	// The configured address may have port zero, the listener has the real one
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.listenAddress
}

func (s *server) RegisterMessageHandler(messageType MessageType, handler MessageHandler) {
	_, ok := s.messageHandlers.Load(messageType)
	if ok {
		panic(fmt.Sprintf("message handler with type %d already registered", messageType))
	}
	s.messageHandlers.Store(messageType, handler)
}

func (s *server) RegisterConnectionListener(listener ConnectionListener) {
	s.connListenersLock.Lock()
	defer s.connListenersLock.Unlock()
	s.connListeners = append(s.connListeners, listener)
}

func (s *server) lookupMessageHandler(message Message) (MessageHandler, error) {
	l, ok := s.messageHandlers.Load(message.Type())
	if !ok {
		return nil, errors.Errorf("no message handler for type %d", message.Type())
	}
	return l.(MessageHandler), nil
}

func (s *server) removeConnection(conn *connection) {
	s.connections.Delete(conn)
	s.connListenersLock.Lock()
	defer s.connListenersLock.Unlock()
	for _, listener := range s.connListeners {
		listener.ConnectionClosed(conn.id)
	}
}

// DisableResponses is used to disable responses - for testing only
func (s *server) DisableResponses() {
	s.responsesDisabled.Set(true)
}

func (s *server) newConnection(conn net.Conn) *connection {
	id := atomic.AddInt64(&s.connSequence, 1)
	log.Tracef("server connection %d opened from %s", id, conn.RemoteAddr())
	return &connection{
		s:          s,
		id:         id,
		conn:       conn,
		asyncMsgCh: make(chan []byte, maxConcurrentMsgsPerConnection),
	}
}

type connection struct {
	s                   *server
	id                  int64
	conn                net.Conn
	asyncMsgCh          chan []byte
	asyncMsgsInProgress sync.WaitGroup
	readLoopExited      sync.WaitGroup
}

func (c *connection) start() {
	c.readLoopExited.Add(1)
	go c.readLoop()
	go c.handleMessageLoop()
}

func (c *connection) readLoop() {
	readMessages(c.handleFrame, c.conn, func() {
		c.s.removeConnection(c)
		c.readLoopExited.Done()
	})
}

// We execute requests on a different goroutine as we need to be able to answer
// heartbeats even when we are processing other messages.
func (c *connection) handleMessageLoop() {
	for {
		msg, ok := <-c.asyncMsgCh
		if !ok {
			// channel was closed
			return
		}
		go c.handleRequestAsync(msg)
	}
}

func (c *connection) handleFrame(msgType messageType, msg []byte) error {
	if msgType == heartbeatMessageType {
		log.Tracef("received heartbeat on server from %s", c.conn.RemoteAddr())
		if !c.s.responsesDisabled.Get() {
			if err := writeMessage(heartbeatMessageType, nil, c.conn); err != nil {
				log.Errorf("failed to write heartbeat %+v", err)
			}
		}
		return nil
	}

	// Handle async
	c.asyncMsgsInProgress.Add(1)
	c.asyncMsgCh <- msg

	return nil
}

func (c *connection) handleRequestAsync(msg []byte) {
	c.handleRequest(msg)
	c.asyncMsgsInProgress.Done()
}

func (c *connection) handleRequest(msg []byte) {
	request := &storeRequest{}
	if err := request.deserialize(msg); err != nil {
		log.Errorf("failed to deserialize request %+v", err)
		return
	}
	handler, err := c.s.lookupMessageHandler(request.requestMessage)
	if err != nil {
		if err := c.sendResponse(request, nil, err); err != nil {
			log.Errorf("failed to send response %+v", err)
		}
		return
	}
	respMsg, respErr := handler.HandleMessage(request.requestMessage, c.id)
	if c.s.responsesDisabled.Get() {
		return
	}
	if err := c.sendResponse(request, respMsg, respErr); err != nil {
		log.Errorf("failed to send response %+v", err)
	}
}

func (c *connection) sendResponse(request *storeRequest, respMsg Message, respErr error) error {
	resp := &storeResponse{
		sequence:        request.sequence,
		responseMessage: respMsg,
	}
	if respErr == nil {
		resp.ok = true
	} else {
		resp.ok = false
		var kvErr errors.KVError
		if errors.As(respErr, &kvErr) {
			resp.errCode = uint32(kvErr.Code)
		} else {
			resp.errCode = uint32(errors.InternalError)
		}
		resp.errMsg = respErr.Error()
	}
	buff := resp.serialize(nil)
	err := writeMessage(responseMessageType, buff, c.conn)
	return errors.WithStack(err)
}

func (c *connection) stop() error {
	if err := c.conn.Close(); err != nil {
		// Do nothing - connection might already have been closed (e.g. from client)
	}
	c.readLoopExited.Wait()
	c.asyncMsgsInProgress.Wait() // Wait for all in flight requests to be processed
	close(c.asyncMsgCh)
	return nil
}
