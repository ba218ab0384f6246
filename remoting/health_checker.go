package remoting

import (
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/telekv/telekv/common"
)

// HealthChecker probes store servers with heartbeat frames on dedicated connections and
// notifies listeners when a server becomes available or unavailable. It is independent of
// the request/response connections so a server busy with requests still answers.
func NewHealthChecker(serverAddresses []string, hbTimeout time.Duration, hbInterval time.Duration) *HealthChecker {
	return &HealthChecker{
		serverAddresses: serverAddresses,
		hbTimeout:       hbTimeout,
		hbInterval:      hbInterval,
		connections:     map[string]net.Conn{},
	}
}

type AvailabilityListener interface {
	AvailabilityChanged(serverAddress string, available bool)
}

type HealthChecker struct {
	started         bool
	serverAddresses []string
	connections     map[string]net.Conn
	availListeners  []AvailabilityListener
	hbTimeout       time.Duration
	hbInterval      time.Duration
	timer           *time.Timer
	lock            sync.Mutex
}

func (h *HealthChecker) AddAvailabilityListener(listener AvailabilityListener) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.availListeners = append(h.availListeners, listener)
}

func (h *HealthChecker) Start() {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.started {
		return
	}
	h.started = true
	h.checkConnections()
}

func (h *HealthChecker) Stop() {
	h.lock.Lock()
	defer h.lock.Unlock()
	if !h.started {
		return
	}
	h.started = false
	if h.timer != nil {
		h.timer.Stop()
	}
	for _, conn := range h.connections {
		if err := conn.Close(); err != nil {
			// Ignore
		}
	}
}

func (h *HealthChecker) checkConnections() {
	if !h.started {
		return
	}
	chans := make([]chan net.Conn, len(h.serverAddresses))
	for i, serverAddress := range h.serverAddresses {
		// We do the checks in parallel
		ch := make(chan net.Conn)
		chans[i] = ch
		conn := h.connections[serverAddress]
		go h.checkConnectionWithChan(conn, serverAddress, ch)
	}
	for i, ch := range chans {
		conn := <-ch
		serverAddress := h.serverAddresses[i]
		_, prev := h.connections[serverAddress]
		if !prev && conn != nil {
			// New connection added
			h.connections[serverAddress] = conn
			h.signalAvailabilityChange(serverAddress, true)
		} else if prev && conn == nil {
			// Connection closed
			delete(h.connections, serverAddress)
			h.signalAvailabilityChange(serverAddress, false)
		}
	}
	h.timer = time.AfterFunc(h.hbInterval, h.checkConnectionsWithLock)
}

func (h *HealthChecker) checkConnectionsWithLock() {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.checkConnections()
}

func (h *HealthChecker) checkConnectionWithChan(conn net.Conn, serverAddress string, ch chan net.Conn) {
	ch <- h.checkConnection(conn, serverAddress)
}

func (h *HealthChecker) checkConnection(conn net.Conn, serverAddress string) net.Conn {
	if conn == nil {
		var err error
		conn, err = createNetConnection(serverAddress)
		if err != nil {
			log.Warnf("health checker failed to connect to %s", serverAddress)
			return nil
		}
		log.Infof("health checker connected to %s", serverAddress)
	}
	if err := h.heartbeat(conn); err != nil {
		log.Warnf("heartbeat returned err %v", err)
		if err := conn.Close(); err != nil {
			// Ignore
		}
		return nil
	}
	return conn
}

func (h *HealthChecker) heartbeat(conn net.Conn) error {
	if err := writeMessage(heartbeatMessageType, nil, conn); err != nil {
		return err
	}
	if err := conn.SetReadDeadline(time.Now().Add(h.hbTimeout)); err != nil {
		return err
	}
	readBuff := make([]byte, messageHeaderSize)
	read := 0
	for read < messageHeaderSize {
		n, err := conn.Read(readBuff[read:])
		if err != nil {
			return err
		}
		read += n
	}
	if messageType(readBuff[0]) != heartbeatMessageType {
		panic("not a heartbeat")
	}
	if l, _ := common.ReadUint32FromBufferLE(readBuff, 1); l != 0 {
		panic("heartbeat with body")
	}
	return nil
}

func (h *HealthChecker) signalAvailabilityChange(serverAddress string, available bool) {
	for _, listener := range h.availListeners {
		listener.AvailabilityChanged(serverAddress, available)
	}
}
