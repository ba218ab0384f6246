// Package remoting is the framed TCP request/response transport for the store protocol.
// Frames carry a 1 byte frame type (request, response or heartbeat) and a 4 byte length;
// requests are correlated to responses by a per-connection sequence number, so many
// requests can be in flight on one connection at a time.
package remoting

import (
	"sync"
)

// Client issues blocking RPCs to a single server address. The underlying connection is
// created lazily and recreated after failure; each call blocks until its response (or a
// connection-level failure) arrives.
type Client struct {
	serverAddress string
	lock          sync.Mutex
	conn          *clientConnection
}

func NewClient(serverAddress string) *Client {
	return &Client{serverAddress: serverAddress}
}

func (c *Client) SendRPC(request Message) (Message, error) {
	conn, err := c.getConnection()
	if err != nil {
		return nil, err
	}
	rh := &rpcRespHandler{ch: make(chan respHolder, 1)}
	if err := c.sendRequestWithRetry(conn, request, rh); err != nil {
		return nil, err
	}
	return rh.waitForResponse()
}

func (c *Client) Stop() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

type respHolder struct {
	resp Message
	err  error
}

type rpcRespHandler struct {
	ch chan respHolder
}

func (t *rpcRespHandler) HandleResponse(resp Message, err error) {
	t.ch <- respHolder{resp: resp, err: err}
}

func (t *rpcRespHandler) waitForResponse() (Message, error) {
	rh := <-t.ch
	return rh.resp, rh.err
}

func (c *Client) getConnection() (*clientConnection, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	return c.createAndCacheConnection(nil)
}

// createAndCacheConnection must be called with the lock held. If we're recreating a
// connection after a failure the old conn will still be cached - we don't want to return
// that.
func (c *Client) createAndCacheConnection(oldConn *clientConnection) (*clientConnection, error) {
	if c.conn != nil && c.conn != oldConn {
		return c.conn, nil
	}
	conn, err := createConnection(c.serverAddress)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) sendRequestWithRetry(conn *clientConnection, request Message, rh responseHandler) error {
	if err := conn.SendRequestAsync(request, rh); err != nil {
		// It's possible the connection is cached but is closed - e.g. it hasn't been used
		// for some time and has been closed by a NAT / firewall - in this case we will
		// try and connect again
		c.lock.Lock()
		newConn, err := c.createAndCacheConnection(conn)
		c.lock.Unlock()
		if err != nil {
			return err
		}
		if err := newConn.SendRequestAsync(request, rh); err != nil {
			return err
		}
	}
	return nil
}
