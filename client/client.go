// Package client presents a remote store server as a local kv.KV. Every operation is one
// request/response exchange; wire-level error codes are mapped back onto the same coded
// errors a local store returns, so callers cannot tell a remote store from a local one
// other than by latency and the possibility of connection-level failure.
package client

import (
	"github.com/telekv/telekv/errors"
	"github.com/telekv/telekv/kv"
	"github.com/telekv/telekv/remoting"
)

type Client struct {
	remClient *remoting.Client
}

var _ kv.KV = &Client{}

func NewClient(serverAddress string) *Client {
	return &Client{remClient: remoting.NewClient(serverAddress)}
}

func (c *Client) Has(key []byte) (bool, error) {
	resp, err := c.sendRPC(&remoting.HasRequest{Key: key})
	if err != nil {
		return false, err
	}
	return resp.(*remoting.HasResponse).Has, nil
}

func (c *Client) Get(key []byte) ([]byte, error) {
	resp, err := c.sendRPC(&remoting.GetRequest{Key: key})
	if err != nil {
		return nil, err
	}
	return resp.(*remoting.GetResponse).Value, nil
}

func (c *Client) Put(key []byte, value []byte) error {
	_, err := c.sendRPC(&remoting.PutRequest{Key: key, Value: value})
	return err
}

func (c *Client) Delete(key []byte) error {
	_, err := c.sendRPC(&remoting.DeleteRequest{Key: key})
	return err
}

func (c *Client) NewIterator() (kv.Iterator, error) {
	return c.newIterator(&remoting.NewIteratorRequest{})
}

func (c *Client) NewIteratorWithStart(start []byte) (kv.Iterator, error) {
	return c.newIterator(&remoting.NewIteratorWithStartRequest{Start: start})
}

func (c *Client) NewIteratorWithPrefix(prefix []byte) (kv.Iterator, error) {
	return c.newIterator(&remoting.NewIteratorWithPrefixRequest{Prefix: prefix})
}

func (c *Client) NewIteratorWithStartAndPrefix(start []byte, prefix []byte) (kv.Iterator, error) {
	return c.newIterator(&remoting.NewIteratorWithStartAndPrefixRequest{Start: start, Prefix: prefix})
}

func (c *Client) newIterator(request remoting.Message) (kv.Iterator, error) {
	resp, err := c.sendRPC(request)
	if err != nil {
		return nil, err
	}
	return &iterator{c: c, id: resp.(*remoting.IteratorHandleResponse).ID}, nil
}

func (c *Client) Compact(start []byte, limit []byte) error {
	_, err := c.sendRPC(&remoting.CompactRequest{Start: start, Limit: limit})
	return err
}

func (c *Client) HealthCheck() ([]byte, error) {
	resp, err := c.sendRPC(&remoting.HealthCheckRequest{})
	if err != nil {
		return nil, err
	}
	return resp.(*remoting.HealthCheckResponse).Details, nil
}

// Close closes the remote store. The connection itself is released with Stop - closing
// the store and tearing down the channel are different things.
func (c *Client) Close() error {
	_, err := c.sendRPC(&remoting.CloseRequest{})
	return err
}

// Stop releases the client's connection. Any iterator handles not released stay live on
// the server until it notices the connection is gone and reclaims them.
func (c *Client) Stop() {
	c.remClient.Stop()
}

// sendRPC funnels every exchange so transport faults surface uniformly as Internal coded
// errors. A KVError from the server passes through with its original code.
func (c *Client) sendRPC(request remoting.Message) (remoting.Message, error) {
	resp, err := c.remClient.SendRPC(request)
	if err != nil {
		var kvErr errors.KVError
		if errors.As(err, &kvErr) {
			return nil, err
		}
		return nil, errors.NewInternalError(err.Error())
	}
	return resp, nil
}
