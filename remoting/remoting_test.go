package remoting

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telekv/telekv/common/commontest"
	"github.com/telekv/telekv/errors"
)

func TestRequestEnvelopeRoundTrip(t *testing.T) {
	req := &storeRequest{
		sequence:       42,
		requestMessage: &PutRequest{Key: []byte("k"), Value: []byte("v")},
	}
	buff := req.serialize(nil)

	decoded := &storeRequest{}
	require.NoError(t, decoded.deserialize(buff))
	require.Equal(t, int64(42), decoded.sequence)
	put, ok := decoded.requestMessage.(*PutRequest)
	require.True(t, ok)
	require.Equal(t, []byte("k"), put.Key)
	require.Equal(t, []byte("v"), put.Value)
}

func TestResponseEnvelopeRoundTripOK(t *testing.T) {
	resp := &storeResponse{
		sequence:        7,
		ok:              true,
		responseMessage: &GetResponse{Value: []byte("world1")},
	}
	buff := resp.serialize(nil)

	decoded := &storeResponse{}
	require.NoError(t, decoded.deserialize(buff))
	require.Equal(t, int64(7), decoded.sequence)
	require.True(t, decoded.ok)
	get, ok := decoded.responseMessage.(*GetResponse)
	require.True(t, ok)
	require.Equal(t, []byte("world1"), get.Value)
}

// The error code rides the envelope so a caller can branch on it without parsing the
// message text
func TestResponseEnvelopeRoundTripError(t *testing.T) {
	resp := &storeResponse{
		sequence: 7,
		ok:       false,
		errCode:  uint32(errors.NotFound),
		errMsg:   "no such key",
	}
	buff := resp.serialize(nil)

	decoded := &storeResponse{}
	require.NoError(t, decoded.deserialize(buff))
	require.Equal(t, int64(7), decoded.sequence)
	require.False(t, decoded.ok)
	require.Equal(t, uint32(errors.NotFound), decoded.errCode)
	require.Equal(t, "no such key", decoded.errMsg)
	require.Nil(t, decoded.responseMessage)
}

// Iterator bound fields must keep the nil/empty distinction - nil means no bound
func TestIteratorRequestNilBounds(t *testing.T) {
	msg := &NewIteratorWithStartAndPrefixRequest{Start: nil, Prefix: []byte{}}
	buff := serializeMessage(msg, nil)

	decoded, err := deserializeMessage(buff)
	require.NoError(t, err)
	req, ok := decoded.(*NewIteratorWithStartAndPrefixRequest)
	require.True(t, ok)
	require.Nil(t, req.Start)
	require.NotNil(t, req.Prefix)
	require.Len(t, req.Prefix, 0)
}

func TestDeserializeUnknownType(t *testing.T) {
	var buff []byte
	buff = append(buff, 0xff, 0xff, 0xff, 0xff)
	_, err := deserializeMessage(buff)
	require.Error(t, err)
}

// A short buffer from a misbehaving peer must surface as an error, not a panic
func TestDeserializeTruncatedMessage(t *testing.T) {
	full := serializeMessage(&PutRequest{Key: []byte("k"), Value: []byte("v")}, nil)
	// Copy so the truncated slice has no spare capacity hiding the cut-off bytes
	truncated := make([]byte, 6)
	copy(truncated, full)
	_, err := deserializeMessage(truncated)
	require.Error(t, err)
}

// Empty and truncated envelopes must surface as errors, not panics - on the server a
// panic in the request path would take the process down
func TestDeserializeMalformedEnvelopes(t *testing.T) {
	require.Error(t, (&storeRequest{}).deserialize(nil))
	require.Error(t, (&storeRequest{}).deserialize(make([]byte, 4)))
	// Sequence only, no payload
	require.Error(t, (&storeRequest{}).deserialize(make([]byte, 8)))
	require.Error(t, (&storeResponse{}).deserialize(nil))
}

func TestSendRPC(t *testing.T) {
	server := startEchoServer(t)
	client := NewClient(server.ListenAddress())
	defer client.Stop()

	resp, err := client.SendRPC(&GetRequest{Key: []byte("somekey")})
	require.NoError(t, err)
	get, ok := resp.(*GetResponse)
	require.True(t, ok)
	require.Equal(t, []byte("somekey"), get.Value)
}

func TestSendRPCConcurrent(t *testing.T) {
	server := startEchoServer(t)
	client := NewClient(server.ListenAddress())
	defer client.Stop()

	numSenders := 10
	numMessagesPerSender := 100
	var wg sync.WaitGroup
	wg.Add(numSenders)
	errCh := make(chan error, numSenders)
	for i := 0; i < numSenders; i++ {
		go func(sender int) {
			defer wg.Done()
			for j := 0; j < numMessagesPerSender; j++ {
				key := []byte(fmt.Sprintf("key-%d-%d", sender, j))
				resp, err := client.SendRPC(&GetRequest{Key: key})
				if err != nil {
					errCh <- err
					return
				}
				if string(resp.(*GetResponse).Value) != string(key) {
					errCh <- errors.Errorf("response %s does not match request %s", resp.(*GetResponse).Value, key)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
}

// A handler error travels back in the envelope and is rebuilt with its original code
func TestSendRPCHandlerError(t *testing.T) {
	server := newServer("localhost:0")
	server.RegisterMessageHandler(MessageTypeGetRequest, &erroringHandler{
		err: errors.NewNotFoundError(),
	})
	require.NoError(t, server.Start())
	defer stopServer(t, server)

	client := NewClient(server.ListenAddress())
	defer client.Stop()

	_, err := client.SendRPC(&GetRequest{Key: []byte("k")})
	require.Error(t, err)
	require.True(t, errors.IsNotFound(err))
}

// An error without a store code comes back as Internal
func TestSendRPCUncodedHandlerError(t *testing.T) {
	server := newServer("localhost:0")
	server.RegisterMessageHandler(MessageTypeGetRequest, &erroringHandler{
		err: errors.New("something broke"),
	})
	require.NoError(t, server.Start())
	defer stopServer(t, server)

	client := NewClient(server.ListenAddress())
	defer client.Stop()

	_, err := client.SendRPC(&GetRequest{Key: []byte("k")})
	require.Error(t, err)
	require.Equal(t, errors.InternalError, errors.Code(err))
}

func TestSendRPCNoHandlerRegistered(t *testing.T) {
	server := newServer("localhost:0")
	require.NoError(t, server.Start())
	defer stopServer(t, server)

	client := NewClient(server.ListenAddress())
	defer client.Stop()

	_, err := client.SendRPC(&GetRequest{Key: []byte("k")})
	require.Error(t, err)
}

func TestConnectionListenerNotified(t *testing.T) {
	server := startEchoServer(t)

	listener := &closedConnListener{}
	server.RegisterConnectionListener(listener)

	client := NewClient(server.ListenAddress())
	_, err := client.SendRPC(&GetRequest{Key: []byte("k")})
	require.NoError(t, err)
	client.Stop()

	commontest.WaitUntil(t, func() (bool, error) {
		return listener.closedCount() == 1, nil
	})
}

// Requests in flight when the connection dies must not block forever
func TestInFlightRequestFailsOnConnectionClose(t *testing.T) {
	server := startEchoServer(t)
	server.DisableResponses()

	client := NewClient(server.ListenAddress())

	done := make(chan error, 1)
	go func() {
		_, err := client.SendRPC(&GetRequest{Key: []byte("k")})
		done <- err
	}()

	// Give the request time to get on the wire, then kill the connection
	commontest.WaitUntil(t, func() (bool, error) {
		count := 0
		server.connections.Range(func(_, _ interface{}) bool {
			count++
			return true
		})
		return count == 1, nil
	})
	client.Stop()

	err := <-done
	require.Error(t, err)
}

type echoHandler struct {
}

func (e *echoHandler) HandleMessage(message Message, connID int64) (Message, error) {
	get, ok := message.(*GetRequest)
	if !ok {
		return nil, errors.Errorf("unexpected message type %d", message.Type())
	}
	return &GetResponse{Value: get.Key}, nil
}

type erroringHandler struct {
	err error
}

func (e *erroringHandler) HandleMessage(message Message, connID int64) (Message, error) {
	return nil, e.err
}

type closedConnListener struct {
	lock   sync.Mutex
	closed int
}

func (l *closedConnListener) ConnectionClosed(connID int64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.closed++
}

func (l *closedConnListener) closedCount() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.closed
}

func startEchoServer(t *testing.T) *server {
	t.Helper()
	server := newServer("localhost:0")
	server.RegisterMessageHandler(MessageTypeGetRequest, &echoHandler{})
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		stopServer(t, server)
	})
	return server
}

func stopServer(t *testing.T, server *server) {
	t.Helper()
	require.NoError(t, server.Stop())
}
