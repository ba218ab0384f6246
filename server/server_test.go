package server_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telekv/telekv/client"
	"github.com/telekv/telekv/common/commontest"
	"github.com/telekv/telekv/conf"
	"github.com/telekv/telekv/errors"
	"github.com/telekv/telekv/guard"
	"github.com/telekv/telekv/kv"
	"github.com/telekv/telekv/server"
)

func startServer(t *testing.T) (*server.Server, *client.Client) {
	t.Helper()
	config := conf.NewDefaultConfig()
	config.ListenAddress = "localhost:0"
	s, err := server.NewServer(*config)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	cl := client.NewClient(s.ListenAddress())
	t.Cleanup(func() {
		cl.Stop()
		require.NoError(t, s.Stop())
	})
	return s, cl
}

func TestPointOperations(t *testing.T) {
	_, cl := startServer(t)

	require.NoError(t, cl.Put([]byte("hello1"), []byte("world1")))

	value, err := cl.Get([]byte("hello1"))
	require.NoError(t, err)
	require.Equal(t, "world1", string(value))

	has, err := cl.Has([]byte("hello1"))
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, cl.Delete([]byte("hello1")))
	has, err = cl.Has([]byte("hello1"))
	require.NoError(t, err)
	require.False(t, has)

	// Delete of an absent key succeeds
	require.NoError(t, cl.Delete([]byte("hello1")))
}

// Error codes must survive the trip over the wire so remote callers can branch on them
// the same way local callers do
func TestErrorCodesRoundTrip(t *testing.T) {
	_, cl := startServer(t)

	_, err := cl.Get([]byte("absent"))
	require.True(t, errors.IsNotFound(err))

	err = cl.Put(nil, []byte("v"))
	require.True(t, errors.IsInvalidArgument(err))

	_, err = cl.Get([]byte{})
	require.True(t, errors.IsInvalidArgument(err))
}

func TestIteration(t *testing.T) {
	_, cl := startServer(t)

	// Inserted out of order - iteration is by key order
	require.NoError(t, cl.Put([]byte("hello2"), []byte("world2")))
	require.NoError(t, cl.Put([]byte("hello1"), []byte("world1")))

	iter, err := cl.NewIterator()
	require.NoError(t, err)
	requireEntries(t, iter, [][]string{
		{"hello1", "world1"},
		{"hello2", "world2"},
	})
}

func TestIterationWithStart(t *testing.T) {
	_, cl := startServer(t)

	require.NoError(t, cl.Put([]byte("goodbye"), []byte("world2")))
	require.NoError(t, cl.Put([]byte("hello1"), []byte("world1")))

	iter, err := cl.NewIteratorWithStart([]byte("goodbye"))
	require.NoError(t, err)
	requireEntries(t, iter, [][]string{
		{"goodbye", "world2"},
		{"hello1", "world1"},
	})
}

func TestIterationWithPrefix(t *testing.T) {
	_, cl := startServer(t)

	require.NoError(t, cl.Put([]byte("hello1"), []byte("world1")))
	require.NoError(t, cl.Put([]byte("goodbye"), []byte("world2")))

	iter, err := cl.NewIteratorWithPrefix([]byte("h"))
	require.NoError(t, err)
	requireEntries(t, iter, [][]string{
		{"hello1", "world1"},
	})
}

func TestIterationWithStartAndPrefix(t *testing.T) {
	_, cl := startServer(t)

	require.NoError(t, cl.Put([]byte("ant1"), []byte("v1")))
	require.NoError(t, cl.Put([]byte("ant2"), []byte("v2")))
	require.NoError(t, cl.Put([]byte("bee1"), []byte("v3")))

	iter, err := cl.NewIteratorWithStartAndPrefix([]byte("ant2"), []byte("ant"))
	require.NoError(t, err)
	requireEntries(t, iter, [][]string{
		{"ant2", "v2"},
	})
}

// Writes made after the handle was opened are invisible to it
func TestIteratorSnapshotOverWire(t *testing.T) {
	_, cl := startServer(t)

	require.NoError(t, cl.Put([]byte("a"), []byte("1")))

	iter, err := cl.NewIterator()
	require.NoError(t, err)

	require.NoError(t, cl.Put([]byte("b"), []byte("2")))

	requireEntries(t, iter, [][]string{
		{"a", "1"},
	})
}

func TestReleasedHandleIsUnknown(t *testing.T) {
	s, cl := startServer(t)

	require.NoError(t, cl.Put([]byte("k"), []byte("v")))

	iter, err := cl.NewIterator()
	require.NoError(t, err)
	require.Equal(t, 1, s.OpenHandles())
	require.NoError(t, iter.Release())
	require.Equal(t, 0, s.OpenHandles())

	// The server has forgotten the handle, so an advance fails with a code the caller
	// can recognise
	require.False(t, iter.Next())
	require.True(t, errors.IsUnknownIterator(iter.Error()))

	// Releasing again is a no-op, not an error
	require.NoError(t, iter.Release())
}

func TestHandlesReclaimedOnDisconnect(t *testing.T) {
	s, cl := startServer(t)

	require.NoError(t, cl.Put([]byte("k"), []byte("v")))

	_, err := cl.NewIterator()
	require.NoError(t, err)
	_, err = cl.NewIterator()
	require.NoError(t, err)
	require.Equal(t, 2, s.OpenHandles())

	cl.Stop()

	commontest.WaitUntil(t, func() (bool, error) {
		return s.OpenHandles() == 0, nil
	})
}

func TestHandlesIsolatedPerClient(t *testing.T) {
	s, cl1 := startServer(t)
	cl2 := client.NewClient(s.ListenAddress())
	defer cl2.Stop()

	require.NoError(t, cl1.Put([]byte("k"), []byte("v")))

	_, err := cl1.NewIterator()
	require.NoError(t, err)
	iter2, err := cl2.NewIterator()
	require.NoError(t, err)
	require.Equal(t, 2, s.OpenHandles())

	// Dropping one connection must only reclaim that connection's handles
	cl1.Stop()
	commontest.WaitUntil(t, func() (bool, error) {
		return s.OpenHandles() == 1, nil
	})

	require.True(t, iter2.Next())
	key, err := iter2.Key()
	require.NoError(t, err)
	require.Equal(t, "k", string(key))
	require.NoError(t, iter2.Release())
}

func TestHealthCheckOverWire(t *testing.T) {
	_, cl := startServer(t)

	require.NoError(t, cl.Put([]byte("k"), []byte("v")))

	details, err := cl.HealthCheck()
	require.NoError(t, err)
	status := struct {
		Healthy bool `json:"healthy"`
	}{}
	require.NoError(t, json.Unmarshal(details, &status))
	require.True(t, status.Healthy)
}

func TestCompactOverWire(t *testing.T) {
	_, cl := startServer(t)

	require.NoError(t, cl.Put([]byte("k"), []byte("v")))
	require.NoError(t, cl.Compact(nil, nil))
	require.NoError(t, cl.Compact([]byte("a"), []byte("z")))

	value, err := cl.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(value))
}

func TestCloseRemoteStore(t *testing.T) {
	_, cl := startServer(t)

	require.NoError(t, cl.Put([]byte("k"), []byte("v")))
	require.NoError(t, cl.Close())

	_, err := cl.Get([]byte("k"))
	require.True(t, errors.IsClosed(err))
	require.True(t, errors.IsClosed(cl.Put([]byte("k"), []byte("v"))))
	require.True(t, errors.IsClosed(cl.Close()))
}

// Two clients hitting the same server see each other's writes
func TestMultipleClients(t *testing.T) {
	s, cl1 := startServer(t)
	cl2 := client.NewClient(s.ListenAddress())
	defer cl2.Stop()

	require.NoError(t, cl1.Put([]byte("shared"), []byte("value")))

	value, err := cl2.Get([]byte("shared"))
	require.NoError(t, err)
	require.Equal(t, "value", string(value))
}

func TestServerProbesOwnAvailability(t *testing.T) {
	s, _ := startServer(t)

	commontest.WaitUntil(t, func() (bool, error) {
		return s.Available(), nil
	})
}

// A cursor whose advance faults server-side reports false from Next; the detail comes
// back through the iterator error operation with its code intact
func TestErroredIteratorOverWire(t *testing.T) {
	config := conf.NewDefaultConfig()
	config.ListenAddress = "localhost:0"
	s, err := server.NewServerWithStore(*config, guard.New(&scanFaultStore{}))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer func() {
		require.NoError(t, s.Stop())
	}()
	cl := client.NewClient(s.ListenAddress())
	defer cl.Stop()

	iter, err := cl.NewIterator()
	require.NoError(t, err)

	require.False(t, iter.Next())
	require.True(t, errors.IsCorrupted(iter.Error()))

	// The fault poisons the whole store, not just the cursor
	require.True(t, errors.IsCorrupted(cl.Put([]byte("k"), []byte("v"))))
}

// scanFaultStore hands out cursors that fail on their first advance, simulating a
// storage fault surfacing mid scan.
type scanFaultStore struct {
}

var _ kv.KV = &scanFaultStore{}

func (f *scanFaultStore) Has(key []byte) (bool, error) { return false, nil }

func (f *scanFaultStore) Get(key []byte) ([]byte, error) { return nil, nil }

func (f *scanFaultStore) Put(key []byte, value []byte) error { return nil }

func (f *scanFaultStore) Delete(key []byte) error { return nil }

func (f *scanFaultStore) NewIterator() (kv.Iterator, error) {
	return f.NewIteratorWithStartAndPrefix(nil, nil)
}

func (f *scanFaultStore) NewIteratorWithStart(start []byte) (kv.Iterator, error) {
	return f.NewIteratorWithStartAndPrefix(start, nil)
}

func (f *scanFaultStore) NewIteratorWithPrefix(prefix []byte) (kv.Iterator, error) {
	return f.NewIteratorWithStartAndPrefix(nil, prefix)
}

func (f *scanFaultStore) NewIteratorWithStartAndPrefix(start []byte, prefix []byte) (kv.Iterator, error) {
	return &scanFaultIterator{err: errors.New("read failed mid scan")}, nil
}

func (f *scanFaultStore) Compact(start []byte, limit []byte) error { return nil }

func (f *scanFaultStore) HealthCheck() ([]byte, error) { return []byte(`{"healthy":true}`), nil }

func (f *scanFaultStore) Close() error { return nil }

type scanFaultIterator struct {
	err error
}

func (it *scanFaultIterator) Next() bool { return false }

func (it *scanFaultIterator) Key() ([]byte, error) { return nil, it.err }

func (it *scanFaultIterator) Value() ([]byte, error) { return nil, it.err }

func (it *scanFaultIterator) Error() error { return it.err }

func (it *scanFaultIterator) Release() error { return nil }

func requireEntries(t *testing.T, iter kv.Iterator, expected [][]string) {
	t.Helper()
	var actual [][]string
	for iter.Next() {
		key, err := iter.Key()
		require.NoError(t, err)
		value, err := iter.Value()
		require.NoError(t, err)
		actual = append(actual, []string{string(key), string(value)})
	}
	require.NoError(t, iter.Error())
	require.Equal(t, expected, actual)
	require.NoError(t, iter.Release())
}
