package commontest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telekv/telekv/common"
)

func TestUint32RoundTrip(t *testing.T) {
	var buff []byte
	buff = common.AppendUint32ToBufferLE(buff, 0)
	buff = common.AppendUint32ToBufferLE(buff, 12345678)
	buff = common.AppendUint32ToBufferLE(buff, 0xffffffff)

	v, offset := common.ReadUint32FromBufferLE(buff, 0)
	require.Equal(t, uint32(0), v)
	v, offset = common.ReadUint32FromBufferLE(buff, offset)
	require.Equal(t, uint32(12345678), v)
	v, offset = common.ReadUint32FromBufferLE(buff, offset)
	require.Equal(t, uint32(0xffffffff), v)
	require.Equal(t, len(buff), offset)
}

func TestUint64RoundTrip(t *testing.T) {
	var buff []byte
	buff = common.AppendUint64ToBufferLE(buff, 0)
	buff = common.AppendUint64ToBufferLE(buff, uint64(1)<<62)

	v, offset := common.ReadUint64FromBufferLE(buff, 0)
	require.Equal(t, uint64(0), v)
	v, offset = common.ReadUint64FromBufferLE(buff, offset)
	require.Equal(t, uint64(1)<<62, v)
	require.Equal(t, len(buff), offset)
}

func TestStringRoundTrip(t *testing.T) {
	var buff []byte
	buff = common.AppendStringToBufferLE(buff, "")
	buff = common.AppendStringToBufferLE(buff, "aardvarks")

	s, offset := common.ReadStringFromBufferLE(buff, 0)
	require.Equal(t, "", s)
	s, offset = common.ReadStringFromBufferLE(buff, offset)
	require.Equal(t, "aardvarks", s)
	require.Equal(t, len(buff), offset)
}

// nil and empty byte slices must round trip as distinct values - nil means "no bound"
// for iterator requests
func TestBytesRoundTripNilAndEmpty(t *testing.T) {
	var buff []byte
	buff = common.AppendBytesToBufferLE(buff, nil)
	buff = common.AppendBytesToBufferLE(buff, []byte{})
	buff = common.AppendBytesToBufferLE(buff, []byte("antelopes"))

	b, offset := common.ReadBytesFromBufferLE(buff, 0)
	require.Nil(t, b)
	b, offset = common.ReadBytesFromBufferLE(buff, offset)
	require.NotNil(t, b)
	require.Len(t, b, 0)
	b, offset = common.ReadBytesFromBufferLE(buff, offset)
	require.Equal(t, []byte("antelopes"), b)
	require.Equal(t, len(buff), offset)
}
