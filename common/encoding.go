package common

import (
	"encoding/binary"
	"unsafe"
)

var littleEndian = binary.LittleEndian
var IsLittleEndian = isLittleEndian()

func AppendUint32ToBufferLE(buffer []byte, v uint32) []byte {
	return append(buffer, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func AppendUint64ToBufferLE(buffer []byte, v uint64) []byte {
	return append(buffer, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), byte(v>>32),
		byte(v>>40), byte(v>>48), byte(v>>56))
}

func AppendStringToBufferLE(buffer []byte, value string) []byte {
	buffPtr := AppendUint32ToBufferLE(buffer, uint32(len(value)))
	buffPtr = append(buffPtr, value...)
	return buffPtr
}

// AppendBytesToBufferLE writes a length-prefixed byte slice. A nil slice is encoded with
// a presence byte of zero so it round-trips as nil, distinct from an empty slice - the
// distinction matters for iterator bounds where nil means "no bound".
func AppendBytesToBufferLE(buffer []byte, value []byte) []byte {
	if value == nil {
		return append(buffer, 0)
	}
	buffer = append(buffer, 1)
	buffer = AppendUint32ToBufferLE(buffer, uint32(len(value)))
	return append(buffer, value...)
}

func ReadUint32FromBufferLE(buffer []byte, offset int) (uint32, int) {
	if IsLittleEndian {
		// nolint: gosec
		return *(*uint32)(unsafe.Pointer(&buffer[offset])), offset + 4
	}
	return littleEndian.Uint32(buffer[offset:]), offset + 4
}

func ReadUint64FromBufferLE(buffer []byte, offset int) (uint64, int) {
	if IsLittleEndian {
		// If architecture is little endian we can simply cast to a pointer
		// nolint: gosec
		return *(*uint64)(unsafe.Pointer(&buffer[offset])), offset + 8
	}
	return littleEndian.Uint64(buffer[offset:]), offset + 8
}

func ReadStringFromBufferLE(buffer []byte, offset int) (val string, off int) {
	lu, offset := ReadUint32FromBufferLE(buffer, offset)
	l := int(lu)
	str := string(buffer[offset : offset+l])
	offset += l
	return str, offset
}

func ReadBytesFromBufferLE(buffer []byte, offset int) (val []byte, off int) {
	present := buffer[offset]
	offset++
	if present == 0 {
		return nil, offset
	}
	lu, offset := ReadUint32FromBufferLE(buffer, offset)
	l := int(lu)
	// Copy so the result does not pin the read buffer
	val = CopyByteSlice(buffer[offset : offset+l])
	offset += l
	return val, offset
}

// Are we running on a machine with a little endian architecture?
func isLittleEndian() bool {
	val := uint64(123456)
	buffer := make([]byte, 0, 8)
	buffer = AppendUint64ToBufferLE(buffer, val)
	valRead := *(*uint64)(unsafe.Pointer(&buffer[0])) // nolint: gosec
	return val == valRead
}
