package remoting

import (
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/telekv/telekv/common"
	"github.com/telekv/telekv/errors"
)

// MessageType identifies a store protocol message. Each protocol operation has its own
// request type; responses are shared where their shape is identical (e.g. OKResponse).
type MessageType int32

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeHasRequest
	MessageTypeGetRequest
	MessageTypePutRequest
	MessageTypeDeleteRequest
	MessageTypeNewIteratorRequest
	MessageTypeNewIteratorWithStartRequest
	MessageTypeNewIteratorWithPrefixRequest
	MessageTypeNewIteratorWithStartAndPrefixRequest
	MessageTypeIteratorNextRequest
	MessageTypeIteratorKeyRequest
	MessageTypeIteratorValueRequest
	MessageTypeIteratorErrorRequest
	MessageTypeIteratorReleaseRequest
	MessageTypeCompactRequest
	MessageTypeHealthCheckRequest
	MessageTypeCloseRequest
	MessageTypeHasResponse
	MessageTypeGetResponse
	MessageTypeOKResponse
	MessageTypeIteratorHandleResponse
	MessageTypeIteratorNextResponse
	MessageTypeIteratorKeyResponse
	MessageTypeIteratorValueResponse
	MessageTypeIteratorErrorResponse
	MessageTypeHealthCheckResponse
)

// Message is a store protocol message with a hand-rolled wire form. All fields are
// encoded little-endian with the common buffer helpers.
type Message interface {
	Type() MessageType
	serialize(buff []byte) []byte
	deserialize(buff []byte, offset int) int
}

type MessageHandler interface {
	// HandleMessage processes a request arriving on the connection identified by connID
	// and returns the response payload, or an error which will travel back in the
	// response envelope.
	HandleMessage(message Message, connID int64) (Message, error)
}

// ConnectionListener is notified when a server-side connection goes away, so that
// per-connection resources (iterator handles) can be reclaimed.
type ConnectionListener interface {
	ConnectionClosed(connID int64)
}

type HasRequest struct {
	Key []byte
}

func (m *HasRequest) Type() MessageType { return MessageTypeHasRequest }
func (m *HasRequest) serialize(buff []byte) []byte {
	return common.AppendBytesToBufferLE(buff, m.Key)
}
func (m *HasRequest) deserialize(buff []byte, offset int) int {
	m.Key, offset = common.ReadBytesFromBufferLE(buff, offset)
	return offset
}

type GetRequest struct {
	Key []byte
}

func (m *GetRequest) Type() MessageType { return MessageTypeGetRequest }
func (m *GetRequest) serialize(buff []byte) []byte {
	return common.AppendBytesToBufferLE(buff, m.Key)
}
func (m *GetRequest) deserialize(buff []byte, offset int) int {
	m.Key, offset = common.ReadBytesFromBufferLE(buff, offset)
	return offset
}

type PutRequest struct {
	Key   []byte
	Value []byte
}

func (m *PutRequest) Type() MessageType { return MessageTypePutRequest }
func (m *PutRequest) serialize(buff []byte) []byte {
	buff = common.AppendBytesToBufferLE(buff, m.Key)
	return common.AppendBytesToBufferLE(buff, m.Value)
}
func (m *PutRequest) deserialize(buff []byte, offset int) int {
	m.Key, offset = common.ReadBytesFromBufferLE(buff, offset)
	m.Value, offset = common.ReadBytesFromBufferLE(buff, offset)
	return offset
}

type DeleteRequest struct {
	Key []byte
}

func (m *DeleteRequest) Type() MessageType { return MessageTypeDeleteRequest }
func (m *DeleteRequest) serialize(buff []byte) []byte {
	return common.AppendBytesToBufferLE(buff, m.Key)
}
func (m *DeleteRequest) deserialize(buff []byte, offset int) int {
	m.Key, offset = common.ReadBytesFromBufferLE(buff, offset)
	return offset
}

type NewIteratorRequest struct {
}

func (m *NewIteratorRequest) Type() MessageType { return MessageTypeNewIteratorRequest }
func (m *NewIteratorRequest) serialize(buff []byte) []byte { return buff }
func (m *NewIteratorRequest) deserialize(_ []byte, offset int) int { return offset }

type NewIteratorWithStartRequest struct {
	Start []byte
}

func (m *NewIteratorWithStartRequest) Type() MessageType {
	return MessageTypeNewIteratorWithStartRequest
}
func (m *NewIteratorWithStartRequest) serialize(buff []byte) []byte {
	return common.AppendBytesToBufferLE(buff, m.Start)
}
func (m *NewIteratorWithStartRequest) deserialize(buff []byte, offset int) int {
	m.Start, offset = common.ReadBytesFromBufferLE(buff, offset)
	return offset
}

type NewIteratorWithPrefixRequest struct {
	Prefix []byte
}

func (m *NewIteratorWithPrefixRequest) Type() MessageType {
	return MessageTypeNewIteratorWithPrefixRequest
}
func (m *NewIteratorWithPrefixRequest) serialize(buff []byte) []byte {
	return common.AppendBytesToBufferLE(buff, m.Prefix)
}
func (m *NewIteratorWithPrefixRequest) deserialize(buff []byte, offset int) int {
	m.Prefix, offset = common.ReadBytesFromBufferLE(buff, offset)
	return offset
}

type NewIteratorWithStartAndPrefixRequest struct {
	Start  []byte
	Prefix []byte
}

func (m *NewIteratorWithStartAndPrefixRequest) Type() MessageType {
	return MessageTypeNewIteratorWithStartAndPrefixRequest
}
func (m *NewIteratorWithStartAndPrefixRequest) serialize(buff []byte) []byte {
	buff = common.AppendBytesToBufferLE(buff, m.Start)
	return common.AppendBytesToBufferLE(buff, m.Prefix)
}
func (m *NewIteratorWithStartAndPrefixRequest) deserialize(buff []byte, offset int) int {
	m.Start, offset = common.ReadBytesFromBufferLE(buff, offset)
	m.Prefix, offset = common.ReadBytesFromBufferLE(buff, offset)
	return offset
}

type IteratorNextRequest struct {
	ID uint64
}

func (m *IteratorNextRequest) Type() MessageType { return MessageTypeIteratorNextRequest }
func (m *IteratorNextRequest) serialize(buff []byte) []byte {
	return common.AppendUint64ToBufferLE(buff, m.ID)
}
func (m *IteratorNextRequest) deserialize(buff []byte, offset int) int {
	m.ID, offset = common.ReadUint64FromBufferLE(buff, offset)
	return offset
}

type IteratorKeyRequest struct {
	ID uint64
}

func (m *IteratorKeyRequest) Type() MessageType { return MessageTypeIteratorKeyRequest }
func (m *IteratorKeyRequest) serialize(buff []byte) []byte {
	return common.AppendUint64ToBufferLE(buff, m.ID)
}
func (m *IteratorKeyRequest) deserialize(buff []byte, offset int) int {
	m.ID, offset = common.ReadUint64FromBufferLE(buff, offset)
	return offset
}

type IteratorValueRequest struct {
	ID uint64
}

func (m *IteratorValueRequest) Type() MessageType { return MessageTypeIteratorValueRequest }
func (m *IteratorValueRequest) serialize(buff []byte) []byte {
	return common.AppendUint64ToBufferLE(buff, m.ID)
}
func (m *IteratorValueRequest) deserialize(buff []byte, offset int) int {
	m.ID, offset = common.ReadUint64FromBufferLE(buff, offset)
	return offset
}

type IteratorErrorRequest struct {
	ID uint64
}

func (m *IteratorErrorRequest) Type() MessageType { return MessageTypeIteratorErrorRequest }
func (m *IteratorErrorRequest) serialize(buff []byte) []byte {
	return common.AppendUint64ToBufferLE(buff, m.ID)
}
func (m *IteratorErrorRequest) deserialize(buff []byte, offset int) int {
	m.ID, offset = common.ReadUint64FromBufferLE(buff, offset)
	return offset
}

type IteratorReleaseRequest struct {
	ID uint64
}

func (m *IteratorReleaseRequest) Type() MessageType { return MessageTypeIteratorReleaseRequest }
func (m *IteratorReleaseRequest) serialize(buff []byte) []byte {
	return common.AppendUint64ToBufferLE(buff, m.ID)
}
func (m *IteratorReleaseRequest) deserialize(buff []byte, offset int) int {
	m.ID, offset = common.ReadUint64FromBufferLE(buff, offset)
	return offset
}

type CompactRequest struct {
	Start []byte
	Limit []byte
}

func (m *CompactRequest) Type() MessageType { return MessageTypeCompactRequest }
func (m *CompactRequest) serialize(buff []byte) []byte {
	buff = common.AppendBytesToBufferLE(buff, m.Start)
	return common.AppendBytesToBufferLE(buff, m.Limit)
}
func (m *CompactRequest) deserialize(buff []byte, offset int) int {
	m.Start, offset = common.ReadBytesFromBufferLE(buff, offset)
	m.Limit, offset = common.ReadBytesFromBufferLE(buff, offset)
	return offset
}

type HealthCheckRequest struct {
}

func (m *HealthCheckRequest) Type() MessageType { return MessageTypeHealthCheckRequest }
func (m *HealthCheckRequest) serialize(buff []byte) []byte { return buff }
func (m *HealthCheckRequest) deserialize(_ []byte, offset int) int { return offset }

type CloseRequest struct {
}

func (m *CloseRequest) Type() MessageType { return MessageTypeCloseRequest }
func (m *CloseRequest) serialize(buff []byte) []byte { return buff }
func (m *CloseRequest) deserialize(_ []byte, offset int) int { return offset }

type HasResponse struct {
	Has bool
}

func (m *HasResponse) Type() MessageType { return MessageTypeHasResponse }
func (m *HasResponse) serialize(buff []byte) []byte {
	return appendBoolToBuffer(buff, m.Has)
}
func (m *HasResponse) deserialize(buff []byte, offset int) int {
	m.Has, offset = readBoolFromBuffer(buff, offset)
	return offset
}

type GetResponse struct {
	Value []byte
}

func (m *GetResponse) Type() MessageType { return MessageTypeGetResponse }
func (m *GetResponse) serialize(buff []byte) []byte {
	return common.AppendBytesToBufferLE(buff, m.Value)
}
func (m *GetResponse) deserialize(buff []byte, offset int) int {
	m.Value, offset = common.ReadBytesFromBufferLE(buff, offset)
	return offset
}

type OKResponse struct {
}

func (m *OKResponse) Type() MessageType { return MessageTypeOKResponse }
func (m *OKResponse) serialize(buff []byte) []byte { return buff }
func (m *OKResponse) deserialize(_ []byte, offset int) int { return offset }

type IteratorHandleResponse struct {
	ID uint64
}

func (m *IteratorHandleResponse) Type() MessageType { return MessageTypeIteratorHandleResponse }
func (m *IteratorHandleResponse) serialize(buff []byte) []byte {
	return common.AppendUint64ToBufferLE(buff, m.ID)
}
func (m *IteratorHandleResponse) deserialize(buff []byte, offset int) int {
	m.ID, offset = common.ReadUint64FromBufferLE(buff, offset)
	return offset
}

type IteratorNextResponse struct {
	Valid bool
}

func (m *IteratorNextResponse) Type() MessageType { return MessageTypeIteratorNextResponse }
func (m *IteratorNextResponse) serialize(buff []byte) []byte {
	return appendBoolToBuffer(buff, m.Valid)
}
func (m *IteratorNextResponse) deserialize(buff []byte, offset int) int {
	m.Valid, offset = readBoolFromBuffer(buff, offset)
	return offset
}

type IteratorKeyResponse struct {
	Key []byte
}

func (m *IteratorKeyResponse) Type() MessageType { return MessageTypeIteratorKeyResponse }
func (m *IteratorKeyResponse) serialize(buff []byte) []byte {
	return common.AppendBytesToBufferLE(buff, m.Key)
}
func (m *IteratorKeyResponse) deserialize(buff []byte, offset int) int {
	m.Key, offset = common.ReadBytesFromBufferLE(buff, offset)
	return offset
}

type IteratorValueResponse struct {
	Value []byte
}

func (m *IteratorValueResponse) Type() MessageType { return MessageTypeIteratorValueResponse }
func (m *IteratorValueResponse) serialize(buff []byte) []byte {
	return common.AppendBytesToBufferLE(buff, m.Value)
}
func (m *IteratorValueResponse) deserialize(buff []byte, offset int) int {
	m.Value, offset = common.ReadBytesFromBufferLE(buff, offset)
	return offset
}

// IteratorErrorResponse carries the sticky iterator error as a payload rather than an
// envelope error - a faulted iterator is an answer to the IteratorError question, not a
// failure to answer it.
type IteratorErrorResponse struct {
	HasError bool
	ErrCode  uint32
	ErrMsg   string
}

func (m *IteratorErrorResponse) Type() MessageType { return MessageTypeIteratorErrorResponse }
func (m *IteratorErrorResponse) serialize(buff []byte) []byte {
	buff = appendBoolToBuffer(buff, m.HasError)
	if m.HasError {
		buff = common.AppendUint32ToBufferLE(buff, m.ErrCode)
		buff = common.AppendStringToBufferLE(buff, m.ErrMsg)
	}
	return buff
}
func (m *IteratorErrorResponse) deserialize(buff []byte, offset int) int {
	m.HasError, offset = readBoolFromBuffer(buff, offset)
	if m.HasError {
		m.ErrCode, offset = common.ReadUint32FromBufferLE(buff, offset)
		m.ErrMsg, offset = common.ReadStringFromBufferLE(buff, offset)
	}
	return offset
}

type HealthCheckResponse struct {
	Details []byte
}

func (m *HealthCheckResponse) Type() MessageType { return MessageTypeHealthCheckResponse }
func (m *HealthCheckResponse) serialize(buff []byte) []byte {
	return common.AppendBytesToBufferLE(buff, m.Details)
}
func (m *HealthCheckResponse) deserialize(buff []byte, offset int) int {
	m.Details, offset = common.ReadBytesFromBufferLE(buff, offset)
	return offset
}

func newMessageForType(mt MessageType) (Message, error) {
	switch mt {
	case MessageTypeHasRequest:
		return &HasRequest{}, nil
	case MessageTypeGetRequest:
		return &GetRequest{}, nil
	case MessageTypePutRequest:
		return &PutRequest{}, nil
	case MessageTypeDeleteRequest:
		return &DeleteRequest{}, nil
	case MessageTypeNewIteratorRequest:
		return &NewIteratorRequest{}, nil
	case MessageTypeNewIteratorWithStartRequest:
		return &NewIteratorWithStartRequest{}, nil
	case MessageTypeNewIteratorWithPrefixRequest:
		return &NewIteratorWithPrefixRequest{}, nil
	case MessageTypeNewIteratorWithStartAndPrefixRequest:
		return &NewIteratorWithStartAndPrefixRequest{}, nil
	case MessageTypeIteratorNextRequest:
		return &IteratorNextRequest{}, nil
	case MessageTypeIteratorKeyRequest:
		return &IteratorKeyRequest{}, nil
	case MessageTypeIteratorValueRequest:
		return &IteratorValueRequest{}, nil
	case MessageTypeIteratorErrorRequest:
		return &IteratorErrorRequest{}, nil
	case MessageTypeIteratorReleaseRequest:
		return &IteratorReleaseRequest{}, nil
	case MessageTypeCompactRequest:
		return &CompactRequest{}, nil
	case MessageTypeHealthCheckRequest:
		return &HealthCheckRequest{}, nil
	case MessageTypeCloseRequest:
		return &CloseRequest{}, nil
	case MessageTypeHasResponse:
		return &HasResponse{}, nil
	case MessageTypeGetResponse:
		return &GetResponse{}, nil
	case MessageTypeOKResponse:
		return &OKResponse{}, nil
	case MessageTypeIteratorHandleResponse:
		return &IteratorHandleResponse{}, nil
	case MessageTypeIteratorNextResponse:
		return &IteratorNextResponse{}, nil
	case MessageTypeIteratorKeyResponse:
		return &IteratorKeyResponse{}, nil
	case MessageTypeIteratorValueResponse:
		return &IteratorValueResponse{}, nil
	case MessageTypeIteratorErrorResponse:
		return &IteratorErrorResponse{}, nil
	case MessageTypeHealthCheckResponse:
		return &HealthCheckResponse{}, nil
	default:
		return nil, errors.Errorf("invalid message type %d", mt)
	}
}

func serializeMessage(message Message, buff []byte) []byte {
	buff = common.AppendUint32ToBufferLE(buff, uint32(message.Type()))
	return message.serialize(buff)
}

// deserializeMessage decodes a typed message. Malformed frames from a misbehaving peer
// surface as errors, not crashes.
func deserializeMessage(buff []byte) (msg Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = errors.Errorf("malformed message: %v", r)
		}
	}()
	if len(buff) == 0 {
		return nil, nil
	}
	mt, offset := common.ReadUint32FromBufferLE(buff, 0)
	msg, err = newMessageForType(MessageType(mt))
	if err != nil {
		return nil, err
	}
	msg.deserialize(buff, offset)
	return msg, nil
}

func appendBoolToBuffer(buff []byte, v bool) []byte {
	if v {
		return append(buff, 1)
	}
	return append(buff, 0)
}

func readBoolFromBuffer(buff []byte, offset int) (bool, int) {
	return buff[offset] == 1, offset + 1
}

type messageType byte

const (
	requestMessageType messageType = iota + 1
	responseMessageType
	heartbeatMessageType
)

const (
	readBuffSize      = 8 * 1024
	messageHeaderSize = 5 // 1 byte message type, 4 bytes length
)

type storeRequest struct {
	sequence       int64
	requestMessage Message
}

type storeResponse struct {
	sequence        int64
	ok              bool
	errCode         uint32
	errMsg          string
	responseMessage Message
}

func (r *storeRequest) serialize(buff []byte) []byte {
	buff = common.AppendUint64ToBufferLE(buff, uint64(r.sequence))
	return serializeMessage(r.requestMessage, buff)
}

// deserialize recovers decode panics so a truncated or empty envelope from a misbehaving
// peer surfaces as an error, the same way a malformed payload does.
func (r *storeRequest) deserialize(buff []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("malformed request envelope: %v", p)
		}
	}()
	seq, offset := common.ReadUint64FromBufferLE(buff, 0)
	r.sequence = int64(seq)
	r.requestMessage, err = deserializeMessage(buff[offset:])
	if err != nil {
		return err
	}
	if r.requestMessage == nil {
		return errors.Error("request has no payload")
	}
	return nil
}

func (r *storeResponse) serialize(buff []byte) []byte {
	buff = appendBoolToBuffer(buff, r.ok)
	if !r.ok {
		buff = common.AppendUint32ToBufferLE(buff, r.errCode)
		buff = common.AppendStringToBufferLE(buff, r.errMsg)
	}
	buff = common.AppendUint64ToBufferLE(buff, uint64(r.sequence))
	if r.ok && r.responseMessage != nil {
		buff = serializeMessage(r.responseMessage, buff)
	}
	return buff
}

func (r *storeResponse) deserialize(buff []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("malformed response envelope: %v", p)
		}
	}()
	var offset int
	r.ok, offset = readBoolFromBuffer(buff, 0)
	if !r.ok {
		r.errCode, offset = common.ReadUint32FromBufferLE(buff, offset)
		r.errMsg, offset = common.ReadStringFromBufferLE(buff, offset)
	}
	seq, offset := common.ReadUint64FromBufferLE(buff, offset)
	r.sequence = int64(seq)
	r.responseMessage, err = deserializeMessage(buff[offset:])
	return err
}

type frameHandler func(msgType messageType, msg []byte) error

func writeMessage(msgType messageType, msg []byte, conn net.Conn) error {
	if msgType == 0 {
		panic("message type written is zero")
	}
	bytes := make([]byte, 0, messageHeaderSize+len(msg))
	bytes = append(bytes, byte(msgType))
	bytes = common.AppendUint32ToBufferLE(bytes, uint32(len(msg)))
	bytes = append(bytes, msg...)
	_, err := conn.Write(bytes)
	return errors.WithStack(err)
}

func readMessages(handler frameHandler, conn net.Conn, closeAction func()) {
	defer common.PanicHandler()
	var msgBuf []byte
	readBuff := make([]byte, readBuffSize)
	msgLen := -1
	for {
		n, err := conn.Read(readBuff)
		if err != nil {
			closeAction()
			// Connection closed. We close from this side too, to avoid leaking
			// connections in CLOSE_WAIT state
			if err := conn.Close(); err != nil {
				// Ignore
			}
			return
		}
		msgBuf = append(msgBuf, readBuff[0:n]...)
		for len(msgBuf) >= messageHeaderSize {
			if msgLen == -1 {
				u, _ := common.ReadUint32FromBufferLE(msgBuf, 1)
				msgLen = int(u)
			}
			if len(msgBuf) < messageHeaderSize+msgLen {
				break
			}
			// We got a whole message
			msgType := messageType(msgBuf[0])
			msg := common.CopyByteSlice(msgBuf[messageHeaderSize : messageHeaderSize+msgLen])
			if err := handler(msgType, msg); err != nil {
				log.Errorf("failed to handle message %v", err)
				return
			}
			// We copy the remainder otherwise the backing array won't be gc'd
			msgBuf = common.CopyByteSlice(msgBuf[messageHeaderSize+msgLen:])
			msgLen = -1
		}
	}
}
