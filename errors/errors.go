package errors

import "fmt"

type ErrorCode int

const (
	InternalError ErrorCode = iota
	NotFound
	Closed
	Corrupted
	UnknownIterator
	InvalidArgument
	InvalidConfiguration
)

// KVError is any kind of error that is exposed to callers of the store, locally or across
// the wire. The code travels in the response envelope so remote callers can branch on it
// without string matching.
type KVError struct {
	Code  ErrorCode
	Msg   string
	cause error
}

func (k KVError) Error() string {
	return k.Msg
}

func (k KVError) Unwrap() error {
	return k.cause
}

func NewKVError(errorCode ErrorCode, msg string) KVError {
	return KVError{Code: errorCode, Msg: msg}
}

func NewKVErrorf(errorCode ErrorCode, msgFormat string, args ...interface{}) KVError {
	msg := fmt.Sprintf(fmt.Sprintf("TKV%04d - %s", errorCode, msgFormat), args...)
	return KVError{Code: errorCode, Msg: msg}
}

func NewInternalError(msg string) KVError {
	return NewKVErrorf(InternalError, "Internal error: %s", msg)
}

func NewNotFoundError() KVError {
	return NewKVErrorf(NotFound, "Key not found")
}

func NewClosedError() KVError {
	return NewKVErrorf(Closed, "Store is closed")
}

// NewCorruptedError tags cause as evidence of store corruption. The cause is retained so
// logs show the original fault.
func NewCorruptedError(cause error) KVError {
	err := NewKVErrorf(Corrupted, "Store is corrupted: %s", cause.Error())
	err.cause = cause
	return err
}

func NewUnknownIteratorError(handleID uint64) KVError {
	return NewKVErrorf(UnknownIterator, "Unknown iterator handle %d", handleID)
}

func NewInvalidArgumentError(msg string) KVError {
	return NewKVErrorf(InvalidArgument, "Invalid argument: %s", msg)
}

func NewInvalidConfigurationError(msg string) KVError {
	return NewKVErrorf(InvalidConfiguration, "Invalid configuration: %s", msg)
}

// Code extracts the KVError code from anywhere in err's chain, or InternalError if there
// is no KVError in the chain.
func Code(err error) ErrorCode {
	var kvErr KVError
	if As(err, &kvErr) {
		return kvErr.Code
	}
	return InternalError
}

func IsNotFound(err error) bool {
	return Code(err) == NotFound
}

func IsClosed(err error) bool {
	return Code(err) == Closed
}

func IsCorrupted(err error) bool {
	return Code(err) == Corrupted
}

func IsUnknownIterator(err error) bool {
	return Code(err) == UnknownIterator
}

func IsInvalidArgument(err error) bool {
	return Code(err) == InvalidArgument
}

// Expected reports whether err is an expected, non-fault condition - a result the caller
// asked about (absent key) or a usage error - as opposed to evidence the store itself is
// damaged.
func Expected(err error) bool {
	code := Code(err)
	return code == NotFound || code == InvalidArgument
}

func Error(msg string) error {
	return New(msg)
}
