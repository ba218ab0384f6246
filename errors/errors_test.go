package errors

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeExtractedFromChain(t *testing.T) {
	err := NewNotFoundError()
	require.Equal(t, NotFound, Code(err))

	wrapped := Wrap(err, "while serving get")
	require.Equal(t, NotFound, Code(wrapped))
	require.True(t, IsNotFound(wrapped))
}

func TestCodeDefaultsToInternal(t *testing.T) {
	require.Equal(t, InternalError, Code(New("some random error")))
}

func TestCorruptedErrorRetainsCause(t *testing.T) {
	cause := New("disk fault")
	err := NewCorruptedError(cause)
	require.True(t, IsCorrupted(err))
	require.Equal(t, cause, err.Unwrap())
	require.Contains(t, err.Error(), "disk fault")
}

func TestExpected(t *testing.T) {
	require.True(t, Expected(NewNotFoundError()))
	require.True(t, Expected(NewInvalidArgumentError("empty key")))
	require.False(t, Expected(NewClosedError()))
	require.False(t, Expected(NewCorruptedError(New("fault"))))
	require.False(t, Expected(NewUnknownIteratorError(3)))
	require.False(t, Expected(New("plain error")))
}

func TestMessagesCarryCodePrefix(t *testing.T) {
	require.Contains(t, NewNotFoundError().Error(), "TKV0001")
	require.Contains(t, NewClosedError().Error(), "TKV0002")
	require.Contains(t, NewUnknownIteratorError(7).Error(), "handle 7")
}

// A code rebuilt from its wire form must compare equal to the original
func TestCodeSurvivesRebuild(t *testing.T) {
	orig := NewUnknownIteratorError(9)
	rebuilt := NewKVError(ErrorCode(uint32(orig.Code)), orig.Msg)
	require.True(t, IsUnknownIterator(rebuilt))
	require.Equal(t, orig.Error(), rebuilt.Error())
}
