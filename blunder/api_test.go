package blunder

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"golang.org/x/sys/unix"
)

func TestNewError(t *testing.T) {
	err := NewError(NotDirError, "root %q is not a directory", "/R/file")

	assert.Equal(t, int(unix.ENOTDIR), Errno(err))
	assert.True(t, Is(err, NotDirError))
	assert.False(t, Is(err, DevBusyError))
	assert.Contains(t, err.Error(), "/R/file")
}

func TestAddError(t *testing.T) {
	base := fmt.Errorf("lookup failed")
	err := AddError(base, NotFoundError)

	assert.True(t, Is(err, NotFoundError))
	assert.Contains(t, err.Error(), "lookup failed")

	// nil in still yields a usable annotated error
	err = AddError(nil, IOError)
	assert.True(t, Is(err, IOError))
}

func TestErrno(t *testing.T) {
	assert.Equal(t, 0, Errno(nil))
	assert.Equal(t, -1, Errno(fmt.Errorf("unannotated")))
	assert.Equal(t, int(unix.EAGAIN), Errno(NewError(TryAgainError, "provider said no")))
}

func TestIsSuccess(t *testing.T) {
	assert.True(t, IsSuccess(nil))
	assert.False(t, IsSuccess(NewError(DevBusyError, "busy")))
	assert.False(t, IsSuccess(fmt.Errorf("plain")))
}

func TestInternalKinds(t *testing.T) {
	err := NewError(AlreadyInitError, "second Init")
	assert.True(t, Is(err, AlreadyInitError))
	assert.False(t, Is(err, NotInitError))

	assert.Contains(t, ErrorString(err), "1000")
}
