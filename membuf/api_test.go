package membuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willfordkc/GVFS/conf"
)

func TestGetAndRelease(t *testing.T) {
	pool := NewBufPool(64)

	buf := pool.GetBuf()
	require.NotNil(t, buf)
	assert.Equal(t, 0, len(buf.Buf))
	assert.Equal(t, 64, cap(buf.Buf))

	buf.Buf = append(buf.Buf, []byte("header-bytes")...)
	assert.Equal(t, 12, len(buf.Buf))

	buf.Release()
	assert.Nil(t, buf.Buf, "payload window must be cleared on final release")
}

func TestHoldRelease(t *testing.T) {
	pool := NewBufPool(16)

	buf := pool.GetBuf()
	buf.Hold()

	buf.Release()
	assert.NotNil(t, buf.Buf, "buffer is still held; window survives")

	buf.Release()
	assert.Nil(t, buf.Buf)
}

func TestReleaseUnderflowPanics(t *testing.T) {
	pool := NewBufPool(16)

	buf := pool.GetBuf()
	buf.Release()

	assert.Panics(t, func() { buf.Release() })
}

func TestHoldOnUnheldPanics(t *testing.T) {
	pool := NewBufPool(16)

	buf := pool.GetBuf()
	buf.Release()

	assert.Panics(t, func() { buf.Hold() })
}

func TestPoolReuse(t *testing.T) {
	pool := NewBufPool(32)

	buf := pool.GetBuf()
	buf.Buf = append(buf.Buf, 1, 2, 3)
	buf.Release()

	// a fresh Get always yields an empty window, even when the pool hands
	// back a recycled buffer
	buf2 := pool.GetBuf()
	assert.Equal(t, 0, len(buf2.Buf))
	buf2.Release()
}

func TestLifecycle(t *testing.T) {
	config := conf.Default()

	require.NoError(t, globals.Up(config))
	assert.Error(t, globals.Up(config), "second Up must fail")

	pool := MessageBufPool()
	assert.Equal(t, config.MemBuf.BufferSize, pool.BufSize())

	require.NoError(t, globals.Down(config))

	// after Down, MessageBufPool still hands out a usable fallback pool
	assert.NotNil(t, MessageBufPool())
}
