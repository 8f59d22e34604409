package message

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderSize(t *testing.T) {
	// id(8) + type(4) + pid(4) + procname(32) + pathSize(4)
	assert.Equal(t, uint64(52), HeaderSize)
	assert.Equal(t, uint64(12), ResponseSize)
}

func TestEncodeLayout(t *testing.T) {
	msg := New(7, TypeHydrateFile, 1234, "TextEdit", "docs/a.txt")

	buf, err := msg.Encode()
	require.NoError(t, err)
	require.Equal(t, HeaderSize+uint64(len("docs/a.txt")), uint64(len(buf)))

	// spot-check the wire layout against hand-computed offsets
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(buf[0:8]))
	assert.Equal(t, uint32(TypeHydrateFile), binary.LittleEndian.Uint32(buf[8:12]))
	assert.Equal(t, int32(1234), int32(binary.LittleEndian.Uint32(buf[12:16])))
	assert.Equal(t, byte('T'), buf[16])
	assert.Equal(t, byte(0), buf[16+len("TextEdit")], "procname must be NUL-terminated")
	assert.Equal(t, uint32(len("docs/a.txt")), binary.LittleEndian.Uint32(buf[48:52]))
	assert.Equal(t, "docs/a.txt", string(buf[52:]))
}

func TestRoundTrip(t *testing.T) {
	msg := New(99, TypeEnumerateDirectory, 42, "ls", "sub")

	buf, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := Decode(buf)
	require.NoError(t, err)

	assert.Equal(t, msg.Header.MessageID, decoded.Header.MessageID)
	assert.Equal(t, msg.Header.MessageType, decoded.Header.MessageType)
	assert.Equal(t, msg.Header.Pid, decoded.Header.Pid)
	assert.Equal(t, "ls", decoded.ProcnameString())
	assert.Equal(t, "sub", decoded.Path)
}

func TestEmptyPath(t *testing.T) {
	msg := New(1, TypeEnumerateDirectory, 10, "Finder", "")

	buf, err := msg.Encode()
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, uint64(len(buf)))

	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, "", decoded.Path)
}

func TestProcnameTruncation(t *testing.T) {
	long := "a-process-name-well-beyond-the-fixed-field-size"
	msg := New(1, TypeHydrateFile, 1, long, "x")

	name := msg.ProcnameString()
	assert.Equal(t, MaxProcessNameLength-1, len(name), "truncated to field size minus NUL")
	assert.Equal(t, long[:MaxProcessNameLength-1], name)
}

func TestDecodeTruncatedImage(t *testing.T) {
	msg := New(5, TypeHydrateFile, 1, "cat", "file.bin")
	buf, err := msg.Encode()
	require.NoError(t, err)

	_, err = Decode(buf[:len(buf)-2])
	assert.Error(t, err, "image shorter than header-declared size must fail")
}

func TestResponseRoundTrip(t *testing.T) {
	buf, err := EncodeResponse(12345, TypeResponseSuccess)
	require.NoError(t, err)
	require.Equal(t, ResponseSize, uint64(len(buf)))

	id, kind, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), id)
	assert.Equal(t, TypeResponseSuccess, kind)
}
