// Package message defines the kernel-to-user message layout and its codec.
//
// A message is a fixed-size header followed by a variable-length path
// suffix: the path is relative to the provider's virtualization root,
// carries no leading separator, and is not NUL-terminated. The kernel side
// only produces kernel-to-user messages and only consumes user-to-kernel
// responses (request id + response kind).
//
// Serialization uses cstruct in LittleEndian form; the trailing path bytes
// map onto cstruct's trailing byte-slice support so a Message packs and
// unpacks as a single object.
package message

import (
	"fmt"

	"github.com/NVIDIA/cstruct"
)

// MsgType distinguishes the message kinds on the wire.
type MsgType uint32

const (
	// TypeInvalid is never sent; it marks an unset response slot.
	TypeInvalid MsgType = 0

	// Kernel-to-user requests
	TypeEnumerateDirectory MsgType = 1
	TypeHydrateFile        MsgType = 2

	// User-to-kernel responses
	TypeResponseSuccess MsgType = 3
	TypeResponseFail    MsgType = 4
)

func (msgType MsgType) String() string {
	switch msgType {
	case TypeEnumerateDirectory:
		return "EnumerateDirectory"
	case TypeHydrateFile:
		return "HydrateFile"
	case TypeResponseSuccess:
		return "ResponseSuccess"
	case TypeResponseFail:
		return "ResponseFail"
	default:
		return fmt.Sprintf("MsgType(%d)", uint32(msgType))
	}
}

// MaxProcessNameLength bounds the originator procname field (including its
// terminating NUL).
const MaxProcessNameLength = 32

// LittleEndian: all wire data is serialized least-significant byte first.
var LittleEndian = cstruct.LittleEndian

// Header is the fixed-size prefix of every kernel-to-user message.
type Header struct {
	MessageID     uint64
	MessageType   uint32
	Pid           int32
	Procname      [MaxProcessNameLength]uint8
	PathSizeBytes uint32
}

// Response is the complete user-to-kernel reply.
type Response struct {
	MessageID    uint64
	ResponseType uint32
}

// HeaderSize and ResponseSize are the packed byte counts, computed once.
var HeaderSize uint64
var ResponseSize uint64

func init() {
	var (
		err      error
		header   Header
		response Response
	)

	HeaderSize, _, err = cstruct.Examine(&header)
	if nil != err {
		panic(fmt.Sprintf("message: cstruct.Examine(Header) failed: %v", err))
	}
	ResponseSize, _, err = cstruct.Examine(&response)
	if nil != err {
		panic(fmt.Sprintf("message: cstruct.Examine(Response) failed: %v", err))
	}
}

// wireMessage is the packed shape of a full message: Header fields followed
// by the trailing path bytes.
type wireMessage struct {
	Header
	Path []byte
}

// Message couples a header with the relative path it describes.
type Message struct {
	Header Header
	Path   string
}

// New builds a request message. The procname is truncated to fit its fixed
// field, always leaving a terminating NUL.
func New(messageID uint64, messageType MsgType, pid int32, procname string, relativePath string) (msg Message) {
	msg.Header.MessageID = messageID
	msg.Header.MessageType = uint32(messageType)
	msg.Header.Pid = pid

	copied := copy(msg.Header.Procname[:MaxProcessNameLength-1], procname)
	for i := copied; i < MaxProcessNameLength; i++ {
		msg.Header.Procname[i] = 0
	}

	msg.Header.PathSizeBytes = uint32(len(relativePath))
	msg.Path = relativePath

	return
}

// ProcnameString returns the header's procname as a Go string.
func (msg *Message) ProcnameString() string {
	for i, c := range msg.Header.Procname {
		if c == 0 {
			return string(msg.Header.Procname[:i])
		}
	}
	return string(msg.Header.Procname[:])
}

// Encode serializes the message into a single contiguous byte buffer of
// HeaderSize + PathSizeBytes bytes.
func (msg *Message) Encode() (buf []byte, err error) {
	wire := wireMessage{Header: msg.Header, Path: []byte(msg.Path)}
	return cstruct.Pack(&wire, LittleEndian)
}

// EncodeHeader serializes just the fixed-size header, for callers that
// assemble the full message image into their own buffer.
func (msg *Message) EncodeHeader() (buf []byte, err error) {
	return cstruct.Pack(&msg.Header, LittleEndian)
}

// Decode deserializes a contiguous message image produced by Encode. The
// image must contain at least a full header; the path suffix is exactly
// PathSizeBytes long.
func Decode(buf []byte) (msg Message, err error) {
	var wire wireMessage

	_, err = cstruct.Unpack(buf, &wire, LittleEndian)
	if nil != err {
		return
	}
	if uint64(len(buf)) != HeaderSize+uint64(wire.PathSizeBytes) {
		err = fmt.Errorf("message image is %d bytes; header says %d", len(buf), HeaderSize+uint64(wire.PathSizeBytes))
		return
	}

	msg.Header = wire.Header
	msg.Path = string(wire.Path[:wire.PathSizeBytes])

	return
}

// EncodeResponse serializes a user-to-kernel response.
func EncodeResponse(messageID uint64, responseType MsgType) (buf []byte, err error) {
	response := Response{MessageID: messageID, ResponseType: uint32(responseType)}
	return cstruct.Pack(&response, LittleEndian)
}

// DecodeResponse deserializes a user-to-kernel response.
func DecodeResponse(buf []byte) (messageID uint64, responseType MsgType, err error) {
	var response Response

	_, err = cstruct.Unpack(buf, &response, LittleEndian)
	if nil != err {
		return
	}

	messageID = response.MessageID
	responseType = MsgType(response.ResponseType)

	return
}
