package xpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const wrapperMagic = uint32(0x29b00b92)

// wrapperHeaderSize is the fixed message header: magic, flags, body length
// and message id.
const wrapperHeaderSize = 24

// Flag bits modifying message semantics. They compose with bitwise OR.
const (
	AlwaysSetFlag     = uint32(0x00000001)
	DataFlag          = uint32(0x00000100)
	WantingReplyFlag  = uint32(0x00010000)
	InitHandshakeFlag = uint32(0x00400000)
)

type wrapperHeader struct {
	Flags   uint32
	BodyLen uint64
	MsgId   uint64
}

// Message is a single framed wire unit. A nil Body is valid and encodes to a
// bare 24-byte header, e.g. for acknowledgements.
//
// ID is only filled in by DecodeMessage. Encode takes the message id as a
// parameter and never reads the field, the id of an outgoing message is
// decided at send time.
type Message struct {
	Flags uint32
	Body  Object
	ID    uint64
}

// NewMessage creates a message with the given body. When no flags are passed
// AlwaysSetFlag is used, otherwise the passed flags are ORed together.
func NewMessage(body Object, flags ...uint32) Message {
	if len(flags) == 0 {
		return Message{Flags: AlwaysSetFlag, Body: body}
	}
	f := uint32(0)
	for _, flag := range flags {
		f |= flag
	}
	return Message{Flags: f, Body: body}
}

// Encode frames the message with messageID for transmission.
func (m Message) Encode(messageID uint64) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if m.Body == nil {
		wrapper := struct {
			Magic uint32
			H     wrapperHeader
		}{wrapperMagic, wrapperHeader{Flags: m.Flags, MsgId: messageID}}
		if err := binary.Write(buf, binary.LittleEndian, wrapper); err != nil {
			return nil, fmt.Errorf("Encode: failed to write empty message: %w", err)
		}
		return buf.Bytes(), nil
	}
	body, err := Encode(m.Body)
	if err != nil {
		return nil, fmt.Errorf("Encode: failed to encode body: %w", err)
	}
	wrapper := struct {
		Magic uint32
		H     wrapperHeader
	}{wrapperMagic, wrapperHeader{Flags: m.Flags, BodyLen: uint64(len(body)), MsgId: messageID}}
	if err := binary.Write(buf, binary.LittleEndian, wrapper); err != nil {
		return nil, fmt.Errorf("Encode: failed to write wrapper: %w", err)
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// DecodeMessage parses one complete framed message out of data. The declared
// body length is checked against the buffer before the body is decoded.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) < wrapperHeaderSize {
		return Message{}, fmt.Errorf("DecodeMessage: message must be at least %d bytes, got %d: %w", wrapperHeaderSize, len(data), ErrTruncated)
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != wrapperMagic {
		return Message{}, fmt.Errorf("DecodeMessage: wrong magic number 0x%08x: %w", magic, ErrBadMagic)
	}
	flags := binary.LittleEndian.Uint32(data[4:8])
	bodyLen := binary.LittleEndian.Uint64(data[8:16])
	msgId := binary.LittleEndian.Uint64(data[16:24])
	if bodyLen > uint64(len(data)-wrapperHeaderSize) {
		return Message{}, fmt.Errorf("DecodeMessage: declared body length %d exceeds the %d available bytes: %w",
			bodyLen, len(data)-wrapperHeaderSize, ErrTruncated)
	}
	if bodyLen == 0 {
		return Message{Flags: flags, ID: msgId}, nil
	}
	body, err := Decode(data[wrapperHeaderSize : wrapperHeaderSize+int(bodyLen)])
	if err != nil {
		return Message{}, fmt.Errorf("DecodeMessage: failed to decode body: %w", err)
	}
	return Message{Flags: flags, Body: body, ID: msgId}, nil
}
