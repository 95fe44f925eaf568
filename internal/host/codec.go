package host

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Message types understood by the server.
const (
	MsgNop        uint8 = 0x00
	MsgEcho       uint8 = 0x01
	MsgDisconnect uint8 = 0xFF
)

const (
	frameHeaderSize   = 4
	messageHeaderSize = 3
)

var (
	// ErrFrameTooLarge is returned when a frame header announces more than the
	// configured limit.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
	// ErrMalformedMessage is returned when a frame does not split into whole
	// sub-messages.
	ErrMalformedMessage = errors.New("malformed message")
)

// Message is one sub-message of a frame.
type Message struct {
	Type    uint8
	Payload []byte
}

// ReadFrame reads one length-prefixed frame of at most maxBytes.
func ReadFrame(r io.Reader, maxBytes int) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(maxBytes) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, maxBytes)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return frame, nil
}

// WriteFrame writes payload as one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return ErrFrameTooLarge
	}

	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)

	_, err := w.Write(buf)
	return err
}

// AppendMessage appends the wire form of m to dst.
func AppendMessage(dst []byte, m Message) ([]byte, error) {
	if len(m.Payload) > math.MaxUint16 {
		return dst, fmt.Errorf("%w: payload of %d bytes", ErrMalformedMessage, len(m.Payload))
	}
	dst = append(dst, m.Type)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(m.Payload)))
	return append(dst, m.Payload...), nil
}

// EncodeMessages builds a frame body from msgs.
func EncodeMessages(msgs ...Message) ([]byte, error) {
	var body []byte
	for _, m := range msgs {
		var err error
		if body, err = AppendMessage(body, m); err != nil {
			return nil, err
		}
	}
	return body, nil
}

// ParseMessages splits a frame body into sub-messages. Payloads alias frame.
func ParseMessages(frame []byte) ([]Message, error) {
	var msgs []Message
	for off := 0; off < len(frame); {
		if len(frame)-off < messageHeaderSize {
			return nil, fmt.Errorf("%w: truncated header at offset %d", ErrMalformedMessage, off)
		}
		typ := frame[off]
		size := int(binary.BigEndian.Uint16(frame[off+1:]))
		off += messageHeaderSize

		if len(frame)-off < size {
			return nil, fmt.Errorf("%w: payload at offset %d needs %d bytes, %d left",
				ErrMalformedMessage, off, size, len(frame)-off)
		}
		msgs = append(msgs, Message{Type: typ, Payload: frame[off : off+size]})
		off += size
	}
	return msgs, nil
}
