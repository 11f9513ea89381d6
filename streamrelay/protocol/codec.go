package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFramePayload limits a single protocol frame payload.
	MaxFramePayload = 64 << 10 // 64 KiB

	headerLen = 5
)

var (
	ErrFrameTooLarge  = errors.New("protocol: frame payload too large")
	ErrInvalidType    = errors.New("protocol: invalid message type")
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

// Frame is the request/response header of a transfer stream.
// Format:
//
//	1 byte: type
//	4 bytes: payload length (big endian)
//	N bytes: payload
//
// A frame is followed by raw stream bytes (DOWNLOAD response, UPLOAD body),
// so ReadFrame consumes exactly one frame and nothing more.
type Frame struct {
	Type    MessageType
	Payload []byte
}

func WriteFrame(w io.Writer, f Frame) error {
	if f.Type == 0 {
		return ErrInvalidType
	}
	if len(f.Payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}

	buf := make([]byte, headerLen+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:headerLen], uint32(len(f.Payload)))
	copy(buf[headerLen:], f.Payload)
	_, err := w.Write(buf)
	return err
}

func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	mt := MessageType(hdr[0])
	if mt == 0 {
		return Frame{}, ErrInvalidType
	}
	payloadLen := binary.BigEndian.Uint32(hdr[1:])
	if payloadLen > MaxFramePayload {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, payloadLen)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
	}
	return Frame{Type: mt, Payload: payload}, nil
}

// SizeFrame builds a frame whose payload is a single big endian uint64.
func SizeFrame(t MessageType, n int64) Frame {
	p := make([]byte, 8)
	binary.BigEndian.PutUint64(p, uint64(n))
	return Frame{Type: t, Payload: p}
}

// Size decodes the uint64 payload of a DOWNLOAD or RESULT frame.
func (f Frame) Size() (int64, error) {
	if len(f.Payload) != 8 {
		return 0, fmt.Errorf("%w: %s payload is %d bytes", ErrInvalidPayload, f.Type, len(f.Payload))
	}
	v := binary.BigEndian.Uint64(f.Payload)
	if v > 1<<63-1 {
		return 0, fmt.Errorf("%w: %s size overflows", ErrInvalidPayload, f.Type)
	}
	return int64(v), nil
}

// ErrorFrame carries a human readable failure message.
func ErrorFrame(msg string) Frame {
	if len(msg) > MaxFramePayload {
		msg = msg[:MaxFramePayload]
	}
	return Frame{Type: MessageTypeError, Payload: []byte(msg)}
}
