package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Type: MessageTypeError, Payload: []byte("boom")}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.Type != in.Type {
		t.Fatalf("type mismatch")
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameLeavesTrailingBytes(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Type: MessageTypeUpload}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	buf.WriteString("raw body")

	f, err := ReadFrame(iotest.OneByteReader(&buf))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Type != MessageTypeUpload || len(f.Payload) != 0 {
		t.Fatalf("unexpected frame %s/%d", f.Type, len(f.Payload))
	}
	rest, _ := io.ReadAll(&buf)
	if string(rest) != "raw body" {
		t.Fatalf("trailing bytes = %q", rest)
	}
}

func TestSizeFrame(t *testing.T) {
	for _, n := range []int64{0, 1, 2449, 1 << 40} {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, SizeFrame(MessageTypeDownload, n)); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		f, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		got, err := f.Size()
		if err != nil {
			t.Fatalf("Size: %v", err)
		}
		if got != n {
			t.Fatalf("size = %d, want %d", got, n)
		}
	}
}

func TestSizeRejectsBadPayload(t *testing.T) {
	if _, err := (Frame{Type: MessageTypeResult, Payload: []byte{1, 2}}).Size(); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("short payload: %v", err)
	}
	huge := Frame{Type: MessageTypeResult, Payload: bytes.Repeat([]byte{0xff}, 8)}
	if _, err := huge.Size(); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("overflow: %v", err)
	}
}

func TestReadFrameErrors(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader(nil)); err != io.EOF {
		t.Fatalf("empty input: %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0, 0})); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("zero type: %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{4, 0xff, 0, 0, 0})); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("oversized: %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{4, 0, 0, 0, 3, 'a'})); err != io.ErrUnexpectedEOF {
		t.Fatalf("truncated: %v", err)
	}
	if err := WriteFrame(io.Discard, Frame{}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("WriteFrame zero type: %v", err)
	}
}
