package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/streamrelay/streamrelay/protocol"
	"github.com/TheusHen/streamrelay/streamrelay/transport/quic"
)

// Stream error codes used to reset transfer streams.
const (
	CodeNone           q.StreamErrorCode = 0
	CodeBadRequest     q.StreamErrorCode = 1
	CodeTransferFailed q.StreamErrorCode = 2
	CodeAborted        q.StreamErrorCode = 3
)

var (
	ErrBadRequest     = errors.New("session: request rejected by peer")
	ErrRemoteFailed   = errors.New("session: transfer failed on peer")
	ErrUnexpectedType = errors.New("session: unexpected frame type")
)

// Session is the client side of the raw stream service. Every transfer
// runs on its own bidirectional QUIC stream, so a single session carries
// any number of concurrent transfers.
type Session struct {
	conn q.Connection
}

// New wraps an established connection.
func New(conn q.Connection) *Session { return &Session{conn: conn} }

// Dial connects to a stream service listening on addr.
func Dial(ctx context.Context, addr string) (*Session, error) {
	conn, err := quic.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", addr, err)
	}
	return New(conn), nil
}

func (s *Session) Connection() q.Connection { return s.conn }

// Close tears the connection down, resetting any open transfers.
func (s *Session) Close() error {
	return s.conn.CloseWithError(0, "")
}

// Download asks the peer for n generated bytes. The returned reader yields
// exactly the bytes the peer sends and io.EOF at its FIN. Closing the
// reader before EOF abandons the transfer.
func (s *Session) Download(ctx context.Context, n int64) (io.ReadCloser, error) {
	st, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: open stream: %w", err)
	}
	if err := protocol.WriteFrame(st, protocol.SizeFrame(protocol.MessageTypeDownload, n)); err != nil {
		st.CancelWrite(CodeAborted)
		st.CancelRead(CodeAborted)
		return nil, fmt.Errorf("session: send request: %w", err)
	}
	if err := st.Close(); err != nil {
		st.CancelRead(CodeAborted)
		return nil, fmt.Errorf("session: send request: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { st.CancelRead(CodeAborted) })
	return &download{st: st, stop: stop}, nil
}

type download struct {
	st   q.Stream
	stop func() bool
	once sync.Once
}

func (d *download) Read(p []byte) (int, error) {
	n, err := d.st.Read(p)
	if err != nil && err != io.EOF {
		err = streamError(err)
	}
	return n, err
}

func (d *download) Close() error {
	d.once.Do(func() {
		d.stop()
		d.st.CancelRead(CodeNone)
	})
	return nil
}

// Upload opens an upload stream. Bytes written to it are counted by the
// peer; Close ends the body and Result waits for the peer's count.
func (s *Session) Upload(ctx context.Context) (*Upload, error) {
	st, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: open stream: %w", err)
	}
	if err := protocol.WriteFrame(st, protocol.Frame{Type: protocol.MessageTypeUpload}); err != nil {
		st.CancelWrite(CodeAborted)
		st.CancelRead(CodeAborted)
		return nil, fmt.Errorf("session: send request: %w", err)
	}
	u := &Upload{st: st}
	stop := context.AfterFunc(ctx, func() { u.Abort(ctx.Err()) })
	u.mu.Lock()
	u.stop = stop
	u.mu.Unlock()
	return u, nil
}

// Upload is an in-flight upload on its own stream.
type Upload struct {
	st q.Stream

	mu      sync.Mutex
	stop    func() bool
	aborted error
}

func (u *Upload) Write(p []byte) (int, error) {
	n, err := u.st.Write(p)
	if err != nil {
		if aerr := u.abortErr(); aerr != nil {
			return n, aerr
		}
		return n, streamError(err)
	}
	return n, nil
}

// Close sends FIN. The peer's count is read with Result.
func (u *Upload) Close() error {
	if err := u.st.Close(); err != nil {
		return streamError(err)
	}
	return nil
}

// Abort resets both directions of the stream. The peer observes a
// failed transfer instead of a short successful one, even when the reset
// overtakes the request frame.
func (u *Upload) Abort(err error) {
	u.mu.Lock()
	if u.aborted == nil {
		if err == nil {
			err = context.Canceled
		}
		u.aborted = err
	}
	u.mu.Unlock()
	u.release()
	u.st.CancelWrite(CodeAborted)
	u.st.CancelRead(CodeAborted)
}

// release unregisters the context watch.
func (u *Upload) release() {
	u.mu.Lock()
	stop := u.stop
	u.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (u *Upload) abortErr() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.aborted
}

// Result waits for the peer's verdict on the upload.
func (u *Upload) Result() (int64, error) {
	defer u.release()
	f, err := protocol.ReadFrame(u.st)
	if err != nil {
		if aerr := u.abortErr(); aerr != nil {
			return 0, aerr
		}
		return 0, fmt.Errorf("session: read result: %w", streamError(err))
	}
	switch f.Type {
	case protocol.MessageTypeResult:
		return f.Size()
	case protocol.MessageTypeError:
		return 0, fmt.Errorf("%w: %s", ErrRemoteFailed, f.Payload)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnexpectedType, f.Type)
	}
}

// isAborted reports whether err is a reset the peer sent with CodeAborted.
func isAborted(err error) bool {
	var se *q.StreamError
	return errors.As(err, &se) && se.Remote && se.ErrorCode == CodeAborted
}

// streamError maps peer stream resets to session errors.
func streamError(err error) error {
	var se *q.StreamError
	if errors.As(err, &se) && se.Remote {
		switch se.ErrorCode {
		case CodeBadRequest:
			return fmt.Errorf("%w: %v", ErrBadRequest, err)
		case CodeTransferFailed, CodeAborted:
			return fmt.Errorf("%w: %v", ErrRemoteFailed, err)
		}
	}
	return err
}
