package session

import (
	"context"
	"errors"
	"sync"

	q "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/streamrelay/streamrelay/logging"
	"github.com/TheusHen/streamrelay/streamrelay/protocol"
	"github.com/TheusHen/streamrelay/streamrelay/transfer"
	"github.com/TheusHen/streamrelay/streamrelay/transport/quic"
)

// Server answers DOWNLOAD and UPLOAD requests on every stream of every
// accepted connection.
type Server struct {
	ln     *quic.Listener
	engine *transfer.Engine
	log    *logrus.Entry
	wg     sync.WaitGroup
}

func NewServer(ln *quic.Listener, engine *transfer.Engine) *Server {
	return &Server{
		ln:     ln,
		engine: engine,
		log:    logging.Component("stream"),
	}
}

func (s *Server) Addr() string { return s.ln.AddrString() }

// Serve accepts connections until ctx is done or the listener is closed.
// On return all connections have been closed and all handlers have exited.
func (s *Server) Serve(ctx context.Context) error {
	defer s.wg.Wait()
	for {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, q.ErrServerClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn q.Connection) {
	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Debug("connection accepted")
	var wg sync.WaitGroup
	defer wg.Wait()
	// Runs before wg.Wait so blocked handlers are released.
	defer conn.CloseWithError(0, "")
	for {
		st, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveStream(st, log.WithField("stream", int64(st.StreamID())))
		}()
	}
}

func (s *Server) serveStream(st q.Stream, log *logrus.Entry) {
	f, err := protocol.ReadFrame(st)
	if err != nil && isAborted(err) {
		// The reset overtook the request frame of an abandoned upload;
		// consuming the reset stream records the failed transfer.
		s.serveUpload(st, log.WithField("op", "upload"))
		return
	}
	if err != nil {
		log.WithError(err).Warn("bad request frame")
		st.CancelRead(CodeBadRequest)
		st.CancelWrite(CodeBadRequest)
		return
	}

	switch f.Type {
	case protocol.MessageTypeDownload:
		s.serveDownload(st, f, log.WithField("op", "download"))
	case protocol.MessageTypeUpload:
		s.serveUpload(st, log.WithField("op", "upload"))
	default:
		log.WithField("type", f.Type.String()).Warn("unexpected request frame")
		st.CancelRead(CodeBadRequest)
		st.CancelWrite(CodeBadRequest)
	}
}

func (s *Server) serveDownload(st q.Stream, f protocol.Frame, log *logrus.Entry) {
	// The request carries no body.
	st.CancelRead(CodeNone)

	n, err := f.Size()
	if err == nil {
		var src *transfer.Source
		if src, err = s.engine.Generate(n); err == nil {
			var moved int64
			moved, err = s.engine.Relay(st, src)
			if err == nil {
				log.WithFields(logging.Size(moved)).Info("download served")
				_ = st.Close()
				return
			}
			log.WithFields(logging.Size(moved)).WithError(err).Warn("download failed")
			st.CancelWrite(CodeTransferFailed)
			return
		}
	}
	log.WithError(err).Warn("download rejected")
	st.CancelWrite(CodeBadRequest)
}

func (s *Server) serveUpload(st q.Stream, log *logrus.Entry) {
	n, err := s.engine.Consume(st)
	if err != nil {
		log.WithFields(logging.Size(n)).WithError(err).Warn("upload failed")
		st.CancelRead(CodeTransferFailed)
		if werr := protocol.WriteFrame(st, protocol.ErrorFrame(err.Error())); werr != nil {
			st.CancelWrite(CodeTransferFailed)
			return
		}
		_ = st.Close()
		return
	}
	if err := protocol.WriteFrame(st, protocol.SizeFrame(protocol.MessageTypeResult, n)); err != nil {
		log.WithError(err).Warn("send result")
		st.CancelWrite(CodeTransferFailed)
		return
	}
	log.WithFields(logging.Size(n)).Info("upload counted")
	_ = st.Close()
}
