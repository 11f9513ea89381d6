package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quic-go/quic-go/http3"

	"github.com/TheusHen/streamrelay/streamrelay/logging"
	"github.com/TheusHen/streamrelay/streamrelay/transfer"
	"github.com/TheusHen/streamrelay/streamrelay/transport/quic"
	"github.com/TheusHen/streamrelay/streamrelay/upstream"
)

// NewRouter builds the gin engine serving the transfer routes and a
// /stats endpoint.
func NewRouter(engine *transfer.Engine, up upstream.Upstream) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())
	NewHandler(engine, up).Register(r)
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.Stats())
	})
	return r
}

// Server serves a handler over HTTP/1.1 and, optionally, HTTP/3.
type Server struct {
	handler         http.Handler
	h1              *http.Server
	h3              *http3.Server
	h3conn          net.PacketConn
	shutdownTimeout time.Duration
}

// ServerConfig configures NewServer.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func NewServer(handler http.Handler, cfg ServerConfig) *Server {
	s := &Server{handler: handler, shutdownTimeout: cfg.ShutdownTimeout}
	s.h1 = &http.Server{
		Handler:           http.HandlerFunc(s.serveH1),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// EnableH3 prepares the HTTP/3 server on conn. It must be called before
// either Serve method.
func (s *Server) EnableH3(conn net.PacketConn) error {
	tlsConf, err := quic.NewH3ServerTLSConfig()
	if err != nil {
		return err
	}
	s.h3 = &http3.Server{
		Handler:    s.handler,
		TLSConfig:  http3.ConfigureTLSConfig(tlsConf),
		QUICConfig: quic.DefaultConfig(),
	}
	if _, port, err := net.SplitHostPort(conn.LocalAddr().String()); err == nil {
		s.h3.Port, _ = strconv.Atoi(port)
	}
	s.h3conn = conn
	return nil
}

// serveH1 advertises HTTP/3 through Alt-Svc when it is enabled.
func (s *Server) serveH1(w http.ResponseWriter, r *http.Request) {
	if s.h3 != nil && s.h3.Port != 0 {
		_ = s.h3.SetQUICHeaders(w.Header())
	}
	s.handler.ServeHTTP(w, r)
}

// ServeH1 serves HTTP/1.1 on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) ServeH1(ctx context.Context, ln net.Listener) error {
	log := logging.Component("http").WithField("addr", ln.Addr().String())
	errCh := make(chan error, 1)
	go func() { errCh <- s.h1.Serve(ln) }()
	log.Info("listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.h1.Shutdown(sctx); err != nil {
		log.WithError(err).Warn("forced shutdown")
		s.h1.Close()
	}
	<-errCh
	return nil
}

// ServeH3 serves HTTP/3 until ctx is done.
func (s *Server) ServeH3(ctx context.Context) error {
	if s.h3 == nil {
		return errors.New("httpapi: h3 not enabled")
	}
	conn := s.h3conn
	log := logging.Component("h3").WithField("addr", conn.LocalAddr().String())
	errCh := make(chan error, 1)
	go func() { errCh <- s.h3.Serve(conn) }()
	log.Info("listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.h3.Close()
	<-errCh
	return nil
}
