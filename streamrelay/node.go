package streamrelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/streamrelay/streamrelay/config"
	"github.com/TheusHen/streamrelay/streamrelay/httpapi"
	"github.com/TheusHen/streamrelay/streamrelay/logging"
	"github.com/TheusHen/streamrelay/streamrelay/session"
	"github.com/TheusHen/streamrelay/streamrelay/transfer"
	"github.com/TheusHen/streamrelay/streamrelay/transport/quic"
	"github.com/TheusHen/streamrelay/streamrelay/upstream"
)

// Node combines the engine, its listeners and its upstream.
type Node struct {
	cfg      *config.Config
	engine   *transfer.Engine
	upstream upstream.Upstream
	log      *logrus.Entry

	httpWatcher   *upstream.PortWatcher
	h3Watcher     *upstream.PortWatcher
	streamWatcher *upstream.PortWatcher

	httpLn   net.Listener
	h3Conn   net.PacketConn
	streamLn *quic.Listener
	server   *httpapi.Server
	stream   *session.Server

	closeOnce sync.Once
	closeErr  error
}

// NewNode builds a node from cfg. Nothing is bound until Listen.
func NewNode(cfg *config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := NewEngine(cfg.Transfer)
	if err != nil {
		return nil, err
	}
	n := &Node{
		cfg:           cfg,
		engine:        engine,
		log:           logging.Component("node"),
		httpWatcher:   upstream.NewPortWatcher(),
		h3Watcher:     upstream.NewPortWatcher(),
		streamWatcher: upstream.NewPortWatcher(),
	}
	n.upstream = n.newUpstream()
	return n, nil
}

// NewEngine builds a transfer engine from the transfer settings.
func NewEngine(cfg config.TransferConfig) (*transfer.Engine, error) {
	size, err := cfg.BufferBytes()
	if err != nil {
		return nil, err
	}
	corpus := transfer.DefaultCorpus()
	if cfg.CorpusPath != "" {
		if corpus, err = transfer.LoadCorpus(cfg.CorpusPath); err != nil {
			return nil, err
		}
	}
	pc := transfer.PipeConfig{
		BufferSize:   size,
		DoubleBuffer: cfg.DoubleBuffer,
	}
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		log := logging.Component("pipe")
		pc.Observer = func(from, to transfer.State) {
			log.Tracef("%s -> %s", from, to)
		}
	}
	return transfer.NewEngine(corpus, pc)
}

func (n *Node) newUpstream() upstream.Upstream {
	u := n.cfg.Upstream
	switch u.Mode {
	case config.UpstreamQUIC:
		target := upstream.SelfAddr(n.streamWatcher)
		if !u.Self() {
			target = upstream.Fixed(u.Target)
		}
		return upstream.NewQUIC(target)
	case config.UpstreamH3:
		target := upstream.SelfURL(n.h3Watcher, "https", httpapi.BasePath)
		if !u.Self() {
			target = upstream.Fixed(u.Target)
		}
		return upstream.NewHTTP(target, upstream.HTTPOptions{H3: true, Compress: u.Compress, Timeout: u.Timeout})
	default:
		target := upstream.SelfURL(n.httpWatcher, "http", httpapi.BasePath)
		if !u.Self() {
			target = upstream.Fixed(u.Target)
		}
		return upstream.NewHTTP(target, upstream.HTTPOptions{Compress: u.Compress, Timeout: u.Timeout})
	}
}

func (n *Node) Engine() *transfer.Engine { return n.engine }

func (n *Node) Upstream() upstream.Upstream { return n.upstream }

// Listen binds every enabled listener and publishes their addresses.
func (n *Node) Listen() error {
	if n.httpLn != nil {
		return nil
	}
	ln, err := net.Listen("tcp", n.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("streamrelay: listen http: %w", err)
	}
	n.httpLn = ln
	n.server = httpapi.NewServer(httpapi.NewRouter(n.engine, n.upstream), httpapi.ServerConfig{
		ReadHeaderTimeout: n.cfg.HTTP.ReadHeaderTimeout,
		ShutdownTimeout:   n.cfg.HTTP.ShutdownTimeout,
	})

	if n.cfg.H3.Enabled {
		pc, err := net.ListenPacket("udp", n.cfg.H3.Addr)
		if err != nil {
			n.Close()
			return fmt.Errorf("streamrelay: listen h3: %w", err)
		}
		n.h3Conn = pc
		if err := n.server.EnableH3(pc); err != nil {
			n.Close()
			return fmt.Errorf("streamrelay: h3: %w", err)
		}
	}
	if n.cfg.Stream.Enabled {
		sl, err := quic.Listen(n.cfg.Stream.Addr)
		if err != nil {
			n.Close()
			return fmt.Errorf("streamrelay: listen stream: %w", err)
		}
		n.streamLn = sl
		n.stream = session.NewServer(sl, n.engine)
	}

	n.httpWatcher.Assign(n.httpLn.Addr())
	if n.h3Conn != nil {
		n.h3Watcher.Assign(n.h3Conn.LocalAddr())
	}
	if n.streamLn != nil {
		n.streamWatcher.Assign(n.streamLn.Addr())
	}
	return nil
}

// HTTPAddr returns the bound HTTP address, or "" before Listen.
func (n *Node) HTTPAddr() string {
	if n.httpLn == nil {
		return ""
	}
	return n.httpLn.Addr().String()
}

// H3Addr returns the bound HTTP/3 address, or "".
func (n *Node) H3Addr() string {
	if n.h3Conn == nil {
		return ""
	}
	return n.h3Conn.LocalAddr().String()
}

// StreamAddr returns the bound stream service address, or "".
func (n *Node) StreamAddr() string {
	if n.streamLn == nil {
		return ""
	}
	return n.streamLn.AddrString()
}

// Run serves until ctx is done or a listener fails, then shuts everything
// down. Listen is called if it has not been already.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Listen(); err != nil {
		return err
	}
	defer n.Close()

	n.log.WithFields(logrus.Fields{
		"http":     n.HTTPAddr(),
		"h3":       n.H3Addr(),
		"stream":   n.StreamAddr(),
		"upstream": n.cfg.Upstream.Mode,
		"buffer":   n.engine.BufferSize(),
	}).Info("node started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.server.ServeH1(gctx, n.httpLn) })
	if n.h3Conn != nil {
		g.Go(func() error { return n.server.ServeH3(gctx) })
	}
	if n.stream != nil {
		g.Go(func() error { return n.stream.Serve(gctx) })
	}
	err := g.Wait()
	stats := n.engine.Stats()
	n.log.WithFields(logrus.Fields{
		"transfers": stats.Transfers,
		"failures":  stats.Failures,
	}).WithFields(logging.Size(stats.Bytes)).Info("node stopped")
	return err
}

// Close releases listeners and upstream connections.
func (n *Node) Close() error {
	n.closeOnce.Do(func() { n.closeErr = n.close() })
	return n.closeErr
}

func (n *Node) close() error {
	var errs []error
	if n.httpLn != nil {
		if err := n.httpLn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if n.h3Conn != nil {
		if err := n.h3Conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if n.streamLn != nil {
		if err := n.streamLn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if c, ok := n.upstream.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
