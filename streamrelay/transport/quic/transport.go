package quic

import (
	"context"
	"net"
	"time"

	q "github.com/quic-go/quic-go"
)

// DefaultConfig is shared by listeners, dialers and the HTTP/3 server.
func DefaultConfig() *q.Config {
	return &q.Config{
		MaxIdleTimeout:     time.Minute,
		KeepAlivePeriod:    15 * time.Second,
		MaxIncomingStreams: 256,
	}
}

type Listener struct {
	inner *q.Listener
}

func Listen(addr string) (*Listener, error) {
	tlsConf, err := NewServerTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &Listener{inner: ln}, nil
}

func (l *Listener) Accept(ctx context.Context) (q.Connection, error) {
	return l.inner.Accept(ctx)
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

func (l *Listener) AddrString() string {
	if l.inner == nil {
		return ""
	}
	return l.inner.Addr().String()
}

func (l *Listener) Close() error { return l.inner.Close() }

func Dial(ctx context.Context, addr string) (q.Connection, error) {
	return q.DialAddr(ctx, addr, NewClientTLSConfig(), DefaultConfig())
}
