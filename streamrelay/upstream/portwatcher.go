package upstream

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// PortWatcher publishes the address a listener bound to. It is assigned
// once, after the listener is up, and awaited by anything that needs to
// call back into this node.
type PortWatcher struct {
	once  sync.Once
	ready chan struct{}
	addr  net.Addr
}

func NewPortWatcher() *PortWatcher {
	return &PortWatcher{ready: make(chan struct{})}
}

// Assign records addr. Only the first call has an effect; it reports
// whether this call was the one that assigned.
func (w *PortWatcher) Assign(addr net.Addr) bool {
	assigned := false
	w.once.Do(func() {
		w.addr = addr
		close(w.ready)
		assigned = true
	})
	return assigned
}

// Wait blocks until an address is assigned or ctx is done.
func (w *PortWatcher) Wait(ctx context.Context) (net.Addr, error) {
	select {
	case <-w.ready:
		return w.addr, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
	}
}

// Port returns the assigned port, or 0 before Assign.
func (w *PortWatcher) Port() int {
	select {
	case <-w.ready:
	default:
		return 0
	}
	_, port, err := net.SplitHostPort(w.addr.String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}

// loopback returns a dialable host:port for addr, replacing wildcard hosts
// with the loopback address.
func loopback(addr net.Addr) (string, error) {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", err
	}
	ip := net.ParseIP(host)
	if host == "" || (ip != nil && ip.IsUnspecified()) {
		if ip != nil && ip.To4() == nil {
			host = "::1"
		} else {
			host = "127.0.0.1"
		}
	}
	return net.JoinHostPort(host, port), nil
}

// SelfAddr targets the host:port published by w.
func SelfAddr(w *PortWatcher) Target {
	return func(ctx context.Context) (string, error) {
		addr, err := w.Wait(ctx)
		if err != nil {
			return "", err
		}
		return loopback(addr)
	}
}

// SelfURL targets scheme://host:port/path on the address published by w.
func SelfURL(w *PortWatcher, scheme, path string) Target {
	return func(ctx context.Context) (string, error) {
		hostport, err := SelfAddr(w)(ctx)
		if err != nil {
			return "", err
		}
		return scheme + "://" + hostport + path, nil
	}
}
