// Package upstream is the client side of virtual and relayed transfers: it
// pulls generated content from, and pushes bodies to, another node (or this
// node) over HTTP/1.1, HTTP/3 or the raw QUIC stream service.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	ErrUpstream = errors.New("upstream: request failed")
	ErrNotReady = errors.New("upstream: address not assigned")
)

// Upstream produces downloads and accepts uploads.
type Upstream interface {
	// Download returns a stream of exactly n generated bytes.
	Download(ctx context.Context, n int64) (io.ReadCloser, error)
	// Upload opens a stream whose bytes are counted by the upstream.
	Upload(ctx context.Context) (UploadStream, error)
}

// UploadStream is an in-flight upload. Close ends the body normally and
// Result then reports the count the upstream observed. Abort ends the body
// with an error so the upstream sees a failed transfer rather than a short
// one.
type UploadStream interface {
	io.WriteCloser
	Abort(err error)
	Result() (int64, error)
}

// StatusError is a non-200 answer from an HTTP upstream.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream: status %d", e.Code)
	}
	return fmt.Sprintf("upstream: status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUpstream }

// Target resolves the upstream address when a transfer starts.
type Target func(ctx context.Context) (string, error)

// Fixed is a Target that never changes.
func Fixed(addr string) Target {
	return func(context.Context) (string, error) { return addr, nil }
}
