package upstream

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/TheusHen/streamrelay/streamrelay/session"
)

// QUIC uses the raw stream service. One connection is shared by all
// transfers and redialed once it dies.
type QUIC struct {
	target Target

	mu   sync.Mutex
	sess *session.Session
}

func NewQUIC(target Target) *QUIC {
	return &QUIC{target: target}
}

func (q *QUIC) session(ctx context.Context) (*session.Session, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sess != nil && q.sess.Connection().Context().Err() == nil {
		return q.sess, nil
	}
	addr, err := q.target(ctx)
	if err != nil {
		return nil, err
	}
	s, err := session.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	q.sess = s
	return s, nil
}

func (q *QUIC) Download(ctx context.Context, n int64) (io.ReadCloser, error) {
	s, err := q.session(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := s.Download(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return rc, nil
}

func (q *QUIC) Upload(ctx context.Context) (UploadStream, error) {
	s, err := q.session(ctx)
	if err != nil {
		return nil, err
	}
	up, err := s.Upload(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return up, nil
}

func (q *QUIC) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sess == nil {
		return nil
	}
	err := q.sess.Close()
	q.sess = nil
	return err
}
