package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/TheusHen/streamrelay/streamrelay/transfer"
	"github.com/TheusHen/streamrelay/streamrelay/transport/quic"
)

func startServer(t *testing.T) (*transfer.Engine, string) {
	t.Helper()
	engine, err := transfer.NewEngine(transfer.DefaultCorpus(), transfer.DefaultPipeConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ln, err := quic.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := NewServer(ln, engine)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
		ln.Close()
	})
	return engine, srv.Addr()
}

func dial(t *testing.T, addr string) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func expected(n int64) []byte {
	c := transfer.DefaultCorpus()
	out := make([]byte, n)
	for i := range out {
		out[i] = c.At(int64(i))
	}
	return out
}

func TestDownload(t *testing.T) {
	_, addr := startServer(t)
	s := dial(t, addr)

	for _, n := range []int64{0, 1, 2449, 300 * 1024} {
		rc, err := s.Download(context.Background(), n)
		if err != nil {
			t.Fatalf("Download(%d): %v", n, err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("ReadAll(%d): %v", n, err)
		}
		if !bytes.Equal(got, expected(n)) {
			t.Fatalf("Download(%d): content mismatch (got %d bytes)", n, len(got))
		}
	}
}

func TestDownloadRejected(t *testing.T) {
	_, addr := startServer(t)
	s := dial(t, addr)

	rc, err := s.Download(context.Background(), -1)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()
	if _, err := io.ReadAll(rc); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestUpload(t *testing.T) {
	engine, addr := startServer(t)
	s := dial(t, addr)

	up, err := s.Upload(context.Background())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	src, _ := engine.Generate(200 * 1024)
	if _, err := io.Copy(up, src); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := up.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	n, err := up.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if n != 200*1024 {
		t.Fatalf("Result = %d, want %d", n, 200*1024)
	}
}

func TestUploadEmpty(t *testing.T) {
	_, addr := startServer(t)
	s := dial(t, addr)

	up, err := s.Upload(context.Background())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := up.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n, err := up.Result(); err != nil || n != 0 {
		t.Fatalf("Result = %d, %v", n, err)
	}
}

func waitFailures(t *testing.T, engine *transfer.Engine, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for engine.Stats().Failures < want {
		if time.Now().After(deadline) {
			t.Fatalf("server recorded %d failed transfers, want %d", engine.Stats().Failures, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUploadAbort(t *testing.T) {
	engine, addr := startServer(t)
	s := dial(t, addr)

	up, err := s.Upload(context.Background())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := up.Write([]byte("partial")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cause := errors.New("source went away")
	up.Abort(cause)
	if _, err := up.Result(); !errors.Is(err, cause) {
		t.Fatalf("Result after abort: %v", err)
	}
	waitFailures(t, engine, 1)
	if got := engine.Stats().Transfers; got != 0 {
		t.Fatalf("aborted upload counted as %d completed transfers", got)
	}
}

func TestUploadAbortBeforeFirstFrame(t *testing.T) {
	engine, addr := startServer(t)
	s := dial(t, addr)

	// Each reset is sent right behind a request frame that is still
	// buffered, so it regularly arrives first.
	const uploads = 8
	for i := 0; i < uploads; i++ {
		up, err := s.Upload(context.Background())
		if err != nil {
			t.Fatalf("Upload: %v", err)
		}
		up.Abort(nil)
		if _, err := up.Result(); !errors.Is(err, context.Canceled) {
			t.Fatalf("Result after abort: %v", err)
		}
	}
	waitFailures(t, engine, uploads)
}

func TestUploadAbortReleasesContext(t *testing.T) {
	_, addr := startServer(t)
	s := dial(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	up, err := s.Upload(ctx)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	up.Abort(errors.New("gone"))
	// ctx is still live, so a false stop means Abort already unregistered it.
	if up.stop() {
		t.Fatalf("context watch still registered after Abort")
	}
}

func TestConcurrentTransfers(t *testing.T) {
	_, addr := startServer(t)
	s := dial(t, addr)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		n := int64(i+1) * 10000
		wg.Add(2)
		go func() {
			defer wg.Done()
			rc, err := s.Download(context.Background(), n)
			if err != nil {
				errs <- err
				return
			}
			defer rc.Close()
			got, err := io.Copy(io.Discard, rc)
			if err == nil && got != n {
				err = errors.New("short download")
			}
			if err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			up, err := s.Upload(context.Background())
			if err != nil {
				errs <- err
				return
			}
			if _, err := up.Write(expected(n)); err != nil {
				errs <- err
				return
			}
			if err := up.Close(); err != nil {
				errs <- err
				return
			}
			got, err := up.Result()
			if err == nil && got != n {
				err = errors.New("wrong upload count")
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("transfer: %v", err)
	}
}

func TestDownloadContextCancel(t *testing.T) {
	_, addr := startServer(t)
	s := dial(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	rc, err := s.Download(ctx, 1<<30)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()
	buf := make([]byte, 1024)
	if _, err := io.ReadFull(rc, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	cancel()
	if _, err := io.Copy(io.Discard, rc); err == nil {
		t.Fatalf("expected an error after cancel")
	}
}
