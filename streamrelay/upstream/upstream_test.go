package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/streamrelay/streamrelay/session"
	"github.com/TheusHen/streamrelay/streamrelay/transfer"
	"github.com/TheusHen/streamrelay/streamrelay/transport/quic"
)

func newEngine(t *testing.T) *transfer.Engine {
	t.Helper()
	e, err := transfer.NewEngine(transfer.DefaultCorpus(), transfer.DefaultPipeConfig())
	require.NoError(t, err)
	return e
}

// fakeNode serves a minimal version of the /large-file download and upload
// routes.
func fakeNode(t *testing.T, e *transfer.Engine) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/large-file", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			n, err := strconv.ParseInt(r.URL.Query().Get("fileSize"), 10, 64)
			if err != nil || n < 0 {
				http.Error(w, "bad size", http.StatusBadRequest)
				return
			}
			src, _ := e.Generate(n)
			var out io.Writer = w
			if r.Header.Get("Accept-Encoding") == EncodingLZ4 {
				w.Header().Set("Content-Encoding", EncodingLZ4)
				cw := transfer.NewCompressWriter(w, transfer.CompressionFast)
				defer cw.Close()
				out = cw
			}
			e.Relay(out, src)
		case http.MethodPost:
			var body io.Reader = r.Body
			if r.Header.Get("Content-Encoding") == EncodingLZ4 {
				dr := transfer.NewDecompressReader(r.Body)
				defer dr.Close()
				body = dr
			}
			n, err := e.Consume(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(n)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func expected(n int64) []byte {
	c := transfer.DefaultCorpus()
	out := make([]byte, n)
	for i := range out {
		out[i] = c.At(int64(i))
	}
	return out
}

func TestHTTPDownload(t *testing.T) {
	srv := fakeNode(t, newEngine(t))
	for _, compress := range []bool{false, true} {
		up := NewHTTP(Fixed(srv.URL+"/large-file"), HTTPOptions{Compress: compress})
		rc, err := up.Download(context.Background(), 100_000)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.True(t, bytes.Equal(expected(100_000), got), "compress=%v", compress)
		up.Close()
	}
}

func TestHTTPDownloadStatus(t *testing.T) {
	srv := fakeNode(t, newEngine(t))
	up := NewHTTP(Fixed(srv.URL+"/large-file"), HTTPOptions{})

	_, err := up.Download(context.Background(), -5)
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestHTTPUpload(t *testing.T) {
	srv := fakeNode(t, newEngine(t))
	for _, compress := range []bool{false, true} {
		up := NewHTTP(Fixed(srv.URL+"/large-file"), HTTPOptions{Compress: compress})
		st, err := up.Upload(context.Background())
		require.NoError(t, err)
		_, err = io.Copy(st, bytes.NewReader(expected(250_000)))
		require.NoError(t, err)
		require.NoError(t, st.Close())
		n, err := st.Result()
		require.NoError(t, err)
		assert.EqualValues(t, 250_000, n, "compress=%v", compress)
	}
}

func TestHTTPUploadAbort(t *testing.T) {
	srv := fakeNode(t, newEngine(t))
	up := NewHTTP(Fixed(srv.URL+"/large-file"), HTTPOptions{})
	st, err := up.Upload(context.Background())
	require.NoError(t, err)

	_, err = st.Write([]byte("some bytes"))
	require.NoError(t, err)
	st.Abort(errors.New("inbound failed"))

	_, err = st.Result()
	assert.Error(t, err)
}

func TestHTTPUploadRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	up := NewHTTP(Fixed(srv.URL), HTTPOptions{})
	st, err := up.Upload(context.Background())
	require.NoError(t, err)
	st.Write([]byte("x"))
	st.Close()
	_, err = st.Result()
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "nope", se.Body)
}

func TestPortWatcher(t *testing.T) {
	w := NewPortWatcher()
	assert.Equal(t, 0, w.Port())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := w.Wait(ctx)
	assert.ErrorIs(t, err, ErrNotReady)

	got := make(chan net.Addr, 1)
	go func() {
		addr, _ := w.Wait(context.Background())
		got <- addr
	}()

	first := &net.TCPAddr{IP: net.IPv4zero, Port: 8123}
	assert.True(t, w.Assign(first))
	assert.False(t, w.Assign(&net.TCPAddr{IP: net.IPv4zero, Port: 9}))
	assert.Equal(t, first, <-got)
	assert.Equal(t, 8123, w.Port())

	url, err := SelfURL(w, "http", "/large-file")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8123/large-file", url)
}

func TestLoopback(t *testing.T) {
	cases := map[string]net.Addr{
		"127.0.0.1:80": &net.TCPAddr{IP: net.IPv4zero, Port: 80},
		"[::1]:80":     &net.TCPAddr{IP: net.IPv6unspecified, Port: 80},
		"10.1.2.3:443": &net.UDPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 443},
	}
	for want, addr := range cases {
		got, err := loopback(addr)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestQUICUpstream(t *testing.T) {
	ln, err := quic.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := session.NewServer(ln, newEngine(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	watcher := NewPortWatcher()
	watcher.Assign(ln.Addr())
	up := NewQUIC(SelfAddr(watcher))
	defer up.Close()

	rc, err := up.Download(context.Background(), 12345)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.True(t, bytes.Equal(expected(12345), got))

	st, err := up.Upload(context.Background())
	require.NoError(t, err)
	_, err = io.Copy(st, strings.NewReader(string(got)))
	require.NoError(t, err)
	require.NoError(t, st.Close())
	n, err := st.Result()
	require.NoError(t, err)
	assert.EqualValues(t, 12345, n)
}
