package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"

	"github.com/TheusHen/streamrelay/streamrelay/transfer"
	"github.com/TheusHen/streamrelay/streamrelay/transport/quic"
)

// EncodingLZ4 is the content coding for lz4 framed bodies.
const EncodingLZ4 = "lz4"

// errUploadDone unblocks writers once the exchange has finished.
var errUploadDone = errors.New("upstream: upload exchange finished")

// HTTP talks to the /large-file routes of a node.
type HTTP struct {
	target   Target
	client   *http.Client
	compress bool
}

// HTTPOptions configures NewHTTP.
type HTTPOptions struct {
	H3       bool          // use HTTP/3 instead of HTTP/1.1
	Compress bool          // lz4 request and response bodies
	Timeout  time.Duration // bounds a whole exchange, 0 for none
}

// NewHTTP creates an upstream whose Target resolves to the base URL of the
// routes, e.g. "http://127.0.0.1:8080/large-file".
func NewHTTP(target Target, opts HTTPOptions) *HTTP {
	var rt http.RoundTripper
	if opts.H3 {
		rt = &http3.Transport{
			TLSClientConfig: quic.NewClientTLSConfig(http3.NextProtoH3),
			QUICConfig:      quic.DefaultConfig(),
		}
	} else {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.DisableCompression = true
		rt = tr
	}
	return &HTTP{
		target:   target,
		client:   &http.Client{Transport: rt, Timeout: opts.Timeout},
		compress: opts.Compress,
	}
}

// Close releases idle connections.
func (h *HTTP) Close() error {
	if c, ok := h.client.Transport.(io.Closer); ok {
		return c.Close()
	}
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTP) Download(ctx context.Context, n int64) (io.ReadCloser, error) {
	base, err := h.target(ctx)
	if err != nil {
		return nil, err
	}
	u := base + "?" + url.Values{"fileSize": {strconv.FormatInt(n, 10)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if h.compress {
		req.Header.Set("Accept-Encoding", EncodingLZ4)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), EncodingLZ4) {
		return &decodedBody{DecompressReader: transfer.NewDecompressReader(resp.Body), body: resp.Body}, nil
	}
	return resp.Body, nil
}

type decodedBody struct {
	*transfer.DecompressReader
	body io.Closer
}

func (d *decodedBody) Close() error {
	d.DecompressReader.Close()
	return d.body.Close()
}

func (h *HTTP) Upload(ctx context.Context) (UploadStream, error) {
	base, err := h.target(ctx)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, pr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	up := &httpUpload{pw: pw, w: pw, done: make(chan struct{})}
	if h.compress {
		req.Header.Set("Content-Encoding", EncodingLZ4)
		up.cw = transfer.NewCompressWriter(pw, transfer.CompressionFast)
		up.w = up.cw
	}

	go func() {
		defer close(up.done)
		resp, err := h.client.Do(req)
		pr.CloseWithError(errUploadDone)
		if err != nil {
			up.err = fmt.Errorf("%w: %v", ErrUpstream, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			up.err = statusError(resp)
			return
		}
		up.n, up.err = decodeCount(resp.Body)
	}()
	return up, nil
}

type httpUpload struct {
	pw *io.PipeWriter
	cw *transfer.CompressWriter
	w  io.Writer

	done chan struct{}
	n    int64
	err  error
}

func (u *httpUpload) Write(p []byte) (int, error) {
	n, err := u.w.Write(p)
	if errors.Is(err, errUploadDone) {
		<-u.done
		if u.err != nil {
			err = u.err
		}
	}
	return n, err
}

func (u *httpUpload) Close() error {
	if u.cw != nil {
		if err := u.cw.Close(); err != nil {
			u.pw.CloseWithError(err)
			return err
		}
	}
	return u.pw.Close()
}

func (u *httpUpload) Abort(err error) {
	if err == nil {
		err = context.Canceled
	}
	u.pw.CloseWithError(err)
}

func (u *httpUpload) Result() (int64, error) {
	<-u.done
	return u.n, u.err
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// decodeCount reads the JSON number the upload routes answer with.
func decodeCount(r io.Reader) (int64, error) {
	var n int64
	if err := json.NewDecoder(io.LimitReader(r, 64)).Decode(&n); err != nil {
		return 0, fmt.Errorf("%w: decode count: %v", ErrUpstream, err)
	}
	return n, nil
}
