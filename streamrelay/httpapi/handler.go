// Package httpapi exposes the transfer engine over HTTP under /large-file.
package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/TheusHen/streamrelay/streamrelay/logging"
	"github.com/TheusHen/streamrelay/streamrelay/transfer"
	"github.com/TheusHen/streamrelay/streamrelay/units"
	"github.com/TheusHen/streamrelay/streamrelay/upstream"
)

const BasePath = "/large-file"

var (
	errMissingSize   = errors.New("httpapi: fileSize is required")
	errCountMismatch = errors.New("httpapi: upstream count does not match relayed bytes")
)

type Handler struct {
	engine   *transfer.Engine
	upstream upstream.Upstream
}

func NewHandler(engine *transfer.Engine, up upstream.Upstream) *Handler {
	return &Handler{engine: engine, upstream: up}
}

// Register mounts the routes on r under BasePath.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group(BasePath)
	g.GET("/ping", h.Ping)
	g.GET("", h.Download)
	g.GET("/virtual", h.VirtualDownload)
	g.POST("", h.Upload)
	g.POST("/virtual", h.VirtualUpload)
	g.GET("/transfer", h.Transfer)
	g.GET("/passthrough", h.Transfer)
}

func (h *Handler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// Download streams fileSize generated bytes as a file attachment.
func (h *Handler) Download(c *gin.Context) {
	n, ok := sizeParam(c)
	if !ok {
		return
	}
	src, err := h.engine.Generate(n)
	if err != nil {
		badRequest(c, err)
		return
	}
	log := logging.FromContext(c.Request.Context())

	c.Header("Content-Type", "text/plain")
	c.Header("Content-Disposition", `form-data; name="attachment"; filename="file.txt"`)

	var moved int64
	if acceptsLZ4(c.GetHeader("Accept-Encoding")) {
		c.Header("Content-Encoding", upstream.EncodingLZ4)
		c.Header("Vary", "Accept-Encoding")
		c.Status(http.StatusOK)
		cw := transfer.NewCompressWriter(c.Writer, transfer.CompressionFast)
		moved, err = h.engine.Relay(cw, src)
		if cerr := cw.Close(); err == nil {
			err = cerr
		}
	} else {
		c.Header("Content-Length", strconv.FormatInt(n, 10))
		c.Status(http.StatusOK)
		moved, err = h.engine.Relay(c.Writer, src)
	}
	if err != nil {
		// Headers are out; a short body is all the client will see.
		log.WithFields(logging.Size(moved)).WithError(err).Warn("download aborted")
		_ = c.Error(err)
	}
}

// VirtualDownload pulls fileSize bytes from the upstream and counts them.
func (h *Handler) VirtualDownload(c *gin.Context) {
	n, ok := sizeParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	rc, err := h.upstream.Download(ctx, n)
	if err != nil {
		badGateway(c, err)
		return
	}
	defer rc.Close()

	got, err := h.engine.Consume(rc)
	if err != nil {
		badGateway(c, err)
		return
	}
	if got != n {
		badGateway(c, fmt.Errorf("%w: asked for %d, received %d", errCountMismatch, n, got))
		return
	}
	c.JSON(http.StatusOK, got)
}

// Upload counts the request body.
func (h *Handler) Upload(c *gin.Context) {
	body, closeBody, ok := requestBody(c)
	if !ok {
		return
	}
	defer closeBody()

	n, err := h.engine.Consume(body)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// VirtualUpload relays the request body to the upstream and answers with
// the count the upstream reports.
func (h *Handler) VirtualUpload(c *gin.Context) {
	body, closeBody, ok := requestBody(c)
	if !ok {
		return
	}
	defer closeBody()

	st, err := h.upstream.Upload(c.Request.Context())
	if err != nil {
		badGateway(c, err)
		return
	}
	moved, err := h.engine.Relay(st, body)
	if err != nil {
		st.Abort(err)
		if transfer.IsInbound(err) {
			badRequest(c, err)
		} else {
			badGateway(c, err)
		}
		return
	}
	h.finishUpload(c, st, moved)
}

// Transfer downloads fileSize bytes from the upstream and relays them into
// a new upstream upload.
func (h *Handler) Transfer(c *gin.Context) {
	n, ok := sizeParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	rc, err := h.upstream.Download(ctx, n)
	if err != nil {
		badGateway(c, err)
		return
	}
	defer rc.Close()

	st, err := h.upstream.Upload(ctx)
	if err != nil {
		badGateway(c, err)
		return
	}
	moved, err := h.engine.Relay(st, rc)
	if err != nil {
		st.Abort(err)
		badGateway(c, err)
		return
	}
	if moved != n {
		st.Abort(errCountMismatch)
		badGateway(c, fmt.Errorf("%w: asked for %d, relayed %d", errCountMismatch, n, moved))
		return
	}
	h.finishUpload(c, st, moved)
}

func (h *Handler) finishUpload(c *gin.Context, st upstream.UploadStream, moved int64) {
	if err := st.Close(); err != nil {
		st.Abort(err)
		badGateway(c, err)
		return
	}
	reported, err := st.Result()
	if err != nil {
		badGateway(c, err)
		return
	}
	if reported != moved {
		badGateway(c, fmt.Errorf("%w: relayed %d, upstream counted %d", errCountMismatch, moved, reported))
		return
	}
	c.JSON(http.StatusOK, reported)
}

// sizeParam reads fileSize, or its older alias bytes.
func sizeParam(c *gin.Context) (int64, bool) {
	raw, ok := c.GetQuery("fileSize")
	if !ok {
		raw, ok = c.GetQuery("bytes")
	}
	if !ok {
		badRequest(c, errMissingSize)
		return 0, false
	}
	n, err := units.ParseSize(raw)
	if err != nil {
		badRequest(c, err)
		return 0, false
	}
	return n, true
}

// requestBody returns the decoded request body.
func requestBody(c *gin.Context) (io.Reader, func(), bool) {
	switch enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding"))); enc {
	case "", "identity":
		return c.Request.Body, func() {}, true
	case upstream.EncodingLZ4:
		dr := transfer.NewDecompressReader(c.Request.Body)
		return dr, func() { dr.Close() }, true
	default:
		c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content encoding " + enc})
		return nil, nil, false
	}
}

func acceptsLZ4(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), upstream.EncodingLZ4) {
			continue
		}
		params = strings.ReplaceAll(params, " ", "")
		return params != "q=0" && params != "q=0.0"
	}
	return false
}

func badRequest(c *gin.Context, err error) {
	logging.FromContext(c.Request.Context()).WithError(err).Info("bad request")
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func badGateway(c *gin.Context, err error) {
	logging.FromContext(c.Request.Context()).WithError(err).Warn("upstream failure")
	c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
