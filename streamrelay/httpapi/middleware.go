package httpapi

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/streamrelay/streamrelay/logging"
)

const requestIDHeader = "X-Request-ID"

type countingReader struct {
	R    io.ReadCloser
	read int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.R.Read(p)
	cr.read += int64(n)
	return n, err
}

func (cr *countingReader) Close() error {
	return cr.R.Close()
}

// RequestLogger tags the request with an id and writes one access log
// entry when the handler returns.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = logging.NewRequestID()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))

		body := &countingReader{R: c.Request.Body}
		c.Request.Body = body

		c.Next()

		entry := logging.FromContext(c.Request.Context()).WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"proto":    c.Request.Proto,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"in":       body.read,
			"out":      c.Writer.Size(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		switch {
		case c.Writer.Status() >= 500:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}
