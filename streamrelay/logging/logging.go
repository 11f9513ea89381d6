// Package logging configures the process-wide logrus logger and carries
// request ids through contexts.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Setup sets the level and formatter ("json" or "text") of the standard
// logger.
func Setup(level, format string) error {
	return configure(logrus.StandardLogger(), os.Stderr, level, format)
}

func configure(l *logrus.Logger, out io.Writer, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch strings.ToLower(format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("logging: unknown format %q", format)
	}
	l.SetLevel(lvl)
	l.SetOutput(out)
	return nil
}

// NewRequestID returns a fresh random id.
func NewRequestID() string { return uuid.NewString() }

// WithRequestID adds a request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContext returns an entry tagged with the request id of ctx, if any.
func FromContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(logrus.StandardLogger())
	if id := RequestID(ctx); id != "" {
		entry = entry.WithField("request_id", id)
	}
	return entry
}

// Component returns an entry for a long lived subsystem.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}

// Size describes a byte count for log fields.
func Size(n int64) logrus.Fields {
	if n < 0 {
		return logrus.Fields{"bytes": n}
	}
	return logrus.Fields{"bytes": n, "size": humanize.IBytes(uint64(n))}
}
