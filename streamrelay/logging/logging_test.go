package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureJSON(t *testing.T) {
	l := logrus.New()
	var buf bytes.Buffer
	require.NoError(t, configure(l, &buf, "debug", "json"))

	l.WithFields(Size(3 * 1024)).Debug("moved")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "moved", line["msg"])
	assert.Equal(t, "3.0 KiB", line["size"])
	assert.EqualValues(t, 3072, line["bytes"])
}

func TestConfigureRejectsBadInput(t *testing.T) {
	l := logrus.New()
	assert.Error(t, configure(l, &bytes.Buffer{}, "loud", "text"))
	assert.Error(t, configure(l, &bytes.Buffer{}, "info", "xml"))
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	_, ok := FromContext(ctx).Data["request_id"]
	assert.False(t, ok)

	id := NewRequestID()
	ctx = WithRequestID(ctx, id)
	assert.Equal(t, id, RequestID(ctx))
	assert.Equal(t, id, FromContext(ctx).Data["request_id"])
	assert.NotEqual(t, id, NewRequestID())
}
