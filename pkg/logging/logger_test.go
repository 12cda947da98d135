package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New("worker", "info", "json")
	logger.SetOutput(&buf)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithPublisherID(ctx, "pub-1")

	logger.WithContext(ctx).Info("hello")

	out := buf.String()
	assert.Contains(t, out, "req-1")
	assert.Contains(t, out, "pub-1")
	assert.Contains(t, out, "worker")
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", RequestIDFromContext(ctx))
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}

func TestNewRequestIDUnique(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	assert.NotEqual(t, a, b)
}
