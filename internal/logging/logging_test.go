package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiHandlerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(h)

	logger.Info("hello", "k", "v")
	logger.Warn("careful")

	assert.Contains(t, a.String(), "hello")
	assert.Contains(t, a.String(), "careful")
	assert.NotContains(t, b.String(), "hello")
	assert.Contains(t, b.String(), "careful")

	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestMultiHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewMultiHandler(slog.NewTextHandler(&buf, nil)).WithAttrs([]slog.Attr{slog.String("app", "casesync")})
	slog.New(h).Info("x")
	assert.Contains(t, buf.String(), "app=casesync")
}

func TestSetupConsoleOnly(t *testing.T) {
	closer, err := Setup(slog.LevelInfo, "")
	require.NoError(t, err)
	closer()
}
