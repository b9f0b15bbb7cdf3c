package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got, s)
	}

	_, ok := ParseLogLevel("verbose")
	require.False(t, ok)
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, zapcore.DebugLevel)

	ctx := ToContext(context.Background(), l)
	ctx = WithName(ctx, "resolve")
	ctx = WithKV(ctx, "arch", "amd64")

	InfoKV(ctx, "resolved version", "version", "v1.30.0")
	DebugKV(ctx, "page fetched", "page", 2)

	out := buf.String()
	assert.Contains(t, out, "resolve")
	assert.Contains(t, out, "resolved version")
	assert.Contains(t, out, "arch")
	assert.Contains(t, out, "v1.30.0")
	assert.Contains(t, out, "page fetched")
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	t.Parallel()

	assert.Same(t, Logger(), FromContext(context.Background()))
}
