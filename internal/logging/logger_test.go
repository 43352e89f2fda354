package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/filingrag/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, cfg *Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := newLogger(cfg, &buf, nil)
	require.NoError(t, err)
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_WritesContextFields(t *testing.T) {
	l, buf := newBufferLogger(t, NewDefaultConfig())
	ctx := WithNamespace(context.Background(), "MSFT_000095017024000001")

	l.Info(ctx, "ingest job queued", zap.Int("pending", 3))
	l.Debug(ctx, "filtered out")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "ingest job queued", lines[0]["msg"])
	assert.Equal(t, "MSFT_000095017024000001", lines[0]["filing.namespace"])
	assert.Equal(t, "filingrag", lines[0]["service"])
	assert.EqualValues(t, 3, lines[0]["pending"])
	assert.Contains(t, lines[0]["caller"], "logger_test.go")
}

func TestLogger_RedactsSecrets(t *testing.T) {
	l, buf := newBufferLogger(t, NewDefaultConfig())
	ctx := context.Background()

	l.With(zap.String("qdrant_api_key", "q-secret")).Info(ctx, "connecting",
		zap.String("api_key", "pa-abc"),
		zap.String("header", "Bearer abc.def"),
		Secret("embedding_key", config.Secret("pa-0123456789")),
		zap.String("model", "voyage-finance-2"),
	)

	out := buf.String()
	assert.NotContains(t, out, "q-secret")
	assert.NotContains(t, out, "pa-abc")
	assert.NotContains(t, out, "abc.def")
	assert.NotContains(t, out, "pa-0123456789")
	assert.Contains(t, out, "[REDACTED:13]")
	assert.Contains(t, out, "voyage-finance-2")
}

func TestLogger_LevelFiltering(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = zapcore.WarnLevel
	l, buf := newBufferLogger(t, cfg)
	ctx := context.Background()

	l.Info(ctx, "quiet")
	l.Warn(ctx, "loud")
	assert.True(t, l.Enabled(zapcore.ErrorLevel))
	assert.False(t, l.Enabled(zapcore.InfoLevel))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "loud", lines[0]["msg"])
}

func TestLogger_TraceLevel(t *testing.T) {
	l := NewTestLogger()
	ctx := WithJobID(context.Background(), "job-1")

	l.Trace(ctx, "batch payload", zap.Int("bytes", 42))

	l.AssertLogged(t, TraceLevel, "batch payload")
	l.AssertField(t, "batch payload", "ingest.job_id", "job-1")
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "logfmt"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err, "otel output without a provider has no core")
}
