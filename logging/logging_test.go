package logging_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/velmie/messaging"
	"github.com/velmie/messaging/logging"
)

func TestZapAdapterWritesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := logging.Zap(zap.New(core))

	logger.Warn("messaging.event_outbox.failed_retry", "id", int64(7), "attempts", 2)
	logger.Debug("inbox-duplicate", "source", "payments")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, "messaging.event_outbox.failed_retry", entries[0].Message)
	require.Equal(t, map[string]any{"id": int64(7), "attempts": int64(2)}, entries[0].ContextMap())
	require.Equal(t, "payments", entries[1].ContextMap()["source"])
}

func TestZapNilLogger(t *testing.T) {
	require.Equal(t, messaging.NopLogger{}, logging.Zap(nil))
}

func TestZerologAdapterWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Zerolog(zerolog.New(&buf))

	logger.Error("messaging worker pass failed", "worker", 1, "err", errors.New("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "error", line["level"])
	require.Equal(t, "messaging worker pass failed", line["message"])
	require.Equal(t, float64(1), line["worker"])
	require.Equal(t, "boom", line["err"])
}

func TestZerologDanglingValue(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Zerolog(zerolog.New(&buf).Level(zerolog.InfoLevel))

	logger.Debug("hidden")
	require.Zero(t, buf.Len())

	logger.Info("odd", "key")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "key", line["!BADKEY"])
}

func TestNewZapModes(t *testing.T) {
	prod, err := logging.NewZap(logging.ProductionMode)
	require.NoError(t, err)
	require.False(t, prod.Core().Enabled(zapcore.DebugLevel))

	dev, err := logging.NewZap(logging.DevelopmentMode)
	require.NoError(t, err)
	require.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}
