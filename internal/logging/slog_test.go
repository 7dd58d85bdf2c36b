package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapture(t *testing.T) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(h)), &buf
}

// lines decodes each emitted JSON log line into a map.
func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &m))
		out = append(out, m)
	}
	return out
}

func TestSlogLogger_EmitsAllLevels(t *testing.T) {
	log, buf := newCapture(t)
	ctx := context.Background()

	log.Debug(ctx, "probe blob", "key", "t1/f1")
	log.Info(ctx, "archive run started", "tenant", "t1")
	log.Warn(ctx, "notification retry", "attempt", 2)
	log.Error(ctx, "migration failed", "file", "f9")

	got := lines(t, buf)
	require.Len(t, got, 4)

	assert.Equal(t, "DEBUG", got[0]["level"])
	assert.Equal(t, "t1/f1", got[0]["key"])
	assert.Equal(t, "INFO", got[1]["level"])
	assert.Equal(t, "archive run started", got[1]["msg"])
	assert.Equal(t, "WARN", got[2]["level"])
	assert.EqualValues(t, 2, got[2]["attempt"])
	assert.Equal(t, "ERROR", got[3]["level"])
	assert.Equal(t, "f9", got[3]["file"])
}

func TestSlogLogger_WithCarriesAttributes(t *testing.T) {
	log, buf := newCapture(t)

	scoped := log.With("instance", "archive-t1", "site", "site-1")
	scoped.Info(context.Background(), "site approved", "actor", "alice")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "archive-t1", got[0]["instance"])
	assert.Equal(t, "site-1", got[0]["site"])
	assert.Equal(t, "alice", got[0]["actor"])
}

func TestSlogLogger_WithDoesNotMutateParent(t *testing.T) {
	log, buf := newCapture(t)

	_ = log.With("instance", "retrieve-f1")
	log.Info(context.Background(), "plain")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.NotContains(t, got[0], "instance")
}
