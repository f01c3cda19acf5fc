package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "warning", "error", "INFO"} {
		t.Run(level, func(t *testing.T) {
			l, err := New(Config{Level: level, Format: "json", Output: "stderr"})
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "chatty"})
	assert.ErrorContains(t, err, "unknown log level")
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("order created", zap.String("order_id", "o-1"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "order created", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "o-1", entry["order_id"])
}

func TestNew_BadFilePath(t *testing.T) {
	_, err := New(Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "app.log")})
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	fallback := zap.NewNop()
	assert.Same(t, fallback, FromContext(context.Background(), fallback))

	l := zap.NewExample()
	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx, fallback))
}
