package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		logFunc   func(*Logger)
		wantEmpty bool
		check     func(t *testing.T, out string)
	}{
		{
			name:   "json carries job attributes",
			config: Config{Level: "info", Format: "json"},
			logFunc: func(l *Logger) {
				l.Info("Job completed",
					slog.String("queue", "pdf-generation"),
					slog.String("job_id", "pdf-req_1"),
					slog.Int("attempt", 2),
				)
			},
			check: func(t *testing.T, out string) {
				var entry map[string]any
				require.NoError(t, json.Unmarshal([]byte(out), &entry))
				assert.Equal(t, "INFO", entry["level"])
				assert.Equal(t, "Job completed", entry["msg"])
				assert.Equal(t, "pdf-generation", entry["queue"])
				assert.Equal(t, "pdf-req_1", entry["job_id"])
				assert.Equal(t, float64(2), entry["attempt"])
			},
		},
		{
			name:   "console without color",
			config: Config{Level: "debug", Format: "console", NoColor: true},
			logFunc: func(l *Logger) {
				l.Debug("Worker goroutine started", slog.String("worker_name", "content-0"))
			},
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "Worker goroutine started")
				assert.Contains(t, out, "worker_name=content-0")
				assert.NotContains(t, out, "\x1b[", "no ANSI escapes")
			},
		},
		{
			name:      "level filters lower records",
			config:    Config{Level: "warn", Format: "json"},
			logFunc:   func(l *Logger) { l.Info("Job added") },
			wantEmpty: true,
		},
		{
			name:   "unknown level falls back to info",
			config: Config{Level: "verbose", Format: "json"},
			logFunc: func(l *Logger) {
				l.Debug("hidden")
				l.Info("shown")
			},
			check: func(t *testing.T, out string) {
				assert.NotContains(t, out, "hidden")
				assert.Contains(t, out, "shown")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := tt.config
			cfg.writer = &buf

			l, err := New(&cfg)
			require.NoError(t, err)
			tt.logFunc(l)

			out := strings.TrimSpace(buf.String())
			if tt.wantEmpty {
				assert.Empty(t, out)
				return
			}
			tt.check(t, out)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	logger, err := New(&Config{
		Level:  "info",
		Format: "console",
		Output: path,
	})
	require.NoError(t, err)

	logger.Info("written to file", slog.String("job_id", "ebook-req_1"))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "job_id=ebook-req_1")
	assert.NotContains(t, string(data), "\x1b[", "files never get colors")
}

func TestNew_FileOutputInvalidPath(t *testing.T) {
	logger, err := New(&Config{
		Output: filepath.Join(t.TempDir(), "missing", "dir", "app.log"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
	assert.Nil(t, logger)
}

func TestNewDiscard(t *testing.T) {
	logger := NewDiscard()
	require.NotNil(t, logger)
	logger.Info("dropped")
	assert.NoError(t, logger.Close())
}
