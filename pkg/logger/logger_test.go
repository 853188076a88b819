package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"igcollector/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{name: "info level", cfg: &config.LoggingConfig{Level: "info"}},
		{name: "debug level", cfg: &config.LoggingConfig{Level: "debug"}},
		{name: "invalid level", cfg: &config.LoggingConfig{Level: "invalid"}, wantErr: true},
		{name: "file output", cfg: &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "igc.log")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && l == nil {
				t.Error("New() returned nil logger")
			}
			if tt.cfg.File != "" {
				_, statErr := os.Stat(tt.cfg.File)
				assert.NoError(t, statErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		level, err := parseLogLevel(tt.level)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
		}
		if level != tt.expected {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, level, tt.expected)
		}
	}
}

func TestFieldsAreCopiedOnDerive(t *testing.T) {
	var buf bytes.Buffer
	zlog := zerolog.New(&buf)
	base := &zerologLogger{logger: &zlog, fields: map[string]interface{}{}}

	child := base.WithField("session_id", int64(7))
	_ = child.WithField("target", "profile:nasa")
	child.Info("lease acquired")

	out := buf.String()
	assert.Contains(t, out, `"session_id":7`)
	assert.NotContains(t, out, "profile:nasa")
	assert.Empty(t, base.fields)
}

func TestWithErrorNil(t *testing.T) {
	var buf bytes.Buffer
	zlog := zerolog.New(&buf)
	base := &zerologLogger{logger: &zlog, fields: map[string]interface{}{}}

	assert.Same(t, base, base.WithError(nil))
}

func TestLogFailureLevels(t *testing.T) {
	l := NewTestLogger()

	LogFailure(l, "cooldown", 1, "alice", errors.New("Please wait a few minutes"))
	LogFailure(l, "unclassified", 2, "bob", errors.New("unexpected EOF"))

	warns := l.GetMessagesByLevel("WARN")
	require.Len(t, warns, 1)
	assert.Equal(t, "cooldown", warns[0].Fields["failure_class"])

	errs := l.GetMessagesByLevel("ERROR")
	require.Len(t, errs, 1)
	assert.Equal(t, "unclassified", errs[0].Fields["failure_class"])
	assert.Equal(t, int64(2), errs[0].Fields["session_id"])
	assert.EqualError(t, errs[0].Error, "unexpected EOF")
}

func TestLogRequestLevels(t *testing.T) {
	l := NewTestLogger()
	LogRequest(l, "GET", "/api/v1/feed/tag/go/", 200, 12.5)
	LogRequest(l, "GET", "/api/v1/feed/tag/go/", 429, 3)
	LogRequest(l, "GET", "/api/v1/feed/tag/go/", 503, 3)

	assert.Len(t, l.GetMessagesByLevel("DEBUG"), 1)
	assert.Len(t, l.GetMessagesByLevel("WARN"), 1)
	assert.Len(t, l.GetMessagesByLevel("ERROR"), 1)
}

func TestTestLoggerSharesCapture(t *testing.T) {
	l := NewTestLogger()
	l.WithField("component", "pool").WithError(errors.New("x")).Warn("flag set")

	msgs := l.GetMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "pool", msgs[0].Fields["component"])
	assert.True(t, l.HasMessage("flag set"))
	assert.True(t, strings.Contains(l.String(), "error=x"))

	l.Clear()
	assert.Empty(t, l.GetMessages())
}

func TestGlobalLogger(t *testing.T) {
	captured := NewTestLogger()
	SetLogger(captured)
	t.Cleanup(func() { SetLogger(nil) })

	WithField("k", "v").Info("hello")
	assert.True(t, captured.HasMessage("hello"))
	assert.Same(t, captured, GetLogger())
}
