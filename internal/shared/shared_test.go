package shared

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

func TestParseLogLevel(t *testing.T) {
	tc := []struct {
		name string
		in   string
		want log.Level
	}{
		{name: "empty", in: "", want: log.InfoLevel},
		{name: "debug", in: "debug", want: log.DebugLevel},
		{name: "warn", in: "warn", want: log.WarnLevel},
		{name: "unknown falls back to info", in: "chatty", want: log.InfoLevel},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLogLevel(tt.in); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromMillis(t *testing.T) {
	if !FromMillis(0).IsZero() {
		t.Error("expected zero time for 0")
	}

	now := time.Now().Truncate(time.Millisecond)
	if got := FromMillis(now.UnixMilli()); !got.Equal(now) {
		t.Errorf("FromMillis() = %v, want %v", got, now)
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Error("expected distinct ids")
	}
	id, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("expected a uuid, got %q: %v", a, err)
	}
	if id.Version() != 4 {
		t.Errorf("expected v4 uuid, got v%d", id.Version())
	}
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "murmur.log")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	WithLogger(logger, "component", "test").Info("drain finished")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.Contains(string(content), "drain finished") || !strings.Contains(string(content), "component=test") {
		t.Errorf("unexpected log output: %s", content)
	}
}
