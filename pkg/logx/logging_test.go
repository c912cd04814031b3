package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "INFO").With(String("comp", "poller"))

	log.Debug("hidden")
	log.Info("pass finished", Int("regions", 2), Bool("aborted", false), Duration("took", time.Second))
	log.Warn("query failed", Err(errors.New("boom")))

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %s", len(lines), buf.String())
	}
	if lines[0]["comp"] != "poller" || lines[0]["regions"] != float64(2) || lines[0]["message"] != "pass finished" {
		t.Fatalf("first line = %v", lines[0])
	}
	if lines[1]["err"] != "boom" || lines[1]["level"] != "warn" {
		t.Fatalf("second line = %v", lines[1])
	}
	if c, _ := lines[0]["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestWithDoesNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "DEBUG")
	_ = base.With(String("a", "1"))
	base.Info("plain")

	lines := decodeLines(t, buf.Bytes())
	if _, ok := lines[0]["a"]; ok {
		t.Fatalf("parent logger picked up child field: %v", lines[0])
	}
}

func TestZeroAndNopLoggersAreSafe(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	zero.Info("nothing", String("k", "v"))
	Nop().Error("nothing")
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
}

func TestErrNilIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "DEBUG").Info("ok", Err(nil))
	if strings.Contains(buf.String(), `"err"`) {
		t.Fatalf("nil error logged: %s", buf.String())
	}
}

func TestFormatTelegramLine(t *testing.T) {
	got := formatTelegramLine([]byte(`{"level":"error","time":"x","message":"send failed","region":"30000","comp":"notifier"}`))
	want := "[ERROR] send failed\n- comp=notifier\n- region=30000"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := formatTelegramLine([]byte("not json\n")); got != "not json" {
		t.Fatalf("raw line = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefghijklmnop", 12); got != "abcdefghi..." {
		t.Fatalf("got %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("got %q", got)
	}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	chat []string
}

func (f *fakeSender) SendText(_ context.Context, chatID, text, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chat = append(f.chat, chatID)
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestTelegramSinkHonorsMinLevel(t *testing.T) {
	fs := &fakeSender{}
	svc, log := New(Config{
		Level: "DEBUG",
		File:  FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "x.log")},
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     "-100",
			MinLevel:   "ERROR",
			RatePerSec: 100,
		},
	}, fs)
	defer svc.Close()

	log.Warn("below threshold")
	log.Error("query failed", String("region", "30000"))

	deadline := time.Now().Add(2 * time.Second)
	for fs.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.sent) != 1 {
		t.Fatalf("sent = %v", fs.sent)
	}
	if fs.chat[0] != "-100" || !strings.HasPrefix(fs.sent[0], "[ERROR] query failed") {
		t.Fatalf("sent %q to %q", fs.sent[0], fs.chat[0])
	}
}

func TestFileSinkAndApply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "impfwatch.log")
	svc, log := New(Config{Level: "INFO", File: FileConfig{Enabled: true, Path: path}}, nil)
	defer svc.Close()

	log.Debug("dropped")
	log.Info("kept")
	svc.Apply(Config{Level: "DEBUG", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now visible")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	s := string(b)
	if strings.Contains(s, "dropped") || !strings.Contains(s, "kept") || !strings.Contains(s, "now visible") {
		t.Fatalf("log file = %s", s)
	}
}
