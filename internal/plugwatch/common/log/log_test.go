package log

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testLogger struct {
	name    string
	entries *[]string
}

func newTestLogger() *testLogger { return &testLogger{entries: &[]string{}} }

func (l *testLogger) add(level, msg string) {
	prefix := level
	if l.name != "" {
		prefix += "[" + l.name + "]"
	}
	*l.entries = append(*l.entries, prefix+":"+msg)
}

func (l *testLogger) Info(_ map[string]any, msg string)  { l.add("INFO", msg) }
func (l *testLogger) Error(_ map[string]any, msg string) { l.add("ERROR", msg) }
func (l *testLogger) Debug(_ map[string]any, msg string) { l.add("DEBUG", msg) }
func (l *testLogger) Warn(_ map[string]any, msg string)  { l.add("WARN", msg) }
func (l *testLogger) Named(name string) Logger {
	return &testLogger{name: name, entries: l.entries}
}

func TestActualZapLogger(t *testing.T) {
	// test with fields and message
	Debug(map[string]any{
		"key1": "value1",
		"key2": 42,
		"key3": true,
		"err":  errors.New("boom"),
	}, "test debug")
	// test with just a message
	Info(nil, "test info")
	Warn(nil, "test warn")
	Error(nil, "test error")
	Named("hosts").Info(nil, "named info")
}

func TestSetLoggerAndGlobalLogging(t *testing.T) {
	orig := GetLogger()
	defer func() {
		SetLogger(orig)
	}()
	tlog := newTestLogger()
	SetLogger(tlog)

	Info(nil, "info msg")
	Error(nil, "error msg")
	Debug(nil, "debug msg")
	Warn(nil, "warn msg")
	Named("device").Error(nil, "unreachable")

	expected := []string{
		"INFO:info msg",
		"ERROR:error msg",
		"DEBUG:debug msg",
		"WARN:warn msg",
		"ERROR[device]:unreachable",
	}

	if len(*tlog.entries) != len(expected) {
		t.Fatalf("expected %d log entries, got %d", len(expected), len(*tlog.entries))
	}
	for i, msg := range expected {
		if (*tlog.entries)[i] != msg {
			t.Errorf("expected log[%d] = %q, got %q", i, msg, (*tlog.entries)[i])
		}
	}
}

func TestConfigure_ValidLevels(t *testing.T) {
	orig := GetLogger()
	defer func() {
		SetLogger(orig)
	}()

	if err := Configure("dev", "debug"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := Configure("prod", "info"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConfigure_InvalidLevel(t *testing.T) {
	orig := GetLogger()
	defer func() {
		SetLogger(orig)
	}()

	if err := Configure("dev", "notalevel"); err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestConfigure_FileOutputCarriesComponentName(t *testing.T) {
	orig := GetLogger()
	defer func() {
		SetLogger(orig)
	}()

	path := filepath.Join(t.TempDir(), "plugwatch.log")
	if err := Configure("prod", "info", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	Named("dns-cache").Warn(map[string]any{"attempt": 1}, "flush failed")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"component":"dns-cache"`) {
		t.Errorf("expected component name in output, got %q", out)
	}
	if !strings.Contains(out, `"msg":"flush failed"`) {
		t.Errorf("expected message in output, got %q", out)
	}
}

func TestNoopLogger_TestAllLevels(t *testing.T) {
	orig := GetLogger()
	defer func() {
		SetLogger(orig)
	}()
	SetLogger(NewNoopLogger())

	Debug(nil, "debug message")
	Info(nil, "info message")
	Warn(nil, "warn message")
	Error(nil, "error message")
	Named("x").Info(nil, "named")
}
