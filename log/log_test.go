package log

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
)

// TestAllLevelsWrite exercises every wrapper function against a file output,
// so a regression in how the global logger is bound shows up as a build or
// output failure here rather than in a consumer package.
func TestAllLevelsWrite(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(t.TempDir(), "out.log")
	Init(LogLevelDebug, path)
	c.Assert(Level(), qt.Equals, LogLevelDebug)

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")
	Debugf("formatted %s %d", "debug", 1)
	Infof("formatted %s %d", "info", 2)
	Warnf("formatted %s %d", "warn", 3)
	Errorf("formatted %s %d", "error", 4)
	Debugw("structured debug", "key", "dv")
	Infow("structured info", "count", 7)
	Warnw("structured warn", "key", "wv")
	Errorw(errors.New("boom"), "structured error")

	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	out := string(data)
	for _, want := range []string{
		"debug message", "info message", "warn message", "error message",
		"formatted info 2", "formatted error 4",
		"structured debug", "structured info", "structured warn",
		"structured error", "boom",
	} {
		c.Assert(strings.Contains(out, want), qt.IsTrue,
			qt.Commentf("log output missing %q:\n%s", want, out))
	}
}

func TestLevelFiltering(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(t.TempDir(), "out.log")
	Init(LogLevelWarn, path)
	c.Assert(Level(), qt.Equals, LogLevelWarn)

	Info("filtered out")
	Warn("kept")

	data, err := os.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(strings.Contains(string(data), "filtered out"), qt.IsFalse)
	c.Assert(strings.Contains(string(data), "kept"), qt.IsTrue)
}

func TestLoggerAccessor(t *testing.T) {
	c := qt.New(t)
	Init(LogLevelInfo, "stderr")
	c.Assert(Logger(), qt.IsNotNil)
	c.Assert(Level(), qt.Equals, LogLevelInfo)
}
