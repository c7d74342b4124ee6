package monitoring

import (
	"fmt"
	"log"
	"log/slog"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// UseSlog routes Logf through a structured logger at info level. The
// formatted line becomes the record message.
func UseSlog(l *slog.Logger) {
	if l == nil {
		SetLogger(nil)
		return
	}
	SetLogger(func(format string, v ...interface{}) {
		l.Info(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
	})
}

// Tagged returns a logger that prefixes every line with "[tag] ". The package
// logger is looked up on each call so later SetLogger calls still apply.
func Tagged(tag string) func(format string, v ...interface{}) {
	prefix := "[" + tag + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
