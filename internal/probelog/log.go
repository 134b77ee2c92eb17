// Package probelog wraps logrus with the small, fixed set of structured
// fields this firmware's components attach to diagnostics: which
// subsystem raised the message, the arbiter holder tag, and the active
// target family. Grounded on the one USB debug-probe driver in the
// example pack (bbnote/gostlink) pulling in sirupsen/logrus plus the
// x-cray prefixed formatter for readable component-tagged console output.
package probelog

import (
	"os"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Logger is a component-scoped logrus entry.
type Logger struct {
	*logrus.Entry
}

// New returns a Logger tagged with component, sharing a single underlying
// logrus.Logger so that log level and output destination are controlled
// from one place (cmd/probe's composition root).
func New(base *logrus.Logger, component string) *Logger {
	return &Logger{Entry: base.WithField("component", component)}
}

// NewBase constructs the shared logrus.Logger used by all components. The
// probe writes to whatever the board wires as stderr (a CDC debug channel,
// semihosting, or /dev/null on boards with no console).
func NewBase(level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&prefixed.TextFormatter{
		DisableTimestamp: false,
		ForceFormatting:  true,
	})
	l.SetOutput(os.Stderr)
	l.SetLevel(level)
	return l
}

// WithFields is a typed convenience wrapper so call sites don't need to
// import logrus.Fields directly.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Entry.WithFields(logrus.Fields(fields))
}
