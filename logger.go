package relay

import (
	"fmt"
	"io"
	"log/syslog"

	"codeberg.org/gruf/go-kv"
	"codeberg.org/gruf/go-logger/v2"
	"codeberg.org/gruf/go-logger/v2/level"
)

// Logger is the explicit logging capability every component that emits
// takes as a constructor argument (Server, Session, the dialer). A nil
// *Logger means logging is disabled: every method checks for a nil
// receiver before touching fields, so "disabled" stays a zero-cost branch
// with no global mutable logging state.
type Logger struct {
	l *logger.Logger
}

// NewLogger builds a Logger writing key-value formatted entries to w.
// Passing a nil io.Writer here would be a programming error; callers that
// want logging disabled simply pass around a nil *Logger instead.
func NewLogger(w io.Writer) *Logger {
	return &Logger{
		l: logger.NewWith(w, logger.Config{Calldepth: 1}, level.ALL, logger.Flags(0).SetTime()),
	}
}

// NewSyslogLogger opens a syslog connection under identifier and returns a
// Logger that writes into it. This is the sink wired up when --verbose is
// given; identifier is always "progdn-rvi".
func NewSyslogLogger(identifier string) (*Logger, error) {
	w, err := syslog.New(syslog.LOG_USER, identifier)
	if err != nil {
		return nil, fmt.Errorf("relay: opening syslog: %w", err)
	}
	return NewLogger(w), nil
}

func (lg *Logger) Debug(fields ...kv.Field) {
	if lg == nil {
		return
	}
	lg.l.DebugKVs(fields...)
}

func (lg *Logger) Info(fields ...kv.Field) {
	if lg == nil {
		return
	}
	lg.l.InfoKVs(fields...)
}

func (lg *Logger) Warn(fields ...kv.Field) {
	if lg == nil {
		return
	}
	lg.l.WarnKVs(fields...)
}

func (lg *Logger) Error(fields ...kv.Field) {
	if lg == nil {
		return
	}
	lg.l.ErrorKVs(fields...)
}
