// Package logging provides the log sink every ZenTalk peer component writes to.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink receives informational, warning and error output. Warnings and errors
// take a message, an error, or both; a nil error is allowed.
type Sink interface {
	LogInformation(msg string)
	LogWarning(msg string, err error)
	LogError(msg string, err error)
}

// Options configures a Logger
type Options struct {
	Verbose bool
	JSON    bool

	// File enables rotating file output in addition to stderr
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Output replaces stderr, mainly for tests
	Output io.Writer
}

// Logger is a Sink backed by logrus
type Logger struct {
	entry  *logrus.Entry
	closer io.Closer
}

// New creates a Logger from options
func New(opts Options) *Logger {
	base := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		out = io.MultiWriter(out, rotator)
		closer = rotator
	}
	base.SetOutput(out)

	if opts.JSON {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.Verbose {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}

	return &Logger{entry: logrus.NewEntry(base), closer: closer}
}

// Discard returns a Logger that drops everything
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	base.SetLevel(logrus.PanicLevel)
	return &Logger{entry: logrus.NewEntry(base)}
}

// With returns a child Logger carrying extra fields
func (l *Logger) With(fields logrus.Fields) *Logger {
	return &Logger{entry: l.entry.WithFields(fields), closer: l.closer}
}

// WithComponent tags every entry with a component name
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(logrus.Fields{"component": name})
}

// Debugf logs at debug level; only visible when Verbose is set
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) LogInformation(msg string) {
	l.entry.Info(msg)
}

func (l *Logger) LogWarning(msg string, err error) {
	l.withError(err).Warn(msg)
}

func (l *Logger) LogError(msg string, err error) {
	l.withError(err).Error(msg)
}

// Close releases the rotating file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) withError(err error) *logrus.Entry {
	if err == nil {
		return l.entry
	}
	return l.entry.WithError(err)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Debugf logs through sink at debug level when the sink supports it
func Debugf(sink Sink, format string, args ...interface{}) {
	if d, ok := sink.(interface {
		Debugf(format string, args ...interface{})
	}); ok {
		d.Debugf(format, args...)
	}
}
