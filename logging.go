package trfb

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Logger is the structured logging seam threaded through Server and
// Connection, replacing the teacher's bare package-level log.Printf
// calls with an injected dependency per connection/server construction.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// zapLogger backs Logger with go.uber.org/zap's structured logger for
// embedders that want real log levels, sampling, and encoders.
type zapLogger struct {
	z *zap.SugaredLogger
}

// NewZapLogger adapts an existing *zap.SugaredLogger.
func NewZapLogger(z *zap.SugaredLogger) Logger {
	return &zapLogger{z: z}
}

// NewProductionLogger builds a Logger backed by zap's production config
// (JSON encoding, info level, stderr).
func NewProductionLogger() Logger {
	z, err := zap.NewProduction()
	if err != nil {
		return NewDefaultLogger()
	}
	return NewZapLogger(z.Sugar())
}

// NewDevelopmentLogger builds a Logger backed by zap's development
// config (console encoding, debug level, stacktraces on warn).
func NewDevelopmentLogger() Logger {
	z, err := zap.NewDevelopment()
	if err != nil {
		return NewDefaultLogger()
	}
	return NewZapLogger(z.Sugar())
}

func (l *zapLogger) Infof(format string, args ...interface{})  { l.z.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.z.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.z.Errorf(format, args...) }

// Sink is the embedding API's logging hook as described by the spec: a
// function accepting a single message whose first two bytes are "I:",
// "W:", or "E:".
type Sink func(msg string)

// sinkLogger adapts a raw Sink into a Logger, reproducing the severity
// prefix contract.
type sinkLogger struct {
	sink Sink
}

// NewSinkLogger wraps a legacy severity-prefixed sink as a Logger. This
// is the escape hatch for embedders that already have their own logging
// plumbing and just want the three-line contract from spec.md §6.
func NewSinkLogger(sink Sink) Logger {
	if sink == nil {
		sink = defaultSink
	}
	return &sinkLogger{sink: sink}
}

func defaultSink(msg string) {
	fmt.Fprintln(os.Stderr, msg)
}

// NewDefaultLogger returns the process default: severity-prefixed lines
// on stderr.
func NewDefaultLogger() Logger {
	return NewSinkLogger(defaultSink)
}

func (l *sinkLogger) Infof(format string, args ...interface{}) {
	l.sink("I: " + fmt.Sprintf(format, args...))
}

func (l *sinkLogger) Warnf(format string, args ...interface{}) {
	l.sink("W: " + fmt.Sprintf(format, args...))
}

func (l *sinkLogger) Errorf(format string, args ...interface{}) {
	l.sink("E: " + fmt.Sprintf(format, args...))
}

// nopLogger discards everything; useful in tests that don't want stderr
// noise.
type nopLogger struct{}

// NewNopLogger returns a Logger that discards all messages.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
