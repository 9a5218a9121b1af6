// Package logging builds the zap loggers used by configd and cfgctl.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps debug|info|warn|error onto a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds a logger that writes to stdout and, when sink is not nil,
// to sink as well. format is "json" or "console". service and the host name
// are attached to every entry.
func NewLogger(level, format, service string, sink io.Writer) (*zap.Logger, error) {
	return build(level, format, service, os.Stdout, sink)
}

// NewCLILogger is NewLogger for commands whose stdout carries data: entries
// go to stderr instead.
func NewCLILogger(level, format, service string, sink io.Writer) (*zap.Logger, error) {
	return build(level, format, service, os.Stderr, sink)
}

func build(level, format, service string, console *os.File, sink io.Writer) (*zap.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	out := zapcore.Lock(zapcore.AddSync(console))
	if sink != nil {
		out = zapcore.NewMultiWriteSyncer(out, zapcore.Lock(zapcore.AddSync(sink)))
	}

	core := zapcore.NewCore(encoder, out, zap.NewAtomicLevelAt(ParseLevel(level)))
	logger := zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))

	if service != "" {
		logger = logger.With(zap.String("service_name", service))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		logger = logger.With(zap.String("hostname", hostname))
	}
	return logger, nil
}
