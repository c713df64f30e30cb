package utils

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
)

// LogOptions selects the global logger's level and sinks.
type LogOptions struct {
	Debug bool
	// File is an extra JSON sink next to stdout. Empty disables it.
	File string
	// ErrorFile receives error-level output in addition to stderr.
	ErrorFile string
}

// NewLogger builds a production JSON logger with ISO8601 timestamps.
func NewLogger(opts LogOptions) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if opts.Debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	if opts.File != "" {
		config.OutputPaths = append(config.OutputPaths, opts.File)
	}
	if opts.ErrorFile != "" {
		config.ErrorOutputPaths = append(config.ErrorOutputPaths, opts.ErrorFile)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.StacktraceKey = "stacktrace"

	return config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
}

// InitLogger initializes the global logger instance. Later calls return the
// first logger.
func InitLogger(opts LogOptions) *zap.Logger {
	once.Do(func() {
		logger, err := NewLogger(opts)
		if err != nil {
			panic(err)
		}
		log = logger
		zap.ReplaceGlobals(logger)
	})

	return log
}

// CleanupLogger flushes any buffered log entries
func CleanupLogger() {
	if log != nil {
		_ = log.Sync()
	}
}
