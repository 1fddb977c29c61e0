package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls where and how loudly the CLI logs.
type Options struct {
	Path         string // JSON log file; empty disables the file core
	Level        string // file core level
	ConsoleLevel zapcore.Level
	RunID        string
}

// ConsoleLevel maps the CLI verbosity flags to a stderr level.
func ConsoleLevel(verbose, quiet bool) zapcore.Level {
	switch {
	case quiet:
		return zapcore.ErrorLevel
	case verbose:
		return zapcore.DebugLevel
	default:
		return zapcore.WarnLevel
	}
}

// CloseFunc releases the log file opened by New.
type CloseFunc func() error

func noClose() error { return nil }

// New creates a zap logger that writes JSON to opts.Path and human-readable
// lines to stderr. The run id and PID are included as initial fields. The
// returned CloseFunc syncs and closes the log file; the logger must not be
// used after it.
func New(opts Options) (*zap.Logger, CloseFunc, error) {
	fileLevel, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := encoderCfg
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), opts.ConsoleLevel),
	}

	closeFn := CloseFunc(noClose)
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
			return nil, nil, err
		}
		file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), fileLevel))
		closeFn = func() error {
			_ = file.Sync()
			return file.Close()
		}
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.Fields(
			zap.String("run", opts.RunID),
			zap.Int("pid", os.Getpid()),
		),
	)
	return logger, closeFn, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
