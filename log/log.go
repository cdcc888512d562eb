package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gammadia/tune/flags"
	"github.com/spf13/viper"
)

// For some reason, gopls imports a bad package when using a package-global variable 'log'
// Let's move it to an actual package so that it doesn't get confused...

// Base is a bare logger without attributes
var Base = slog.New(slog.NewTextHandler(io.Discard, nil))

// logger is the logger of the running binary, with its component attribute
var logger = Base

type Options struct {
	Format string
	Level  string
	Source bool
}

// New creates a logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(opts.Level)); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	options := slog.HandlerOptions{
		AddSource: opts.Source,
		Level:     logLevel,
	}

	switch opts.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &options)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, &options)), nil
	default:
		return nil, fmt.Errorf("unknown log format '%s'", opts.Format)
	}
}

// Init sets up the package loggers from the logging flags.
func Init(v *viper.Viper, w io.Writer, component string) error {
	base, err := New(w, Options{
		Format: v.GetString(flags.LogFormat),
		Level:  v.GetString(flags.LogLevel),
		Source: v.GetBool(flags.LogSource),
	})
	if err != nil {
		return err
	}

	Base = base
	logger = Base.With("component", component)
	return nil
}

// Proxies for slog.Logger methods

func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	logger.InfoContext(ctx, msg, args...)
}

func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}

func With(args ...any) *slog.Logger {
	return logger.With(args...)
}
