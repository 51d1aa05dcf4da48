package logger

import (
	"context"
	"io"
	"os"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

type contextKey struct{}

// Fields is an alias for the logrus field map.
type Fields = log.Fields

// Config stores the logging part of an application configuration.
type Config struct {
	Output   string `toml:"output"`
	Severity string `toml:"severity"`
}

// Init sets up a bare-bones logger suitable for the time before the
// configuration file has been parsed.
func Init() {
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	log.SetOutput(os.Stderr)
	log.SetLevel(log.ErrorLevel)
}

// Setup reconfigures the standard logger from the parsed configuration.
func Setup(conf Config) error {
	var w io.Writer
	switch conf.Output {
	case "", "stderr", "error", "2":
		w = os.Stderr
	case "stdout", "out", "1":
		w = os.Stdout
	default:
		f, err := os.OpenFile(conf.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return trace.Wrap(err, "failed to create the log file")
		}
		w = f
	}
	log.SetOutput(w)

	switch conf.Severity {
	case "", "info":
		log.SetLevel(log.InfoLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		return trace.BadParameter("unknown severity %q", conf.Severity)
	}
	return nil
}

// Standard returns the process-wide default logger.
func Standard() log.FieldLogger {
	return log.StandardLogger()
}

// Get returns the logger stored in the context, falling back to the standard
// one.
func Get(ctx context.Context) log.FieldLogger {
	if logger, ok := ctx.Value(contextKey{}).(log.FieldLogger); ok {
		return logger
	}
	return Standard()
}

// Set returns a context carrying the given logger.
func Set(ctx context.Context, logger log.FieldLogger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// WithField returns a context whose logger is annotated with the given field,
// along with that logger.
func WithField(ctx context.Context, key string, value interface{}) (context.Context, log.FieldLogger) {
	logger := Get(ctx).WithField(key, value)
	return Set(ctx, logger), logger
}

// WithFields returns a context whose logger is annotated with the given
// fields, along with that logger.
func WithFields(ctx context.Context, fields Fields) (context.Context, log.FieldLogger) {
	logger := Get(ctx).WithFields(fields)
	return Set(ctx, logger), logger
}
