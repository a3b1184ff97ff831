// Package log configures the process-wide slog logger shared by every responder component.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const ServiceName = "responder"

// Options select how log lines are written.
type Options struct {
	Level  string // debug, info, warn or error
	Format string // text or json
}

// ParseLevel accepts debug, info, warn and error in any case. An empty level means info.
func ParseLevel(level string) (slog.Level, error) {
	if strings.TrimSpace(level) == "" {
		return slog.LevelInfo, nil
	}

	var parsed slog.Level

	err := parsed.UnmarshalText([]byte(strings.TrimSpace(level)))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
	}

	return parsed, nil
}

// Setup installs the default logger writing to w. Every line carries the service name and a
// UTC timestamp so lines from several hosts can be merged.
func Setup(w io.Writer, opts Options) error {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	handlerOptions := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) == 0 && attr.Key == slog.TimeKey && attr.Value.Kind() == slog.KindTime {
				attr.Value = slog.TimeValue(attr.Value.Time().UTC())
			}

			return attr
		},
	}

	var handler slog.Handler

	switch strings.ToLower(opts.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOptions)
	case "json":
		handler = slog.NewJSONHandler(w, handlerOptions)
	default:
		return fmt.Errorf("invalid log format %q", opts.Format)
	}

	slog.SetDefault(slog.New(handler).With("service", ServiceName))

	return nil
}

// WithModule returns the default logger tagged with the component name.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
