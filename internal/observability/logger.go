// Package observability provides mediacored's structured logging:
// a slog.Logger with a runtime-adjustable level and masq-based redaction
// of sensitive attributes (fetch URLs and HLS key URIs can carry tokens).
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/mediacore/mediacore/internal/config"
)

// urlSensitiveParamPattern matches query parameters that commonly carry
// credentials in HLS segment/key URIs (signed CDN tokens, API keys).
var urlSensitiveParamPattern = regexp.MustCompile(`(?i)(token|signature|apikey|api_key|credential)=([^&\s"']+)`)

// GlobalLevel is the shared log level, adjustable at runtime without
// rebuilding the handler.
var GlobalLevel = &slog.LevelVar{}

// NewLogger builds a slog.Logger from cfg, writing to os.Stderr.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stderr)
}

// NewLoggerWithWriter builds a slog.Logger writing to w, useful for tests
// that need to inspect emitted log lines.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	GlobalLevel.Set(parseLevel(cfg.Level))

	redactor := masq.New(
		masq.WithFieldName("token"),
		masq.WithFieldName("Token"),
		masq.WithFieldName("signature"),
		masq.WithFieldName("Signature"),
		masq.WithFieldName("apikey"),
		masq.WithFieldName("ApiKey"),
	)

	opts := &slog.HandlerOptions{
		Level:     GlobalLevel,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			a = redactor(groups, a)
			if a.Value.Kind() == slog.KindString {
				if redacted := urlSensitiveParamPattern.ReplaceAllString(a.Value.String(), "$1=[REDACTED]"); redacted != a.Value.String() {
					a = slog.String(a.Key, redacted)
				}
			}
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the global log level at runtime (e.g. from an
// introspection HTTP endpoint).
func SetLevel(level string) {
	GlobalLevel.Set(parseLevel(level))
}
