package restwrap

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel tags a log line with the direction of the traffic it describes.
type LogLevel int

const (
	LevelNone LogLevel = iota
	LevelSend
	LevelReceive
)

func (l LogLevel) String() string {
	switch l {
	case LevelSend:
		return "send"
	case LevelReceive:
		return "receive"
	default:
		return ""
	}
}

// LogConfig selects the sinks a single log line goes to.
type LogConfig struct {
	Console bool
	File    bool
}

// DefaultLogConfig logs to the console only.
var DefaultLogConfig = LogConfig{Console: true, File: false}

// Enabled reports whether any sink is selected.
func (c LogConfig) Enabled() bool {
	return c.Console || c.File
}

// Logger is the logging boundary of the dispatcher. Implementations must not
// block for long and must not panic.
type Logger interface {
	Log(message string, level LogLevel, cfg LogConfig)
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Log(string, LogLevel, LogConfig) {}

// LoggerConfig configures a ZeroLogger.
type LoggerConfig struct {
	Level    string // debug, info, warn, error
	FilePath string // file sink; empty disables it
	Pretty   bool   // human readable console output
	Out      io.Writer
}

// ZeroLogger writes dispatcher log lines through zerolog. Console and file
// sinks are separate loggers so each call can pick either or both.
type ZeroLogger struct {
	console zerolog.Logger
	file    *zerolog.Logger
	f       *os.File
}

// NewLogger creates a ZeroLogger. Out defaults to os.Stdout.
func NewLogger(cfg LoggerConfig) (*ZeroLogger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	l := &ZeroLogger{
		console: zerolog.New(out).Level(level).With().Timestamp().Logger(),
	}

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		fl := zerolog.New(f).Level(level).With().Timestamp().Logger()
		l.file = &fl
		l.f = f
	}

	return l, nil
}

func (l *ZeroLogger) Log(message string, level LogLevel, cfg LogConfig) {
	if cfg.Console {
		emit(l.console, message, level)
	}
	if cfg.File && l.file != nil {
		emit(*l.file, message, level)
	}
}

func emit(z zerolog.Logger, message string, level LogLevel) {
	var ev *zerolog.Event
	if level == LevelNone {
		ev = z.Warn()
	} else {
		ev = z.Info().Str("dir", level.String())
	}
	ev.Msg(message)
}

// Close closes the file sink, if any.
func (l *ZeroLogger) Close() error {
	if l.f != nil {
		return l.f.Close()
	}
	return nil
}

// =============================================================================
// Line Formatting
// =============================================================================

// formatURLLine renders " [+] (label) Post -> https://...".
func formatURLLine(label, method, url string) string {
	return fmt.Sprintf(" [+] %s %s -> %s", labelText(label), titleCase(method), url)
}

// formatBodyLine renders a request body as JSON, falling back to its raw text.
func formatBodyLine(label string, body any) string {
	var text string
	switch b := body.(type) {
	case string:
		text = b
	case []byte:
		text = string(b)
	case json.RawMessage:
		text = string(b)
	default:
		if data, err := json.Marshal(body); err == nil {
			text = string(data)
		} else {
			text = fmt.Sprint(body)
		}
	}
	return fmt.Sprintf(" [+] %s %s", labelText(label), text)
}

func formatResponseLine(label, text string) string {
	return fmt.Sprintf(" [+] %s Response <- %s", labelText(label), text)
}

func labelText(label string) string {
	if label == "" {
		label = "restwrap"
	}
	return "(" + label + ")"
}

func titleCase(method string) string {
	if method == "" {
		return method
	}
	lower := strings.ToLower(method)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
