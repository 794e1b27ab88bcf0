package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[36m", // Cyan
	slog.LevelInfo:  "\033[32m", // Green
	slog.LevelWarn:  "\033[33m", // Yellow
	slog.LevelError: "\033[31m", // Red
}

const colorReset = "\033[0m"

// LoggerConfig configures a console handler
type LoggerConfig struct {
	Level      slog.Leveler
	Output     io.Writer
	Colorize   bool
	ShowCaller bool
	TimeFormat string
}

// ConsoleHandler is a slog.Handler writing prettified single-line records:
//
//	[15:04:05.000] [INFO ] [swap] message key=value key=value
//
// A "component" attribute is lifted into the bracketed prefix.
type ConsoleHandler struct {
	cfg       LoggerConfig
	mu        *sync.Mutex
	component string
	attrs     []slog.Attr
	groups    []string
}

// NewConsoleHandler creates a handler with the given configuration
func NewConsoleHandler(cfg LoggerConfig) *ConsoleHandler {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "15:04:05.000"
	}
	if cfg.Level == nil {
		cfg.Level = slog.LevelInfo
	}
	return &ConsoleHandler{cfg: cfg, mu: &sync.Mutex{}}
}

// NewLogger returns a slog.Logger over a console handler.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	return slog.New(NewConsoleHandler(cfg))
}

// DefaultLogger creates a logger with sensible defaults
func DefaultLogger(component string) *slog.Logger {
	return NewLogger(LoggerConfig{Colorize: true}).With("component", component)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(s)))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.Level.Level()
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		if a.Key == "component" && len(c.groups) == 0 {
			c.component = a.Value.String()
			continue
		}
		c.attrs = append(c.attrs, h.qualify(a))
	}
	return c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.groups = append(c.groups, name)
	return c
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	if h.cfg.Colorize {
		b.WriteString(colorFor(r.Level))
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString("[")
	b.WriteString(ts.Format(h.cfg.TimeFormat))
	b.WriteString("] ")

	b.WriteString(fmt.Sprintf("[%-5s] ", r.Level.String()))

	component := h.component
	fields := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	fields = append(fields, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" && len(h.groups) == 0 {
			component = a.Value.String()
			return true
		}
		fields = append(fields, h.qualify(a))
		return true
	})
	if component != "" {
		b.WriteString("[")
		b.WriteString(component)
		b.WriteString("] ")
	}

	b.WriteString(r.Message)

	for _, a := range fields {
		writeAttr(&b, "", a)
	}

	if h.cfg.ShowCaller && r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := frames.Next()
		parts := strings.Split(f.File, "/")
		b.WriteString(fmt.Sprintf(" (%s:%d)", parts[len(parts)-1], f.Line))
	}

	if h.cfg.Colorize {
		b.WriteString(colorReset)
	}
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.cfg.Output, b.String())
	return err
}

func (h *ConsoleHandler) clone() *ConsoleHandler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	c.groups = append([]string(nil), h.groups...)
	return &c
}

// qualify prefixes a with the open groups.
func (h *ConsoleHandler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	a.Key = strings.Join(h.groups, ".") + "." + a.Key
	return a
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	b.WriteString(" ")
	b.WriteString(key)
	b.WriteString("=")
	b.WriteString(formatValue(a.Value))
}

// formatValue formats an attribute value
func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return fmt.Sprintf("%q", v.String())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return fmt.Sprintf("%q", err.Error())
		}
		if s, ok := v.Any().(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprintf("%v", v.Any())
	default:
		return v.String()
	}
}

func colorFor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return levelColors[slog.LevelError]
	case l >= slog.LevelWarn:
		return levelColors[slog.LevelWarn]
	case l >= slog.LevelInfo:
		return levelColors[slog.LevelInfo]
	default:
		return levelColors[slog.LevelDebug]
	}
}
