package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// stateAttr matches unquoted values of the attributes the supervisor uses for
// services and transitions. Quoted values are left alone.
var stateAttr = regexp.MustCompile(`(^| )(service|from|to|state)=([A-Za-z0-9._-]+)`)

// ColorTextHandler renders records as "time LEVEL  message key=value..." for a
// terminal. Levels, service names and state transitions are colored; the
// remaining attributes are formatted by slog.TextHandler.
type ColorTextHandler struct {
	mu       *sync.Mutex
	buf      *bytes.Buffer
	w        io.Writer
	attrs    slog.Handler
	showTime bool
}

// NewColorTextHandler creates a ColorTextHandler writing to w. Attributes
// added with WithAttrs or WithGroup keep their colors.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	var o slog.HandlerOptions
	if opts != nil {
		o = *opts
	}
	userReplace := o.ReplaceAttr
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 {
			switch a.Key {
			case slog.TimeKey, slog.LevelKey, slog.MessageKey:
				return slog.Attr{}
			}
		}
		if userReplace != nil {
			return userReplace(groups, a)
		}
		return a
	}
	buf := &bytes.Buffer{}
	return &ColorTextHandler{
		mu:       &sync.Mutex{},
		buf:      buf,
		w:        w,
		attrs:    slog.NewTextHandler(buf, &o),
		showTime: showTime,
	}
}

func (h *ColorTextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.attrs.Enabled(ctx, l)
}

func (h *ColorTextHandler) WithAttrs(as []slog.Attr) slog.Handler {
	c := *h
	c.attrs = h.attrs.WithAttrs(as)
	return &c
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.attrs = h.attrs.WithGroup(name)
	return &c
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf.Reset()
	if err := h.attrs.Handle(ctx, r); err != nil {
		return err
	}
	rest := strings.TrimSpace(h.buf.String())

	var line strings.Builder
	if h.showTime && !r.Time.IsZero() {
		line.WriteString(ansiDim)
		line.WriteString(r.Time.Format("2006-01-02 15:04:05.000"))
		line.WriteString(ansiReset)
		line.WriteByte(' ')
	}
	line.WriteString(levelColor(r.Level))
	line.WriteString(r.Level.String())
	line.WriteString(ansiReset)
	line.WriteString("  ")
	line.WriteString(r.Message)
	if rest != "" {
		line.WriteByte(' ')
		line.WriteString(colorAttrs(rest))
	}
	line.WriteByte('\n')
	_, err := io.WriteString(h.w, line.String())
	return err
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return ansiRed
	case l >= slog.LevelWarn:
		return ansiYellow
	case l >= slog.LevelInfo:
		return ansiGreen
	default:
		return ansiCyan
	}
}

// stateColor covers both service states and history sink breaker states.
func stateColor(v string) string {
	switch v {
	case "running", "closed":
		return ansiGreen
	case "starting", "stopping", "half-open":
		return ansiYellow
	case "failed", "open":
		return ansiRed
	default:
		return ansiDim
	}
}

func colorAttrs(s string) string {
	return stateAttr.ReplaceAllStringFunc(s, func(m string) string {
		sub := stateAttr.FindStringSubmatch(m)
		color := ansiBold + ansiCyan
		if sub[2] != "service" {
			color = stateColor(sub[3])
		}
		return sub[1] + sub[2] + "=" + color + sub[3] + ansiReset
	})
}
