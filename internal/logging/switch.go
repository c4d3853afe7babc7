package logging

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
)

// Switchable returns a logger whose output format can be changed after it
// has been handed out, e.g. once command-line flags are parsed. Loggers
// derived with With or WithGroup follow the switch.
func Switchable(format Format, w io.Writer, level slog.Leveler) (*slog.Logger, func(Format)) {
	current := &atomic.Pointer[slog.Handler]{}
	set := func(f Format) {
		h := New(f, w, level).Handler()
		current.Store(&h)
	}
	set(format)
	return slog.New(&switchHandler{current: current}), set
}

type switchHandler struct {
	current *atomic.Pointer[slog.Handler]
	derive  []func(slog.Handler) slog.Handler
}

func (s *switchHandler) handler() slog.Handler {
	h := *s.current.Load()
	for _, d := range s.derive {
		h = d(h)
	}
	return h
}

func (s *switchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*s.current.Load()).Enabled(ctx, level)
}

func (s *switchHandler) Handle(ctx context.Context, record slog.Record) error {
	return s.handler().Handle(ctx, record)
}

func (s *switchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return s.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *switchHandler) WithGroup(name string) slog.Handler {
	return s.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (s *switchHandler) with(d func(slog.Handler) slog.Handler) slog.Handler {
	derive := make([]func(slog.Handler) slog.Handler, len(s.derive), len(s.derive)+1)
	copy(derive, s.derive)
	return &switchHandler{current: s.current, derive: append(derive, d)}
}
