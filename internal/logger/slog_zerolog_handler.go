package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogSink adapts a zerolog logger to the slog.Handler contract so that
// middleware written against *slog.Logger emits through the same sink as
// the rest of the process. Groups become dot-separated key prefixes.
type slogSink struct {
	zl     *zerolog.Logger
	prefix string
	fields []slog.Attr
}

// NewSlog wraps the zerolog logger in an slog front end.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&slogSink{zl: zl})
}

func (s *slogSink) Enabled(_ context.Context, l slog.Level) bool {
	return toZerolog(l) >= zerolog.GlobalLevel()
}

func toZerolog(l slog.Level) zerolog.Level {
	switch {
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (s *slogSink) Handle(ctx context.Context, r slog.Record) error {
	base := FromContext(ctx, s.zl)
	ev := base.WithLevel(toZerolog(r.Level))

	// stored fields carry their prefix from the time they were attached
	for _, a := range s.fields {
		ev = writeAttr(ev, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = writeAttr(ev, s.prefix, a)
		return true
	})

	ev.Msg(r.Message)
	return nil
}

func (s *slogSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *s
	cp.fields = make([]slog.Attr, 0, len(s.fields)+len(attrs))
	cp.fields = append(cp.fields, s.fields...)
	for _, a := range attrs {
		a.Key = s.prefix + a.Key
		cp.fields = append(cp.fields, a)
	}
	return &cp
}

func (s *slogSink) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	cp := *s
	cp.prefix = s.prefix + name + "."
	return &cp
}

func writeAttr(ev *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	key := prefix + a.Key
	switch a.Value.Kind() {
	case slog.KindString:
		return ev.Str(key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Dur(key, a.Value.Duration())
	case slog.KindTime:
		return ev.Time(key, a.Value.Time())
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			ev = writeAttr(ev, key+".", ga)
		}
		return ev
	default:
		return ev.Interface(key, a.Value.Any())
	}
}
