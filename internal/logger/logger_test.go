package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestWithRequestID_PropagatesAndMints(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	if got := RequestID(ctx); got != "abc" {
		t.Fatalf("request id=%q want abc", got)
	}

	minted := WithRequestID(context.Background(), "")
	if RequestID(minted) == "" {
		t.Fatalf("no id minted for empty input")
	}
	if RequestID(context.Background()) != "" {
		t.Fatalf("bare context has an id")
	}
}

func TestNewID_UniqueHex(t *testing.T) {
	a, b := NewID(), NewID()
	if len(a) != 16 || a == b {
		t.Fatalf("ids %q %q", a, b)
	}
}

func TestBuild_JSONFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := Build(Config{Level: "warn"}, &buf)

	log.Info().Msg("dropped")
	log.Warn().Str("k", "v").Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line passed warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"kept"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("field names wrong: %s", out)
	}
	if !strings.Contains(out, `"timestamp"`) {
		t.Fatalf("timestamp missing: %s", out)
	}
}

func TestNewSlog_LevelsAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "req-3")
	log.DebugContext(ctx, "dropped")
	log.WarnContext(ctx, "kept", "attempt", 2)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug line passed info level: %s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"msg":"kept"`) {
		t.Fatalf("warn line wrong: %s", out)
	}
	if !strings.Contains(out, `"attempt":2`) || !strings.Contains(out, `"request_id":"req-3"`) {
		t.Fatalf("attrs missing: %s", out)
	}
}

func TestNewSlog_GroupsPrefixKeys(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	log := NewSlog(&zl).WithGroup("http").With("method", "GET")

	log.Info("done", slog.Group("peer", slog.String("addr", "10.0.0.1")))

	out := buf.String()
	if !strings.Contains(out, `"http.method":"GET"`) {
		t.Fatalf("group prefix missing on logger attr: %s", out)
	}
	if !strings.Contains(out, `"http.peer.addr":"10.0.0.1"`) {
		t.Fatalf("nested group prefix missing: %s", out)
	}
}

func TestNewSlog_DurationAttr(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	log := NewSlog(&zl)

	log.Info("timed", slog.Duration("elapsed", 1500*time.Millisecond))

	if !strings.Contains(buf.String(), `"elapsed":1500`) {
		t.Fatalf("duration not rendered in ms: %s", buf.String())
	}
}

func TestFromContext_AttachesRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := Build(Config{Level: "info"}, &buf)

	ctx := WithRequestID(context.Background(), "req-9")
	FromContext(ctx, &log).Info().Msg("hello")

	if !strings.Contains(buf.String(), `"request_id":"req-9"`) {
		t.Fatalf("request id missing: %s", buf.String())
	}
}
