package mosaic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dynraster/tileserv/internal/errs"
)

func newStoreWithRedis(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	s, err := NewStore(rc, 8)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestFileBackend_WriteReadRoundTrip(t *testing.T) {
	s, err := NewStore(nil, 8)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ref := filepath.Join(t.TempDir(), "mosaic.json")
	m := testManifest()
	if err := s.Write(ctx, ref, m, false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Overwrite without the flag fails, with it succeeds.
	if err := s.Write(ctx, ref, m, false); err == nil {
		t.Fatalf("overwrite without flag accepted")
	}
	if err := s.Write(ctx, ref, m, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := s.Read(ctx, ref)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.MinZoom != m.MinZoom || len(got.Tiles) != len(m.Tiles) {
		t.Fatalf("got %+v want %+v", got, m)
	}
}

func TestFileBackend_GzipRoundTrip(t *testing.T) {
	s, err := NewStore(nil, 8)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ref := filepath.Join(t.TempDir(), "mosaic.json.gz")
	if err := s.Write(ctx, ref, testManifest(), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(ctx, ref)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.MosaicJSON != "0.0.3" {
		t.Fatalf("got %+v", got)
	}
}

func TestFileBackend_Missing424(t *testing.T) {
	s, _ := NewStore(nil, 8)
	ctx := context.Background()
	_, err := s.Read(ctx, filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatalf("missing manifest accepted")
	}
	if errs.StatusOf(err) != http.StatusFailedDependency {
		t.Fatalf("status=%d want 424", errs.StatusOf(err))
	}
}

func TestRedisBackend_RoundTripAndKeying(t *testing.T) {
	s := newStoreWithRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ref := "redis://localhost:6379/mosaics/demo"
	if err := s.Write(ctx, ref, testManifest(), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(ctx, ref, testManifest(), false); err == nil {
		t.Fatalf("overwrite without flag accepted")
	}
	got, err := s.Read(ctx, ref)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.MaxZoom != 9 {
		t.Fatalf("got %+v", got)
	}

	_, err = s.Read(ctx, "redis://localhost:6379/mosaics/absent")
	if errs.StatusOf(err) != http.StatusFailedDependency {
		t.Fatalf("missing redis manifest status=%d want 424", errs.StatusOf(err))
	}
}

func TestRedisKey_StripsSchemeAndHost(t *testing.T) {
	cases := []struct{ ref, want string }{
		{"redis://localhost:6379/mosaics/demo", "mosaics/demo"},
		{"redis://host/key", "key"},
		{"redis://bare", "bare"},
	}
	for _, c := range cases {
		if got := redisKey(c.ref); got != c.want {
			t.Fatalf("redisKey(%q) = %q want %q", c.ref, got, c.want)
		}
	}
}

func TestStore_RedisUnconfigured(t *testing.T) {
	s, _ := NewStore(nil, 8)
	_, err := s.Read(context.Background(), "redis://host/key")
	if err == nil {
		t.Fatalf("redis ref without backend accepted")
	}
	if errs.StatusOf(err) != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d want 422", errs.StatusOf(err))
	}
}

func TestHTTPBackend_ReadOnlyAndFetch(t *testing.T) {
	m := testManifest()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mosaic.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(mustJSON(t, m))
	}))
	defer srv.Close()

	s, _ := NewStore(nil, 8)
	ctx := context.Background()

	got, err := s.Read(ctx, srv.URL+"/mosaic.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.MinZoom != m.MinZoom {
		t.Fatalf("got %+v", got)
	}

	_, err = s.Read(ctx, srv.URL+"/other.json")
	if errs.StatusOf(err) != http.StatusFailedDependency {
		t.Fatalf("missing http manifest status=%d want 424", errs.StatusOf(err))
	}

	if err := s.Write(ctx, srv.URL+"/mosaic.json", m, true); err == nil {
		t.Fatalf("http write accepted")
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestETag_StableAndQuoted(t *testing.T) {
	a := ETag(testManifest())
	b := ETag(testManifest())
	if a == "" || a != b {
		t.Fatalf("etag unstable: %q vs %q", a, b)
	}
	if a[0] != '"' || a[len(a)-1] != '"' {
		t.Fatalf("etag not quoted: %s", a)
	}
	changed := testManifest()
	changed.MaxZoom = 12
	if ETag(changed) == a {
		t.Fatalf("etag ignores content")
	}
}
