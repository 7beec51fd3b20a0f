package mosaic

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dynraster/tileserv/internal/errs"
)

// Backend stores mosaic manifests. Read failures for missing manifests
// surface as the documented 424 dependency error.
type Backend interface {
	Read(ctx context.Context, ref string) (*MosaicJSON, error)
	Write(ctx context.Context, ref string, m *MosaicJSON, overwrite bool) error
}

// Store resolves manifest references to backends by scheme and caches
// parsed manifests in a small LRU.
type Store struct {
	file  Backend
	http  Backend
	redis Backend
	cache *lru.Cache[string, *MosaicJSON]
}

// NewStore builds a store. redisClient may be nil when no redis backend is
// configured; redis manifest references then fail with a validation error.
func NewStore(redisClient *redis.Client, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New[string, *MosaicJSON](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("mosaic cache: %w", err)
	}
	s := &Store{
		file:  fileBackend{},
		http:  httpBackend{client: &http.Client{Timeout: 30 * time.Second}},
		cache: cache,
	}
	if redisClient != nil {
		s.redis = redisBackend{client: redisClient}
	}
	return s, nil
}

func (s *Store) backend(ref string) (Backend, error) {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return s.http, nil
	case strings.HasPrefix(ref, "redis://"):
		if s.redis == nil {
			return nil, errs.InvalidParam("redis mosaic backend not configured")
		}
		return s.redis, nil
	default:
		return s.file, nil
	}
}

// Read returns the manifest for ref, from cache when possible.
func (s *Store) Read(ctx context.Context, ref string) (*MosaicJSON, error) {
	if m, ok := s.cache.Get(ref); ok {
		return m, nil
	}
	b, err := s.backend(ref)
	if err != nil {
		return nil, err
	}
	m, err := b.Read(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	s.cache.Add(ref, m)
	return m, nil
}

// Write persists a manifest and refreshes the cache entry.
func (s *Store) Write(ctx context.Context, ref string, m *MosaicJSON, overwrite bool) error {
	if err := m.Validate(); err != nil {
		return err
	}
	b, err := s.backend(ref)
	if err != nil {
		return err
	}
	if err := b.Write(ctx, ref, m, overwrite); err != nil {
		return err
	}
	s.cache.Add(ref, m)
	return nil
}

// ETag derives a strong entity tag from the serialized manifest.
func ETag(m *MosaicJSON) string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%q", fmt.Sprintf("%016x", xxhash.Sum64(data)))
}

type fileBackend struct{}

func (fileBackend) Read(_ context.Context, ref string) (*MosaicJSON, error) {
	f, err := os.Open(strings.TrimPrefix(ref, "file://"))
	if err != nil {
		return nil, errs.MosaicNotFound(ref)
	}
	defer func() { _ = f.Close() }()
	var r io.Reader = f
	if strings.HasSuffix(ref, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errs.BadRequest("mosaic %q: %v", ref, err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return decode(ref, r)
}

func (fileBackend) Write(_ context.Context, ref string, m *MosaicJSON, overwrite bool) error {
	path := strings.TrimPrefix(ref, "file://")
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errs.BadRequest("mosaic %q already exists", ref)
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return errs.Internal(err, "error serializing mosaic")
	}
	if strings.HasSuffix(ref, ".gz") {
		f, err := os.Create(path)
		if err != nil {
			return errs.Internal(err, "error writing mosaic %q", ref)
		}
		gz := gzip.NewWriter(f)
		if _, err := gz.Write(data); err != nil {
			_ = f.Close()
			return errs.Internal(err, "error writing mosaic %q", ref)
		}
		if err := gz.Close(); err != nil {
			_ = f.Close()
			return errs.Internal(err, "error writing mosaic %q", ref)
		}
		return f.Close()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Internal(err, "error writing mosaic %q", ref)
	}
	return nil
}

type httpBackend struct {
	client *http.Client
}

func (b httpBackend) Read(ctx context.Context, ref string) (*MosaicJSON, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, errs.BadRequest("mosaic %q: %v", ref, err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, errs.MosaicNotFound(ref)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.MosaicNotFound(ref)
	}
	var r io.Reader = resp.Body
	if strings.HasSuffix(ref, ".gz") || resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err == nil {
			defer func() { _ = gz.Close() }()
			r = gz
		}
	}
	return decode(ref, r)
}

func (httpBackend) Write(context.Context, string, *MosaicJSON, bool) error {
	return errs.InvalidParam("http mosaic backend is read-only")
}

type redisBackend struct {
	client *redis.Client
}

// redisKey strips the scheme and host, keeping the path as the key.
func redisKey(ref string) string {
	rest := strings.TrimPrefix(ref, "redis://")
	if i := strings.Index(rest, "/"); i >= 0 {
		return strings.TrimPrefix(rest[i+1:], "/")
	}
	return rest
}

func (b redisBackend) Read(ctx context.Context, ref string) (*MosaicJSON, error) {
	data, err := b.client.Get(ctx, redisKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errs.MosaicNotFound(ref)
	}
	if err != nil {
		return nil, errs.Internal(err, "error reading mosaic %q", ref)
	}
	return decode(ref, strings.NewReader(string(data)))
}

func (b redisBackend) Write(ctx context.Context, ref string, m *MosaicJSON, overwrite bool) error {
	key := redisKey(ref)
	if !overwrite {
		n, err := b.client.Exists(ctx, key).Result()
		if err != nil {
			return errs.Internal(err, "error writing mosaic %q", ref)
		}
		if n > 0 {
			return errs.BadRequest("mosaic %q already exists", ref)
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return errs.Internal(err, "error serializing mosaic")
	}
	if err := b.client.Set(ctx, key, data, 0).Err(); err != nil {
		return errs.Internal(err, "error writing mosaic %q", ref)
	}
	return nil
}

func decode(ref string, r io.Reader) (*MosaicJSON, error) {
	var m MosaicJSON
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, errs.BadRequest("mosaic %q: %v", ref, err)
	}
	return &m, nil
}
