// Package factory builds the HTTP route sets served for each dataset
// shape: single raster, multi-asset item, named-band collection, mosaic
// and multi-dimensional store. Each factory registers a fixed, ordered
// list of routes at construction time; the list is introspectable and the
// chi router is assembled from it.
package factory

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dynraster/tileserv/internal/algorithm"
	"github.com/dynraster/tileserv/internal/colormap"
	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/tms"
)

// Route is one registered endpoint.
type Route struct {
	Method  string `json:"method"`
	Pattern string `json:"pattern"`
	handler http.HandlerFunc
}

// Config carries the registries and knobs shared by all factories.
type Config struct {
	TMS        tms.Registry
	ColorMaps  colormap.Registry
	Algorithms algorithm.Registry
	Logger     zerolog.Logger
	// CacheControl is sent verbatim on successful image responses.
	CacheControl string
	// MaxPreviewSize caps preview/statistics reads without explicit sizing.
	MaxPreviewSize int
}

func (c *Config) previewSize() int {
	if c.MaxPreviewSize > 0 {
		return c.MaxPreviewSize
	}
	return 1024
}

// Base implements route registration and response plumbing. Factories
// embed it and add their routes in their constructor, one builder method
// per route.
type Base struct {
	cfg    Config
	routes []Route
}

// NewBase wraps shared configuration.
func NewBase(cfg Config) Base { return Base{cfg: cfg} }

func (b *Base) add(method, pattern string, h http.HandlerFunc) {
	b.routes = append(b.routes, Route{Method: method, Pattern: pattern, handler: h})
}

// Routes returns the registered routes in registration order.
func (b *Base) Routes() []Route {
	out := make([]Route, len(b.routes))
	copy(out, b.routes)
	return out
}

// Router assembles a chi router from the registered routes.
func (b *Base) Router() chi.Router {
	r := chi.NewRouter()
	for _, rt := range b.routes {
		r.Method(rt.Method, rt.Pattern, rt.handler)
	}
	return r
}

// datasetRef pulls the mandatory url query parameter.
func datasetRef(r *http.Request) (string, error) {
	ref := r.URL.Query().Get("url")
	if ref == "" {
		return "", errs.InvalidParam("missing required parameter: url")
	}
	return ref, nil
}

func (b *Base) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(v)
	if err != nil {
		b.writeError(w, r, errs.Internal(err, "error encoding response"))
		return
	}
	w.Header().Set("ETag", etag(data))
	_, _ = w.Write(data)
}

func (b *Base) writeImage(w http.ResponseWriter, data []byte, mediaType string) {
	w.Header().Set("Content-Type", mediaType)
	if b.cfg.CacheControl != "" {
		w.Header().Set("Cache-Control", b.cfg.CacheControl)
	}
	w.Header().Set("ETag", etag(data))
	_, _ = w.Write(data)
}

func (b *Base) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.StatusOf(err)
	evt := b.cfg.Logger.Warn()
	if status >= http.StatusInternalServerError {
		evt = b.cfg.Logger.Error().Err(err)
	}
	evt.Int("status", status).Str("path", r.URL.Path).Msg(errs.DetailOf(err))
	errs.Write(w, err)
}

func etag(data []byte) string {
	return fmt.Sprintf("%q", fmt.Sprintf("%016x", xxhash.Sum64(data)))
}

// tileCoords parses the {z}/{x}/{y} path segments.
func tileCoords(r *http.Request) (z, x, y int, err error) {
	z, err = strconv.Atoi(chi.URLParam(r, "z"))
	if err != nil {
		return 0, 0, 0, errs.InvalidParam("invalid tile z %q", chi.URLParam(r, "z"))
	}
	x, err = strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil {
		return 0, 0, 0, errs.InvalidParam("invalid tile x %q", chi.URLParam(r, "x"))
	}
	y, err = strconv.Atoi(chi.URLParam(r, "y"))
	if err != nil {
		return 0, 0, 0, errs.InvalidParam("invalid tile y %q", chi.URLParam(r, "y"))
	}
	return z, x, y, nil
}

// matrixSet resolves the tileMatrixSetId path segment, defaulting to
// WebMercatorQuad when the route has no such segment.
func (b *Base) matrixSet(r *http.Request) (*tms.TileMatrixSet, error) {
	id := chi.URLParam(r, "tileMatrixSetId")
	if id == "" {
		id = tms.WebMercatorQuad
	}
	return b.cfg.TMS.Get(id)
}

// baseURL reconstructs the externally visible URL prefix for tilejson and
// capabilities documents, honoring forwarding headers.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if v := r.Header.Get("X-Forwarded-Proto"); v != "" {
		scheme = v
	}
	host := r.Host
	if v := r.Header.Get("X-Forwarded-Host"); v != "" {
		host = v
	}
	return scheme + "://" + host
}

// queryString re-encodes query values, or returns "" when empty.
func queryString(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
