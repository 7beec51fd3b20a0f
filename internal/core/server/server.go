// Package server wires the route factories, registries and middleware
// into the HTTP process.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dynraster/tileserv/internal/algorithm"
	"github.com/dynraster/tileserv/internal/colormap"
	"github.com/dynraster/tileserv/internal/core/config"
	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/factory"
	"github.com/dynraster/tileserv/internal/health"
	"github.com/dynraster/tileserv/internal/logger"
	"github.com/dynraster/tileserv/internal/metrics"
	imw "github.com/dynraster/tileserv/internal/middleware"
	"github.com/dynraster/tileserv/internal/mosaic"
	"github.com/dynraster/tileserv/internal/tms"
)

// Registries bundles the immutable lookup tables handlers resolve
// against. Embedders extend them before calling Run.
type Registries struct {
	TMS        tms.Registry
	ColorMaps  colormap.Registry
	Algorithms algorithm.Registry
}

// DefaultRegistries returns the built-in schemes, colormaps and
// algorithms.
func DefaultRegistries() Registries {
	return Registries{
		TMS:        tms.NewRegistry(),
		ColorMaps:  colormap.Builtins(),
		Algorithms: algorithm.Builtins(),
	}
}

// Run serves until ctx is canceled or the listener fails.
func Run(ctx context.Context, cfg config.Config, zl zerolog.Logger, version string) error {
	reg := DefaultRegistries()

	var redisClient *redis.Client
	if cfg.Mosaic.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Mosaic.RedisAddr})
		defer func() { _ = redisClient.Close() }()
	}
	store, err := mosaic.NewStore(redisClient, cfg.Mosaic.CacheSize)
	if err != nil {
		return err
	}

	fcfg := factory.Config{
		TMS:            reg.TMS,
		ColorMaps:      reg.ColorMaps,
		Algorithms:     reg.Algorithms,
		Logger:         zl,
		CacheControl:   cfg.CacheControl,
		MaxPreviewSize: cfg.MaxPreviewSize,
	}

	prov := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Path:    cfg.MetricsPath,
		Build:   metrics.BuildInfo{Version: version},
	})
	slg := logger.NewSlog(&zl)

	r := chi.NewRouter()
	r.Use(imw.RequestID())
	r.Use(imw.Recover(slg))
	r.Use(imw.Logging(slg))
	r.Use(imw.CORS())
	if cfg.MetricsEnabled {
		r.Use(prov.Middleware())
	}

	r.Get("/healthz", health.Liveness(version))
	if cfg.MetricsEnabled {
		r.Method(http.MethodGet, cfg.MetricsPath, prov.Handler())
	}

	mountDiscovery(r, reg)

	r.Mount("/cog", factory.NewCog(fcfg).RegisterExtensions().Router())
	r.Mount("/stac", factory.NewStac(fcfg).Router())
	r.Mount("/bands", factory.NewBands(fcfg, cfg.DefaultBands).Router())
	r.Mount("/xarray", factory.NewXarray(fcfg).Router())
	r.Mount("/mosaics", factory.NewMosaic(fcfg, store, cfg.Mosaic.StrictZoom).Router())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info().Str("addr", cfg.Addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// mountDiscovery registers the registry listing routes.
func mountDiscovery(r chi.Router, reg Registries) {
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	r.Get("/tileMatrixSets", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, reg.TMS.IDs())
	})
	r.Get("/tileMatrixSets/{id}", func(w http.ResponseWriter, req *http.Request) {
		t, err := reg.TMS.Get(chi.URLParam(req, "id"))
		if err != nil {
			errs.Write(w, err)
			return
		}
		writeJSON(w, t)
	})

	r.Get("/algorithms", func(w http.ResponseWriter, _ *http.Request) {
		out := map[string]algorithm.Metadata{}
		for _, name := range reg.Algorithms.Names() {
			meta, err := reg.Algorithms.Metadata(name)
			if err == nil {
				out[name] = meta
			}
		}
		writeJSON(w, out)
	})
	r.Get("/algorithms/{id}", func(w http.ResponseWriter, req *http.Request) {
		meta, err := reg.Algorithms.Metadata(chi.URLParam(req, "id"))
		if err != nil {
			errs.Write(w, err)
			return
		}
		writeJSON(w, meta)
	})

	r.Get("/colorMaps", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, reg.ColorMaps.Names())
	})
	r.Get("/colorMaps/{id}", func(w http.ResponseWriter, req *http.Request) {
		cm, err := reg.ColorMaps.Get(chi.URLParam(req, "id"))
		if err != nil {
			errs.Write(w, err)
			return
		}
		if req.URL.Query().Get("format") == "png" {
			q := req.URL.Query()
			width, _ := strconv.Atoi(q.Get("width"))
			height, _ := strconv.Atoi(q.Get("height"))
			vertical := q.Get("orientation") == "vertical"
			var buf bytes.Buffer
			if err := png.Encode(&buf, colormap.Legend(cm, width, height, vertical)); err != nil {
				errs.Write(w, errs.Internal(err, "error encoding legend"))
				return
			}
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(buf.Bytes())
			return
		}
		writeJSON(w, cm)
	})
}
