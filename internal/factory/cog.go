package factory

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dynraster/tileserv/internal/algorithm"
	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/geo"
	"github.com/dynraster/tileserv/internal/params"
)

// Cog serves a single raster dataset referenced by the url query
// parameter. The opener is a field so the multi-dimensional shape can
// reuse the same routes over variable subdatasets.
type Cog struct {
	Base
	open func(r *http.Request) (*geo.Reader, error)
}

// NewCog registers the single-raster routes in their documented order.
func NewCog(cfg Config) *Cog {
	f := &Cog{Base: NewBase(cfg)}
	f.open = openDataset
	f.registerBounds()
	f.registerInfo()
	f.registerStatistics()
	f.registerTiles()
	f.registerTileJSON()
	f.registerWMTS()
	f.registerPoint()
	f.registerPreview()
	f.registerCrop()
	f.registerFeature()
	f.registerValidate()
	return f
}

func openDataset(r *http.Request) (*geo.Reader, error) {
	ref, err := datasetRef(r)
	if err != nil {
		return nil, err
	}
	opts, err := readerOptions(r.URL.Query())
	if err != nil {
		return nil, err
	}
	return geo.Open(ref, opts)
}

func (f *Cog) registerBounds() {
	f.add(http.MethodGet, "/bounds", func(w http.ResponseWriter, r *http.Request) {
		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()
		bounds, err := rd.Bounds()
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeJSON(w, r, map[string]any{"bounds": bounds})
	})
}

func (f *Cog) registerInfo() {
	f.add(http.MethodGet, "/info", func(w http.ResponseWriter, r *http.Request) {
		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()
		info, err := rd.Info()
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeJSON(w, r, info)
	})
	f.add(http.MethodGet, "/info.geojson", func(w http.ResponseWriter, r *http.Request) {
		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()
		info, err := rd.Info()
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeJSON(w, r, boundsFeature(info.Bounds, info))
	})
}

func (f *Cog) registerStatistics() {
	f.add(http.MethodGet, "/statistics", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		so, err := params.Statistics(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		alg, err := f.statsAlgorithm(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ro, err := readOptions(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ro.MaxSize = f.cfg.previewSize()
		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()
		img, err := rd.Preview(ro)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		stats, err := summarize(img, alg, so)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeJSON(w, r, stats)
	})

	// per-feature statistics over a GeoJSON body
	f.add(http.MethodPost, "/statistics", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		so, err := params.Statistics(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		alg, err := f.statsAlgorithm(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ro, err := readOptions(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ro.MaxSize = f.cfg.previewSize()

		fc, err := decodeFeatures(r.Body)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()

		for _, feat := range fc.Features {
			stats, err := featureStatistics(rd, feat, ro, so, alg)
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			if feat.Properties == nil {
				feat.Properties = map[string]any{}
			}
			feat.Properties["statistics"] = stats
		}
		f.writeJSON(w, r, fc)
	})
}

func (f *Cog) registerTiles() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		t, err := f.matrixSet(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		z, x, y, err := tileCoords(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		buffer, scale, err := params.Tile(q, chi.URLParam(r, "scale"))
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ro, err := readOptions(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rnd, err := f.parseRender(q, chi.URLParam(r, "format"))
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ro.Width = t.TileSize * scale
		ro.Height = t.TileSize * scale
		ro.Buffer = buffer + float64(rnd.algorithmMeta.Buffer)

		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()
		img, err := rd.Tile(t, z, x, y, ro)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		data, mediaType, err := render(img, rnd)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeImage(w, data, mediaType)
	}
	f.add(http.MethodGet, "/tiles/{tileMatrixSetId}/{z}/{x}/{y}", handler)
	f.add(http.MethodGet, "/tiles/{tileMatrixSetId}/{z}/{x}/{y}.{format}", handler)
	f.add(http.MethodGet, "/tiles/{tileMatrixSetId}/{z}/{x}/{y}@{scale}x", handler)
	f.add(http.MethodGet, "/tiles/{tileMatrixSetId}/{z}/{x}/{y}@{scale}x.{format}", handler)
}

func (f *Cog) registerTileJSON() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		t, err := f.matrixSet(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()
		bounds, err := rd.Bounds()
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		doc, err := f.tileJSON(r, t, bounds, "/tiles")
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeJSON(w, r, doc)
	}
	f.add(http.MethodGet, "/tilejson.json", handler)
	f.add(http.MethodGet, "/{tileMatrixSetId}/tilejson.json", handler)
}

func (f *Cog) registerWMTS() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		t, err := f.matrixSet(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()
		bounds, err := rd.Bounds()
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeCapabilities(w, r, t, bounds, "/tiles")
	}
	f.add(http.MethodGet, "/WMTSCapabilities.xml", handler)
	f.add(http.MethodGet, "/{tileMatrixSetId}/WMTSCapabilities.xml", handler)
}

func (f *Cog) registerPoint() {
	f.add(http.MethodGet, "/point/{lon},{lat}", func(w http.ResponseWriter, r *http.Request) {
		lon, lat, err := params.LonLat(chi.URLParam(r, "lon"), chi.URLParam(r, "lat"))
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ro, err := readOptions(r.URL.Query())
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()
		pt, err := rd.Point(lon, lat, ro)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeJSON(w, r, pt)
	})
}

func (f *Cog) registerPreview() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ro, err := readOptions(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ro.Width, ro.Height, ro.MaxSize, err = params.Size(q, f.cfg.previewSize())
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rnd, err := f.parseRender(q, chi.URLParam(r, "format"))
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()
		img, err := rd.Preview(ro)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		data, mediaType, err := render(img, rnd)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeImage(w, data, mediaType)
	}
	f.add(http.MethodGet, "/preview", handler)
	f.add(http.MethodGet, "/preview.{format}", handler)
}

func (f *Cog) registerCrop() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ro, err := readOptions(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		bbox, err := cropWindow(r, &ro, f.cfg.previewSize())
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rnd, err := f.parseRender(q, chi.URLParam(r, "format"))
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()
		img, err := rd.Part(bbox, q.Get("coord_crs"), q.Get("dst_crs"), ro)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		data, mediaType, err := render(img, rnd)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeImage(w, data, mediaType)
	}
	f.add(http.MethodGet, "/bbox/{minx},{miny},{maxx},{maxy}.{format}", handler)
	f.add(http.MethodGet, "/bbox/{minx},{miny},{maxx},{maxy}/{width}x{height}.{format}", handler)
}

func (f *Cog) registerFeature() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		feat, err := decodeFeature(r.Body)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ro, err := readOptions(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		if err := windowSize(r, &ro, f.cfg.previewSize()); err != nil {
			f.writeError(w, r, err)
			return
		}
		rnd, err := f.parseRender(q, chi.URLParam(r, "format"))
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()
		img, err := readFeature(rd, feat, ro)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		data, mediaType, err := render(img, rnd)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeImage(w, data, mediaType)
	}
	f.add(http.MethodPost, "/feature", handler)
	f.add(http.MethodPost, "/feature.{format}", handler)
	f.add(http.MethodPost, "/feature/{width}x{height}.{format}", handler)
}

func (f *Cog) registerValidate() {
	f.add(http.MethodGet, "/validate", func(w http.ResponseWriter, r *http.Request) {
		rd, err := f.open(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		defer rd.Close()
		f.writeJSON(w, r, rd.Validate())
	})
}

func atoiPositive(name, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errs.InvalidParam("invalid %s value %q", name, raw)
	}
	return n, nil
}

// feature is a minimal GeoJSON feature: enough to cut a read window and
// carry properties through statistics responses.
type feature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties,omitempty"`
}

type featureCollection struct {
	Type     string     `json:"type"`
	Features []*feature `json:"features"`
}

func decodeFeature(r io.Reader) (*feature, error) {
	var feat feature
	if err := json.NewDecoder(r).Decode(&feat); err != nil {
		return nil, errs.BadRequest("invalid GeoJSON body: %v", err)
	}
	if feat.Type != "Feature" || len(feat.Geometry) == 0 {
		return nil, errs.BadRequest("body must be a GeoJSON Feature with a geometry")
	}
	return &feat, nil
}

func decodeFeatures(r io.Reader) (*featureCollection, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.BadRequest("error reading body: %v", err)
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errs.BadRequest("invalid GeoJSON body: %v", err)
	}
	switch probe.Type {
	case "FeatureCollection":
		var fc featureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, errs.BadRequest("invalid GeoJSON body: %v", err)
		}
		if len(fc.Features) == 0 {
			return nil, errs.BadRequest("FeatureCollection has no features")
		}
		return &fc, nil
	case "Feature":
		var feat feature
		if err := json.Unmarshal(data, &feat); err != nil {
			return nil, errs.BadRequest("invalid GeoJSON body: %v", err)
		}
		return &featureCollection{Type: "FeatureCollection", Features: []*feature{&feat}}, nil
	default:
		return nil, errs.BadRequest("body must be a GeoJSON Feature or FeatureCollection")
	}
}

// geometryBounds walks raw GeoJSON coordinates for the envelope.
func geometryBounds(geom json.RawMessage) ([4]float64, error) {
	var g struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(geom, &g); err != nil {
		return [4]float64{}, errs.BadRequest("invalid geometry: %v", err)
	}
	bounds := [4]float64{180, 90, -180, -90}
	found := false
	var walk func(raw json.RawMessage) error
	walk = func(raw json.RawMessage) error {
		var pos []float64
		if err := json.Unmarshal(raw, &pos); err == nil {
			if len(pos) < 2 {
				return errs.BadRequest("invalid geometry coordinates")
			}
			if pos[0] < bounds[0] {
				bounds[0] = pos[0]
			}
			if pos[1] < bounds[1] {
				bounds[1] = pos[1]
			}
			if pos[0] > bounds[2] {
				bounds[2] = pos[0]
			}
			if pos[1] > bounds[3] {
				bounds[3] = pos[1]
			}
			found = true
			return nil
		}
		var nested []json.RawMessage
		if err := json.Unmarshal(raw, &nested); err != nil {
			return errs.BadRequest("invalid geometry coordinates")
		}
		for _, item := range nested {
			if err := walk(item); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(g.Coordinates); err != nil {
		return [4]float64{}, err
	}
	if !found {
		return [4]float64{}, errs.BadRequest("geometry has no coordinates")
	}
	return bounds, nil
}

// readFeature cuts the dataset to the feature geometry. The geometry is
// spilled to a temp file so the wrapped library can use it as a cutline.
func readFeature(rd *geo.Reader, feat *feature, ro geo.ReadOptions) (*geo.Image, error) {
	bounds, err := geometryBounds(feat.Geometry)
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "tileserv-cutline-")
	if err != nil {
		return nil, errs.Internal(err, "error creating temp directory")
	}
	defer func() { _ = os.RemoveAll(dir) }()
	path := filepath.Join(dir, "cutline.geojson")
	doc, err := json.Marshal(map[string]any{
		"type":     "Feature",
		"geometry": feat.Geometry,
	})
	if err != nil {
		return nil, errs.Internal(err, "error serializing cutline")
	}
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		return nil, errs.Internal(err, "error writing cutline")
	}
	return rd.Feature(bounds, path, ro)
}

// featureStatistics computes band statistics over one feature window,
// optionally after running an algorithm over the cut image.
func featureStatistics(rd *geo.Reader, feat *feature, ro geo.ReadOptions, so geo.StatsOptions, alg algorithm.Algorithm) (map[string]geo.BandStatistics, error) {
	img, err := readFeature(rd, feat, ro)
	if err != nil {
		return nil, err
	}
	return summarize(img, alg, so)
}

// boundsFeature wraps a bounds box and payload as a GeoJSON feature.
func boundsFeature(bounds [4]float64, properties any) map[string]any {
	ring := [][2]float64{
		{bounds[0], bounds[1]},
		{bounds[2], bounds[1]},
		{bounds[2], bounds[3]},
		{bounds[0], bounds[3]},
		{bounds[0], bounds[1]},
	}
	return map[string]any{
		"type": "Feature",
		"bbox": bounds,
		"geometry": map[string]any{
			"type":        "Polygon",
			"coordinates": [][][2]float64{ring},
		},
		"properties": properties,
	}
}
