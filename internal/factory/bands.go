package factory

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/geo"
	"github.com/dynraster/tileserv/internal/params"
)

// Bands serves a collection of single-band files that together form one
// logical dataset. The url query parameter carries a {band} placeholder
// that each selected band name is substituted into; expressions reference
// bands by name.
type Bands struct {
	Base
	// DefaultBands is the full band list used when a request names none.
	// Empty means selection is always required.
	defaultBands []string
}

// NewBands registers the named-band routes.
func NewBands(cfg Config, defaultBands []string) *Bands {
	f := &Bands{Base: NewBase(cfg), defaultBands: defaultBands}
	f.registerBands()
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
	return f
}

const bandPlaceholder = "{band}"

func bandHref(ref, band string) (string, error) {
	if !strings.Contains(ref, bandPlaceholder) {
		return "", errs.InvalidParam("url must contain a %s placeholder", bandPlaceholder)
	}
	return strings.ReplaceAll(ref, bandPlaceholder, band), nil
}

// selectedBands resolves the bands query against the configured defaults.
func (f *Bands) selectedBands(q url.Values, requireExplicit bool) ([]string, error) {
	var names []string
	for _, raw := range q["bands"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				names = append(names, part)
			}
		}
	}
	if len(names) == 0 {
		if requireExplicit && q.Get("expression") == "" {
			return nil, errs.InvalidParam("bands must be defined either via expression or bands options")
		}
		if !requireExplicit {
			if len(f.defaultBands) == 0 {
				return nil, errs.InvalidParam("missing required parameter: bands")
			}
			names = append(names, f.defaultBands...)
		}
	}
	return names, nil
}

// advertisedBands resolves the band list a metadata document describes:
// the explicit bands selection, or the variables of the expression when
// only an expression is given.
func (f *Bands) advertisedBands(q url.Values) ([]string, error) {
	names, err := f.selectedBands(q, true)
	if err != nil || len(names) > 0 {
		return names, err
	}
	expr, err := params.Expression(q)
	if err != nil {
		return nil, err
	}
	if expr != nil {
		seen := map[string]bool{}
		for _, v := range expr.Vars() {
			if !seen[v] {
				seen[v] = true
				names = append(names, v)
			}
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		return nil, errs.InvalidParam("bands must be defined either via expression or bands options")
	}
	return names, nil
}

// readBands reads the same window from every band file and stacks the
// results, one output band per name. The combined mask requires every
// band to be valid.
func (f *Bands) readBands(ref string, names []string, ropts geo.ReaderOptions, o geo.ReadOptions,
	read func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error)) (*geo.Image, error) {

	expression := o.Expression
	o.Expression = nil
	o.Indexes = nil

	if expression != nil && len(names) == 0 {
		seen := map[string]bool{}
		for _, v := range expression.Vars() {
			if !seen[v] {
				seen[v] = true
				names = append(names, v)
			}
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		return nil, errs.InvalidParam("bands must be defined either via expression or bands options")
	}

	var combined *geo.Image
	for _, name := range names {
		href, err := bandHref(ref, name)
		if err != nil {
			return nil, err
		}
		rd, err := geo.Open(href, ropts)
		if err != nil {
			return nil, err
		}
		bo := o
		bo.Indexes = []int{1}
		img, err := read(rd, bo)
		rd.Close()
		if err != nil {
			return nil, err
		}
		img.Bands = []string{name}
		if combined == nil {
			combined = img
			continue
		}
		if img.Width != combined.Width || img.Height != combined.Height {
			return nil, errs.Internal(nil, "band files produced mismatched window shapes")
		}
		combined.Data = append(combined.Data, img.Data[0])
		combined.Bands = append(combined.Bands, name)
		for px, m := range img.Mask {
			if m == 0 {
				combined.Mask[px] = 0
			}
		}
	}

	if expression != nil {
		bands := make(map[string][]float64, len(combined.Bands))
		for i, name := range combined.Bands {
			bands[name] = combined.Data[i]
		}
		data, mask, err := expression.Evaluate(bands, combined.Mask, combined.Width*combined.Height)
		if err != nil {
			return nil, err
		}
		combined.Data = data
		combined.Mask = mask
		combined.Bands = expression.Names()
		combined.DataType = "Float64"
	}
	return combined, nil
}

func (f *Bands) registerBands() {
	f.add(http.MethodGet, "/bands", func(w http.ResponseWriter, r *http.Request) {
		if len(f.defaultBands) == 0 {
			f.writeError(w, r, errs.NotFound("no band list configured"))
			return
		}
		f.writeJSON(w, r, f.defaultBands)
	})
}

func (f *Bands) registerBounds() {
	f.add(http.MethodGet, "/bounds", func(w http.ResponseWriter, r *http.Request) {
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := f.selectedBands(r.URL.Query(), false)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		href, err := bandHref(ref, names[0])
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rd, err := geo.Open(href, geo.ReaderOptions{})
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

func (f *Bands) registerInfo() {
	f.add(http.MethodGet, "/info", func(w http.ResponseWriter, r *http.Request) {
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := f.selectedBands(r.URL.Query(), false)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ropts, err := readerOptions(r.URL.Query())
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		out := make(map[string]*geo.Info, len(names))
		for _, name := range names {
			href, err := bandHref(ref, name)
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			rd, err := geo.Open(href, ropts)
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			info, err := rd.Info()
			rd.Close()
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			out[name] = info
		}
		f.writeJSON(w, r, out)
	})
}

func (f *Bands) registerStatistics() {
	f.add(http.MethodGet, "/statistics", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := f.selectedBands(q, false)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
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
		ropts, err := readerOptions(q)
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
		img, err := f.readBands(ref, names, ropts, ro,
			func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error) { return rd.Preview(o) })
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
		ropts, err := readerOptions(q)
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
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := f.selectedBands(q, false)
		if err != nil {
			f.writeError(w, r, err)
			return
		}

		for _, feat := range fc.Features {
			img, err := f.readBands(ref, names, ropts, ro,
				func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error) { return readFeature(rd, feat, o) })
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			stats, err := summarize(img, alg, so)
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

func (f *Bands) registerTiles() {
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
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := f.selectedBands(q, true)
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
		ropts, err := readerOptions(q)
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

		img, err := f.readBands(ref, names, ropts, ro,
			func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error) { return rd.Tile(t, z, x, y, o) })
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

func (f *Bands) registerTileJSON() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		t, err := f.matrixSet(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := f.advertisedBands(r.URL.Query())
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		href, err := bandHref(ref, names[0])
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rd, err := geo.Open(href, geo.ReaderOptions{})
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

func (f *Bands) registerWMTS() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		t, err := f.matrixSet(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := f.advertisedBands(r.URL.Query())
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		href, err := bandHref(ref, names[0])
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rd, err := geo.Open(href, geo.ReaderOptions{})
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

func (f *Bands) registerPoint() {
	f.add(http.MethodGet, "/point/{lon},{lat}", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lon, lat, err := params.LonLat(chi.URLParam(r, "lon"), chi.URLParam(r, "lat"))
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := f.selectedBands(q, false)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ropts, err := readerOptions(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		values := make([]float64, 0, len(names))
		for _, name := range names {
			href, err := bandHref(ref, name)
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			rd, err := geo.Open(href, ropts)
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			pt, err := rd.Point(lon, lat, geo.ReadOptions{Indexes: []int{1}})
			rd.Close()
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			values = append(values, pt.Values...)
		}
		f.writeJSON(w, r, geo.PointData{
			Coordinates: [2]float64{lon, lat},
			Values:      values,
			BandNames:   names,
		})
	})
}

func (f *Bands) registerPreview() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := f.selectedBands(q, true)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
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
		ropts, err := readerOptions(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rnd, err := f.parseRender(q, chi.URLParam(r, "format"))
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		img, err := f.readBands(ref, names, ropts, ro,
			func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error) { return rd.Preview(o) })
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

func (f *Bands) registerCrop() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := f.selectedBands(q, true)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
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
		ropts, err := readerOptions(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rnd, err := f.parseRender(q, chi.URLParam(r, "format"))
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		img, err := f.readBands(ref, names, ropts, ro,
			func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error) {
				return rd.Part(bbox, q.Get("coord_crs"), q.Get("dst_crs"), o)
			})
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

func (f *Bands) registerFeature() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		feat, err := decodeFeature(r.Body)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := f.selectedBands(q, true)
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
		ropts, err := readerOptions(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		rnd, err := f.parseRender(q, chi.URLParam(r, "format"))
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		img, err := f.readBands(ref, names, ropts, ro,
			func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error) { return readFeature(rd, feat, o) })
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
