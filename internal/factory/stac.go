package factory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/geo"
	"github.com/dynraster/tileserv/internal/params"
)

// Stac serves a multi-asset item: one JSON document mapping asset names to
// raster hrefs. Metadata endpoints default to every asset; pixel endpoints
// require an explicit asset selection or an asset expression.
type Stac struct {
	Base
	client *http.Client
}

// NewStac registers the multi-asset routes.
func NewStac(cfg Config) *Stac {
	f := &Stac{
		Base:   NewBase(cfg),
		client: &http.Client{Timeout: 30 * time.Second},
	}
	f.registerAssets()
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

type stacAsset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type stacItem struct {
	ID       string               `json:"id"`
	BBox     []float64            `json:"bbox"`
	Geometry json.RawMessage      `json:"geometry"`
	Assets   map[string]stacAsset `json:"assets"`
}

func (it *stacItem) bounds() ([4]float64, error) {
	if len(it.BBox) >= 4 {
		return [4]float64{it.BBox[0], it.BBox[1], it.BBox[2], it.BBox[3]}, nil
	}
	if len(it.Geometry) > 0 {
		return geometryBounds(it.Geometry)
	}
	return [4]float64{}, errs.BadRequest("item has neither bbox nor geometry")
}

func (it *stacItem) assetNames() []string {
	names := make([]string, 0, len(it.Assets))
	for name := range it.Assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (it *stacItem) asset(name string) (stacAsset, error) {
	a, ok := it.Assets[name]
	if !ok {
		return stacAsset{}, errs.InvalidParam("invalid asset %q, item has: %v", name, it.assetNames())
	}
	return a, nil
}

// fetchItem loads the item document from a file path or URL.
func (f *Stac) fetchItem(ctx context.Context, ref string) (*stacItem, error) {
	var data []byte
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, errs.BadRequest("invalid item url %q: %v", ref, err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, errs.NotFound("item %q not reachable", ref)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return nil, errs.NotFound("item %q returned status %d", ref, resp.StatusCode)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, errs.Internal(err, "error reading item %q", ref)
		}
	} else {
		var err error
		data, err = os.ReadFile(ref)
		if err != nil {
			return nil, errs.NotFound("item %q not found", ref)
		}
	}
	var item stacItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, errs.BadRequest("item %q: %v", ref, err)
	}
	if len(item.Assets) == 0 {
		return nil, errs.BadRequest("item %q has no assets", ref)
	}
	return &item, nil
}

// selectedAssets resolves the assets query. When requireExplicit is set an
// empty selection fails instead of defaulting to every asset.
func (it *stacItem) selectedAssets(q url.Values, requireExplicit bool) ([]string, error) {
	var names []string
	for _, raw := range q["assets"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				names = append(names, part)
			}
		}
	}
	if len(names) == 0 {
		if requireExplicit {
			if q.Get("expression") != "" {
				return nil, nil
			}
			return nil, errs.InvalidParam("assets must be defined either via expression or assets options")
		}
		return it.assetNames(), nil
	}
	for _, name := range names {
		if _, err := it.asset(name); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// assetIndexes parses repeated asset_bidx values of the form
// "asset|1,2,3".
func assetIndexes(q url.Values) (map[string][]int, error) {
	out := map[string][]int{}
	for _, raw := range q["asset_bidx"] {
		parts := strings.SplitN(raw, "|", 2)
		if len(parts) != 2 {
			return nil, errs.InvalidParam("invalid asset_bidx %q, expected \"asset|n,n\"", raw)
		}
		var idx []int
		for _, p := range strings.Split(parts[1], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || n < 1 {
				return nil, errs.InvalidParam("invalid asset_bidx %q, expected \"asset|n,n\"", raw)
			}
			idx = append(idx, n)
		}
		out[parts[0]] = idx
	}
	return out, nil
}

// readAssets reads the same window from every selected asset and stacks
// the bands as "{asset}_b{n}". The combined mask is valid only where every
// asset is valid, so overlapping nodata stays masked.
func (f *Stac) readAssets(it *stacItem, names []string, bidx map[string][]int,
	ropts geo.ReaderOptions, o geo.ReadOptions,
	read func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error)) (*geo.Image, error) {

	expression := o.Expression
	o.Expression = nil

	if expression != nil && len(names) == 0 {
		seen := map[string]bool{}
		for _, v := range expression.Vars() {
			name := v
			if i := strings.LastIndex(v, "_b"); i > 0 {
				name = v[:i]
			}
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		sort.Strings(names)
	}

	var combined *geo.Image
	for _, name := range names {
		asset, err := it.asset(name)
		if err != nil {
			return nil, err
		}
		rd, err := geo.Open(asset.Href, ropts)
		if err != nil {
			return nil, err
		}
		ao := o
		ao.Indexes = bidx[name]
		img, err := read(rd, ao)
		rd.Close()
		if err != nil {
			return nil, err
		}
		for i := range img.Bands {
			img.Bands[i] = name + "_b" + strconv.Itoa(i+1)
		}
		if combined == nil {
			combined = img
			continue
		}
		if img.Width != combined.Width || img.Height != combined.Height {
			return nil, errs.Internal(nil, "assets produced mismatched window shapes")
		}
		combined.Data = append(combined.Data, img.Data...)
		combined.Bands = append(combined.Bands, img.Bands...)
		for px, m := range img.Mask {
			if m == 0 {
				combined.Mask[px] = 0
			}
		}
	}
	if combined == nil {
		return nil, errs.InvalidParam("assets must be defined either via expression or assets options")
	}

	if expression != nil {
		bands := make(map[string][]float64, len(combined.Bands))
		for i, name := range combined.Bands {
			bands[name] = combined.Data[i]
			// bare asset names alias their first band
			if strings.HasSuffix(name, "_b1") {
				bands[strings.TrimSuffix(name, "_b1")] = combined.Data[i]
			}
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

func (f *Stac) registerAssets() {
	f.add(http.MethodGet, "/assets", func(w http.ResponseWriter, r *http.Request) {
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		item, err := f.fetchItem(r.Context(), ref)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeJSON(w, r, item.assetNames())
	})
}

func (f *Stac) registerBounds() {
	f.add(http.MethodGet, "/bounds", func(w http.ResponseWriter, r *http.Request) {
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		item, err := f.fetchItem(r.Context(), ref)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		bounds, err := item.bounds()
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeJSON(w, r, map[string]any{"bounds": bounds})
	})
}

func (f *Stac) registerInfo() {
	f.add(http.MethodGet, "/info", func(w http.ResponseWriter, r *http.Request) {
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		item, err := f.fetchItem(r.Context(), ref)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := item.selectedAssets(r.URL.Query(), false)
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
			asset, err := item.asset(name)
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			rd, err := geo.Open(asset.Href, ropts)
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

func (f *Stac) registerStatistics() {
	f.add(http.MethodGet, "/statistics", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ref, err := datasetRef(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		item, err := f.fetchItem(r.Context(), ref)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := item.selectedAssets(q, false)
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
		bidx, err := assetIndexes(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}

		out := make(map[string]map[string]geo.BandStatistics, len(names))
		for _, name := range names {
			img, err := f.readAssets(item, []string{name}, bidx, ropts, ro,
				func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error) { return rd.Preview(o) })
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			out[name], err = summarize(img, alg, so)
			if err != nil {
				f.writeError(w, r, err)
				return
			}
		}
		f.writeJSON(w, r, out)
	})

	// per-feature statistics over a GeoJSON body, stacked across the
	// selected assets
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
		bidx, err := assetIndexes(q)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
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
		item, err := f.fetchItem(r.Context(), ref)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := item.selectedAssets(q, false)
		if err != nil {
			f.writeError(w, r, err)
			return
		}

		for _, feat := range fc.Features {
			img, err := f.readAssets(item, names, bidx, ropts, ro,
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

// pixelRead parses the selection parameters shared by the pixel routes and
// runs the given window read across the selected assets.
func (f *Stac) pixelRead(r *http.Request, o geo.ReadOptions,
	read func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error)) (*geo.Image, error) {

	q := r.URL.Query()
	ref, err := datasetRef(r)
	if err != nil {
		return nil, err
	}
	item, err := f.fetchItem(r.Context(), ref)
	if err != nil {
		return nil, err
	}
	names, err := item.selectedAssets(q, true)
	if err != nil {
		return nil, err
	}
	bidx, err := assetIndexes(q)
	if err != nil {
		return nil, err
	}
	ropts, err := readerOptions(q)
	if err != nil {
		return nil, err
	}
	return f.readAssets(item, names, bidx, ropts, o, read)
}

func (f *Stac) registerTiles() {
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

		img, err := f.pixelRead(r, ro, func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error) {
			return rd.Tile(t, z, x, y, o)
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
	f.add(http.MethodGet, "/tiles/{tileMatrixSetId}/{z}/{x}/{y}", handler)
	f.add(http.MethodGet, "/tiles/{tileMatrixSetId}/{z}/{x}/{y}.{format}", handler)
	f.add(http.MethodGet, "/tiles/{tileMatrixSetId}/{z}/{x}/{y}@{scale}x", handler)
	f.add(http.MethodGet, "/tiles/{tileMatrixSetId}/{z}/{x}/{y}@{scale}x.{format}", handler)
}

func (f *Stac) registerTileJSON() {
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
		item, err := f.fetchItem(r.Context(), ref)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		bounds, err := item.bounds()
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

func (f *Stac) registerWMTS() {
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
		item, err := f.fetchItem(r.Context(), ref)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		bounds, err := item.bounds()
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeCapabilities(w, r, t, bounds, "/tiles")
	}
	f.add(http.MethodGet, "/WMTSCapabilities.xml", handler)
	f.add(http.MethodGet, "/{tileMatrixSetId}/WMTSCapabilities.xml", handler)
}

func (f *Stac) registerPoint() {
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
		item, err := f.fetchItem(r.Context(), ref)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		names, err := item.selectedAssets(q, true)
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

		out := map[string]*geo.PointData{}
		for _, name := range names {
			asset, err := item.asset(name)
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			rd, err := geo.Open(asset.Href, ropts)
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			pt, err := rd.Point(lon, lat, ro)
			rd.Close()
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			out[name] = pt
		}
		f.writeJSON(w, r, out)
	})
}

func (f *Stac) registerPreview() {
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
		img, err := f.pixelRead(r, ro, func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error) {
			return rd.Preview(o)
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
	f.add(http.MethodGet, "/preview", handler)
	f.add(http.MethodGet, "/preview.{format}", handler)
}

func (f *Stac) registerCrop() {
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
		img, err := f.pixelRead(r, ro, func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error) {
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

func (f *Stac) registerFeature() {
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
		img, err := f.pixelRead(r, ro, func(rd *geo.Reader, o geo.ReadOptions) (*geo.Image, error) {
			return readFeature(rd, feat, o)
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
	f.add(http.MethodPost, "/feature", handler)
	f.add(http.MethodPost, "/feature.{format}", handler)
	f.add(http.MethodPost, "/feature/{width}x{height}.{format}", handler)
}
