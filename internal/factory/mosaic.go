package factory

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/geo"
	"github.com/dynraster/tileserv/internal/mosaic"
	"github.com/dynraster/tileserv/internal/params"
)

// Mosaic serves virtual mosaics: manifest management plus tiles composed
// from the constituent datasets covering each request.
type Mosaic struct {
	Base
	store *mosaic.Store
	// strictZoom rejects tile requests outside the manifest zoom range.
	strictZoom bool
}

// NewMosaic registers the mosaic routes.
func NewMosaic(cfg Config, store *mosaic.Store, strictZoom bool) *Mosaic {
	f := &Mosaic{Base: NewBase(cfg), store: store, strictZoom: strictZoom}
	f.registerCreate()
	f.registerUpdate()
	f.registerManifest()
	f.registerInfo()
	f.registerBounds()
	f.registerTiles()
	f.registerTileAssets()
	f.registerPointAssets()
	f.registerPoint()
	f.registerTileJSON()
	f.registerWMTS()
	return f
}

// createBody is the manifest creation payload.
type createBody struct {
	URL         string   `json:"url"`
	Files       []string `json:"files"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Attribution string   `json:"attribution,omitempty"`
	MinZoom     int      `json:"minzoom"`
	MaxZoom     int      `json:"maxzoom"`
	QuadkeyZoom *int     `json:"quadkey_zoom,omitempty"`
}

func (f *Mosaic) create(w http.ResponseWriter, r *http.Request, overwrite bool) {
	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		f.writeError(w, r, errs.BadRequest("invalid request body: %v", err))
		return
	}
	if body.URL == "" {
		f.writeError(w, r, errs.InvalidParam("missing required field: url"))
		return
	}
	m, err := mosaic.FromFiles(body.Files, mosaic.CreateOptions{
		Name:        body.Name,
		Description: body.Description,
		Attribution: body.Attribution,
		MinZoom:     body.MinZoom,
		MaxZoom:     body.MaxZoom,
		QuadkeyZoom: body.QuadkeyZoom,
	})
	if err != nil {
		f.writeError(w, r, err)
		return
	}
	if err := f.store.Write(r.Context(), body.URL, m, overwrite); err != nil {
		f.writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", mosaic.ETag(m))
	f.writeJSON(w, r, m)
}

func (f *Mosaic) registerCreate() {
	f.add(http.MethodPost, "/", func(w http.ResponseWriter, r *http.Request) {
		f.create(w, r, false)
	})
}

func (f *Mosaic) registerUpdate() {
	f.add(http.MethodPut, "/", func(w http.ResponseWriter, r *http.Request) {
		f.create(w, r, true)
	})
}

func (f *Mosaic) manifest(r *http.Request) (*mosaic.MosaicJSON, error) {
	ref, err := datasetRef(r)
	if err != nil {
		return nil, err
	}
	return f.store.Read(r.Context(), ref)
}

func (f *Mosaic) registerManifest() {
	f.add(http.MethodGet, "/mosaicjson", func(w http.ResponseWriter, r *http.Request) {
		m, err := f.manifest(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		w.Header().Set("ETag", mosaic.ETag(m))
		f.writeJSON(w, r, m)
	})
}

func (f *Mosaic) registerInfo() {
	f.add(http.MethodGet, "/info", func(w http.ResponseWriter, r *http.Request) {
		m, err := f.manifest(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeJSON(w, r, map[string]any{
			"bounds":      m.Bounds,
			"center":      m.Center,
			"minzoom":     m.MinZoom,
			"maxzoom":     m.MaxZoom,
			"name":        m.Name,
			"quadkeys":    len(m.Tiles),
			"attribution": m.Attribution,
		})
	})
}

func (f *Mosaic) registerBounds() {
	f.add(http.MethodGet, "/bounds", func(w http.ResponseWriter, r *http.Request) {
		m, err := f.manifest(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeJSON(w, r, map[string]any{"bounds": m.Bounds})
	})
}

// composeTile reads the tile window from every covering asset and merges
// under the pixel-selection policy. The first policy stops reading as soon
// as the output is fully covered.
func (f *Mosaic) composeTile(assets []string, policy mosaic.PixelSelection,
	read func(rd *geo.Reader) (*geo.Image, error), ropts geo.ReaderOptions) (*geo.Image, []string, error) {

	var images []*geo.Image
	var used []string
	for _, asset := range assets {
		rd, err := geo.Open(asset, ropts)
		if err != nil {
			return nil, nil, err
		}
		img, err := read(rd)
		rd.Close()
		if err != nil {
			if errs.StatusOf(err) == http.StatusNotFound {
				// asset does not cover this tile
				continue
			}
			return nil, nil, err
		}
		images = append(images, img)
		used = append(used, asset)
		if !policy.NeedsAll() && img.Opaque() {
			break
		}
	}
	out, err := mosaic.Compose(images, policy)
	if err != nil {
		return nil, nil, err
	}
	return out, used, nil
}

func (f *Mosaic) registerTiles() {
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
		m, err := f.manifest(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		if f.strictZoom && (z < m.MinZoom || z > m.MaxZoom) {
			f.writeError(w, r, errs.BadRequest("tile zoom %d outside mosaic zoom range [%d, %d]", z, m.MinZoom, m.MaxZoom))
			return
		}
		policy, err := mosaic.ParsePixelSelection(q.Get("pixel_selection"))
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

		assets := m.AssetsForTile(z, x, y)
		if len(assets) == 0 {
			f.writeError(w, r, errs.TileOutsideBounds(z, x, y))
			return
		}
		img, used, err := f.composeTile(assets, policy, func(rd *geo.Reader) (*geo.Image, error) {
			return rd.Tile(t, z, x, y, ro)
		}, ropts)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		data, mediaType, err := render(img, rnd)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		w.Header().Set("X-Assets", strings.Join(used, ","))
		f.writeImage(w, data, mediaType)
	}
	f.add(http.MethodGet, "/tiles/{tileMatrixSetId}/{z}/{x}/{y}", handler)
	f.add(http.MethodGet, "/tiles/{tileMatrixSetId}/{z}/{x}/{y}.{format}", handler)
	f.add(http.MethodGet, "/tiles/{tileMatrixSetId}/{z}/{x}/{y}@{scale}x", handler)
	f.add(http.MethodGet, "/tiles/{tileMatrixSetId}/{z}/{x}/{y}@{scale}x.{format}", handler)
}

func (f *Mosaic) registerTileAssets() {
	f.add(http.MethodGet, "/{z}/{x}/{y}/assets", func(w http.ResponseWriter, r *http.Request) {
		z, x, y, err := tileCoords(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		m, err := f.manifest(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		assets := m.AssetsForTile(z, x, y)
		if assets == nil {
			assets = []string{}
		}
		f.writeJSON(w, r, assets)
	})
}

func (f *Mosaic) registerPointAssets() {
	f.add(http.MethodGet, "/point/{lon},{lat}/assets", func(w http.ResponseWriter, r *http.Request) {
		lon, lat, err := params.LonLat(chi.URLParam(r, "lon"), chi.URLParam(r, "lat"))
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		m, err := f.manifest(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		assets := m.AssetsForPoint(lon, lat)
		if assets == nil {
			assets = []string{}
		}
		f.writeJSON(w, r, assets)
	})
}

func (f *Mosaic) registerPoint() {
	f.add(http.MethodGet, "/point/{lon},{lat}", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lon, lat, err := params.LonLat(chi.URLParam(r, "lon"), chi.URLParam(r, "lat"))
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		m, err := f.manifest(r)
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
		assets := m.AssetsForPoint(lon, lat)
		if len(assets) == 0 {
			f.writeError(w, r, errs.PointOutsideBounds(lon, lat))
			return
		}

		type assetPoint struct {
			Asset  string    `json:"asset"`
			Values []float64 `json:"values"`
		}
		var out []assetPoint
		for _, asset := range assets {
			rd, err := geo.Open(asset, ropts)
			if err != nil {
				f.writeError(w, r, err)
				return
			}
			pt, err := rd.Point(lon, lat, ro)
			rd.Close()
			if err != nil {
				if errs.StatusOf(err) == http.StatusBadRequest {
					continue
				}
				f.writeError(w, r, err)
				return
			}
			out = append(out, assetPoint{Asset: asset, Values: pt.Values})
		}
		f.writeJSON(w, r, map[string]any{
			"coordinates": [2]float64{lon, lat},
			"values":      out,
		})
	})
}

func (f *Mosaic) registerTileJSON() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		t, err := f.matrixSet(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		m, err := f.manifest(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		doc, err := f.tileJSON(r, t, m.Bounds, "/tiles")
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		doc["minzoom"] = m.MinZoom
		doc["maxzoom"] = m.MaxZoom
		if m.Name != "" {
			doc["name"] = m.Name
		}
		f.writeJSON(w, r, doc)
	}
	f.add(http.MethodGet, "/tilejson.json", handler)
	f.add(http.MethodGet, "/{tileMatrixSetId}/tilejson.json", handler)
}

func (f *Mosaic) registerWMTS() {
	handler := func(w http.ResponseWriter, r *http.Request) {
		t, err := f.matrixSet(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		m, err := f.manifest(r)
		if err != nil {
			f.writeError(w, r, err)
			return
		}
		f.writeCapabilities(w, r, t, m.Bounds, "/tiles")
	}
	f.add(http.MethodGet, "/WMTSCapabilities.xml", handler)
	f.add(http.MethodGet, "/{tileMatrixSetId}/WMTSCapabilities.xml", handler)
}
