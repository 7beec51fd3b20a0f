package factory

import (
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/params"
)

// RegisterExtensions adds the optional routes on top of the single-raster
// set: an OGC WMS adapter, a browser viewer and item-document generation.
func (f *Cog) RegisterExtensions() *Cog {
	f.registerWMS100()
	f.registerViewer()
	f.registerItemDocument()
	return f
}

var wmsVersions = map[string]bool{"1.0.0": true, "1.1.1": true, "1.3.0": true}

// registerWMS100 adapts GetCapabilities and GetMap onto the dynamic
// renderer. WMS 1.3.0 flips the EPSG:4326 bbox to lat/lon axis order;
// earlier versions keep lon/lat.
func (f *Cog) registerWMS100() {
	f.add(http.MethodGet, "/wms", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if svc := q.Get("service"); svc != "" && !strings.EqualFold(svc, "WMS") {
			f.writeError(w, r, errs.InvalidParam("invalid service %q, expected WMS", svc))
			return
		}
		version := q.Get("version")
		if version == "" {
			version = "1.3.0"
		}
		if !wmsVersions[version] {
			f.writeError(w, r, errs.InvalidParam("invalid WMS version %q, supported: 1.0.0, 1.1.1, 1.3.0", version))
			return
		}
		switch strings.ToLower(q.Get("request")) {
		case "getcapabilities":
			f.wmsCapabilities(w, r, version)
		case "getmap", "map", "":
			f.wmsGetMap(w, r, version)
		default:
			f.writeError(w, r, errs.InvalidParam("invalid WMS request %q", q.Get("request")))
		}
	})
}

const wmsCapabilitiesTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<WMS_Capabilities version="{{.Version}}" xmlns="http://www.opengis.net/wms"
    xmlns:xlink="http://www.w3.org/1999/xlink">
  <Service>
    <Name>WMS</Name>
    <Title>{{.Title}}</Title>
  </Service>
  <Capability>
    <Request>
      <GetMap>
        <Format>image/png</Format>
        <Format>image/jpeg</Format>
        <DCPType><HTTP><Get>
          <OnlineResource xlink:href="{{.Endpoint}}"/>
        </Get></HTTP></DCPType>
      </GetMap>
    </Request>
    <Layer>
      <Title>{{.Title}}</Title>
      <Name>default</Name>
      <CRS>EPSG:4326</CRS>
      <CRS>EPSG:3857</CRS>
      <EX_GeographicBoundingBox>
        <westBoundLongitude>{{index .Bounds 0}}</westBoundLongitude>
        <eastBoundLongitude>{{index .Bounds 2}}</eastBoundLongitude>
        <southBoundLatitude>{{index .Bounds 1}}</southBoundLatitude>
        <northBoundLatitude>{{index .Bounds 3}}</northBoundLatitude>
      </EX_GeographicBoundingBox>
    </Layer>
  </Capability>
</WMS_Capabilities>
`

var wmsCapabilitiesTmpl = template.Must(template.New("wms").Parse(wmsCapabilitiesTemplate))

func (f *Cog) wmsCapabilities(w http.ResponseWriter, r *http.Request, version string) {
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
	w.Header().Set("Content-Type", "application/xml")
	_ = wmsCapabilitiesTmpl.Execute(w, struct {
		Version  string
		Title    string
		Bounds   [4]float64
		Endpoint string
	}{
		Version:  version,
		Title:    r.URL.Query().Get("url"),
		Bounds:   bounds,
		Endpoint: baseURL(r) + r.URL.Path,
	})
}

func (f *Cog) wmsGetMap(w http.ResponseWriter, r *http.Request, version string) {
	q := r.URL.Query()

	crs := q.Get("crs")
	if crs == "" {
		crs = q.Get("srs")
	}
	if crs == "" {
		crs = "EPSG:4326"
	}
	bbox, err := params.BBox(q.Get("bbox"))
	if err != nil {
		f.writeError(w, r, err)
		return
	}
	// 1.3.0 uses lat/lon axis order for geographic CRS
	if version == "1.3.0" && strings.EqualFold(crs, "EPSG:4326") {
		bbox = [4]float64{bbox[1], bbox[0], bbox[3], bbox[2]}
	}
	width, err := strconv.Atoi(q.Get("width"))
	if err != nil || width < 1 {
		f.writeError(w, r, errs.InvalidParam("invalid width %q", q.Get("width")))
		return
	}
	height, err := strconv.Atoi(q.Get("height"))
	if err != nil || height < 1 {
		f.writeError(w, r, errs.InvalidParam("invalid height %q", q.Get("height")))
		return
	}

	ro, err := readOptions(q)
	if err != nil {
		f.writeError(w, r, err)
		return
	}
	ro.Width, ro.Height = width, height

	formatName := strings.TrimPrefix(q.Get("format"), "image/")
	rnd, err := f.parseRender(q, formatName)
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
	img, err := rd.Part(bbox, crs, crs, ro)
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

const viewerTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8"/>
  <title>tileserv</title>
  <meta name="viewport" content="width=device-width, initial-scale=1.0"/>
  <link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css"/>
  <script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
  <style>html, body, #map { height: 100%; margin: 0; }</style>
</head>
<body>
  <div id="map"></div>
  <script>
    const map = L.map('map').setView([0, 0], 1);
    fetch("{{.TileJSONURL}}")
      .then(r => { if (!r.ok) throw new Error(r.statusText); return r.json(); })
      .then(tj => {
        L.tileLayer(tj.tiles[0], {
          minZoom: tj.minzoom,
          maxZoom: tj.maxzoom,
          attribution: tj.attribution || ''
        }).addTo(map);
        const b = tj.bounds;
        map.fitBounds([[b[1], b[0]], [b[3], b[2]]]);
      })
      .catch(err => alert('tilejson: ' + err.message));
  </script>
</body>
</html>
`

var viewerTmpl = template.Must(template.New("viewer").Parse(viewerTemplate))

// registerViewer serves a minimal browser map wired to the tilejson route.
func (f *Cog) registerViewer() {
	f.add(http.MethodGet, "/map", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		tileJSONURL := baseURL(r) + f.routePrefix(r) + "/tilejson.json" + queryString(q)
		w.Header().Set("Content-Type", "text/html")
		_ = viewerTmpl.Execute(w, struct{ TileJSONURL string }{TileJSONURL: tileJSONURL})
	})
}

// registerItemDocument generates a catalog item document describing the
// dataset: footprint geometry, projection metadata and one asset entry.
func (f *Cog) registerItemDocument() {
	f.add(http.MethodGet, "/stac", func(w http.ResponseWriter, r *http.Request) {
		ref, err := datasetRef(r)
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
		info, err := rd.Info()
		if err != nil {
			f.writeError(w, r, err)
			return
		}

		id := ref
		if i := strings.LastIndex(id, "/"); i >= 0 {
			id = id[i+1:]
		}
		doc := boundsFeature(info.Bounds, map[string]any{
			"datetime":   time.Now().UTC().Format(time.RFC3339),
			"proj:shape": [2]int{info.Height, info.Width},
		})
		doc["stac_version"] = "1.0.0"
		doc["id"] = id
		doc["assets"] = map[string]any{
			"data": map[string]any{
				"href":  ref,
				"type":  "image/tiff; application=geotiff",
				"roles": []string{"data"},
			},
		}
		doc["links"] = []any{}
		f.writeJSON(w, r, doc)
	})
}
