package factory

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/geo"
	"github.com/dynraster/tileserv/internal/params"
	"github.com/dynraster/tileserv/internal/tms"
)

// tileJSON builds a TileJSON 2.2.0 document pointing back at this
// service's tile routes. Parameters that only shape the document itself
// (tile_format, tile_scale, minzoom, maxzoom) are consumed here and
// stripped from the forwarded tile query.
func (b *Base) tileJSON(r *http.Request, t *tms.TileMatrixSet, bounds [4]float64, tilesPrefix string) (map[string]any, error) {
	q := r.URL.Query()

	tileFormat, err := geo.ParseFormat(q.Get("tile_format"))
	if err != nil {
		return nil, err
	}
	_, scale, err := params.Tile(q, q.Get("tile_scale"))
	if err != nil {
		return nil, err
	}
	minzoom, maxzoom := t.MinZoom, t.MaxZoom
	if raw := q.Get("minzoom"); raw != "" {
		if minzoom, err = atoiPositiveOrZero("minzoom", raw); err != nil {
			return nil, err
		}
	}
	if raw := q.Get("maxzoom"); raw != "" {
		if maxzoom, err = atoiPositiveOrZero("maxzoom", raw); err != nil {
			return nil, err
		}
	}
	if maxzoom < minzoom {
		return nil, errs.InvalidParam("maxzoom %d below minzoom %d", maxzoom, minzoom)
	}

	for _, key := range []string{"tileMatrixSetId", "tile_format", "tile_scale", "minzoom", "maxzoom"} {
		q.Del(key)
	}

	tilePath := "/{z}/{x}/{y}"
	if scale > 1 {
		tilePath += "@" + strconv.Itoa(scale) + "x"
	}
	if tileFormat != geo.FormatAuto {
		tilePath += "." + string(tileFormat)
	}
	tileURL := baseURL(r) + b.routePrefix(r) + tilesPrefix + "/" + t.ID + tilePath + queryString(q)

	name := q.Get("url")
	return map[string]any{
		"tilejson": "2.2.0",
		"name":     name,
		"version":  "1.0.0",
		"scheme":   "xyz",
		"tiles":    []string{tileURL},
		"minzoom":  minzoom,
		"maxzoom":  maxzoom,
		"bounds":   bounds,
		"center": [3]float64{
			(bounds[0] + bounds[2]) / 2,
			(bounds[1] + bounds[3]) / 2,
			float64(minzoom),
		},
	}, nil
}

// routePrefix recovers the mount prefix of the current factory from the
// request path by trimming the matched document suffix and, when present,
// the tileMatrixSetId path segment.
func (b *Base) routePrefix(r *http.Request) string {
	path := r.URL.Path
	for _, suffix := range []string{"/tilejson.json", "/WMTSCapabilities.xml", "/map", "/wms"} {
		if i := strings.LastIndex(path, suffix); i >= 0 {
			path = path[:i]
			break
		}
	}
	// strip a trailing tileMatrixSetId segment
	if i := strings.LastIndex(path, "/"); i >= 0 {
		last := path[i+1:]
		if last != "" && !strings.Contains(last, ".") {
			if _, err := b.cfg.TMS.Get(last); err == nil {
				path = path[:i]
			}
		}
	}
	return path
}

func atoiPositiveOrZero(name, raw string) (int, error) {
	if raw == "0" {
		return 0, nil
	}
	return atoiPositive(name, raw)
}
