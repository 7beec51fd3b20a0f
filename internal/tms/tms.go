// Package tms holds the registry of OGC TileMatrixSets and the tile
// indexing math shared by every endpoint factory. The registry is built
// once at process start and never mutated afterwards; Register returns
// an extended copy.
package tms

import (
	"math"
	"sort"

	"github.com/dynraster/tileserv/internal/errs"
)

const (
	earthRadius = 6378137.0
	originShift = math.Pi * earthRadius // 20037508.342789244

	// OGC standardized rendering pixel size (0.28 mm).
	pixelSize = 0.00028

	// meters per degree at the equator, used for scale denominators of
	// geographic tiling schemes
	metersPerDegree = 111319.49079327358

	webMercatorMaxLat = 85.051128779806604
)

// TileMatrixSet describes one named tiling scheme. Zoom levels are uniform
// power-of-two pyramids, which covers every scheme this service registers.
type TileMatrixSet struct {
	ID          string
	Title       string
	CRS         string     // e.g. "EPSG:3857"
	Extent      [4]float64 // minx, miny, maxx, maxy in CRS units
	TileSize    int
	MinZoom     int
	MaxZoom     int
	MatrixBaseX int // matrix width at zoom 0
	MatrixBaseY int // matrix height at zoom 0
	Geographic  bool
}

// MatrixSize returns the number of tile columns and rows at zoom z.
func (t *TileMatrixSet) MatrixSize(z int) (cols, rows int) {
	return t.MatrixBaseX << uint(z), t.MatrixBaseY << uint(z)
}

// Resolution returns CRS units per pixel at zoom z.
func (t *TileMatrixSet) Resolution(z int) float64 {
	cols, _ := t.MatrixSize(z)
	return (t.Extent[2] - t.Extent[0]) / float64(cols*t.TileSize)
}

// ScaleDenominator returns the OGC scale denominator for zoom z.
func (t *TileMatrixSet) ScaleDenominator(z int) float64 {
	res := t.Resolution(z)
	if t.Geographic {
		res *= metersPerDegree
	}
	return res / pixelSize
}

// TileBounds returns the extent of tile z/x/y in CRS units.
func (t *TileMatrixSet) TileBounds(z, x, y int) [4]float64 {
	res := t.Resolution(z)
	span := res * float64(t.TileSize)
	minx := t.Extent[0] + float64(x)*span
	maxy := t.Extent[3] - float64(y)*span
	return [4]float64{minx, maxy - span, minx + span, maxy}
}

// ValidTile reports whether z/x/y addresses a tile inside the matrix.
func (t *TileMatrixSet) ValidTile(z, x, y int) bool {
	if z < t.MinZoom || z > t.MaxZoom {
		return false
	}
	cols, rows := t.MatrixSize(z)
	return x >= 0 && x < cols && y >= 0 && y < rows
}

// GeoToCRS projects a WGS84 lon/lat into the scheme's CRS.
func (t *TileMatrixSet) GeoToCRS(lon, lat float64) (x, y float64) {
	if t.Geographic {
		return lon, lat
	}
	lat = math.Max(-webMercatorMaxLat, math.Min(webMercatorMaxLat, lat))
	x = lon * originShift / 180.0
	y = math.Log(math.Tan((90.0+lat)*math.Pi/360.0)) * earthRadius
	return x, y
}

// CRSToGeo unprojects CRS coordinates back to WGS84 lon/lat.
func (t *TileMatrixSet) CRSToGeo(x, y float64) (lon, lat float64) {
	if t.Geographic {
		return x, y
	}
	lon = x / originShift * 180.0
	lat = 180.0 / math.Pi * (2.0*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2.0)
	return lon, lat
}

// TileGeoBounds returns the WGS84 extent of tile z/x/y.
func (t *TileMatrixSet) TileGeoBounds(z, x, y int) [4]float64 {
	b := t.TileBounds(z, x, y)
	w, s := t.CRSToGeo(b[0], b[1])
	e, n := t.CRSToGeo(b[2], b[3])
	return [4]float64{w, s, e, n}
}

// TileForLonLat returns the tile containing a WGS84 point at zoom z.
func (t *TileMatrixSet) TileForLonLat(lon, lat float64, z int) (x, y int) {
	px, py := t.GeoToCRS(lon, lat)
	res := t.Resolution(z)
	span := res * float64(t.TileSize)
	x = int(math.Floor((px - t.Extent[0]) / span))
	y = int(math.Floor((t.Extent[3] - py) / span))
	cols, rows := t.MatrixSize(z)
	x = max(0, min(x, cols-1))
	y = max(0, min(y, rows-1))
	return x, y
}

// ZoomForResolution returns the lowest zoom whose resolution is at least
// as fine as res, clamped to the scheme's zoom range.
func (t *TileMatrixSet) ZoomForResolution(res float64) int {
	for z := t.MinZoom; z <= t.MaxZoom; z++ {
		if t.Resolution(z) <= res {
			return z
		}
	}
	return t.MaxZoom
}

// Identifiers of the built-in tiling schemes.
const (
	WebMercatorQuad    = "WebMercatorQuad"
	WebMercatorQuad512 = "WebMercatorQuad@512"
	WGS1984Quad        = "WGS1984Quad"
)

// Registry is an immutable name -> TileMatrixSet mapping.
type Registry struct {
	m map[string]*TileMatrixSet
}

// NewRegistry returns the registry of built-in tiling schemes.
func NewRegistry() Registry {
	webMercator := &TileMatrixSet{
		ID:       WebMercatorQuad,
		Title:    "Google Maps Compatible for the World",
		CRS:      "EPSG:3857",
		Extent:   [4]float64{-originShift, -originShift, originShift, originShift},
		TileSize: 256, MinZoom: 0, MaxZoom: 24,
		MatrixBaseX: 1, MatrixBaseY: 1,
	}
	webMercator512 := &TileMatrixSet{
		ID:       WebMercatorQuad512,
		Title:    "Google Maps Compatible for the World, 512x512 tiles",
		CRS:      "EPSG:3857",
		Extent:   [4]float64{-originShift, -originShift, originShift, originShift},
		TileSize: 512, MinZoom: 0, MaxZoom: 23,
		MatrixBaseX: 1, MatrixBaseY: 1,
	}
	wgs84 := &TileMatrixSet{
		ID:       WGS1984Quad,
		Title:    "CRS84 for the World",
		CRS:      "EPSG:4326",
		Extent:   [4]float64{-180, -90, 180, 90},
		TileSize: 256, MinZoom: 0, MaxZoom: 23,
		MatrixBaseX: 2, MatrixBaseY: 1,
		Geographic: true,
	}
	return Registry{m: map[string]*TileMatrixSet{
		webMercator.ID:    webMercator,
		webMercator512.ID: webMercator512,
		wgs84.ID:          wgs84,
	}}
}

// Register returns a new registry extended with the given schemes. Duplicate
// ids overwrite in the returned registry only.
func (r Registry) Register(sets ...*TileMatrixSet) Registry {
	m := make(map[string]*TileMatrixSet, len(r.m)+len(sets))
	for k, v := range r.m {
		m[k] = v
	}
	for _, s := range sets {
		m[s.ID] = s
	}
	return Registry{m: m}
}

// Get resolves a scheme id, failing with a validation error for unknown ids.
func (r Registry) Get(id string) (*TileMatrixSet, error) {
	if s, ok := r.m[id]; ok {
		return s, nil
	}
	return nil, errs.InvalidParam("invalid tileMatrixSetId %q, registered: %v", id, r.IDs())
}

// IDs lists registered scheme ids in sorted order.
func (r Registry) IDs() []string {
	ids := make([]string, 0, len(r.m))
	for k := range r.m {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}
