// Package mosaic implements MosaicJSON virtual mosaics: a manifest mapping
// quadkeys to lists of constituent dataset references, storage backends for
// reading and writing manifests, and per-pixel composition of overlapping
// sources.
package mosaic

import (
	"sort"
	"strings"

	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/tms"
)

// MosaicJSON is the manifest document, spec version 0.0.3.
type MosaicJSON struct {
	MosaicJSON  string              `json:"mosaicjson"`
	Name        string              `json:"name,omitempty"`
	Description string              `json:"description,omitempty"`
	Version     string              `json:"version"`
	Attribution string              `json:"attribution,omitempty"`
	MinZoom     int                 `json:"minzoom"`
	MaxZoom     int                 `json:"maxzoom"`
	QuadkeyZoom *int                `json:"quadkey_zoom,omitempty"`
	Bounds      [4]float64          `json:"bounds"`
	Center      [3]float64          `json:"center"`
	Tiles       map[string][]string `json:"tiles"`
}

// quadkeyZoom is the zoom level the manifest is keyed at.
func (m *MosaicJSON) quadkeyZoom() int {
	if m.QuadkeyZoom != nil {
		return *m.QuadkeyZoom
	}
	return m.MinZoom
}

// Quadkey encodes tile coordinates in the Bing Maps quadkey scheme.
func Quadkey(z, x, y int) string {
	var b strings.Builder
	for i := z; i > 0; i-- {
		digit := byte('0')
		mask := 1 << (i - 1)
		if x&mask != 0 {
			digit++
		}
		if y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}

// QuadkeyToTile decodes a quadkey back to tile coordinates.
func QuadkeyToTile(qk string) (z, x, y int, err error) {
	z = len(qk)
	for i, c := range qk {
		mask := 1 << (z - i - 1)
		switch c {
		case '0':
		case '1':
			x |= mask
		case '2':
			y |= mask
		case '3':
			x |= mask
			y |= mask
		default:
			return 0, 0, 0, errs.BadRequest("invalid quadkey %q", qk)
		}
	}
	return z, x, y, nil
}

// AssetsForTile resolves which constituent datasets cover a tile. Tiles
// above the quadkey zoom look up their ancestor key; tiles below it merge
// the assets of every descendant key, preserving manifest order and
// dropping duplicates.
func (m *MosaicJSON) AssetsForTile(z, x, y int) []string {
	qz := m.quadkeyZoom()
	qk := Quadkey(z, x, y)

	var keys []string
	switch {
	case z >= qz:
		keys = []string{qk[:qz]}
	default:
		for key := range m.Tiles {
			if strings.HasPrefix(key, qk) {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
	}

	var assets []string
	seen := map[string]bool{}
	for _, key := range keys {
		for _, asset := range m.Tiles[key] {
			if !seen[asset] {
				seen[asset] = true
				assets = append(assets, asset)
			}
		}
	}
	return assets
}

// AssetsForPoint resolves constituent datasets covering a lon/lat by
// looking up the quadkey at the keyed zoom.
func (m *MosaicJSON) AssetsForPoint(lon, lat float64) []string {
	qz := m.quadkeyZoom()
	t, _ := tms.NewRegistry().Get(tms.WebMercatorQuad)
	x, y := t.TileForLonLat(lon, lat, qz)
	return m.AssetsForTile(qz, x, y)
}

// Validate checks the structural invariants of a manifest.
func (m *MosaicJSON) Validate() error {
	if m.MosaicJSON == "" {
		return errs.BadRequest("mosaic manifest missing mosaicjson version")
	}
	if m.MinZoom < 0 || m.MaxZoom < m.MinZoom {
		return errs.BadRequest("mosaic manifest has invalid zoom range [%d, %d]", m.MinZoom, m.MaxZoom)
	}
	qz := m.quadkeyZoom()
	for key := range m.Tiles {
		if len(key) != qz {
			return errs.BadRequest("mosaic key %q does not match quadkey zoom %d", key, qz)
		}
	}
	return nil
}
