package mosaic

import (
	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/geo"
	"github.com/dynraster/tileserv/internal/tms"
)

// CreateOptions parameterize manifest creation.
type CreateOptions struct {
	Name        string
	Description string
	Attribution string
	MinZoom     int
	MaxZoom     int
	// QuadkeyZoom keys the manifest at a different zoom than MinZoom.
	QuadkeyZoom *int
}

// FromFiles builds a manifest covering the given datasets. Each dataset is
// opened once to resolve its WGS84 footprint; every quadkey at the keyed
// zoom intersecting that footprint lists the dataset, in input order.
func FromFiles(refs []string, o CreateOptions) (*MosaicJSON, error) {
	if len(refs) == 0 {
		return nil, errs.InvalidParam("mosaic creation requires at least one dataset")
	}
	if o.MaxZoom < o.MinZoom {
		return nil, errs.InvalidParam("invalid zoom range [%d, %d]", o.MinZoom, o.MaxZoom)
	}
	m := &MosaicJSON{
		MosaicJSON:  "0.0.3",
		Name:        o.Name,
		Description: o.Description,
		Attribution: o.Attribution,
		Version:     "1.0.0",
		MinZoom:     o.MinZoom,
		MaxZoom:     o.MaxZoom,
		QuadkeyZoom: o.QuadkeyZoom,
		Tiles:       map[string][]string{},
	}
	qz := m.quadkeyZoom()
	t, err := tms.NewRegistry().Get(tms.WebMercatorQuad)
	if err != nil {
		return nil, err
	}

	total := [4]float64{180, 90, -180, -90}
	for _, ref := range refs {
		r, err := geo.Open(ref, geo.ReaderOptions{})
		if err != nil {
			return nil, err
		}
		bounds, err := r.Bounds()
		r.Close()
		if err != nil {
			return nil, err
		}
		total[0] = minf(total[0], bounds[0])
		total[1] = minf(total[1], bounds[1])
		total[2] = maxf(total[2], bounds[2])
		total[3] = maxf(total[3], bounds[3])

		x0, y1 := t.TileForLonLat(bounds[0], bounds[1], qz)
		x1, y0 := t.TileForLonLat(bounds[2], bounds[3], qz)
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				qk := Quadkey(qz, x, y)
				m.Tiles[qk] = append(m.Tiles[qk], ref)
			}
		}
	}

	m.Bounds = total
	m.Center = [3]float64{
		(total[0] + total[2]) / 2,
		(total[1] + total[3]) / 2,
		float64(o.MinZoom),
	}
	return m, nil
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
