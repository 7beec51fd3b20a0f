package algorithm

import (
	"math"

	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/geo"
)

// gradient2D computes central-difference gradients over a single band, one
// value per pixel in each axis. Edge pixels use one-sided differences. A
// pixel whose stencil touches a masked neighbor is reported masked.
func gradient2D(buf []float64, mask []uint8, w, h int) (gx, gy []float64, out []uint8) {
	gx = make([]float64, w*h)
	gy = make([]float64, w*h)
	out = make([]uint8, w*h)
	at := func(x, y int) (float64, bool) {
		i := y*w + x
		return buf[i], mask == nil || mask[i] != 0
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			xl, xr := x-1, x+1
			if xl < 0 {
				xl = 0
			}
			if xr >= w {
				xr = w - 1
			}
			yl, yr := y-1, y+1
			if yl < 0 {
				yl = 0
			}
			if yr >= h {
				yr = h - 1
			}
			_, okc := at(x, y)
			l, okl := at(xl, y)
			r, okr := at(xr, y)
			u, oku := at(x, yl)
			d, okd := at(x, yr)
			if !okc || !okl || !okr || !oku || !okd {
				continue
			}
			if xr > xl {
				gx[i] = (r - l) / float64(xr-xl)
			}
			if yr > yl {
				gy[i] = (d - u) / float64(yr-yl)
			}
			out[i] = 255
		}
	}
	return gx, gy, out
}

// hillshade renders single-band elevation as an illuminated grayscale
// surface. It reads a context border around the window so edge gradients
// are computed from real neighbors, then trims it away.
type hillshade struct {
	azimuth  float64
	altitude float64
	buffer   int
}

func (a hillshade) Apply(img *geo.Image) (*geo.Image, error) {
	if img.NumBands() < 1 {
		return nil, errs.InvalidParam("hillshade requires a single elevation band")
	}
	gx, gy, mask := gradient2D(img.Data[0], img.Mask, img.Width, img.Height)

	out := geo.NewImage(img.Width, img.Height, []string{"hillshade"})
	out.Bounds, out.CRS = img.Bounds, img.CRS
	out.DataType = "Byte"
	azRad := a.azimuth * math.Pi / 180.0
	altRad := a.altitude * math.Pi / 180.0
	for i := range out.Data[0] {
		if mask[i] == 0 {
			continue
		}
		slope := math.Pi/2.0 - math.Atan(math.Hypot(gx[i], gy[i]))
		aspect := math.Atan2(-gx[i], gy[i])
		shaded := math.Sin(altRad)*math.Sin(slope) +
			math.Cos(altRad)*math.Cos(slope)*math.Cos(azRad-math.Pi/2.0-aspect)
		out.Data[0][i] = 255.0 * (shaded + 1.0) / 2.0
		out.Mask[i] = 255
	}
	out.Trim(a.buffer)
	return out, nil
}

// slope reports terrain steepness in degrees from single-band elevation.
type slope struct {
	buffer int
}

func (a slope) Apply(img *geo.Image) (*geo.Image, error) {
	if img.NumBands() < 1 {
		return nil, errs.InvalidParam("slope requires a single elevation band")
	}
	resX := (img.Bounds[2] - img.Bounds[0]) / float64(img.Width)
	resY := (img.Bounds[3] - img.Bounds[1]) / float64(img.Height)
	if resX == 0 {
		resX = 1
	}
	if resY == 0 {
		resY = 1
	}
	gx, gy, mask := gradient2D(img.Data[0], img.Mask, img.Width, img.Height)

	out := geo.NewImage(img.Width, img.Height, []string{"slope"})
	out.Bounds, out.CRS = img.Bounds, img.CRS
	out.DataType = "Float64"
	for i := range out.Data[0] {
		if mask[i] == 0 {
			continue
		}
		out.Data[0][i] = math.Atan(math.Hypot(gx[i]/resX, gy[i]/resY)) * 180.0 / math.Pi
		out.Mask[i] = 255
	}
	out.Trim(a.buffer)
	return out, nil
}

// contours draws elevation isolines: a pixel is on a contour when its value
// sits within the line thickness of a multiple of the increment.
type contours struct {
	increment float64
	thickness float64
	minz      float64
	maxz      float64
	buffer    int
}

func (a contours) Apply(img *geo.Image) (*geo.Image, error) {
	if img.NumBands() < 1 {
		return nil, errs.InvalidParam("contours requires a single elevation band")
	}
	if a.increment <= 0 {
		return nil, errs.InvalidParam("contours: increment must be positive")
	}
	out := geo.NewImage(img.Width, img.Height, []string{"contours"})
	out.Bounds, out.CRS = img.Bounds, img.CRS
	out.DataType = "Byte"
	for i, v := range img.Data[0] {
		if img.Mask[i] == 0 || v < a.minz || v > a.maxz {
			continue
		}
		out.Mask[i] = 255
		if math.Mod(v-a.minz, a.increment) < a.thickness {
			out.Data[0][i] = 255
		}
	}
	out.Trim(a.buffer)
	return out, nil
}

// terrainRGBEncode packs elevation into 24-bit RGB so browser clients can
// decode height per pixel: elevation = baseval + (R*65536 + G*256 + B) * interval.
type terrainRGBEncode struct {
	interval     float64
	baseval      float64
	nodataHeight *float64
}

func (a terrainRGBEncode) Apply(img *geo.Image) (*geo.Image, error) {
	if img.NumBands() < 1 {
		return nil, errs.InvalidParam("terrainrgb requires a single elevation band")
	}
	if a.interval <= 0 {
		return nil, errs.InvalidParam("terrainrgb: interval must be positive")
	}
	out := geo.NewImage(img.Width, img.Height, []string{"red", "green", "blue"})
	out.Bounds, out.CRS = img.Bounds, img.CRS
	out.DataType = "Byte"
	for i, v := range img.Data[0] {
		valid := img.Mask[i] != 0 && !math.IsNaN(v)
		if !valid {
			if a.nodataHeight == nil {
				continue
			}
			v = *a.nodataHeight
		}
		q := math.Round((v - a.baseval) / a.interval)
		if q < 0 {
			q = 0
		}
		if q > 0xFFFFFF {
			q = 0xFFFFFF
		}
		n := uint32(q)
		out.Data[0][i] = float64((n >> 16) & 0xFF)
		out.Data[1][i] = float64((n >> 8) & 0xFF)
		out.Data[2][i] = float64(n & 0xFF)
		if valid {
			out.Mask[i] = 255
		}
	}
	return out, nil
}

// terrainRGBDecode recovers elevation from Mapbox Terrain-RGB tiles:
// elevation = -10000 + ((R*65536 + G*256 + B) * 0.1).
type terrainRGBDecode struct {
	interval float64
	baseval  float64
}

func (a terrainRGBDecode) Apply(img *geo.Image) (*geo.Image, error) {
	if img.NumBands() < 3 {
		return nil, errs.InvalidParam("terrainrgb decoding requires RGB input")
	}
	out := geo.NewImage(img.Width, img.Height, []string{"elevation"})
	out.Bounds, out.CRS = img.Bounds, img.CRS
	out.DataType = "Float64"
	for i := range out.Data[0] {
		if img.Mask[i] == 0 {
			continue
		}
		r, g, b := img.Data[0][i], img.Data[1][i], img.Data[2][i]
		out.Data[0][i] = a.baseval + (r*65536.0+g*256.0+b)*a.interval
		out.Mask[i] = 255
	}
	return out, nil
}

// terrariumEncode packs elevation into the Terrarium scheme used by the
// Mapzen tilesets: elevation = (R*256 + G + B/256) - 32768.
type terrariumEncode struct{}

func (terrariumEncode) Apply(img *geo.Image) (*geo.Image, error) {
	if img.NumBands() < 1 {
		return nil, errs.InvalidParam("terrarium requires a single elevation band")
	}
	out := geo.NewImage(img.Width, img.Height, []string{"red", "green", "blue"})
	out.Bounds, out.CRS = img.Bounds, img.CRS
	out.DataType = "Byte"
	for i, v := range img.Data[0] {
		if img.Mask[i] == 0 || math.IsNaN(v) {
			continue
		}
		s := v + 32768.0
		if s < 0 {
			s = 0
		}
		if s > 65535.99609375 {
			s = 65535.99609375
		}
		out.Data[0][i] = math.Floor(s / 256.0)
		out.Data[1][i] = math.Floor(math.Mod(s, 256.0))
		out.Data[2][i] = math.Floor(math.Mod(s, 1.0) * 256.0)
		out.Mask[i] = 255
	}
	return out, nil
}

// terrariumDecode recovers elevation from Terrarium tiles.
type terrariumDecode struct{}

func (terrariumDecode) Apply(img *geo.Image) (*geo.Image, error) {
	if img.NumBands() < 3 {
		return nil, errs.InvalidParam("terrarium decoding requires RGB input")
	}
	out := geo.NewImage(img.Width, img.Height, []string{"elevation"})
	out.Bounds, out.CRS = img.Bounds, img.CRS
	out.DataType = "Float64"
	for i := range out.Data[0] {
		if img.Mask[i] == 0 {
			continue
		}
		r, g, b := img.Data[0][i], img.Data[1][i], img.Data[2][i]
		out.Data[0][i] = r*256.0 + g + b/256.0 - 32768.0
		out.Mask[i] = 255
	}
	return out, nil
}
