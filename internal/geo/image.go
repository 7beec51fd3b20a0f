// Package geo wraps the native raster library (GDAL via godal) behind a
// request-scoped Reader and an in-memory Image value. Reprojection, window
// math, decimation and nodata handling are all delegated to the library;
// this package only marshals parameters and buffers.
package geo

import (
	"image"
	"image/color"
	"math"

	"github.com/dynraster/tileserv/internal/colormap"
	"github.com/dynraster/tileserv/internal/errs"
)

// Image is the pixel payload produced by one read operation: band-major
// float64 buffers plus a 0/255 validity mask and geospatial registration.
// Post-processing steps (algorithm, rescale, color formula, colormap)
// transform it in place or return a derived Image; exactly one encode step
// consumes it.
type Image struct {
	Data   [][]float64 // one buffer per band, row-major Width*Height
	Mask   []uint8     // 0 = masked, 255 = valid
	Width  int
	Height int
	Bands  []string   // band names
	Bounds [4]float64 // minx, miny, maxx, maxy in CRS units
	CRS    string
	// DataType records the source pixel type (GDAL name, e.g. "UInt16") so
	// GeoTIFF encoding can round-trip it. Post-processing that converts to
	// display values resets it to "Byte".
	DataType string
}

// NewImage allocates an image with all pixels masked.
func NewImage(width, height int, bands []string) *Image {
	data := make([][]float64, len(bands))
	for i := range data {
		data[i] = make([]float64, width*height)
	}
	return &Image{
		Data:     data,
		Mask:     make([]uint8, width*height),
		Width:    width,
		Height:   height,
		Bands:    bands,
		DataType: "Float64",
	}
}

// NumBands returns the band count.
func (im *Image) NumBands() int { return len(im.Data) }

// Opaque reports whether every pixel is valid. Drives the "auto" output
// format choice: fully opaque renders lossy without alpha.
func (im *Image) Opaque() bool {
	for _, m := range im.Mask {
		if m == 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	cp := *im
	cp.Data = make([][]float64, len(im.Data))
	for i, b := range im.Data {
		cp.Data[i] = append([]float64(nil), b...)
	}
	cp.Mask = append([]uint8(nil), im.Mask...)
	cp.Bands = append([]string(nil), im.Bands...)
	return &cp
}

// Rescale linearly maps value ranges to the byte domain. One range applies
// to every band; otherwise a range per band is required.
func (im *Image) Rescale(ranges [][2]float64) error {
	if len(ranges) == 0 {
		return nil
	}
	if len(ranges) != 1 && len(ranges) != im.NumBands() {
		return errs.InvalidParam("rescale expects 1 or %d ranges, got %d", im.NumBands(), len(ranges))
	}
	for b, buf := range im.Data {
		r := ranges[0]
		if len(ranges) > 1 {
			r = ranges[b]
		}
		span := r[1] - r[0]
		if span == 0 {
			span = 1
		}
		for i, v := range buf {
			v = (v - r[0]) / span * 255.0
			buf[i] = math.Max(0, math.Min(255, v))
		}
	}
	im.DataType = "Byte"
	return nil
}

// ApplyColorMap replaces the single data band with four RGBA bands. Values
// with no colormap entry become masked. Multi-band input is rejected during
// parameter validation, so a mismatch here is a server error.
func (im *Image) ApplyColorMap(cm *colormap.ColorMap) error {
	if im.NumBands() != 1 {
		return errs.InvalidParam("colormap requires a single band, got %d", im.NumBands())
	}
	n := im.Width * im.Height
	out := make([][]float64, 4)
	for i := range out {
		out[i] = make([]float64, n)
	}
	mask := make([]uint8, n)
	for px := 0; px < n; px++ {
		if im.Mask[px] == 0 {
			continue
		}
		c, ok := cm.Lookup(im.Data[0][px])
		if !ok || c[3] == 0 {
			continue
		}
		out[0][px] = float64(c[0])
		out[1][px] = float64(c[1])
		out[2][px] = float64(c[2])
		out[3][px] = float64(c[3])
		mask[px] = 255
	}
	im.Data = out
	im.Mask = mask
	im.Bands = []string{"red", "green", "blue", "alpha"}
	im.DataType = "Byte"
	return nil
}

// ToRGBA converts the image to a stdlib NRGBA for the PNG/JPEG/WebP
// encoders. 1 band replicates to gray, 2 bands are gray+alpha, 3 are RGB
// and 4 are RGBA; the validity mask folds into the alpha channel.
func (im *Image) ToRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, im.Width, im.Height))
	n := im.Width * im.Height
	clamp := func(v float64) uint8 {
		return uint8(math.Max(0, math.Min(255, math.Round(v))))
	}
	for px := 0; px < n; px++ {
		var c color.NRGBA
		switch im.NumBands() {
		case 1:
			g := clamp(im.Data[0][px])
			c = color.NRGBA{R: g, G: g, B: g, A: 255}
		case 2:
			g := clamp(im.Data[0][px])
			c = color.NRGBA{R: g, G: g, B: g, A: clamp(im.Data[1][px])}
		case 3:
			c = color.NRGBA{R: clamp(im.Data[0][px]), G: clamp(im.Data[1][px]), B: clamp(im.Data[2][px]), A: 255}
		default:
			c = color.NRGBA{R: clamp(im.Data[0][px]), G: clamp(im.Data[1][px]), B: clamp(im.Data[2][px]), A: clamp(im.Data[3][px])}
		}
		if im.Mask[px] == 0 {
			c.A = 0
		}
		out.SetNRGBA(px%im.Width, px/im.Width, c)
	}
	return out
}

// Trim crops a uniform pixel border, used by algorithms that consume
// context pixels around the requested window.
func (im *Image) Trim(border int) {
	if border <= 0 {
		return
	}
	w := im.Width - 2*border
	h := im.Height - 2*border
	if w <= 0 || h <= 0 {
		return
	}
	for b, buf := range im.Data {
		out := make([]float64, w*h)
		for y := 0; y < h; y++ {
			copy(out[y*w:(y+1)*w], buf[(y+border)*im.Width+border:(y+border)*im.Width+border+w])
		}
		im.Data[b] = out
	}
	mask := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		copy(mask[y*w:(y+1)*w], im.Mask[(y+border)*im.Width+border:(y+border)*im.Width+border+w])
	}
	im.Mask = mask
	// shrink bounds by the trimmed border
	resX := (im.Bounds[2] - im.Bounds[0]) / float64(im.Width)
	resY := (im.Bounds[3] - im.Bounds[1]) / float64(im.Height)
	im.Bounds = [4]float64{
		im.Bounds[0] + float64(border)*resX,
		im.Bounds[1] + float64(border)*resY,
		im.Bounds[2] - float64(border)*resX,
		im.Bounds[3] - float64(border)*resY,
	}
	im.Width = w
	im.Height = h
}
