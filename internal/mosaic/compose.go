package mosaic

import (
	"math"
	"sort"

	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/geo"
)

// PixelSelection names an overlap-resolution policy applied when several
// constituent rasters cover the same output pixel.
type PixelSelection string

const (
	SelectFirst   PixelSelection = "first"
	SelectHighest PixelSelection = "highest"
	SelectLowest  PixelSelection = "lowest"
	SelectMean    PixelSelection = "mean"
	SelectMedian  PixelSelection = "median"
	SelectStdev   PixelSelection = "stdev"
)

// ParsePixelSelection validates a pixel-selection name, defaulting to first.
func ParsePixelSelection(s string) (PixelSelection, error) {
	switch PixelSelection(s) {
	case "":
		return SelectFirst, nil
	case SelectFirst, SelectHighest, SelectLowest, SelectMean, SelectMedian, SelectStdev:
		return PixelSelection(s), nil
	default:
		return "", errs.InvalidParam("invalid pixel_selection %q, expected first, highest, lowest, mean, median or stdev", s)
	}
}

// NeedsAll reports whether the policy must see every overlapping source
// before a pixel settles. The first policy can stop reading as soon as the
// output is fully covered.
func (p PixelSelection) NeedsAll() bool { return p != SelectFirst }

// Compose merges same-shaped images under the policy. Images are visited
// in manifest order; the highest/lowest policies compare on the first band.
func Compose(images []*geo.Image, policy PixelSelection) (*geo.Image, error) {
	if len(images) == 0 {
		return nil, errs.NotFound("no assets found")
	}
	base := images[0]
	for _, img := range images[1:] {
		if img.Width != base.Width || img.Height != base.Height || img.NumBands() != base.NumBands() {
			return nil, errs.Internal(nil, "mosaic assets produced mismatched tile shapes")
		}
	}
	if len(images) == 1 {
		return base, nil
	}

	out := geo.NewImage(base.Width, base.Height, base.Bands)
	out.Bounds, out.CRS, out.DataType = base.Bounds, base.CRS, base.DataType
	n := base.Width * base.Height
	nb := base.NumBands()

	switch policy {
	case SelectFirst:
		for px := 0; px < n; px++ {
			for _, img := range images {
				if img.Mask[px] == 0 {
					continue
				}
				for b := 0; b < nb; b++ {
					out.Data[b][px] = img.Data[b][px]
				}
				out.Mask[px] = 255
				break
			}
		}
	case SelectHighest, SelectLowest:
		for px := 0; px < n; px++ {
			best := math.Inf(-1)
			if policy == SelectLowest {
				best = math.Inf(1)
			}
			for _, img := range images {
				if img.Mask[px] == 0 {
					continue
				}
				v := img.Data[0][px]
				take := out.Mask[px] == 0 ||
					(policy == SelectHighest && v > best) ||
					(policy == SelectLowest && v < best)
				if take {
					best = v
					for b := 0; b < nb; b++ {
						out.Data[b][px] = img.Data[b][px]
					}
					out.Mask[px] = 255
				}
			}
		}
	case SelectMean, SelectMedian, SelectStdev:
		vals := make([]float64, 0, len(images))
		for px := 0; px < n; px++ {
			for b := 0; b < nb; b++ {
				vals = vals[:0]
				for _, img := range images {
					if img.Mask[px] != 0 {
						vals = append(vals, img.Data[b][px])
					}
				}
				if len(vals) == 0 {
					continue
				}
				out.Data[b][px] = aggregate(policy, vals)
				out.Mask[px] = 255
			}
		}
	default:
		return nil, errs.InvalidParam("invalid pixel_selection %q", string(policy))
	}
	return out, nil
}

func aggregate(policy PixelSelection, vals []float64) float64 {
	switch policy {
	case SelectMean:
		var s float64
		for _, v := range vals {
			s += v
		}
		return s / float64(len(vals))
	case SelectMedian:
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	case SelectStdev:
		if len(vals) < 2 {
			return 0
		}
		var s float64
		for _, v := range vals {
			s += v
		}
		mean := s / float64(len(vals))
		var sq float64
		for _, v := range vals {
			d := v - mean
			sq += d * d
		}
		return math.Sqrt(sq / float64(len(vals)))
	}
	return math.NaN()
}
