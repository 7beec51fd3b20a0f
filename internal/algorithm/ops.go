package algorithm

import (
	"math"
	"sort"

	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/geo"
)

// normalizedIndex computes (b1 - b2) / (b1 + b2) over a two-band image.
// Pixels where the denominator is zero come out masked.
type normalizedIndex struct{}

func (normalizedIndex) Apply(img *geo.Image) (*geo.Image, error) {
	if img.NumBands() != 2 {
		return nil, errs.InvalidParam("normalizedIndex requires exactly 2 bands, got %d", img.NumBands())
	}
	out := geo.NewImage(img.Width, img.Height, []string{"index"})
	out.Bounds, out.CRS = img.Bounds, img.CRS
	out.DataType = "Float64"
	for i := range out.Data[0] {
		if img.Mask[i] == 0 {
			continue
		}
		a, b := img.Data[0][i], img.Data[1][i]
		if a+b == 0 {
			continue
		}
		v := (a - b) / (a + b)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out.Data[0][i] = v
		out.Mask[i] = 255
	}
	return out, nil
}

// reduce collapses all input bands into one with the named reducer applied
// across bands per pixel. Sample standard deviation and variance use one
// delta degree of freedom.
type reduce struct {
	name string
}

func (a reduce) Apply(img *geo.Image) (*geo.Image, error) {
	if img.NumBands() < 1 {
		return nil, errs.InvalidParam("%s requires at least one band", a.name)
	}
	out := geo.NewImage(img.Width, img.Height, []string{a.name})
	out.Bounds, out.CRS = img.Bounds, img.CRS
	out.DataType = "Float64"
	n := img.NumBands()
	vals := make([]float64, 0, n)
	for i := range out.Data[0] {
		if img.Mask[i] == 0 {
			continue
		}
		vals = vals[:0]
		for b := 0; b < n; b++ {
			v := img.Data[b][i]
			if math.IsNaN(v) {
				vals = vals[:0]
				break
			}
			vals = append(vals, v)
		}
		if len(vals) == 0 {
			continue
		}
		out.Data[0][i] = reduceValues(a.name, vals)
		out.Mask[i] = 255
	}
	return out, nil
}

func reduceValues(name string, vals []float64) float64 {
	switch name {
	case "min":
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Min(m, v)
		}
		return m
	case "max":
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Max(m, v)
		}
		return m
	case "sum":
		var s float64
		for _, v := range vals {
			s += v
		}
		return s
	case "mean":
		var s float64
		for _, v := range vals {
			s += v
		}
		return s / float64(len(vals))
	case "median":
		sorted := append([]float64(nil), vals...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	case "std", "var":
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
		variance := sq / float64(len(vals)-1)
		if name == "var" {
			return variance
		}
		return math.Sqrt(variance)
	}
	return math.NaN()
}

// cast rounds every pixel with the named integral rounding mode, keeping
// band count and mask unchanged.
type cast struct {
	name string
}

func (a cast) Apply(img *geo.Image) (*geo.Image, error) {
	out := img.Clone()
	var f func(float64) float64
	switch a.name {
	case "ceil":
		f = math.Ceil
	case "floor":
		f = math.Floor
	case "trunc":
		f = math.Trunc
	default:
		return nil, errs.Internal(nil, "unknown cast %q", a.name)
	}
	for _, buf := range out.Data {
		for i, v := range buf {
			buf[i] = f(v)
		}
	}
	return out, nil
}
