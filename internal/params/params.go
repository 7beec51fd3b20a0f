// Package params decodes query string values into the typed options the
// raster layer consumes. Every parse failure is a 422 validation error
// raised before any dataset is opened.
package params

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/dynraster/tileserv/internal/colormap"
	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/expr"
	"github.com/dynraster/tileserv/internal/geo"
)

// Indexes parses repeated bidx values, 1-based band selectors. Values may
// also be comma separated inside one occurrence.
func Indexes(q url.Values) ([]int, error) {
	var out []int
	for _, raw := range q["bidx"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil || n < 1 {
				return nil, errs.InvalidParam("invalid bidx value %q, expected a positive band index", part)
			}
			out = append(out, n)
		}
	}
	return out, nil
}

// Expression parses a band-math expression. Formulas are separated by ";"
// and reference source bands as b1..bN.
func Expression(q url.Values) (*expr.Expression, error) {
	raw := q.Get("expression")
	if raw == "" {
		return nil, nil
	}
	return expr.Parse(raw)
}

// Rescale parses repeated "min,max" pairs.
func Rescale(q url.Values) ([][2]float64, error) {
	var out [][2]float64
	for _, raw := range q["rescale"] {
		parts := strings.Split(raw, ",")
		if len(parts) != 2 {
			return nil, errs.InvalidParam("invalid rescale value %q, expected \"min,max\"", raw)
		}
		lo, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		hi, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return nil, errs.InvalidParam("invalid rescale value %q, expected \"min,max\"", raw)
		}
		out = append(out, [2]float64{lo, hi})
	}
	return out, nil
}

// ColorMap resolves the colormap_name / colormap pair. A registered name
// wins over an inline JSON definition.
func ColorMap(q url.Values, reg colormap.Registry) (*colormap.ColorMap, error) {
	if name := q.Get("colormap_name"); name != "" {
		return reg.Get(name)
	}
	if raw := q.Get("colormap"); raw != "" {
		return colormap.Parse(raw)
	}
	return nil, nil
}

// NoData parses the nodata override. The literal "nan" selects NaN
// matching; "inf" and "-inf" are accepted for open-ended sentinels.
func NoData(q url.Values) (*float64, error) {
	raw := q.Get("nodata")
	if raw == "" {
		return nil, nil
	}
	var v float64
	switch raw {
	case "nan":
		v = math.NaN()
	case "inf":
		v = math.Inf(1)
	case "-inf":
		v = math.Inf(-1)
	default:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errs.InvalidParam("invalid nodata value %q", raw)
		}
		v = f
	}
	return &v, nil
}

// gdalwarp spells some resampling names differently than the public API.
var resamplingNames = map[string]string{
	"nearest":      "near",
	"bilinear":     "bilinear",
	"cubic":        "cubic",
	"cubic_spline": "cubicspline",
	"lanczos":      "lanczos",
	"average":      "average",
	"mode":         "mode",
	"gauss":        "gauss",
	"rms":          "rms",
}

// Resampling validates the resampling method and maps it onto the warp
// vocabulary. Empty input keeps the default (nearest).
func Resampling(q url.Values) (string, error) {
	raw := q.Get("resampling")
	if raw == "" {
		return "", nil
	}
	mapped, ok := resamplingNames[raw]
	if !ok {
		return "", errs.InvalidParam("invalid resampling %q", raw)
	}
	return mapped, nil
}

// Size parses width/height/max_size. Explicit width and height disable the
// max_size cap; maxDefault applies when neither is given.
func Size(q url.Values, maxDefault int) (width, height, maxSize int, err error) {
	width, err = intValue(q, "width", 0)
	if err != nil {
		return 0, 0, 0, err
	}
	height, err = intValue(q, "height", 0)
	if err != nil {
		return 0, 0, 0, err
	}
	if width < 0 || height < 0 {
		return 0, 0, 0, errs.InvalidParam("width and height must be positive")
	}
	if width > 0 && height > 0 {
		return width, height, 0, nil
	}
	maxSize, err = intValue(q, "max_size", maxDefault)
	if err != nil {
		return 0, 0, 0, err
	}
	if maxSize <= 0 {
		return 0, 0, 0, errs.InvalidParam("max_size must be positive")
	}
	return width, height, maxSize, nil
}

// Tile parses tile-specific knobs: the context buffer and the @Nx scale.
func Tile(q url.Values, scaleSuffix string) (buffer float64, scale int, err error) {
	if raw := q.Get("buffer"); raw != "" {
		buffer, err = strconv.ParseFloat(raw, 64)
		if err != nil || buffer < 0 {
			return 0, 0, errs.InvalidParam("invalid buffer value %q", raw)
		}
	}
	scale = 1
	if scaleSuffix != "" {
		scale, err = strconv.Atoi(scaleSuffix)
		if err != nil || scale < 1 || scale > 4 {
			return 0, 0, errs.InvalidParam("invalid tile scale %q, expected 1 to 4", scaleSuffix)
		}
	}
	return buffer, scale, nil
}

// Statistics parses the histogram and percentile knobs shared by the
// statistics endpoints.
func Statistics(q url.Values) (geo.StatsOptions, error) {
	var o geo.StatsOptions

	for _, raw := range q["p"] {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 100 {
			return o, errs.InvalidParam("invalid percentile %q", raw)
		}
		o.Percentiles = append(o.Percentiles, n)
	}

	if raw := q.Get("histogram_bins"); raw != "" {
		if strings.Contains(raw, ",") {
			for _, part := range strings.Split(raw, ",") {
				v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
				if err != nil {
					return o, errs.InvalidParam("invalid histogram_bins %q", raw)
				}
				o.Edges = append(o.Edges, v)
			}
			if len(o.Edges) < 2 {
				return o, errs.InvalidParam("histogram_bins edges need at least 2 values")
			}
		} else {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return o, errs.InvalidParam("invalid histogram_bins %q", raw)
			}
			o.Bins = n
		}
	}

	if raw := q.Get("histogram_range"); raw != "" {
		parts := strings.Split(raw, ",")
		if len(parts) != 2 {
			return o, errs.InvalidParam("invalid histogram_range %q, expected \"min,max\"", raw)
		}
		lo, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		hi, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil || hi < lo {
			return o, errs.InvalidParam("invalid histogram_range %q, expected \"min,max\"", raw)
		}
		o.Range = &[2]float64{lo, hi}
	}

	if raw := q.Get("categorical"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return o, errs.InvalidParam("invalid categorical value %q", raw)
		}
		o.Categorical = b
	}
	for _, raw := range q["c"] {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return o, errs.InvalidParam("invalid category value %q", raw)
		}
		o.Categories = append(o.Categories, v)
	}

	return o, nil
}

// Unscale parses the unscale flag.
func Unscale(q url.Values) (bool, error) {
	raw := q.Get("unscale")
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errs.InvalidParam("invalid unscale value %q", raw)
	}
	return b, nil
}

// ReturnMask parses the return_mask flag controlling whether data formats
// carry the validity mask. Defaults to true.
func ReturnMask(q url.Values) (bool, error) {
	raw := q.Get("return_mask")
	if raw == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errs.InvalidParam("invalid return_mask value %q", raw)
	}
	return b, nil
}

// BBox parses a "minx,miny,maxx,maxy" string.
func BBox(raw string) ([4]float64, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return [4]float64{}, errs.InvalidParam("invalid bbox %q, expected \"minx,miny,maxx,maxy\"", raw)
	}
	var out [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return [4]float64{}, errs.InvalidParam("invalid bbox coordinate %q", part)
		}
		out[i] = v
	}
	if out[2] <= out[0] || out[3] <= out[1] {
		return [4]float64{}, errs.InvalidParam("invalid bbox %q, min must be below max", raw)
	}
	return out, nil
}

// LonLat parses point coordinates.
func LonLat(rawLon, rawLat string) (lon, lat float64, err error) {
	lon, err = strconv.ParseFloat(rawLon, 64)
	if err != nil {
		return 0, 0, errs.InvalidParam("invalid lon %q", rawLon)
	}
	lat, err = strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return 0, 0, errs.InvalidParam("invalid lat %q", rawLat)
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, errs.InvalidParam("coordinates (%s, %s) outside the valid lon/lat domain", rawLon, rawLat)
	}
	return lon, lat, nil
}

func intValue(q url.Values, key string, fallback int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.InvalidParam("invalid %s value %q", key, raw)
	}
	return n, nil
}
