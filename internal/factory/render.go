package factory

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/dynraster/tileserv/internal/algorithm"
	"github.com/dynraster/tileserv/internal/colormap"
	"github.com/dynraster/tileserv/internal/geo"
	"github.com/dynraster/tileserv/internal/params"
)

// renderOptions is the post-processing chain shared by every image
// endpoint: algorithm, rescale, color formula, colormap, then encoding.
type renderOptions struct {
	algorithm     algorithm.Algorithm
	algorithmMeta algorithm.Metadata
	rescale       [][2]float64
	colorFormula  string
	colorMap      *colormap.ColorMap
	format        geo.Format
	returnMask    bool
}

// parseRender validates every rendering parameter up front, before any
// dataset is opened. formatSuffix comes from the route path and wins over
// the query.
func (b *Base) parseRender(q url.Values, formatSuffix string) (renderOptions, error) {
	var ro renderOptions
	var err error

	ro.algorithm, ro.algorithmMeta, err = b.cfg.Algorithms.Resolve(q.Get("algorithm"), q.Get("algorithm_params"))
	if err != nil {
		return ro, err
	}
	ro.rescale, err = params.Rescale(q)
	if err != nil {
		return ro, err
	}
	ro.colorFormula = q.Get("color_formula")
	ro.colorMap, err = params.ColorMap(q, b.cfg.ColorMaps)
	if err != nil {
		return ro, err
	}
	raw := formatSuffix
	if raw == "" {
		raw = q.Get("format")
	}
	ro.format, err = geo.ParseFormat(raw)
	if err != nil {
		return ro, err
	}
	ro.returnMask, err = params.ReturnMask(q)
	if err != nil {
		return ro, err
	}
	return ro, nil
}

// render runs the chain and encodes. The algorithm's context border was
// already added to the read window; the algorithm itself trims it away.
func render(img *geo.Image, ro renderOptions) ([]byte, string, error) {
	var err error
	if ro.algorithm != nil {
		img, err = ro.algorithm.Apply(img)
		if err != nil {
			return nil, "", err
		}
	}
	if err := img.Rescale(ro.rescale); err != nil {
		return nil, "", err
	}
	if ro.colorFormula != "" {
		if err := img.ApplyColorFormula(ro.colorFormula); err != nil {
			return nil, "", err
		}
	}
	if ro.colorMap != nil {
		if err := img.ApplyColorMap(ro.colorMap); err != nil {
			return nil, "", err
		}
	}
	format := ro.format.Resolve(img)
	data, err := geo.Encode(img, format, ro.returnMask)
	if err != nil {
		return nil, "", err
	}
	return data, format.MediaType(), nil
}

// statsAlgorithm resolves the optional algorithm applied to statistics
// reads. Statistics windows cover the whole dataset or feature, so the
// algorithm's context border trims from the decimated read instead of
// widening it the way tile windows do.
func (b *Base) statsAlgorithm(q url.Values) (algorithm.Algorithm, error) {
	alg, _, err := b.cfg.Algorithms.Resolve(q.Get("algorithm"), q.Get("algorithm_params"))
	return alg, err
}

// summarize runs the optional algorithm over a read image and computes
// per-band statistics of the result.
func summarize(img *geo.Image, alg algorithm.Algorithm, so geo.StatsOptions) (map[string]geo.BandStatistics, error) {
	if alg != nil {
		var err error
		if img, err = alg.Apply(img); err != nil {
			return nil, err
		}
	}
	return geo.ImageStatistics(img, so), nil
}

// windowSize resolves output sizing from the query plus the optional
// {width}x{height} path segment, which wins over both.
func windowSize(r *http.Request, ro *geo.ReadOptions, previewSize int) error {
	var err error
	ro.Width, ro.Height, ro.MaxSize, err = params.Size(r.URL.Query(), previewSize)
	if err != nil {
		return err
	}
	if ws := chi.URLParam(r, "width"); ws != "" {
		if ro.Width, err = atoiPositive("width", ws); err != nil {
			return err
		}
		if ro.Height, err = atoiPositive("height", chi.URLParam(r, "height")); err != nil {
			return err
		}
		ro.MaxSize = 0
	}
	return nil
}

// cropWindow parses the bbox path segments and output sizing shared by
// the crop routes.
func cropWindow(r *http.Request, ro *geo.ReadOptions, previewSize int) ([4]float64, error) {
	bbox, err := params.BBox(chi.URLParam(r, "minx") + "," + chi.URLParam(r, "miny") + "," +
		chi.URLParam(r, "maxx") + "," + chi.URLParam(r, "maxy"))
	if err != nil {
		return bbox, err
	}
	return bbox, windowSize(r, ro, previewSize)
}

// readOptions assembles the per-read options common to all shapes.
func readOptions(q url.Values) (geo.ReadOptions, error) {
	var o geo.ReadOptions
	var err error

	o.Indexes, err = params.Indexes(q)
	if err != nil {
		return o, err
	}
	o.Expression, err = params.Expression(q)
	if err != nil {
		return o, err
	}
	o.Resampling, err = params.Resampling(q)
	if err != nil {
		return o, err
	}
	return o, nil
}

// readerOptions assembles the per-dataset options common to all shapes.
func readerOptions(q url.Values) (geo.ReaderOptions, error) {
	var o geo.ReaderOptions
	var err error

	o.NoData, err = params.NoData(q)
	if err != nil {
		return o, err
	}
	o.Unscale, err = params.Unscale(q)
	if err != nil {
		return o, err
	}
	return o, nil
}
