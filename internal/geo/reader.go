package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/airbusgeo/godal"

	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/expr"
	"github.com/dynraster/tileserv/internal/tms"
)

// DefaultMaxSize caps the larger output dimension of preview reads when no
// explicit width/height is given.
const DefaultMaxSize = 1024

// ReaderOptions configure how a dataset reference is opened.
type ReaderOptions struct {
	// NoData overrides the dataset nodata value.
	NoData *float64
	// Unscale applies band scale/offset to returned values.
	Unscale bool
	// Variable selects a subdataset variable of a multi-dimensional store.
	Variable string
}

// Reader is a request-scoped handle on one raster dataset. It is opened,
// used and closed within a single request; it is never shared.
type Reader struct {
	Ref  string
	ds   *godal.Dataset
	opts ReaderOptions

	geoBounds *[4]float64 // lazily computed WGS84 bounds
}

// ReadOptions parameterize one read operation. Unset optional fields keep
// the wrapped library's own defaults.
type ReadOptions struct {
	// Indexes selects source bands (1-based). Empty means all bands.
	Indexes []int
	// Expression computes output bands from source bands (b1..bN). When
	// set, Indexes is ignored.
	Expression *expr.Expression
	// Width/Height force the output size. When zero, MaxSize caps the
	// larger dimension preserving aspect ratio.
	Width, Height int
	MaxSize       int
	// Buffer adds this many pixels of context on every edge.
	Buffer float64
	// Resampling is a gdalwarp -r value; empty means nearest.
	Resampling string
}

// Open resolves a dataset reference to a reader handle. Remote references
// are routed through GDAL virtual filesystems.
func Open(ref string, opts ReaderOptions) (*Reader, error) {
	path := vsiPath(ref)
	if opts.Variable != "" {
		path = fmt.Sprintf("NETCDF:\"%s\":%s", path, opts.Variable)
	}
	ds, err := godal.Open(path)
	if err != nil {
		return nil, errs.OpenFailed(ref, err)
	}
	return &Reader{Ref: ref, ds: ds, opts: opts}, nil
}

// Close releases the underlying dataset handle.
func (r *Reader) Close() {
	if r.ds != nil {
		_ = r.ds.Close()
		r.ds = nil
	}
}

// vsiPath maps URL schemes onto GDAL virtual filesystem prefixes.
func vsiPath(ref string) string {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return "/vsicurl/" + ref
	case strings.HasPrefix(ref, "s3://"):
		return "/vsis3/" + strings.TrimPrefix(ref, "s3://")
	case strings.HasPrefix(ref, "gs://"):
		return "/vsigs/" + strings.TrimPrefix(ref, "gs://")
	case strings.HasPrefix(ref, "az://"):
		return "/vsiaz/" + strings.TrimPrefix(ref, "az://")
	default:
		return ref
	}
}

// Bounds returns the dataset extent in WGS84 (west, south, east, north).
func (r *Reader) Bounds() ([4]float64, error) {
	if r.geoBounds != nil {
		return *r.geoBounds, nil
	}
	gt, err := r.ds.GeoTransform()
	if err != nil {
		return [4]float64{}, errs.Internal(err, "error reading geotransform of %q", r.Ref)
	}
	st := r.ds.Structure()
	sizeX, sizeY := float64(st.SizeX), float64(st.SizeY)

	// outer corners of the corner pixels
	xs := []float64{gt[0], gt[0] + sizeX*gt[1], gt[0] + sizeY*gt[2], gt[0] + sizeX*gt[1] + sizeY*gt[2]}
	ys := []float64{gt[3], gt[3] + sizeX*gt[4], gt[3] + sizeY*gt[5], gt[3] + sizeX*gt[4] + sizeY*gt[5]}

	srcSRS := r.ds.SpatialRef()
	if srcSRS == nil {
		return [4]float64{}, errs.Internal(nil, "dataset %q has no spatial reference", r.Ref)
	}
	defer srcSRS.Close()
	dstSRS, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return [4]float64{}, errs.Internal(err, "error creating WGS84 spatial reference")
	}
	defer dstSRS.Close()
	transform, err := godal.NewTransform(srcSRS, dstSRS)
	if err != nil {
		return [4]float64{}, errs.Internal(err, "error creating transform to WGS84 for %q", r.Ref)
	}
	defer transform.Close()

	ok := make([]bool, 4)
	if err := transform.TransformEx(xs, ys, nil, ok); err != nil {
		return [4]float64{}, errs.Internal(err, "error transforming bounds of %q", r.Ref)
	}
	b := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for i := 0; i < 4; i++ {
		if !ok[i] {
			return [4]float64{}, errs.Internal(nil, "corner %d of %q could not be transformed", i, r.Ref)
		}
		b[0] = math.Min(b[0], xs[i])
		b[1] = math.Min(b[1], ys[i])
		b[2] = math.Max(b[2], xs[i])
		b[3] = math.Max(b[3], ys[i])
	}
	r.geoBounds = &b
	return b, nil
}

// BandInfo describes one band of a dataset.
type BandInfo struct {
	Name        string   `json:"name"`
	ColorInterp string   `json:"colorinterp"`
	DataType    string   `json:"dtype"`
	NoData      *float64 `json:"nodata,omitempty"`
	Overviews   int      `json:"overviews"`
}

// Info is the structural metadata of a dataset.
type Info struct {
	Bounds     [4]float64 `json:"bounds"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	BandCount  int        `json:"count"`
	DataType   string     `json:"dtype"`
	NoDataType string     `json:"nodata_type"`
	Bands      []BandInfo `json:"band_metadata"`
}

// Info returns structural metadata: band layout, dtype and the nodata
// classification.
func (r *Reader) Info() (*Info, error) {
	bounds, err := r.Bounds()
	if err != nil {
		return nil, err
	}
	st := r.ds.Structure()
	bands := r.ds.Bands()
	info := &Info{
		Bounds:     bounds,
		Width:      st.SizeX,
		Height:     st.SizeY,
		BandCount:  len(bands),
		NoDataType: "None",
	}
	for i, b := range bands {
		bs := b.Structure()
		bi := BandInfo{
			Name:        fmt.Sprintf("b%d", i+1),
			ColorInterp: b.ColorInterp().Name(),
			DataType:    bs.DataType.String(),
			Overviews:   len(b.Overviews()),
		}
		if nd, ok := b.NoData(); ok {
			v := nd
			bi.NoData = &v
			info.NoDataType = "Nodata"
		}
		if bi.ColorInterp == "Alpha" {
			info.NoDataType = "Alpha"
		}
		if i == 0 {
			info.DataType = bs.DataType.String()
		}
		info.Bands = append(info.Bands, bi)
	}
	if r.opts.NoData != nil {
		info.NoDataType = "Nodata"
	}
	return info, nil
}

// Tile reads one map tile. The requested tile must intersect the dataset
// footprint; a miss surfaces the not-found mapping regardless of shape.
func (r *Reader) Tile(t *tms.TileMatrixSet, z, x, y int, o ReadOptions) (*Image, error) {
	if !t.ValidTile(z, x, y) {
		return nil, errs.TileOutsideBounds(z, x, y)
	}
	dsBounds, err := r.Bounds()
	if err != nil {
		return nil, err
	}
	tileBounds := t.TileGeoBounds(z, x, y)
	if !intersects(dsBounds, tileBounds) {
		return nil, errs.TileOutsideBounds(z, x, y)
	}

	size := t.TileSize
	if o.Width > 0 {
		size = o.Width
	}
	b := t.TileBounds(z, x, y)
	width, height := size, size
	if o.Buffer > 0 {
		res := (b[2] - b[0]) / float64(size)
		b[0] -= o.Buffer * res
		b[1] -= o.Buffer * res
		b[2] += o.Buffer * res
		b[3] += o.Buffer * res
		width = size + int(math.Round(2*o.Buffer))
		height = width
	}
	return r.read(b, t.CRS, "", width, height, "", o)
}

// Part reads a rectangular region. The bbox is expressed in boxCRS
// (default WGS84) and the output is produced in dstCRS.
func (r *Reader) Part(bbox [4]float64, boxCRS, dstCRS string, o ReadOptions) (*Image, error) {
	if boxCRS == "" {
		boxCRS = "EPSG:4326"
	}
	if dstCRS == "" {
		dstCRS = boxCRS
	}
	width, height := o.Width, o.Height
	if width == 0 && height == 0 {
		maxSize := o.MaxSize
		if maxSize == 0 {
			maxSize = DefaultMaxSize
		}
		width, height = fitSize(bbox[2]-bbox[0], bbox[3]-bbox[1], maxSize)
	} else if width == 0 {
		width = height
	} else if height == 0 {
		height = width
	}
	return r.read(bbox, dstCRS, boxCRS, width, height, "", o)
}

// Preview reads a decimated overview of the whole dataset in its native CRS.
func (r *Reader) Preview(o ReadOptions) (*Image, error) {
	st := r.ds.Structure()
	width, height := o.Width, o.Height
	if width == 0 && height == 0 {
		maxSize := o.MaxSize
		if maxSize == 0 {
			maxSize = DefaultMaxSize
		}
		width, height = fitSize(float64(st.SizeX), float64(st.SizeY), maxSize)
	} else if width == 0 {
		width = int(float64(height) * float64(st.SizeX) / float64(st.SizeY))
	} else if height == 0 {
		height = int(float64(width) * float64(st.SizeY) / float64(st.SizeX))
	}
	return r.read([4]float64{}, "", "", width, height, "", o)
}

// Feature reads the region covered by a GeoJSON geometry, masking pixels
// outside it. The cutline file is managed by the caller.
func (r *Reader) Feature(bbox [4]float64, cutlinePath string, o ReadOptions) (*Image, error) {
	width, height := o.Width, o.Height
	if width == 0 && height == 0 {
		maxSize := o.MaxSize
		if maxSize == 0 {
			maxSize = DefaultMaxSize
		}
		width, height = fitSize(bbox[2]-bbox[0], bbox[3]-bbox[1], maxSize)
	}
	return r.read(bbox, "EPSG:4326", "EPSG:4326", width, height, cutlinePath, o)
}

// read performs one warped read into memory. All reprojection, windowing,
// overview selection and nodata-to-alpha handling is done by the wrapped
// library; switches follow the gdalwarp vocabulary.
func (r *Reader) read(bounds [4]float64, dstCRS, boundsCRS string, width, height int, cutline string, o ReadOptions) (*Image, error) {
	resampling := o.Resampling
	if resampling == "" {
		resampling = "near"
	}
	switches := []string{
		"-of", "MEM",
		"-ts", strconv.Itoa(width), strconv.Itoa(height),
		"-r", resampling,
		"-dstalpha",
	}
	if dstCRS != "" {
		switches = append(switches, "-t_srs", dstCRS)
	}
	if bounds != ([4]float64{}) {
		switches = append(switches,
			"-te", formatFloat(bounds[0]), formatFloat(bounds[1]), formatFloat(bounds[2]), formatFloat(bounds[3]))
		if boundsCRS != "" {
			switches = append(switches, "-te_srs", boundsCRS)
		}
	}
	if r.opts.NoData != nil {
		switches = append(switches, "-srcnodata", formatFloat(*r.opts.NoData))
	}
	if cutline != "" {
		switches = append(switches, "-cutline", cutline)
	}

	warped, err := r.ds.Warp("", switches)
	if err != nil {
		return nil, errs.Internal(err, "error reading dataset %q", r.Ref)
	}
	defer warped.Close()

	return r.imageFrom(warped, dstCRS, width, height, o)
}

// imageFrom pulls pixel buffers out of a warped in-memory dataset and
// applies band selection, unscaling and expression evaluation.
func (r *Reader) imageFrom(ds *godal.Dataset, crs string, width, height int, o ReadOptions) (*Image, error) {
	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, errs.Internal(nil, "dataset %q has no raster bands", r.Ref)
	}

	// the warp step appends an alpha band carrying the validity mask
	dataBands := bands
	var alpha *godal.Band
	last := bands[len(bands)-1]
	if last.ColorInterp().Name() == "Alpha" && len(bands) > 1 {
		alpha = &last
		dataBands = bands[:len(bands)-1]
	}

	indexes := o.Indexes
	if o.Expression != nil {
		var err error
		indexes, err = expressionIndexes(o.Expression, len(dataBands))
		if err != nil {
			return nil, err
		}
	} else if len(indexes) == 0 {
		for i := range dataBands {
			indexes = append(indexes, i+1)
		}
	}
	for _, idx := range indexes {
		if idx < 1 || idx > len(dataBands) {
			return nil, errs.InvalidParam("band index %d out of range, dataset has %d bands", idx, len(dataBands))
		}
	}

	n := width * height
	img := &Image{
		Width:  width,
		Height: height,
		Mask:   make([]uint8, n),
		CRS:    crs,
	}
	gt, err := ds.GeoTransform()
	if err == nil {
		img.Bounds = [4]float64{
			gt[0],
			gt[3] + float64(height)*gt[5],
			gt[0] + float64(width)*gt[1],
			gt[3],
		}
	}

	srcType := dataBands[indexes[0]-1].Structure().DataType
	img.DataType = srcType.String()

	buffers := make(map[int][]float64, len(indexes))
	for _, idx := range indexes {
		band := dataBands[idx-1]
		buf := make([]float64, n)
		if err := band.Read(0, 0, buf, width, height); err != nil {
			return nil, errs.Internal(err, "error reading band %d of %q", idx, r.Ref)
		}
		if r.opts.Unscale {
			bs := band.Structure()
			if bs.Scale != 0 && (bs.Scale != 1 || bs.Offset != 0) {
				for i := range buf {
					buf[i] = buf[i]*bs.Scale + bs.Offset
				}
				img.DataType = "Float64"
			}
		}
		buffers[idx] = buf
	}

	if alpha != nil {
		abuf := make([]byte, n)
		if err := alpha.Read(0, 0, abuf, width, height); err != nil {
			return nil, errs.Internal(err, "error reading mask of %q", r.Ref)
		}
		for i, v := range abuf {
			if v != 0 {
				img.Mask[i] = 255
			}
		}
	} else {
		for i := range img.Mask {
			img.Mask[i] = 255
		}
	}
	// NaN pixels are always masked
	for _, buf := range buffers {
		for i, v := range buf {
			if math.IsNaN(v) {
				img.Mask[i] = 0
			}
		}
	}

	if o.Expression != nil {
		vars := make(map[string][]float64, len(buffers))
		for idx, buf := range buffers {
			vars[fmt.Sprintf("b%d", idx)] = buf
		}
		data, mask, err := o.Expression.Evaluate(vars, img.Mask, n)
		if err != nil {
			return nil, err
		}
		img.Data = data
		img.Mask = mask
		img.Bands = o.Expression.Names()
		img.DataType = "Float64"
		return img, nil
	}

	for _, idx := range indexes {
		img.Data = append(img.Data, buffers[idx])
		img.Bands = append(img.Bands, fmt.Sprintf("b%d", idx))
	}
	return img, nil
}

// expressionIndexes maps expression variables (b1..bN) to band indexes.
func expressionIndexes(e *expr.Expression, bandCount int) ([]int, error) {
	var indexes []int
	for _, v := range e.Vars() {
		if !strings.HasPrefix(v, "b") {
			return nil, errs.InvalidParam("expression variable %q must use b<index> form", v)
		}
		idx, err := strconv.Atoi(v[1:])
		if err != nil || idx < 1 {
			return nil, errs.InvalidParam("expression variable %q must use b<index> form", v)
		}
		if idx > bandCount {
			return nil, errs.InvalidParam("expression references band %d, dataset has %d bands", idx, bandCount)
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}

// PointData is a single-pixel sample.
type PointData struct {
	Coordinates [2]float64 `json:"coordinates"`
	Values      []float64  `json:"values"`
	BandNames   []string   `json:"band_names"`
}

// Point samples the pixel containing a WGS84 lon/lat.
func (r *Reader) Point(lon, lat float64, o ReadOptions) (*PointData, error) {
	srcSRS, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return nil, errs.Internal(err, "error creating WGS84 spatial reference")
	}
	defer srcSRS.Close()
	dstSRS := r.ds.SpatialRef()
	if dstSRS == nil {
		return nil, errs.Internal(nil, "dataset %q has no spatial reference", r.Ref)
	}
	defer dstSRS.Close()
	transform, err := godal.NewTransform(srcSRS, dstSRS)
	if err != nil {
		return nil, errs.Internal(err, "error creating transform for %q", r.Ref)
	}
	defer transform.Close()

	xs, ys := []float64{lon}, []float64{lat}
	ok := make([]bool, 1)
	if err := transform.TransformEx(xs, ys, nil, ok); err != nil || !ok[0] {
		return nil, errs.PointOutsideBounds(lon, lat)
	}

	gt, err := r.ds.GeoTransform()
	if err != nil {
		return nil, errs.Internal(err, "error reading geotransform of %q", r.Ref)
	}
	if gt[1] == 0 || gt[5] == 0 {
		return nil, errs.Internal(nil, "dataset %q has a degenerate geotransform", r.Ref)
	}
	col := int(math.Floor((xs[0] - gt[0]) / gt[1]))
	row := int(math.Floor((ys[0] - gt[3]) / gt[5]))
	st := r.ds.Structure()
	if col < 0 || col >= st.SizeX || row < 0 || row >= st.SizeY {
		return nil, errs.PointOutsideBounds(lon, lat)
	}

	dataBands := r.ds.Bands()
	indexes := o.Indexes
	if o.Expression != nil {
		indexes, err = expressionIndexes(o.Expression, len(dataBands))
		if err != nil {
			return nil, err
		}
	} else if len(indexes) == 0 {
		for i := range dataBands {
			indexes = append(indexes, i+1)
		}
	}

	values := make(map[int]float64, len(indexes))
	for _, idx := range indexes {
		if idx < 1 || idx > len(dataBands) {
			return nil, errs.InvalidParam("band index %d out of range, dataset has %d bands", idx, len(dataBands))
		}
		band := dataBands[idx-1]
		buf := make([]float64, 1)
		if err := band.Read(col, row, buf, 1, 1); err != nil {
			return nil, errs.Internal(err, "error reading pixel (%d, %d) of %q", col, row, r.Ref)
		}
		v := buf[0]
		if nd, has := band.NoData(); has && v == nd {
			v = math.NaN()
		}
		if r.opts.NoData != nil && v == *r.opts.NoData {
			v = math.NaN()
		}
		if r.opts.Unscale {
			bs := band.Structure()
			if bs.Scale != 0 && (bs.Scale != 1 || bs.Offset != 0) {
				v = v*bs.Scale + bs.Offset
			}
		}
		values[idx] = v
	}

	pt := &PointData{Coordinates: [2]float64{lon, lat}}
	if o.Expression != nil {
		vars := make(map[string]interface{}, len(values))
		for idx, v := range values {
			vars[fmt.Sprintf("b%d", idx)] = v
		}
		pt.Values = o.Expression.EvaluatePixel(vars)
		pt.BandNames = o.Expression.Names()
		return pt, nil
	}
	for _, idx := range indexes {
		pt.Values = append(pt.Values, values[idx])
		pt.BandNames = append(pt.BandNames, fmt.Sprintf("b%d", idx))
	}
	return pt, nil
}

// ImageStatistics summarizes every band of an already-read image.
func ImageStatistics(img *Image, so StatsOptions) map[string]BandStatistics {
	out := make(map[string]BandStatistics, img.NumBands())
	for i, name := range img.Bands {
		out[name] = ComputeStatistics(img.Data[i], img.Mask, so)
	}
	return out
}

// fitSize scales (w, h) proportionally so the larger side equals maxSize.
func fitSize(w, h float64, maxSize int) (int, int) {
	if w <= 0 || h <= 0 {
		return maxSize, maxSize
	}
	ratio := h / w
	if ratio > 1 {
		return int(math.Max(1, math.Round(float64(maxSize)/ratio))), maxSize
	}
	return maxSize, int(math.Max(1, math.Round(float64(maxSize)*ratio)))
}

func intersects(a, b [4]float64) bool {
	return a[0] < b[2] && a[2] > b[0] && a[1] < b[3] && a[3] > b[1]
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
