package params

import (
	"math"
	"net/url"
	"testing"

	"github.com/dynraster/tileserv/internal/colormap"
	"github.com/dynraster/tileserv/internal/errs"
)

func values(pairs ...string) url.Values {
	q := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		q.Add(pairs[i], pairs[i+1])
	}
	return q
}

func TestIndexes_RepeatedAndComma(t *testing.T) {
	q := values("bidx", "1", "bidx", "3,2")
	got, err := Indexes(q)
	if err != nil {
		t.Fatalf("Indexes: %v", err)
	}
	want := []int{1, 3, 2}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestIndexes_RejectsZeroAndGarbage(t *testing.T) {
	for _, bad := range []string{"0", "-1", "x"} {
		if _, err := Indexes(values("bidx", bad)); err == nil {
			t.Fatalf("bidx=%q accepted, want error", bad)
		} else if errs.StatusOf(err) != 422 {
			t.Fatalf("bidx=%q status=%d want 422", bad, errs.StatusOf(err))
		}
	}
}

func TestRescale_Pairs(t *testing.T) {
	got, err := Rescale(values("rescale", "0,255", "rescale", "-1.5, 1.5"))
	if err != nil {
		t.Fatalf("Rescale: %v", err)
	}
	if len(got) != 2 || got[0] != [2]float64{0, 255} || got[1] != [2]float64{-1.5, 1.5} {
		t.Fatalf("got %v", got)
	}
	if _, err := Rescale(values("rescale", "0")); err == nil {
		t.Fatalf("single value accepted, want error")
	}
}

func TestColorMap_NameWinsOverInline(t *testing.T) {
	reg := colormap.Registry{}.Register(map[string]*colormap.ColorMap{
		"gray": {Discrete: map[float64]colormap.Color{0: {0, 0, 0, 255}}},
	})
	q := values("colormap_name", "gray", "colormap", `{"1": "#ff0000"}`)
	cm, err := ColorMap(q, reg)
	if err != nil {
		t.Fatalf("ColorMap: %v", err)
	}
	if _, ok := cm.Lookup(0); !ok {
		t.Fatalf("registered colormap not used")
	}
	if _, err := ColorMap(values("colormap_name", "nope"), reg); err == nil {
		t.Fatalf("unknown colormap_name accepted")
	}
}

func TestNoData_Literals(t *testing.T) {
	v, err := NoData(values("nodata", "nan"))
	if err != nil || v == nil || !math.IsNaN(*v) {
		t.Fatalf("nodata=nan got %v err %v", v, err)
	}
	v, err = NoData(values("nodata", "-9999"))
	if err != nil || v == nil || *v != -9999 {
		t.Fatalf("nodata=-9999 got %v err %v", v, err)
	}
	if v, _ = NoData(values()); v != nil {
		t.Fatalf("absent nodata should be nil")
	}
}

func TestResampling_MapsToWarpNames(t *testing.T) {
	got, err := Resampling(values("resampling", "cubic_spline"))
	if err != nil || got != "cubicspline" {
		t.Fatalf("got %q err %v", got, err)
	}
	got, err = Resampling(values("resampling", "nearest"))
	if err != nil || got != "near" {
		t.Fatalf("got %q err %v", got, err)
	}
	if _, err := Resampling(values("resampling", "fancy")); err == nil {
		t.Fatalf("invalid resampling accepted")
	}
}

func TestSize_ExplicitDimensionsDisableMaxSize(t *testing.T) {
	w, h, maxSize, err := Size(values("width", "256", "height", "128", "max_size", "512"), 1024)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if w != 256 || h != 128 || maxSize != 0 {
		t.Fatalf("got w=%d h=%d max=%d", w, h, maxSize)
	}
	_, _, maxSize, err = Size(values(), 1024)
	if err != nil || maxSize != 1024 {
		t.Fatalf("default max=%d err %v", maxSize, err)
	}
}

func TestTile_BufferAndScale(t *testing.T) {
	buffer, scale, err := Tile(values("buffer", "4"), "2")
	if err != nil {
		t.Fatalf("Tile: %v", err)
	}
	if buffer != 4 || scale != 2 {
		t.Fatalf("got buffer=%g scale=%d", buffer, scale)
	}
	if _, _, err := Tile(values(), "5"); err == nil {
		t.Fatalf("scale 5 accepted, want error")
	}
	if _, _, err := Tile(values("buffer", "-1"), ""); err == nil {
		t.Fatalf("negative buffer accepted, want error")
	}
}

func TestStatistics_HistogramBinsForms(t *testing.T) {
	o, err := Statistics(values("histogram_bins", "12"))
	if err != nil || o.Bins != 12 {
		t.Fatalf("bins got %+v err %v", o, err)
	}
	o, err = Statistics(values("histogram_bins", "0,10,20"))
	if err != nil || len(o.Edges) != 3 {
		t.Fatalf("edges got %+v err %v", o, err)
	}
	if _, err := Statistics(values("p", "101")); err == nil {
		t.Fatalf("percentile 101 accepted")
	}
}

func TestReturnMask_DefaultsTrue(t *testing.T) {
	got, err := ReturnMask(values())
	if err != nil || !got {
		t.Fatalf("got=%v err=%v want true", got, err)
	}
	got, err = ReturnMask(values("return_mask", "false"))
	if err != nil || got {
		t.Fatalf("got=%v err=%v want false", got, err)
	}
	if _, err := ReturnMask(values("return_mask", "maybe")); err == nil {
		t.Fatalf("invalid return_mask accepted")
	}
}

func TestBBox_Validation(t *testing.T) {
	got, err := BBox("-10,-5,10,5")
	if err != nil {
		t.Fatalf("BBox: %v", err)
	}
	if got != [4]float64{-10, -5, 10, 5} {
		t.Fatalf("got %v", got)
	}
	if _, err := BBox("10,5,-10,-5"); err == nil {
		t.Fatalf("inverted bbox accepted")
	}
	if _, err := BBox("1,2,3"); err == nil {
		t.Fatalf("3-element bbox accepted")
	}
}

func TestLonLat_Domain(t *testing.T) {
	lon, lat, err := LonLat("18.07", "59.33")
	if err != nil || lon != 18.07 || lat != 59.33 {
		t.Fatalf("got %g,%g err %v", lon, lat, err)
	}
	if _, _, err := LonLat("181", "0"); err == nil {
		t.Fatalf("lon 181 accepted")
	}
	if _, _, err := LonLat("0", "-91"); err == nil {
		t.Fatalf("lat -91 accepted")
	}
}
