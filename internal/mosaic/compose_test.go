package mosaic

import (
	"math"
	"testing"

	"github.com/dynraster/tileserv/internal/geo"
)

func tileImage(vals []float64, mask []uint8) *geo.Image {
	img := geo.NewImage(len(vals), 1, []string{"b1"})
	copy(img.Data[0], vals)
	copy(img.Mask, mask)
	return img
}

func TestParsePixelSelection(t *testing.T) {
	p, err := ParsePixelSelection("")
	if err != nil || p != SelectFirst {
		t.Fatalf("empty = %q, %v want first", p, err)
	}
	if _, err := ParsePixelSelection("brightest"); err == nil {
		t.Fatalf("invalid policy accepted")
	}
	if SelectFirst.NeedsAll() {
		t.Fatalf("first should allow early exit")
	}
	if !SelectMean.NeedsAll() {
		t.Fatalf("mean needs every source")
	}
}

func TestCompose_First(t *testing.T) {
	a := tileImage([]float64{1, 2, 3}, []uint8{255, 0, 0})
	b := tileImage([]float64{4, 5, 6}, []uint8{255, 255, 0})
	out, err := Compose([]*geo.Image{a, b}, SelectFirst)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if out.Data[0][0] != 1 || out.Data[0][1] != 5 {
		t.Fatalf("data=%v want first-wins [1 5 _]", out.Data[0])
	}
	if out.Mask[2] != 0 {
		t.Fatalf("uncovered pixel valid")
	}
}

func TestCompose_HighestLowest(t *testing.T) {
	a := tileImage([]float64{1, 9}, []uint8{255, 255})
	b := tileImage([]float64{7, 3}, []uint8{255, 255})
	out, err := Compose([]*geo.Image{a, b}, SelectHighest)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if out.Data[0][0] != 7 || out.Data[0][1] != 9 {
		t.Fatalf("highest=%v want [7 9]", out.Data[0])
	}
	out, err = Compose([]*geo.Image{a, b}, SelectLowest)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if out.Data[0][0] != 1 || out.Data[0][1] != 3 {
		t.Fatalf("lowest=%v want [1 3]", out.Data[0])
	}
}

func TestCompose_Aggregates(t *testing.T) {
	a := tileImage([]float64{2, 10}, []uint8{255, 255})
	b := tileImage([]float64{4, 0}, []uint8{255, 0})
	c := tileImage([]float64{9, 0}, []uint8{255, 0})

	out, err := Compose([]*geo.Image{a, b, c}, SelectMean)
	if err != nil {
		t.Fatalf("mean: %v", err)
	}
	if out.Data[0][0] != 5 {
		t.Fatalf("mean=%g want 5", out.Data[0][0])
	}
	// A pixel covered by a single source passes through unchanged.
	if out.Data[0][1] != 10 {
		t.Fatalf("single-source mean=%g want 10", out.Data[0][1])
	}

	out, err = Compose([]*geo.Image{a, b, c}, SelectMedian)
	if err != nil {
		t.Fatalf("median: %v", err)
	}
	if out.Data[0][0] != 4 {
		t.Fatalf("median=%g want 4", out.Data[0][0])
	}

	out, err = Compose([]*geo.Image{a, b, c}, SelectStdev)
	if err != nil {
		t.Fatalf("stdev: %v", err)
	}
	// Population stdev of {2, 4, 9}.
	want := math.Sqrt(26.0 / 3.0)
	if math.Abs(out.Data[0][0]-want) > 1e-12 {
		t.Fatalf("stdev=%g want %g", out.Data[0][0], want)
	}
}

func TestCompose_ErrorsAndPassThrough(t *testing.T) {
	if _, err := Compose(nil, SelectFirst); err == nil {
		t.Fatalf("empty input accepted")
	}

	a := tileImage([]float64{1}, []uint8{255})
	out, err := Compose([]*geo.Image{a}, SelectMean)
	if err != nil {
		t.Fatalf("single image: %v", err)
	}
	if out != a {
		t.Fatalf("single image should pass through")
	}

	big := geo.NewImage(2, 2, []string{"b1"})
	if _, err := Compose([]*geo.Image{a, big}, SelectFirst); err == nil {
		t.Fatalf("mismatched shapes accepted")
	}
}
