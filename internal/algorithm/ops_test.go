package algorithm

import (
	"math"
	"testing"

	"github.com/dynraster/tileserv/internal/geo"
)

func twoBand(vals1, vals2 []float64) *geo.Image {
	img := geo.NewImage(len(vals1), 1, []string{"b1", "b2"})
	copy(img.Data[0], vals1)
	copy(img.Data[1], vals2)
	for i := range img.Mask {
		img.Mask[i] = 255
	}
	return img
}

func TestNormalizedIndex(t *testing.T) {
	img := twoBand([]float64{8, 4, 0}, []float64{4, 4, 0})
	out, err := normalizedIndex{}.Apply(img)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if math.Abs(out.Data[0][0]-1.0/3.0) > 1e-12 {
		t.Fatalf("pixel 0 = %g want %g", out.Data[0][0], 1.0/3.0)
	}
	if out.Data[0][1] != 0 || out.Mask[1] != 255 {
		t.Fatalf("pixel 1 = %g mask %d", out.Data[0][1], out.Mask[1])
	}
	if out.Mask[2] != 0 {
		t.Fatalf("zero denominator pixel not masked")
	}
}

func TestNormalizedIndex_BandCount(t *testing.T) {
	img := geo.NewImage(1, 1, []string{"b1"})
	if _, err := (normalizedIndex{}).Apply(img); err == nil {
		t.Fatalf("single band accepted")
	}
}

func TestReduceValues_Formulas(t *testing.T) {
	vals := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	cases := []struct {
		name string
		want float64
	}{
		{"min", 2},
		{"max", 9},
		{"sum", 40},
		{"mean", 5},
		{"median", 4.5},
		{"var", 32.0 / 7.0}, // sample variance, n-1 divisor
		{"std", math.Sqrt(32.0 / 7.0)},
	}
	for _, c := range cases {
		if got := reduceValues(c.name, vals); math.Abs(got-c.want) > 1e-12 {
			t.Fatalf("%s = %g want %g", c.name, got, c.want)
		}
	}
	if got := reduceValues("median", []float64{3, 1, 2}); got != 2 {
		t.Fatalf("odd median = %g want 2", got)
	}
}

func TestReduce_SkipsNaNPixels(t *testing.T) {
	img := twoBand([]float64{1, math.NaN()}, []float64{3, 5})
	out, err := reduce{name: "mean"}.Apply(img)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Data[0][0] != 2 {
		t.Fatalf("pixel 0 = %g want 2", out.Data[0][0])
	}
	if out.Mask[1] != 0 {
		t.Fatalf("NaN pixel not masked")
	}
}

func TestCast_RoundingModes(t *testing.T) {
	img := geo.NewImage(3, 1, []string{"b1"})
	copy(img.Data[0], []float64{1.4, -1.4, 2.9})
	for i := range img.Mask {
		img.Mask[i] = 255
	}
	cases := []struct {
		name string
		want []float64
	}{
		{"ceil", []float64{2, -1, 3}},
		{"floor", []float64{1, -2, 2}},
		{"trunc", []float64{1, -1, 2}},
	}
	for _, c := range cases {
		out, err := cast{name: c.name}.Apply(img)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		for i := range c.want {
			if out.Data[0][i] != c.want[i] {
				t.Fatalf("%s pixel %d = %g want %g", c.name, i, out.Data[0][i], c.want[i])
			}
		}
	}
	// Casting never mutates the input.
	if img.Data[0][0] != 1.4 {
		t.Fatalf("input mutated: %g", img.Data[0][0])
	}
}
