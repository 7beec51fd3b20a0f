package geo

import (
	"math"
	"testing"

	"github.com/dynraster/tileserv/internal/colormap"
)

func filled(w, h int, bands []string, v float64) *Image {
	img := NewImage(w, h, bands)
	for b := range img.Data {
		for i := range img.Data[b] {
			img.Data[b][i] = v
		}
	}
	for i := range img.Mask {
		img.Mask[i] = 255
	}
	return img
}

func TestRescale_SingleRangeAllBands(t *testing.T) {
	img := NewImage(3, 1, []string{"b1"})
	copy(img.Data[0], []float64{0, 5000, 10000})
	for i := range img.Mask {
		img.Mask[i] = 255
	}
	if err := img.Rescale([][2]float64{{0, 10000}}); err != nil {
		t.Fatalf("rescale: %v", err)
	}
	want := []float64{0, 127.5, 255}
	for i := range want {
		if math.Abs(img.Data[0][i]-want[i]) > 1e-9 {
			t.Fatalf("pixel %d = %g want %g", i, img.Data[0][i], want[i])
		}
	}
	if img.DataType != "Byte" {
		t.Fatalf("datatype=%q want Byte", img.DataType)
	}
}

func TestRescale_ClampsAndCountMismatch(t *testing.T) {
	img := NewImage(2, 1, []string{"b1"})
	copy(img.Data[0], []float64{-50, 500})
	if err := img.Rescale([][2]float64{{0, 255}}); err != nil {
		t.Fatalf("rescale: %v", err)
	}
	if img.Data[0][0] != 0 || img.Data[0][1] != 255 {
		t.Fatalf("values not clamped: %v", img.Data[0])
	}

	two := NewImage(1, 1, []string{"b1", "b2"})
	if err := two.Rescale([][2]float64{{0, 1}, {0, 1}, {0, 1}}); err == nil {
		t.Fatalf("3 ranges for 2 bands accepted")
	}
}

func TestApplyColorMap_ExpandsToRGBA(t *testing.T) {
	img := NewImage(2, 1, []string{"b1"})
	copy(img.Data[0], []float64{1, 7})
	img.Mask[0], img.Mask[1] = 255, 255
	cm := &colormap.ColorMap{Discrete: map[float64]colormap.Color{1: {10, 20, 30, 255}}}
	if err := img.ApplyColorMap(cm); err != nil {
		t.Fatalf("colormap: %v", err)
	}
	if img.NumBands() != 4 {
		t.Fatalf("bands=%d want 4", img.NumBands())
	}
	if img.Data[0][0] != 10 || img.Data[1][0] != 20 || img.Data[2][0] != 30 {
		t.Fatalf("pixel 0 = %g,%g,%g", img.Data[0][0], img.Data[1][0], img.Data[2][0])
	}
	// Value 7 has no entry and becomes transparent.
	if img.Mask[1] != 0 {
		t.Fatalf("unmapped value still valid")
	}
}

func TestToRGBA_MaskFoldsIntoAlpha(t *testing.T) {
	img := filled(2, 1, []string{"b1"}, 100)
	img.Mask[1] = 0
	rgba := img.ToRGBA()
	if c := rgba.NRGBAAt(0, 0); c.R != 100 || c.A != 255 {
		t.Fatalf("pixel 0 = %+v", c)
	}
	if c := rgba.NRGBAAt(1, 0); c.A != 0 {
		t.Fatalf("masked pixel alpha=%d want 0", rgba.NRGBAAt(1, 0).A)
	}
}

func TestTrim_CropsBorderAndBounds(t *testing.T) {
	img := filled(6, 6, []string{"b1"}, 0)
	img.Bounds = [4]float64{0, 0, 6, 6}
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			img.Data[0][y*6+x] = float64(y*6 + x)
		}
	}
	img.Trim(2)
	if img.Width != 2 || img.Height != 2 {
		t.Fatalf("size %dx%d want 2x2", img.Width, img.Height)
	}
	if img.Data[0][0] != 14 || img.Data[0][3] != 21 {
		t.Fatalf("window content wrong: %v", img.Data[0])
	}
	if img.Bounds != [4]float64{2, 2, 4, 4} {
		t.Fatalf("bounds=%v want [2 2 4 4]", img.Bounds)
	}
}

func TestOpaque(t *testing.T) {
	img := filled(2, 2, []string{"b1"}, 1)
	if !img.Opaque() {
		t.Fatalf("fully valid image not opaque")
	}
	img.Mask[3] = 0
	if img.Opaque() {
		t.Fatalf("image with masked pixel reported opaque")
	}
}

func TestClone_Independent(t *testing.T) {
	img := filled(2, 1, []string{"b1"}, 5)
	cp := img.Clone()
	cp.Data[0][0] = 99
	cp.Mask[0] = 0
	if img.Data[0][0] != 5 || img.Mask[0] != 255 {
		t.Fatalf("clone shares buffers with original")
	}
}

func TestApplyColorFormula_GammaAndErrors(t *testing.T) {
	img := filled(1, 1, []string{"r", "g", "b"}, 63.75) // 0.25 normalized
	if err := img.ApplyColorFormula("gamma rgb 2"); err != nil {
		t.Fatalf("gamma: %v", err)
	}
	want := math.Sqrt(0.25) * 255
	for b := 0; b < 3; b++ {
		if math.Abs(img.Data[b][0]-want) > 1e-9 {
			t.Fatalf("band %d = %g want %g", b, img.Data[b][0], want)
		}
	}
	if err := img.ApplyColorFormula("sharpen rgb 2"); err == nil {
		t.Fatalf("unknown operation accepted")
	}
	gray := filled(1, 1, []string{"b1"}, 10)
	if err := gray.ApplyColorFormula("saturation 1.2"); err == nil {
		t.Fatalf("saturation on single band accepted")
	}
}

func TestApplyColorFormula_SaturationZeroIsGray(t *testing.T) {
	img := NewImage(1, 1, []string{"r", "g", "b"})
	img.Data[0][0], img.Data[1][0], img.Data[2][0] = 200, 100, 50
	img.Mask[0] = 255
	if err := img.ApplyColorFormula("saturation 0"); err != nil {
		t.Fatalf("saturation: %v", err)
	}
	lum := 0.299*200 + 0.587*100 + 0.114*50
	for b := 0; b < 3; b++ {
		if math.Abs(img.Data[b][0]-lum) > 1e-9 {
			t.Fatalf("band %d = %g want %g", b, img.Data[b][0], lum)
		}
	}
}
