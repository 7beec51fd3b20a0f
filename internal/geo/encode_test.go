package geo

import (
	"bytes"
	"encoding/binary"
	"image/png"
	"math"
	"testing"
)

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in   string
		want Format
	}{
		{"", FormatAuto},
		{"png", FormatPNG},
		{"jpg", FormatJPEG},
		{"jpeg", FormatJPEG},
		{"webp", FormatWebP},
		{"tiff", FormatTIF},
		{"npy", FormatNPY},
	}
	for _, c := range cases {
		got, err := ParseFormat(c.in)
		if err != nil || got != c.want {
			t.Fatalf("ParseFormat(%q) = %q, %v want %q", c.in, got, err, c.want)
		}
	}
	if _, err := ParseFormat("gif"); err == nil {
		t.Fatalf("gif accepted")
	}
}

func TestFormatResolve_AutoByOpacity(t *testing.T) {
	img := filled(2, 2, []string{"b1"}, 1)
	if got := FormatAuto.Resolve(img); got != FormatJPEG {
		t.Fatalf("opaque auto=%q want jpeg", got)
	}
	img.Mask[0] = 0
	if got := FormatAuto.Resolve(img); got != FormatPNG {
		t.Fatalf("masked auto=%q want png", got)
	}
	if got := FormatWebP.Resolve(img); got != FormatWebP {
		t.Fatalf("explicit format changed to %q", got)
	}
}

func TestEncodePNG_Decodes(t *testing.T) {
	img := filled(4, 3, []string{"b1"}, 128)
	data, err := Encode(img, FormatPNG, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Bounds().Dx() != 4 || decoded.Bounds().Dy() != 3 {
		t.Fatalf("decoded size %v", decoded.Bounds())
	}
}

func TestEncodeNPY_HeaderAndPayload(t *testing.T) {
	img := filled(2, 2, []string{"b1"}, 7)
	data := encodeNPYForTest(t, img)

	if string(data[:6]) != "\x93NUMPY" {
		t.Fatalf("bad magic %q", data[:6])
	}
	hlen := binary.LittleEndian.Uint16(data[8:10])
	header := string(data[10 : 10+int(hlen)])
	if !bytes.Contains([]byte(header), []byte("(2, 2, 2)")) {
		t.Fatalf("header missing shape: %q", header)
	}
	if (10+int(hlen))%64 != 0 {
		t.Fatalf("header not 64-byte aligned: %d", 10+int(hlen))
	}
	// 2 planes * 4 pixels * 8 bytes after the header.
	if len(data)-10-int(hlen) != 64 {
		t.Fatalf("payload size %d want 64", len(data)-10-int(hlen))
	}
	first := binary.LittleEndian.Uint64(data[10+int(hlen):])
	if v := math.Float64frombits(first); v != 7 {
		t.Fatalf("first value %g want 7", v)
	}
}

func TestEncodeNPY_WithoutMask(t *testing.T) {
	img := filled(2, 2, []string{"b1"}, 7)
	data, err := Encode(img, FormatNPY, false)
	if err != nil {
		t.Fatalf("encode npy: %v", err)
	}

	hlen := binary.LittleEndian.Uint16(data[8:10])
	header := string(data[10 : 10+int(hlen)])
	if !bytes.Contains([]byte(header), []byte("(1, 2, 2)")) {
		t.Fatalf("header missing shape: %q", header)
	}
	// one plane, no mask appended
	if len(data)-10-int(hlen) != 32 {
		t.Fatalf("payload size %d want 32", len(data)-10-int(hlen))
	}
}

func encodeNPYForTest(t *testing.T, img *Image) []byte {
	t.Helper()
	data, err := Encode(img, FormatNPY, true)
	if err != nil {
		t.Fatalf("encode npy: %v", err)
	}
	return data
}
