package geo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/airbusgeo/godal"
	"github.com/gen2brain/webp"

	"github.com/dynraster/tileserv/internal/errs"
)

// Format is an output image format.
type Format string

const (
	FormatAuto Format = ""
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
	FormatTIF  Format = "tif"
	FormatNPY  Format = "npy"
)

var mediaTypes = map[Format]string{
	FormatPNG:  "image/png",
	FormatJPEG: "image/jpeg",
	FormatWebP: "image/webp",
	FormatTIF:  "image/tiff; application=geotiff",
	FormatNPY:  "application/x-binary",
}

// ParseFormat validates a format name from a route suffix or query value.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "":
		return FormatAuto, nil
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	case "tif", "tiff":
		return FormatTIF, nil
	case "npy":
		return FormatNPY, nil
	default:
		return FormatAuto, errs.InvalidParam("invalid format %q, expected png, jpeg, webp, tif or npy", s)
	}
}

// MediaType returns the response content type for the format.
func (f Format) MediaType() string { return mediaTypes[f] }

// Resolve settles the "auto" format after the read: a fully opaque image
// renders lossy without alpha, anything masked renders lossless with alpha.
func (f Format) Resolve(img *Image) Format {
	if f != FormatAuto {
		return f
	}
	if img.Opaque() {
		return FormatJPEG
	}
	return FormatPNG
}

// Encode serializes the image to bytes in the given format. withMask
// controls whether the data formats carry the validity mask as an extra
// plane (npy) or alpha band (tif); the picture formats always fold the
// mask into their alpha channel.
func Encode(img *Image, f Format, withMask bool) ([]byte, error) {
	switch f {
	case FormatPNG:
		var buf bytes.Buffer
		if err := png.Encode(&buf, img.ToRGBA()); err != nil {
			return nil, errs.Internal(err, "png encoding failed")
		}
		return buf.Bytes(), nil
	case FormatJPEG:
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img.ToRGBA(), &jpeg.Options{Quality: 85}); err != nil {
			return nil, errs.Internal(err, "jpeg encoding failed")
		}
		return buf.Bytes(), nil
	case FormatWebP:
		var buf bytes.Buffer
		if err := webp.Encode(&buf, img.ToRGBA(), webp.Options{Lossless: true}); err != nil {
			return nil, errs.Internal(err, "webp encoding failed")
		}
		return buf.Bytes(), nil
	case FormatTIF:
		return encodeGeoTIFF(img, withMask)
	case FormatNPY:
		return encodeNPY(img, withMask), nil
	default:
		return nil, errs.InvalidParam("invalid format %q", string(f))
	}
}

var gdalTypes = map[string]godal.DataType{
	"Byte":    godal.Byte,
	"Int16":   godal.Int16,
	"UInt16":  godal.UInt16,
	"Int32":   godal.Int32,
	"UInt32":  godal.UInt32,
	"Float32": godal.Float32,
	"Float64": godal.Float64,
}

// encodeGeoTIFF round-trips the image through an in-memory dataset and the
// GTiff driver, carrying georeferencing and the source pixel type.
func encodeGeoTIFF(img *Image, withMask bool) ([]byte, error) {
	dtype, ok := gdalTypes[img.DataType]
	if !ok {
		dtype = godal.Float64
	}
	// mask travels as an extra alpha band
	nBands := img.NumBands()
	if withMask {
		nBands++
	}
	ds, err := godal.Create(godal.DriverName("MEM"), "", nBands, dtype, img.Width, img.Height)
	if err != nil {
		return nil, errs.Internal(err, "error creating in-memory dataset")
	}
	defer ds.Close()

	if img.Bounds != ([4]float64{}) {
		gt := [6]float64{
			img.Bounds[0], (img.Bounds[2] - img.Bounds[0]) / float64(img.Width), 0,
			img.Bounds[3], 0, (img.Bounds[1] - img.Bounds[3]) / float64(img.Height),
		}
		if err := ds.SetGeoTransform(gt); err != nil {
			return nil, errs.Internal(err, "error setting geotransform")
		}
	}
	if epsg := epsgCode(img.CRS); epsg != 0 {
		sr, err := godal.NewSpatialRefFromEPSG(epsg)
		if err == nil {
			defer sr.Close()
			_ = ds.SetSpatialRef(sr)
		}
	}

	bands := ds.Bands()
	for i, buf := range img.Data {
		if err := bands[i].Write(0, 0, buf, img.Width, img.Height); err != nil {
			return nil, errs.Internal(err, "error writing band %d", i+1)
		}
	}
	if withMask {
		alpha := make([]byte, img.Width*img.Height)
		for i, m := range img.Mask {
			alpha[i] = m
		}
		if err := bands[len(bands)-1].Write(0, 0, alpha, img.Width, img.Height); err != nil {
			return nil, errs.Internal(err, "error writing mask band")
		}
	}

	tmpDir, err := os.MkdirTemp("", "tileserv-gtiff-")
	if err != nil {
		return nil, errs.Internal(err, "error creating temp directory")
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	path := filepath.Join(tmpDir, "out.tif")

	out, err := ds.Translate(path, []string{"-of", "GTiff", "-co", "COMPRESS=DEFLATE"})
	if err != nil {
		return nil, errs.Internal(err, "geotiff encoding failed")
	}
	if err := out.Close(); err != nil {
		return nil, errs.Internal(err, "geotiff encoding failed")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Internal(err, "error reading encoded geotiff")
	}
	return data, nil
}

func epsgCode(crs string) int {
	const prefix = "EPSG:"
	if len(crs) > len(prefix) && crs[:len(prefix)] == prefix {
		if code, err := strconv.Atoi(crs[len(prefix):]); err == nil {
			return code
		}
	}
	return 0
}

// encodeNPY dumps the raw pixel buffers as a numpy v1.0 array of shape
// (bands+1, height, width); the last plane is the 0/255 validity mask,
// omitted (and the shape shrunk) when withMask is false.
func encodeNPY(img *Image, withMask bool) []byte {
	planes := img.NumBands()
	if withMask {
		planes++
	}
	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%d, %d, %d), }",
		planes, img.Height, img.Width)
	// pad so magic+header is a multiple of 64, newline terminated
	pad := 64 - (10+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	for i := 0; i < pad; i++ {
		header += " "
	}
	header += "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.WriteByte(1)
	buf.WriteByte(0)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	for _, band := range img.Data {
		for _, v := range band {
			_ = binary.Write(&buf, binary.LittleEndian, math.Float64bits(v))
		}
	}
	if withMask {
		for _, m := range img.Mask {
			_ = binary.Write(&buf, binary.LittleEndian, math.Float64bits(float64(m)))
		}
	}
	return buf.Bytes()
}
