package geo

import (
	"math"
	"strconv"
	"strings"

	"github.com/dynraster/tileserv/internal/errs"
)

// ApplyColorFormula runs a chain of color operations over byte-scale RGB
// data. The grammar follows the usual "gamma rgb 1.8, sigmoidal rgb 6 0.1,
// saturation 1.2" form; operations are applied in order on values
// normalized to [0, 1].
func (im *Image) ApplyColorFormula(formula string) error {
	ops := strings.Split(formula, ",")
	for _, op := range ops {
		fields := strings.Fields(strings.TrimSpace(op))
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "gamma":
			if len(fields) != 3 {
				return errs.InvalidParam("color_formula: gamma expects <bands> <value>")
			}
			bands, err := im.formulaBands(fields[1])
			if err != nil {
				return err
			}
			g, err := strconv.ParseFloat(fields[2], 64)
			if err != nil || g <= 0 {
				return errs.InvalidParam("color_formula: invalid gamma value %q", fields[2])
			}
			for _, b := range bands {
				applyScaled(im.Data[b], func(v float64) float64 {
					return math.Pow(v, 1.0/g)
				})
			}
		case "sigmoidal":
			if len(fields) != 4 {
				return errs.InvalidParam("color_formula: sigmoidal expects <bands> <contrast> <bias>")
			}
			bands, err := im.formulaBands(fields[1])
			if err != nil {
				return err
			}
			contrast, err1 := strconv.ParseFloat(fields[2], 64)
			bias, err2 := strconv.ParseFloat(fields[3], 64)
			if err1 != nil || err2 != nil {
				return errs.InvalidParam("color_formula: invalid sigmoidal arguments")
			}
			for _, b := range bands {
				applyScaled(im.Data[b], func(v float64) float64 {
					return sigmoidal(v, contrast, bias)
				})
			}
		case "saturation":
			if len(fields) != 2 {
				return errs.InvalidParam("color_formula: saturation expects <proportion>")
			}
			prop, err := strconv.ParseFloat(fields[1], 64)
			if err != nil || prop < 0 {
				return errs.InvalidParam("color_formula: invalid saturation value %q", fields[1])
			}
			if im.NumBands() < 3 {
				return errs.InvalidParam("color_formula: saturation requires RGB data")
			}
			im.applySaturation(prop)
		default:
			return errs.InvalidParam("color_formula: unknown operation %q", fields[0])
		}
	}
	return nil
}

func (im *Image) formulaBands(spec string) ([]int, error) {
	var out []int
	for _, ch := range strings.ToLower(spec) {
		var idx int
		switch ch {
		case 'r':
			idx = 0
		case 'g':
			idx = 1
		case 'b':
			idx = 2
		default:
			return nil, errs.InvalidParam("color_formula: invalid band spec %q", spec)
		}
		if idx >= im.NumBands() {
			return nil, errs.InvalidParam("color_formula: band %q not present in %d-band image", string(ch), im.NumBands())
		}
		out = append(out, idx)
	}
	if len(out) == 0 {
		return nil, errs.InvalidParam("color_formula: empty band spec")
	}
	return out, nil
}

// applyScaled maps byte values through f over the normalized [0, 1] domain.
func applyScaled(buf []float64, f func(float64) float64) {
	for i, v := range buf {
		v = f(math.Max(0, math.Min(1, v/255.0)))
		buf[i] = math.Max(0, math.Min(255, v*255.0))
	}
}

func sigmoidal(v, contrast, bias float64) float64 {
	if contrast == 0 {
		return v
	}
	alpha, beta := bias, contrast
	numer := 1.0/(1.0+math.Exp(beta*(alpha-v))) - 1.0/(1.0+math.Exp(beta*alpha))
	denom := 1.0/(1.0+math.Exp(beta*(alpha-1.0))) - 1.0/(1.0+math.Exp(beta*alpha))
	if denom == 0 {
		return v
	}
	return numer / denom
}

func (im *Image) applySaturation(prop float64) {
	n := im.Width * im.Height
	for px := 0; px < n; px++ {
		r, g, b := im.Data[0][px], im.Data[1][px], im.Data[2][px]
		// Rec. 601 luma
		lum := 0.299*r + 0.587*g + 0.114*b
		im.Data[0][px] = math.Max(0, math.Min(255, lum+prop*(r-lum)))
		im.Data[1][px] = math.Max(0, math.Min(255, lum+prop*(g-lum)))
		im.Data[2][px] = math.Max(0, math.Min(255, lum+prop*(b-lum)))
	}
}
