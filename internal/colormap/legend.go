package colormap

import (
	"image"
	"image/color"
)

const (
	legendLongSide  = 256
	legendShortSide = 20
)

// Legend renders a colormap swatch. Zero width/height pick the defaults:
// 256x20 horizontal, 20x256 vertical. Discrete maps are sampled across
// their sorted value range, interval maps across [min, max) of the
// outermost intervals.
func Legend(cm *ColorMap, width, height int, vertical bool) *image.NRGBA {
	if width == 0 && height == 0 {
		if vertical {
			width, height = legendShortSide, legendLongSide
		} else {
			width, height = legendLongSide, legendShortSide
		}
	} else if width == 0 {
		width = legendShortSide
		if !vertical {
			width = legendLongSide
		}
	} else if height == 0 {
		height = legendLongSide
		if !vertical {
			height = legendShortSide
		}
	}

	steps := width
	if vertical {
		steps = height
	}
	colors := sample(cm, steps)

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := x
			if vertical {
				// high values on top
				idx = height - 1 - y
			}
			c := colors[idx]
			img.SetNRGBA(x, y, color.NRGBA{R: c[0], G: c[1], B: c[2], A: c[3]})
		}
	}
	return img
}

func sample(cm *ColorMap, steps int) []Color {
	out := make([]Color, steps)
	switch {
	case cm.Discrete != nil:
		keys := cm.Keys()
		if len(keys) == 0 {
			return out
		}
		lo, hi := keys[0], keys[len(keys)-1]
		for i := 0; i < steps; i++ {
			v := lo + (hi-lo)*float64(i)/float64(steps-1)
			// nearest entry at or below v
			c := cm.Discrete[keys[0]]
			for _, k := range keys {
				if k > v {
					break
				}
				c = cm.Discrete[k]
			}
			out[i] = c
		}
	case len(cm.Intervals) > 0:
		lo := cm.Intervals[0].Min
		hi := cm.Intervals[len(cm.Intervals)-1].Max
		for i := 0; i < steps; i++ {
			v := lo + (hi-lo)*float64(i)/float64(steps-1)
			if c, ok := cm.Lookup(v); ok {
				out[i] = c
			}
		}
	}
	return out
}
