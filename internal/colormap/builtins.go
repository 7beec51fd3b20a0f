package colormap

// Built-in ramps are defined as gradient stops expanded to a discrete
// 256-entry colormap over byte values.

func ramp(stops []Color) *ColorMap {
	discrete := make(map[float64]Color, 256)
	sections := len(stops) - 1
	for i := 0; i < 256; i++ {
		pos := float64(i) / 255.0 * float64(sections)
		sec := int(pos)
		if sec >= sections {
			sec = sections - 1
		}
		frac := pos - float64(sec)
		a, b := stops[sec], stops[sec+1]
		var c Color
		for ch := 0; ch < 4; ch++ {
			c[ch] = uint8(float64(a[ch]) + frac*(float64(b[ch])-float64(a[ch])))
		}
		discrete[float64(i)] = c
	}
	return &ColorMap{Discrete: discrete}
}

// Builtins returns the registry of built-in colormaps.
func Builtins() Registry {
	return Registry{}.Register(map[string]*ColorMap{
		"gray": ramp([]Color{
			{0, 0, 0, 255}, {255, 255, 255, 255},
		}),
		"viridis": ramp([]Color{
			{68, 1, 84, 255}, {59, 82, 139, 255}, {33, 145, 140, 255},
			{94, 201, 98, 255}, {253, 231, 37, 255},
		}),
		"plasma": ramp([]Color{
			{13, 8, 135, 255}, {126, 3, 168, 255}, {204, 71, 120, 255},
			{248, 149, 64, 255}, {240, 249, 33, 255},
		}),
		"inferno": ramp([]Color{
			{0, 0, 4, 255}, {87, 16, 110, 255}, {188, 55, 84, 255},
			{249, 142, 9, 255}, {252, 255, 164, 255},
		}),
		"magma": ramp([]Color{
			{0, 0, 4, 255}, {81, 18, 124, 255}, {183, 55, 121, 255},
			{252, 137, 97, 255}, {252, 253, 191, 255},
		}),
		"terrain": ramp([]Color{
			{51, 51, 153, 255}, {0, 153, 153, 255}, {0, 204, 102, 255},
			{255, 255, 102, 255}, {153, 102, 51, 255}, {255, 255, 255, 255},
		}),
		"rdylgn": ramp([]Color{
			{165, 0, 38, 255}, {253, 174, 97, 255}, {255, 255, 191, 255},
			{166, 217, 106, 255}, {0, 104, 55, 255},
		}),
		"spectral": ramp([]Color{
			{158, 1, 66, 255}, {253, 174, 97, 255}, {255, 255, 191, 255},
			{171, 221, 164, 255}, {94, 79, 162, 255},
		}),
		"bwr": ramp([]Color{
			{0, 0, 255, 255}, {255, 255, 255, 255}, {255, 0, 0, 255},
		}),
		"hot": ramp([]Color{
			{0, 0, 0, 255}, {230, 0, 0, 255}, {255, 210, 0, 255}, {255, 255, 255, 255},
		}),
		"cool": ramp([]Color{
			{0, 255, 255, 255}, {255, 0, 255, 255},
		}),
	})
}
