package algorithm

// Builtins returns the default algorithm registry. Embedders extend it
// with Register before wiring routes.
func Builtins() Registry {
	r := Registry{}

	r = r.Register("hillshade", Metadata{
		Description: "Shaded relief from single-band elevation",
		InputBands:  1,
		OutputBands: 1,
		OutputDType: "Byte",
		Buffer:      3,
		Parameters: map[string]Param{
			"azimuth":  {Type: "number", Default: def(90)},
			"altitude": {Type: "number", Default: def(90)},
		},
	}, func(p map[string]float64) (Algorithm, error) {
		return hillshade{azimuth: p["azimuth"], altitude: p["altitude"], buffer: 3}, nil
	})

	r = r.Register("slope", Metadata{
		Description: "Terrain steepness in degrees from single-band elevation",
		InputBands:  1,
		OutputBands: 1,
		OutputDType: "Float64",
		Buffer:      3,
	}, func(p map[string]float64) (Algorithm, error) {
		return slope{buffer: 3}, nil
	})

	r = r.Register("contours", Metadata{
		Description: "Elevation isolines at a fixed increment",
		InputBands:  1,
		OutputBands: 1,
		OutputDType: "Byte",
		Buffer:      3,
		Parameters: map[string]Param{
			"increment": {Type: "number", Default: def(35)},
			"thickness": {Type: "number", Default: def(1)},
			"minz":      {Type: "number", Default: def(-12000)},
			"maxz":      {Type: "number", Default: def(8000)},
		},
	}, func(p map[string]float64) (Algorithm, error) {
		return contours{
			increment: p["increment"],
			thickness: p["thickness"],
			minz:      p["minz"],
			maxz:      p["maxz"],
			buffer:    3,
		}, nil
	})

	r = r.Register("terrainrgb", Metadata{
		Description: "Encode elevation as Terrain-RGB tiles",
		InputBands:  1,
		OutputBands: 3,
		OutputDType: "Byte",
		Parameters: map[string]Param{
			"interval":      {Type: "number", Default: def(0.1)},
			"baseval":       {Type: "number", Default: def(-10000)},
			"nodata_height": {Type: "number"},
		},
	}, func(p map[string]float64) (Algorithm, error) {
		a := terrainRGBEncode{interval: p["interval"], baseval: p["baseval"]}
		if v, ok := p["nodata_height"]; ok {
			a.nodataHeight = &v
		}
		return a, nil
	})

	r = r.Register("terrainrgb-decode", Metadata{
		Description: "Decode Terrain-RGB tiles back to elevation",
		InputBands:  3,
		OutputBands: 1,
		OutputDType: "Float64",
		Parameters: map[string]Param{
			"interval": {Type: "number", Default: def(0.1)},
			"baseval":  {Type: "number", Default: def(-10000)},
		},
	}, func(p map[string]float64) (Algorithm, error) {
		return terrainRGBDecode{interval: p["interval"], baseval: p["baseval"]}, nil
	})

	r = r.Register("terrarium", Metadata{
		Description: "Encode elevation as Terrarium tiles",
		InputBands:  1,
		OutputBands: 3,
		OutputDType: "Byte",
	}, func(p map[string]float64) (Algorithm, error) {
		return terrariumEncode{}, nil
	})

	r = r.Register("terrarium-decode", Metadata{
		Description: "Decode Terrarium tiles back to elevation",
		InputBands:  3,
		OutputBands: 1,
		OutputDType: "Float64",
	}, func(p map[string]float64) (Algorithm, error) {
		return terrariumDecode{}, nil
	})

	r = r.Register("normalizedIndex", Metadata{
		Description: "Normalized difference of two bands: (b1 - b2) / (b1 + b2)",
		InputBands:  2,
		OutputBands: 1,
		OutputDType: "Float64",
	}, func(p map[string]float64) (Algorithm, error) {
		return normalizedIndex{}, nil
	})

	for _, name := range []string{"min", "max", "mean", "median", "std", "var", "sum"} {
		n := name
		r = r.Register(n, Metadata{
			Description: "Reduce all bands to one with " + n,
			InputBands:  1,
			OutputBands: 1,
			OutputDType: "Float64",
		}, func(p map[string]float64) (Algorithm, error) {
			return reduce{name: n}, nil
		})
	}

	for _, name := range []string{"ceil", "floor", "trunc"} {
		n := name
		r = r.Register(n, Metadata{
			Description: "Round every pixel with " + n,
			InputBands:  1,
			OutputBands: 1,
			OutputDType: "Float64",
		}, func(p map[string]float64) (Algorithm, error) {
			return cast{name: n}, nil
		})
	}

	return r
}
