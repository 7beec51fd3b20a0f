// Package colormap provides the process-wide registry of named colormaps
// plus parsing of user-supplied colormap JSON. Registered ramps map byte
// values (0-255) to RGBA; user colormaps may also be interval based.
package colormap

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/dynraster/tileserv/internal/errs"
)

// Color is an RGBA quadruplet with 8-bit channels.
type Color [4]uint8

// Interval colors every value v with min <= v < max. The last interval is
// inclusive on both ends.
type Interval struct {
	Min, Max float64
	Color    Color
}

// ColorMap maps pixel values to colors, either through discrete entries or
// through ordered intervals. Exactly one of the two forms is populated.
type ColorMap struct {
	Discrete  map[float64]Color
	Intervals []Interval
}

// Lookup resolves the color for a pixel value. The second return is false
// when the value has no entry (rendered fully transparent).
func (c *ColorMap) Lookup(v float64) (Color, bool) {
	if c.Discrete != nil {
		col, ok := c.Discrete[v]
		return col, ok
	}
	for i, iv := range c.Intervals {
		if v >= iv.Min && (v < iv.Max || (i == len(c.Intervals)-1 && v == iv.Max)) {
			return iv.Color, true
		}
	}
	return Color{}, false
}

// Keys returns the sorted discrete values, used for legend rendering.
func (c *ColorMap) Keys() []float64 {
	keys := make([]float64, 0, len(c.Discrete))
	for k := range c.Discrete {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	return keys
}

// MarshalJSON renders the colormap in the same shapes Parse accepts, so
// the discovery route round-trips.
func (c *ColorMap) MarshalJSON() ([]byte, error) {
	if c.Discrete != nil {
		out := make(map[string]Color, len(c.Discrete))
		for v, col := range c.Discrete {
			out[strconv.FormatFloat(v, 'f', -1, 64)] = col
		}
		return json.Marshal(out)
	}
	out := make([][2]any, 0, len(c.Intervals))
	for _, iv := range c.Intervals {
		out = append(out, [2]any{[2]float64{iv.Min, iv.Max}, iv.Color})
	}
	return json.Marshal(out)
}

// Parse decodes a user-supplied colormap JSON document. Two shapes are
// accepted: {"<value>": <color>, ...} and [[[min, max], <color>], ...].
// A color is either a hex string or an array of 3 or 4 channel values.
func Parse(raw string) (*ColorMap, error) {
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &asMap); err == nil {
		discrete := make(map[float64]Color, len(asMap))
		for k, v := range asMap {
			val, err := strconv.ParseFloat(k, 64)
			if err != nil {
				return nil, errs.BadRequest("could not parse colormap: invalid value %q", k)
			}
			col, err := parseColor(v)
			if err != nil {
				return nil, err
			}
			discrete[val] = col
		}
		return &ColorMap{Discrete: discrete}, nil
	}

	var asIntervals [][2]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &asIntervals); err != nil {
		return nil, errs.BadRequest("could not parse colormap")
	}
	intervals := make([]Interval, 0, len(asIntervals))
	for _, pair := range asIntervals {
		var bounds [2]float64
		if err := json.Unmarshal(pair[0], &bounds); err != nil {
			return nil, errs.BadRequest("could not parse colormap: invalid interval")
		}
		col, err := parseColor(pair[1])
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, Interval{Min: bounds[0], Max: bounds[1], Color: col})
	}
	return &ColorMap{Intervals: intervals}, nil
}

func parseColor(raw json.RawMessage) (Color, error) {
	var hex string
	if err := json.Unmarshal(raw, &hex); err == nil {
		return parseHex(hex)
	}
	var channels []float64
	if err := json.Unmarshal(raw, &channels); err != nil {
		return Color{}, errs.BadRequest("could not parse colormap: invalid color")
	}
	if len(channels) < 3 || len(channels) > 4 {
		return Color{}, errs.BadRequest("could not parse colormap: color needs 3 or 4 channels, got %d", len(channels))
	}
	var c Color
	c[3] = 255
	for i, ch := range channels {
		if ch < 0 || ch > 255 || ch != math.Trunc(ch) {
			return Color{}, errs.BadRequest("could not parse colormap: channel %v out of range", ch)
		}
		c[i] = uint8(ch)
	}
	return c, nil
}

func parseHex(s string) (Color, error) {
	if len(s) == 0 || s[0] != '#' {
		return Color{}, errs.BadRequest("could not parse colormap: invalid hex color %q", s)
	}
	h := s[1:]
	var c Color
	c[3] = 255
	switch len(h) {
	case 3:
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseUint(string(h[i])+string(h[i]), 16, 8)
			if err != nil {
				return Color{}, errs.BadRequest("could not parse colormap: invalid hex color %q", s)
			}
			c[i] = uint8(v)
		}
	case 6, 8:
		for i := 0; i*2 < len(h); i++ {
			v, err := strconv.ParseUint(h[i*2:i*2+2], 16, 8)
			if err != nil {
				return Color{}, errs.BadRequest("could not parse colormap: invalid hex color %q", s)
			}
			c[i] = uint8(v)
		}
	default:
		return Color{}, errs.BadRequest("could not parse colormap: invalid hex color %q", s)
	}
	return c, nil
}

// Registry is an immutable name -> colormap mapping.
type Registry struct {
	m map[string]*ColorMap
}

// Register returns a new registry extended with the given colormaps.
func (r Registry) Register(maps map[string]*ColorMap) Registry {
	m := make(map[string]*ColorMap, len(r.m)+len(maps))
	for k, v := range r.m {
		m[k] = v
	}
	for k, v := range maps {
		m[k] = v
	}
	return Registry{m: m}
}

// Get resolves a registered colormap name.
func (r Registry) Get(name string) (*ColorMap, error) {
	if c, ok := r.m[name]; ok {
		return c, nil
	}
	return nil, errs.InvalidParam("invalid colormap_name %q, registered: %v", name, r.Names())
}

// Names lists registered colormap names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r.m))
	for k := range r.m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
