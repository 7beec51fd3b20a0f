// Package algorithm provides the process-wide registry of post-processing
// transforms applied to an in-memory image before encoding. Every transform
// is a pure function of (image, parameters); the registry is immutable
// after process start and Register returns an extended copy.
package algorithm

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/dynraster/tileserv/internal/errs"
	"github.com/dynraster/tileserv/internal/geo"
)

// Algorithm transforms one image into another. Band count, dtype and shape
// may change; geospatial bounds/CRS metadata is preserved.
type Algorithm interface {
	Apply(img *geo.Image) (*geo.Image, error)
}

// Param describes one algorithm parameter for the discovery endpoint and
// for validation.
type Param struct {
	Type     string   `json:"type"`
	Default  *float64 `json:"default,omitempty"`
	Required bool     `json:"required,omitempty"`
}

// Metadata describes an algorithm: its parameter schema, band contract and
// the context border it consumes around the requested window.
type Metadata struct {
	Description string           `json:"description,omitempty"`
	InputBands  int              `json:"input_nbands"`
	OutputBands int              `json:"output_nbands"`
	OutputDType string           `json:"output_dtype,omitempty"`
	Buffer      int              `json:"input_buffer,omitempty"`
	Parameters  map[string]Param `json:"parameters,omitempty"`
}

// Factory builds an algorithm instance from validated parameters.
type Factory func(params map[string]float64) (Algorithm, error)

type entry struct {
	meta    Metadata
	factory Factory
}

// Registry is an immutable name -> algorithm mapping.
type Registry struct {
	m map[string]entry
}

// Register returns a new registry that is the union of the receiver and
// the given entries. Duplicate names overwrite in the returned registry,
// never in the receiver.
func (r Registry) Register(name string, meta Metadata, f Factory) Registry {
	m := make(map[string]entry, len(r.m)+1)
	for k, v := range r.m {
		m[k] = v
	}
	m[name] = entry{meta: meta, factory: f}
	return Registry{m: m}
}

// Names lists registered algorithm names in sorted order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r.m))
	for k := range r.m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Metadata returns the schema of one registered algorithm.
func (r Registry) Metadata(name string) (Metadata, error) {
	e, ok := r.m[name]
	if !ok {
		return Metadata{}, errs.InvalidParam("invalid algorithm %q, registered: %v", name, r.Names())
	}
	return e.meta, nil
}

// Resolve validates the algorithm name and its JSON parameter blob and
// constructs the transform. An empty name resolves to (nil, zero, nil):
// no transform. Unknown names, unknown parameter keys and missing required
// parameters all fail validation before any raster I/O.
func (r Registry) Resolve(name, rawParams string) (Algorithm, Metadata, error) {
	if name == "" {
		return nil, Metadata{}, nil
	}
	e, ok := r.m[name]
	if !ok {
		return nil, Metadata{}, errs.InvalidParam("invalid algorithm %q, registered: %v", name, r.Names())
	}

	params := map[string]float64{}
	if rawParams != "" {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(rawParams), &raw); err != nil {
			return nil, Metadata{}, errs.InvalidParam("invalid algorithm_params: %v", err)
		}
		for k, v := range raw {
			if _, known := e.meta.Parameters[k]; !known {
				return nil, Metadata{}, errs.InvalidParam("algorithm %q has no parameter %q", name, k)
			}
			var f float64
			if err := json.Unmarshal(v, &f); err != nil {
				return nil, Metadata{}, errs.InvalidParam("algorithm %q parameter %q must be a number", name, k)
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, Metadata{}, errs.InvalidParam("algorithm %q parameter %q must be finite", name, k)
			}
			params[k] = f
		}
	}
	for k, spec := range e.meta.Parameters {
		if _, given := params[k]; given {
			continue
		}
		if spec.Required {
			return nil, Metadata{}, errs.InvalidParam("algorithm %q requires parameter %q", name, k)
		}
		if spec.Default != nil {
			params[k] = *spec.Default
		}
	}

	alg, err := e.factory(params)
	if err != nil {
		return nil, Metadata{}, err
	}
	return alg, e.meta, nil
}

func def(v float64) *float64 { return &v }
