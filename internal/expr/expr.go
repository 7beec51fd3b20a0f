// Package expr evaluates per-pixel band math expressions such as
// "(b1-b2)/(b1+b2)". An expression string may hold several formulas
// separated by ";", each producing one output band.
package expr

import (
	"math"
	"sort"
	"strings"

	"github.com/edisonguo/govaluate"

	"github.com/dynraster/tileserv/internal/errs"
)

// Expression is a parsed band-math expression, safe for reuse across pixels.
type Expression struct {
	Source   string
	formulas []*govaluate.EvaluableExpression
	names    []string // one per output band, the formula text
	vars     []string // referenced band variables, deduplicated
}

// Parse compiles an expression string. Compilation failures surface as
// parameter validation errors, before any raster I/O happens.
func Parse(source string) (*Expression, error) {
	parts := strings.Split(source, ";")
	e := &Expression{Source: source}
	seen := map[string]bool{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := govaluate.NewEvaluableExpression(p)
		if err != nil {
			return nil, errs.InvalidParam("invalid expression %q: %v", p, err)
		}
		e.formulas = append(e.formulas, f)
		e.names = append(e.names, p)
		for _, v := range f.Vars() {
			if !seen[v] {
				seen[v] = true
				e.vars = append(e.vars, v)
			}
		}
	}
	if len(e.formulas) == 0 {
		return nil, errs.InvalidParam("empty expression")
	}
	sort.Strings(e.vars)
	return e, nil
}

// Vars returns the referenced band variables (e.g. "b1", "b2"), sorted.
func (e *Expression) Vars() []string { return e.vars }

// Names returns one name per output band.
func (e *Expression) Names() []string { return e.names }

// NumOutputs returns the number of output bands the expression produces.
func (e *Expression) NumOutputs() int { return len(e.formulas) }

// EvaluatePixel computes all formulas for one pixel. A non-numeric result
// or evaluation error yields NaN, which callers mask.
func (e *Expression) EvaluatePixel(vars map[string]interface{}) []float64 {
	out := make([]float64, len(e.formulas))
	for i, f := range e.formulas {
		res, err := f.Evaluate(vars)
		if err != nil {
			out[i] = math.NaN()
			continue
		}
		v, ok := res.(float64)
		if !ok {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
	return out
}

// Evaluate applies the expression over whole band buffers. bands maps a
// variable name to its pixel buffer; every buffer has n pixels. The mask
// marks invalid input pixels (0 = masked) and is propagated: any output
// pixel computed from masked input, or evaluating to NaN/Inf, is masked.
func (e *Expression) Evaluate(bands map[string][]float64, mask []uint8, n int) ([][]float64, []uint8, error) {
	for _, v := range e.vars {
		if _, ok := bands[v]; !ok {
			return nil, nil, errs.InvalidParam("expression %q references unknown band %q", e.Source, v)
		}
	}
	out := make([][]float64, len(e.formulas))
	for i := range out {
		out[i] = make([]float64, n)
	}
	outMask := make([]uint8, n)
	vars := make(map[string]interface{}, len(e.vars))
	for px := 0; px < n; px++ {
		if mask != nil && mask[px] == 0 {
			continue
		}
		for _, v := range e.vars {
			vars[v] = bands[v][px]
		}
		valid := uint8(255)
		for i, f := range e.formulas {
			res, err := f.Evaluate(vars)
			if err != nil {
				valid = 0
				continue
			}
			v, ok := res.(float64)
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				valid = 0
				continue
			}
			out[i][px] = v
		}
		outMask[px] = valid
	}
	return out, outMask, nil
}
