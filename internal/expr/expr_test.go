package expr

import (
	"math"
	"testing"
)

func TestParse_MultipleFormulasAndVars(t *testing.T) {
	e, err := Parse("(b1-b2)/(b1+b2); b3*2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := e.NumOutputs(); got != 2 {
		t.Fatalf("NumOutputs=%d want 2", got)
	}
	wantVars := []string{"b1", "b2", "b3"}
	vars := e.Vars()
	if len(vars) != len(wantVars) {
		t.Fatalf("Vars=%v want %v", vars, wantVars)
	}
	for i := range wantVars {
		if vars[i] != wantVars[i] {
			t.Fatalf("Vars=%v want %v", vars, wantVars)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("b1 +* b2"); err == nil {
		t.Fatalf("expected parse error for malformed expression")
	}
	if _, err := Parse(" ; ; "); err == nil {
		t.Fatalf("expected parse error for empty expression")
	}
}

func TestEvaluate_NormalizedDifference(t *testing.T) {
	e, err := Parse("(b1-b2)/(b1+b2)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	bands := map[string][]float64{
		"b1": {8, 4, 0},
		"b2": {4, 4, 0},
	}
	out, mask, err := e.Evaluate(bands, nil, 3)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("output bands=%d want 1", len(out))
	}
	if math.Abs(out[0][0]-1.0/3.0) > 1e-12 {
		t.Fatalf("pixel 0 = %g want %g", out[0][0], 1.0/3.0)
	}
	if out[0][1] != 0 {
		t.Fatalf("pixel 1 = %g want 0", out[0][1])
	}
	// 0/0 is not finite and must be masked out.
	if mask[2] != 0 {
		t.Fatalf("pixel 2 mask=%d want 0", mask[2])
	}
	if mask[0] != 255 || mask[1] != 255 {
		t.Fatalf("valid pixels masked: %v", mask)
	}
}

func TestEvaluate_PropagatesInputMask(t *testing.T) {
	e, err := Parse("b1+1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, mask, err := e.Evaluate(map[string][]float64{"b1": {1, 2}}, []uint8{255, 0}, 2)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if mask[0] != 255 || mask[1] != 0 {
		t.Fatalf("mask=%v want [255 0]", mask)
	}
	if out[0][0] != 2 {
		t.Fatalf("pixel 0 = %g want 2", out[0][0])
	}
}

func TestEvaluate_UnknownBand(t *testing.T) {
	e, err := Parse("b1+b9")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, _, err := e.Evaluate(map[string][]float64{"b1": {1}}, nil, 1); err == nil {
		t.Fatalf("expected unknown band error")
	}
}
