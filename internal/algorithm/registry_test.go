package algorithm

import (
	"testing"
)

func TestResolve_EmptyNameIsNoTransform(t *testing.T) {
	alg, meta, err := Builtins().Resolve("", "")
	if err != nil {
		t.Fatalf("resolve empty: %v", err)
	}
	if alg != nil || meta.OutputBands != 0 {
		t.Fatalf("expected nil transform, got %v %+v", alg, meta)
	}
}

func TestResolve_UnknownName(t *testing.T) {
	if _, _, err := Builtins().Resolve("sharpen", ""); err == nil {
		t.Fatalf("unknown algorithm accepted")
	}
}

func TestResolve_ParamValidation(t *testing.T) {
	reg := Builtins()
	cases := []struct {
		name   string
		params string
	}{
		{"hillshade", `{"angle": 45}`},        // unknown key
		{"hillshade", `{"azimuth": "east"}`},  // non-numeric
		{"hillshade", `not json`},             // malformed blob
		{"terrainrgb", `{"interval": "NaN"}`}, // still non-numeric
	}
	for _, c := range cases {
		if _, _, err := reg.Resolve(c.name, c.params); err == nil {
			t.Fatalf("Resolve(%s, %s) accepted, want error", c.name, c.params)
		}
	}
}

func TestResolve_DefaultsApplied(t *testing.T) {
	alg, meta, err := Builtins().Resolve("hillshade", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	hs, ok := alg.(hillshade)
	if !ok {
		t.Fatalf("got %T want hillshade", alg)
	}
	if hs.azimuth != 90 || hs.altitude != 90 {
		t.Fatalf("defaults not applied: %+v", hs)
	}
	if meta.Buffer != 3 {
		t.Fatalf("metadata buffer=%d want 3", meta.Buffer)
	}
}

func TestResolve_ContoursDefaults(t *testing.T) {
	alg, _, err := Builtins().Resolve("contours", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	c, ok := alg.(contours)
	if !ok {
		t.Fatalf("got %T want contours", alg)
	}
	if c.increment != 35 || c.thickness != 1 || c.minz != -12000 || c.maxz != 8000 {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestResolve_RequiredParam(t *testing.T) {
	reg := Registry{}.Register("scalefix", Metadata{
		Parameters: map[string]Param{
			"factor": {Type: "number", Required: true},
		},
	}, func(p map[string]float64) (Algorithm, error) {
		return cast{name: "trunc"}, nil
	})
	if _, _, err := reg.Resolve("scalefix", ""); err == nil {
		t.Fatalf("missing required parameter accepted")
	}
	if _, _, err := reg.Resolve("scalefix", `{"factor": 2}`); err != nil {
		t.Fatalf("resolve with required param: %v", err)
	}
}

func TestRegister_ReturnsCopy(t *testing.T) {
	base := Builtins()
	before := len(base.Names())
	extended := base.Register("custom", Metadata{}, func(p map[string]float64) (Algorithm, error) {
		return cast{name: "trunc"}, nil
	})
	if len(base.Names()) != before {
		t.Fatalf("base registry mutated")
	}
	if _, err := extended.Metadata("custom"); err != nil {
		t.Fatalf("extended registry missing custom: %v", err)
	}
}
