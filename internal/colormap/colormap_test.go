package colormap

import (
	"encoding/json"
	"testing"
)

func TestParse_DiscreteMapForms(t *testing.T) {
	cm, err := Parse(`{"0": [0, 0, 0], "1": [255, 0, 0, 128], "2": "#00ff00"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cases := []struct {
		v    float64
		want Color
	}{
		{0, Color{0, 0, 0, 255}},
		{1, Color{255, 0, 0, 128}},
		{2, Color{0, 255, 0, 255}},
	}
	for _, c := range cases {
		got, ok := cm.Lookup(c.v)
		if !ok || got != c.want {
			t.Fatalf("Lookup(%g) = %v,%v want %v", c.v, got, ok, c.want)
		}
	}
	if _, ok := cm.Lookup(3); ok {
		t.Fatalf("Lookup(3) should miss")
	}
}

func TestParse_Intervals(t *testing.T) {
	cm, err := Parse(`[[[0, 100], "#0000ff"], [[100, 200], [255, 255, 0]]]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got, ok := cm.Lookup(50); !ok || got != (Color{0, 0, 255, 255}) {
		t.Fatalf("Lookup(50) = %v,%v", got, ok)
	}
	// Interval min is inclusive, max exclusive except for the last interval.
	if got, ok := cm.Lookup(100); !ok || got != (Color{255, 255, 0, 255}) {
		t.Fatalf("Lookup(100) = %v,%v", got, ok)
	}
	if got, ok := cm.Lookup(200); !ok || got != (Color{255, 255, 0, 255}) {
		t.Fatalf("Lookup(200) = %v,%v", got, ok)
	}
	if _, ok := cm.Lookup(201); ok {
		t.Fatalf("Lookup(201) should miss")
	}
}

func TestParse_Rejections(t *testing.T) {
	bad := []string{
		`{"x": [0,0,0]}`,
		`{"0": [0,0]}`,
		`{"0": [0,0,0,0,0]}`,
		`{"0": [300,0,0]}`,
		`{"0": "#12345"}`,
		`not json`,
	}
	for _, raw := range bad {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("Parse(%q) accepted, want error", raw)
		}
	}
}

func TestParse_ShortHex(t *testing.T) {
	cm, err := Parse(`{"1": "#f0a"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, _ := cm.Lookup(1)
	if got != (Color{255, 0, 170, 255}) {
		t.Fatalf("got %v", got)
	}
}

func TestMarshalJSON_RoundTrip(t *testing.T) {
	cm, err := Parse(`{"0": [10, 20, 30, 40], "1.5": "#ffffff"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	raw, err := json.Marshal(cm)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := Parse(string(raw))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	got, ok := back.Lookup(1.5)
	if !ok || got != (Color{255, 255, 255, 255}) {
		t.Fatalf("Lookup(1.5) = %v,%v after round trip", got, ok)
	}
}

func TestRegistry_Builtins(t *testing.T) {
	reg := Builtins()
	names := reg.Names()
	if len(names) == 0 {
		t.Fatalf("no builtin colormaps registered")
	}
	if _, err := reg.Get("viridis"); err != nil {
		t.Fatalf("viridis not registered: %v", err)
	}
	if _, err := reg.Get("definitely-not-a-colormap"); err == nil {
		t.Fatalf("unknown name accepted")
	}
}

func TestRegistry_RegisterDoesNotMutateOriginal(t *testing.T) {
	base := Builtins()
	before := len(base.Names())
	extended := base.Register(map[string]*ColorMap{
		"custom": {Discrete: map[float64]Color{0: {1, 2, 3, 255}}},
	})
	if len(base.Names()) != before {
		t.Fatalf("base registry mutated")
	}
	if _, err := extended.Get("custom"); err != nil {
		t.Fatalf("extended registry missing custom: %v", err)
	}
}
