package geo

import (
	"encoding/json"
	"math"
	"testing"
)

func TestComputeStatistics_Summary(t *testing.T) {
	values := []float64{1, 2, 2, 3, 4, math.NaN()}
	mask := []uint8{255, 255, 255, 255, 255, 255}
	s := ComputeStatistics(values, mask, StatsOptions{})

	if s.ValidPixels != 5 || s.MaskedPixels != 1 {
		t.Fatalf("valid=%g masked=%g want 5/1", s.ValidPixels, s.MaskedPixels)
	}
	if s.Min != 1 || s.Max != 4 || s.Sum != 12 {
		t.Fatalf("min=%g max=%g sum=%g", s.Min, s.Max, s.Sum)
	}
	if math.Abs(s.Mean-2.4) > 1e-12 {
		t.Fatalf("mean=%g want 2.4", s.Mean)
	}
	if s.Median != 2 {
		t.Fatalf("median=%g want 2", s.Median)
	}
	if s.Majority != 2 || s.Unique != 4 {
		t.Fatalf("majority=%g unique=%g", s.Majority, s.Unique)
	}
	if s.ValidPercent != 83.33 {
		t.Fatalf("valid_percent=%g want 83.33", s.ValidPercent)
	}
	// Default percentiles are 2 and 98.
	if _, ok := s.Percentiles[2]; !ok {
		t.Fatalf("missing default percentile 2: %v", s.Percentiles)
	}
	if _, ok := s.Percentiles[98]; !ok {
		t.Fatalf("missing default percentile 98: %v", s.Percentiles)
	}
}

func TestComputeStatistics_AllMasked(t *testing.T) {
	s := ComputeStatistics([]float64{1, 2}, []uint8{0, 0}, StatsOptions{})
	if s.ValidPixels != 0 || s.Count != 0 {
		t.Fatalf("got %+v want empty stats", s)
	}
	if s.ValidPercent != 0 {
		t.Fatalf("valid_percent=%g want 0", s.ValidPercent)
	}
}

func TestPercentile_LinearInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	if got := percentile(sorted, 50); got != 25 {
		t.Fatalf("p50=%g want 25", got)
	}
	if got := percentile(sorted, 0); got != 10 {
		t.Fatalf("p0=%g want 10", got)
	}
	if got := percentile(sorted, 100); got != 40 {
		t.Fatalf("p100=%g want 40", got)
	}
}

func TestHistogram_EqualWidthBins(t *testing.T) {
	s := ComputeStatistics([]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 10}, nil, StatsOptions{Bins: 2})
	counts, edges := s.Histogram[0], s.Histogram[1]
	if len(counts) != 2 || len(edges) != 3 {
		t.Fatalf("histogram shape %d/%d", len(counts), len(edges))
	}
	if edges[0] != 0 || edges[1] != 5 || edges[2] != 10 {
		t.Fatalf("edges=%v", edges)
	}
	// Upper edge of the last bin is inclusive.
	if counts[0] != 5 || counts[1] != 5 {
		t.Fatalf("counts=%v want [5 5]", counts)
	}
}

func TestHistogram_ExplicitEdgesAndRange(t *testing.T) {
	s := ComputeStatistics([]float64{1, 2, 3, 50}, nil, StatsOptions{Edges: []float64{0, 10, 20}})
	if got := s.Histogram[0]; got[0] != 3 || got[1] != 0 {
		t.Fatalf("counts=%v want [3 0]", got)
	}

	r := [2]float64{0, 4}
	s = ComputeStatistics([]float64{1, 2, 3, 50}, nil, StatsOptions{Bins: 4, Range: &r})
	if s.Histogram[1][0] != 0 || s.Histogram[1][4] != 4 {
		t.Fatalf("range edges=%v", s.Histogram[1])
	}
}

func TestHistogram_Categorical(t *testing.T) {
	s := ComputeStatistics([]float64{1, 1, 2, 3, 3, 3}, nil, StatsOptions{Categorical: true})
	counts, cats := s.Histogram[0], s.Histogram[1]
	if len(cats) != 3 || cats[0] != 1 || cats[1] != 2 || cats[2] != 3 {
		t.Fatalf("categories=%v", cats)
	}
	if counts[0] != 2 || counts[1] != 1 || counts[2] != 3 {
		t.Fatalf("counts=%v", counts)
	}

	s = ComputeStatistics([]float64{1, 1, 2}, nil, StatsOptions{Categorical: true, Categories: []float64{1, 9}})
	if got := s.Histogram[0]; got[0] != 2 || got[1] != 0 {
		t.Fatalf("restricted counts=%v want [2 0]", got)
	}
}

func TestBandStatistics_JSONFlattensPercentiles(t *testing.T) {
	s := ComputeStatistics([]float64{1, 2, 3}, nil, StatsOptions{Percentiles: []int{25}})
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := doc["percentile_25"]; !ok {
		t.Fatalf("percentile_25 missing from %v", doc)
	}
	if _, ok := doc["valid_percent"]; !ok {
		t.Fatalf("valid_percent missing")
	}
}
