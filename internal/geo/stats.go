package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// StatsOptions controls per-band statistics computation.
type StatsOptions struct {
	// Percentiles to report, default 2 and 98.
	Percentiles []int
	// Bins is the equal-width histogram bin count (default 10). Ignored
	// when Edges is set.
	Bins int
	// Edges are explicit histogram bin edges (at least 2 values).
	Edges []float64
	// Range clips the histogram domain.
	Range *[2]float64
	// Categorical switches the histogram to per-value counts, restricted
	// to Categories when non-empty.
	Categorical bool
	Categories  []float64
}

// BandStatistics holds the numeric summary of one band. The JSON shape is
// flat, with one "percentile_<p>" key per requested percentile.
type BandStatistics struct {
	Min          float64
	Max          float64
	Mean         float64
	Count        float64
	Sum          float64
	Std          float64
	Median       float64
	Majority     float64
	Minority     float64
	Unique       float64
	Histogram    [2][]float64 // counts, bin edges (or category values)
	ValidPercent float64
	MaskedPixels float64
	ValidPixels  float64
	Percentiles  map[int]float64
}

// MarshalJSON flattens percentile entries into percentile_<p> keys.
func (s BandStatistics) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"min":           s.Min,
		"max":           s.Max,
		"mean":          s.Mean,
		"count":         s.Count,
		"sum":           s.Sum,
		"std":           s.Std,
		"median":        s.Median,
		"majority":      s.Majority,
		"minority":      s.Minority,
		"unique":        s.Unique,
		"histogram":     s.Histogram,
		"valid_percent": s.ValidPercent,
		"masked_pixels": s.MaskedPixels,
		"valid_pixels":  s.ValidPixels,
	}
	for p, v := range s.Percentiles {
		out[fmt.Sprintf("percentile_%d", p)] = v
	}
	return json.Marshal(out)
}

// ComputeStatistics summarizes one band buffer under its validity mask.
func ComputeStatistics(values []float64, mask []uint8, o StatsOptions) BandStatistics {
	valid := make([]float64, 0, len(values))
	for i, v := range values {
		if (mask == nil || mask[i] != 0) && !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	stats := BandStatistics{
		MaskedPixels: float64(len(values) - len(valid)),
		ValidPixels:  float64(len(valid)),
		Percentiles:  map[int]float64{},
	}
	if len(values) > 0 {
		stats.ValidPercent = round2(float64(len(valid)) / float64(len(values)) * 100.0)
	}
	if len(valid) == 0 {
		return stats
	}

	sorted := append([]float64(nil), valid...)
	sort.Float64s(sorted)

	stats.Min = sorted[0]
	stats.Max = sorted[len(sorted)-1]
	stats.Count = float64(len(valid))
	for _, v := range valid {
		stats.Sum += v
	}
	stats.Mean = stats.Sum / stats.Count
	var sq float64
	for _, v := range valid {
		d := v - stats.Mean
		sq += d * d
	}
	stats.Std = math.Sqrt(sq / stats.Count)
	stats.Median = percentile(sorted, 50)

	counts := map[float64]int{}
	for _, v := range valid {
		counts[v]++
	}
	stats.Unique = float64(len(counts))
	majority, minority := sorted[0], sorted[0]
	maxCount, minCount := 0, len(valid)+1
	for v, c := range counts {
		if c > maxCount || (c == maxCount && v < majority) {
			majority, maxCount = v, c
		}
		if c < minCount || (c == minCount && v < minority) {
			minority, minCount = v, c
		}
	}
	stats.Majority = majority
	stats.Minority = minority

	ps := o.Percentiles
	if len(ps) == 0 {
		ps = []int{2, 98}
	}
	for _, p := range ps {
		stats.Percentiles[p] = percentile(sorted, float64(p))
	}

	stats.Histogram = histogram(sorted, o)
	return stats
}

// percentile computes the linear-interpolated percentile of sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100.0 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func histogram(sorted []float64, o StatsOptions) [2][]float64 {
	if o.Categorical {
		cats := o.Categories
		if len(cats) == 0 {
			seen := map[float64]bool{}
			for _, v := range sorted {
				if !seen[v] {
					seen[v] = true
					cats = append(cats, v)
				}
			}
			sort.Float64s(cats)
		}
		counts := make([]float64, len(cats))
		for i, c := range cats {
			for _, v := range sorted {
				if v == c {
					counts[i]++
				}
			}
		}
		return [2][]float64{counts, cats}
	}

	var edges []float64
	if len(o.Edges) >= 2 {
		edges = o.Edges
	} else {
		bins := o.Bins
		if bins <= 0 {
			bins = 10
		}
		lo, hi := sorted[0], sorted[len(sorted)-1]
		if o.Range != nil {
			lo, hi = o.Range[0], o.Range[1]
		}
		if hi == lo {
			hi = lo + 1
		}
		edges = make([]float64, bins+1)
		for i := 0; i <= bins; i++ {
			edges[i] = lo + (hi-lo)*float64(i)/float64(bins)
		}
	}
	counts := make([]float64, len(edges)-1)
	for _, v := range sorted {
		for i := 0; i < len(counts); i++ {
			// last bin is inclusive on its upper edge
			if v >= edges[i] && (v < edges[i+1] || (i == len(counts)-1 && v == edges[i+1])) {
				counts[i]++
				break
			}
		}
	}
	return [2][]float64{counts, edges}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
