package qoe

import (
	"math"
	"sort"
)

// SafeAverage returns the arithmetic mean, or nil for an empty sequence.
func SafeAverage(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return ptr(sum / float64(len(xs)))
}

// Percentile returns the p-th quantile (p in [0,1]) with linear interpolation
// between the closest ranks. xs is not modified.
func Percentile(xs []float64, p float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	idx := float64(len(sorted)-1) * p
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper {
		return ptr(sorted[lower])
	}
	frac := idx - float64(lower)
	return ptr(sorted[lower] + (sorted[upper]-sorted[lower])*frac)
}

// Ratio returns num/den, or nil when den is zero. The result is not clamped.
func Ratio(num, den float64) *float64 {
	if den == 0 {
		return nil
	}
	return ptr(num / den)
}

// FractionAbove is the share of xs strictly greater than t.
func FractionAbove(xs []float64, t float64) *float64 {
	n := 0
	for _, x := range xs {
		if x > t {
			n++
		}
	}
	return Ratio(float64(n), float64(len(xs)))
}

// FractionBelow is the share of xs strictly less than t.
func FractionBelow(xs []float64, t float64) *float64 {
	n := 0
	for _, x := range xs {
		if x < t {
			n++
		}
	}
	return Ratio(float64(n), float64(len(xs)))
}

// ScoreLinear maps v onto [0,1]: 1 at or beyond good, 0 at or beyond bad,
// linear in between. good must differ from bad.
func ScoreLinear(v *float64, good, bad float64, higherIsBetter bool) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	if higherIsBetter {
		switch {
		case x >= good:
			return ptr(1)
		case x <= bad:
			return ptr(0)
		}
		return ptr((x - bad) / (good - bad))
	}
	switch {
	case x <= good:
		return ptr(1)
	case x >= bad:
		return ptr(0)
	}
	return ptr((bad - x) / (bad - good))
}

// Entry is one weighted contribution. Score is never nil here; callers drop
// unavailable metrics before building entries.
type Entry struct {
	Score  float64
	Weight float64
}

// WeightedScore is the weight-normalized mean of entries. With no weight it
// yields a null score and zero applied weight.
func WeightedScore(entries []Entry) Node {
	var total, sum float64
	for _, e := range entries {
		total += e.Weight
	}
	if total == 0 {
		return Node{}
	}
	for _, e := range entries {
		sum += e.Score * e.Weight
	}
	return Node{Score: ptr(sum / total), AppliedWeight: total}
}

func ptr(v float64) *float64 { return &v }
