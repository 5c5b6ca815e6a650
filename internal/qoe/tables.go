package qoe

import (
	"errors"
	"fmt"
	"math"
)

// Threshold anchors the linear unit-score mapping: Good scores 1, Bad scores 0.
type Threshold struct {
	Good           float64 `json:"good"`
	Bad            float64 `json:"bad"`
	HigherIsBetter bool    `json:"higherIsBetter"`
}

// MetricSpec binds a derived scalar to its weight and threshold.
type MetricSpec struct {
	Name      string
	Weight    float64
	Threshold Threshold
}

// Table is the static configuration of one category. Total is the weight the
// category's metrics sum to when every one of them has data.
type Table struct {
	Category string
	Total    float64
	Metrics  []MetricSpec
}

func (t Table) lookup(name string) (MetricSpec, bool) {
	for _, m := range t.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return MetricSpec{}, false
}

// Category weights inside the Data domain.
const (
	WeightHTTP      = 0.25
	WeightBrowsing  = 0.38
	WeightStreaming = 0.22
	WeightSocial    = 0.15
)

// Domain weights for the overall score.
const (
	WeightVoice = 0.4
	WeightData  = 0.6
)

// Tail thresholds used by the extractors (ms, MOS).
const (
	voiceSetupSlowMs     = 15_000
	voiceMOSPoor         = 1.6
	browsingSlowMs       = 6_000
	socialSlowMs         = 15_000
	streamingSetupSlowMs = 10_000
)

var VoiceTable = Table{
	Category: "voice",
	Total:    1.0,
	Metrics: []MetricSpec{
		{"cssr", 0.3125, Threshold{Good: 1.0, Bad: 0.85, HigherIsBetter: true}},
		{"cdr", 0.375, Threshold{Good: 0.0, Bad: 0.1}},
		{"cstAvg", 0.0625, Threshold{Good: 4.5, Bad: 12}},
		{"cstOver15", 0.0875, Threshold{Good: 0.0, Bad: 0.03}},
		{"cstP10", 0.0375, Threshold{Good: 4.0, Bad: 8.0}},
		{"mosAvg", 0.0438, Threshold{Good: 4.3, Bad: 2.0, HigherIsBetter: true}},
		{"mosUnder16", 0.0562, Threshold{Good: 0.0, Bad: 0.10}},
		{"mosP90", 0.025, Threshold{Good: 4.75, Bad: 4.0, HigherIsBetter: true}},
	},
}

var HTTPTable = Table{
	Category: "http",
	Total:    WeightHTTP,
	Metrics: []MetricSpec{
		{"successRatio", 0.055, Threshold{Good: 1.0, Bad: 0.8, HigherIsBetter: true}},
		{"dlAvg", 0.035, Threshold{Good: 100, Bad: 1, HigherIsBetter: true}},
		{"dlP10", 0.045, Threshold{Good: 40, Bad: 1, HigherIsBetter: true}},
		{"dlP90", 0.0175, Threshold{Good: 240, Bad: 10, HigherIsBetter: true}},
		{"ulAvg", 0.035, Threshold{Good: 50, Bad: 0.5, HigherIsBetter: true}},
		{"ulP10", 0.045, Threshold{Good: 30, Bad: 0.5, HigherIsBetter: true}},
		{"ulP90", 0.0175, Threshold{Good: 100, Bad: 5, HigherIsBetter: true}},
	},
}

var BrowsingTable = Table{
	Category: "browsing",
	Total:    WeightBrowsing,
	Metrics: []MetricSpec{
		{"successRatio", 0.25333, Threshold{Good: 1.0, Bad: 0.8, HigherIsBetter: true}},
		{"durationAvg", 0.10857, Threshold{Good: 1.0, Bad: 6.0}},
		{"durationOver6", 0.0181, Threshold{Good: 0.0, Bad: 0.15}},
	},
}

var StreamingTable = Table{
	Category: "streaming",
	Total:    WeightStreaming,
	Metrics: []MetricSpec{
		{"successRatio", 0.1276, Threshold{Good: 1.0, Bad: 0.8, HigherIsBetter: true}},
		{"mosAvg", 0.0363, Threshold{Good: 4.5, Bad: 3.0, HigherIsBetter: true}},
		{"mosP10", 0.0363, Threshold{Good: 4.0, Bad: 2.0, HigherIsBetter: true}},
		{"setupAvg", 0.0099, Threshold{Good: 2.0, Bad: 7.0}},
		{"setupOver10", 0.0099, Threshold{Good: 0.0, Bad: 0.05}},
	},
}

var SocialTable = Table{
	Category: "social",
	Total:    WeightSocial,
	Metrics: []MetricSpec{
		{"successRatio", 0.100005, Threshold{Good: 1.0, Bad: 0.8, HigherIsBetter: true}},
		{"durationAvg", 0.042855, Threshold{Good: 3.0, Bad: 15.0}},
		{"durationOver15", 0.00714, Threshold{Good: 0.0, Bad: 0.05}},
	},
}

// Tables lists every category table in evaluation order.
func Tables() []Table {
	return []Table{VoiceTable, HTTPTable, BrowsingTable, StreamingTable, SocialTable}
}

const weightTolerance = 1e-6

// ValidateTables checks the static configuration. It is meant for startup
// and tests; scoring itself never validates.
func ValidateTables() error {
	return validate(Tables(), []float64{WeightHTTP, WeightBrowsing, WeightStreaming, WeightSocial}, []float64{WeightVoice, WeightData})
}

func validate(tables []Table, dataWeights, overallWeights []float64) error {
	var errs []error
	for _, t := range tables {
		var sum float64
		seen := map[string]bool{}
		for _, m := range t.Metrics {
			if seen[m.Name] {
				errs = append(errs, fmt.Errorf("%s.%s: duplicate metric", t.Category, m.Name))
			}
			seen[m.Name] = true
			if m.Threshold.Good == m.Threshold.Bad {
				errs = append(errs, fmt.Errorf("%s.%s: good == bad (%v)", t.Category, m.Name, m.Threshold.Good))
			}
			if m.Weight < 0 {
				errs = append(errs, fmt.Errorf("%s.%s: negative weight %v", t.Category, m.Name, m.Weight))
			}
			sum += m.Weight
		}
		if math.Abs(sum-t.Total) > weightTolerance {
			errs = append(errs, fmt.Errorf("%s: weights sum to %v, want %v", t.Category, sum, t.Total))
		}
	}
	if s := sumOf(dataWeights); math.Abs(s-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("data category weights sum to %v, want 1", s))
	}
	if s := sumOf(overallWeights); math.Abs(s-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("overall weights sum to %v, want 1", s))
	}
	return errors.Join(errs...)
}

func sumOf(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}
