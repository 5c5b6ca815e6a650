package metrics

import (
	"errors"
	"strings"
	"time"
)

var ErrUnknownDirection = errors.New("unknown http direction")

// HTTPDirection selects the http sub-tree a sample is folded into.
type HTTPDirection string

const (
	Download HTTPDirection = "dl"
	Upload   HTTPDirection = "ul"
)

// ParseDirection accepts "dl"/"ul" and the long forms.
func ParseDirection(s string) (HTTPDirection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dl", "download":
		return Download, nil
	case "ul", "upload":
		return Upload, nil
	}
	return "", ErrUnknownDirection
}

// Retention bounds every numeric sample sequence.
//
// MaxSamples <= 0 keeps everything. Otherwise only the most recent
// MaxSamples values of each sequence are retained, and all statistics are
// computed over that window.
type Retention struct {
	MaxSamples int
}

// VoiceSample is one call-state event. Attempt defaults to true when omitted.
type VoiceSample struct {
	Attempt         *bool    `json:"attempt,omitempty"`
	SetupSuccessful bool     `json:"setupSuccessful"`
	CallCompleted   bool     `json:"callCompleted"`
	Dropped         bool     `json:"dropped"`
	SetupTimeMs     *float64 `json:"setupTimeMs,omitempty"`
	MOS             *float64 `json:"mos,omitempty"`
	ReasonCode      *int     `json:"reasonCode,omitempty"`
	ReasonLabel     string   `json:"reasonLabel,omitempty"`
	ReasonSource    string   `json:"reasonSource,omitempty"`
}

// HTTPSample is one transfer result. Request defaults to true when omitted.
type HTTPSample struct {
	Request        *bool    `json:"request,omitempty"`
	Completed      bool     `json:"completed"`
	ThroughputMbps *float64 `json:"throughputMbps,omitempty"`
}

type BrowsingSample struct {
	Request             *bool    `json:"request,omitempty"`
	Completed           bool     `json:"completed"`
	DurationMs          *float64 `json:"durationMs,omitempty"`
	DNSResolutionTimeMs *float64 `json:"dnsResolutionTimeMs,omitempty"`
	ThroughputKbps      *float64 `json:"throughputKbps,omitempty"`
}

type StreamingSample struct {
	Request        *bool    `json:"request,omitempty"`
	Completed      bool     `json:"completed"`
	MOS            *float64 `json:"mos,omitempty"`
	SetupTimeMs    *float64 `json:"setupTimeMs,omitempty"`
	ThroughputKbps *float64 `json:"throughputKbps,omitempty"`
}

type SocialSample struct {
	Request        *bool    `json:"request,omitempty"`
	Completed      bool     `json:"completed"`
	DurationMs     *float64 `json:"durationMs,omitempty"`
	ThroughputKbps *float64 `json:"throughputKbps,omitempty"`
}

// WithVoice folds a voice sample into a copy of s. The data sub-tree is shared.
func (s Snapshot) WithVoice(in VoiceSample, now time.Time, ret Retention) Snapshot {
	next := s
	v := s.Voice
	if orTrue(in.Attempt) {
		v.Attempts++
	}
	if in.SetupSuccessful {
		v.SetupOK++
	}
	if in.CallCompleted {
		v.Completed++
	}
	if in.Dropped {
		v.Dropped++
	}
	if in.SetupTimeMs != nil {
		v.SetupTimes = appendSample(v.SetupTimes, *in.SetupTimeMs, ret)
	}
	if in.MOS != nil {
		v.MOSSamples = appendSample(v.MOSSamples, *in.MOS, ret)
	}
	if in.ReasonLabel != "" || in.ReasonCode != nil {
		r := Reason{Timestamp: now.UnixMilli(), Label: in.ReasonLabel, Source: in.ReasonSource}
		if in.ReasonCode != nil {
			c := *in.ReasonCode
			r.Code = &c
		}
		v.Reasons = appendReason(v.Reasons, r)
	}
	next.Voice = v
	return next
}

// WithHTTP folds a transfer sample into the given direction. An unknown
// direction returns s unchanged together with ErrUnknownDirection.
func (s Snapshot) WithHTTP(dir HTTPDirection, in HTTPSample, ret Retention) (Snapshot, error) {
	var cur Direction
	switch dir {
	case Download:
		cur = s.Data.HTTP.DL
	case Upload:
		cur = s.Data.HTTP.UL
	default:
		return s, ErrUnknownDirection
	}
	if orTrue(in.Request) {
		cur.Requests++
	}
	if in.Completed {
		cur.Completed++
	}
	if in.ThroughputMbps != nil {
		cur.Throughputs = appendSample(cur.Throughputs, *in.ThroughputMbps, ret)
	}

	next := s
	if dir == Download {
		next.Data.HTTP.DL = cur
	} else {
		next.Data.HTTP.UL = cur
	}
	return next, nil
}

func (s Snapshot) WithBrowsing(in BrowsingSample, ret Retention) Snapshot {
	next := s
	b := s.Data.Browsing
	if orTrue(in.Request) {
		b.Requests++
	}
	if in.Completed {
		b.Completed++
	}
	if in.DurationMs != nil {
		b.Durations = appendSample(b.Durations, *in.DurationMs, ret)
	}
	if in.DNSResolutionTimeMs != nil {
		b.DNSResolutionTimes = appendSample(b.DNSResolutionTimes, *in.DNSResolutionTimeMs, ret)
	}
	if in.ThroughputKbps != nil {
		b.Throughputs = appendSample(b.Throughputs, *in.ThroughputKbps, ret)
	}
	next.Data.Browsing = b
	return next
}

func (s Snapshot) WithStreaming(in StreamingSample, ret Retention) Snapshot {
	next := s
	st := s.Data.Streaming
	if orTrue(in.Request) {
		st.Requests++
	}
	if in.Completed {
		st.Completed++
	}
	if in.MOS != nil {
		st.MOSSamples = appendSample(st.MOSSamples, *in.MOS, ret)
	}
	if in.SetupTimeMs != nil {
		st.SetupTimes = appendSample(st.SetupTimes, *in.SetupTimeMs, ret)
	}
	if in.ThroughputKbps != nil {
		st.Throughputs = appendSample(st.Throughputs, *in.ThroughputKbps, ret)
	}
	next.Data.Streaming = st
	return next
}

func (s Snapshot) WithSocial(in SocialSample, ret Retention) Snapshot {
	next := s
	so := s.Data.Social
	if orTrue(in.Request) {
		so.Requests++
	}
	if in.Completed {
		so.Completed++
	}
	if in.DurationMs != nil {
		so.Durations = appendSample(so.Durations, *in.DurationMs, ret)
	}
	if in.ThroughputKbps != nil {
		so.Throughputs = appendSample(so.Throughputs, *in.ThroughputKbps, ret)
	}
	next.Data.Social = so
	return next
}

func orTrue(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}

// appendSample always allocates: the input slice may be shared with an
// earlier snapshot and must never be written through.
func appendSample(xs []float64, v float64, ret Retention) []float64 {
	start := 0
	if ret.MaxSamples > 0 && len(xs)+1 > ret.MaxSamples {
		start = len(xs) + 1 - ret.MaxSamples
	}
	kept := xs[start:]
	out := make([]float64, len(kept), len(kept)+1)
	copy(out, kept)
	return append(out, v)
}

func appendReason(rs []Reason, r Reason) []Reason {
	start := 0
	if len(rs)+1 > MaxReasons {
		start = len(rs) + 1 - MaxReasons
	}
	kept := rs[start:]
	out := make([]Reason, len(kept), len(kept)+1)
	copy(out, kept)
	return append(out, r)
}
