// Package metrics holds the sample accumulator: the counters and sample
// sequences collected per category, and the copy-on-write transitions that
// fold one sample event into a new snapshot.
//
// A Snapshot is treated as immutable once published. Every With* method
// returns a new value and never writes into the receiver's slices.
package metrics

// MaxReasons bounds the voice disconnect reason log.
const MaxReasons = 50

// Reason is one recorded call termination cause.
type Reason struct {
	Timestamp int64  `json:"timestamp"` // epoch ms
	Code      *int   `json:"code,omitempty"`
	Label     string `json:"label,omitempty"`
	Source    string `json:"source,omitempty"`
}

type Voice struct {
	Attempts   int       `json:"attempts"`
	SetupOK    int       `json:"setupOk"`
	Completed  int       `json:"completed"`
	Dropped    int       `json:"dropped"`
	SetupTimes []float64 `json:"setupTimes"` // ms
	MOSSamples []float64 `json:"mosSamples"`
	Reasons    []Reason  `json:"reasons"`
}

// Direction counters for one HTTP transfer direction.
type Direction struct {
	Requests    int       `json:"requests"`
	Completed   int       `json:"completed"`
	Throughputs []float64 `json:"throughputs"` // Mbps
}

type HTTP struct {
	DL Direction `json:"dl"`
	UL Direction `json:"ul"`
}

// Browsing keeps DNS and throughput samples for export only; scoring ignores them.
type Browsing struct {
	Requests           int       `json:"requests"`
	Completed          int       `json:"completed"`
	Durations          []float64 `json:"durations"` // ms
	DNSResolutionTimes []float64 `json:"dnsResolutionTimes"`
	Throughputs        []float64 `json:"throughputs"` // kbps
}

type Streaming struct {
	Requests    int       `json:"requests"`
	Completed   int       `json:"completed"`
	MOSSamples  []float64 `json:"mosSamples"`
	SetupTimes  []float64 `json:"setupTimes"`  // ms
	Throughputs []float64 `json:"throughputs"` // kbps
}

type Social struct {
	Requests    int       `json:"requests"`
	Completed   int       `json:"completed"`
	Durations   []float64 `json:"durations"`   // ms
	Throughputs []float64 `json:"throughputs"` // kbps
}

type Data struct {
	HTTP      HTTP      `json:"http"`
	Browsing  Browsing  `json:"browsing"`
	Streaming Streaming `json:"streaming"`
	Social    Social    `json:"social"`
}

// Snapshot is the full accumulator state. Its JSON form is the persisted
// metrics blob.
type Snapshot struct {
	Voice Voice `json:"voice"`
	Data  Data  `json:"data"`
}

// New returns an empty snapshot whose sequences encode as [] rather than null.
func New() Snapshot {
	var s Snapshot
	s.Normalize()
	return s
}

// Normalize replaces nil sequences with empty ones. Call it after decoding a
// blob that may predate a field.
func (s *Snapshot) Normalize() {
	fill := func(xs *[]float64) {
		if *xs == nil {
			*xs = []float64{}
		}
	}
	fill(&s.Voice.SetupTimes)
	fill(&s.Voice.MOSSamples)
	if s.Voice.Reasons == nil {
		s.Voice.Reasons = []Reason{}
	}
	fill(&s.Data.HTTP.DL.Throughputs)
	fill(&s.Data.HTTP.UL.Throughputs)
	fill(&s.Data.Browsing.Durations)
	fill(&s.Data.Browsing.DNSResolutionTimes)
	fill(&s.Data.Browsing.Throughputs)
	fill(&s.Data.Streaming.MOSSamples)
	fill(&s.Data.Streaming.SetupTimes)
	fill(&s.Data.Streaming.Throughputs)
	fill(&s.Data.Social.Durations)
	fill(&s.Data.Social.Throughputs)
}

// Clone returns a deep copy sharing no backing arrays with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Voice.SetupTimes = cloneFloats(s.Voice.SetupTimes)
	out.Voice.MOSSamples = cloneFloats(s.Voice.MOSSamples)
	out.Voice.Reasons = make([]Reason, len(s.Voice.Reasons))
	for i, r := range s.Voice.Reasons {
		if r.Code != nil {
			c := *r.Code
			r.Code = &c
		}
		out.Voice.Reasons[i] = r
	}
	out.Data.HTTP.DL.Throughputs = cloneFloats(s.Data.HTTP.DL.Throughputs)
	out.Data.HTTP.UL.Throughputs = cloneFloats(s.Data.HTTP.UL.Throughputs)
	out.Data.Browsing.Durations = cloneFloats(s.Data.Browsing.Durations)
	out.Data.Browsing.DNSResolutionTimes = cloneFloats(s.Data.Browsing.DNSResolutionTimes)
	out.Data.Browsing.Throughputs = cloneFloats(s.Data.Browsing.Throughputs)
	out.Data.Streaming.MOSSamples = cloneFloats(s.Data.Streaming.MOSSamples)
	out.Data.Streaming.SetupTimes = cloneFloats(s.Data.Streaming.SetupTimes)
	out.Data.Streaming.Throughputs = cloneFloats(s.Data.Streaming.Throughputs)
	out.Data.Social.Durations = cloneFloats(s.Data.Social.Durations)
	out.Data.Social.Throughputs = cloneFloats(s.Data.Social.Throughputs)
	return out
}

// SampleCount is the total number of retained numeric samples across all sequences.
func (s Snapshot) SampleCount() int {
	return len(s.Voice.SetupTimes) + len(s.Voice.MOSSamples) +
		len(s.Data.HTTP.DL.Throughputs) + len(s.Data.HTTP.UL.Throughputs) +
		len(s.Data.Browsing.Durations) + len(s.Data.Browsing.DNSResolutionTimes) + len(s.Data.Browsing.Throughputs) +
		len(s.Data.Streaming.MOSSamples) + len(s.Data.Streaming.SetupTimes) + len(s.Data.Streaming.Throughputs) +
		len(s.Data.Social.Durations) + len(s.Data.Social.Throughputs)
}

func cloneFloats(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	return out
}
