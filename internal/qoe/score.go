package qoe

import (
	"qoemeter/internal/metrics"
	logx "qoemeter/pkg/logx"
)

// normalizeScore scales a category score by the share of its own weight that
// was backed by data. Exact equality is intended: a fully covered category
// passes through untouched.
func normalizeScore(n Node, expected float64) *float64 {
	if n.Score == nil || n.AppliedWeight == 0 {
		return nil
	}
	if n.AppliedWeight == expected {
		return n.Score
	}
	return ptr(*n.Score * (n.AppliedWeight / expected))
}

func collect(dst []Entry, score *float64, weight float64) []Entry {
	if score == nil {
		return dst
	}
	return append(dst, Entry{Score: *score, Weight: weight})
}

// Calculate reduces a snapshot to the full score tree. It is pure and safe
// for concurrent use; empty input yields null scores everywhere.
//
// The data tier rescales each category by its coverage before combining. The
// overall tier combines voice and data as they are, without that rescaling.
func Calculate(s metrics.Snapshot) Tree {
	t := Tree{
		Voice:     ScoreVoice(s.Voice),
		HTTP:      ScoreHTTP(s.Data.HTTP),
		Browsing:  ScoreBrowsing(s.Data.Browsing),
		Streaming: ScoreStreaming(s.Data.Streaming),
		Social:    ScoreSocial(s.Data.Social),
	}

	data := make([]Entry, 0, 4)
	data = collect(data, normalizeScore(t.HTTP.Node, WeightHTTP), WeightHTTP)
	data = collect(data, normalizeScore(t.Browsing.Node, WeightBrowsing), WeightBrowsing)
	data = collect(data, normalizeScore(t.Streaming.Node, WeightStreaming), WeightStreaming)
	data = collect(data, normalizeScore(t.Social.Node, WeightSocial), WeightSocial)
	t.Data = WeightedScore(data)

	overall := make([]Entry, 0, 2)
	overall = collect(overall, t.Voice.Score, WeightVoice)
	overall = collect(overall, t.Data.Score, WeightData)
	t.Overall = WeightedScore(overall)
	return t
}

// Scorer wraps Calculate with debug tracing of each evaluation.
type Scorer struct {
	log logx.Logger
}

func NewScorer(log logx.Logger) *Scorer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scorer{log: log.With(logx.String("comp", "qoe"))}
}

func (s *Scorer) Calculate(snap metrics.Snapshot) Tree {
	t := Calculate(snap)
	if !s.log.Enabled(logx.LevelDebug) {
		return t
	}
	s.log.Debug("voice scored",
		logx.Int("attempts", snap.Voice.Attempts),
		logx.Int("setup_ok", snap.Voice.SetupOK),
		logx.Int("completed", snap.Voice.Completed),
		logx.Int("dropped", snap.Voice.Dropped),
		logx.OptFloat64("cssr", t.Voice.CSSR),
		logx.OptFloat64("cdr", t.Voice.CDR),
		logx.OptFloat64("score", t.Voice.Score),
	)
	for _, n := range t.Nodes() {
		s.log.Debug("node scored",
			logx.String("node", n.Name),
			logx.OptFloat64("score", n.Node.Score),
			logx.Float64("applied_weight", n.Node.AppliedWeight),
		)
	}
	return t
}
