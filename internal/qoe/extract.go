package qoe

import "qoemeter/internal/metrics"

type scalar struct {
	name  string
	value *float64
}

// scoreCategory maps each scalar through its threshold, drops the ones
// without data and takes the weighted mean of the rest.
func scoreCategory(t Table, scalars []scalar) Node {
	entries := make([]Entry, 0, len(scalars))
	for _, s := range scalars {
		def, ok := t.lookup(s.name)
		if !ok {
			continue
		}
		sc := ScoreLinear(s.value, def.Threshold.Good, def.Threshold.Bad, def.Threshold.HigherIsBetter)
		if sc == nil {
			continue
		}
		entries = append(entries, Entry{Score: *sc, Weight: def.Weight})
	}
	return WeightedScore(entries)
}

// ScoreVoice derives the voice scalars. CDR is measured against answered
// calls (completed + dropped), not attempts.
func ScoreVoice(v metrics.Voice) VoiceScore {
	out := VoiceScore{
		CSSR:       Ratio(float64(v.SetupOK), float64(v.Attempts)),
		CDR:        Ratio(float64(v.Dropped), float64(v.Completed+v.Dropped)),
		CSTAvg:     SafeAverage(v.SetupTimes),
		CSTOver15:  FractionAbove(v.SetupTimes, voiceSetupSlowMs),
		CSTP10:     Percentile(v.SetupTimes, 0.1),
		MOSAvg:     SafeAverage(v.MOSSamples),
		MOSUnder16: FractionBelow(v.MOSSamples, voiceMOSPoor),
		MOSP90:     Percentile(v.MOSSamples, 0.9),
	}
	out.Node = scoreCategory(VoiceTable, []scalar{
		{"cssr", out.CSSR},
		{"cdr", out.CDR},
		{"cstAvg", out.CSTAvg},
		{"cstOver15", out.CSTOver15},
		{"cstP10", out.CSTP10},
		{"mosAvg", out.MOSAvg},
		{"mosUnder16", out.MOSUnder16},
		{"mosP90", out.MOSP90},
	})
	return out
}

// ScoreHTTP derives the transfer scalars. The scored success ratio is the
// download one; upload only stands in when download has no requests.
func ScoreHTTP(h metrics.HTTP) HTTPScore {
	out := HTTPScore{
		DLSuccess: Ratio(float64(h.DL.Completed), float64(h.DL.Requests)),
		DLAvg:     SafeAverage(h.DL.Throughputs),
		DLP10:     Percentile(h.DL.Throughputs, 0.1),
		DLP90:     Percentile(h.DL.Throughputs, 0.9),
		ULSuccess: Ratio(float64(h.UL.Completed), float64(h.UL.Requests)),
		ULAvg:     SafeAverage(h.UL.Throughputs),
		ULP10:     Percentile(h.UL.Throughputs, 0.1),
		ULP90:     Percentile(h.UL.Throughputs, 0.9),
	}
	success := out.DLSuccess
	if success == nil {
		success = out.ULSuccess
	}
	out.Node = scoreCategory(HTTPTable, []scalar{
		{"successRatio", success},
		{"dlAvg", out.DLAvg},
		{"dlP10", out.DLP10},
		{"dlP90", out.DLP90},
		{"ulAvg", out.ULAvg},
		{"ulP10", out.ULP10},
		{"ulP90", out.ULP90},
	})
	return out
}

func ScoreBrowsing(b metrics.Browsing) BrowsingScore {
	out := BrowsingScore{
		SuccessRatio:  Ratio(float64(b.Completed), float64(b.Requests)),
		DurationAvg:   SafeAverage(b.Durations),
		DurationOver6: FractionAbove(b.Durations, browsingSlowMs),
	}
	out.Node = scoreCategory(BrowsingTable, []scalar{
		{"successRatio", out.SuccessRatio},
		{"durationAvg", out.DurationAvg},
		{"durationOver6", out.DurationOver6},
	})
	return out
}

func ScoreStreaming(s metrics.Streaming) StreamingScore {
	out := StreamingScore{
		SuccessRatio: Ratio(float64(s.Completed), float64(s.Requests)),
		MOSAvg:       SafeAverage(s.MOSSamples),
		MOSP10:       Percentile(s.MOSSamples, 0.1),
		SetupAvg:     SafeAverage(s.SetupTimes),
		SetupOver10:  FractionAbove(s.SetupTimes, streamingSetupSlowMs),
	}
	out.Node = scoreCategory(StreamingTable, []scalar{
		{"successRatio", out.SuccessRatio},
		{"mosAvg", out.MOSAvg},
		{"mosP10", out.MOSP10},
		{"setupAvg", out.SetupAvg},
		{"setupOver10", out.SetupOver10},
	})
	return out
}

func ScoreSocial(s metrics.Social) SocialScore {
	out := SocialScore{
		SuccessRatio:   Ratio(float64(s.Completed), float64(s.Requests)),
		DurationAvg:    SafeAverage(s.Durations),
		DurationOver15: FractionAbove(s.Durations, socialSlowMs),
	}
	out.Node = scoreCategory(SocialTable, []scalar{
		{"successRatio", out.SuccessRatio},
		{"durationAvg", out.DurationAvg},
		{"durationOver15", out.DurationOver15},
	})
	return out
}
