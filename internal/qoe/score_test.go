package qoe

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"testing"

	"qoemeter/internal/metrics"
	logx "qoemeter/pkg/logx"
)

func assertNull(t *testing.T, name string, n Node) {
	t.Helper()
	if n.Score != nil || n.AppliedWeight != 0 {
		t.Fatalf("%s = {score:%v applied:%v}, want {null 0}", name, n.Score, n.AppliedWeight)
	}
}

func TestEmptySnapshotScoresNull(t *testing.T) {
	t.Parallel()
	tree := Calculate(metrics.New())
	for _, n := range tree.Nodes() {
		assertNull(t, n.Name, n.Node)
	}

	// A zero value snapshot (nil slices everywhere) behaves the same.
	tree = Calculate(metrics.Snapshot{})
	assertNull(t, "overall", tree.Overall)
	assertNull(t, "data", tree.Data)
}

func TestVoiceRatios(t *testing.T) {
	t.Parallel()
	v := ScoreVoice(metrics.Voice{Attempts: 10, SetupOK: 9, Completed: 6, Dropped: 2})
	if got := mustVal(t, "cssr", v.CSSR); !approx(got, 0.9) {
		t.Fatalf("cssr = %v, want 0.9", got)
	}
	if got := mustVal(t, "cdr", v.CDR); got != 0.25 {
		t.Fatalf("cdr = %v, want 0.25 (dropped over answered)", got)
	}
	if v.CSTAvg != nil || v.MOSAvg != nil || v.MOSP90 != nil {
		t.Fatal("sequence metrics should be null without samples")
	}
	// Only cssr and cdr contribute.
	if !approx(v.AppliedWeight, 0.3125+0.375) {
		t.Fatalf("applied = %v, want %v", v.AppliedWeight, 0.3125+0.375)
	}
}

func TestVoiceNeverAnsweredHasNoDropRate(t *testing.T) {
	t.Parallel()
	v := ScoreVoice(metrics.Voice{Attempts: 3})
	if v.CDR != nil {
		t.Fatalf("cdr = %v, want null when nothing was answered", *v.CDR)
	}
	if got := mustVal(t, "cssr", v.CSSR); got != 0 {
		t.Fatalf("cssr = %v, want 0", got)
	}
}

func TestVoiceTails(t *testing.T) {
	t.Parallel()
	v := ScoreVoice(metrics.Voice{
		SetupTimes: []float64{1000, 16000, 2000, 15000},
		MOSSamples: []float64{1.5, 4.0, 4.5, 1.6},
	})
	if got := mustVal(t, "cstOver15", v.CSTOver15); got != 0.25 {
		t.Fatalf("cstOver15 = %v, want 0.25 (strictly above 15000)", got)
	}
	if got := mustVal(t, "mosUnder16", v.MOSUnder16); got != 0.25 {
		t.Fatalf("mosUnder16 = %v, want 0.25 (strictly below 1.6)", got)
	}
}

func TestHTTPThroughputStats(t *testing.T) {
	t.Parallel()
	h := ScoreHTTP(metrics.HTTP{DL: metrics.Direction{Requests: 4, Completed: 4, Throughputs: []float64{10, 20, 30, 100}}})
	if got := mustVal(t, "dlAvg", h.DLAvg); got != 40 {
		t.Fatalf("dlAvg = %v, want 40", got)
	}
	if got := mustVal(t, "dlP10", h.DLP10); !approx(got, 13) {
		t.Fatalf("dlP10 = %v, want 13", got)
	}
	if got := mustVal(t, "dlP90", h.DLP90); !approx(got, 79) {
		t.Fatalf("dlP90 = %v, want 79", got)
	}
	if got := mustVal(t, "dlSuccess", h.DLSuccess); got != 1 {
		t.Fatalf("dlSuccess = %v, want 1", got)
	}
	if h.ULSuccess != nil || h.ULAvg != nil {
		t.Fatal("upload metrics should be null")
	}
}

func TestHTTPSuccessFallsBackToUpload(t *testing.T) {
	t.Parallel()
	// Upload only: its success ratio stands in for the missing download one.
	up := ScoreHTTP(metrics.HTTP{UL: metrics.Direction{Requests: 2, Completed: 1}})
	if up.DLSuccess != nil {
		t.Fatal("dlSuccess should be null")
	}
	if !approx(up.AppliedWeight, 0.055) {
		t.Fatalf("applied = %v, want success weight 0.055", up.AppliedWeight)
	}
	// 0.5 is below the 0.8 floor.
	if got := mustVal(t, "score", up.Score); got != 0 {
		t.Fatalf("score = %v, want 0", got)
	}

	// Both present: download wins, upload is not averaged in.
	both := ScoreHTTP(metrics.HTTP{
		DL: metrics.Direction{Requests: 1, Completed: 1},
		UL: metrics.Direction{Requests: 2, Completed: 0},
	})
	if got := mustVal(t, "score", both.Score); got != 1 {
		t.Fatalf("score = %v, want 1 from download success only", got)
	}
}

func TestBrowsingAndSocialTails(t *testing.T) {
	t.Parallel()
	b := ScoreBrowsing(metrics.Browsing{Requests: 4, Completed: 3, Durations: []float64{1000, 6000, 6001, 9000}})
	if got := mustVal(t, "durationOver6", b.DurationOver6); got != 0.5 {
		t.Fatalf("durationOver6 = %v, want 0.5", got)
	}
	if got := mustVal(t, "successRatio", b.SuccessRatio); got != 0.75 {
		t.Fatalf("successRatio = %v, want 0.75", got)
	}
	s := ScoreSocial(metrics.Social{Durations: []float64{1000, 16000}})
	if got := mustVal(t, "durationOver15", s.DurationOver15); got != 0.5 {
		t.Fatalf("durationOver15 = %v, want 0.5", got)
	}
	if s.SuccessRatio != nil {
		t.Fatal("social success should be null without requests")
	}
}

func TestStreamingMetrics(t *testing.T) {
	t.Parallel()
	s := ScoreStreaming(metrics.Streaming{
		Requests:   5,
		Completed:  5,
		MOSSamples: []float64{2, 3, 4, 5},
		SetupTimes: []float64{500, 11000},
	})
	if got := mustVal(t, "mosAvg", s.MOSAvg); got != 3.5 {
		t.Fatalf("mosAvg = %v, want 3.5", got)
	}
	if got := mustVal(t, "mosP10", s.MOSP10); !approx(got, 2.3) {
		t.Fatalf("mosP10 = %v, want 2.3", got)
	}
	if got := mustVal(t, "setupOver10", s.SetupOver10); got != 0.5 {
		t.Fatalf("setupOver10 = %v, want 0.5", got)
	}
	if !approx(s.AppliedWeight, StreamingTable.Total) {
		t.Fatalf("applied = %v, want full coverage %v", s.AppliedWeight, StreamingTable.Total)
	}
}

func TestDataTierScalesPartialCategories(t *testing.T) {
	t.Parallel()
	// Streaming with only its success ratio populated, all successful.
	snap := metrics.New()
	snap.Data.Streaming.Requests = 2
	snap.Data.Streaming.Completed = 2

	tree := Calculate(snap)
	if got := mustVal(t, "streaming", tree.Streaming.Score); got != 1 {
		t.Fatalf("streaming score = %v, want 1", got)
	}
	coverage := 0.1276 / WeightStreaming
	if got := mustVal(t, "data", tree.Data.Score); !approx(got, coverage) {
		t.Fatalf("data score = %v, want %v", got, coverage)
	}
	if !approx(tree.Data.AppliedWeight, WeightStreaming) {
		t.Fatalf("data applied = %v, want %v", tree.Data.AppliedWeight, WeightStreaming)
	}

	// Add a fully covered, perfect browsing category.
	snap.Data.Browsing.Requests = 1
	snap.Data.Browsing.Completed = 1
	snap.Data.Browsing.Durations = []float64{0.5}
	tree = Calculate(snap)
	if !approx(tree.Browsing.AppliedWeight, WeightBrowsing) {
		t.Fatalf("browsing applied = %v, want %v", tree.Browsing.AppliedWeight, WeightBrowsing)
	}
	want := (1*WeightBrowsing + coverage*WeightStreaming) / (WeightBrowsing + WeightStreaming)
	if got := mustVal(t, "data", tree.Data.Score); !approx(got, want) {
		t.Fatalf("data score = %v, want %v", got, want)
	}
}

func TestOverallDoesNotRescaleDomains(t *testing.T) {
	t.Parallel()
	snap := metrics.New()
	snap.Voice.Attempts = 1
	snap.Voice.SetupOK = 1
	snap.Voice.Completed = 1

	tree := Calculate(snap)
	if tree.Voice.AppliedWeight >= VoiceTable.Total {
		t.Fatalf("voice should be partially covered, applied = %v", tree.Voice.AppliedWeight)
	}
	assertNull(t, "data", tree.Data)
	// Voice covers ~69% of its weight yet enters overall unscaled.
	if got := mustVal(t, "overall", tree.Overall.Score); got != 1 {
		t.Fatalf("overall = %v, want 1", got)
	}
	if tree.Overall.AppliedWeight != WeightVoice {
		t.Fatalf("overall applied = %v, want %v", tree.Overall.AppliedWeight, WeightVoice)
	}
}

func TestOverallCombinesBothDomains(t *testing.T) {
	t.Parallel()
	snap := metrics.New()
	snap.Voice.Attempts = 1
	snap.Voice.SetupOK = 1
	snap.Voice.Completed = 1
	snap.Data.Streaming.Requests = 1

	tree := Calculate(snap)
	// Streaming success 0/1 scores 0, so data is 0 with streaming's weight.
	if got := mustVal(t, "data", tree.Data.Score); got != 0 {
		t.Fatalf("data = %v, want 0", got)
	}
	if got := mustVal(t, "overall", tree.Overall.Score); !approx(got, WeightVoice) {
		t.Fatalf("overall = %v, want %v", got, WeightVoice)
	}
	if !approx(tree.Overall.AppliedWeight, 1) {
		t.Fatalf("overall applied = %v, want 1", tree.Overall.AppliedWeight)
	}
}

func TestTreeJSONKeepsNulls(t *testing.T) {
	t.Parallel()
	snap := metrics.New()
	snap.Voice.Attempts = 4
	snap.Voice.SetupOK = 3
	snap.Data.HTTP.DL = metrics.Direction{Requests: 2, Completed: 2, Throughputs: []float64{55, 80}}

	for _, tree := range []Tree{Calculate(metrics.New()), Calculate(snap)} {
		b, err := json.Marshal(tree)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !bytes.Contains(b, []byte(`"score":null`)) {
			t.Fatalf("expected explicit nulls in %s", b)
		}
		var back Tree
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !reflect.DeepEqual(tree, back) {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", back, tree)
		}

		var generic map[string]map[string]any
		if err := json.Unmarshal(b, &generic); err != nil {
			t.Fatalf("unmarshal generic: %v", err)
		}
		for _, key := range []string{"score", "appliedWeight", "cssr", "mosP90"} {
			if _, ok := generic["voice"][key]; !ok {
				t.Fatalf("voice.%s missing from %s", key, b)
			}
		}
		if _, ok := generic["overall"]["score"]; !ok {
			t.Fatalf("overall.score missing from %s", b)
		}
	}
}

func TestCalculateConcurrent(t *testing.T) {
	t.Parallel()
	snap := metrics.New()
	snap.Voice.MOSSamples = []float64{4.4, 3.1, 2.2, 4.9}
	snap.Data.Social.Durations = []float64{2000, 3000}
	want := Calculate(snap)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := Calculate(snap); !reflect.DeepEqual(got, want) {
				t.Errorf("concurrent result differs")
			}
		}()
	}
	wg.Wait()
	if snap.Voice.MOSSamples[0] != 4.4 {
		t.Fatal("Calculate must not reorder input samples")
	}
}

func TestScorerTracesAtDebug(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := NewScorer(logx.NewWriter(&buf, "debug"))
	tree := s.Calculate(metrics.New())
	assertNull(t, "overall", tree.Overall)
	if !strings.Contains(buf.String(), "node scored") {
		t.Fatalf("expected debug trace, got %q", buf.String())
	}

	buf.Reset()
	quiet := NewScorer(logx.NewWriter(&buf, "info"))
	_ = quiet.Calculate(metrics.New())
	if buf.Len() != 0 {
		t.Fatalf("no output expected at info level, got %q", buf.String())
	}
}

func TestSummaryFormatting(t *testing.T) {
	t.Parallel()
	if got := Percent(nil); got != Placeholder {
		t.Fatalf("Percent(nil) = %q", got)
	}
	if got := Percent(ptr(0.876)); got != "88%" {
		t.Fatalf("Percent(0.876) = %q, want 88%%", got)
	}

	snap := metrics.New()
	snap.Voice.Attempts = 1
	snap.Voice.SetupOK = 1
	snap.Voice.Completed = 1
	lines := Summary(Calculate(snap))
	if len(lines) != 7 || lines[0].Name != "overall" {
		t.Fatalf("unexpected summary: %+v", lines)
	}
	byName := map[string]Line{}
	for _, l := range lines {
		byName[l.Name] = l
	}
	if byName["voice"].Score != "100%" || byName["voice"].Coverage != "69%" {
		t.Fatalf("voice line = %+v", byName["voice"])
	}
	if byName["http"].Score != Placeholder || byName["http"].Coverage != "0%" {
		t.Fatalf("http line = %+v", byName["http"])
	}
	if byName["overall"].Coverage != "40%" {
		t.Fatalf("overall line = %+v", byName["overall"])
	}
}

func TestValidateTables(t *testing.T) {
	t.Parallel()
	if err := ValidateTables(); err != nil {
		t.Fatalf("shipped tables invalid: %v", err)
	}

	broken := Table{Category: "x", Total: 1, Metrics: []MetricSpec{
		{"a", 0.5, Threshold{Good: 1, Bad: 1}},
		{"b", 0.2, Threshold{Good: 1, Bad: 0}},
	}}
	err := validate([]Table{broken}, []float64{0.5, 0.4}, []float64{0.4, 0.6})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"good == bad", "weights sum", "data category weights"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestExtractorsUseConfiguredNames(t *testing.T) {
	t.Parallel()
	// Every metric of every table must receive a value when all data is present.
	snap := metrics.New()
	snap.Voice = metrics.Voice{Attempts: 2, SetupOK: 2, Completed: 1, Dropped: 1, SetupTimes: []float64{1}, MOSSamples: []float64{4}}
	snap.Data.HTTP.DL = metrics.Direction{Requests: 1, Completed: 1, Throughputs: []float64{50}}
	snap.Data.HTTP.UL = metrics.Direction{Requests: 1, Completed: 1, Throughputs: []float64{20}}
	snap.Data.Browsing = metrics.Browsing{Requests: 1, Completed: 1, Durations: []float64{1}}
	snap.Data.Streaming = metrics.Streaming{Requests: 1, Completed: 1, MOSSamples: []float64{4}, SetupTimes: []float64{1}}
	snap.Data.Social = metrics.Social{Requests: 1, Completed: 1, Durations: []float64{1}}

	tree := Calculate(snap)
	for _, n := range tree.Nodes() {
		if !approx(n.Node.AppliedWeight, n.Total) {
			t.Fatalf("%s applied = %v, want full %v", n.Name, n.Node.AppliedWeight, n.Total)
		}
	}
}
