package session

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"qoemeter/internal/metrics"
	"qoemeter/internal/qoe"
)

// Export is the full dump served for download.
type Export struct {
	ExportDate     time.Time        `json:"exportDate"`
	CurrentMetrics metrics.Snapshot `json:"currentMetrics"`
	CurrentScores  qoe.Tree         `json:"currentScores"`
	History        []HistoryEntry   `json:"history"`
}

func (t *Tracker) Export() Export {
	h := t.History()
	if h == nil {
		h = []HistoryEntry{}
	}
	return Export{
		ExportDate:     t.now().UTC(),
		CurrentMetrics: t.Snapshot(),
		CurrentScores:  t.Scores(),
		History:        h,
	}
}

func (e Export) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

var csvHeader = []string{
	"Timestamp", "Overall Score", "Voice Score", "Data Score",
	"Voice Attempts", "Voice Completed", "Voice Dropped",
	"Browsing Requests", "Browsing Completed",
	"Streaming Requests", "Streaming Completed",
	"HTTP DL Requests", "HTTP DL Completed",
	"HTTP UL Requests", "HTTP UL Completed",
	"Social Requests", "Social Completed",
}

// WriteCSV writes one row for the current state followed by one per history
// entry. Null scores are empty cells.
func (e Export) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	if err := cw.Write(csvRow(e.ExportDate, e.CurrentMetrics, e.CurrentScores)); err != nil {
		return err
	}
	for _, h := range e.History {
		if err := cw.Write(csvRow(time.UnixMilli(h.Timestamp), h.Metrics, h.Scores)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(at time.Time, m metrics.Snapshot, s qoe.Tree) []string {
	d := m.Data
	return []string{
		at.UTC().Format(time.RFC3339Nano),
		cell(s.Overall.Score), cell(s.Voice.Score), cell(s.Data.Score),
		strconv.Itoa(m.Voice.Attempts), strconv.Itoa(m.Voice.Completed), strconv.Itoa(m.Voice.Dropped),
		strconv.Itoa(d.Browsing.Requests), strconv.Itoa(d.Browsing.Completed),
		strconv.Itoa(d.Streaming.Requests), strconv.Itoa(d.Streaming.Completed),
		strconv.Itoa(d.HTTP.DL.Requests), strconv.Itoa(d.HTTP.DL.Completed),
		strconv.Itoa(d.HTTP.UL.Requests), strconv.Itoa(d.HTTP.UL.Completed),
		strconv.Itoa(d.Social.Requests), strconv.Itoa(d.Social.Completed),
	}
}

func cell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
