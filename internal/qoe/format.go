package qoe

import (
	"fmt"
	"math"
)

// Placeholder is rendered for a score with no data behind it.
const Placeholder = "--"

// Percent renders a unit score as a rounded percentage.
func Percent(v *float64) string {
	if v == nil {
		return Placeholder
	}
	return fmt.Sprintf("%d%%", int(math.Round(*v*100)))
}

// Coverage renders applied weight as a percentage of the full weight.
func Coverage(n Node, total float64) string {
	if total == 0 {
		return Placeholder
	}
	return Percent(ptr(n.AppliedWeight / total))
}

// Line is one row of the human-readable summary.
type Line struct {
	Name     string `json:"name"`
	Score    string `json:"score"`
	Coverage string `json:"coverage"`
}

func Summary(t Tree) []Line {
	nodes := t.Nodes()
	out := make([]Line, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Line{Name: n.Name, Score: Percent(n.Node.Score), Coverage: Coverage(n.Node, n.Total)})
	}
	return out
}
