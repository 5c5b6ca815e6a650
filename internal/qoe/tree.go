package qoe

// Node is a score at any level of the tree. Score is nil exactly when no
// metric below it had data, in which case AppliedWeight is 0.
type Node struct {
	Score         *float64 `json:"score"`
	AppliedWeight float64  `json:"appliedWeight"`
}

type VoiceScore struct {
	Node
	CSSR       *float64 `json:"cssr"`
	CDR        *float64 `json:"cdr"`
	CSTAvg     *float64 `json:"cstAvg"`
	CSTOver15  *float64 `json:"cstOver15"`
	CSTP10     *float64 `json:"cstP10"`
	MOSAvg     *float64 `json:"mosAvg"`
	MOSUnder16 *float64 `json:"mosUnder16"`
	MOSP90     *float64 `json:"mosP90"`
}

type HTTPScore struct {
	Node
	DLSuccess *float64 `json:"dlSuccess"`
	DLAvg     *float64 `json:"dlAvg"`
	DLP10     *float64 `json:"dlP10"`
	DLP90     *float64 `json:"dlP90"`
	ULSuccess *float64 `json:"ulSuccess"`
	ULAvg     *float64 `json:"ulAvg"`
	ULP10     *float64 `json:"ulP10"`
	ULP90     *float64 `json:"ulP90"`
}

type BrowsingScore struct {
	Node
	SuccessRatio  *float64 `json:"successRatio"`
	DurationAvg   *float64 `json:"durationAvg"`
	DurationOver6 *float64 `json:"durationOver6"`
}

type StreamingScore struct {
	Node
	SuccessRatio *float64 `json:"successRatio"`
	MOSAvg       *float64 `json:"mosAvg"`
	MOSP10       *float64 `json:"mosP10"`
	SetupAvg     *float64 `json:"setupAvg"`
	SetupOver10  *float64 `json:"setupOver10"`
}

type SocialScore struct {
	Node
	SuccessRatio   *float64 `json:"successRatio"`
	DurationAvg    *float64 `json:"durationAvg"`
	DurationOver15 *float64 `json:"durationOver15"`
}

// Tree is the full scoring output. Its JSON form is what the history log
// stores and what API consumers read.
type Tree struct {
	Voice     VoiceScore     `json:"voice"`
	HTTP      HTTPScore      `json:"http"`
	Browsing  BrowsingScore  `json:"browsing"`
	Streaming StreamingScore `json:"streaming"`
	Social    SocialScore    `json:"social"`
	Data      Node           `json:"data"`
	Overall   Node           `json:"overall"`
}

// NamedNode pairs a node with its name and the weight it would carry at
// full coverage.
type NamedNode struct {
	Name  string
	Node  Node
	Total float64
}

// Nodes lists every node top-down: overall, the two domains, then the data categories.
func (t Tree) Nodes() []NamedNode {
	return []NamedNode{
		{Name: "overall", Node: t.Overall, Total: WeightVoice + WeightData},
		{Name: "voice", Node: t.Voice.Node, Total: VoiceTable.Total},
		{Name: "data", Node: t.Data, Total: WeightHTTP + WeightBrowsing + WeightStreaming + WeightSocial},
		{Name: "http", Node: t.HTTP.Node, Total: HTTPTable.Total},
		{Name: "browsing", Node: t.Browsing.Node, Total: BrowsingTable.Total},
		{Name: "streaming", Node: t.Streaming.Node, Total: StreamingTable.Total},
		{Name: "social", Node: t.Social.Node, Total: SocialTable.Total},
	}
}

// Scalar is one derived metric value before threshold mapping.
type Scalar struct {
	Category string
	Name     string
	Value    *float64
}

// Scalars flattens the derived metrics of every category in table order.
func (t Tree) Scalars() []Scalar {
	v, h, b, st, so := t.Voice, t.HTTP, t.Browsing, t.Streaming, t.Social
	return []Scalar{
		{"voice", "cssr", v.CSSR},
		{"voice", "cdr", v.CDR},
		{"voice", "cstAvg", v.CSTAvg},
		{"voice", "cstOver15", v.CSTOver15},
		{"voice", "cstP10", v.CSTP10},
		{"voice", "mosAvg", v.MOSAvg},
		{"voice", "mosUnder16", v.MOSUnder16},
		{"voice", "mosP90", v.MOSP90},
		{"http", "dlSuccess", h.DLSuccess},
		{"http", "dlAvg", h.DLAvg},
		{"http", "dlP10", h.DLP10},
		{"http", "dlP90", h.DLP90},
		{"http", "ulSuccess", h.ULSuccess},
		{"http", "ulAvg", h.ULAvg},
		{"http", "ulP10", h.ULP10},
		{"http", "ulP90", h.ULP90},
		{"browsing", "successRatio", b.SuccessRatio},
		{"browsing", "durationAvg", b.DurationAvg},
		{"browsing", "durationOver6", b.DurationOver6},
		{"streaming", "successRatio", st.SuccessRatio},
		{"streaming", "mosAvg", st.MOSAvg},
		{"streaming", "mosP10", st.MOSP10},
		{"streaming", "setupAvg", st.SetupAvg},
		{"streaming", "setupOver10", st.SetupOver10},
		{"social", "successRatio", so.SuccessRatio},
		{"social", "durationAvg", so.DurationAvg},
		{"social", "durationOver15", so.DurationOver15},
	}
}
