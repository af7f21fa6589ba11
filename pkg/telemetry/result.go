// Package telemetry defines the frozen per-frame result contract and
// the end-of-run metrics/stage-timing artifacts (spec.md §4.8, §6).
package telemetry

// NeighborResult is one ranked LabelBank neighbor in a MatchResult.
type NeighborResult struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// BBox is an optional detector-supplied bounding box.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// MatchResult is the frozen v0.1 per-frame result (spec.md §3, §6).
// Additive fields are only ever allowed under a new MetricsSchemaVersion.
type MatchResult struct {
	Label       string           `json:"label"`
	Confidence  float64          `json:"confidence"`
	Neighbors   []NeighborResult `json:"neighbors"`
	Backend     string           `json:"backend"`
	Stride      int              `json:"stride"`
	BudgetHit   bool             `json:"budget_hit"`
	BBox        *BBox            `json:"bbox,omitempty"`
	TimestampMs *int64           `json:"timestamp_ms,omitempty"`
	SDKVersion  string           `json:"sdk_version"`
}

// UnknownLabel is the reserved label value for an open-set miss.
const UnknownLabel = "unknown"
