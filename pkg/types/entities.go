package types

// Confidence tiers per spec.md §4.1: exact-format match, heuristic match,
// loose match. Entities scoring below MinConfidence are dropped in Phase-1.
const (
	ConfidenceExact     = 0.95
	ConfidenceHeuristic = 0.7
	ConfidenceLoose     = 0.5
	MinConfidence       = 0.5
)

// SourcePhase identifies which phase produced or revived an entity.
type SourcePhase int

const (
	SourcePhase1 SourcePhase = 1
	SourcePhase2 SourcePhase = 2
	SourcePhase3 SourcePhase = 3
)

// EntityItem is a single recognized value with its confidence and origin.
type EntityItem struct {
	Value       string      `json:"value"`
	Confidence  float64     `json:"confidence"`
	SourcePhase SourcePhase `json:"source_phase"`
}

// MoneyValue is a normalized monetary amount, minor units plus currency tag.
type MoneyValue struct {
	EntityItem
	MinorUnits int64  `json:"minor_units"`
	Currency   string `json:"currency"`
}

// Entities is the tagged set recognized from a single email, per spec.md §3.
type Entities struct {
	PONumbers    []EntityItem `json:"po_numbers"`
	QuoteNumbers []EntityItem `json:"quote_numbers"`
	CaseNumbers  []EntityItem `json:"case_numbers"`
	PartNumbers  []EntityItem `json:"part_numbers"`
	MoneyValues  []MoneyValue `json:"money_values"`
	Dates        []EntityItem `json:"dates"`
	Contacts     []EntityItem `json:"contacts"`
}

// IsEmpty reports whether no entity of any kind was recognized.
func (e Entities) IsEmpty() bool {
	return len(e.PONumbers) == 0 && len(e.QuoteNumbers) == 0 && len(e.CaseNumbers) == 0 &&
		len(e.PartNumbers) == 0 && len(e.MoneyValues) == 0 && len(e.Dates) == 0 && len(e.Contacts) == 0
}

// HighestMoneyMinor returns the largest recognized money value in minor
// units, or 0 if none were recognized. Used by the router's high-value rule.
func (e Entities) HighestMoneyMinor() int64 {
	var max int64
	for _, m := range e.MoneyValues {
		if m.MinorUnits > max {
			max = m.MinorUnits
		}
	}
	return max
}
