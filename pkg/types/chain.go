package types

import "time"

// Lifecycle is the derived chain state per spec.md §3/§4.3 thresholds.
type Lifecycle string

const (
	LifecycleStartOnly  Lifecycle = "start_only"
	LifecycleInProgress Lifecycle = "in_progress"
	LifecycleCompleted  Lifecycle = "completed"
	LifecycleOrphan     Lifecycle = "orphan"
)

// Chain is the derived, incrementally-recomputed aggregate keyed by
// conversation (or a synthetic fallback key when conversation_id is empty).
type Chain struct {
	ChainID      string    `json:"chain_id" db:"chain_id"`
	EmailIDs     []string  `json:"email_ids" db:"email_ids"`
	Completeness int       `json:"completeness" db:"completeness"`
	Lifecycle    Lifecycle `json:"lifecycle" db:"lifecycle"`
	LastUpdated  time.Time `json:"last_updated" db:"last_updated"`
}

// LifecycleForCompleteness maps a 0-100 completeness score to its lifecycle
// bucket per spec.md §4.3 ("<40 start_only, 40-69 in_progress, >=70 completed").
// Callers needing the orphan override (single email, no markers) must apply
// it themselves; this function only implements the threshold table.
func LifecycleForCompleteness(score int) Lifecycle {
	switch {
	case score < 40:
		return LifecycleStartOnly
	case score < 70:
		return LifecycleInProgress
	default:
		return LifecycleCompleted
	}
}
