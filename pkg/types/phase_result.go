package types

import "time"

// PhaseStatus is the outcome of running a phase against one email.
type PhaseStatus string

const (
	PhaseStatusOK      PhaseStatus = "ok"
	PhaseStatusSkipped PhaseStatus = "skipped"
	PhaseStatusFailed  PhaseStatus = "failed"
)

// Phase identifies which of the three pipeline stages produced a result.
type Phase int

const (
	Phase1 Phase = 1
	Phase2 Phase = 2
	Phase3 Phase = 3
)

// LifecycleMarker is Phase-1's coarse read of a message's place in a
// conversation, derived from fixed phrase lists (spec.md §4.2).
type LifecycleMarker string

const (
	LifecycleMarkerStart      LifecycleMarker = "start"
	LifecycleMarkerProgress   LifecycleMarker = "progress"
	LifecycleMarkerCompletion LifecycleMarker = "completion"
	LifecycleMarkerNone       LifecycleMarker = "none"
)

// WorkflowType is the fixed taxonomy Phase-1 scores against (spec.md §4.2).
type WorkflowType string

const (
	WorkflowOrderManagement  WorkflowType = "order_management"
	WorkflowQuoteProcessing  WorkflowType = "quote_processing"
	WorkflowCustomerSupport  WorkflowType = "customer_support"
	WorkflowShippingLogistics WorkflowType = "shipping_logistics"
	WorkflowDealRegistration WorkflowType = "deal_registration"
	WorkflowApproval         WorkflowType = "approval"
	WorkflowRenewal          WorkflowType = "renewal"
	WorkflowVendorManagement WorkflowType = "vendor_management"
	WorkflowGeneral          WorkflowType = "general"
)

// Phase1Result is the deterministic triage output, produced for every email.
type Phase1Result struct {
	Entities        Entities        `json:"entities"`
	WorkflowHint    WorkflowType    `json:"workflow_hint"`
	UrgencyScore    int             `json:"urgency_score"`
	KeyPhrases      []string        `json:"key_phrases"`
	LifecycleMarker LifecycleMarker `json:"lifecycle_marker"`
	// NormalizedText is the lowercased subject+body, carried through for
	// downstream keyword matching (e.g. the router's operator-configurable
	// competitive-keyword rule) that must not be limited to the fixed
	// urgency-phrase list KeyPhrases is drawn from.
	NormalizedText string `json:"normalized_text"`
}

// ActionItem is a single recommended follow-up, per spec.md §4.5
// ("action_items[] (each {task, owner?, deadline?, priority})").
type ActionItem struct {
	Task     string   `json:"task"`
	Owner    string   `json:"owner,omitempty"`
	Deadline string   `json:"deadline,omitempty"`
	Priority Priority `json:"priority"`
}

// RejectedEntity records a Phase-1 entity the Analyst explicitly dropped,
// per spec.md §4.5's determinism contract: Phase-2 "must preserve every
// entity from Phase-1 whose confidence >= 0.5 unless it tags them
// rejected with a reason."
type RejectedEntity struct {
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// Phase2Result is the Analyst's output: entity/workflow refinement plus the
// first pass at priority, action items, and a deadline recommendation.
type Phase2Result struct {
	ValidatedEntities Entities         `json:"validated_entities"`
	RejectedEntities  []RejectedEntity `json:"rejected_entities,omitempty"`
	WorkflowType      WorkflowType     `json:"workflow_type"`
	Priority          Priority         `json:"priority"`
	ActionItems       []ActionItem     `json:"action_items"`
	SLAHours          int              `json:"sla_hours"`
	RiskFlags         []string         `json:"risk_flags,omitempty"`
	Summary           string           `json:"summary"`
}

// Phase3Result is the Strategist's output: executive framing and cross-email
// strategic context, added only for emails the router escalates.
type Phase3Result struct {
	ExecutiveSummary    string   `json:"executive_summary"`
	RevenueImpact        Revenue  `json:"revenue_impact"`
	CompetitiveStrategy  []string `json:"competitive_strategy"`
	CrossEmailPatterns   []string `json:"cross_email_patterns"`
	EscalationNeeded     bool     `json:"escalation_needed"`
}

// Revenue captures the Strategist's immediate and potential revenue read.
type Revenue struct {
	ImmediateMinor int64 `json:"immediate_minor"`
	PotentialMinor int64 `json:"potential_minor"`
}

// PhaseResult is the persisted envelope around a phase's output payload.
// PhaseResult[N+1] may only exist if PhaseResult[N].Status == ok.
type PhaseResult struct {
	EmailID    string      `json:"email_id" db:"email_id"`
	Phase      Phase       `json:"phase" db:"phase"`
	Status     PhaseStatus `json:"status" db:"status"`
	DurationMS int64       `json:"duration_ms" db:"duration_ms"`
	ModelID    string      `json:"model_id,omitempty" db:"model_id"`
	Payload    interface{} `json:"payload" db:"payload"`
	ProducedAt time.Time   `json:"produced_at" db:"produced_at"`
}
