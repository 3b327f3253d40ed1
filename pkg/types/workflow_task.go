package types

import "time"

// Priority is the workflow task's urgency class.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// SLAStatus is the traffic-light state produced by pkg/sla (C9).
type SLAStatus string

const (
	SLAStatusGreen  SLAStatus = "green"
	SLAStatusYellow SLAStatus = "yellow"
	SLAStatusRed    SLAStatus = "red"
)

// WorkflowTask is the materialized operational record surfaced to
// dashboards and subscribers. Created once an email reaches Phase-2
// completion (or terminates at Phase-1); mutated monotonically thereafter,
// each update incrementing Version.
type WorkflowTask struct {
	TaskID          string    `json:"task_id" db:"task_id" validate:"required"`
	EmailID         string    `json:"email_id" db:"email_id" validate:"required"`
	ChainID         string    `json:"chain_id,omitempty" db:"chain_id"`
	WorkflowType    WorkflowType `json:"workflow_type" db:"workflow_type"`
	Priority        Priority  `json:"priority" db:"priority" validate:"required,oneof=critical high medium low"`
	Status          SLAStatus `json:"status" db:"status"`
	Owner           string    `json:"owner,omitempty" db:"owner"`
	ReceivedAt      time.Time `json:"received_at" db:"received_at"`
	SLADeadline     time.Time `json:"sla_deadline" db:"sla_deadline"`
	ActionItems     []ActionItem `json:"action_items" db:"action_items"`
	RoutedPhase2    bool      `json:"routed_phase2" db:"routed_phase2"`
	RoutedPhase3    bool      `json:"routed_phase3" db:"routed_phase3"`
	Degraded        bool      `json:"degraded,omitempty" db:"degraded"`
	StrategicNotes  string    `json:"strategic_notes,omitempty" db:"strategic_notes"`
	RevenueAtRiskMinor int64  `json:"revenue_at_risk_minor,omitempty" db:"revenue_at_risk_minor"`
	Version         int       `json:"version" db:"version"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// SLAPolicy configures priority -> deadline-hours and the at-risk fraction,
// loaded from internal/config rather than hardcoded (spec.md §3/§9 Open
// Questions).
type SLAPolicy struct {
	PolicyHours    map[Priority]int
	AtRiskFraction float64
}
