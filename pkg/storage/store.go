// Package storage defines the typed Persistence Layer contract (component
// C8): durable storage of raw emails, per-phase results, chains, and
// workflow tasks, plus the append-only event log, per spec.md §4.8.
// Concrete backends live in pkg/storage/memory and pkg/storage/postgres.
package storage

import (
	"context"
	"time"

	"github.com/opsmail/emailpipeline/pkg/types"
)

// Stats is the read model behind GetPipelineStats, feeding pkg/health.
type Stats struct {
	TotalEmails      int
	TasksByStatus    map[types.SLAStatus]int
	TasksByPriority  map[types.Priority]int
	ChainsByLifecycle map[types.Lifecycle]int
	PhaseMix         map[string]int // "p1_only" | "p1_p2" | "p1_p2_p3"
}

// TxGroup is the set of writes a transactional group commits atomically,
// per spec.md §4.8: "the store must support transactional groups of
// (PhaseResult write + Task upsert + Event append) so that subscribers
// never see a task without its backing phase result."
type TxGroup struct {
	PhaseResult *types.PhaseResult
	Task        *types.WorkflowTask
	Event       *types.Event
}

// Store is the typed persistence contract every pipeline stage depends
// on. Implementations must be safe for concurrent use.
type Store interface {
	// PutEmail is idempotent by message_id: re-ingesting the same
	// message_id is a no-op, not an error.
	PutEmail(ctx context.Context, email types.Email) error
	GetEmail(ctx context.Context, emailID string) (types.Email, error)
	// ListEmails returns every ingested email, oldest first. Used by the
	// orchestrator's checkpoint scan (spec.md §4.7: "on restart, scans for
	// emails with missing downstream PhaseResults and re-enqueues them").
	ListEmails(ctx context.Context) ([]types.Email, error)

	// PutPhaseResult is idempotent by (email_id, phase) and enforces the
	// phase-ordering invariant: PhaseResult[N+1] may only be written if
	// PhaseResult[N].Status == ok, else it returns an InvariantViolation
	// error and refuses the write (spec.md §7).
	PutPhaseResult(ctx context.Context, result types.PhaseResult) error
	GetPhaseResults(ctx context.Context, emailID string) ([]types.PhaseResult, error)

	// UpsertChain stores the current aggregate for a chain_id. Chain
	// updates are expected to already be serialized per chain_id by the
	// caller (pkg/chain.Analyzer); this is a plain upsert, not a CAS.
	UpsertChain(ctx context.Context, chain types.Chain) error
	GetChain(ctx context.Context, chainID string) (types.Chain, bool, error)
	GetChainsByCompletenessRange(ctx context.Context, lo, hi int) ([]types.Chain, error)

	// UpsertTask performs an optimistic-concurrency update: for a
	// pre-existing TaskID the write is rejected unless task.Version is
	// greater than the stored version, and the caller must re-read and
	// retry (spec.md §4.8's PersistenceConflict handling lives in
	// pkg/orchestrator, not here). A new TaskID is stored at Version 1
	// whatever the caller passed. On success the stored copy is returned.
	UpsertTask(ctx context.Context, task types.WorkflowTask) (types.WorkflowTask, error)
	GetTask(ctx context.Context, taskID string) (types.WorkflowTask, error)
	ListTasksByStatus(ctx context.Context, status types.SLAStatus) ([]types.WorkflowTask, error)
	ListTasksBySlaDeadlineBefore(ctx context.Context, t time.Time) ([]types.WorkflowTask, error)
	// ListOpenTasks returns every task not in a terminal SLA state for
	// pkg/sla.Tracker to scan; a task is "open" until it is red and has
	// been explicitly closed elsewhere, so this returns all tasks the
	// tracker should keep evaluating (green/yellow/red all included,
	// since red tasks still need their status re-affirmed on each scan).
	ListOpenTasks(ctx context.Context) ([]types.WorkflowTask, error)
	// UpdateTaskStatus is a narrow status-only mutation used by
	// pkg/sla.Tracker, avoiding a full UpsertTask read-modify-write for
	// the common case of a pure SLA transition.
	UpdateTaskStatus(ctx context.Context, taskID string, status types.SLAStatus) (types.WorkflowTask, error)

	// AppendEvent is append-only: events are never mutated or deleted.
	AppendEvent(ctx context.Context, event types.Event) error
	ListEventsAfter(ctx context.Context, eventType types.EventType, afterEventID uint64) ([]types.Event, error)

	GetPipelineStats(ctx context.Context) (Stats, error)

	// WithTransaction commits group's non-nil fields atomically: either
	// all of PhaseResult/Task/Event land, or none do. Implementations
	// lacking native transactions (e.g. a future non-relational backend)
	// must use a write-ahead log plus recovery scan to the same effect,
	// per spec.md §4.8.
	WithTransaction(ctx context.Context, group TxGroup) error
}

// ErrNotFound is returned by single-row lookups when the requested ID
// does not exist. Use errors.Is to check.
var ErrNotFound = storeError("not found")

type storeError string

func (e storeError) Error() string { return string(e) }
