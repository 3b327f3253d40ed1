// Package memory implements pkg/storage.Store entirely in process memory,
// grounded on the teacher's in-memory test-fixture style (pkg/testutil).
// Suitable for tests and small deployments; pkg/storage/postgres is the
// durable backend for production.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opsmail/emailpipeline/pkg/shared/errors"
	"github.com/opsmail/emailpipeline/pkg/storage"
	"github.com/opsmail/emailpipeline/pkg/types"
)

// Store is an in-memory pkg/storage.Store. Each collection is guarded by
// its own mutex; WithTransaction holds the task, phase-result and event
// mutexes together for the whole group so readers observe it atomically.
type Store struct {
	emailsMu sync.RWMutex
	emails   map[string]types.Email // keyed by message_id
	emailsByID map[string]string    // email_id -> message_id

	resultsMu sync.RWMutex
	results   map[string][]types.PhaseResult // keyed by email_id

	chainsMu sync.RWMutex
	chains   map[string]types.Chain

	tasksMu sync.RWMutex
	tasks   map[string]types.WorkflowTask

	eventsMu sync.RWMutex
	events   []types.Event
	nextEventID uint64

	groupMu sync.Mutex
}

// New builds an empty in-memory Store.
func New() *Store {
	return &Store{
		emails:     make(map[string]types.Email),
		emailsByID: make(map[string]string),
		results:    make(map[string][]types.PhaseResult),
		chains:     make(map[string]types.Chain),
		tasks:      make(map[string]types.WorkflowTask),
	}
}

func (s *Store) PutEmail(ctx context.Context, email types.Email) error {
	s.emailsMu.Lock()
	defer s.emailsMu.Unlock()
	if _, exists := s.emails[email.MessageID]; exists {
		return nil // idempotent by message_id
	}
	s.emails[email.MessageID] = email
	s.emailsByID[email.ID] = email.MessageID
	return nil
}

func (s *Store) GetEmail(ctx context.Context, emailID string) (types.Email, error) {
	s.emailsMu.RLock()
	defer s.emailsMu.RUnlock()
	msgID, ok := s.emailsByID[emailID]
	if !ok {
		return types.Email{}, storage.ErrNotFound
	}
	return s.emails[msgID], nil
}

func (s *Store) ListEmails(ctx context.Context) ([]types.Email, error) {
	s.emailsMu.RLock()
	defer s.emailsMu.RUnlock()
	out := make([]types.Email, 0, len(s.emails))
	for _, e := range s.emails {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (s *Store) PutPhaseResult(ctx context.Context, result types.PhaseResult) error {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	return s.putPhaseResultLocked(result)
}

func (s *Store) putPhaseResultLocked(result types.PhaseResult) error {
	existing := s.results[result.EmailID]
	for _, r := range existing {
		if r.Phase == result.Phase {
			return nil // idempotent by (email_id, phase)
		}
	}
	if result.Phase > types.Phase1 {
		prior, ok := findPhase(existing, result.Phase-1)
		if !ok || prior.Status != types.PhaseStatusOK {
			return errors.FailedToWithDetails("write phase result", "storage",
				result.EmailID, errors.FailedTo("invariant violated: prior phase missing or not ok", nil))
		}
	}
	s.results[result.EmailID] = append(existing, result)
	return nil
}

func findPhase(results []types.PhaseResult, phase types.Phase) (types.PhaseResult, bool) {
	for _, r := range results {
		if r.Phase == phase {
			return r, true
		}
	}
	return types.PhaseResult{}, false
}

func (s *Store) GetPhaseResults(ctx context.Context, emailID string) ([]types.PhaseResult, error) {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()
	out := make([]types.PhaseResult, len(s.results[emailID]))
	copy(out, s.results[emailID])
	return out, nil
}

func (s *Store) UpsertChain(ctx context.Context, chain types.Chain) error {
	s.chainsMu.Lock()
	defer s.chainsMu.Unlock()
	s.chains[chain.ChainID] = chain
	return nil
}

func (s *Store) GetChain(ctx context.Context, chainID string) (types.Chain, bool, error) {
	s.chainsMu.RLock()
	defer s.chainsMu.RUnlock()
	ch, ok := s.chains[chainID]
	return ch, ok, nil
}

func (s *Store) GetChainsByCompletenessRange(ctx context.Context, lo, hi int) ([]types.Chain, error) {
	s.chainsMu.RLock()
	defer s.chainsMu.RUnlock()
	var out []types.Chain
	for _, ch := range s.chains {
		if ch.Completeness >= lo && ch.Completeness <= hi {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out, nil
}

func (s *Store) UpsertTask(ctx context.Context, task types.WorkflowTask) (types.WorkflowTask, error) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	return s.upsertTaskLocked(task)
}

func (s *Store) upsertTaskLocked(task types.WorkflowTask) (types.WorkflowTask, error) {
	existing, exists := s.tasks[task.TaskID]
	if exists && task.Version <= existing.Version {
		return types.WorkflowTask{}, errors.FailedToWithDetails("upsert task", "storage", task.TaskID,
			errors.FailedTo("CAS failure: version is not newer than the stored version", nil))
	}
	if !exists {
		task.Version = 1
		if task.CreatedAt.IsZero() {
			task.CreatedAt = time.Now().UTC()
		}
	}
	task.UpdatedAt = time.Now().UTC()
	s.tasks[task.TaskID] = task
	return task, nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (types.WorkflowTask, error) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return types.WorkflowTask{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListTasksByStatus(ctx context.Context, status types.SLAStatus) ([]types.WorkflowTask, error) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	var out []types.WorkflowTask
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (s *Store) ListTasksBySlaDeadlineBefore(ctx context.Context, t time.Time) ([]types.WorkflowTask, error) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	var out []types.WorkflowTask
	for _, task := range s.tasks {
		if task.SLADeadline.Before(t) {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (s *Store) ListOpenTasks(ctx context.Context) ([]types.WorkflowTask, error) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	out := make([]types.WorkflowTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status types.SLAStatus) (types.WorkflowTask, error) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return types.WorkflowTask{}, storage.ErrNotFound
	}
	t.Status = status
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	s.tasks[taskID] = t
	return t, nil
}

func (s *Store) AppendEvent(ctx context.Context, event types.Event) error {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	return s.appendEventLocked(event)
}

func (s *Store) appendEventLocked(event types.Event) error {
	s.nextEventID++
	event.EventID = s.nextEventID
	s.events = append(s.events, event)
	return nil
}

func (s *Store) ListEventsAfter(ctx context.Context, eventType types.EventType, afterEventID uint64) ([]types.Event, error) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	var out []types.Event
	for _, ev := range s.events {
		if ev.Type == eventType && ev.EventID > afterEventID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Store) GetPipelineStats(ctx context.Context) (storage.Stats, error) {
	s.tasksMu.RLock()
	s.chainsMu.RLock()
	s.emailsMu.RLock()
	s.resultsMu.RLock()
	defer s.tasksMu.RUnlock()
	defer s.chainsMu.RUnlock()
	defer s.emailsMu.RUnlock()
	defer s.resultsMu.RUnlock()

	stats := storage.Stats{
		TotalEmails:       len(s.emails),
		TasksByStatus:     make(map[types.SLAStatus]int),
		TasksByPriority:   make(map[types.Priority]int),
		ChainsByLifecycle: make(map[types.Lifecycle]int),
		PhaseMix:          make(map[string]int),
	}
	for _, t := range s.tasks {
		stats.TasksByStatus[t.Status]++
		stats.TasksByPriority[t.Priority]++
	}
	for _, ch := range s.chains {
		stats.ChainsByLifecycle[ch.Lifecycle]++
	}
	for _, results := range s.results {
		stats.PhaseMix[phaseMixKey(results)]++
	}
	return stats, nil
}

func phaseMixKey(results []types.PhaseResult) string {
	has2, has3 := false, false
	for _, r := range results {
		if r.Phase == types.Phase2 && r.Status == types.PhaseStatusOK {
			has2 = true
		}
		if r.Phase == types.Phase3 && r.Status == types.PhaseStatusOK {
			has3 = true
		}
	}
	switch {
	case has3:
		return "p1_p2_p3"
	case has2:
		return "p1_p2"
	default:
		return "p1_only"
	}
}

// WithTransaction applies group's writes atomically by holding the group,
// task, phase-result and event mutexes across all three collection writes:
// no reader can observe the task without its backing phase result or
// event, per spec.md §4.8. The task's version is checked before anything
// is written, so a CAS failure leaves every collection unchanged.
func (s *Store) WithTransaction(ctx context.Context, group storage.TxGroup) error {
	s.groupMu.Lock()
	defer s.groupMu.Unlock()
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	if group.Task != nil {
		if existing, ok := s.tasks[group.Task.TaskID]; ok && group.Task.Version <= existing.Version {
			return errors.FailedToWithDetails("upsert task", "storage", group.Task.TaskID,
				errors.FailedTo("CAS failure: version is not newer than the stored version", nil))
		}
	}
	if group.PhaseResult != nil {
		if err := s.putPhaseResultLocked(*group.PhaseResult); err != nil {
			return err
		}
	}
	if group.Task != nil {
		if _, err := s.upsertTaskLocked(*group.Task); err != nil {
			return err
		}
	}
	if group.Event != nil {
		if err := s.appendEventLocked(*group.Event); err != nil {
			return err
		}
	}
	return nil
}
