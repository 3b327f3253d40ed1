package memory

import (
	"context"
	"testing"
	"time"

	"github.com/opsmail/emailpipeline/pkg/storage"
	"github.com/opsmail/emailpipeline/pkg/types"
)

func TestPutEmail_IdempotentByMessageID(t *testing.T) {
	s := New()
	ctx := context.Background()
	email := types.Email{ID: "e1", MessageID: "m1"}

	if err := s.PutEmail(ctx, email); err != nil {
		t.Fatalf("PutEmail: %v", err)
	}
	dup := types.Email{ID: "e1-dup", MessageID: "m1"}
	if err := s.PutEmail(ctx, dup); err != nil {
		t.Fatalf("PutEmail dup: %v", err)
	}

	got, err := s.GetEmail(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEmail: %v", err)
	}
	if got.MessageID != "m1" {
		t.Fatalf("expected original email retained, got %+v", got)
	}

	if _, err := s.GetEmail(ctx, "e1-dup"); err != storage.ErrNotFound {
		t.Fatalf("expected duplicate's email_id to not be indexed, got err=%v", err)
	}
}

func TestListEmails_OrderedByReceivedAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	later := types.Email{ID: "e2", MessageID: "m2", ReceivedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	earlier := types.Email{ID: "e1", MessageID: "m1", ReceivedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := s.PutEmail(ctx, later); err != nil {
		t.Fatalf("PutEmail: %v", err)
	}
	if err := s.PutEmail(ctx, earlier); err != nil {
		t.Fatalf("PutEmail: %v", err)
	}

	got, err := s.ListEmails(ctx)
	if err != nil {
		t.Fatalf("ListEmails: %v", err)
	}
	if len(got) != 2 || got[0].ID != "e1" || got[1].ID != "e2" {
		t.Fatalf("ListEmails not ordered by received_at: %+v", got)
	}
}

func TestPutPhaseResult_EnforcesPhaseOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()

	p2 := types.PhaseResult{EmailID: "e1", Phase: types.Phase2, Status: types.PhaseStatusOK}
	if err := s.PutPhaseResult(ctx, p2); err == nil {
		t.Fatal("expected error writing phase 2 before phase 1")
	}

	p1 := types.PhaseResult{EmailID: "e1", Phase: types.Phase1, Status: types.PhaseStatusOK}
	if err := s.PutPhaseResult(ctx, p1); err != nil {
		t.Fatalf("PutPhaseResult phase1: %v", err)
	}
	if err := s.PutPhaseResult(ctx, p2); err != nil {
		t.Fatalf("PutPhaseResult phase2 after phase1: %v", err)
	}

	results, err := s.GetPhaseResults(ctx, "e1")
	if err != nil {
		t.Fatalf("GetPhaseResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestPutPhaseResult_IdempotentByEmailAndPhase(t *testing.T) {
	s := New()
	ctx := context.Background()
	p1 := types.PhaseResult{EmailID: "e1", Phase: types.Phase1, Status: types.PhaseStatusOK, DurationMS: 10}

	if err := s.PutPhaseResult(ctx, p1); err != nil {
		t.Fatalf("first write: %v", err)
	}
	p1.DurationMS = 999
	if err := s.PutPhaseResult(ctx, p1); err != nil {
		t.Fatalf("second write: %v", err)
	}

	results, _ := s.GetPhaseResults(ctx, "e1")
	if len(results) != 1 || results[0].DurationMS != 10 {
		t.Fatalf("expected the first write to stick, got %+v", results)
	}
}

func TestUpsertTask_RejectsStaleVersion(t *testing.T) {
	s := New()
	ctx := context.Background()

	task := types.WorkflowTask{TaskID: "t1", Version: 1}
	created, err := s.UpsertTask(ctx, task)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}

	stale := created
	stale.Version = 1
	if _, err := s.UpsertTask(ctx, stale); err == nil {
		t.Fatal("expected CAS failure on stale version")
	}

	fresh := created
	fresh.Version = 2
	fresh.Status = types.SLAStatusYellow
	updated, err := s.UpsertTask(ctx, fresh)
	if err != nil {
		t.Fatalf("fresh upsert: %v", err)
	}
	if updated.Status != types.SLAStatusYellow {
		t.Fatalf("expected update to apply, got %+v", updated)
	}
}

func TestListOpenTasks_AndUpdateStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.UpsertTask(ctx, types.WorkflowTask{TaskID: "t1", Version: 1, Status: types.SLAStatusGreen}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	open, err := s.ListOpenTasks(ctx)
	if err != nil || len(open) != 1 {
		t.Fatalf("ListOpenTasks: %v, %+v", err, open)
	}

	updated, err := s.UpdateTaskStatus(ctx, "t1", types.SLAStatusRed)
	if err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	if updated.Status != types.SLAStatusRed || updated.Version != 2 {
		t.Fatalf("expected status red and version bumped, got %+v", updated)
	}
}

func TestAppendEvent_AssignsMonotonicIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.AppendEvent(ctx, types.Event{Type: types.EventTypeTaskCreated}); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := s.AppendEvent(ctx, types.Event{Type: types.EventTypeTaskCreated}); err != nil {
		t.Fatalf("append 2: %v", err)
	}

	events, err := s.ListEventsAfter(ctx, types.EventTypeTaskCreated, 0)
	if err != nil {
		t.Fatalf("ListEventsAfter: %v", err)
	}
	if len(events) != 2 || events[0].EventID != 1 || events[1].EventID != 2 {
		t.Fatalf("expected monotonic event IDs 1,2 got %+v", events)
	}

	after1, err := s.ListEventsAfter(ctx, types.EventTypeTaskCreated, 1)
	if err != nil || len(after1) != 1 || after1[0].EventID != 2 {
		t.Fatalf("expected only event 2 after cursor 1, got %+v, err=%v", after1, err)
	}
}

func TestGetChainsByCompletenessRange(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.UpsertChain(ctx, types.Chain{ChainID: "c1", Completeness: 20})
	_ = s.UpsertChain(ctx, types.Chain{ChainID: "c2", Completeness: 80})
	_ = s.UpsertChain(ctx, types.Chain{ChainID: "c3", Completeness: 55})

	got, err := s.GetChainsByCompletenessRange(ctx, 40, 100)
	if err != nil {
		t.Fatalf("GetChainsByCompletenessRange: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chains in [40,100], got %d", len(got))
	}
}

func TestGetPipelineStats_AggregatesPhaseMix(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.PutEmail(ctx, types.Email{ID: "e1", MessageID: "m1"})
	_ = s.PutEmail(ctx, types.Email{ID: "e2", MessageID: "m2"})

	_ = s.PutPhaseResult(ctx, types.PhaseResult{EmailID: "e1", Phase: types.Phase1, Status: types.PhaseStatusOK})
	_ = s.PutPhaseResult(ctx, types.PhaseResult{EmailID: "e2", Phase: types.Phase1, Status: types.PhaseStatusOK})
	_ = s.PutPhaseResult(ctx, types.PhaseResult{EmailID: "e2", Phase: types.Phase2, Status: types.PhaseStatusOK})

	stats, err := s.GetPipelineStats(ctx)
	if err != nil {
		t.Fatalf("GetPipelineStats: %v", err)
	}
	if stats.TotalEmails != 2 {
		t.Fatalf("expected 2 emails, got %d", stats.TotalEmails)
	}
	if stats.PhaseMix["p1_only"] != 1 || stats.PhaseMix["p1_p2"] != 1 {
		t.Fatalf("unexpected phase mix: %+v", stats.PhaseMix)
	}
}

func TestWithTransaction_AppliesAllWritesAtomically(t *testing.T) {
	s := New()
	ctx := context.Background()

	pr := types.PhaseResult{EmailID: "e1", Phase: types.Phase1, Status: types.PhaseStatusOK}
	task := types.WorkflowTask{TaskID: "t1", EmailID: "e1", Version: 1}
	ev := types.Event{Type: types.EventTypeTaskCreated}

	group := storage.TxGroup{PhaseResult: &pr, Task: &task, Event: &ev}
	if err := s.WithTransaction(ctx, group); err != nil {
		t.Fatalf("WithTransaction: %v", err)
	}

	results, _ := s.GetPhaseResults(ctx, "e1")
	if len(results) != 1 {
		t.Fatalf("expected phase result to land, got %+v", results)
	}
	if _, err := s.GetTask(ctx, "t1"); err != nil {
		t.Fatalf("expected task to land: %v", err)
	}
	events, _ := s.ListEventsAfter(ctx, types.EventTypeTaskCreated, 0)
	if len(events) != 1 {
		t.Fatalf("expected event to land, got %+v", events)
	}
}

func TestListTasksBySlaDeadlineBefore(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	_, _ = s.UpsertTask(ctx, types.WorkflowTask{TaskID: "t1", Version: 1, SLADeadline: now.Add(-time.Hour)})
	_, _ = s.UpsertTask(ctx, types.WorkflowTask{TaskID: "t2", Version: 1, SLADeadline: now.Add(time.Hour)})

	overdue, err := s.ListTasksBySlaDeadlineBefore(ctx, now)
	if err != nil {
		t.Fatalf("ListTasksBySlaDeadlineBefore: %v", err)
	}
	if len(overdue) != 1 || overdue[0].TaskID != "t1" {
		t.Fatalf("expected only t1 overdue, got %+v", overdue)
	}
}
