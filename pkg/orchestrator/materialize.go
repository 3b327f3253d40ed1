package orchestrator

import (
	"context"

	"github.com/opsmail/emailpipeline/pkg/health"
	"github.com/opsmail/emailpipeline/pkg/sla"
	"github.com/opsmail/emailpipeline/pkg/storage"
	"github.com/opsmail/emailpipeline/pkg/types"
)

// materialize builds and durably persists the WorkflowTask for one email,
// per spec.md §4.7's state machine terminal states (TASK_MATERIALIZED,
// FAILED). It is called exactly once per email, at whichever stage the
// email's processing terminates: router terminal, Phase-2 failure,
// post-Phase-2 (no Phase-3 routed), or post-Phase-3.
func (o *Orchestrator) materialize(ctx context.Context, it item, phase2 *types.Phase2Result, phase3 *types.Phase3Result, degraded bool) {
	defer o.inFlight.Delete(it.email.ID)

	priority := it.decision.Priority
	if priority == "" {
		priority = types.PriorityLow
	}
	workflowType := it.phase1.WorkflowHint
	var actionItems []types.ActionItem
	var strategicNotes string
	var revenueAtRisk int64

	if phase2 != nil {
		workflowType = phase2.WorkflowType
		priority = phase2.Priority
		actionItems = phase2.ActionItems
	}
	if phase3 != nil {
		strategicNotes = phase3.ExecutiveSummary
		revenueAtRisk = phase3.RevenueImpact.PotentialMinor
	}

	now := o.clock().Now()
	task := types.WorkflowTask{
		TaskID:             TaskIDFor(it.email.ID),
		EmailID:            it.email.ID,
		ChainID:            it.chain.ChainID,
		WorkflowType:       workflowType,
		Priority:           priority,
		ReceivedAt:         it.email.ReceivedAt,
		SLADeadline:        sla.Deadline(priority, it.email.ReceivedAt, o.cfg.SLAPolicy),
		ActionItems:        actionItems,
		RoutedPhase2:       it.decision.RunPhase2,
		RoutedPhase3:       phase3 != nil,
		Degraded:           degraded,
		StrategicNotes:     strategicNotes,
		RevenueAtRiskMinor: revenueAtRisk,
	}
	task.Status = sla.Status(priority, task.ReceivedAt, now, o.cfg.SLAPolicy)

	isNew := true
	if existing, err := o.store.GetTask(ctx, task.TaskID); err == nil {
		task.Version = existing.Version + 1
		isNew = false
	}

	var event *types.Event
	eventType := types.EventTypeTaskUpdated
	if isNew {
		eventType = types.EventTypeTaskCreated
	}
	ev := types.NewEvent(0, eventType, now, task.TaskID, taskEventPayload(task))
	event = &ev

	group := storage.TxGroup{Task: &task, Event: event}
	if err := o.store.WithTransaction(ctx, group); err != nil {
		o.logger.Error(err)
		return
	}

	if o.bus != nil {
		if err := o.bus.Publish(ctx, eventType, task.TaskID, taskEventPayload(task)); err != nil {
			o.logger.Error(err)
		}
	}

	health.RecordPhaseMix(phaseMix(task.RoutedPhase2, task.RoutedPhase3))
}

func phaseMix(routedPhase2, routedPhase3 bool) string {
	switch {
	case routedPhase3:
		return "p1_p2_p3"
	case routedPhase2:
		return "p1_p2"
	default:
		return "p1_only"
	}
}

func taskEventPayload(task types.WorkflowTask) map[string]interface{} {
	return map[string]interface{}{
		"task_id":       task.TaskID,
		"email_id":      task.EmailID,
		"chain_id":      task.ChainID,
		"workflow_type": task.WorkflowType,
		"priority":      task.Priority,
		"status":        task.Status,
		"version":       task.Version,
		"degraded":      task.Degraded,
	}
}
