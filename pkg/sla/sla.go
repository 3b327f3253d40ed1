// Package sla implements the Priority/SLA Tracker (component C9): a pure
// status function of (priority, received_at, now, policy) plus a
// timer-driven scanner that emits transition events only when a task's
// status actually changes, per spec.md §4.9.
package sla

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opsmail/emailpipeline/pkg/shared/clock"
	"github.com/opsmail/emailpipeline/pkg/shared/logging"
	"github.com/opsmail/emailpipeline/pkg/types"
)

// Status computes the traffic-light SLA state for a task, per spec.md
// §4.9: sla_deadline = received_at + policy_hours(priority); red if
// elapsed >= policy_hours; yellow if elapsed >= at_risk_fraction *
// policy_hours; green otherwise. Pure function of its four inputs.
func Status(priority types.Priority, receivedAt, now time.Time, policy types.SLAPolicy) types.SLAStatus {
	hours := policy.PolicyHours[priority]
	if hours <= 0 {
		return types.SLAStatusGreen
	}
	total := time.Duration(hours) * time.Hour
	elapsed := now.Sub(receivedAt)

	switch {
	case elapsed >= total:
		return types.SLAStatusRed
	case elapsed >= time.Duration(float64(total)*policy.AtRiskFraction):
		return types.SLAStatusYellow
	default:
		return types.SLAStatusGreen
	}
}

// Deadline computes the absolute SLA deadline for a task's priority.
func Deadline(priority types.Priority, receivedAt time.Time, policy types.SLAPolicy) time.Time {
	hours := policy.PolicyHours[priority]
	return receivedAt.Add(time.Duration(hours) * time.Hour)
}

// TaskSource is the narrow read/write contract the Tracker needs from
// persistence: list open tasks and persist a status-only update. Kept
// separate from the full pkg/storage.Store so the tracker can be tested
// without a complete store double.
type TaskSource interface {
	ListOpenTasks(ctx context.Context) ([]types.WorkflowTask, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status types.SLAStatus) (types.WorkflowTask, error)
}

// EventPublisher is the narrow write contract the Tracker needs from the
// Event Bus: append a status-transition event.
type EventPublisher interface {
	Publish(ctx context.Context, eventType types.EventType, correlationID string, payload interface{}) error
}

// Tracker scans open tasks on a timer and emits sla.warning/sla.overdue
// events exactly once per transition, never repeating an unchanged status.
type Tracker struct {
	store    TaskSource
	bus      EventPublisher
	policy   types.SLAPolicy
	clock    clock.Clock
	interval time.Duration
	logger   *logrus.Logger

	lastStatus map[string]types.SLAStatus
}

// NewTracker builds a Tracker. interval defaults to 5 minutes (spec.md
// §4.9) if zero. logger may be nil.
func NewTracker(store TaskSource, bus EventPublisher, policy types.SLAPolicy, clk clock.Clock, interval time.Duration, logger *logrus.Logger) *Tracker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	}
	return &Tracker{
		store:      store,
		bus:        bus,
		policy:     policy,
		clock:      clk,
		interval:   interval,
		logger:     logger,
		lastStatus: make(map[string]types.SLAStatus),
	}
}

// Run scans on every tick until ctx is cancelled. Intended to be launched
// as a goroutine by the orchestrator/runtime composition root.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.clock.After(t.interval):
			if err := t.ScanOnce(ctx); err != nil {
				t.logger.WithFields(logging.NewFields().Component("sla").Operation("scan").Error(err).ToLogrus()).
					Warn("sla scan failed")
			}
		}
	}
}

// ScanOnce performs a single pass over open tasks, updating persisted
// status and emitting a transition event for every task whose status
// changed since the last scan.
func (t *Tracker) ScanOnce(ctx context.Context) error {
	tasks, err := t.store.ListOpenTasks(ctx)
	if err != nil {
		return err
	}

	now := t.clock.Now()
	for _, task := range tasks {
		newStatus := Status(task.Priority, task.ReceivedAt, now, t.policy)
		prev, seen := t.lastStatus[task.TaskID]
		if seen && prev == newStatus {
			continue
		}
		t.lastStatus[task.TaskID] = newStatus

		if _, err := t.store.UpdateTaskStatus(ctx, task.TaskID, newStatus); err != nil {
			t.logger.WithFields(logging.WorkflowFields("update_sla_status", task.TaskID).Error(err).ToLogrus()).
				Warn("failed to persist SLA status transition")
			continue
		}

		eventType := transitionEventType(newStatus)
		if eventType == "" {
			continue
		}
		payload := map[string]interface{}{
			"task_id":  task.TaskID,
			"priority": task.Priority,
			"status":   newStatus,
		}
		if err := t.bus.Publish(ctx, eventType, task.TaskID, payload); err != nil {
			t.logger.WithFields(logging.WorkflowFields("publish_sla_event", task.TaskID).Error(err).ToLogrus()).
				Warn("failed to publish SLA transition event")
		}
	}
	return nil
}

// transitionEventType maps a new status to its bus topic. Green
// transitions (e.g. a deadline extension) are tracked internally but not
// published as a distinct topic, matching spec.md §4.10's topic list
// (sla.warning, sla.overdue; no sla.ontrack topic exists).
func transitionEventType(status types.SLAStatus) types.EventType {
	switch status {
	case types.SLAStatusYellow:
		return types.EventTypeSLAWarning
	case types.SLAStatusRed:
		return types.EventTypeSLAOverdue
	default:
		return ""
	}
}
