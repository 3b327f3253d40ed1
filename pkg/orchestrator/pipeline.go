package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/opsmail/emailpipeline/pkg/health"
	pipelineerrors "github.com/opsmail/emailpipeline/pkg/shared/errors"
	"github.com/opsmail/emailpipeline/pkg/shared/logging"
	"github.com/opsmail/emailpipeline/pkg/types"
)

// runPhase1 drains p1Queue until it is closed, running Phase-1 Triage
// (always run, per spec.md §4.2) and handing the result to the chain
// stage. Multiple instances of this worker run concurrently, one per
// CPU core (spec.md §5).
func (o *Orchestrator) runPhase1(ctx context.Context) error {
	for email := range o.p1Queue {
		o.processPhase1(ctx, email)
	}
	return nil
}

func (o *Orchestrator) processPhase1(ctx context.Context, email types.Email) {
	if _, loaded := o.inFlight.LoadOrStore(email.ID, struct{}{}); loaded {
		return // already in flight; checkpoint and live ingest raced
	}

	start := time.Now()
	phase1 := o.triager.Triage(email)
	health.SetQueueDepth(types.Phase1, len(o.p1Queue))

	result := types.PhaseResult{
		EmailID:    email.ID,
		Phase:      types.Phase1,
		Status:     types.PhaseStatusOK,
		DurationMS: time.Since(start).Milliseconds(),
		Payload:    phase1,
		ProducedAt: time.Now().UTC(),
	}
	if err := o.store.PutPhaseResult(ctx, result); err != nil {
		o.fail(ctx, email, "phase1", err)
		return
	}
	health.RecordPhaseCompletion(types.Phase1, types.PhaseStatusOK, time.Since(start).Seconds())

	o.sendOrDrop(ctx, o.chainQueue, item{email: email, phase1: phase1}, "chain")
}

// runChain drains chainQueue until closed, folding each email into its
// conversation's Chain (component C3) and forwarding to the router stage.
func (o *Orchestrator) runChain(ctx context.Context) error {
	for it := range o.chainQueue {
		o.processChain(ctx, it)
	}
	return nil
}

func (o *Orchestrator) processChain(ctx context.Context, it item) {
	ch := o.chains.UpdateChain(it.email, it.phase1)
	health.RecordChainCompleteness(ch.Completeness)
	health.SetQueueDepth(types.Phase1, len(o.chainQueue)) // chain stage shares phase1's depth family in metrics today

	if err := o.store.UpsertChain(ctx, ch); err != nil {
		o.logger.WithFields(logging.WorkflowFields("upsert_chain", ch.ChainID).Error(err).ToLogrus()).
			Warn("failed to persist chain, continuing with in-memory aggregate")
	}

	it.chain = ch
	o.sendOrDrop(ctx, o.routerQueue, it, "router")
}

// runRouter drains routerQueue until closed, deciding which phases run
// next (component C6) and either materializing a terminal task or
// forwarding to the Phase-2 pool.
func (o *Orchestrator) runRouter(ctx context.Context) error {
	for it := range o.routerQueue {
		o.processRouter(ctx, it)
	}
	return nil
}

func (o *Orchestrator) processRouter(ctx context.Context, it item) {
	decision, err := o.router.Decide(ctx, it.phase1, it.chain, o.cfg.RoutingThresholds)
	if err != nil {
		o.fail(ctx, it.email, "router", err)
		return
	}
	it.decision = decision

	if !decision.RunPhase2 {
		// Phase-1 terminal per spec.md §4.4 rule 4 / §4.7 state machine
		// ("TERMINAL is mapped to TASK_MATERIALIZED with routing=phase1-only").
		o.materialize(ctx, it, nil, nil, false)
		return
	}

	o.sendOrDrop(ctx, o.p2Queue, it, "phase2")
}

// runPhase2 holds one semaphore slot per concurrent call, bounding the
// I/O-bound model-inference pool to cfg.Phase2Concurrency regardless of
// how many goroutines are launched (spec.md §4.7/§5).
func (o *Orchestrator) runPhase2(ctx context.Context) error {
	for it := range o.p2Queue {
		if err := o.p2Sem.Acquire(ctx, 1); err != nil {
			return nil // context cancelled during graceful shutdown
		}
		o.processPhase2(ctx, it)
		o.p2Sem.Release(1)
	}
	return nil
}

func (o *Orchestrator) processPhase2(ctx context.Context, it item) {
	callCtx, cancel := context.WithTimeout(detachCancel(ctx), o.cfg.Phase2Timeout)
	defer cancel()

	start := time.Now()
	var phase2 types.Phase2Result
	err := retry.Do(callCtx, o.cfg.Retry.backoff(), func(ctx context.Context) error {
		var callErr error
		phase2, callErr = o.analyst.Analyze(ctx, it.email, it.phase1, it.chain)
		if callErr == nil {
			return nil
		}
		if pipelineerrors.IsRetryable(callErr) {
			return retry.RetryableError(callErr)
		}
		return callErr
	})

	status := types.PhaseStatusOK
	if err != nil {
		status = types.PhaseStatusFailed
	}
	result := types.PhaseResult{
		EmailID:    it.email.ID,
		Phase:      types.Phase2,
		Status:     status,
		DurationMS: time.Since(start).Milliseconds(),
		ModelID:    o.analyst.ModelID(),
		Payload:    phase2,
		ProducedAt: time.Now().UTC(),
	}
	health.RecordPhaseCompletion(types.Phase2, status, time.Since(start).Seconds())
	health.SetQueueDepth(types.Phase2, len(o.p2Queue))

	if err := o.store.PutPhaseResult(ctx, result); err != nil {
		o.fail(ctx, it.email, "phase2", err)
		return
	}

	if status == types.PhaseStatusFailed {
		// spec.md §4.5/§7: failed Phase-2 proceeds with Phase-1 result,
		// task still materializes, flagged degraded.
		o.materialize(ctx, it, nil, nil, true)
		return
	}

	it.phase2 = &phase2
	if it.decision.RunPhase3 && o.strategist != nil && !o.p3Paused.Load() {
		o.sendOrDrop(ctx, o.p3Queue, it, "phase3")
		return
	}
	o.materialize(ctx, it, &phase2, nil, it.decision.RunPhase3 && o.p3Paused.Load())
}

// runPhase3 mirrors runPhase2 but additionally rate-limits admission, per
// spec.md §4.11's adaptive throttle ("pause Phase-3 enqueue, never
// Phase-2") and §4.7's lower default concurrency (resource cost).
func (o *Orchestrator) runPhase3(ctx context.Context) error {
	for it := range o.p3Queue {
		if err := o.p3Limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := o.p3Sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		o.processPhase3(ctx, it)
		o.p3Sem.Release(1)
	}
	return nil
}

func (o *Orchestrator) processPhase3(ctx context.Context, it item) {
	callCtx, cancel := context.WithTimeout(detachCancel(ctx), o.cfg.Phase3Timeout)
	defer cancel()

	start := time.Now()
	var phase3 types.Phase3Result
	err := retry.Do(callCtx, o.cfg.Retry.backoff(), func(ctx context.Context) error {
		var callErr error
		phase3, callErr = o.strategist.Strategize(ctx, it.email, it.phase1, *it.phase2, it.chain)
		if callErr == nil {
			return nil
		}
		if pipelineerrors.IsRetryable(callErr) {
			return retry.RetryableError(callErr)
		}
		return callErr
	})

	status := types.PhaseStatusOK
	degraded := false
	if err != nil {
		status = types.PhaseStatusFailed
		degraded = true
	}
	result := types.PhaseResult{
		EmailID:    it.email.ID,
		Phase:      types.Phase3,
		Status:     status,
		DurationMS: time.Since(start).Milliseconds(),
		ModelID:    o.strategist.ModelID(),
		Payload:    phase3,
		ProducedAt: time.Now().UTC(),
	}
	health.RecordPhaseCompletion(types.Phase3, status, time.Since(start).Seconds())
	health.SetQueueDepth(types.Phase3, len(o.p3Queue))

	if err := o.store.PutPhaseResult(ctx, result); err != nil {
		o.fail(ctx, it.email, "phase3", err)
		return
	}

	if status == types.PhaseStatusOK {
		o.materialize(ctx, it, it.phase2, &phase3, false)
		return
	}
	o.materialize(ctx, it, it.phase2, nil, degraded)
}

// sendOrDrop forwards it to dst, honoring the configured send timeout so a
// saturated downstream queue backpressures the caller instead of being
// silently dropped (spec.md §4.7/§8). On timeout the email is routed to
// materialize as a degraded task rather than lost; the task keeps
// it.phase2 when Phase-2 already succeeded, else it carries Phase-1 data
// only. On ctx cancellation the item is dropped without a task.
func (o *Orchestrator) sendOrDrop(ctx context.Context, dst chan item, it item, stageName string) {
	timer := time.NewTimer(o.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case dst <- it:
	case <-ctx.Done():
	case <-timer.C:
		o.logger.WithFields(logging.WorkflowFields("enqueue_"+stageName, it.email.ID).ToLogrus()).
			Warn("downstream queue saturated beyond send timeout, degrading to best-available result")
		// it.phase2 may already hold a successfully computed, durably
		// persisted result (e.g. the phase3 queue saturated after Phase-2
		// succeeded); carry it through so materialize uses the best
		// available data per spec.md §7 rather than discarding it.
		o.materialize(ctx, it, it.phase2, nil, true)
	}
}

func (o *Orchestrator) fail(ctx context.Context, email types.Email, stage string, err error) {
	o.inFlight.Delete(email.ID)
	o.logger.WithFields(logging.WorkflowFields("pipeline_"+stage, email.ID).Error(err).ToLogrus()).
		Error("pipeline stage failed, email routed to failed queue")
}

// detachCancel strips ctx's cancellation (but keeps its values) so a
// shutdown signal does not abort an in-flight Phase-2/3 call before its
// own hard timeout elapses, per spec.md §5's graceful-shutdown contract.
func detachCancel(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// TaskIDFor derives the deterministic WorkflowTask ID for an email,
// making UpsertTask idempotent across orchestrator restarts and
// checkpoint replays (spec.md §8 "at-least-once + idempotent").
func TaskIDFor(emailID string) string {
	return fmt.Sprintf("task-%s", emailID)
}
