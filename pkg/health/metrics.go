// Package health implements the Health & Metrics surface (component C11):
// Prometheus counters/gauges/histograms per spec.md §4.11, grounded on the
// teacher's pkg/metrics naming conventions (trailing _total/_seconds, no
// hyphens), plus a chi-based /healthz and /metrics mux grounded on
// pkg/contextapi/server's path-normalization pattern.
package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opsmail/emailpipeline/pkg/types"
)

var (
	// QueueDepth is the current backlog per phase, read by the
	// orchestrator's adaptive-throttling check (spec.md §4.11: "if
	// Phase-2 queue > 90% capacity for > N seconds, Phase-3 enqueue is
	// paused").
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Current number of emails queued for a phase.",
	}, []string{"phase"})

	// ThroughputTotal counts emails completed per phase, for an
	// emails/min rate derived externally via rate().
	ThroughputTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_emails_processed_total",
		Help: "Total emails that finished a given phase.",
	}, []string{"phase"})

	// PhaseLatencySeconds backs p50/p95/p99 latency per phase.
	PhaseLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_phase_latency_seconds",
		Help:    "Per-phase processing latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	// PhaseErrorsTotal backs the error-rate metric.
	PhaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_phase_errors_total",
		Help: "Total phase executions that ended in PhaseStatusFailed.",
	}, []string{"phase"})

	// PhaseMixTotal tracks the share of emails processed at each phase
	// depth (p1_only / p1_p2 / p1_p2_p3).
	PhaseMixTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_phase_mix_total",
		Help: "Total emails finalized at each phase-depth mix.",
	}, []string{"mix"})

	// ChainCompletenessScore is a 10-bucket histogram (0-100 in steps of
	// 10) of conversation-chain completeness scores, per spec.md §4.11.
	ChainCompletenessScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_chain_completeness_score",
		Help:    "Distribution of chain completeness scores (0-100).",
		Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	// SLAStatusGauge is the current count of open tasks per SLA status,
	// backing the SLA distribution metric.
	SLAStatusGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_sla_status_tasks",
		Help: "Current number of open tasks in each SLA status.",
	}, []string{"status"})

	// WorkerRestartsTotal counts orchestrator worker restarts after a
	// panic or fatal error, per spec.md §4.11.
	WorkerRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_worker_restarts_total",
		Help: "Total orchestrator worker goroutine restarts.",
	})
)

// RecordPhaseCompletion updates throughput, latency, and error metrics for
// one phase execution.
func RecordPhaseCompletion(phase types.Phase, status types.PhaseStatus, seconds float64) {
	label := phaseLabel(phase)
	ThroughputTotal.WithLabelValues(label).Inc()
	PhaseLatencySeconds.WithLabelValues(label).Observe(seconds)
	if status == types.PhaseStatusFailed {
		PhaseErrorsTotal.WithLabelValues(label).Inc()
	}
}

// RecordPhaseMix records the final phase-depth mix for one completed email.
func RecordPhaseMix(mix string) {
	PhaseMixTotal.WithLabelValues(mix).Inc()
}

// SetQueueDepth reports the current backlog for a phase.
func SetQueueDepth(phase types.Phase, depth int) {
	QueueDepth.WithLabelValues(phaseLabel(phase)).Set(float64(depth))
}

// RecordChainCompleteness observes one chain's completeness score.
func RecordChainCompleteness(score int) {
	ChainCompletenessScore.Observe(float64(score))
}

// SetSLAStatusCount reports the current count of tasks in an SLA status.
func SetSLAStatusCount(status types.SLAStatus, count int) {
	SLAStatusGauge.WithLabelValues(string(status)).Set(float64(count))
}

// RecordWorkerRestart increments the worker-restart counter.
func RecordWorkerRestart() {
	WorkerRestartsTotal.Inc()
}

func phaseLabel(phase types.Phase) string {
	switch phase {
	case types.Phase1:
		return "phase1"
	case types.Phase2:
		return "phase2"
	case types.Phase3:
		return "phase3"
	default:
		return "unknown"
	}
}
