package orchestrator

import (
	"context"
	"time"

	"github.com/opsmail/emailpipeline/pkg/shared/logging"
)

// p2HighWaterFrac and p2SustainWindow implement spec.md §4.11's adaptive
// throttle: "if the Phase-2 queue stays above 90% capacity for more than 10
// seconds, pause Phase-3 enqueue until it drains back below 70%." Phase-2
// itself is never paused, only Phase-3 admission.
const (
	p2HighWaterFrac = 0.90
	p2LowWaterFrac  = 0.70
	p2SustainWindow = 10 * time.Second
	throttlePoll    = 500 * time.Millisecond
)

// runThrottleMonitor samples the Phase-2 queue occupancy and toggles
// p3Paused accordingly. It exits when ctx is cancelled.
func (o *Orchestrator) runThrottleMonitor(ctx context.Context) error {
	ticker := time.NewTicker(throttlePoll)
	defer ticker.Stop()

	capacity := float64(cap(o.p2Queue))
	var aboveSince time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			occupancy := float64(len(o.p2Queue)) / capacity
			switch {
			case occupancy >= p2HighWaterFrac:
				if aboveSince.IsZero() {
					aboveSince = time.Now()
				}
				if !o.p3Paused.Load() && time.Since(aboveSince) >= p2SustainWindow {
					o.p3Paused.Store(true)
					o.logger.WithFields(logging.NewFields().Component("orchestrator").
						Operation("adaptive_throttle").Custom("occupancy", occupancy).ToLogrus()).
						Warn("phase-2 queue sustained above high-water mark, pausing phase-3 admission")
				}
			case occupancy <= p2LowWaterFrac:
				aboveSince = time.Time{}
				if o.p3Paused.Load() {
					o.p3Paused.Store(false)
					o.logger.WithFields(logging.NewFields().Component("orchestrator").
						Operation("adaptive_throttle").Custom("occupancy", occupancy).ToLogrus()).
						Info("phase-2 queue drained below low-water mark, resuming phase-3 admission")
				}
			default:
				// between the two marks: hold whatever state we're in
			}
		}
	}
}
