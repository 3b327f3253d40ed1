package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opsmail/emailpipeline/pkg/shared/logging"
	"github.com/opsmail/emailpipeline/pkg/types"
)

// EventSource is the narrow Event Bus read contract the Subscriber needs,
// kept separate from the full eventbus.Bus type so it can be tested with a
// stub (spec.md §4.10's Subscribe/Ack contract).
type EventSource interface {
	Subscribe(ctx context.Context, topic types.EventType, subscriber string) ([]types.Event, error)
	Ack(ctx context.Context, subscriber string, eventID uint64) error
}

const subscriberName = "notification"

var watchedTopics = []types.EventType{types.EventTypeSLAWarning, types.EventTypeSLAOverdue}

// Subscriber polls the Event Bus for sla.warning/sla.overdue events and
// fans each one out to every configured Service. A delivery failure from
// one service never blocks another, and the bus cursor only advances past
// events every service has accepted (or permanently failed to, in which
// case it is logged and skipped rather than retried forever).
type Subscriber struct {
	bus      EventSource
	services []Service
	interval time.Duration
	logger   *logrus.Logger
}

// NewSubscriber builds a Subscriber polling bus every interval (defaults
// to 30s) and delivering to every service in order.
func NewSubscriber(bus EventSource, services []Service, interval time.Duration, logger *logrus.Logger) *Subscriber {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	}
	return &Subscriber{bus: bus, services: services, interval: interval, logger: logger}
}

// Run polls on every tick until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, topic := range watchedTopics {
				s.poll(ctx, topic)
			}
		}
	}
}

func (s *Subscriber) poll(ctx context.Context, topic types.EventType) {
	events, err := s.bus.Subscribe(ctx, topic, subscriberName)
	if err != nil {
		s.logger.WithFields(logging.NewFields().Component("notification").Operation("subscribe").Error(err).ToLogrus()).
			Warn("failed to poll event bus")
		return
	}

	var lastAcked uint64
	for _, ev := range events {
		n := notificationFor(ev)
		retryLater := false
		for _, svc := range s.services {
			if err := svc.Deliver(ctx, n); err != nil {
				var retryable *RetryableError
				msg := "notification delivery failed permanently, skipping"
				if errors.As(err, &retryable) {
					retryLater = true
					msg = "notification delivery failed, will retry next poll"
				}
				s.logger.WithFields(logging.NewFields().Component("notification").Operation("deliver").
					Custom("task_id", n.TaskID).Error(err).ToLogrus()).
					Warn(msg)
			}
		}
		if retryLater {
			break // leave cursor behind this event so it's retried next poll
		}
		lastAcked = ev.EventID
	}

	if lastAcked > 0 {
		if err := s.bus.Ack(ctx, subscriberName, lastAcked); err != nil {
			s.logger.WithFields(logging.NewFields().Component("notification").Operation("ack").Error(err).ToLogrus()).
				Warn("failed to persist subscriber cursor")
		}
	}
}

func notificationFor(ev types.Event) Notification {
	subject := "SLA at risk"
	if ev.Type == types.EventTypeSLAOverdue {
		subject = "SLA breached"
	}
	return Notification{
		TaskID:  ev.CorrelationID,
		Subject: subject,
		Body:    fmt.Sprintf("task %s transitioned to %s at %s", ev.CorrelationID, ev.Type, ev.Timestamp.Format(time.RFC3339)),
	}
}
