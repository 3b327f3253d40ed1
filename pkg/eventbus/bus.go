// Package eventbus implements the Event Bus (component C10): an
// in-memory, per-correlation-FIFO publisher with at-least-once delivery
// and Redis-persisted subscriber cursors, per spec.md §4.10.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opsmail/emailpipeline/pkg/shared/errors"
	"github.com/opsmail/emailpipeline/pkg/shared/logging"
	"github.com/opsmail/emailpipeline/pkg/types"
)

// CursorStore persists a subscriber's last-acked event_id so a
// restarted subscriber can resume a stream exactly where it left off,
// per spec.md §4.10 "rebroadcast after reconnect resumes from cursor."
type CursorStore interface {
	GetCursor(ctx context.Context, subscriber string) (uint64, error)
	SetCursor(ctx context.Context, subscriber string, eventID uint64) error
}

// Bus is the in-memory Event Bus. Every published event is retained in an
// append-only log; subscribers replay from their own cursor, so a slow or
// disconnected subscriber never causes another subscriber to miss events.
type Bus struct {
	mu       sync.RWMutex
	log      []types.Event
	nextID   uint64
	cursors  CursorStore
	logger   *logrus.Logger
}

// NewBus builds a Bus backed by cursors for subscriber resume state.
// cursors may be nil, in which case subscribers always start from cursor 0
// (suitable for tests and single-process deployments without Redis).
func NewBus(cursors CursorStore, logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	}
	return &Bus{cursors: cursors, logger: logger}
}

// Publish appends a new event to the log under the given topic and
// correlation ID, stamping a monotonically increasing event_id so
// subscribers observe non-decreasing IDs within a correlation.
func (b *Bus) Publish(ctx context.Context, eventType types.EventType, correlationID string, payload interface{}) error {
	id := atomic.AddUint64(&b.nextID, 1)
	ev := types.NewEvent(id, eventType, time.Now().UTC(), correlationID, payload)

	b.mu.Lock()
	b.log = append(b.log, ev)
	b.mu.Unlock()

	b.logger.WithFields(logging.NewFields().Component("eventbus").Operation("publish").
		Custom("event_type", string(eventType)).Custom("correlation_id", correlationID).Custom("event_id", id).ToLogrus()).
		Debug("event published")
	return nil
}

// Subscribe returns every retained event of topic with EventID greater
// than the subscriber's persisted cursor (or 0 if none is recorded),
// oldest first. It does not advance the cursor: callers must call Ack
// once they have durably processed the batch.
func (b *Bus) Subscribe(ctx context.Context, topic types.EventType, subscriber string) ([]types.Event, error) {
	cursor, err := b.cursorFor(ctx, subscriber)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []types.Event
	for _, ev := range b.log {
		if ev.Type != topic {
			continue
		}
		if ev.EventID <= cursor {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Ack advances subscriber's cursor to eventID, so a subsequent Subscribe
// call (including after a process restart, if CursorStore is Redis-backed)
// resumes after it rather than redelivering already-processed events.
func (b *Bus) Ack(ctx context.Context, subscriber string, eventID uint64) error {
	if b.cursors == nil {
		return nil
	}
	if err := b.cursors.SetCursor(ctx, subscriber, eventID); err != nil {
		return errors.FailedToWithDetails("persist subscriber cursor", "eventbus", subscriber, err)
	}
	return nil
}

func (b *Bus) cursorFor(ctx context.Context, subscriber string) (uint64, error) {
	if b.cursors == nil {
		return 0, nil
	}
	cursor, err := b.cursors.GetCursor(ctx, subscriber)
	if err != nil {
		return 0, errors.FailedToWithDetails("read subscriber cursor", "eventbus", subscriber, err)
	}
	return cursor, nil
}

// Len returns the number of events retained in the log, for tests and
// health reporting.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.log)
}
