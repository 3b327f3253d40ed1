package orchestrator

import (
	"context"
	"errors"

	"github.com/opsmail/emailpipeline/pkg/shared/logging"
	"github.com/opsmail/emailpipeline/pkg/storage"
)

// Recover implements spec.md §4.7's restart contract: scan every persisted
// email and re-ingest any that never reached TASK_MATERIALIZED. Call this
// once, before Run, on process startup. Phase-1 is pure and every store
// write downstream is idempotent or CAS-protected, so replaying an email
// from the top is always safe, even if it was partway through Phase-2/3
// when the process died (spec.md §8: at-least-once, idempotent).
func (o *Orchestrator) Recover(ctx context.Context) error {
	emails, err := o.store.ListEmails(ctx)
	if err != nil {
		return err
	}

	fields := logging.NewFields().Component("orchestrator").Operation("recover")
	o.logger.WithFields(fields.Custom("email_count", len(emails)).ToLogrus()).Info("scanning for incomplete tasks")

	resumed := 0
	for _, email := range emails {
		_, err := o.store.GetTask(ctx, TaskIDFor(email.ID))
		if err == nil {
			continue // already materialized, nothing to do
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if err := o.Ingest(ctx, email); err != nil {
			o.logger.WithFields(fields.Custom("email_id", email.ID).Error(err).ToLogrus()).
				Warn("failed to re-enqueue email during recovery")
			continue
		}
		resumed++
	}

	o.logger.WithFields(fields.Custom("resumed_count", resumed).ToLogrus()).Info("recovery scan complete")
	return nil
}
