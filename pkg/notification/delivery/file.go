// Package delivery holds concrete notification.Service implementations.
package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/opsmail/emailpipeline/pkg/notification"
)

// FileDeliveryService writes each notification to its own file under dir,
// useful for local development and as an always-available fallback channel
// when Slack is unreachable. Grounded on the teacher's
// pkg/notification/delivery.FileDeliveryService (file_test.go, NT-BUG-006):
// directory-creation and write failures are both wrapped as
// notification.RetryableError rather than surfaced as permanent failures.
type FileDeliveryService struct {
	dir string
}

// NewFileDeliveryService builds a FileDeliveryService writing into dir,
// creating it on first Deliver if it does not yet exist.
func NewFileDeliveryService(dir string) *FileDeliveryService {
	return &FileDeliveryService{dir: dir}
}

var _ notification.Service = (*FileDeliveryService)(nil)

// Deliver writes n to a new timestamped file in the service's directory.
// It writes to a temp file and renames it into place so a reader never
// observes a partially-written notification.
func (s *FileDeliveryService) Deliver(ctx context.Context, n notification.Notification) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &notification.RetryableError{Op: "failed to create output directory", Err: err}
	}

	final := filepath.Join(s.dir, fmt.Sprintf("%s-%s.txt", time.Now().UTC().Format("20060102T150405.000000000Z"), n.TaskID))
	tmp := final + ".tmp"

	content := fmt.Sprintf("task_id: %s\nsubject: %s\n\n%s\n", n.TaskID, n.Subject, n.Body)
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return &notification.RetryableError{Op: "failed to write temporary file", Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		return &notification.RetryableError{Op: "failed to write temporary file", Err: err}
	}
	return nil
}
