// Package archive relocates free-tier results to the cold vault after
// completion.
//
// Ordering is archive-then-delete, never the reverse: the live copy is only
// removed once the vault has confirmed the submission, so a completed
// result is always reachable in at least one tier.
package archive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/annexlab/annex/pkg/events"
	"github.com/annexlab/annex/pkg/jobstore"
)

// JobStore is the job-table surface the archiver uses.
type JobStore interface {
	Get(ctx context.Context, jobID string) (*jobstore.Record, error)
	MarkArchived(ctx context.Context, jobID, archiveHandle string) error
}

// ObjectStore is the warm-storage surface the archiver uses.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
}

// Vault accepts archive submissions.
type Vault interface {
	Submit(ctx context.Context, body []byte) (string, error)
}

// Manager is the archive manager.
type Manager struct {
	store   JobStore
	objects ObjectStore
	vault   Vault
	logger  *zap.Logger
}

// New creates an archive manager.
func New(store JobStore, objects ObjectStore, vault Vault, logger *zap.Logger) *Manager {
	return &Manager{store: store, objects: objects, vault: vault, logger: logger}
}

// HandleCompletion reacts to one job-completion event. Premium jobs are
// left untouched; the eligibility decision reads the tier snapshot carried
// on the event, so a user upgrading after submission does not exempt an
// already-completed free job.
func (m *Manager) HandleCompletion(ctx context.Context, event events.JobComplete) error {
	if event.JobID == "" {
		return fmt.Errorf("completion event missing job_id")
	}
	if jobstore.Tier(event.UserTier) != jobstore.TierFree {
		m.logger.Debug("premium job, no archival",
			zap.String("job_id", event.JobID))
		return nil
	}

	rec, err := m.store.Get(ctx, event.JobID)
	if err != nil {
		return err
	}

	// Already archived: a redelivered completion event is a no-op.
	if rec.Archived() || rec.Status == jobstore.StatusArchived {
		m.logger.Info("duplicate archival suppressed",
			zap.String("job_id", event.JobID))
		return nil
	}
	if rec.Status != jobstore.StatusCompleted {
		return fmt.Errorf("job %s not archivable in status %s", event.JobID, rec.Status)
	}

	body, err := m.objects.Get(ctx, rec.ResultBucket, rec.ResultKey)
	if err != nil {
		return fmt.Errorf("read result for job %s: %w", event.JobID, err)
	}

	handle, err := m.vault.Submit(ctx, body)
	if err != nil {
		// The live copy is untouched; the job stays plain COMPLETED and
		// the event can be retried.
		return fmt.Errorf("archive job %s: %w", event.JobID, err)
	}

	if err := m.store.MarkArchived(ctx, event.JobID, handle); err != nil {
		if jobstore.IsConditionFailed(err) {
			// A concurrent archiver won; its handle stands. Ours is now an
			// orphan in the vault, which is the safe side of the race.
			m.logger.Warn("concurrent archival detected, keeping first handle",
				zap.String("job_id", event.JobID))
			return nil
		}
		return err
	}

	if err := m.objects.Delete(ctx, rec.ResultBucket, rec.ResultKey); err != nil {
		// The handle is recorded and the cold copy is durable; a stale
		// live copy costs storage, not correctness.
		m.logger.Warn("failed to delete live copy after archival",
			zap.String("job_id", event.JobID), zap.Error(err))
	}

	m.logger.Info("job archived",
		zap.String("job_id", event.JobID),
		zap.String("user_id", event.UserID))
	return nil
}
