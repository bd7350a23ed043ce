// Package restore lands thawed results back in warm storage.
//
// Retrieval-completion events are keyed by the vault's own job id; the
// correlation row written at initiation time maps it back to the
// application job. The free-text job description is never parsed.
package restore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/annexlab/annex/pkg/events"
	"github.com/annexlab/annex/pkg/jobstore"
	"github.com/annexlab/annex/pkg/queue"
)

// JobStore is the job-table surface the restorer uses.
type JobStore interface {
	Get(ctx context.Context, jobID string) (*jobstore.Record, error)
	MarkRestored(ctx context.Context, jobID string) error
}

// Retrievals resolves and retires correlation rows.
type Retrievals interface {
	Get(ctx context.Context, retrievalJobID string) (*jobstore.Retrieval, error)
	Delete(ctx context.Context, retrievalJobID string) error
}

// ObjectStore is the warm-storage surface the restorer uses.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body []byte) error
}

// Vault reads retrieval output and deletes cold copies.
type Vault interface {
	RetrievalOutput(ctx context.Context, retrievalJobID string) ([]byte, error)
	DeleteArchive(ctx context.Context, archiveHandle string) error
}

// Manager is the restore manager.
type Manager struct {
	store      JobStore
	retrievals Retrievals
	objects    ObjectStore
	vault      Vault
	logger     *zap.Logger
}

// New creates a restore manager.
func New(store JobStore, retrievals Retrievals, objects ObjectStore, vault Vault, logger *zap.Logger) *Manager {
	return &Manager{store: store, retrievals: retrievals, objects: objects, vault: vault, logger: logger}
}

// HandleMessage processes one retrieval-completion notification from the
// vault's topic, delivered through the retrievals queue.
func (m *Manager) HandleMessage(ctx context.Context, msg queue.Message) error {
	var event events.RetrievalComplete
	if err := events.Decode(msg.Body, &event); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrDrop, err)
	}
	return m.HandleRetrieval(ctx, event)
}

// HandleRetrieval converges one finished retrieval: restored bytes go back
// to the job's original result location, the cold copy is deleted, and the
// record settles at RESTORED with the handle cleared.
func (m *Manager) HandleRetrieval(ctx context.Context, event events.RetrievalComplete) error {
	if event.RetrievalJobID == "" {
		return fmt.Errorf("%w: retrieval event missing JobId", queue.ErrDrop)
	}

	if event.StatusCode != events.StatusSucceeded {
		// Needs an operator: the job stays RESTORING until someone
		// intervenes or re-triggers the thaw.
		m.logger.Error("retrieval did not succeed, job left restoring",
			zap.String("retrieval_job_id", event.RetrievalJobID),
			zap.String("status_code", event.StatusCode))
		return nil
	}

	corr, err := m.retrievals.Get(ctx, event.RetrievalJobID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			return fmt.Errorf("%w: no correlation for retrieval %s", queue.ErrDrop, event.RetrievalJobID)
		}
		return err
	}

	rec, err := m.store.Get(ctx, corr.JobID)
	if err != nil {
		return err
	}
	if !rec.Archived() {
		// Already restored by a duplicate delivery.
		m.logger.Info("duplicate restore suppressed", zap.String("job_id", corr.JobID))
		return nil
	}

	body, err := m.vault.RetrievalOutput(ctx, event.RetrievalJobID)
	if err != nil {
		return fmt.Errorf("read retrieval output for job %s: %w", corr.JobID, err)
	}

	// Restoration rewrites the original result location; the record's
	// result_bucket/result_key never change.
	if err := m.objects.Put(ctx, rec.ResultBucket, rec.ResultKey, body); err != nil {
		return fmt.Errorf("restore result for job %s: %w", corr.JobID, err)
	}

	if err := m.vault.DeleteArchive(ctx, corr.ArchiveHandle); err != nil {
		// The live copy exists; a leftover cold copy costs storage only.
		m.logger.Warn("failed to delete cold copy after restore",
			zap.String("job_id", corr.JobID), zap.Error(err))
	}

	if err := m.store.MarkRestored(ctx, corr.JobID); err != nil {
		return err
	}
	if err := m.retrievals.Delete(ctx, event.RetrievalJobID); err != nil {
		m.logger.Warn("failed to delete correlation row",
			zap.String("retrieval_job_id", event.RetrievalJobID), zap.Error(err))
	}

	m.logger.Info("job restored",
		zap.String("job_id", corr.JobID),
		zap.String("result_key", rec.ResultKey))
	return nil
}
