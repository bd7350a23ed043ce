// Package thaw initiates bulk restoration of a user's archived results when
// their tier upgrades.
//
// Retrieval is asynchronous: this manager only initiates vault jobs and
// records the correlation state the restorer needs later. Each job gets the
// expedited tier first and falls back exactly once to the standard tier if
// the vault refuses on capacity.
package thaw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/annexlab/annex/pkg/coldvault"
	"github.com/annexlab/annex/pkg/jobstore"
)

// JobStore is the job-table surface the thaw manager uses.
type JobStore interface {
	ListArchivedByUser(ctx context.Context, userID string) ([]jobstore.Record, error)
	MarkRestoring(ctx context.Context, jobID string) error
}

// Retrievals persists retrieval-job correlation rows.
type Retrievals interface {
	Put(ctx context.Context, r *jobstore.Retrieval) error
}

// Vault initiates archive retrievals.
type Vault interface {
	InitiateRetrieval(ctx context.Context, archiveHandle string, tier coldvault.RetrievalTier, description string) (string, error)
}

// Manager is the thaw manager.
type Manager struct {
	store      JobStore
	retrievals Retrievals
	vault      Vault
	logger     *zap.Logger

	now func() time.Time
}

// New creates a thaw manager.
func New(store JobStore, retrievals Retrievals, vault Vault, logger *zap.Logger) *Manager {
	return &Manager{store: store, retrievals: retrievals, vault: vault, logger: logger, now: time.Now}
}

// HandleUpgrade initiates retrieval for every archived job owned by userID.
// Per-job failures are logged and do not stop the remaining jobs; a job
// whose retrieval cannot be initiated stays archived and is picked up by
// the next upgrade event.
func (m *Manager) HandleUpgrade(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("upgrade event missing user_id")
	}

	records, err := m.store.ListArchivedByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list archived jobs for user %s: %w", userID, err)
	}
	if len(records) == 0 {
		m.logger.Info("no archived jobs to thaw", zap.String("user_id", userID))
		return nil
	}

	var initiated int
	for i := range records {
		rec := &records[i]
		if rec.Status == jobstore.StatusRestoring {
			// Retrieval already in flight from a previous upgrade event.
			continue
		}
		if err := m.thawJob(ctx, rec); err != nil {
			m.logger.Error("retrieval not initiated",
				zap.String("job_id", rec.JobID),
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}
		initiated++
	}

	m.logger.Info("thaw pass finished",
		zap.String("user_id", userID),
		zap.Int("archived", len(records)),
		zap.Int("initiated", initiated))
	return nil
}

// thawJob initiates retrieval for one archived job, expedited first with a
// single standard-tier fallback on capacity refusal.
func (m *Manager) thawJob(ctx context.Context, rec *jobstore.Record) error {
	desc := fmt.Sprintf("restore job %s for user %s", rec.JobID, rec.UserID)

	tier := coldvault.TierExpedited
	retrievalID, err := m.vault.InitiateRetrieval(ctx, rec.ArchiveHandle, tier, desc)
	if err != nil {
		if !errors.Is(err, coldvault.ErrInsufficientCapacity) {
			return err
		}
		m.logger.Warn("expedited tier unavailable, falling back to standard",
			zap.String("job_id", rec.JobID))
		tier = coldvault.TierStandard
		retrievalID, err = m.vault.InitiateRetrieval(ctx, rec.ArchiveHandle, tier, desc)
		if err != nil {
			// Both tiers refused: the job stays archived, untouched.
			return err
		}
	}

	// Persist the correlation before flipping status: the completion event
	// is keyed by the vault's job id and this row is the only way back.
	if err := m.retrievals.Put(ctx, &jobstore.Retrieval{
		RetrievalJobID: retrievalID,
		JobID:          rec.JobID,
		UserID:         rec.UserID,
		ArchiveHandle:  rec.ArchiveHandle,
		Tier:           string(tier),
		InitiatedAt:    m.now().UTC(),
	}); err != nil {
		return fmt.Errorf("record retrieval correlation: %w", err)
	}

	if err := m.store.MarkRestoring(ctx, rec.JobID); err != nil {
		return err
	}

	m.logger.Info("retrieval initiated",
		zap.String("job_id", rec.JobID),
		zap.String("retrieval_job_id", retrievalID),
		zap.String("tier", string(tier)))
	return nil
}
