package thaw

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/annexlab/annex/pkg/coldvault"
	"github.com/annexlab/annex/pkg/jobstore"
)

type fakeJobStore struct {
	records []jobstore.Record
	listErr error

	restoring []string
	markErr   error
}

func (f *fakeJobStore) ListArchivedByUser(ctx context.Context, userID string) ([]jobstore.Record, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.records, nil
}

func (f *fakeJobStore) MarkRestoring(ctx context.Context, jobID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.restoring = append(f.restoring, jobID)
	return nil
}

type fakeRetrievals struct {
	err  error
	rows []*jobstore.Retrieval
}

func (f *fakeRetrievals) Put(ctx context.Context, r *jobstore.Retrieval) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, r)
	return nil
}

type initiateCall struct {
	handle string
	tier   coldvault.RetrievalTier
}

type fakeVault struct {
	// errByTier returns the error for a given tier, per call.
	errByTier map[coldvault.RetrievalTier]error
	calls     []initiateCall
	nextID    int
}

func (f *fakeVault) InitiateRetrieval(ctx context.Context, archiveHandle string, tier coldvault.RetrievalTier, description string) (string, error) {
	f.calls = append(f.calls, initiateCall{handle: archiveHandle, tier: tier})
	if err := f.errByTier[tier]; err != nil {
		return "", err
	}
	f.nextID++
	return "retrieval-" + strconv.Itoa(f.nextID), nil
}

func archivedRecord(jobID, handle string) jobstore.Record {
	return jobstore.Record{
		JobID:         jobID,
		UserID:        "u1",
		UserTier:      jobstore.TierFree,
		Status:        jobstore.StatusArchived,
		ArchiveHandle: handle,
	}
}

func capacityErr() error {
	return &coldvault.VaultError{Op: "InitiateRetrieval", Vault: "v", Err: coldvault.ErrInsufficientCapacity}
}

func TestHandleUpgrade(t *testing.T) {
	ctx := context.Background()

	t.Run("initiates expedited retrieval for every archived job", func(t *testing.T) {
		store := &fakeJobStore{records: []jobstore.Record{
			archivedRecord("j1", "h1"),
			archivedRecord("j2", "h2"),
		}}
		retrievals := &fakeRetrievals{}
		vault := &fakeVault{}
		m := New(store, retrievals, vault, zap.NewNop())

		require.NoError(t, m.HandleUpgrade(ctx, "u1"))
		require.Len(t, vault.calls, 2)
		assert.Equal(t, coldvault.TierExpedited, vault.calls[0].tier)
		assert.Equal(t, "h1", vault.calls[0].handle)
		assert.Equal(t, []string{"j1", "j2"}, store.restoring)

		require.Len(t, retrievals.rows, 2)
		assert.Equal(t, "j1", retrievals.rows[0].JobID)
		assert.Equal(t, "h1", retrievals.rows[0].ArchiveHandle)
		assert.Equal(t, "Expedited", retrievals.rows[0].Tier)
	})

	t.Run("missing user id is rejected", func(t *testing.T) {
		m := New(&fakeJobStore{}, &fakeRetrievals{}, &fakeVault{}, zap.NewNop())
		require.Error(t, m.HandleUpgrade(ctx, ""))
	})

	t.Run("no archived jobs is a no-op", func(t *testing.T) {
		vault := &fakeVault{}
		m := New(&fakeJobStore{}, &fakeRetrievals{}, vault, zap.NewNop())
		require.NoError(t, m.HandleUpgrade(ctx, "u1"))
		assert.Empty(t, vault.calls)
	})

	t.Run("capacity refusal falls back to standard once", func(t *testing.T) {
		store := &fakeJobStore{records: []jobstore.Record{archivedRecord("j1", "h1")}}
		retrievals := &fakeRetrievals{}
		vault := &fakeVault{errByTier: map[coldvault.RetrievalTier]error{
			coldvault.TierExpedited: capacityErr(),
		}}
		m := New(store, retrievals, vault, zap.NewNop())

		require.NoError(t, m.HandleUpgrade(ctx, "u1"))
		require.Len(t, vault.calls, 2)
		assert.Equal(t, coldvault.TierExpedited, vault.calls[0].tier)
		assert.Equal(t, coldvault.TierStandard, vault.calls[1].tier)
		assert.Equal(t, []string{"j1"}, store.restoring)
		require.Len(t, retrievals.rows, 1)
		assert.Equal(t, "Standard", retrievals.rows[0].Tier)
	})

	t.Run("both tiers refused leaves job archived", func(t *testing.T) {
		store := &fakeJobStore{records: []jobstore.Record{archivedRecord("j1", "h1")}}
		retrievals := &fakeRetrievals{}
		vault := &fakeVault{errByTier: map[coldvault.RetrievalTier]error{
			coldvault.TierExpedited: capacityErr(),
			coldvault.TierStandard:  capacityErr(),
		}}
		m := New(store, retrievals, vault, zap.NewNop())

		require.NoError(t, m.HandleUpgrade(ctx, "u1"))
		assert.Len(t, vault.calls, 2)
		assert.Empty(t, store.restoring)
		assert.Empty(t, retrievals.rows)
	})

	t.Run("non-capacity error does not trigger fallback", func(t *testing.T) {
		store := &fakeJobStore{records: []jobstore.Record{archivedRecord("j1", "h1")}}
		vault := &fakeVault{errByTier: map[coldvault.RetrievalTier]error{
			coldvault.TierExpedited: errors.New("vault unreachable"),
		}}
		m := New(store, &fakeRetrievals{}, vault, zap.NewNop())

		require.NoError(t, m.HandleUpgrade(ctx, "u1"))
		assert.Len(t, vault.calls, 1)
		assert.Empty(t, store.restoring)
	})

	t.Run("jobs already restoring are skipped", func(t *testing.T) {
		inFlight := archivedRecord("j1", "h1")
		inFlight.Status = jobstore.StatusRestoring
		store := &fakeJobStore{records: []jobstore.Record{inFlight, archivedRecord("j2", "h2")}}
		vault := &fakeVault{}
		m := New(store, &fakeRetrievals{}, vault, zap.NewNop())

		require.NoError(t, m.HandleUpgrade(ctx, "u1"))
		require.Len(t, vault.calls, 1)
		assert.Equal(t, "h2", vault.calls[0].handle)
	})

	t.Run("correlation write failure stops the status flip", func(t *testing.T) {
		store := &fakeJobStore{records: []jobstore.Record{archivedRecord("j1", "h1")}}
		retrievals := &fakeRetrievals{err: errors.New("table unavailable")}
		m := New(store, retrievals, &fakeVault{}, zap.NewNop())

		require.NoError(t, m.HandleUpgrade(ctx, "u1"))
		// Without the correlation row the completion event cannot be mapped
		// back, so the job must not be marked RESTORING.
		assert.Empty(t, store.restoring)
	})

	t.Run("one failing job does not stop the rest", func(t *testing.T) {
		store := &fakeJobStore{records: []jobstore.Record{
			archivedRecord("j1", "bad-handle"),
			archivedRecord("j2", "h2"),
		}}
		vault := &fakeVault{}
		vault.errByTier = nil
		// Fail only the first call.
		failFirst := &failFirstVault{inner: vault}
		m := New(store, &fakeRetrievals{}, failFirst, zap.NewNop())

		require.NoError(t, m.HandleUpgrade(ctx, "u1"))
		assert.Equal(t, []string{"j2"}, store.restoring)
	})

	t.Run("list failure surfaces", func(t *testing.T) {
		store := &fakeJobStore{listErr: errors.New("scan throttled")}
		m := New(store, &fakeRetrievals{}, &fakeVault{}, zap.NewNop())
		require.Error(t, m.HandleUpgrade(ctx, "u1"))
	})
}

type failFirstVault struct {
	inner *fakeVault
	calls int
}

func (f *failFirstVault) InitiateRetrieval(ctx context.Context, handle string, tier coldvault.RetrievalTier, desc string) (string, error) {
	f.calls++
	if f.calls == 1 {
		return "", errors.New("archive not found")
	}
	return f.inner.InitiateRetrieval(ctx, handle, tier, desc)
}
