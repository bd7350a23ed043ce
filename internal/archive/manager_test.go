package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/annexlab/annex/pkg/events"
	"github.com/annexlab/annex/pkg/jobstore"
)

type fakeJobStore struct {
	rec     *jobstore.Record
	getErr  error
	markErr error

	archivedHandle string
}

func (f *fakeJobStore) Get(ctx context.Context, jobID string) (*jobstore.Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	cp := *f.rec
	return &cp, nil
}

func (f *fakeJobStore) MarkArchived(ctx context.Context, jobID, archiveHandle string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.archivedHandle = archiveHandle
	return nil
}

type fakeObjects struct {
	body    []byte
	getErr  error
	delErr  error
	deleted []string
}

func (f *fakeObjects) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.body, nil
}

func (f *fakeObjects) Delete(ctx context.Context, bucket, key string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, bucket+"/"+key)
	return nil
}

type fakeVault struct {
	err       error
	submitted [][]byte
}

func (f *fakeVault) Submit(ctx context.Context, body []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.submitted = append(f.submitted, body)
	return "handle-1", nil
}

func completedRecord() *jobstore.Record {
	return &jobstore.Record{
		JobID:        "j1",
		UserID:       "u1",
		UserTier:     jobstore.TierFree,
		Status:       jobstore.StatusCompleted,
		ResultBucket: "results",
		ResultKey:    "annex/u1/j1/sample.annot.vcf",
	}
}

func completionEvent() events.JobComplete {
	return events.JobComplete{
		JobID:        "j1",
		UserID:       "u1",
		UserTier:     "free",
		ResultBucket: "results",
		ResultKey:    "annex/u1/j1/sample.annot.vcf",
	}
}

func TestHandleCompletion(t *testing.T) {
	ctx := context.Background()

	t.Run("free tier result is archived then deleted", func(t *testing.T) {
		store := &fakeJobStore{rec: completedRecord()}
		objects := &fakeObjects{body: []byte("annotated result")}
		vault := &fakeVault{}
		m := New(store, objects, vault, zap.NewNop())

		require.NoError(t, m.HandleCompletion(ctx, completionEvent()))
		require.Len(t, vault.submitted, 1)
		assert.Equal(t, []byte("annotated result"), vault.submitted[0])
		assert.Equal(t, "handle-1", store.archivedHandle)
		assert.Equal(t, []string{"results/annex/u1/j1/sample.annot.vcf"}, objects.deleted)
	})

	t.Run("premium job is left alone", func(t *testing.T) {
		store := &fakeJobStore{rec: completedRecord()}
		vault := &fakeVault{}
		m := New(store, &fakeObjects{}, vault, zap.NewNop())

		event := completionEvent()
		event.UserTier = "premium"
		require.NoError(t, m.HandleCompletion(ctx, event))
		assert.Empty(t, vault.submitted)
		assert.Empty(t, store.archivedHandle)
	})

	t.Run("event without job id is rejected", func(t *testing.T) {
		m := New(&fakeJobStore{rec: completedRecord()}, &fakeObjects{}, &fakeVault{}, zap.NewNop())
		err := m.HandleCompletion(ctx, events.JobComplete{UserTier: "free"})
		require.Error(t, err)
	})

	t.Run("duplicate event is a no-op", func(t *testing.T) {
		rec := completedRecord()
		rec.Status = jobstore.StatusArchived
		rec.ArchiveHandle = "handle-0"
		store := &fakeJobStore{rec: rec}
		vault := &fakeVault{}
		objects := &fakeObjects{}
		m := New(store, objects, vault, zap.NewNop())

		require.NoError(t, m.HandleCompletion(ctx, completionEvent()))
		assert.Empty(t, vault.submitted)
		assert.Empty(t, objects.deleted)
	})

	t.Run("non-completed job is an error", func(t *testing.T) {
		rec := completedRecord()
		rec.Status = jobstore.StatusRunning
		m := New(&fakeJobStore{rec: rec}, &fakeObjects{}, &fakeVault{}, zap.NewNop())
		err := m.HandleCompletion(ctx, completionEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RUNNING")
	})

	t.Run("vault failure keeps the live copy", func(t *testing.T) {
		store := &fakeJobStore{rec: completedRecord()}
		objects := &fakeObjects{body: []byte("x")}
		vault := &fakeVault{err: errors.New("vault unavailable")}
		m := New(store, objects, vault, zap.NewNop())

		err := m.HandleCompletion(ctx, completionEvent())
		require.Error(t, err)
		assert.Empty(t, objects.deleted)
		assert.Empty(t, store.archivedHandle)
	})

	t.Run("lost archival race keeps first handle", func(t *testing.T) {
		store := &fakeJobStore{
			rec:     completedRecord(),
			markErr: &jobstore.StoreError{Op: "MarkArchived", JobID: "j1", Err: jobstore.ErrConditionFailed},
		}
		objects := &fakeObjects{body: []byte("x")}
		m := New(store, objects, &fakeVault{}, zap.NewNop())

		require.NoError(t, m.HandleCompletion(ctx, completionEvent()))
		// The loser must not delete the live copy either.
		assert.Empty(t, objects.deleted)
	})

	t.Run("delete failure after archival is tolerated", func(t *testing.T) {
		store := &fakeJobStore{rec: completedRecord()}
		objects := &fakeObjects{body: []byte("x"), delErr: errors.New("slow down")}
		m := New(store, objects, &fakeVault{}, zap.NewNop())

		require.NoError(t, m.HandleCompletion(ctx, completionEvent()))
		assert.Equal(t, "handle-1", store.archivedHandle)
	})
}
