package coldvault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	glaciertypes "github.com/aws/aws-sdk-go-v2/service/glacier/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGlacier struct {
	uploadErr   error
	initiateErr error
	outputBody  []byte
	outputErr   error
	deleteErr   error

	lastInitiate *glacier.InitiateJobInput
	lastDelete   *glacier.DeleteArchiveInput
	lastUpload   []byte
}

func (f *fakeGlacier) UploadArchive(ctx context.Context, in *glacier.UploadArchiveInput, _ ...func(*glacier.Options)) (*glacier.UploadArchiveOutput, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.lastUpload = body
	return &glacier.UploadArchiveOutput{ArchiveId: aws.String("archive-1")}, nil
}

func (f *fakeGlacier) InitiateJob(ctx context.Context, in *glacier.InitiateJobInput, _ ...func(*glacier.Options)) (*glacier.InitiateJobOutput, error) {
	f.lastInitiate = in
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return &glacier.InitiateJobOutput{JobId: aws.String("retrieval-1")}, nil
}

func (f *fakeGlacier) GetJobOutput(ctx context.Context, in *glacier.GetJobOutputInput, _ ...func(*glacier.Options)) (*glacier.GetJobOutputOutput, error) {
	if f.outputErr != nil {
		return nil, f.outputErr
	}
	return &glacier.GetJobOutputOutput{Body: io.NopCloser(bytes.NewReader(f.outputBody))}, nil
}

func (f *fakeGlacier) DeleteArchive(ctx context.Context, in *glacier.DeleteArchiveInput, _ ...func(*glacier.Options)) (*glacier.DeleteArchiveOutput, error) {
	f.lastDelete = in
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &glacier.DeleteArchiveOutput{}, nil
}

func TestVaultSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("returns archive handle", func(t *testing.T) {
		fake := &fakeGlacier{}
		v := New(fake, "results-vault", "")
		handle, err := v.Submit(ctx, []byte("result bytes"))
		require.NoError(t, err)
		assert.Equal(t, "archive-1", handle)
		assert.Equal(t, []byte("result bytes"), fake.lastUpload)
	})

	t.Run("wraps upload failure", func(t *testing.T) {
		boom := errors.New("vault unreachable")
		v := New(&fakeGlacier{uploadErr: boom}, "results-vault", "")
		_, err := v.Submit(ctx, []byte("x"))
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)

		var verr *VaultError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "Submit", verr.Op)
		assert.Equal(t, "results-vault", verr.Vault)
	})
}

func TestVaultInitiateRetrieval(t *testing.T) {
	ctx := context.Background()

	t.Run("expedited request carries tier and topic", func(t *testing.T) {
		fake := &fakeGlacier{}
		v := New(fake, "results-vault", "arn:aws:sns:us-east-1:123:retrievals")
		jobID, err := v.InitiateRetrieval(ctx, "archive-1", TierExpedited, "job j1")
		require.NoError(t, err)
		assert.Equal(t, "retrieval-1", jobID)

		params := fake.lastInitiate.JobParameters
		require.NotNil(t, params)
		assert.Equal(t, "archive-retrieval", aws.ToString(params.Type))
		assert.Equal(t, "archive-1", aws.ToString(params.ArchiveId))
		assert.Equal(t, "Expedited", aws.ToString(params.Tier))
		assert.Equal(t, "arn:aws:sns:us-east-1:123:retrievals", aws.ToString(params.SNSTopic))
		assert.Equal(t, "job j1", aws.ToString(params.Description))
	})

	t.Run("empty topic and description omitted", func(t *testing.T) {
		fake := &fakeGlacier{}
		v := New(fake, "results-vault", "")
		_, err := v.InitiateRetrieval(ctx, "archive-1", TierStandard, "")
		require.NoError(t, err)
		assert.Nil(t, fake.lastInitiate.JobParameters.SNSTopic)
		assert.Nil(t, fake.lastInitiate.JobParameters.Description)
	})

	t.Run("capacity refusal maps to sentinel", func(t *testing.T) {
		fake := &fakeGlacier{initiateErr: &glaciertypes.InsufficientCapacityException{}}
		v := New(fake, "results-vault", "")
		_, err := v.InitiateRetrieval(ctx, "archive-1", TierExpedited, "")
		assert.ErrorIs(t, err, ErrInsufficientCapacity)
	})

	t.Run("missing archive maps to sentinel", func(t *testing.T) {
		fake := &fakeGlacier{initiateErr: &glaciertypes.ResourceNotFoundException{}}
		v := New(fake, "results-vault", "")
		_, err := v.InitiateRetrieval(ctx, "gone", TierStandard, "")
		assert.ErrorIs(t, err, ErrArchiveNotFound)
	})
}

func TestVaultRetrievalOutputAndDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("reads restored bytes", func(t *testing.T) {
		fake := &fakeGlacier{outputBody: []byte("restored result")}
		v := New(fake, "results-vault", "")
		body, err := v.RetrievalOutput(ctx, "retrieval-1")
		require.NoError(t, err)
		assert.Equal(t, []byte("restored result"), body)
	})

	t.Run("delete targets the handle", func(t *testing.T) {
		fake := &fakeGlacier{}
		v := New(fake, "results-vault", "")
		require.NoError(t, v.DeleteArchive(ctx, "archive-1"))
		assert.Equal(t, "archive-1", aws.ToString(fake.lastDelete.ArchiveId))
	})

	t.Run("delete of missing archive maps to sentinel", func(t *testing.T) {
		fake := &fakeGlacier{deleteErr: &glaciertypes.ResourceNotFoundException{}}
		v := New(fake, "results-vault", "")
		err := v.DeleteArchive(ctx, "gone")
		assert.ErrorIs(t, err, ErrArchiveNotFound)
	})
}
