package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAPIError implements smithy.APIError for code-based mapping tests.
type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return e.code + ": " + e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

type fakeS3 struct {
	getBody []byte
	getErr  error
	putErr  error
	delErr  error

	lastPutBucket string
	lastPutKey    string
	lastPutBody   []byte
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.getBody))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.lastPutBucket = *in.Bucket
	f.lastPutKey = *in.Key
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.lastPutBody = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.delErr != nil {
		return nil, f.delErr
	}
	return &s3.DeleteObjectOutput{}, nil
}

func TestStoreGetPut(t *testing.T) {
	ctx := context.Background()

	t.Run("get returns full body", func(t *testing.T) {
		fake := &fakeS3{getBody: []byte("chrom\tpos\tref\talt\n")}
		s := New(fake)
		body, err := s.Get(ctx, "results", "u1/j1/sample.annot.vcf")
		require.NoError(t, err)
		assert.Equal(t, fake.getBody, body)
	})

	t.Run("put round trips body", func(t *testing.T) {
		fake := &fakeS3{}
		s := New(fake)
		require.NoError(t, s.Put(ctx, "results", "u1/j1/out", []byte("payload")))
		assert.Equal(t, "results", fake.lastPutBucket)
		assert.Equal(t, "u1/j1/out", fake.lastPutKey)
		assert.Equal(t, []byte("payload"), fake.lastPutBody)
	})
}

func TestStoreDownloadUpload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("download writes local file", func(t *testing.T) {
		fake := &fakeS3{getBody: []byte("input data")}
		s := New(fake)
		path := filepath.Join(dir, "sample.vcf")
		require.NoError(t, s.Download(ctx, "inputs", "u1/sample.vcf", path))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []byte("input data"), got)
	})

	t.Run("upload streams local file", func(t *testing.T) {
		path := filepath.Join(dir, "result.annot.vcf")
		require.NoError(t, os.WriteFile(path, []byte("annotated"), 0o644))

		fake := &fakeS3{}
		s := New(fake)
		require.NoError(t, s.Upload(ctx, "results", "u1/j1/result.annot.vcf", path))
		assert.Equal(t, []byte("annotated"), fake.lastPutBody)
	})

	t.Run("upload missing file fails before the request", func(t *testing.T) {
		fake := &fakeS3{}
		s := New(fake)
		err := s.Upload(ctx, "results", "k", filepath.Join(dir, "absent"))
		require.Error(t, err)
		assert.Empty(t, fake.lastPutKey)
	})
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"typed not found", &s3types.NotFound{}, ErrNotFound},
		{"typed no such key", &s3types.NoSuchKey{}, ErrNotFound},
		{"typed no such bucket", &s3types.NoSuchBucket{}, ErrBucketNotFound},
		{"code no such key", &mockAPIError{code: "NoSuchKey"}, ErrNotFound},
		{"code access denied", &mockAPIError{code: "AccessDenied"}, ErrAccessDenied},
		{"code slow down", &mockAPIError{code: "SlowDown"}, ErrThrottled},
		{"code internal error", &mockAPIError{code: "InternalError"}, ErrUnavailable},
		{"message 404", errors.New("operation failed with 404"), ErrNotFound},
		{"message 403", errors.New("AccessDenied: no"), ErrAccessDenied},
		{"message 503", errors.New("ServiceUnavailable"), ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := wrapError("Get", "b", "k", tt.err)
			assert.ErrorIs(t, wrapped, tt.want)

			var serr *StoreError
			require.ErrorAs(t, wrapped, &serr)
			assert.Equal(t, "Get", serr.Op)
			assert.Equal(t, "b", serr.Bucket)
			assert.Equal(t, "k", serr.Key)
		})
	}

	t.Run("unmapped error passes through", func(t *testing.T) {
		boom := errors.New("dial tcp: connection refused")
		wrapped := wrapError("Put", "b", "k", boom)
		assert.ErrorIs(t, wrapped, boom)
	})
}
