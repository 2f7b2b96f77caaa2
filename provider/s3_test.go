package provider

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelops/vaultfast/store"
)

// fakeS3 implements s3API with overridable handlers. Unset handlers return
// empty successful responses.
type fakeS3 struct {
	headBucket      func(*s3.HeadBucketInput) (*s3.HeadBucketOutput, error)
	headObject      func(*s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
	getObject       func(*s3.GetObjectInput) (*s3.GetObjectOutput, error)
	putObject       func(*s3.PutObjectInput) (*s3.PutObjectOutput, error)
	listObjects     func(*s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error)
	createMP        func(*s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error)
	uploadPart      func(*s3.UploadPartInput) (*s3.UploadPartOutput, error)
	completeMP      func(*s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error)
	abortMP         func(*s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error)
	listParts       func(*s3.ListPartsInput) (*s3.ListPartsOutput, error)
	restoreObject   func(*s3.RestoreObjectInput) (*s3.RestoreObjectOutput, error)
	getLifecycle    func(*s3.GetBucketLifecycleConfigurationInput) (*s3.GetBucketLifecycleConfigurationOutput, error)
	putLifecycle    func(*s3.PutBucketLifecycleConfigurationInput) (*s3.PutBucketLifecycleConfigurationOutput, error)
	deleteLifecycle func(*s3.DeleteBucketLifecycleInput) (*s3.DeleteBucketLifecycleOutput, error)
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headBucket != nil {
		return f.headBucket(in)
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headObject != nil {
		return f.headObject(in)
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getObject != nil {
		return f.getObject(in)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putObject != nil {
		return f.putObject(in)
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listObjects != nil {
		return f.listObjects(in)
	}
	return &s3.ListObjectsV2Output{}, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	if f.createMP != nil {
		return f.createMP(in)
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if f.uploadPart != nil {
		return f.uploadPart(in)
	}
	return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if f.completeMP != nil {
		return f.completeMP(in)
	}
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	if f.abortMP != nil {
		return f.abortMP(in)
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListParts(_ context.Context, in *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
	if f.listParts != nil {
		return f.listParts(in)
	}
	return &s3.ListPartsOutput{}, nil
}

func (f *fakeS3) RestoreObject(_ context.Context, in *s3.RestoreObjectInput, _ ...func(*s3.Options)) (*s3.RestoreObjectOutput, error) {
	if f.restoreObject != nil {
		return f.restoreObject(in)
	}
	return &s3.RestoreObjectOutput{}, nil
}

func (f *fakeS3) GetBucketLifecycleConfiguration(_ context.Context, in *s3.GetBucketLifecycleConfigurationInput, _ ...func(*s3.Options)) (*s3.GetBucketLifecycleConfigurationOutput, error) {
	if f.getLifecycle != nil {
		return f.getLifecycle(in)
	}
	return &s3.GetBucketLifecycleConfigurationOutput{}, nil
}

func (f *fakeS3) PutBucketLifecycleConfiguration(_ context.Context, in *s3.PutBucketLifecycleConfigurationInput, _ ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error) {
	if f.putLifecycle != nil {
		return f.putLifecycle(in)
	}
	return &s3.PutBucketLifecycleConfigurationOutput{}, nil
}

func (f *fakeS3) DeleteBucketLifecycle(_ context.Context, in *s3.DeleteBucketLifecycleInput, _ ...func(*s3.Options)) (*s3.DeleteBucketLifecycleOutput, error) {
	if f.deleteLifecycle != nil {
		return f.deleteLifecycle(in)
	}
	return &s3.DeleteBucketLifecycleOutput{}, nil
}

func TestS3Store_MultipartFlow(t *testing.T) {
	var completed *s3.CompleteMultipartUploadInput
	fake := &fakeS3{
		completeMP: func(in *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			completed = in
			return &s3.CompleteMultipartUploadOutput{ETag: aws.String(`"final-etag"`)}, nil
		},
	}
	s := NewS3StoreWithClient(fake, "vault")
	ctx := context.Background()

	id, err := s.CreateMultipart(ctx, "uploads/a.mov")
	require.NoError(t, err)
	assert.Equal(t, "upload-1", id)

	p1, err := s.UploadPart(ctx, "uploads/a.mov", id, 1, bytes.NewReader([]byte("data")), 4)
	require.NoError(t, err)
	assert.Equal(t, int32(1), p1.Number)
	assert.Equal(t, "etag", p1.ETag)

	etag, err := s.CompleteMultipart(ctx, "uploads/a.mov", id, []CompletedPart{p1})
	require.NoError(t, err)
	assert.Equal(t, "final-etag", etag)
	require.NotNil(t, completed)
	require.Len(t, completed.MultipartUpload.Parts, 1)
	assert.Equal(t, int32(1), aws.ToInt32(completed.MultipartUpload.Parts[0].PartNumber))
}

func TestS3Store_ListUploadedPartsPaginated(t *testing.T) {
	calls := 0
	fake := &fakeS3{
		listParts: func(in *s3.ListPartsInput) (*s3.ListPartsOutput, error) {
			calls++
			if in.PartNumberMarker == nil {
				return &s3.ListPartsOutput{
					Parts: []types.Part{
						{PartNumber: aws.Int32(1), ETag: aws.String("e1"), Size: aws.Int64(100)},
					},
					IsTruncated:          aws.Bool(true),
					NextPartNumberMarker: aws.String("1"),
				}, nil
			}
			return &s3.ListPartsOutput{
				Parts: []types.Part{
					{PartNumber: aws.Int32(2), ETag: aws.String("e2"), Size: aws.Int64(50)},
				},
			}, nil
		},
	}
	s := NewS3StoreWithClient(fake, "vault")

	parts, err := s.ListUploadedParts(context.Background(), "k", "id")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, parts, 2)
	assert.Equal(t, "e1", parts[1].ETag)
	assert.Equal(t, int64(50), parts[2].Size)
}

func TestS3Store_RestoreRequest(t *testing.T) {
	var got *s3.RestoreObjectInput
	fake := &fakeS3{
		restoreObject: func(in *s3.RestoreObjectInput) (*s3.RestoreObjectOutput, error) {
			got = in
			return &s3.RestoreObjectOutput{}, nil
		},
	}
	s := NewS3StoreWithClient(fake, "vault")

	require.NoError(t, s.Restore(context.Background(), "uploads/a.mov", store.TierBulk, 7))
	require.NotNil(t, got)
	assert.Equal(t, int32(7), aws.ToInt32(got.RestoreRequest.Days))
	assert.Equal(t, types.TierBulk, got.RestoreRequest.GlacierJobParameters.Tier)
}

func TestParseRestoreHeader(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		ongoing  bool
		restored bool
		expiry   bool
	}{
		{name: "never requested", header: ""},
		{name: "in progress", header: `ongoing-request="true"`, ongoing: true},
		{
			name:     "completed",
			header:   `ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"`,
			restored: true,
			expiry:   true,
		},
		{name: "completed without expiry", header: `ongoing-request="false"`, restored: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var status RestoreStatus
			parseRestoreHeader(tt.header, &status)
			assert.Equal(t, tt.ongoing, status.Ongoing)
			assert.Equal(t, tt.restored, status.Restored)
			if tt.expiry {
				require.NotNil(t, status.ExpiresAt)
				assert.Equal(t, time.Date(2012, 12, 21, 0, 0, 0, 0, time.UTC), *status.ExpiresAt)
			} else {
				assert.Nil(t, status.ExpiresAt)
			}
		})
	}
}

func TestS3Store_RestoreStatus(t *testing.T) {
	fake := &fakeS3{
		headObject: func(in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return &s3.HeadObjectOutput{
				Restore:      aws.String(`ongoing-request="true"`),
				StorageClass: types.StorageClassDeepArchive,
			}, nil
		},
	}
	s := NewS3StoreWithClient(fake, "vault")

	status, err := s.RestoreStatus(context.Background(), "uploads/a.mov")
	require.NoError(t, err)
	assert.True(t, status.Ongoing)
	assert.False(t, status.Restored)
	assert.Equal(t, string(types.StorageClassDeepArchive), status.StorageClass)
}
