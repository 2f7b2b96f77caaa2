// Package provider is the object store boundary. Everything above it (the
// upload engine, the restore tracker) talks to the ObjectStore interface;
// the only production implementation is S3Store.
package provider

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/reelops/vaultfast/store"
)

// s3API is the slice of the AWS S3 client this package uses. Tests swap in a
// fake; production passes *s3.Client.
type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)

	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListParts(ctx context.Context, params *s3.ListPartsInput, optFns ...func(*s3.Options)) (*s3.ListPartsOutput, error)

	RestoreObject(ctx context.Context, params *s3.RestoreObjectInput, optFns ...func(*s3.Options)) (*s3.RestoreObjectOutput, error)

	GetBucketLifecycleConfiguration(ctx context.Context, params *s3.GetBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLifecycleConfigurationOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
	DeleteBucketLifecycle(ctx context.Context, params *s3.DeleteBucketLifecycleInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketLifecycleOutput, error)
}

// ensure the real client satisfies the slice we depend on
var _ s3API = (*s3.Client)(nil)

// CompletedPart identifies one successfully uploaded part of a multipart
// upload.
type CompletedPart struct {
	Number int32
	ETag   string
	Size   int64
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	StorageClass string
	LastModified time.Time
}

// RestoreStatus is the store's view of an archived object's retrieval, read
// from object metadata.
type RestoreStatus struct {
	// Ongoing is true while the store is still retrieving the object.
	Ongoing bool
	// Restored is true when a readable copy exists.
	Restored bool
	// ExpiresAt is when the restored copy reverts to archive-only. Only set
	// when Restored is true and the store reported an expiry.
	ExpiresAt    *time.Time
	StorageClass string
}

// ObjectStore is everything the upload engine and the restore tracker need
// from cold storage.
type ObjectStore interface {
	// CheckBucket verifies the bucket exists and is reachable with the
	// current credentials.
	CheckBucket(ctx context.Context) error

	// Put stores a small object in a single request.
	Put(ctx context.Context, key string, body io.Reader, size int64) error

	// CreateMultipart starts a multipart upload and returns its id.
	CreateMultipart(ctx context.Context, key string) (string, error)
	// UploadPart sends one part and returns its identity for completion.
	UploadPart(ctx context.Context, key, uploadID string, number int32, body io.Reader, size int64) (CompletedPart, error)
	// CompleteMultipart assembles the parts into the final object and
	// returns the assembled object's ETag.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error)
	// AbortMultipart discards an in-flight multipart upload and its parts.
	AbortMultipart(ctx context.Context, key, uploadID string) error
	// ListUploadedParts returns the parts the store has already confirmed
	// for an in-flight multipart upload, keyed by part number.
	ListUploadedParts(ctx context.Context, key, uploadID string) (map[int32]CompletedPart, error)

	// List returns the objects under a key prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Head returns metadata for a single object.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Restore asks the store to retrieve an archived object at the given
	// tier, keeping the copy readable for days.
	Restore(ctx context.Context, key string, tier store.RestoreTier, days int) error
	// RestoreStatus reports the current retrieval state of an object.
	RestoreStatus(ctx context.Context, key string) (*RestoreStatus, error)

	// Download writes a restored object to w and returns the bytes written.
	Download(ctx context.Context, key string, w io.WriterAt) (int64, error)
}

var _ ObjectStore = (*S3Store)(nil)
