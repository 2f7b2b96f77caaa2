package provider

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/reelops/vaultfast/store"
)

// S3Store implements ObjectStore on the AWS S3 API.
type S3Store struct {
	api          s3API
	downloader   *manager.Downloader
	bucket       string
	storageClass types.StorageClass
}

// Option configures an S3Store.
type Option func(*S3Store)

// WithStorageClass sets the storage class newly uploaded objects are written
// with. The default is STANDARD; a lifecycle rule usually handles the
// transition to archive.
func WithStorageClass(class types.StorageClass) Option {
	return func(s *S3Store) { s.storageClass = class }
}

// NewS3Store builds an S3Store. A nil creds falls back to the ambient AWS
// configuration (env vars, shared config, instance role); otherwise the
// key pair from creds signs every request. A credential retrieval failure is
// permanent, not retryable.
func NewS3Store(ctx context.Context, bucket, region string, creds Credentials, opts ...Option) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if creds != nil {
		kp, err := creds.Retrieve(ctx)
		if err != nil {
			return nil, err
		}
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(kp.AccessKeyID, kp.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return NewS3StoreWithClient(s3.NewFromConfig(cfg), bucket, opts...), nil
}

// NewS3StoreWithClient builds an S3Store around an existing client. Tests use
// this with a fake.
func NewS3StoreWithClient(api s3API, bucket string, opts ...Option) *S3Store {
	s := &S3Store{
		api:          api,
		downloader:   manager.NewDownloader(api),
		bucket:       bucket,
		storageClass: types.StorageClassStandard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckBucket verifies the bucket exists and the credentials can reach it.
func (s *S3Store) CheckBucket(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return opErr("headBucket", s.bucket, "", translate(err))
	}
	return nil
}

// Put stores an object in a single request. Used for files below the
// multipart threshold and for zero-byte files.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		StorageClass:  s.storageClass,
	})
	if err != nil {
		return opErr("putObject", s.bucket, key, translate(err))
	}
	return nil
}

// CreateMultipart starts a multipart upload and returns its id.
func (s *S3Store) CreateMultipart(ctx context.Context, key string) (string, error) {
	out, err := s.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		StorageClass: s.storageClass,
	})
	if err != nil {
		return "", opErr("createMultipartUpload", s.bucket, key, translate(err))
	}
	return aws.ToString(out.UploadId), nil
}

// UploadPart sends one part of a multipart upload.
func (s *S3Store) UploadPart(ctx context.Context, key, uploadID string, number int32, body io.Reader, size int64) (CompletedPart, error) {
	out, err := s.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(number),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return CompletedPart{}, opErr("uploadPart", s.bucket, key, translate(err))
	}
	return CompletedPart{Number: number, ETag: aws.ToString(out.ETag), Size: size}, nil
}

// CompleteMultipart assembles uploaded parts into the final object. Parts
// must be supplied in ascending part number order.
func (s *S3Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.Number),
			ETag:       aws.String(p.ETag),
		}
	}

	out, err := s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return "", opErr("completeMultipartUpload", s.bucket, key, translate(err))
	}
	return strings.Trim(aws.ToString(out.ETag), `"`), nil
}

// AbortMultipart discards an in-flight multipart upload so the store does not
// keep billing for orphaned parts.
func (s *S3Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return opErr("abortMultipartUpload", s.bucket, key, translate(err))
	}
	return nil
}

// ListUploadedParts returns the parts the store has confirmed for an
// in-flight multipart upload, so an interrupted job can skip them on resume.
func (s *S3Store) ListUploadedParts(ctx context.Context, key, uploadID string) (map[int32]CompletedPart, error) {
	parts := make(map[int32]CompletedPart)
	var marker *string

	for {
		out, err := s.api.ListParts(ctx, &s3.ListPartsInput{
			Bucket:           aws.String(s.bucket),
			Key:              aws.String(key),
			UploadId:         aws.String(uploadID),
			PartNumberMarker: marker,
		})
		if err != nil {
			return nil, opErr("listParts", s.bucket, key, translate(err))
		}

		for _, p := range out.Parts {
			n := aws.ToInt32(p.PartNumber)
			parts[n] = CompletedPart{
				Number: n,
				ETag:   aws.ToString(p.ETag),
				Size:   aws.ToInt64(p.Size),
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return parts, nil
		}
		marker = out.NextPartNumberMarker
	}
}

// List returns the objects under a key prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var infos []ObjectInfo
	var token *string

	for {
		out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, opErr("listObjects", s.bucket, prefix, translate(err))
		}

		for _, obj := range out.Contents {
			infos = append(infos, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				StorageClass: string(obj.StorageClass),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return infos, nil
		}
		token = out.NextContinuationToken
	}
}

// Head returns metadata for a single object.
func (s *S3Store) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, opErr("headObject", s.bucket, key, translate(err))
	}
	return &ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		StorageClass: string(out.StorageClass),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Restore asks the store to retrieve an archived object. The copy stays
// readable for days before reverting to archive-only.
func (s *S3Store) Restore(ctx context.Context, key string, tier store.RestoreTier, days int) error {
	_, err := s.api.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		RestoreRequest: &types.RestoreRequest{
			Days: aws.Int32(int32(days)),
			GlacierJobParameters: &types.GlacierJobParameters{
				Tier: types.Tier(tier),
			},
		},
	})
	if err != nil {
		return opErr("restoreObject", s.bucket, key, translate(err))
	}
	return nil
}

// RestoreStatus reads an object's retrieval state from its metadata.
func (s *S3Store) RestoreStatus(ctx context.Context, key string) (*RestoreStatus, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, opErr("headObject", s.bucket, key, translate(err))
	}

	status := &RestoreStatus{StorageClass: string(out.StorageClass)}
	parseRestoreHeader(aws.ToString(out.Restore), status)
	return status, nil
}

// parseRestoreHeader decodes the x-amz-restore header. An absent header means
// no retrieval was ever requested (or the restored copy already expired).
//
//	ongoing-request="true"
//	ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"
func parseRestoreHeader(header string, status *RestoreStatus) {
	if header == "" {
		return
	}
	if strings.Contains(header, `ongoing-request="true"`) {
		status.Ongoing = true
		return
	}
	if !strings.Contains(header, `ongoing-request="false"`) {
		return
	}
	status.Restored = true

	const marker = `expiry-date="`
	i := strings.Index(header, marker)
	if i < 0 {
		return
	}
	rest := header[i+len(marker):]
	j := strings.Index(rest, `"`)
	if j < 0 {
		return
	}
	if t, err := time.Parse(time.RFC1123, rest[:j]); err == nil {
		t = t.UTC()
		status.ExpiresAt = &t
	}
}

// Download streams a restored object to w and returns the bytes written.
func (s *S3Store) Download(ctx context.Context, key string, w io.WriterAt) (int64, error) {
	n, err := s.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return n, opErr("download", s.bucket, key, translate(err))
	}
	return n, nil
}
