package sink

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MultipartClient is the subset of minio.Core that S3Destination needs.
type MultipartClient interface {
	NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)
	PutObjectPart(ctx context.Context, bucket, object, uploadID string, partID int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error)
	CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error
	PutObject(ctx context.Context, bucket, object string, data io.Reader, size int64, md5Base64, sha256Hex string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
}

var _ MultipartClient = (*minio.Core)(nil)

const accelerateEndpoint = "s3-accelerate.amazonaws.com"

// S3Destination stores objects in an S3 bucket using multipart uploads.
type S3Destination struct {
	client MultipartClient
	bucket string
	region string
}

// NewS3Destination connects to the S3 compatible endpoint with static
// credentials. No request is made until the first upload.
func NewS3Destination(endpoint, region, accessKey, secretKey, bucket string, secure, accelerate bool) (*S3Destination, error) {
	if bucket == "" {
		return nil, fmt.Errorf("unable to use an S3 destination without a bucket name")
	}
	core, err := minio.NewCore(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 client for %s: %w", endpoint, err)
	}
	if accelerate {
		core.SetS3TransferAccelerate(accelerateEndpoint)
	}
	return &S3Destination{client: core, bucket: bucket, region: region}, nil
}

// NewS3DestinationFrom wraps an existing client.
func NewS3DestinationFrom(client MultipartClient, bucket string) *S3Destination {
	return &S3Destination{client: client, bucket: bucket}
}

// Bucket is the name of the bucket objects are stored in.
func (s *S3Destination) Bucket() string {
	return s.bucket
}

// EnsureBucket creates the bucket if it doesn't exist yet.
func (s *S3Destination) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// MinPartSize is the S3 minimum for every part but the last.
func (s *S3Destination) MinPartSize() uint {
	return MinPartSize
}

// Begin starts a multipart upload of key.
func (s *S3Destination) Begin(ctx context.Context, key string, meta Metadata) (Upload, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	id, err := s.client.NewMultipartUpload(ctx, s.bucket, key, putOptions(meta))
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart upload: %w", err)
	}
	return &s3Upload{dest: s, key: key, id: id}, nil
}

// PutEmpty stores a zero-length object at key.
func (s *S3Destination) PutEmpty(ctx context.Context, key string, meta Metadata) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(nil), 0, md5Base64(nil), "", putOptions(meta))
	if err != nil {
		return "", fmt.Errorf("failed to put empty object: %w", err)
	}
	return s.location(key, info.Location), nil
}

func (s *S3Destination) location(key, reported string) string {
	if reported != "" {
		return reported
	}
	return "s3://" + s.bucket + "/" + key
}

func putOptions(meta Metadata) minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType: meta.ContentType,
		UserTags:    meta.Tags,
	}
}

func md5Base64(data []byte) string {
	sum := md5.Sum(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// s3Upload is one in-flight multipart upload.
type s3Upload struct {
	dest *S3Destination
	key  string
	id   string
}

func (u *s3Upload) ID() string {
	return u.id
}

// PutPart sends data as part number with its MD5 so the server rejects a
// corrupted transfer.
func (u *s3Upload) PutPart(ctx context.Context, number int, data []byte) (Part, error) {
	part, err := u.dest.client.PutObjectPart(ctx, u.dest.bucket, u.key, u.id, number,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{Md5Base64: md5Base64(data)})
	if err != nil {
		return Part{}, fmt.Errorf("failed to upload part %d: %w", number, err)
	}
	return Part{Number: number, ETag: part.ETag, Size: int64(len(data))}, nil
}

func (u *s3Upload) Complete(ctx context.Context, parts []Part) (string, error) {
	if len(parts) == 0 {
		return "", ErrNoParts
	}
	completed := make([]minio.CompletePart, len(parts))
	for i, part := range parts {
		completed[i] = minio.CompletePart{PartNumber: part.Number, ETag: part.ETag}
	}
	info, err := u.dest.client.CompleteMultipartUpload(ctx, u.dest.bucket, u.key, u.id, completed, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return u.dest.location(u.key, info.Location), nil
}

func (u *s3Upload) Abort(ctx context.Context) error {
	if err := u.dest.client.AbortMultipartUpload(ctx, u.dest.bucket, u.key, u.id); err != nil {
		return fmt.Errorf("failed to abort multipart upload %s: %w", u.id, err)
	}
	return nil
}

var _ Destination = &S3Destination{}
