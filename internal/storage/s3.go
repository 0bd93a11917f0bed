// Package storage holds FileStorage implementations for uploaded CVs.
package storage

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"applyflow/internal/applications"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Config locates an S3-compatible bucket such as MinIO.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// NewS3Client builds a path-style client for cfg.
func NewS3Client(cfg S3Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return s3.New(s3.Options{
		Region:       region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	})
}

// S3Storage stores objects under {owner}/{folder}/{id8}_{filename} and
// addresses them as {endpoint}/{bucket}/{key}.
type S3Storage struct {
	client   S3API
	endpoint string
	bucket   string
	logger   *zap.Logger
	newID    func() string
}

func NewS3Storage(client S3API, cfg S3Config, logger *zap.Logger) *S3Storage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Storage{
		client:   client,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		bucket:   cfg.Bucket,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// EnsureBucket creates the bucket when it is missing.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		s.logger.Info("cv bucket exists", zap.String("bucket", s.bucket))
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return errors.Wrapf(err, "head bucket %s", s.bucket)
	}
	s.logger.Info("creating cv bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return errors.Wrapf(err, "create bucket %s", s.bucket)
	}
	return nil
}

func (s *S3Storage) Upload(ctx context.Context, file applications.File, owner, folder string) (applications.UploadResult, error) {
	if file.Content == nil {
		return applications.UploadResult{}, errors.Wrap(applications.ErrStorageFailure, "file has no content")
	}
	// Buffered so the SDK gets a seekable body. CVs are capped at MaxCVSize.
	body, err := io.ReadAll(io.LimitReader(file.Content, applications.MaxCVSize+1))
	if err != nil {
		return applications.UploadResult{}, errors.Mark(errors.Wrap(err, "read cv"), applications.ErrStorageFailure)
	}

	key := objectKey(owner, folder, s.newID(), file.Name)
	s.logger.Info("uploading cv", zap.String("bucket", s.bucket), zap.String("key", key))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(file.ContentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return applications.UploadResult{}, errors.Mark(errors.Wrapf(err, "put object %s", key), applications.ErrStorageFailure)
	}

	return applications.UploadResult{
		FileURL:     s.url(key),
		FileName:    file.Name,
		ContentType: file.ContentType,
		FileSize:    int64(len(body)),
	}, nil
}

// Delete removes the object behind fileURL. Deleting a missing object succeeds.
func (s *S3Storage) Delete(ctx context.Context, fileURL string) error {
	key, err := s.keyFromURL(fileURL)
	if err != nil {
		return err
	}
	s.logger.Info("deleting cv", zap.String("bucket", s.bucket), zap.String("key", key))
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "delete object %s", key), applications.ErrStorageFailure)
	}
	return nil
}

// Exists reports whether the object behind fileURL is present.
func (s *S3Storage) Exists(ctx context.Context, fileURL string) (bool, error) {
	key, err := s.keyFromURL(fileURL)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, errors.Mark(errors.Wrapf(err, "head object %s", key), applications.ErrStorageFailure)
}

func (s *S3Storage) url(key string) string {
	return s.endpoint + "/" + s.bucket + "/" + key
}

func (s *S3Storage) keyFromURL(fileURL string) (string, error) {
	return keyAfterBucket(fileURL, s.bucket)
}

func keyAfterBucket(fileURL, bucket string) (string, error) {
	marker := "/" + bucket + "/"
	idx := strings.Index(fileURL, marker)
	if idx < 0 || idx+len(marker) == len(fileURL) {
		return "", errors.Wrapf(applications.ErrStorageFailure, "invalid file url %q", fileURL)
	}
	return fileURL[idx+len(marker):], nil
}

func objectKey(owner, folder, id, filename string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return owner + "/" + folder + "/" + id + "_" + safeName(filename)
}

func safeName(name string) string {
	return strings.NewReplacer("/", "_", `\`, "_").Replace(strings.TrimSpace(name))
}
