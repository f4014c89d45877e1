package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"img2img-lab/internal/config"
)

type objectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader mirrors exports to an S3-compatible bucket (AWS, MinIO).
type S3Uploader struct {
	api    objectAPI
	bucket string
	prefix string
	logger *slog.Logger

	once      sync.Once
	bucketErr error
}

func NewS3Uploader(ctx context.Context, cfg config.S3Config, logger *slog.Logger) (*S3Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Uploader(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3Uploader(api objectAPI, bucket, prefix string, logger *slog.Logger) *S3Uploader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &S3Uploader{api: api, bucket: bucket, prefix: prefix, logger: logger}
}

// EnsureBucket creates the bucket when HeadBucket fails.
func (u *S3Uploader) EnsureBucket(ctx context.Context) error {
	if _, err := u.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(u.bucket)}); err == nil {
		return nil
	}
	if _, err := u.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(u.bucket)}); err != nil {
		return fmt.Errorf("create bucket %s: %w", u.bucket, err)
	}
	u.logger.Info("bucket created", "bucket", u.bucket)
	return nil
}

func (u *S3Uploader) Upload(ctx context.Context, name, filePath string) error {
	u.once.Do(func() { u.bucketErr = u.EnsureBucket(ctx) })
	if u.bucketErr != nil {
		return u.bucketErr
	}

	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	key := path.Join(u.prefix, name)
	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	u.logger.Debug("uploaded", "bucket", u.bucket, "key", key)
	return nil
}
