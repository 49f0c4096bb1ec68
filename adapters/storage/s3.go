package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Skryldev/heic-converter/config"
	apperrors "github.com/Skryldev/heic-converter/errors"
)

// S3Client defines the minimal AWS S3 interface used by the writer.
// *s3.Client satisfies it; tests inject doubles.
type S3Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// NewS3Client builds an aws-sdk-go-v2 client from cfg. Static credentials are
// used when both keys are set; otherwise the default provider chain applies.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "s3.config", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3 uploads converted files to s3://bucket/prefix/<file name>.
type S3 struct {
	client    S3Client
	bucket    string
	prefix    string
	overwrite bool
}

// NewS3 creates an S3 destination writer. client must not be nil.
func NewS3(client S3Client, bucket, prefix string, overwrite bool) (*S3, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 storage: client must not be nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket must not be empty")
	}
	return &S3{client: client, bucket: bucket, prefix: prefix, overwrite: overwrite}, nil
}

// Key returns the object key a destination path is stored under.
func (s *S3) Key(dst string) string {
	return path.Join(s.prefix, filepath.Base(dst))
}

func (s *S3) WriteAll(ctx context.Context, dst string, data []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "s3.put", err)
	}
	key := s.Key(dst)

	if !s.overwrite {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return 0, apperrors.New(apperrors.CategoryIO, "s3.put",
				fmt.Errorf("%w: s3://%s/%s", apperrors.ErrDestinationExists, s.bucket, key))
		}
		var nf *types.NotFound
		if !errors.As(err, &nf) {
			return 0, apperrors.Wrap(apperrors.CategoryIO, "s3.head", err)
		}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(dst)),
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "s3.put", err)
	}
	return int64(len(data)), nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}
