package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Mirror receives a copy of every archive written to the store.
type Mirror interface {
	Put(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
}

// S3Config locates an S3-compatible bucket.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for R2/MinIO
	Prefix   string
}

// LoadS3Config reads S3_BUCKET, S3_REGION, S3_ENDPOINT and S3_PREFIX.
// ok is false when no bucket is configured.
func LoadS3Config() (cfg S3Config, ok bool) {
	cfg = S3Config{
		Bucket:   strings.TrimSpace(os.Getenv("S3_BUCKET")),
		Region:   os.Getenv("S3_REGION"),
		Endpoint: os.Getenv("S3_ENDPOINT"),
		Prefix:   strings.Trim(os.Getenv("S3_PREFIX"), "/"),
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	return cfg, cfg.Bucket != ""
}

// S3Mirror stores archive copies as objects under an optional key prefix.
type S3Mirror struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Mirror builds a client from the default AWS credential chain.
func NewS3Mirror(ctx context.Context, cfg S3Config) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 mirror: bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Mirror{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (m *S3Mirror) key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Put uploads data as the object for name.
func (m *S3Mirror) Put(ctx context.Context, name string, data []byte) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(m.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", name, err)
	}
	return nil
}

// Delete removes the object for name.
func (m *S3Mirror) Delete(ctx context.Context, name string) error {
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(name)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", name, err)
	}
	return nil
}
