// Package cdn implements the optional CDN pre-cache sink for persisted
// media (the upload half of spec §4.8), via an S3-compatible object store
// (e.g. Cloudflare R2). No retrieved example repo exercises the AWS SDK
// directly — this is built in the SDK's own documented idiom (an
// aws.Config built once, passed to s3.NewFromConfig) rather than against a
// pack-specific precedent.
package cdn

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config describes how to reach an S3-compatible bucket.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string // non-empty for R2 / MinIO / other S3-compatible endpoints
	AccessKeyID  string
	SecretKey    string
	PublicURLBase string // e.g. "https://cdn.example.com"
}

// S3Uploader implements persist.CDNUploader against an S3-compatible bucket.
type S3Uploader struct {
	client *s3.Client
	cfg    Config
}

// NewS3Uploader builds an uploader from static credentials and an optional
// custom endpoint (R2/MinIO); Region/Endpoint blank falls back to the
// default AWS resolver chain.
func NewS3Uploader(ctx context.Context, cfg Config) (*S3Uploader, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{client: client, cfg: cfg}, nil
}

// Upload puts body at key and returns its public URL.
func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s", u.cfg.PublicURLBase, key), nil
}
