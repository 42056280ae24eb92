// Package export persists export-provider HTML to S3. Optional: when no
// bucket is configured the export path stays inline-only.
package export

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/newsletter-engine/internal/config"
)

// S3API is the slice of the S3 client the uploader uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes rendered newsletters to an S3 bucket.
type Uploader struct {
	client S3API
	bucket string
	region string
	prefix string
}

// NewUploader creates an S3-backed uploader, or (nil, nil) when no bucket
// is configured so callers can wire the absence through directly.
func NewUploader(ctx context.Context, cfg config.ExportConfig) (*Uploader, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for export uploader: %w", err)
	}
	log.Printf("[Export] S3 uploads enabled: bucket=%s region=%s", cfg.S3Bucket, cfg.S3Region)
	return &Uploader{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.S3Bucket,
		region: cfg.S3Region,
		prefix: strings.Trim(cfg.KeyPrefix, "/"),
	}, nil
}

// Put writes body under key and returns the object's HTTPS URL.
func (u *Uploader) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	fullKey := key
	if u.prefix != "" {
		fullKey = u.prefix + "/" + key
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObject %s/%s: %w", u.bucket, fullKey, err)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, fullKey), nil
}
