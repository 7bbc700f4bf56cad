// Package storage keeps uploaded print documents in S3-compatible object
// storage (AWS S3, MinIO, R2).
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/Shimizu-Technology/pdf-desk-api/internal/config"
)

// S3 stores objects in a single bucket.
type S3 struct {
	bucket  string
	client  *s3.Client
	presign *s3.PresignClient
}

// NewS3 creates a client for the configured bucket. A custom endpoint
// switches to path-style addressing for MinIO and friends.
func NewS3(cfg config.S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	options := s3.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if endpoint := normalizeEndpoint(cfg.Endpoint); endpoint != "" {
		options.BaseEndpoint = aws.String(endpoint)
		options.UsePathStyle = true
	}

	client := s3.New(options)
	return &S3{
		bucket:  cfg.Bucket,
		client:  client,
		presign: s3.NewPresignClient(client),
	}, nil
}

// Put uploads data under a fresh key in the user's prefix and returns the key.
func (s *S3) Put(ctx context.Context, userID, fileName, contentType string, data []byte) (string, error) {
	key := buildObjectKey(userID, fileName)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return key, nil
}

// PresignGet returns a time-limited download URL for a key.
func (s *S3) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	resp, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return resp.URL, nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// buildObjectKey builds print/<user>/<yyyy>/<mm>/<uuid>-<name>.
func buildObjectKey(userID, fileName string) string {
	name := unsafeKeyChars.ReplaceAllString(path.Base(strings.TrimSpace(fileName)), "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		name = "document.pdf"
	}
	now := time.Now().UTC()
	return fmt.Sprintf("print/%s/%d/%02d/%s-%s", userID, now.Year(), now.Month(), uuid.NewString(), name)
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" || strings.HasPrefix(endpoint, "http") {
		return endpoint
	}
	return "https://" + endpoint
}
