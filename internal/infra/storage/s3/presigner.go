package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultPresignTTL = 15 * time.Minute

// Presigner turns attachment URLs that point into the chat bucket into short-lived signed
// GET URLs. URLs hosted anywhere else pass through untouched.
type Presigner struct {
	bucket string
	host   string
	ttl    time.Duration
	client *minio.Client
	logger *slog.Logger
}

// NewPresigner builds a presigner. The region is fixed so signing never needs a round trip
// to discover the bucket location.
func NewPresigner(endpoint string, useSSL bool, accessKey, secretKey, bucket string, ttl time.Duration, logger *slog.Logger) (*Presigner, error) {
	host := parseEndpoint(strings.TrimSpace(endpoint))
	if host == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(accessKey), strings.TrimSpace(secretKey), ""),
		Secure: useSSL,
		Region: "us-east-1",
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	return &Presigner{bucket: bucket, host: host, ttl: ttl, client: client, logger: logger}, nil
}

func (p *Presigner) SignURL(ctx context.Context, raw string) string {
	key, ok := p.objectKey(raw)
	if !ok {
		return raw
	}
	signed, err := p.client.PresignedGetObject(ctx, p.bucket, key, p.ttl, url.Values{})
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("s3 presign failed", "bucket", p.bucket, "key", key, "error", err)
		}
		return raw
	}
	return signed.String()
}

// objectKey extracts the object key from a path-style URL of the configured bucket.
func (p *Presigner) objectKey(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !strings.EqualFold(u.Host, p.host) {
		return "", false
	}
	if u.Query().Get("X-Amz-Signature") != "" {
		u.RawQuery = ""
	}
	prefix := "/" + p.bucket + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(u.Path, prefix)
	if key == "" {
		return "", false
	}
	return key, true
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}
