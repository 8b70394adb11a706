package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/corvid-chat/corvid-server/internal/server"
)

// hetznerSuffix marks Hetzner object storage hosts, whose documented endpoint form embeds the bucket in the
// hostname as https://<bucket>.<region>.your-objectstorage.com.
const hetznerSuffix = ".your-objectstorage.com"

// defaultSignRegion is used for request signing when the configuration names no region. Most S3-compatible stores
// accept it.
const defaultSignRegion = "us-east-1"

// EndpointConfig is the normalized result of parsing a user-supplied endpoint.
type EndpointConfig struct {
	Host   string
	Bucket string
	Region string
	Secure bool
}

// ParseEndpoint normalizes a user-supplied endpoint URL or bare host. Hetzner-style hosts with the bucket embedded
// in the hostname are unwrapped so the bucket and region need not be repeated in the form.
func ParseEndpoint(raw, bucket, region string) (EndpointConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return EndpointConfig{}, errors.New("endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return EndpointConfig{}, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return EndpointConfig{}, errors.New("endpoint has no host")
	}

	cfg := EndpointConfig{
		Host:   u.Host,
		Bucket: bucket,
		Region: region,
		Secure: u.Scheme != "http",
	}

	host := u.Hostname()
	if strings.HasSuffix(host, hetznerSuffix) {
		rest := strings.TrimSuffix(host, hetznerSuffix)
		labels := strings.Split(rest, ".")
		switch len(labels) {
		case 1:
			// <region>.your-objectstorage.com
			if cfg.Region == "" {
				cfg.Region = labels[0]
			}
		case 2:
			// <bucket>.<region>.your-objectstorage.com
			if cfg.Bucket == "" {
				cfg.Bucket = labels[0]
			}
			if cfg.Region == "" {
				cfg.Region = labels[1]
			}
			cfg.Host = labels[1] + hetznerSuffix
			if port := u.Port(); port != "" {
				cfg.Host += ":" + port
			}
		}
	}

	if cfg.Bucket == "" {
		return EndpointConfig{}, errors.New("bucket is required")
	}
	return cfg, nil
}

// S3Backend stores files in an S3-compatible object store through the MinIO client.
type S3Backend struct {
	client    *minio.Client
	bucket    string
	endpoint  EndpointConfig
	creds     *credentials.Credentials
	pathStyle bool
}

// NewS3Backend builds a backend from the persisted configuration. The connection is not probed here; call Validate
// before activating it.
func NewS3Backend(cfg server.S3Config) (*S3Backend, error) {
	ep, err := ParseEndpoint(cfg.Endpoint, cfg.Bucket, cfg.Region)
	if err != nil {
		return nil, err
	}

	creds := credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	b := &S3Backend{
		bucket:    ep.Bucket,
		endpoint:  ep,
		creds:     creds,
		pathStyle: cfg.ForcePath,
	}
	region := ep.Region
	if region == "" {
		region = defaultSignRegion
	}
	if b.client, err = b.newClient(ep.Host, region, b.pathStyle); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *S3Backend) newClient(host, region string, pathStyle bool) (*minio.Client, error) {
	lookup := minio.BucketLookupDNS
	if pathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(host, &minio.Options{
		Creds:        b.creds,
		Secure:       b.endpoint.Secure,
		Region:       region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return client, nil
}

// Provider identifies rows stored through this backend.
func (b *S3Backend) Provider() string {
	return server.StorageRemoteObject
}

// Put uploads size bytes from r under key.
func (b *S3Backend) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Get opens the object at key. The MinIO client defers the request until the first read, so a missing key is
// surfaced here with an explicit stat.
func (b *S3Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return obj, nil
}

// Delete removes the object at key. Missing keys are not treated as errors.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// s3Attempt is one client configuration in the validation ladder.
type s3Attempt struct {
	label     string
	host      string
	pathStyle bool
}

// validationAttempts lists the client configurations Validate walks in order. Hetzner endpoints only answer on the
// documented bucket host and on path-style requests against the base host, so nothing else is tried there. For
// other stores the bucket-embedded host is probed last, since most accept one of the base-host forms.
func validationAttempts(ep EndpointConfig) []s3Attempt {
	host := ep.Host
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	if strings.HasSuffix(host, hetznerSuffix) {
		return []s3Attempt{
			{label: "virtual-host/direct", host: ep.Host, pathStyle: false},
			{label: "path-style/base", host: ep.Host, pathStyle: true},
		}
	}
	return []s3Attempt{
		{label: "path-style/base", host: ep.Host, pathStyle: true},
		{label: "virtual-host/base", host: ep.Host, pathStyle: false},
		{label: "bucket-endpoint", host: ep.Bucket + "." + ep.Host, pathStyle: true},
	}
}

// signerRegions returns the regions to sign each attempt with: the configured one first, then the us-east-1
// fallback most S3-compatible stores accept.
func signerRegions(configured string) []string {
	if configured == "" || configured == defaultSignRegion {
		return []string{defaultSignRegion}
	}
	return []string{configured, defaultSignRegion}
}

// describeAttempt renders one failed probe for the validation diagnostic, carrying whatever the store's error
// response parsed to.
func describeAttempt(att s3Attempt, region string, err error) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s host=%s region=%s", att.label, att.host, region)
	resp := minio.ToErrorResponse(err)
	if resp.Code != "" {
		fmt.Fprintf(&sb, " code=%s", resp.Code)
	}
	if resp.Message != "" {
		fmt.Fprintf(&sb, " message=%q", resp.Message)
	}
	if resp.RequestID != "" {
		fmt.Fprintf(&sb, " requestId=%s", resp.RequestID)
	}
	if resp.HostID != "" {
		fmt.Fprintf(&sb, " hostId=%s", resp.HostID)
	}
	if resp.Code == "" && err != nil {
		fmt.Fprintf(&sb, " error=%q", err.Error())
	}
	return sb.String()
}

// Validate checks the bucket across the addressing ladder, signing each attempt with the configured region and
// falling back to us-east-1 when they differ. The first configuration that sees the bucket is adopted and exercised
// with a write/read/delete round trip; when none does, the error concatenates every attempt's diagnostic.
func (b *S3Backend) Validate(ctx context.Context) error {
	var failures []string
	for _, att := range validationAttempts(b.endpoint) {
		for _, region := range signerRegions(b.endpoint.Region) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			client, err := b.newClient(att.host, region, att.pathStyle)
			if err != nil {
				return err
			}
			exists, err := client.BucketExists(ctx, b.bucket)
			if err == nil && !exists {
				err = errors.New("bucket not found")
			}
			if err != nil {
				failures = append(failures, describeAttempt(att, region, err))
				continue
			}
			b.client = client
			b.pathStyle = att.pathStyle
			return b.roundTrip(ctx)
		}
	}
	return fmt.Errorf("bucket %s unreachable: %s", b.bucket, strings.Join(failures, "; "))
}

// roundTrip exercises the adopted configuration with a throwaway object so a bucket that answers HeadBucket but
// rejects writes is caught before activation.
func (b *S3Backend) roundTrip(ctx context.Context) error {
	const probe = ".storage-probe"
	payload := []byte("probe")
	if err := b.Put(ctx, probe, bytes.NewReader(payload), int64(len(payload)), "text/plain"); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}
	rc, err := b.Get(ctx, probe)
	if err != nil {
		return fmt.Errorf("probe read: %w", err)
	}
	_, readErr := io.ReadAll(rc)
	_ = rc.Close()
	if readErr != nil {
		return fmt.Errorf("probe read: %w", readErr)
	}
	if err := b.Delete(ctx, probe); err != nil {
		return fmt.Errorf("probe delete: %w", err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
