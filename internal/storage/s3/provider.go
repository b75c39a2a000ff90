// Package s3 implements storage.Provider on top of Amazon S3 and S3-compatible services.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	blob "github.com/dvloznov/statement-reconciler/internal/storage"
)

// Config holds configuration for the S3 provider.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for MinIO/Localstack).
	Endpoint string

	// KeyPrefix is prepended to every object path. Should end with "/" if non-empty.
	KeyPrefix string

	// ForcePathStyle forces path-style addressing.
	ForcePathStyle bool
}

// Provider is the S3-backed storage.Provider.
type Provider struct {
	client    *s3.Client
	bucket    string
	keyPrefix string

	mu     sync.RWMutex
	closed bool
}

// New creates a provider with an existing client.
func New(client *s3.Client, cfg Config) *Provider {
	return &Provider{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}
}

// NewFromConfig loads the default AWS configuration and builds a client from it.
func NewFromConfig(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("NewFromConfig: bucket name is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewFromConfig: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// Kind implements storage.Provider.
func (p *Provider) Kind() blob.Kind { return blob.KindS3 }

func (p *Provider) fullKey(objectPath string) string {
	return p.keyPrefix + objectPath
}

func (p *Provider) checkOpen() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return blob.ErrProviderClosed
	}
	return nil
}

// List implements storage.Provider. ListObjectsV2 pages by continuation token,
// so offset is applied while walking the pages. Every call walks the prefix from
// its first key, which makes listing a directory page by page quadratic in its size.
// Folder placeholder keys are skipped before offset is counted.
func (p *Provider) List(ctx context.Context, prefix string, limit, offset int) ([]blob.Blob, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	dir := p.fullKey(blob.ListPrefix(prefix))
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(dir),
		Delimiter: aws.String("/"),
	})

	var (
		out     []blob.Blob
		skipped int
	)
	for paginator.HasMorePages() && (limit <= 0 || len(out) < limit) {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("List: s3 list objects %s/%s: %w", p.bucket, dir, err)
		}

		for _, obj := range page.Contents {
			name, ok := blob.ObjectName(aws.ToString(obj.Key), dir)
			if !ok {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			b := blob.Blob{
				Name: name,
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				b.LastModified = *obj.LastModified
			}
			out = append(out, b)
		}
	}

	return out, nil
}

// Download implements storage.Provider.
func (p *Provider) Download(ctx context.Context, objectPath string) ([]byte, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	resp, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.fullKey(objectPath)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("Download: s3 get object: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("Download: read s3 object body: %w", err)
	}
	return data, nil
}

// Exists implements storage.Provider with HeadObject.
func (p *Provider) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := p.checkOpen(); err != nil {
		return false, err
	}

	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.fullKey(objectPath)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("Exists: s3 head object: %w", err)
	}
	return true, nil
}

// Delete implements storage.Provider. DeleteObject succeeds for missing keys, so the
// object is checked with HeadObject first and a miss is reported as storage.ErrNotFound.
func (p *Provider) Delete(ctx context.Context, objectPath string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}

	key := aws.String(p.fullKey(objectPath))
	if _, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(p.bucket), Key: key}); err != nil {
		if isNotFoundError(err) {
			return blob.ErrNotFound
		}
		return fmt.Errorf("Delete: s3 head object: %w", err)
	}

	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    key,
	})
	if err != nil {
		return fmt.Errorf("Delete: s3 delete object: %w", err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable with the configured credentials.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if _, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)}); err != nil {
		return fmt.Errorf("HealthCheck: s3 head bucket: %w", err)
	}
	return nil
}

// Close marks the provider as closed. The SDK client holds no connections to release.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// isNotFoundError recognises the typed S3 errors first and falls back to the API error code,
// since HeadObject responses carry no body to decode.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}

// Ensure Provider implements storage.Provider.
var _ blob.Provider = (*Provider)(nil)
