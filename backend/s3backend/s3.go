// Package s3backend implements a cache backend on AWS S3. Values are
// stored as objects under a key prefix; TTLs live in object metadata and
// expired objects are read as absent.
package s3backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hoardcache/hoard/backend"
	"github.com/hoardcache/hoard/internal/codec"
	"github.com/hoardcache/hoard/internal/codec/noopcodec"
)

// expiresAtKey is the metadata key holding the entry expiry, RFC 3339.
const expiresAtKey = "expires-at"

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// Backend is an AWS S3 cache backend.
type Backend struct {
	bucket   string
	prefix   string
	region   string
	endpoint string
	codec    codec.Codec

	client *s3.Client
}

// Option configures a Backend.
type Option func(*Backend)

// WithPrefix sets a key prefix for all operations.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = strings.TrimSuffix(prefix, "/")
		if b.prefix != "" {
			b.prefix += "/"
		}
	}
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(b *Backend) { b.region = region }
}

// WithEndpoint sets a custom endpoint (for S3-compatible services like MinIO).
func WithEndpoint(endpoint string) Option {
	return func(b *Backend) { b.endpoint = endpoint }
}

// WithCodec sets the value compression codec. Default is no compression.
func WithCodec(c codec.Codec) Option {
	return func(b *Backend) { b.codec = c }
}

// New creates an S3 backend for the given bucket. The bucket must
// already exist. The client is established by Connect.
func New(bucket string, opts ...Option) *Backend {
	b := &Backend{
		bucket: bucket,
		codec:  noopcodec.New(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect loads AWS configuration and creates the S3 client.
func (b *Backend) Connect(ctx context.Context) error {
	var loadOpts []func(*config.LoadOptions) error
	if b.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(b.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	b.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if b.endpoint != "" {
			o.BaseEndpoint = aws.String(b.endpoint)
			o.UsePathStyle = true
		}
	})
	return nil
}

// Disconnect releases resources. The S3 client needs no explicit closing.
func (b *Backend) Disconnect() error {
	b.client = nil
	return nil
}

// Get returns the value for key, treating expired objects as absent.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("reading object: %w", err)
	}
	defer result.Body.Close()

	if expired(result.Metadata, time.Now()) {
		// Lazy expiry: drop the stale object, report absent.
		b.deleteQuiet(ctx, key)
		return nil, backend.ErrNotFound
	}

	decompressor, err := b.codec.Reader(result.Body)
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer decompressor.Close()

	data, err := io.ReadAll(decompressor)
	if err != nil {
		return nil, fmt.Errorf("decompressing value: %w", err)
	}
	return data, nil
}

// Set stores value under key. A ttl of zero means no expiry.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return backend.ErrInvalidTTL
	}

	var buf bytes.Buffer
	compressor, err := b.codec.Writer(&buf)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	if _, err := compressor.Write(value); err != nil {
		return fmt.Errorf("compressing value: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("compressing value: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(b.objectKey(key)),
		Body:     bytes.NewReader(buf.Bytes()),
		Metadata: expiryMetadata(ttl, time.Now()),
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// Exists reports whether key holds a live value.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	head, err := b.head(ctx, key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return !expired(head.Metadata, time.Now()), nil
}

// Expire rewrites the expiry metadata by copying the object onto itself.
func (b *Backend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl < 0 {
		return backend.ErrInvalidTTL
	}

	objKey := b.objectKey(key)
	input := &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(objKey),
		CopySource:        aws.String(b.bucket + "/" + objKey),
		Metadata:          expiryMetadata(ttl, time.Now()),
		MetadataDirective: types.MetadataDirectiveReplace,
	}
	if _, err := b.client.CopyObject(ctx, input); err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return backend.ErrNotFound
		}
		return fmt.Errorf("rewriting object metadata: %w", err)
	}
	return nil
}

// TTL returns the remaining time to live for key.
func (b *Backend) TTL(ctx context.Context, key string) (time.Duration, error) {
	head, err := b.head(ctx, key)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return backend.NoTTL, nil
		}
		return 0, err
	}

	at, ok := expiresAt(head.Metadata)
	if !ok {
		return backend.NoTTL, nil
	}
	remaining := time.Until(at)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// Clear removes every object under the backend's prefix.
func (b *Backend) Clear(ctx context.Context) error {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing objects: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: objects},
		})
		if err != nil {
			return fmt.Errorf("deleting objects: %w", err)
		}
	}
	return nil
}

func (b *Backend) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("reading object metadata: %w", err)
	}
	return head, nil
}

func (b *Backend) deleteQuiet(ctx context.Context, key string) {
	_, _ = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
}

// objectKey returns the full object key for a cache key. Cache keys are
// path-escaped so arbitrary keys map to valid object names.
func (b *Backend) objectKey(key string) string {
	name := url.PathEscape(key)
	if ext := b.codec.Extension(); ext != "" {
		name += "." + ext
	}
	return b.prefix + "entries/" + name
}

// expiryMetadata returns object metadata carrying the expiry for ttl,
// or nil when the value never expires.
func expiryMetadata(ttl time.Duration, now time.Time) map[string]string {
	if ttl <= 0 {
		return nil
	}
	return map[string]string{
		expiresAtKey: now.Add(ttl).UTC().Format(time.RFC3339Nano),
	}
}

// expiresAt parses the expiry from object metadata.
func expiresAt(metadata map[string]string) (time.Time, bool) {
	raw, ok := metadata[expiresAtKey]
	if !ok {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// expired reports whether the metadata carries an expiry in the past.
func expired(metadata map[string]string, now time.Time) bool {
	at, ok := expiresAt(metadata)
	return ok && now.After(at)
}
