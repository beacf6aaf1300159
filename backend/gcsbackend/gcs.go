// Package gcsbackend implements a cache backend on Google Cloud Storage.
// Values are stored as objects under a key prefix; TTLs live in object
// metadata and expired objects are read as absent.
package gcsbackend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/hoardcache/hoard/backend"
	"github.com/hoardcache/hoard/internal/codec"
	"github.com/hoardcache/hoard/internal/codec/noopcodec"
)

// expiresAtKey is the metadata key holding the entry expiry, RFC 3339.
const expiresAtKey = "expires-at"

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// Backend is a Google Cloud Storage cache backend.
type Backend struct {
	bucketName string
	prefix     string
	codec      codec.Codec

	client *storage.Client
	bucket *storage.BucketHandle
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

// WithCodec sets the value compression codec. Default is no compression.
func WithCodec(c codec.Codec) Option {
	return func(b *Backend) { b.codec = c }
}

// New creates a GCS backend for the given bucket. The bucket must
// already exist. The client is established by Connect.
func New(bucketName string, opts ...Option) *Backend {
	b := &Backend{
		bucketName: bucketName,
		codec:      noopcodec.New(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect creates the GCS client.
func (b *Backend) Connect(ctx context.Context) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating GCS client: %w", err)
	}
	b.client = client
	b.bucket = client.Bucket(b.bucketName)
	return nil
}

// Disconnect closes the GCS client.
func (b *Backend) Disconnect() error {
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	b.bucket = nil
	return err
}

// Get returns the value for key, treating expired objects as absent.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	obj := b.bucket.Object(b.objectKey(key))

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("reading object attrs: %w", err)
	}
	if expired(attrs.Metadata, time.Now()) {
		// Lazy expiry: drop the stale object, report absent.
		_ = obj.Delete(ctx)
		return nil, backend.ErrNotFound
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("creating reader: %w", err)
	}
	defer reader.Close()

	decompressor, err := b.codec.Reader(reader)
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

	w := b.bucket.Object(b.objectKey(key)).NewWriter(ctx)
	w.Metadata = expiryMetadata(ttl, time.Now())
	if _, err := w.Write(buf.Bytes()); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("writing object: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	err := b.bucket.Object(b.objectKey(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// Exists reports whether key holds a live value.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	attrs, err := b.bucket.Object(b.objectKey(key)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading object attrs: %w", err)
	}
	return !expired(attrs.Metadata, time.Now()), nil
}

// Expire rewrites the expiry metadata in place.
func (b *Backend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl < 0 {
		return backend.ErrInvalidTTL
	}

	obj := b.bucket.Object(b.objectKey(key))
	_, err := obj.Update(ctx, storage.ObjectAttrsToUpdate{
		Metadata: updateMetadata(ttl, time.Now()),
	})
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return backend.ErrNotFound
		}
		return fmt.Errorf("updating object metadata: %w", err)
	}
	return nil
}

// TTL returns the remaining time to live for key.
func (b *Backend) TTL(ctx context.Context, key string) (time.Duration, error) {
	attrs, err := b.bucket.Object(b.objectKey(key)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return backend.NoTTL, nil
		}
		return 0, fmt.Errorf("reading object attrs: %w", err)
	}

	at, ok := expiresAt(attrs.Metadata)
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
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: b.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("listing objects: %w", err)
		}
		if err := b.bucket.Object(attrs.Name).Delete(ctx); err != nil &&
			!errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("deleting object %s: %w", attrs.Name, err)
		}
	}
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

// updateMetadata returns the metadata to install when rewriting an
// entry's expiry. Unlike expiryMetadata it never returns nil: a nil
// map tells the GCS client to leave metadata unchanged, which would
// silently keep the old expiry when a ttl of zero should clear it.
func updateMetadata(ttl time.Duration, now time.Time) map[string]string {
	if m := expiryMetadata(ttl, now); m != nil {
		return m
	}
	return map[string]string{}
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
