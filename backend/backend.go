// Package backend defines the storage contract implemented by every
// per-node cache storage unit, from the in-process engine to remote
// object stores. The distributed coordinator depends only on this
// interface.
package backend

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for well-defined conditions.
var (
	// ErrNotFound indicates the key is absent or expired. Absence is a
	// normal outcome, not an operation failure.
	ErrNotFound = errors.New("backend: key not found")

	// ErrInvalidTTL indicates a negative TTL was supplied.
	ErrInvalidTTL = errors.New("backend: ttl must not be negative")
)

// NoTTL is returned by TTL for keys without an expiry and for absent
// keys. The two cases collapse deliberately; callers needing to tell
// them apart should call Exists first.
const NoTTL = time.Duration(-1)

// Backend is a per-node cache storage unit.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Connect establishes the backend's resources. It must be called
	// before any other operation.
	Connect(ctx context.Context) error

	// Disconnect releases the backend's resources.
	Disconnect() error

	// Get returns the value for key, or ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key holds a live value.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire rewrites the expiry of key without touching its value.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time to live for key, or NoTTL when the
	// key is absent or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Clear removes all keys held by this backend.
	Clear(ctx context.Context) error
}
