// Package cache stores rendered diagram images keyed by a SHA-256 digest of
// the diagram body.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Ext is the file extension of stored entries.
const Ext = ".svg"

// ErrInvalidDigest is returned for keys that are not lowercase SHA-256 hex.
var ErrInvalidDigest = errors.New("invalid digest")

// Store is a content-addressed image store.
//
// Lookup reports a miss with ok == false and a nil error. Store is idempotent:
// writing the same digest twice leaves a single entry with the first content.
type Store interface {
	Lookup(ctx context.Context, digest string) (svg string, ok bool, err error)
	Store(ctx context.Context, digest, svg string) error
}

// Key returns the hex SHA-256 digest of body.
//
// Only the body is hashed. Two requests with equal bodies but different
// commands or options share one entry.
func Key(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// ValidateDigest checks that digest looks like a value returned by Key.
func ValidateDigest(digest string) error {
	if len(digest) != sha256.Size*2 {
		return fmt.Errorf("%w: %q", ErrInvalidDigest, digest)
	}
	for i := 0; i < len(digest); i++ {
		c := digest[i]
		if ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') {
			continue
		}
		return fmt.Errorf("%w: %q", ErrInvalidDigest, digest)
	}
	return nil
}

// IOError reports a failed read or write against a store.
type IOError struct {
	Op     string
	Digest string
	Err    error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	if e.Digest != "" {
		return fmt.Sprintf("cache %s %s: %v", e.Op, e.Digest, e.Err)
	}
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Discard is a Store that never hits and drops every write.
type Discard struct{}

// Lookup always misses.
func (Discard) Lookup(context.Context, string) (string, bool, error) { return "", false, nil }

// Store does nothing.
func (Discard) Store(context.Context, string, string) error { return nil }
