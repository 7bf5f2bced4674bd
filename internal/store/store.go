// Package store provides the local durable key/value store backing the
// client sync subsystems. Values are JSON-serialized blobs; callers own
// the encoding.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("store: key not found")

// Store is the durable key/value surface shared by all backends.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

const (
	keyAuthToken       = "auth_token"
	keyProfile         = "session_profile"
	keyCatalogSnapshot = "catalog_snapshot"
	keyCartSnapshot    = "cart_snapshot"
)

// AuthTokenKey addresses the persisted bearer token.
func AuthTokenKey() string {
	return keyAuthToken
}

// ProfileKey addresses the persisted session profile.
func ProfileKey() string {
	return keyProfile
}

// CatalogSnapshotKey addresses the cached catalog snapshot. The catalog is
// not user-scoped; the same snapshot serves any session.
func CatalogSnapshotKey() string {
	return keyCatalogSnapshot
}

// CartSnapshotKey addresses the cached cart snapshot for one user.
func CartSnapshotKey(userID string) string {
	return buildKey(keyCartSnapshot, userID)
}

func buildKey(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		clean = append(clean, strings.TrimSpace(part))
	}
	return strings.Join(clean, ":")
}
