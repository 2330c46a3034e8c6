// Package filestore defines the object storage interface that extraction
// snapshots are written to, plus the snapshot layout on top of it.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	snaps := filestore.NewSnapshots(store, cfg.Prefix)
//	info, err := snaps.Save(ctx, "shop", result.RunID, result.StartedAt, result)
package filestore

import (
	"context"
	"io"
	"time"
)

// Store is the interface all storage providers implement. A Store is bound
// to one bucket.
type Store interface {
	// Ping verifies the storage backend is reachable and the bucket exists.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error

	// PutObject uploads size bytes from r to key.
	PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*ObjectInfo, error)

	// ListObjects returns the objects under prefix, recursively, in key
	// order. limit <= 0 means no limit.
	ListObjects(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)

	// GetObject opens a streaming handle to the object at key.
	// The caller MUST call Object.Close() after reading.
	GetObject(ctx context.Context, key string) (Object, error)

	// StatObject returns metadata for the object at key without
	// downloading its content.
	StatObject(ctx context.Context, key string) (*ObjectInfo, error)

	// PresignGetURL returns a time-limited URL that allows anyone to
	// download the object at key without credentials.
	PresignGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
