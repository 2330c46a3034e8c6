package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/koustreak/pgextract/internal/errs"
)

// timestampLayout is the sortable UTC stamp at the front of snapshot names.
const timestampLayout = "20060102T150405Z"

// Snapshot identifies one stored extraction result. Keys have the form
// <prefix>/<database>/<timestamp>-<run id>.json.
type Snapshot struct {
	Key      string    `json:"key"`
	Database string    `json:"database"`
	RunID    string    `json:"run_id"`
	TakenAt  time.Time `json:"taken_at"`
	Size     int64     `json:"size"`
}

// SnapshotKey builds the object key of a snapshot.
func SnapshotKey(prefix, database, runID string, at time.Time) string {
	return path.Join(prefix, database, at.UTC().Format(timestampLayout)+"-"+runID+".json")
}

// ParseSnapshotKey splits a key built by SnapshotKey.
func ParseSnapshotKey(key string) (Snapshot, error) {
	dir, file := path.Split(key)
	stem, ok := strings.CutSuffix(file, ".json")
	if !ok {
		return Snapshot{}, errs.Newf(errs.ErrKindInvalidInput, "snapshot key %q is not a .json object", key)
	}

	stamp, runID, ok := strings.Cut(stem, "-")
	if !ok || runID == "" {
		return Snapshot{}, errs.Newf(errs.ErrKindInvalidInput, "snapshot key %q has no run id", key)
	}
	at, err := time.Parse(timestampLayout, stamp)
	if err != nil {
		return Snapshot{}, errs.Wrap(errs.ErrKindInvalidInput, "snapshot key "+key+" has a bad timestamp", err)
	}

	database := path.Base(strings.TrimSuffix(dir, "/"))
	if dir == "" || database == "." || database == "/" {
		return Snapshot{}, errs.Newf(errs.ErrKindInvalidInput, "snapshot key %q has no database", key)
	}

	return Snapshot{Key: key, Database: database, RunID: runID, TakenAt: at}, nil
}

// Snapshots stores extraction results as JSON objects in a Store.
type Snapshots struct {
	store  Store
	prefix string
}

// NewSnapshots lays snapshots out under prefix in store.
func NewSnapshots(store Store, prefix string) *Snapshots {
	return &Snapshots{store: store, prefix: strings.Trim(prefix, "/")}
}

// Save encodes v as JSON and uploads it as a snapshot of database.
func (s *Snapshots) Save(ctx context.Context, database, runID string, at time.Time, v any) (*Snapshot, error) {
	if database == "" || strings.Contains(database, "/") {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "invalid snapshot database name %q", database)
	}
	if runID == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "snapshot run id is required")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "encode snapshot", err)
	}

	key := SnapshotKey(s.prefix, database, runID, at)
	info, err := s.store.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json")
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Key:      key,
		Database: database,
		RunID:    runID,
		TakenAt:  at.UTC().Truncate(time.Second),
		Size:     info.Size,
	}, nil
}

// List returns the snapshots of database, newest first. An empty database
// lists every database under the prefix. Objects that do not follow the
// snapshot layout are skipped.
func (s *Snapshots) List(ctx context.Context, database string) ([]Snapshot, error) {
	prefix := path.Join(s.prefix, database)
	if prefix != "" {
		prefix += "/"
	}

	objects, err := s.store.ListObjects(ctx, prefix, 0)
	if err != nil {
		return nil, err
	}

	snaps := make([]Snapshot, 0, len(objects))
	for _, o := range objects {
		snap, err := ParseSnapshotKey(o.Key)
		if err != nil {
			continue
		}
		snap.Size = o.Size
		snaps = append(snaps, snap)
	}

	slices.SortStableFunc(snaps, func(a, b Snapshot) int {
		return b.TakenAt.Compare(a.TakenAt)
	})
	return snaps, nil
}

// Latest returns the newest snapshot of database.
func (s *Snapshots) Latest(ctx context.Context, database string) (*Snapshot, error) {
	snaps, err := s.List(ctx, database)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "no snapshots of %q", database)
	}
	return &snaps[0], nil
}

// Open streams the raw JSON of the snapshot at key.
func (s *Snapshots) Open(ctx context.Context, key string) (Object, error) {
	if _, err := ParseSnapshotKey(key); err != nil {
		return nil, err
	}
	return s.store.GetObject(ctx, key)
}

// URL returns a presigned download URL for the snapshot at key.
func (s *Snapshots) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.store.StatObject(ctx, key); err != nil {
		return "", err
	}
	return s.store.PresignGetURL(ctx, key, ttl)
}
