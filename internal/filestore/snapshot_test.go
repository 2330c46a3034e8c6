package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pgextract/internal/errs"
)

// memStore is an in-memory Store for snapshot tests.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func (m *memStore) PutObject(_ context.Context, key string, r io.Reader, _ int64, contentType string) (*ObjectInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return &ObjectInfo{Key: key, Size: int64(len(data)), ContentType: contentType}, nil
}

func (m *memStore) ListObjects(_ context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memObject struct {
	io.Reader
	info *ObjectInfo
}

func (o *memObject) Close() error      { return nil }
func (o *memObject) Info() *ObjectInfo { return o.info }

func (m *memStore) GetObject(ctx context.Context, key string) (Object, error) {
	info, err := m.StatObject(ctx, key)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &memObject{Reader: bytes.NewReader(m.objects[key]), info: info}, nil
}

func (m *memStore) StatObject(_ context.Context, key string) (*ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "no object %s", key)
	}
	return &ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memStore) PresignGetURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "http://minio.local/bucket/" + key + "?ttl=" + ttl.String(), nil
}

func TestSnapshotKey(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))
	key := SnapshotKey("snapshots", "shop", "2b1c-77", at)
	assert.Equal(t, "snapshots/shop/20260304T040607Z-2b1c-77.json", key)

	snap, err := ParseSnapshotKey(key)
	require.NoError(t, err)
	assert.Equal(t, "shop", snap.Database)
	assert.Equal(t, "2b1c-77", snap.RunID)
	assert.True(t, snap.TakenAt.Equal(at))

	assert.Equal(t, "shop/20260304T040607Z-x.json", SnapshotKey("", "shop", "x", at))
}

func TestParseSnapshotKey_Invalid(t *testing.T) {
	for _, key := range []string{
		"snapshots/shop/readme.txt",
		"snapshots/shop/20260304T040607Z.json",
		"snapshots/shop/yesterday-abc.json",
		"20260304T040607Z-abc.json",
	} {
		_, err := ParseSnapshotKey(key)
		assert.True(t, errs.IsInvalidInput(err), key)
	}
}

func TestSnapshots_SaveListOpen(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	snaps := NewSnapshots(store, "/snapshots/")

	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	_, err := snaps.Save(ctx, "shop", "run-1", older, map[string]int{"tables": 1})
	require.NoError(t, err)
	saved, err := snaps.Save(ctx, "shop", "run-2", newer, map[string]int{"tables": 2})
	require.NoError(t, err)
	_, err = snaps.Save(ctx, "billing", "run-3", newer, map[string]int{})
	require.NoError(t, err)
	store.objects["snapshots/shop/notes.txt"] = []byte("ignored")

	assert.Equal(t, "snapshots/shop/20260101T010000Z-run-2.json", saved.Key)
	assert.Positive(t, saved.Size)

	list, err := snaps.List(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "run-2", list[0].RunID)
	assert.Equal(t, "run-1", list[1].RunID)

	all, err := snaps.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	latest, err := snaps.Latest(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, saved.Key, latest.Key)

	obj, err := snaps.Open(ctx, saved.Key)
	require.NoError(t, err)
	defer obj.Close()
	var body map[string]int
	require.NoError(t, json.NewDecoder(obj).Decode(&body))
	assert.Equal(t, 2, body["tables"])

	url, err := snaps.URL(ctx, saved.Key, time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, saved.Key)
}

func TestSnapshots_Errors(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshots(newMemStore(), "snapshots")

	_, err := snaps.Save(ctx, "", "run", time.Now(), nil)
	assert.True(t, errs.IsInvalidInput(err))

	_, err = snaps.Save(ctx, "a/b", "run", time.Now(), nil)
	assert.True(t, errs.IsInvalidInput(err))

	_, err = snaps.Latest(ctx, "shop")
	assert.True(t, errs.IsNotFound(err))

	_, err = snaps.URL(ctx, "snapshots/shop/20260101T000000Z-x.json", time.Minute)
	assert.True(t, errs.IsNotFound(err))

	_, err = snaps.Open(ctx, "not-a-snapshot")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestConfigValidate(t *testing.T) {
	var disabled *Config
	assert.NoError(t, disabled.Validate())
	assert.NoError(t, (&Config{}).Validate())

	cfg := DefaultConfig("localhost:9000", "k", "s")
	assert.NoError(t, cfg.Validate())

	cfg.Bucket = ""
	assert.True(t, errs.IsInvalidInput(cfg.Validate()))

	cfg = DefaultConfig("localhost:9000", "k", "s")
	cfg.Provider = "gcs"
	assert.True(t, errs.IsInvalidInput(cfg.Validate()))
}
