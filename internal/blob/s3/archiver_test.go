package s3blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	storemem "github.com/alanyoungcy/perpbot/internal/store/memory"
)

// fakeBlobs is an in-memory BlobWriter and BlobReader.
type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	multipart int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = b
	f.types[path] = contentType
	return nil
}

func (f *fakeBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	f.mu.Lock()
	f.multipart++
	f.mu.Unlock()
	return f.Put(ctx, path, data, "")
}

func (f *fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range f.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func entry(id string, closed time.Time) domain.TradeHistoryEntry {
	return domain.TradeHistoryEntry{
		Position:  domain.Position{ID: id, Symbol: "ETH/USDC", Side: domain.SideLong},
		CloseTime: closed,
		Reason:    "Manual close",
	}
}

func TestArchiveHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlobs()
	audit := storemem.NewAuditStore()
	a := NewArchiver(blobs, blobs, audit)

	day := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return day }
	require.NoError(t, a.ArchiveHistory(ctx, "acct", []domain.TradeHistoryEntry{
		entry("a", day.Add(-2*time.Hour)),
		entry("b", day.Add(-3*time.Hour)),
	}))

	a.now = func() time.Time { return day.Add(time.Hour) }
	require.NoError(t, a.ArchiveHistory(ctx, "acct", []domain.TradeHistoryEntry{
		entry("c", day.Add(-time.Hour)),
	}))

	paths, _ := blobs.List(ctx, "history/acct/2026-05-04/")
	require.Len(t, paths, 2)
	assert.Equal(t, "application/x-ndjson", blobs.types[paths[0].Path])

	got, err := a.ArchivedHistory(ctx, "acct")
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	rows, err := audit.List(ctx, "acct", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "archive.history", rows[0].Event)
}

func TestArchiveHistoryEmptyIsNoop(t *testing.T) {
	blobs := newFakeBlobs()
	a := NewArchiver(blobs, blobs, nil)
	require.NoError(t, a.ArchiveHistory(context.Background(), "acct", nil))
	assert.Empty(t, blobs.objects)
}

func TestArchiveSnapshotPath(t *testing.T) {
	blobs := newFakeBlobs()
	a := NewArchiver(blobs, nil, nil)
	a.now = func() time.Time { return time.Date(2026, 5, 4, 23, 0, 0, 0, time.UTC) }

	state := domain.NewAccountState("team/one")
	require.NoError(t, a.ArchiveSnapshot(context.Background(), state))

	_, ok := blobs.objects["snapshots/team_one/2026-05-04.json"]
	assert.True(t, ok)
	assert.Equal(t, 0, blobs.multipart)
}

func TestArchivedHistoryWithoutReader(t *testing.T) {
	a := NewArchiver(newFakeBlobs(), nil, nil)
	_, err := a.ArchivedHistory(context.Background(), "acct")
	assert.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://s3.example.com", normaliseEndpoint("s3.example.com", false))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}
