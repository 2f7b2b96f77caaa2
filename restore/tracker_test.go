package restore

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelops/vaultfast/config"
	"github.com/reelops/vaultfast/notify"
	"github.com/reelops/vaultfast/provider"
	"github.com/reelops/vaultfast/store"
)

// fakeVault is an in-memory ObjectStore for restore tests. Only the methods
// the tracker touches are meaningful.
type fakeVault struct {
	mu           sync.Mutex
	statuses     map[string]provider.RestoreStatus
	statusErr    map[string]error
	restoreErr   error
	objects      map[string][]byte
	restoreCalls map[string]int
	statusCalls  map[string]int
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		statuses:     make(map[string]provider.RestoreStatus),
		statusErr:    make(map[string]error),
		objects:      make(map[string][]byte),
		restoreCalls: make(map[string]int),
		statusCalls:  make(map[string]int),
	}
}

func (v *fakeVault) setStatus(key string, s provider.RestoreStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses[key] = s
}

func (v *fakeVault) RestoreStatus(_ context.Context, key string) (*provider.RestoreStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statusCalls[key]++
	if err := v.statusErr[key]; err != nil {
		return nil, err
	}
	s := v.statuses[key]
	return &s, nil
}

func (v *fakeVault) Restore(_ context.Context, key string, _ store.RestoreTier, _ int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.restoreErr != nil {
		return v.restoreErr
	}
	v.restoreCalls[key]++
	s := v.statuses[key]
	s.Ongoing = true
	v.statuses[key] = s
	return nil
}

func (v *fakeVault) Head(_ context.Context, key string) (*provider.ObjectInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	data, ok := v.objects[key]
	if !ok {
		return nil, provider.ErrObjectNotFound
	}
	return &provider.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (v *fakeVault) Download(_ context.Context, key string, w io.WriterAt) (int64, error) {
	v.mu.Lock()
	data, ok := v.objects[key]
	v.mu.Unlock()
	if !ok {
		return 0, provider.ErrObjectNotFound
	}
	n, err := w.WriteAt(data, 0)
	return int64(n), err
}

func (v *fakeVault) CheckBucket(context.Context) error { return nil }
func (v *fakeVault) Put(context.Context, string, io.Reader, int64) error {
	return nil
}
func (v *fakeVault) CreateMultipart(context.Context, string) (string, error) { return "", nil }
func (v *fakeVault) UploadPart(context.Context, string, string, int32, io.Reader, int64) (provider.CompletedPart, error) {
	return provider.CompletedPart{}, nil
}
func (v *fakeVault) CompleteMultipart(context.Context, string, string, []provider.CompletedPart) (string, error) {
	return "", nil
}
func (v *fakeVault) AbortMultipart(context.Context, string, string) error { return nil }
func (v *fakeVault) ListUploadedParts(context.Context, string, string) (map[int32]provider.CompletedPart, error) {
	return nil, nil
}
func (v *fakeVault) List(context.Context, string) ([]provider.ObjectInfo, error) { return nil, nil }

// memFS captures files created by downloads.
type memFS struct {
	mu    sync.Mutex
	files map[string]*memFile
}

func newMemFS() *memFS { return &memFS{files: make(map[string]*memFile)} }

type memFile struct {
	mu   sync.Mutex
	data []byte
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if need := off + int64(len(p)); int64(len(f.data)) < need {
		grown := make([]byte, need)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:], p)
	return len(p), nil
}

func (f *memFile) Close() error { return nil }

func (m *memFS) Stat(string) (os.FileInfo, error)      { return nil, os.ErrNotExist }
func (m *memFS) ReadDir(string) ([]os.DirEntry, error) { return nil, os.ErrNotExist }
func (m *memFS) Open(string) (provider.File, error)    { return nil, os.ErrNotExist }
func (m *memFS) Create(path string) (provider.WriterFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &memFile{}
	m.files[path] = f
	return f, nil
}

func testTracker(t *testing.T) (*Tracker, *fakeVault, store.Store, *notify.Hub, *memFS) {
	t.Helper()
	cfg := config.DefaultRestore()
	cfg.Bucket = "vault"
	st := store.NewMemStore()
	vault := newFakeVault()
	hub := notify.NewHub()
	fs := newMemFS()

	tr := NewTracker(Options{
		Config:  cfg,
		Store:   st,
		Objects: vault,
		FS:      fs,
		Hub:     hub,
	})
	return tr, vault, st, hub, fs
}

func drainStatus(events <-chan notify.Event, wait time.Duration) []notify.Event {
	var out []notify.Event
	deadline := time.After(wait)
	for {
		select {
		case ev := <-events:
			if ev.Kind == notify.KindStatus {
				out = append(out, ev)
			}
		case <-deadline:
			return out
		}
	}
}

func TestRequest_NewKey(t *testing.T) {
	tr, vault, _, _, _ := testTracker(t)
	vault.setStatus("uploads/a.mov", provider.RestoreStatus{StorageClass: "DEEP_ARCHIVE"})

	rec, err := tr.Request(context.Background(), "uploads/a.mov", store.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, store.StateInProgress, rec.State)
	assert.Equal(t, store.TierStandard, rec.Tier)
	assert.False(t, rec.RequestedAt.IsZero())
	assert.Equal(t, 1, vault.restoreCalls["uploads/a.mov"])
}

func TestRequest_DefaultTier(t *testing.T) {
	tr, vault, _, _, _ := testTracker(t)
	vault.setStatus("k", provider.RestoreStatus{StorageClass: "DEEP_ARCHIVE"})

	rec, err := tr.Request(context.Background(), "k", "")
	require.NoError(t, err)
	assert.Equal(t, store.TierStandard, rec.Tier)
}

func TestRequest_InvalidTier(t *testing.T) {
	tr, _, _, _, _ := testTracker(t)
	_, err := tr.Request(context.Background(), "k", "Instant")
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestRequest_IdempotentWhileActive(t *testing.T) {
	tr, vault, _, _, _ := testTracker(t)
	vault.setStatus("k", provider.RestoreStatus{StorageClass: "DEEP_ARCHIVE"})

	first, err := tr.Request(context.Background(), "k", store.TierBulk)
	require.NoError(t, err)

	second, err := tr.Request(context.Background(), "k", store.TierExpedited)
	require.NoError(t, err)

	// the existing record comes back untouched, original timestamp included
	assert.Equal(t, first.RequestedAt, second.RequestedAt)
	assert.Equal(t, store.TierBulk, second.Tier)
	assert.Equal(t, 1, vault.restoreCalls["k"])
}

func TestRequest_FreshRecordAfterTerminal(t *testing.T) {
	tr, vault, st, _, _ := testTracker(t)
	vault.setStatus("k", provider.RestoreStatus{StorageClass: "DEEP_ARCHIVE"})

	old := time.Now().UTC().Add(-time.Hour)
	done := old.Add(time.Minute)
	require.NoError(t, st.SaveRestore(&store.RestoreRecord{
		Key: "k", State: store.StateCancelled, Tier: store.TierBulk,
		RequestedAt: old, CompletedAt: &done,
	}))

	rec, err := tr.Request(context.Background(), "k", store.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, store.StateInProgress, rec.State)
	assert.True(t, rec.RequestedAt.After(old))
	assert.Nil(t, rec.CompletedAt)
}

func TestRequest_AlreadyRestored(t *testing.T) {
	tr, vault, _, hub, _ := testTracker(t)
	expiry := time.Now().UTC().Add(72 * time.Hour)
	vault.setStatus("k", provider.RestoreStatus{
		StorageClass: "DEEP_ARCHIVE", Restored: true, ExpiresAt: &expiry,
	})
	_, events := hub.Subscribe()

	rec, err := tr.Request(context.Background(), "k", store.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, store.StateCompleted, rec.State)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, expiry, *rec.ExpiresAt)
	assert.Zero(t, vault.restoreCalls["k"])

	status := drainStatus(events, 200*time.Millisecond)
	require.Len(t, status, 1)
	assert.Equal(t, store.StateCompleted, status[0].State)
}

func TestRequest_OngoingServerSide(t *testing.T) {
	tr, vault, _, _, _ := testTracker(t)
	vault.setStatus("k", provider.RestoreStatus{StorageClass: "DEEP_ARCHIVE", Ongoing: true})

	rec, err := tr.Request(context.Background(), "k", store.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, store.StateInProgress, rec.State)
	// no second restore request for an object the store is already retrieving
	assert.Zero(t, vault.restoreCalls["k"])
}

func TestStatus_UnknownKey(t *testing.T) {
	tr, _, _, _, _ := testTracker(t)
	_, err := tr.Status("missing")
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestCancel(t *testing.T) {
	tr, vault, st, _, _ := testTracker(t)
	vault.setStatus("k", provider.RestoreStatus{StorageClass: "DEEP_ARCHIVE"})

	_, err := tr.Request(context.Background(), "k", store.TierStandard)
	require.NoError(t, err)

	assert.True(t, tr.Cancel("k"))
	rec, err := st.GetRestore("k")
	require.NoError(t, err)
	assert.Equal(t, store.StateCancelled, rec.State)

	// cancelling a terminal restore changes nothing
	assert.False(t, tr.Cancel("k"))
	assert.False(t, tr.Cancel("missing"))
}

func TestClearHistory(t *testing.T) {
	tr, _, st, _, _ := testTracker(t)
	now := time.Now().UTC()
	require.NoError(t, st.SaveRestore(&store.RestoreRecord{
		Key: "done", State: store.StateCompleted, Tier: store.TierBulk, RequestedAt: now,
	}))
	require.NoError(t, st.SaveRestore(&store.RestoreRecord{
		Key: "active", State: store.StateInProgress, Tier: store.TierBulk, RequestedAt: now,
	}))

	removed, err := tr.ClearHistory()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = st.GetRestore("done")
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	_, err = st.GetRestore("active")
	assert.NoError(t, err)
}
