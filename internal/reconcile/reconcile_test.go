package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casebridge/casesync/internal/manifest"
	"github.com/casebridge/casesync/internal/objstore"
	"github.com/casebridge/casesync/internal/pathutil"
	"github.com/casebridge/casesync/internal/sidecar"
)

var testLayout = objstore.Layout{
	RootPrefix:    "cases",
	OrgMarker:     "Acme Law",
	OrgFolderName: "Acme Law",
}

type fakeObject struct {
	data  []byte
	mtime time.Time
}

// fakeStore is an in-memory object store speaking the real key layout.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]*fakeObject

	uploads   []string
	downloads []string
	deletes   []string

	uploadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]*fakeObject)}
}

func (f *fakeStore) put(project, rel string, data []byte, mtime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[testLayout.KeyFor(project, rel)] = &fakeObject{data: data, mtime: mtime.UTC().Truncate(time.Second)}
}

func (f *fakeStore) has(project, rel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[testLayout.KeyFor(project, rel)]
	return ok
}

func (f *fakeStore) KeyFor(project, rel string) string {
	return testLayout.KeyFor(project, rel)
}

func (f *fakeStore) ListProject(_ context.Context, project string) (map[string]*objstore.RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*objstore.RemoteFile)
	for key, obj := range f.objects {
		rel, ok := testLayout.RelFromKey(project, key)
		if !ok {
			continue
		}
		out[pathutil.Fold(rel)] = &objstore.RemoteFile{
			RelOriginal:  rel,
			RealKey:      key,
			LastModified: obj.mtime,
			Size:         int64(len(obj.data)),
		}
	}
	return out, nil
}

func (f *fakeStore) Upload(_ context.Context, localPath, key string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = &fakeObject{data: data, mtime: time.Now().UTC().Truncate(time.Second)}
	f.uploads = append(f.uploads, key)
	return nil
}

func (f *fakeStore) Download(_ context.Context, key, localPath string) error {
	f.mu.Lock()
	obj := f.objects[key]
	f.mu.Unlock()
	if obj == nil {
		return os.ErrNotExist
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(localPath, obj.data, 0o644); err != nil {
		return err
	}
	f.mu.Lock()
	f.downloads = append(f.downloads, key)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deletes = append(f.deletes, key)
	return nil
}

type fakeOrigin struct {
	mu        sync.Mutex
	refreshes []string
	uploads   []string
}

func (f *fakeOrigin) Refresh(_ context.Context, project string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, project)
}

func (f *fakeOrigin) UploadLocal(_ context.Context, project, rel, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, project+"/"+rel)
}

func setup(t *testing.T) (*Reconciler, *fakeStore, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "A"), 0o755))
	store := newFakeStore()
	return New(store, nil, root), store, root
}

func writeLocal(t *testing.T, root, project, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, project, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func loadManifest(root, project string) manifest.Manifest {
	return manifest.Load(filepath.Join(root, project, pathutil.ManifestName))
}

func TestSortKeys(t *testing.T) {
	keys := []string{
		"dir/sub/deep.txt",
		"dir/x.txt",
		"a.txt",
		"dir/sub/.placeholder",
		"dir/.placeholder",
		"dir/b.txt",
	}
	sortKeys(keys)
	assert.Equal(t, []string{
		"dir/.placeholder",
		"dir/sub/.placeholder",
		"a.txt",
		"dir/b.txt",
		"dir/x.txt",
		"dir/sub/deep.txt",
	}, keys)
}

func TestHydration(t *testing.T) {
	r, store, root := setup(t)
	mtime := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store.put("A", "dir/.placeholder", nil, mtime)
	store.put("A", "dir/x.txt", []byte("hello"), mtime)

	stats, err := r.FullPass(context.Background(), "A", true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Downloaded)
	assert.Empty(t, store.uploads)
	assert.Empty(t, store.deletes)

	assert.DirExists(t, filepath.Join(root, "A", "dir"))
	data, err := os.ReadFile(filepath.Join(root, "A", "dir", "x.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	meta, err := sidecar.NewStore(filepath.Join(root, "A")).Get("dir/x.txt")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, sidecar.OriginFilevine, meta.Origin)

	m := loadManifest(root, "A")
	assert.Equal(t, manifest.SourceS3, m["dir/.placeholder"].Source)
	assert.Equal(t, manifest.SourceS3, m["dir/x.txt"].Source)
	assert.Equal(t, mtime, m["dir/x.txt"].LastModified)
}

func TestEchoIdempotence(t *testing.T) {
	r, store, _ := setup(t)
	store.put("A", "dir/.placeholder", nil, time.Now().Add(-time.Hour))
	store.put("A", "dir/x.txt", []byte("hello"), time.Now().Add(-time.Hour))

	_, err := r.FullPass(context.Background(), "A", true)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		stats, err := r.FullPass(context.Background(), "A", false)
		require.NoError(t, err)
		assert.Zero(t, stats.Uploaded)
		assert.Zero(t, stats.Downloaded)
		assert.Zero(t, stats.DeletedLocal)
		assert.Zero(t, stats.DeletedRemote)
	}
	assert.Empty(t, store.uploads)
	assert.Empty(t, store.deletes)
}

func TestPassIdempotence(t *testing.T) {
	r, store, root := setup(t)
	store.put("A", "dir/.placeholder", nil, time.Now().Add(-time.Hour))
	store.put("A", "dir/x.txt", []byte("hello"), time.Now().Add(-time.Hour))
	writeLocal(t, root, "A", "notes.txt", "n")

	_, err := r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(root, "A", pathutil.ManifestName))
	require.NoError(t, err)

	_, err = r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(root, "A", pathutil.ManifestName))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestFastPathUpload(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "A"), 0o755))
	store := newFakeStore()
	origin := &fakeOrigin{}
	r := New(store, origin, root)

	p := writeLocal(t, root, "A", "dir/new.pdf", "pdfbytes")
	require.NoError(t, r.FastPath(context.Background(), "A", p))

	assert.True(t, store.has("A", "dir/new.pdf"))
	meta, err := sidecar.NewStore(filepath.Join(root, "A")).Get("dir/new.pdf")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, sidecar.OriginLocal, meta.Origin)

	m := loadManifest(root, "A")
	assert.Equal(t, manifest.SourceLocal, m["dir/new.pdf"].Source)
	assert.Equal(t, []string{"A/dir/new.pdf"}, origin.uploads)
}

func TestFastPathEchoShield(t *testing.T) {
	r, store, root := setup(t)
	store.put("A", "dir/x.txt", []byte("hello"), time.Now().Add(-time.Hour))
	_, err := r.FullPass(context.Background(), "A", true)
	require.NoError(t, err)

	// the watcher sees our own download land; nothing must go back up
	require.NoError(t, r.FastPath(context.Background(), "A", filepath.Join(root, "A", "dir", "x.txt")))
	assert.Empty(t, store.uploads)
}

func TestFastPathIgnoredAndDirs(t *testing.T) {
	r, store, root := setup(t)
	writeLocal(t, root, "A", "dir/~$lock.docx", "x")
	require.NoError(t, r.FastPath(context.Background(), "A", filepath.Join(root, "A", "dir", "~$lock.docx")))
	require.NoError(t, r.FastPath(context.Background(), "A", filepath.Join(root, "A", "dir")))
	assert.Empty(t, store.uploads)

	assert.Error(t, r.FastPath(context.Background(), "A", filepath.Join(root, "elsewhere.txt")))
}

func TestFastPathIgnoredDirectorySegment(t *testing.T) {
	r, store, root := setup(t)
	// the scanner never sees files under an ignored directory, so the fast
	// path must not upload them either
	p := writeLocal(t, root, "A", "drafts.tmp/brief.docx", "x")
	require.NoError(t, r.FastPath(context.Background(), "A", p))
	assert.Empty(t, store.uploads)
	assert.Empty(t, loadManifest(root, "A"))
}

func TestFastPathDelete(t *testing.T) {
	r, store, root := setup(t)
	p := writeLocal(t, root, "A", "dir/doomed.txt", "x")
	require.NoError(t, r.FastPath(context.Background(), "A", p))
	require.True(t, store.has("A", "dir/doomed.txt"))

	require.NoError(t, os.Remove(p))
	require.NoError(t, r.FastPath(context.Background(), "A", p))
	assert.False(t, store.has("A", "dir/doomed.txt"))
	_, ok := loadManifest(root, "A")["dir/doomed.txt"]
	assert.False(t, ok)
}

func TestRemoteDelete(t *testing.T) {
	r, store, root := setup(t)
	store.put("A", "dir/x.txt", []byte("hello"), time.Now().Add(-time.Hour))
	_, err := r.FullPass(context.Background(), "A", true)
	require.NoError(t, err)

	store.Delete(context.Background(), testLayout.KeyFor("A", "dir/x.txt"))
	store.deletes = nil

	stats, err := r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeletedLocal)
	assert.NoFileExists(t, filepath.Join(root, "A", "dir", "x.txt"))
	_, ok := loadManifest(root, "A")["dir/x.txt"]
	assert.False(t, ok)
	// deleting locally must not have produced an upload or remote delete
	assert.Empty(t, store.uploads)
	assert.Empty(t, store.deletes)
}

func TestCreatePropagateDeleteRoundTrip(t *testing.T) {
	r, store, root := setup(t)
	p := writeLocal(t, root, "A", "brief.docx", "draft one")

	_, err := r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	require.True(t, store.has("A", "brief.docx"))

	require.NoError(t, os.Remove(p))
	stats, err := r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeletedRemote)
	assert.False(t, store.has("A", "brief.docx"))
	_, ok := loadManifest(root, "A")["brief.docx"]
	assert.False(t, ok)
}

func TestDeletionCausality(t *testing.T) {
	r, store, root := setup(t)
	// a remote file never recorded in any manifest must never be deleted,
	// even though it is absent locally
	store.put("A", "dir/seen-first-time.txt", []byte("x"), time.Now().Add(-time.Hour))

	stats, err := r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Downloaded)
	assert.Zero(t, stats.DeletedRemote)
	assert.FileExists(t, filepath.Join(root, "A", "dir", "seen-first-time.txt"))
}

func TestTouchWithIdenticalBytes(t *testing.T) {
	r, store, root := setup(t)
	st := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	store.put("A", "dir/x.txt", []byte("hello"), st)
	_, err := r.FullPass(context.Background(), "A", true)
	require.NoError(t, err)

	// touch 5s past the object time without changing content
	p := filepath.Join(root, "A", "dir", "x.txt")
	touched := st.Add(5 * time.Second)
	require.NoError(t, os.Chtimes(p, touched, touched))

	stats, err := r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.Zero(t, stats.Uploaded)
	assert.Zero(t, stats.Downloaded)
	assert.Empty(t, store.uploads)
}

func TestConflictLocalNewer(t *testing.T) {
	r, store, root := setup(t)
	st := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	store.put("A", "dir/x.txt", []byte("hello"), st)
	_, err := r.FullPass(context.Background(), "A", true)
	require.NoError(t, err)

	p := filepath.Join(root, "A", "dir", "x.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello, edited"), 0o644))
	lt := st.Add(10 * time.Second)
	require.NoError(t, os.Chtimes(p, lt, lt))

	stats, err := r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Uploaded)

	m := loadManifest(root, "A")
	assert.Equal(t, manifest.SourceLocal, m["dir/x.txt"].Source)
	assert.Equal(t, lt, m["dir/x.txt"].LastModified)

	meta, err := sidecar.NewStore(filepath.Join(root, "A")).Get("dir/x.txt")
	require.NoError(t, err)
	assert.Equal(t, sidecar.OriginLocal, meta.Origin)
}

func TestConflictRemoteNewer(t *testing.T) {
	r, store, root := setup(t)
	st := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	store.put("A", "dir/x.txt", []byte("v1"), st)
	_, err := r.FullPass(context.Background(), "A", true)
	require.NoError(t, err)

	// local edit, then a newer remote edit wins
	p := filepath.Join(root, "A", "dir", "x.txt")
	require.NoError(t, os.WriteFile(p, []byte("local edit"), 0o644))
	lt := st.Add(10 * time.Second)
	require.NoError(t, os.Chtimes(p, lt, lt))
	store.put("A", "dir/x.txt", []byte("remote v2"), lt.Add(10*time.Second))

	stats, err := r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Downloaded)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "remote v2", string(data))
	assert.Equal(t, manifest.SourceS3, loadManifest(root, "A")["dir/x.txt"].Source)
}

func TestUploadFailureKeepsPriorRecord(t *testing.T) {
	r, store, root := setup(t)
	st := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	store.put("A", "dir/x.txt", []byte("v1"), st)
	_, err := r.FullPass(context.Background(), "A", true)
	require.NoError(t, err)

	p := filepath.Join(root, "A", "dir", "x.txt")
	require.NoError(t, os.WriteFile(p, []byte("edited"), 0o644))
	lt := st.Add(10 * time.Second)
	require.NoError(t, os.Chtimes(p, lt, lt))

	store.uploadErr = errors.New("store unavailable")
	stats, err := r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Uploaded)

	// the failed upload keeps the download-era record so the retry still
	// knows who introduced the file
	rec, ok := loadManifest(root, "A")["dir/x.txt"]
	require.True(t, ok)
	assert.Equal(t, manifest.SourceS3, rec.Source)
	assert.Equal(t, st, rec.LastModified)

	store.uploadErr = nil
	stats, err = r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Uploaded)
	assert.Equal(t, manifest.SourceLocal, loadManifest(root, "A")["dir/x.txt"].Source)
}

func TestSkewGuard(t *testing.T) {
	r, store, root := setup(t)
	p := writeLocal(t, root, "A", "dir/x.txt", "local bytes")
	info, err := os.Stat(p)
	require.NoError(t, err)
	lt := info.ModTime().UTC().Truncate(time.Second)

	// content differs but timestamps are within the window; no sidecar
	store.put("A", "dir/x.txt", []byte("remote bytes"), lt.Add(1*time.Second))

	stats, err := r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.Zero(t, stats.Uploaded)
	assert.Zero(t, stats.Downloaded)
	assert.Equal(t, 1, stats.Skipped)
}

func TestHydrateSuppressesOutbound(t *testing.T) {
	r, store, root := setup(t)
	writeLocal(t, root, "A", "local-born.txt", "x")
	store.put("A", "dir/x.txt", []byte("hello"), time.Now().Add(-time.Hour))

	stats, err := r.FullPass(context.Background(), "A", true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Downloaded)
	assert.Zero(t, stats.Uploaded)
	assert.False(t, store.has("A", "local-born.txt"))

	// the suppressed upload happens on the next bidirectional pass
	stats, err = r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Uploaded)
	assert.True(t, store.has("A", "local-born.txt"))
}

func TestIgnoreClosure(t *testing.T) {
	r, store, root := setup(t)
	store.put("A", "dir/~$scratch.docx", []byte("x"), time.Now().Add(-time.Hour))
	writeLocal(t, root, "A", "Thumbs.db", "x")

	stats, err := r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.Zero(t, stats.Uploaded)
	assert.Zero(t, stats.Downloaded)

	m := loadManifest(root, "A")
	assert.Empty(t, m)
	assert.NoFileExists(t, filepath.Join(root, "A", "dir", "~$scratch.docx"))
}

func TestCasePreservation(t *testing.T) {
	r, store, root := setup(t)
	store.put("A", "Discovery/To Client/Resp.PDF", []byte("pdf"), time.Now().Add(-time.Hour))

	_, err := r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "A", "Discovery", "To Client", "Resp.PDF"))

	m := loadManifest(root, "A")
	rec, ok := m["discovery/to client/resp.pdf"]
	require.True(t, ok)
	assert.Equal(t, "Discovery/To Client/Resp.PDF", rec.RelOriginal)
}

func TestOriginRefreshSkippedDuringHydrate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "A"), 0o755))
	store := newFakeStore()
	origin := &fakeOrigin{}
	r := New(store, origin, root)

	_, err := r.FullPass(context.Background(), "A", true)
	require.NoError(t, err)
	assert.Empty(t, origin.refreshes)

	_, err = r.FullPass(context.Background(), "A", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, origin.refreshes)
}

func TestProjectLockReused(t *testing.T) {
	r, _, _ := setup(t)
	assert.Same(t, r.Lock("A"), r.Lock("A"))
	assert.NotSame(t, r.Lock("A"), r.Lock("B"))
}
