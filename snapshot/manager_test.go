package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/INLOpen/tablesnap/catalog"
	"github.com/INLOpen/tablesnap/core"
	"github.com/INLOpen/tablesnap/hooks"
	"github.com/INLOpen/tablesnap/internal/testutil"
	"github.com/INLOpen/tablesnap/utils/clock"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	fs      afero.Fs
	roots   []string
	catalog *catalog.Catalog
	clock   *clock.MockClock
	hooks   hooks.HookManager
	files   *interceptHelper
	manager *Manager
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()
	fs := afero.NewMemMapFs()
	roots := []string{"/data1", "/data2"}
	cat, err := catalog.Open(catalog.Options{Fs: fs, DataDirs: roots})
	require.NoError(t, err)

	env := &testEnv{
		fs:      fs,
		roots:   roots,
		catalog: cat,
		clock:   clock.NewMockClock(testStart),
		hooks:   hooks.NewHookManager(nil),
		files:   &interceptHelper{aferoHelper: newFileHelper(fs)},
	}
	o := Options{
		Layout:        NewLayout(fs, roots),
		Tables:        cat,
		Registry:      NewRegistry(CaseSensitive),
		Clock:         env.clock,
		Tracer:        noop.NewTracerProvider().Tracer("test"),
		Hooks:         env.hooks,
		MinAllowedTTL: time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	env.manager = newManagerWithHelper(o, env.files)
	return env
}

// createTable registers ks.name and writes data files into its first data root.
func (e *testEnv) createTable(t *testing.T, ks, name string, files map[string]string) core.TableMetadata {
	t.Helper()
	if _, err := e.catalog.Tables(ks); err != nil {
		require.NoError(t, e.catalog.CreateKeyspace(ks))
	}
	tbl, err := e.catalog.CreateTable(testutil.NewTable(ks, name))
	require.NoError(t, err)
	if len(files) > 0 {
		testutil.WriteDataFiles(t, e.fs, testutil.TableDir(e.roots[0], tbl), files)
	}
	return tbl
}

func (e *testEnv) snapshotDirs(tbl core.TableMetadata, tag string) []string {
	var dirs []string
	for _, root := range e.roots {
		dirs = append(dirs, filepath.Join(testutil.TableDir(root, tbl), core.SnapshotsDirName, tag))
	}
	return dirs
}

func ttl(d time.Duration) *time.Duration { return &d }

func tables(names ...string) Scope { return Scope{Tables: names} }

type funcListener struct {
	fn    func(ctx context.Context, event hooks.HookEvent) error
	async bool
}

func (l *funcListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	return l.fn(ctx, event)
}
func (l *funcListener) Priority() int { return 0 }
func (l *funcListener) IsAsync() bool { return l.async }

func TestManager_ListEmpty(t *testing.T) {
	env := newTestEnv(t)
	rows, err := env.manager.List(ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestManager_CreateWritesEveryDataRoot(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.createTable(t, "ks", "events", map[string]string{"nb-1-big-Data.db": "hello", "nb-1-big-Index.db": "idx"})
	testutil.WriteDataFiles(t, env.fs, testutil.TableDir(env.roots[1], tbl), map[string]string{"nb-2-big-Data.db": "world"})

	created, err := env.manager.Create(context.Background(), CreateRequest{Scope: tables("ks.events"), Tag: "backup1"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	s := created[0]

	assert.Equal(t, "backup1", s.Tag)
	assert.Equal(t, tbl.ID, s.TableID)
	assert.True(t, s.CreatedAt.Equal(testStart))
	assert.False(t, s.IsExpiring())
	assert.Equal(t, []string{"nb-1-big-Data.db", "nb-1-big-Index.db", "nb-2-big-Data.db"}, s.Files)

	dirs := env.snapshotDirs(tbl, "backup1")
	assert.Equal(t, dirs, s.Directories)
	for _, dir := range dirs {
		testutil.RequireSnapshotDir(t, env.fs, dir)
	}
	assert.Equal(t, []string{core.SnapshotManifestFileName, "nb-1-big-Data.db", "nb-1-big-Index.db", core.SnapshotSchemaFileName}, testutil.ListFiles(t, env.fs, dirs[0]))
	assert.Equal(t, []string{core.SnapshotManifestFileName, "nb-2-big-Data.db", core.SnapshotSchemaFileName}, testutil.ListFiles(t, env.fs, dirs[1]))

	m, schema, err := ReadManifest(env.fs, dirs[1])
	require.NoError(t, err)
	assert.Equal(t, s.Files, m.Files)
	assert.Equal(t, tbl.CreateStatements(), schema)

	assert.True(t, env.manager.Registry().Exists(tbl.ID, "backup1"))
}

func TestManager_CreateDuplicateTag(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "ks", "t1", map[string]string{"a.db": "a"})
	env.createTable(t, "ks", "t2", nil)
	ctx := context.Background()

	_, err := env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t1"), Tag: "dup"})
	require.NoError(t, err)

	before := promtest.ToFloat64(SnapshotCreateFailuresTotal.WithLabelValues(failAlreadyExists))
	_, err = env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t1"), Tag: "dup"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, "Snapshot dup for ks.t1 already exists.", err.Error())
	assert.Equal(t, before+1, promtest.ToFloat64(SnapshotCreateFailuresTotal.WithLabelValues(failAlreadyExists)))

	_, err = env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t2"), Tag: "dup"})
	require.NoError(t, err, "the same tag on another table is allowed")
}

func TestManager_CreateTTL(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "ks", "t", map[string]string{"a.db": "a"})
	ctx := context.Background()

	created, err := env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "expiring", TTL: ttl(5 * time.Second)})
	require.NoError(t, err)
	s := created[0]
	require.True(t, s.IsExpiring())
	assert.True(t, s.ExpiresAt.Equal(testStart.Add(5*time.Second)))
	assert.False(t, s.IsExpired(env.clock.Now()))
	assert.False(t, s.IsExpired(testStart.Add(4999*time.Millisecond)))
	assert.True(t, s.IsExpired(testStart.Add(5*time.Second)))

	created, err = env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "forever"})
	require.NoError(t, err)
	assert.False(t, created[0].IsExpiring())
	assert.False(t, created[0].IsExpired(testStart.Add(100*365*24*time.Hour)))
}

func TestManager_CreateRejectsBadInputBeforeTouchingDisk(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.MinAllowedTTL = 60 * time.Second })
	tbl := env.createTable(t, "ks", "t", map[string]string{"a.db": "a"})
	ctx := context.Background()

	_, err := env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "short", TTL: ttl(5 * time.Second)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	assert.Contains(t, err.Error(), "ttl for snapshot must be at least 60 seconds")

	_, err = env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "a/b"})
	assert.ErrorIs(t, err, ErrInvalidTag)

	_, err = env.manager.Create(ctx, CreateRequest{Scope: tables("ks.missing"), Tag: "x"})
	assert.ErrorIs(t, err, ErrUnknownTable)
	_, err = env.manager.Create(ctx, CreateRequest{Scope: tables("nodot"), Tag: "x"})
	assert.ErrorIs(t, err, ErrUnknownTable)
	_, err = env.manager.Create(ctx, CreateRequest{Scope: Scope{Keyspaces: []string{"nope"}}, Tag: "x"})
	assert.ErrorIs(t, err, ErrUnknownKeyspace)

	for _, dir := range env.snapshotDirs(tbl, "short") {
		testutil.RequireNoDir(t, env.fs, dir)
	}
	assert.Zero(t, env.manager.Registry().Len())
}

func TestParseTTL(t *testing.T) {
	testCases := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"5s", 5 * time.Second, false},
		{"1h", time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"30", 30 * time.Second, false},
		{" 2s ", 2 * time.Second, false},
		{"1s", 0, true},
		{"0", 0, true},
		{"-5s", 0, true},
		{"soon", 0, true},
		{"", 0, true},
		{"9223372036", 9223372036 * time.Second, false},
		{"9223372037", 0, true},
		{"18446744074", 0, true},
		{"-9223372037", 0, true},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			d, err := ParseTTL(tc.input, 2*time.Second)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTTL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, d)
		})
	}

	_, err := ParseTTL("1s", 2*time.Second)
	assert.EqualError(t, err, "invalid snapshot ttl: ttl for snapshot must be at least 2 seconds")
}

func TestManager_CreateScopes(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "ks1", "a", nil)
	env.createTable(t, "ks1", "b", nil)
	env.createTable(t, "ks2", "c", nil)
	ctx := context.Background()

	all, err := env.manager.Create(ctx, CreateRequest{Tag: "all"})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, s := range all {
		assert.True(t, s.CreatedAt.Equal(all[0].CreatedAt), "one operation shares one creation instant")
	}

	ks, err := env.manager.Create(ctx, CreateRequest{Scope: Scope{Keyspaces: []string{"ks1"}}, Tag: "ks1-only"})
	require.NoError(t, err)
	assert.Len(t, ks, 2)

	explicit, err := env.manager.Create(ctx, CreateRequest{Scope: tables("ks1.a", "ks2.c", "ks1.a"), Tag: "pair"})
	require.NoError(t, err)
	assert.Len(t, explicit, 2, "duplicates in the scope are snapshotted once")
}

func TestManager_ExoticAndCaseFoldedTags(t *testing.T) {
	t.Run("exotic name", func(t *testing.T) {
		env := newTestEnv(t)
		tbl := env.createTable(t, "ks", "t", map[string]string{"a.db": "a"})
		_, err := env.manager.Create(context.Background(), CreateRequest{Scope: tables("ks.t"), Tag: "snapshot.with.dots-and-dashes"})
		require.NoError(t, err)
		for _, dir := range env.snapshotDirs(tbl, "snapshot.with.dots-and-dashes") {
			testutil.RequireSnapshotDir(t, env.fs, dir)
		}
	})

	t.Run("case insensitive collision", func(t *testing.T) {
		env := newTestEnv(t, func(o *Options) { o.Registry = NewRegistry(CaseInsensitive) })
		env.createTable(t, "ks", "t", nil)
		ctx := context.Background()
		_, err := env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "snapshot"})
		require.NoError(t, err)
		_, err = env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "Snapshot"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("case sensitive distinct", func(t *testing.T) {
		env := newTestEnv(t)
		env.createTable(t, "ks", "t", nil)
		ctx := context.Background()
		_, err := env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "snapshot"})
		require.NoError(t, err)
		_, err = env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "Snapshot"})
		require.NoError(t, err)
		assert.Equal(t, 2, env.manager.Registry().Len())
	})
}

func TestManager_CreateRefusesUnregisteredDirectory(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.createTable(t, "ks", "t", map[string]string{"a.db": "a"})
	leftover := env.snapshotDirs(tbl, "old")[1]
	testutil.WriteDataFiles(t, env.fs, leftover, map[string]string{"keep.db": "x"})

	_, err := env.manager.Create(context.Background(), CreateRequest{Scope: tables("ks.t"), Tag: "old"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	assert.Equal(t, []string{"keep.db"}, testutil.ListFiles(t, env.fs, leftover), "existing directory is left intact")
	testutil.RequireNoDir(t, env.fs, env.snapshotDirs(tbl, "old")[0])
	assert.False(t, env.manager.Registry().Exists(tbl.ID, "old"))
}

func TestManager_ConcurrentCreateSameTag(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "ks", "t", map[string]string{"a.db": "a", "b.db": "b"})

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.manager.Create(context.Background(), CreateRequest{Scope: tables("ks.t"), Tag: "race"})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyExists)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, env.manager.Registry().Len())
}

func TestManager_CreateFailureCleansUp(t *testing.T) {
	env := newTestEnv(t)
	t1 := env.createTable(t, "ks", "t1", map[string]string{"a.db": "a"})
	t2 := env.createTable(t, "ks", "t2", map[string]string{"b.db": "b"})
	ctx := context.Background()

	linkErr := errors.New("simulated link failure")
	env.files.InterceptLinkOrCopyFile = func(src, dst string) error {
		if strings.Contains(src, t2.DirName()) {
			return linkErr
		}
		return env.files.aferoHelper.LinkOrCopyFile(src, dst)
	}

	created, err := env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t1", "ks.t2"), Tag: "partial"})
	require.Error(t, err)
	assert.ErrorIs(t, err, linkErr)
	require.Len(t, created, 1, "tables before the failing one keep their snapshots")
	assert.Equal(t, "t1", created[0].Table)

	for _, dir := range env.snapshotDirs(t1, "partial") {
		testutil.RequireSnapshotDir(t, env.fs, dir)
	}
	for _, dir := range env.snapshotDirs(t2, "partial") {
		testutil.RequireNoDir(t, env.fs, dir)
	}
	assert.False(t, env.manager.Registry().Exists(t2.ID, "partial"))

	// The reservation was released.
	env.files.InterceptLinkOrCopyFile = nil
	_, err = env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t2"), Tag: "partial"})
	require.NoError(t, err)
}

func TestManager_ManifestWriteFailureCleansUp(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.createTable(t, "ks", "t", map[string]string{"a.db": "a"})
	env.files.InterceptWriteFile = func(path string, data []byte) error {
		if strings.HasPrefix(path, env.roots[1]) && strings.HasSuffix(path, core.SnapshotManifestFileName) {
			return errors.New("disk full")
		}
		return env.files.aferoHelper.WriteFileAtomic(path, data)
	}

	_, err := env.manager.Create(context.Background(), CreateRequest{Scope: tables("ks.t"), Tag: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	for _, dir := range env.snapshotDirs(tbl, "m") {
		testutil.RequireNoDir(t, env.fs, dir)
	}
	assert.Zero(t, env.manager.Registry().Len())
}

func TestManager_PreCreateHookCancels(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.createTable(t, "ks", "t", map[string]string{"a.db": "a"})
	var seen hooks.PreCreateSnapshotPayload
	env.hooks.Register(hooks.EventPreCreateSnapshot, &funcListener{fn: func(_ context.Context, ev hooks.HookEvent) error {
		seen = ev.Payload().(hooks.PreCreateSnapshotPayload)
		return errors.New("not today")
	}})

	_, err := env.manager.Create(context.Background(), CreateRequest{Scope: tables("ks.t"), Tag: "x", TTL: ttl(time.Minute)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation cancelled by pre-hook")

	assert.Equal(t, "x", seen.Tag)
	assert.Equal(t, []string{"ks.t"}, seen.Tables)
	assert.Equal(t, env.roots, seen.DataDirs)
	require.NotNil(t, seen.ExpiresAt)
	assert.True(t, seen.ExpiresAt.Equal(testStart.Add(time.Minute)))
	for _, dir := range env.snapshotDirs(tbl, "x") {
		testutil.RequireNoDir(t, env.fs, dir)
	}
}

func TestManager_PostCreateHookFires(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "ks", "t", nil)
	var got []hooks.PostCreateSnapshotPayload
	env.hooks.Register(hooks.EventPostCreateSnapshot, &funcListener{fn: func(_ context.Context, ev hooks.HookEvent) error {
		got = append(got, ev.Payload().(hooks.PostCreateSnapshotPayload))
		return nil
	}})

	_, err := env.manager.Create(context.Background(), CreateRequest{Scope: tables("ks.t"), Tag: "x"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "manual", got[0].Trigger)
	assert.Equal(t, "t", got[0].Table)
	assert.Len(t, got[0].Directories, 2)
}

// peer returns a manager with its own registry over the same data
// directories, as a second process sharing them would have.
func (e *testEnv) peer(t *testing.T) *Manager {
	t.Helper()
	m := newManagerWithHelper(Options{
		Layout:        NewLayout(e.fs, e.roots),
		Tables:        e.catalog,
		Registry:      NewRegistry(CaseSensitive),
		Clock:         e.clock,
		Tracer:        noop.NewTracerProvider().Tracer("test"),
		MinAllowedTTL: time.Second,
	}, nil)
	_, err := m.Rebuild(context.Background())
	require.NoError(t, err)
	return m
}

func TestManager_RestartKeepsExpiration(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.createTable(t, "ks", "t", map[string]string{"a.db": "a"})
	ctx := context.Background()

	created, err := env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "ttl", TTL: ttl(time.Hour), Ephemeral: true})
	require.NoError(t, err)

	// Simulate a restart some time later.
	env.clock.Advance(10 * time.Minute)
	restarted := newManagerWithHelper(Options{
		Layout:   NewLayout(env.fs, env.roots),
		Tables:   env.catalog,
		Registry: NewRegistry(CaseSensitive),
		Clock:    env.clock,
		Tracer:   noop.NewTracerProvider().Tracer("test"),
	}, nil)
	res, err := restarted.Rebuild(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Snapshots, 1)

	s, ok := restarted.Registry().Lookup(tbl.ID, "ttl")
	require.True(t, ok)
	require.NotNil(t, s.ExpiresAt)
	assert.True(t, s.ExpiresAt.Equal(*created[0].ExpiresAt))
	assert.True(t, s.CreatedAt.Equal(created[0].CreatedAt))
	assert.True(t, s.Ephemeral)
	assert.Equal(t, created[0].Directories, s.Directories)
}

func TestManager_ClearByTag(t *testing.T) {
	env := newTestEnv(t)
	t1 := env.createTable(t, "ks", "t1", map[string]string{"a.db": "a"})
	t2 := env.createTable(t, "ks2", "t2", map[string]string{"b.db": "b"})
	ctx := context.Background()

	_, err := env.manager.Create(ctx, CreateRequest{Tag: "shared"})
	require.NoError(t, err)
	_, err = env.manager.Create(ctx, CreateRequest{Tag: "other"})
	require.NoError(t, err)

	before := promtest.ToFloat64(SnapshotsClearedTotal.WithLabelValues(string(ClearManual)))
	n, err := env.manager.Clear(ctx, ClearRequest{Tag: "shared"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, before+2, promtest.ToFloat64(SnapshotsClearedTotal.WithLabelValues(string(ClearManual))))

	for _, tbl := range []core.TableMetadata{t1, t2} {
		for _, dir := range env.snapshotDirs(tbl, "shared") {
			testutil.RequireNoDir(t, env.fs, dir)
		}
		for _, dir := range env.snapshotDirs(tbl, "other") {
			testutil.RequireSnapshotDir(t, env.fs, dir)
		}
		// Live data is untouched.
		assert.NotEmpty(t, testutil.ListFiles(t, env.fs, testutil.TableDir(env.roots[0], tbl)))
	}
	assert.Equal(t, 2, env.manager.Registry().Len())

	n, err = env.manager.Clear(ctx, ClearRequest{Tag: "absent"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_ClearFilters(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "ks1", "a", nil)
	env.createTable(t, "ks1", "b", nil)
	env.createTable(t, "ks2", "c", nil)
	ctx := context.Background()
	for _, tag := range []string{"x", "y"} {
		_, err := env.manager.Create(ctx, CreateRequest{Tag: tag})
		require.NoError(t, err)
	}

	n, err := env.manager.Clear(ctx, ClearRequest{Tag: "x", Keyspace: "ks1", Table: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = env.manager.Clear(ctx, ClearRequest{All: true, Keyspace: "ks1"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = env.manager.Clear(ctx, ClearRequest{All: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, env.manager.Registry().Len())
}

func TestManager_ClearRequiresTagOrAll(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.manager.Clear(context.Background(), ClearRequest{Keyspace: "ks"})
	assert.ErrorIs(t, err, ErrInvalidClearRequest)
	_, err = env.manager.Clear(context.Background(), ClearRequest{Tag: "x", All: true})
	assert.ErrorIs(t, err, ErrInvalidClearRequest)
}

func TestManager_ClearFailureKeepsEntry(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "ks", "t1", nil)
	t2 := env.createTable(t, "ks", "t2", nil)
	ctx := context.Background()
	_, err := env.manager.Create(ctx, CreateRequest{Tag: "snap"})
	require.NoError(t, err)

	env.files.InterceptRemoveAll = func(path string) error {
		if strings.Contains(path, t2.DirName()) && strings.HasPrefix(path, env.roots[1]) {
			return errors.New("permission denied")
		}
		return env.files.aferoHelper.RemoveAll(path)
	}
	var postErr error
	env.hooks.Register(hooks.EventPostClearSnapshot, &funcListener{fn: func(_ context.Context, ev hooks.HookEvent) error {
		if p := ev.Payload().(hooks.PostClearSnapshotPayload); p.Err != nil {
			postErr = p.Err
		}
		return nil
	}})

	n, err := env.manager.Clear(ctx, ClearRequest{Tag: "snap"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, 1, n, "the other table is still cleared")
	assert.Error(t, postErr)

	assert.True(t, env.manager.Registry().Exists(t2.ID, "snap"), "a failed removal stays registered")
	rows, err := env.manager.List(ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t2", rows[0].Table)

	env.files.InterceptRemoveAll = nil
	n, err = env.manager.Clear(ctx, ClearRequest{Tag: "snap"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, env.manager.Registry().Len())
}

func TestManager_ClearSnapshotStaleEntryIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "ks", "t", nil)
	ctx := context.Background()
	created, err := env.manager.Create(ctx, CreateRequest{Tag: "x"})
	require.NoError(t, err)

	require.NoError(t, env.manager.ClearSnapshot(ctx, created[0], ClearManual))
	require.NoError(t, env.manager.ClearSnapshot(ctx, created[0], ClearManual))
	assert.Zero(t, env.manager.Registry().Len())
}

func TestManager_ClearEphemeral(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "ks", "t", nil)
	ctx := context.Background()
	_, err := env.manager.Create(ctx, CreateRequest{Tag: "eph", Ephemeral: true})
	require.NoError(t, err)
	_, err = env.manager.Create(ctx, CreateRequest{Tag: "keep"})
	require.NoError(t, err)

	n, err := env.manager.ClearEphemeral(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rows, err := env.manager.List(ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "keep", rows[0].Tag)
}

func TestManager_ListSizes(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.createTable(t, "ks", "t", map[string]string{"a.db": "hello", "b.db": "world!"})
	ctx := context.Background()
	_, err := env.manager.Create(ctx, CreateRequest{Tag: "sized"})
	require.NoError(t, err)
	_, err = env.manager.Create(ctx, CreateRequest{Tag: "ttl", TTL: ttl(time.Hour)})
	require.NoError(t, err)

	rows, err := env.manager.List(ListOptions{Keyspace: "ks"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "sized", rows[0].Tag)
	assert.Equal(t, int64(0), rows[0].TrueSize, "every snapshotted file is still live")
	assert.Greater(t, rows[0].Size, int64(11))

	// Compaction removed a.db from the live set.
	require.NoError(t, env.fs.Remove(filepath.Join(testutil.TableDir(env.roots[0], tbl), "a.db")))
	rows, err = env.manager.List(ListOptions{NoTTL: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(5), rows[0].TrueSize)
	assert.Nil(t, rows[0].ExpiresAt)
}

func TestManager_ListAfterDropKeepsTableName(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.createTable(t, "ks", "t", map[string]string{"a.db": "hello"})
	ctx := context.Background()
	_, err := env.manager.Create(ctx, CreateRequest{Tag: "before-drop"})
	require.NoError(t, err)

	require.NoError(t, env.catalog.DropTable(ctx, "ks", "t"))

	rows, err := env.manager.List(ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t", rows[0].Table)
	assert.Equal(t, tbl.ID.String(), rows[0].TableID)
	assert.Equal(t, int64(5), rows[0].TrueSize, "the dropped table no longer references the data")
	for _, dir := range env.snapshotDirs(tbl, "before-drop") {
		testutil.RequireSnapshotDir(t, env.fs, dir)
	}
}

func TestManager_RebuildFiresHook(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "ks", "t", nil)
	_, err := env.manager.Create(context.Background(), CreateRequest{Tag: "x"})
	require.NoError(t, err)

	var payload hooks.PostRegistryRebuildPayload
	env.hooks.Register(hooks.EventPostRegistryRebuild, &funcListener{fn: func(_ context.Context, ev hooks.HookEvent) error {
		payload = ev.Payload().(hooks.PostRegistryRebuildPayload)
		return nil
	}})
	_, err = env.manager.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, payload.Snapshots)
	assert.Equal(t, float64(env.manager.Registry().Len()), promtest.ToFloat64(RegistrySnapshots))
}

func TestManager_ClearRemovesUnregisteredDirectories(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.createTable(t, "ks", "t", map[string]string{"a.db": "a"})
	other := env.createTable(t, "ks2", "u", nil)
	ctx := context.Background()

	// Leftovers of creations that never wrote a manifest.
	nightly := env.snapshotDirs(tbl, "nightly")[0]
	testutil.WriteDataFiles(t, env.fs, nightly, map[string]string{"a.db": "a"})
	weekly := env.snapshotDirs(other, "weekly")[1]
	testutil.WriteDataFiles(t, env.fs, weekly, map[string]string{"b.db": "b"})

	res, err := env.manager.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, env.manager.Registry().Len())

	n, err := env.manager.Clear(ctx, ClearRequest{Tag: "nightly"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	testutil.RequireNoDir(t, env.fs, nightly)
	testutil.RequireSnapshotDir(t, env.fs, weekly)

	_, err = env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "nightly"})
	require.NoError(t, err, "the tag is usable again")

	n, err = env.manager.Clear(ctx, ClearRequest{All: true, Keyspace: "ks2"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	testutil.RequireNoDir(t, env.fs, weekly)
	assert.True(t, env.manager.Registry().Exists(tbl.ID, "nightly"), "other keyspaces are untouched")
}

func TestManager_ClearSnapshotLeavesReplacedDirectories(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.createTable(t, "ks", "t", map[string]string{"a.db": "a"})
	ctx := context.Background()

	_, err := env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "nightly", TTL: ttl(time.Hour)})
	require.NoError(t, err)
	outdated, ok := env.manager.Registry().Lookup(tbl.ID, "nightly")
	require.True(t, ok)

	// Another process clears the tag and takes it again without a TTL.
	peer := env.peer(t)
	n, err := peer.Clear(ctx, ClearRequest{Tag: "nightly"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = peer.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "nightly"})
	require.NoError(t, err)

	var cleared int
	env.hooks.Register(hooks.EventPreClearSnapshot, &funcListener{fn: func(context.Context, hooks.HookEvent) error {
		cleared++
		return nil
	}})
	require.NoError(t, env.manager.ClearSnapshot(ctx, outdated, ClearExpired))
	assert.Zero(t, cleared, "nothing is cleared")
	for _, dir := range env.snapshotDirs(tbl, "nightly") {
		testutil.RequireSnapshotDir(t, env.fs, dir)
	}
	assert.False(t, env.manager.Registry().Exists(tbl.ID, "nightly"), "the outdated entry is dropped")

	// An explicit clear of the tag still reaches the newer snapshot.
	n, err = env.manager.Clear(ctx, ClearRequest{Tag: "nightly"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	for _, dir := range env.snapshotDirs(tbl, "nightly") {
		testutil.RequireNoDir(t, env.fs, dir)
	}
}

func TestManager_RefreshFollowsOtherProcesses(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.createTable(t, "ks", "t", map[string]string{"a.db": "a"})
	ctx := context.Background()

	_, err := env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "old", TTL: ttl(time.Hour)})
	require.NoError(t, err)
	_, err = env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "kept"})
	require.NoError(t, err)

	peer := env.peer(t)
	_, err = peer.Clear(ctx, ClearRequest{Tag: "old"})
	require.NoError(t, err)
	_, err = peer.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "old"})
	require.NoError(t, err)
	_, err = peer.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "new", TTL: ttl(time.Minute)})
	require.NoError(t, err)
	_, err = peer.Clear(ctx, ClearRequest{Tag: "kept"})
	require.NoError(t, err)

	require.NoError(t, env.manager.Refresh(ctx))
	assert.Equal(t, 2, env.manager.Registry().Len())
	s, ok := env.manager.Registry().Lookup(tbl.ID, "old")
	require.True(t, ok)
	assert.Nil(t, s.ExpiresAt, "the re-created snapshot replaces the stale entry")
	s, ok = env.manager.Registry().Lookup(tbl.ID, "new")
	require.True(t, ok)
	require.NotNil(t, s.ExpiresAt)
	assert.False(t, env.manager.Registry().Exists(tbl.ID, "kept"))

	// Unchanged entries keep their identity.
	_, err = env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "kept"})
	require.NoError(t, err)
	kept, ok := env.manager.Registry().Lookup(tbl.ID, "kept")
	require.True(t, ok)
	require.NoError(t, env.manager.Refresh(ctx))
	again, ok := env.manager.Registry().Lookup(tbl.ID, "kept")
	require.True(t, ok)
	assert.Same(t, kept, again)
}

func TestManager_PreClearHookCancelRestoresEntry(t *testing.T) {
	env := newTestEnv(t)
	tbl := env.createTable(t, "ks", "t", map[string]string{"a.db": "a"})
	ctx := context.Background()
	_, err := env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "guarded"})
	require.NoError(t, err)

	var seen hooks.PreClearSnapshotPayload
	env.hooks.Register(hooks.EventPreClearSnapshot, &funcListener{fn: func(_ context.Context, ev hooks.HookEvent) error {
		seen = ev.Payload().(hooks.PreClearSnapshotPayload)
		return errors.New("legal hold")
	}})

	n, err := env.manager.Clear(ctx, ClearRequest{Tag: "guarded"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "legal hold")
	assert.Zero(t, n)
	assert.Equal(t, "guarded", seen.Tag)
	assert.Equal(t, string(ClearManual), seen.Reason)

	assert.True(t, env.manager.Registry().Exists(tbl.ID, "guarded"))
	for _, dir := range env.snapshotDirs(tbl, "guarded") {
		testutil.RequireSnapshotDir(t, env.fs, dir)
	}
}

func TestManager_PostClearHookSeesFailure(t *testing.T) {
	env := newTestEnv(t)
	env.createTable(t, "ks", "t", nil)
	ctx := context.Background()
	_, err := env.manager.Create(ctx, CreateRequest{Scope: tables("ks.t"), Tag: "x"})
	require.NoError(t, err)

	env.files.InterceptRemoveAll = func(string) error { return errors.New("read-only file system") }
	got := make(chan hooks.PostClearSnapshotPayload, 1)
	env.hooks.Register(hooks.EventPostClearSnapshot, &funcListener{async: true, fn: func(ctx context.Context, ev hooks.HookEvent) error {
		assert.NoError(t, ctx.Err())
		got <- ev.Payload().(hooks.PostClearSnapshotPayload)
		return nil
	}})

	cctx, cancel := context.WithCancel(ctx)
	_, err = env.manager.Clear(cctx, ClearRequest{Tag: "x"})
	cancel()
	require.Error(t, err)

	select {
	case p := <-got:
		assert.Equal(t, "x", p.Tag)
		assert.ErrorContains(t, p.Err, "read-only file system")
	case <-time.After(2 * time.Second):
		t.Fatal("post-clear listener was not called")
	}
}

func ExampleParseTTL() {
	d, err := ParseTTL("90m", time.Minute)
	fmt.Println(d, err)
	_, err = ParseTTL("10s", time.Minute)
	fmt.Println(err)
	// Output:
	// 1h30m0s <nil>
	// invalid snapshot ttl: ttl for snapshot must be at least 60 seconds
}
