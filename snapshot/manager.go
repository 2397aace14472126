package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/INLOpen/tablesnap/core"
	"github.com/INLOpen/tablesnap/hooks"
	"github.com/INLOpen/tablesnap/utils/clock"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Trigger records what asked for a snapshot.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerDropped   Trigger = "dropped"
	TriggerTruncated Trigger = "truncated"
)

// ClearReason records why a snapshot was removed.
type ClearReason string

const (
	ClearManual    ClearReason = "manual"
	ClearExpired   ClearReason = "expired"
	ClearEphemeral ClearReason = "ephemeral"
)

const defaultClearConcurrency = 8

// TableSource resolves keyspace and table names to their metadata.
type TableSource interface {
	Keyspaces() []string
	Tables(keyspace string) ([]core.TableMetadata, error)
	Table(keyspace, name string) (core.TableMetadata, error)
}

// Scope selects the tables of a snapshot. With neither field set it covers
// every table of every keyspace.
type Scope struct {
	Keyspaces []string
	// Tables holds "keyspace.table" names and takes precedence over Keyspaces.
	Tables []string
}

type CreateRequest struct {
	Scope     Scope
	Tag       string
	TTL       *time.Duration
	Ephemeral bool
	Trigger   Trigger
}

// ClearRequest selects snapshots to remove. Either Tag or All must be set.
type ClearRequest struct {
	Tag      string
	Keyspace string
	Table    string
	All      bool
	Reason   ClearReason
}

type ListOptions struct {
	NoTTL    bool
	Keyspace string
	Table    string
}

// SnapshotDetails is one row of a snapshot listing.
type SnapshotDetails struct {
	Tag       string
	Keyspace  string
	Table     string
	TableID   string
	TrueSize  int64
	Size      int64
	CreatedAt time.Time
	ExpiresAt *time.Time
	Ephemeral bool
}

type Options struct {
	Layout   *Layout
	Tables   TableSource
	Registry *Registry
	Clock    clock.Clock
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Hooks    hooks.HookManager
	// MinAllowedTTL is the smallest TTL an operator may request.
	MinAllowedTTL    time.Duration
	ClearConcurrency int
}

// Manager creates, clears, and lists table snapshots and keeps the
// Registry in step with the disk.
type Manager struct {
	layout           *Layout
	tables           TableSource
	registry         *Registry
	clock            clock.Clock
	logger           *slog.Logger
	tracer           trace.Tracer
	hooks            hooks.HookManager
	minTTL           time.Duration
	clearConcurrency int

	files fileHelper
}

func NewManager(opts Options) *Manager {
	return newManagerWithHelper(opts, nil)
}

func newManagerWithHelper(opts Options, files fileHelper) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Layout == nil {
		opts.Layout = NewLayout(afero.NewOsFs(), nil)
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry(DefaultTagPolicy())
	}
	if opts.Clock == nil {
		opts.Clock = clock.SystemClockDefault
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/INLOpen/tablesnap/snapshot")
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.NewHookManager(opts.Logger)
	}
	if opts.ClearConcurrency <= 0 {
		opts.ClearConcurrency = defaultClearConcurrency
	}
	if files == nil {
		files = newFileHelper(opts.Layout.Fs())
	}
	return &Manager{
		layout:           opts.Layout,
		tables:           opts.Tables,
		registry:         opts.Registry,
		clock:            opts.Clock,
		logger:           opts.Logger.With("component", "SnapshotManager"),
		tracer:           opts.Tracer,
		hooks:            opts.Hooks,
		minTTL:           opts.MinAllowedTTL,
		clearConcurrency: opts.ClearConcurrency,
		files:            files,
	}
}

func (m *Manager) Registry() *Registry { return m.registry }
func (m *Manager) Layout() *Layout     { return m.layout }
func (m *Manager) Clock() clock.Clock  { return m.clock }

// ParseTTL parses a TTL given as a Go duration ("90m") or a number of
// seconds ("30") and checks it against minTTL.
func ParseTTL(s string, minTTL time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > math.MaxInt64/int64(time.Second) || n < math.MinInt64/int64(time.Second) {
			return 0, fmt.Errorf("%w: %q: ttl for snapshot is too large", ErrInvalidTTL, s)
		}
		d = time.Duration(n) * time.Second
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidTTL, s, err)
		}
	}
	if err := checkTTL(d, minTTL); err != nil {
		return 0, err
	}
	return d, nil
}

func checkTTL(ttl, minTTL time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl for snapshot must be positive", ErrInvalidTTL)
	}
	if ttl < minTTL {
		return fmt.Errorf("%w: ttl for snapshot must be at least %d seconds", ErrInvalidTTL, int64(minTTL/time.Second))
	}
	return nil
}

// Create snapshots every table in req.Scope under req.Tag. All tables share
// one creation instant. On failure the tables already done keep their
// snapshots and are returned alongside the error.
func (m *Manager) Create(ctx context.Context, req CreateRequest) ([]*TableSnapshot, error) {
	if err := ValidateTag(req.Tag); err != nil {
		SnapshotCreateFailuresTotal.WithLabelValues(failInvalid).Inc()
		return nil, err
	}
	if req.TTL != nil {
		if err := checkTTL(*req.TTL, m.minTTL); err != nil {
			SnapshotCreateFailuresTotal.WithLabelValues(failInvalid).Inc()
			return nil, err
		}
	}
	tables, err := m.resolve(req.Scope)
	if err != nil {
		return nil, err
	}
	return m.create(ctx, tables, req, m.clock.Now())
}

func (m *Manager) resolve(scope Scope) ([]core.TableMetadata, error) {
	if m.tables == nil {
		return nil, errors.New("snapshot manager has no table source")
	}
	var out []core.TableMetadata
	seen := make(map[string]struct{})
	add := func(t core.TableMetadata) {
		if _, ok := seen[t.ID.String()]; ok {
			return
		}
		seen[t.ID.String()] = struct{}{}
		out = append(out, t)
	}

	switch {
	case len(scope.Tables) > 0:
		for _, qualified := range scope.Tables {
			ks, name, ok := strings.Cut(qualified, ".")
			if !ok || ks == "" || name == "" {
				return nil, fmt.Errorf("%w: %q is not of the form keyspace.table", ErrUnknownTable, qualified)
			}
			t, err := m.tables.Table(ks, name)
			if err != nil {
				return nil, err
			}
			add(t)
		}
	default:
		keyspaces := scope.Keyspaces
		if len(keyspaces) == 0 {
			keyspaces = m.tables.Keyspaces()
		}
		for _, ks := range keyspaces {
			tables, err := m.tables.Tables(ks)
			if err != nil {
				return nil, err
			}
			for _, t := range tables {
				add(t)
			}
		}
	}
	return out, nil
}

func (m *Manager) create(ctx context.Context, tables []core.TableMetadata, req CreateRequest, now time.Time) ([]*TableSnapshot, error) {
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}
	ctx, span := m.tracer.Start(ctx, "SnapshotManager.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("snapshot.tag", req.Tag),
		attribute.String("snapshot.trigger", string(trigger)),
		attribute.Int("snapshot.tables", len(tables)),
	)

	createdAt := now.UTC()
	var expiresAt *time.Time
	if req.TTL != nil {
		e := createdAt.Add(*req.TTL)
		expiresAt = &e
	}

	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.QualifiedName()
	}
	prePayload := hooks.PreCreateSnapshotPayload{
		Tag:       req.Tag,
		Trigger:   string(trigger),
		Tables:    names,
		DataDirs:  m.layout.Roots(),
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}
	if hookErr := m.hooks.Trigger(ctx, hooks.NewPreCreateSnapshotEvent(prePayload)); hookErr != nil {
		SnapshotCreateFailuresTotal.WithLabelValues(failHook).Inc()
		m.logger.Info("Snapshot creation cancelled by PreCreateSnapshot hook", "tag", req.Tag, "error", hookErr)
		return nil, fmt.Errorf("operation cancelled by pre-hook: %w", hookErr)
	}

	created := make([]*TableSnapshot, 0, len(tables))
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		s, err := m.createTable(t, req, createdAt, expiresAt)
		if err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				SnapshotCreateFailuresTotal.WithLabelValues(failAlreadyExists).Inc()
			} else {
				SnapshotCreateFailuresTotal.WithLabelValues(failIO).Inc()
				m.logger.Warn("Snapshot creation failed", "tag", req.Tag, "table", t.QualifiedName(), "error", err)
			}
			span.RecordError(err)
			RegistrySnapshots.Set(float64(m.registry.Len()))
			return created, err
		}
		created = append(created, s)
		SnapshotsCreatedTotal.WithLabelValues(string(trigger)).Inc()

		postPayload := hooks.PostCreateSnapshotPayload{SnapshotPayload: s.payload(), Trigger: string(trigger)}
		m.hooks.Trigger(ctx, hooks.NewPostCreateSnapshotEvent(postPayload))
	}

	RegistrySnapshots.Set(float64(m.registry.Len()))
	m.logger.Info("Snapshot created", "tag", req.Tag, "trigger", trigger, "tables", len(created))
	return created, nil
}

// createTable materializes one table's snapshot under every data root. The
// key stays reserved for the duration, and any partial directory is removed
// on failure.
func (m *Manager) createTable(t core.TableMetadata, req CreateRequest, createdAt time.Time, expiresAt *time.Time) (_ *TableSnapshot, err error) {
	s := &TableSnapshot{
		Keyspace:  t.Keyspace,
		Table:     t.Name,
		TableID:   t.ID,
		Tag:       req.Tag,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		Ephemeral: req.Ephemeral,
	}
	if err := m.registry.reserve(s); err != nil {
		return nil, err
	}

	var dirs []string
	defer func() {
		if err != nil {
			for _, dir := range dirs {
				if rmErr := m.files.RemoveAll(dir); rmErr != nil {
					m.logger.Warn("Failed to remove partial snapshot directory", "path", dir, "error", rmErr)
				}
			}
			m.registry.release(s.TableID, s.Tag)
		}
	}()

	linked := make(map[string]int64)
	for _, root := range m.layout.Roots() {
		tableDir := m.layout.TableDir(root, t.Keyspace, t.Name, t.ID)
		snapDir := m.layout.SnapshotDir(tableDir, req.Tag)

		// A directory the registry does not know about is a leftover or a
		// case-folded twin of another tag; it is never overwritten.
		exists, statErr := afero.Exists(m.layout.Fs(), snapDir)
		if statErr != nil {
			return nil, fmt.Errorf("failed to stat snapshot directory %s: %w", snapDir, statErr)
		}
		if exists {
			return nil, &AlreadyExistsError{Tag: req.Tag, Keyspace: t.Keyspace, Table: t.Name}
		}

		live, err := m.layout.LiveFiles(tableDir)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, snapDir)
		if err := m.files.MkdirAll(snapDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory %s: %w", snapDir, err)
		}
		for _, name := range sortedNames(live) {
			if err := m.files.LinkOrCopyFile(filepath.Join(tableDir, name), filepath.Join(snapDir, name)); err != nil {
				return nil, fmt.Errorf("failed to link %s into snapshot %s: %w", name, req.Tag, err)
			}
			linked[name] = live[name]
		}
	}

	s.Files = sortedNames(linked)
	s.Directories = dirs
	manifest := s.manifest()
	schema := t.CreateStatements()
	for _, dir := range dirs {
		if err := writeManifest(m.files.WriteFileAtomic, dir, manifest, schema); err != nil {
			return nil, fmt.Errorf("failed to write manifest for snapshot %s of %s: %w", req.Tag, t.QualifiedName(), err)
		}
	}

	m.registry.commit(s)
	return s, nil
}

// Clear removes every snapshot matching req, registered or not. Removals of
// registered snapshots run concurrently and one failure does not stop the
// others; failures are joined in the result. It returns the number of
// snapshots removed.
func (m *Manager) Clear(ctx context.Context, req ClearRequest) (int, error) {
	if req.Tag == "" && !req.All {
		return 0, fmt.Errorf("%w: specify a snapshot tag or all", ErrInvalidClearRequest)
	}
	if req.Tag != "" && req.All {
		return 0, fmt.Errorf("%w: specify only one of a snapshot tag or all", ErrInvalidClearRequest)
	}
	reason := req.Reason
	if reason == "" {
		reason = ClearManual
	}

	ctx, span := m.tracer.Start(ctx, "SnapshotManager.Clear")
	defer span.End()
	span.SetAttributes(
		attribute.String("snapshot.tag", req.Tag),
		attribute.String("snapshot.keyspace", req.Keyspace),
		attribute.Bool("snapshot.all", req.All),
	)

	filter := Filter{Keyspace: req.Keyspace, Table: req.Table, Tag: req.Tag}
	cleared, err := m.clearAll(ctx, m.registry.List(filter), reason)
	// Whatever still matches on disk is not described by the registry.
	orphans, walkErr := m.unregistered(filter)
	n, orphanErr := m.clearUnregistered(orphans, reason)
	cleared += n
	if err = errors.Join(err, walkErr, orphanErr); err != nil {
		span.RecordError(err)
	}
	return cleared, err
}

// unregistered groups the snapshot directories matching f that no registry
// entry or running operation accounts for: what a creation that crashed
// before writing its manifest leaves behind, or a snapshot another process
// created since the last refresh.
func (m *Manager) unregistered(f Filter) ([][]Candidate, error) {
	candidates, err := m.layout.Walk()
	if err != nil {
		return nil, fmt.Errorf("failed to look for unregistered snapshot directories: %w", err)
	}
	policy := m.registry.Policy()
	groups := make(map[registryKey][]Candidate)
	var order []registryKey
	for _, c := range candidates {
		if f.Keyspace != "" && c.Keyspace != f.Keyspace {
			continue
		}
		if f.Table != "" && c.Table != f.Table {
			continue
		}
		if f.Tag != "" && policy.Key(c.Tag) != policy.Key(f.Tag) {
			continue
		}
		if m.registry.tracked(c.TableID, c.Tag) {
			continue
		}
		k := m.registry.key(c.TableID, c.Tag)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], c)
	}
	out := make([][]Candidate, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out, nil
}

func (m *Manager) clearUnregistered(groups [][]Candidate, reason ClearReason) (int, error) {
	var errs []error
	cleared := 0
	for _, dirs := range groups {
		c := dirs[0]
		if !m.registry.claim(c.TableID, c.Tag) {
			continue
		}
		var failed []error
		for _, d := range dirs {
			if err := m.files.RemoveAll(d.Dir); err != nil {
				failed = append(failed, fmt.Errorf("failed to remove snapshot directory %s: %w", d.Dir, err))
			}
		}
		m.registry.release(c.TableID, c.Tag)
		if len(failed) > 0 {
			SnapshotClearFailuresTotal.Inc()
			errs = append(errs, fmt.Errorf("failed to clear unregistered snapshot %s of %s.%s: %w", c.Tag, c.Keyspace, c.Table, errors.Join(failed...)))
			continue
		}
		cleared++
		SnapshotsClearedTotal.WithLabelValues(string(reason)).Inc()
		m.logger.Info("Removed unregistered snapshot directory", "tag", c.Tag, "table", c.Keyspace+"."+c.Table, "directories", len(dirs))
	}
	return cleared, errors.Join(errs...)
}

// ClearEphemeral removes every ephemeral snapshot. It runs once at startup.
func (m *Manager) ClearEphemeral(ctx context.Context) (int, error) {
	var matches []*TableSnapshot
	for _, s := range m.registry.List(Filter{}) {
		if s.Ephemeral {
			matches = append(matches, s)
		}
	}
	return m.clearAll(ctx, matches, ClearEphemeral)
}

// ClearSnapshot removes one snapshot. It does nothing when s is no longer registered.
func (m *Manager) ClearSnapshot(ctx context.Context, s *TableSnapshot, reason ClearReason) error {
	_, err := m.clearOne(ctx, s, reason)
	RegistrySnapshots.Set(float64(m.registry.Len()))
	return err
}

func (m *Manager) clearAll(ctx context.Context, matches []*TableSnapshot, reason ClearReason) (int, error) {
	var cleared atomic.Int64
	p := pool.New().WithMaxGoroutines(m.clearConcurrency).WithErrors()
	for _, s := range matches {
		p.Go(func() error {
			ok, err := m.clearOne(ctx, s, reason)
			if ok {
				cleared.Add(1)
			}
			return err
		})
	}
	err := p.Wait()
	RegistrySnapshots.Set(float64(m.registry.Len()))
	return int(cleared.Load()), err
}

func (m *Manager) clearOne(ctx context.Context, s *TableSnapshot, reason ClearReason) (bool, error) {
	if !m.registry.detach(s) {
		return false, nil
	}
	dirs, stale := m.ownedDirectories(s)
	if len(dirs) == 0 {
		// Nothing on disk belongs to s any more.
		m.registry.release(s.TableID, s.Tag)
		if stale > 0 {
			m.logger.Warn("Snapshot was replaced on disk, dropping its registry entry", "tag", s.Tag, "table", s.QualifiedTable())
		}
		return false, nil
	}
	payload := s.payload()

	pre := hooks.PreClearSnapshotPayload{SnapshotPayload: payload, Reason: string(reason)}
	if hookErr := m.hooks.Trigger(ctx, hooks.NewPreClearSnapshotEvent(pre)); hookErr != nil {
		m.registry.restore(s)
		return false, fmt.Errorf("operation cancelled by pre-hook: %w", hookErr)
	}

	var errs []error
	for _, dir := range dirs {
		if err := m.files.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove snapshot directory %s: %w", dir, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.registry.restore(s)
		SnapshotClearFailuresTotal.Inc()
		post := hooks.PostClearSnapshotPayload{SnapshotPayload: payload, Reason: string(reason), Err: err}
		m.hooks.Trigger(ctx, hooks.NewPostClearSnapshotEvent(post))
		return false, fmt.Errorf("failed to clear snapshot %s of %s: %w", s.Tag, s.QualifiedTable(), err)
	}

	m.registry.release(s.TableID, s.Tag)
	SnapshotsClearedTotal.WithLabelValues(string(reason)).Inc()
	post := hooks.PostClearSnapshotPayload{SnapshotPayload: payload, Reason: string(reason)}
	m.hooks.Trigger(ctx, hooks.NewPostClearSnapshotEvent(post))
	m.logger.Debug("Snapshot cleared", "tag", s.Tag, "table", s.QualifiedTable(), "reason", reason)
	return true, nil
}

// ownedDirectories returns the directories of s whose manifest still
// records s. Directories that are gone are skipped. A directory whose
// manifest is unreadable or records another creation is counted as stale
// and left in place.
func (m *Manager) ownedDirectories(s *TableSnapshot) (dirs []string, stale int) {
	fs := m.layout.Fs()
	for _, dir := range s.Directories {
		if ok, err := afero.DirExists(fs, dir); err == nil && !ok {
			continue
		}
		man, _, err := ReadManifest(fs, dir)
		if err != nil || !s.describedBy(man) {
			m.logger.Debug("Snapshot directory no longer matches its registry entry", "path", dir, "error", err)
			stale++
			continue
		}
		dirs = append(dirs, dir)
	}
	return dirs, stale
}

// Refresh reconciles the registry with the data directories without
// disturbing entries that still match. Other processes sharing the data
// directories create and clear snapshots; a long-running process refreshes
// to see their changes.
func (m *Manager) Refresh(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "SnapshotManager.Refresh")
	defer span.End()

	res, err := Scan(ctx, m.layout, m.registry.Policy(), nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to refresh snapshot registry: %w", err)
	}
	updated, dropped := m.registry.reconcile(res.Snapshots, m.vanished)
	span.SetAttributes(attribute.Int("snapshot.updated", updated), attribute.Int("snapshot.dropped", dropped))
	RegistrySnapshots.Set(float64(m.registry.Len()))
	if updated > 0 || dropped > 0 {
		m.logger.Info("Snapshot registry refreshed from disk", "updated", updated, "dropped", dropped, "skipped", res.Skipped)
	}
	return nil
}

// vanished reports whether none of the directories of s exist.
func (m *Manager) vanished(s *TableSnapshot) bool {
	for _, dir := range s.Directories {
		if ok, err := afero.DirExists(m.layout.Fs(), dir); err != nil || ok {
			return false
		}
	}
	return true
}

// Rebuild reloads the registry from the data directories.
func (m *Manager) Rebuild(ctx context.Context) (ScanResult, error) {
	ctx, span := m.tracer.Start(ctx, "SnapshotManager.Rebuild")
	defer span.End()

	start := time.Now()
	res, err := m.registry.Rebuild(ctx, m.layout, m.logger)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("failed to rebuild snapshot registry: %w", err)
	}
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("snapshot.count", len(res.Snapshots)), attribute.Int("snapshot.skipped", res.Skipped))

	RegistryRebuildSeconds.Observe(elapsed.Seconds())
	RegistrySnapshots.Set(float64(m.registry.Len()))
	m.hooks.Trigger(ctx, hooks.NewPostRegistryRebuildEvent(hooks.PostRegistryRebuildPayload{
		Snapshots: len(res.Snapshots),
		Skipped:   res.Skipped,
		Duration:  elapsed,
	}))
	m.logger.Info("Snapshot registry rebuilt", "snapshots", len(res.Snapshots), "skipped", res.Skipped, "duration", elapsed)
	return res, nil
}

// List reports the registered snapshots with their sizes. Sizes are
// computed from disk; a directory removed concurrently counts as empty.
func (m *Manager) List(opts ListOptions) ([]SnapshotDetails, error) {
	entries := m.registry.List(Filter{Keyspace: opts.Keyspace, Table: opts.Table, NoTTL: opts.NoTTL})
	rows := make([]SnapshotDetails, 0, len(entries))
	liveByTable := make(map[string]map[string]struct{})

	for _, s := range entries {
		tableKey := s.TableID.String()
		live, ok := liveByTable[tableKey]
		if !ok {
			dirs, err := m.layout.TableDirs(s.Keyspace, s.Table, s.TableID)
			if err != nil {
				return nil, err
			}
			if live, err = m.layout.LiveSet(dirs); err != nil {
				return nil, err
			}
			liveByTable[tableKey] = live
		}
		size, err := s.Size(m.layout)
		if err != nil {
			return nil, err
		}
		trueSize, err := s.TrueSize(m.layout, live)
		if err != nil {
			return nil, err
		}
		rows = append(rows, SnapshotDetails{
			Tag:       s.Tag,
			Keyspace:  s.Keyspace,
			Table:     s.Table,
			TableID:   s.TableID.String(),
			TrueSize:  trueSize,
			Size:      size,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Ephemeral: s.Ephemeral,
		})
	}
	return rows, nil
}
