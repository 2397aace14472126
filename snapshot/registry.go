package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type registryKey struct {
	table uuid.UUID
	tag   string // TagPolicy key
}

// Filter narrows a registry listing. Empty fields match everything.
type Filter struct {
	Keyspace string
	Table    string
	Tag      string
	// NoTTL drops snapshots that carry an expiration.
	NoTTL bool
}

// Registry is the in-memory index of every snapshot on disk. Only map
// updates happen under its lock; callers perform the filesystem work
// between reserve and commit/release.
type Registry struct {
	mu       sync.RWMutex
	policy   TagPolicy
	entries  map[registryKey]*TableSnapshot
	inflight map[registryKey]struct{}
}

func NewRegistry(policy TagPolicy) *Registry {
	if policy == nil {
		policy = DefaultTagPolicy()
	}
	return &Registry{
		policy:   policy,
		entries:  make(map[registryKey]*TableSnapshot),
		inflight: make(map[registryKey]struct{}),
	}
}

func (r *Registry) Policy() TagPolicy { return r.policy }

func (r *Registry) key(id uuid.UUID, tag string) registryKey {
	return registryKey{table: id, tag: r.policy.Key(tag)}
}

func (r *Registry) Lookup(id uuid.UUID, tag string) (*TableSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.entries[r.key(id, tag)]
	return s, ok
}

func (r *Registry) Exists(id uuid.UUID, tag string) bool {
	_, ok := r.Lookup(id, tag)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Insert makes s visible. It fails if the key is taken or in flight.
func (r *Registry) Insert(s *TableSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(s.TableID, s.Tag)
	if err := r.takenLocked(k, s); err != nil {
		return err
	}
	r.entries[k] = s
	return nil
}

// Remove drops the entry for (id, tag) if present.
func (r *Registry) Remove(id uuid.UUID, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, r.key(id, tag))
}

// List returns the matching entries sorted by tag, keyspace and table.
func (r *Registry) List(f Filter) []*TableSnapshot {
	var tagKey string
	if f.Tag != "" {
		tagKey = r.policy.Key(f.Tag)
	}

	r.mu.RLock()
	out := make([]*TableSnapshot, 0, len(r.entries))
	for k, s := range r.entries {
		if f.Keyspace != "" && s.Keyspace != f.Keyspace {
			continue
		}
		if f.Table != "" && s.Table != f.Table {
			continue
		}
		if f.Tag != "" && k.tag != tagKey {
			continue
		}
		if f.NoTTL && s.IsExpiring() {
			continue
		}
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Tag != b.Tag {
			return a.Tag < b.Tag
		}
		if a.Keyspace != b.Keyspace {
			return a.Keyspace < b.Keyspace
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.TableID.String() < b.TableID.String()
	})
	return out
}

// replace swaps the whole entry set. In-flight reservations survive.
func (r *Registry) replace(snapshots []*TableSnapshot) {
	entries := make(map[registryKey]*TableSnapshot, len(snapshots))
	for _, s := range snapshots {
		entries[r.key(s.TableID, s.Tag)] = s
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
}

func (r *Registry) takenLocked(k registryKey, s *TableSnapshot) error {
	_, visible := r.entries[k]
	_, busy := r.inflight[k]
	if visible || busy {
		return &AlreadyExistsError{Tag: s.Tag, Keyspace: s.Keyspace, Table: s.Table}
	}
	return nil
}

// reserve claims the key of s for a creation in progress.
func (r *Registry) reserve(s *TableSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(s.TableID, s.Tag)
	if err := r.takenLocked(k, s); err != nil {
		return err
	}
	r.inflight[k] = struct{}{}
	return nil
}

// commit publishes a reserved snapshot.
func (r *Registry) commit(s *TableSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(s.TableID, s.Tag)
	delete(r.inflight, k)
	r.entries[k] = s
}

func (r *Registry) release(id uuid.UUID, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, r.key(id, tag))
}

// detach hides s from the view and holds its key while its directories
// are removed. It reports false when s is no longer the registered entry.
func (r *Registry) detach(s *TableSnapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(s.TableID, s.Tag)
	if cur, ok := r.entries[k]; !ok || cur != s {
		return false
	}
	delete(r.entries, k)
	r.inflight[k] = struct{}{}
	return true
}

// restore undoes detach after a failed removal.
func (r *Registry) restore(s *TableSnapshot) {
	r.commit(s)
}

// claim holds the key (id, tag) for work on a directory no entry describes.
// It reports false when the key is registered or in flight.
func (r *Registry) claim(id uuid.UUID, tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(id, tag)
	_, visible := r.entries[k]
	_, busy := r.inflight[k]
	if visible || busy {
		return false
	}
	r.inflight[k] = struct{}{}
	return true
}

func (r *Registry) tracked(id uuid.UUID, tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k := r.key(id, tag)
	_, visible := r.entries[k]
	_, busy := r.inflight[k]
	return visible || busy
}

// reconcile merges a fresh scan into the registry. A scanned snapshot that
// is unknown, or that records a different creation than the registered
// entry, replaces it. A registered entry missing from the scan is dropped
// once gone confirms its directories no longer exist, so entries committed
// after the scan started survive. Keys in flight are left alone.
func (r *Registry) reconcile(scanned []*TableSnapshot, gone func(*TableSnapshot) bool) (updated, dropped int) {
	seen := make(map[registryKey]*TableSnapshot, len(scanned))
	for _, s := range scanned {
		seen[r.key(s.TableID, s.Tag)] = s
	}

	r.mu.RLock()
	var missing []*TableSnapshot
	for k, s := range r.entries {
		if _, ok := seen[k]; !ok {
			missing = append(missing, s)
		}
	}
	r.mu.RUnlock()

	// Directory checks run without the lock.
	var vanished []*TableSnapshot
	for _, s := range missing {
		if gone(s) {
			vanished = append(vanished, s)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for k, s := range seen {
		if _, busy := r.inflight[k]; busy {
			continue
		}
		if cur, ok := r.entries[k]; ok && cur.sameCreation(s) {
			continue
		}
		r.entries[k] = s
		updated++
	}
	for _, s := range vanished {
		k := r.key(s.TableID, s.Tag)
		if cur, ok := r.entries[k]; ok && cur == s {
			delete(r.entries, k)
			dropped++
		}
	}
	return updated, dropped
}

// ScanResult summarizes a registry rebuild.
type ScanResult struct {
	Snapshots []*TableSnapshot
	Skipped   int
}

type scannedDir struct {
	candidate Candidate
	snapshot  *TableSnapshot
}

// Scan reads every snapshot directory under the layout's roots, one
// goroutine per root. Directories with a missing or unreadable manifest or
// schema are logged and skipped. The same (table, tag) found under several
// roots becomes one entry listing every directory.
func Scan(ctx context.Context, layout *Layout, policy TagPolicy, logger *slog.Logger) (ScanResult, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	roots := layout.Roots()
	perRoot := make([][]scannedDir, len(roots))
	skipped := make([]int, len(roots))

	g, gctx := errgroup.WithContext(ctx)
	for i, root := range roots {
		g.Go(func() error {
			candidates, err := layout.WalkRoot(root)
			if err != nil {
				logger.Warn("Failed to walk data directory, skipping", "root", root, "error", err)
				return nil
			}
			for _, c := range candidates {
				if err := gctx.Err(); err != nil {
					return err
				}
				m, _, err := ReadManifest(layout.Fs(), c.Dir)
				if err != nil {
					if errors.Is(err, ErrCorruptManifest) || errors.Is(err, ErrMissingSchema) {
						logger.Warn("Skipping snapshot directory with invalid metadata", "path", c.Dir, "error", err)
					} else {
						logger.Warn("Failed to read snapshot directory, skipping", "path", c.Dir, "error", err)
					}
					skipped[i]++
					continue
				}
				perRoot[i] = append(perRoot[i], scannedDir{
					candidate: c,
					snapshot: &TableSnapshot{
						Keyspace:  c.Keyspace,
						Table:     c.Table,
						TableID:   c.TableID,
						Tag:       c.Tag,
						CreatedAt: m.CreatedAt,
						ExpiresAt: m.ExpiresAt,
						Ephemeral: m.Ephemeral,
						Files:     m.Files,
					},
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScanResult{}, err
	}

	var res ScanResult
	merged := make(map[registryKey]*TableSnapshot)
	for i := range roots {
		res.Skipped += skipped[i]
		for _, d := range perRoot[i] {
			k := registryKey{table: d.candidate.TableID, tag: policy.Key(d.candidate.Tag)}
			if s, ok := merged[k]; ok {
				s.Directories = append(s.Directories, d.candidate.Dir)
				continue
			}
			s := d.snapshot
			s.Directories = []string{d.candidate.Dir}
			merged[k] = s
			res.Snapshots = append(res.Snapshots, s)
		}
	}
	return res, nil
}

// Rebuild replaces the registry content with what is on disk.
func (r *Registry) Rebuild(ctx context.Context, layout *Layout, logger *slog.Logger) (ScanResult, error) {
	res, err := Scan(ctx, layout, r.policy, logger)
	if err != nil {
		return res, err
	}
	r.replace(res.Snapshots)
	return res, nil
}
