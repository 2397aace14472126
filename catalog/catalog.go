package catalog

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/INLOpen/tablesnap/core"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	ErrUnknownKeyspace = errors.New("unknown keyspace")
	ErrUnknownTable    = errors.New("unknown table")
	ErrKeyspaceExists  = errors.New("keyspace already exists")
	ErrTableExists     = errors.New("table already exists")
	ErrIndexExists     = errors.New("index already exists")
)

// DDLKind identifies a destructive schema change.
type DDLKind int

const (
	DDLDropTable DDLKind = iota + 1
	DDLTruncate
	DDLDropKeyspace
)

func (k DDLKind) String() string {
	switch k {
	case DDLDropTable:
		return "DROP TABLE"
	case DDLTruncate:
		return "TRUNCATE"
	case DDLDropKeyspace:
		return "DROP KEYSPACE"
	default:
		return fmt.Sprintf("DDLKind(%d)", int(k))
	}
}

// DDLHook runs before a destructive change is applied. Returning an error
// aborts the change and leaves the catalog and data untouched.
type DDLHook interface {
	BeforeDestructive(ctx context.Context, kind DDLKind, tables []core.TableMetadata) error
}

type Options struct {
	Fs       afero.Fs
	DataDirs []string
	// Path is the gob file the catalog is persisted to. Empty keeps it in memory.
	Path   string
	Logger *slog.Logger
}

// Catalog is the schema of every keyspace and table, and owns the tables'
// live data directories.
type Catalog struct {
	mu        sync.RWMutex
	fs        afero.Fs
	dataDirs  []string
	path      string
	keyspaces map[string]map[string]core.TableMetadata
	hook      DDLHook
	logger    *slog.Logger
}

// state is the persisted form of the catalog.
type state struct {
	Version   uint32
	Keyspaces map[string][]core.TableMetadata
}

const stateVersion = 1

// Open loads the catalog from opts.Path, or starts empty when the file does not exist.
func Open(opts Options) (*Catalog, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Catalog{
		fs:        opts.Fs,
		dataDirs:  append([]string(nil), opts.DataDirs...),
		path:      opts.Path,
		keyspaces: make(map[string]map[string]core.TableMetadata),
		logger:    opts.Logger.With("component", "Catalog"),
	}
	if c.path == "" {
		return c, nil
	}

	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("failed to read catalog %s: %w", c.path, err)
	}
	var st state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", c.path, err)
	}
	if st.Version != stateVersion {
		return nil, fmt.Errorf("unsupported catalog version %d in %s", st.Version, c.path)
	}
	for ks, tables := range st.Keyspaces {
		m := make(map[string]core.TableMetadata, len(tables))
		for _, t := range tables {
			m[t.Name] = t
		}
		c.keyspaces[ks] = m
	}
	c.logger.Info("Catalog loaded", "path", c.path, "keyspaces", len(c.keyspaces))
	return c, nil
}

// SetHook installs the hook consulted before destructive DDL.
func (c *Catalog) SetHook(h DDLHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = h
}

func (c *Catalog) Keyspaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.keyspaces))
	for ks := range c.keyspaces {
		out = append(out, ks)
	}
	sort.Strings(out)
	return out
}

// Tables returns the tables of keyspace sorted by name.
func (c *Catalog) Tables(keyspace string) ([]core.TableMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tablesLocked(keyspace)
}

func (c *Catalog) Table(keyspace, name string) (core.TableMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tableLocked(keyspace, name)
}

func (c *Catalog) tablesLocked(keyspace string) ([]core.TableMetadata, error) {
	tables, ok := c.keyspaces[keyspace]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyspace, keyspace)
	}
	out := make([]core.TableMetadata, 0, len(tables))
	for _, t := range tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Catalog) tableLocked(keyspace, name string) (core.TableMetadata, error) {
	tables, ok := c.keyspaces[keyspace]
	if !ok {
		return core.TableMetadata{}, fmt.Errorf("%w: %s", ErrUnknownKeyspace, keyspace)
	}
	t, ok := tables[name]
	if !ok {
		return core.TableMetadata{}, fmt.Errorf("%w: %s.%s", ErrUnknownTable, keyspace, name)
	}
	return t, nil
}

// TableDirs returns the table's directory under every data root.
func (c *Catalog) TableDirs(t core.TableMetadata) []string {
	dirs := make([]string, len(c.dataDirs))
	for i, root := range c.dataDirs {
		dirs[i] = filepath.Join(root, t.Keyspace, t.DirName())
	}
	return dirs
}

func (c *Catalog) CreateKeyspace(name string) error {
	if err := core.ValidateIdentifier("keyspace", name); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keyspaces[name]; ok {
		return fmt.Errorf("%w: %s", ErrKeyspaceExists, name)
	}
	c.keyspaces[name] = make(map[string]core.TableMetadata)
	if err := c.saveLocked(); err != nil {
		delete(c.keyspaces, name)
		return err
	}
	return nil
}

// CreateTable registers t, assigning an id when it has none, and creates
// its directory under every data root.
func (c *Catalog) CreateTable(t core.TableMetadata) (core.TableMetadata, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if err := t.Validate(); err != nil {
		return core.TableMetadata{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tables, ok := c.keyspaces[t.Keyspace]
	if !ok {
		return core.TableMetadata{}, fmt.Errorf("%w: %s", ErrUnknownKeyspace, t.Keyspace)
	}
	if _, ok := tables[t.Name]; ok {
		return core.TableMetadata{}, fmt.Errorf("%w: %s", ErrTableExists, t.QualifiedName())
	}
	for _, dir := range c.TableDirs(t) {
		if err := c.fs.MkdirAll(dir, 0755); err != nil {
			return core.TableMetadata{}, fmt.Errorf("failed to create table directory %s: %w", dir, err)
		}
	}
	tables[t.Name] = t
	if err := c.saveLocked(); err != nil {
		delete(tables, t.Name)
		return core.TableMetadata{}, err
	}
	c.logger.Info("Table created", "table", t.QualifiedName(), "id", t.ID)
	return t, nil
}

// CreateIndex adds a secondary index to an existing table.
func (c *Catalog) CreateIndex(keyspace, table string, idx core.IndexDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.tableLocked(keyspace, table)
	if err != nil {
		return err
	}
	for _, existing := range t.Indexes {
		if existing.Name == idx.Name {
			return fmt.Errorf("%w: %s", ErrIndexExists, idx.Name)
		}
	}
	prev := t
	t.Indexes = append(append([]core.IndexDef(nil), t.Indexes...), idx)
	if err := t.Validate(); err != nil {
		return err
	}
	c.keyspaces[keyspace][table] = t
	if err := c.saveLocked(); err != nil {
		c.keyspaces[keyspace][table] = prev
		return err
	}
	return nil
}

// DropTable removes a table and its live data. Snapshot directories are kept.
func (c *Catalog) DropTable(ctx context.Context, keyspace, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.tableLocked(keyspace, name)
	if err != nil {
		return err
	}
	if err := c.beforeDestructiveLocked(ctx, DDLDropTable, []core.TableMetadata{t}); err != nil {
		return err
	}

	delete(c.keyspaces[keyspace], name)
	if err := c.saveLocked(); err != nil {
		c.keyspaces[keyspace][name] = t
		return err
	}
	c.removeLiveData(t, true)
	c.logger.Info("Table dropped", "table", t.QualifiedName())
	return nil
}

// Truncate removes a table's live data but keeps the table.
func (c *Catalog) Truncate(ctx context.Context, keyspace, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.tableLocked(keyspace, name)
	if err != nil {
		return err
	}
	if err := c.beforeDestructiveLocked(ctx, DDLTruncate, []core.TableMetadata{t}); err != nil {
		return err
	}
	c.removeLiveData(t, false)
	c.logger.Info("Table truncated", "table", t.QualifiedName())
	return nil
}

// DropKeyspace drops every table of a keyspace, then the keyspace.
func (c *Catalog) DropKeyspace(ctx context.Context, keyspace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tables, err := c.tablesLocked(keyspace)
	if err != nil {
		return err
	}
	if err := c.beforeDestructiveLocked(ctx, DDLDropKeyspace, tables); err != nil {
		return err
	}

	prev := c.keyspaces[keyspace]
	delete(c.keyspaces, keyspace)
	if err := c.saveLocked(); err != nil {
		c.keyspaces[keyspace] = prev
		return err
	}
	for _, t := range tables {
		c.removeLiveData(t, true)
	}
	c.logger.Info("Keyspace dropped", "keyspace", keyspace, "tables", len(tables))
	return nil
}

func (c *Catalog) beforeDestructiveLocked(ctx context.Context, kind DDLKind, tables []core.TableMetadata) error {
	if c.hook == nil {
		return nil
	}
	if err := c.hook.BeforeDestructive(ctx, kind, tables); err != nil {
		c.logger.Warn("Destructive DDL aborted by hook", "kind", kind.String(), "tables", len(tables), "error", err)
		return fmt.Errorf("%s aborted: %w", kind, err)
	}
	return nil
}

// removeLiveData deletes the regular files of a table's directories. With
// dropDir, a directory left empty is removed too; one that still holds
// snapshots stays.
func (c *Catalog) removeLiveData(t core.TableMetadata, dropDir bool) {
	for _, dir := range c.TableDirs(t) {
		entries, err := afero.ReadDir(c.fs, dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				c.logger.Warn("Failed to list table directory", "path", dir, "error", err)
			}
			continue
		}
		remaining := 0
		for _, e := range entries {
			if !e.Mode().IsRegular() {
				remaining++
				continue
			}
			if err := c.fs.Remove(filepath.Join(dir, e.Name())); err != nil {
				c.logger.Warn("Failed to remove data file", "path", filepath.Join(dir, e.Name()), "error", err)
				remaining++
			}
		}
		if dropDir && remaining == 0 {
			if err := c.fs.Remove(dir); err != nil {
				c.logger.Warn("Failed to remove table directory", "path", dir, "error", err)
			}
		}
	}
}

// saveLocked writes the catalog to a temp file and renames it into place.
func (c *Catalog) saveLocked() error {
	if c.path == "" {
		return nil
	}
	st := state{Version: stateVersion, Keyspaces: make(map[string][]core.TableMetadata, len(c.keyspaces))}
	for ks, tables := range c.keyspaces {
		list := make([]core.TableMetadata, 0, len(tables))
		for _, t := range tables {
			list = append(list, t)
		}
		st.Keyspaces[ks] = list
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&st); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create catalog dir: %w", err)
	}
	tmpPath := c.path + ".tmp"
	if err := afero.WriteFile(c.fs, tmpPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write temp catalog file: %w", err)
	}
	if err := c.fs.Rename(tmpPath, c.path); err != nil {
		_ = c.fs.Remove(tmpPath)
		return fmt.Errorf("failed to atomically rename catalog file: %w", err)
	}
	return nil
}
