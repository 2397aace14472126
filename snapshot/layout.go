package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/INLOpen/tablesnap/core"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Layout maps tables and tags onto the data directories:
//
//	<root>/<keyspace>/<table>-<id>/snapshots/<tag>/
type Layout struct {
	fs    afero.Fs
	roots []string
}

// Candidate is a snapshot directory found on disk, before its manifest is read.
type Candidate struct {
	Root     string
	Keyspace string
	Table    string
	TableID  uuid.UUID
	Tag      string
	Dir      string
}

func NewLayout(fs afero.Fs, roots []string) *Layout {
	return &Layout{fs: fs, roots: append([]string(nil), roots...)}
}

func (l *Layout) Fs() afero.Fs    { return l.fs }
func (l *Layout) Roots() []string { return append([]string(nil), l.roots...) }
func (l *Layout) KeyspaceDir(root, keyspace string) string {
	return filepath.Join(root, keyspace)
}

// TableDir returns the table directory under root, whether or not it exists.
func (l *Layout) TableDir(root, keyspace, table string, id uuid.UUID) string {
	return filepath.Join(root, keyspace, core.TableDirName(table, id))
}

// TableDirs returns the table's directory under every root where it exists.
func (l *Layout) TableDirs(keyspace, table string, id uuid.UUID) ([]string, error) {
	var dirs []string
	for _, root := range l.roots {
		dir := l.TableDir(root, keyspace, table, id)
		ok, err := afero.DirExists(l.fs, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to stat table directory %s: %w", dir, err)
		}
		if ok {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

func (l *Layout) SnapshotDir(tableDir, tag string) string {
	return filepath.Join(tableDir, core.SnapshotsDirName, tag)
}

// Discover lists the tags that have a directory under tableDir.
func (l *Layout) Discover(tableDir string) ([]string, error) {
	entries, err := afero.ReadDir(l.fs, filepath.Join(tableDir, core.SnapshotsDirName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshots of %s: %w", tableDir, err)
	}
	var tags []string
	for _, e := range entries {
		if e.IsDir() {
			tags = append(tags, e.Name())
		}
	}
	return tags, nil
}

// WalkRoot enumerates every snapshot directory under one data root. A missing
// root yields nothing. Directories whose names do not parse as tables are ignored.
func (l *Layout) WalkRoot(root string) ([]Candidate, error) {
	keyspaces, err := afero.ReadDir(l.fs, root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read data directory %s: %w", root, err)
	}

	var out []Candidate
	for _, ks := range keyspaces {
		if !ks.IsDir() {
			continue
		}
		tables, err := afero.ReadDir(l.fs, filepath.Join(root, ks.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read keyspace directory %s: %w", ks.Name(), err)
		}
		for _, t := range tables {
			if !t.IsDir() {
				continue
			}
			name, id, ok := core.ParseTableDirName(t.Name())
			if !ok {
				continue
			}
			tableDir := filepath.Join(root, ks.Name(), t.Name())
			tags, err := l.Discover(tableDir)
			if err != nil {
				return nil, err
			}
			for _, tag := range tags {
				out = append(out, Candidate{
					Root:     root,
					Keyspace: ks.Name(),
					Table:    name,
					TableID:  id,
					Tag:      tag,
					Dir:      l.SnapshotDir(tableDir, tag),
				})
			}
		}
	}
	return out, nil
}

// Walk enumerates snapshot directories across all roots, in root order.
func (l *Layout) Walk() ([]Candidate, error) {
	var out []Candidate
	for _, root := range l.roots {
		c, err := l.WalkRoot(root)
		if err != nil {
			return nil, err
		}
		out = append(out, c...)
	}
	return out, nil
}

// LiveFiles returns name -> size for the regular files directly under
// tableDir. Snapshots and backups live in subdirectories and are not listed.
func (l *Layout) LiveFiles(tableDir string) (map[string]int64, error) {
	entries, err := afero.ReadDir(l.fs, tableDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]int64{}, nil
		}
		return nil, fmt.Errorf("failed to list live files of %s: %w", tableDir, err)
	}
	files := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.Mode().IsRegular() {
			files[e.Name()] = e.Size()
		}
	}
	return files, nil
}

// LiveSet is the union of live file names across the given table directories.
func (l *Layout) LiveSet(tableDirs []string) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for _, dir := range tableDirs {
		files, err := l.LiveFiles(dir)
		if err != nil {
			return nil, err
		}
		for name := range files {
			set[name] = struct{}{}
		}
	}
	return set, nil
}

// SnapshotFiles returns name -> size of the data files in a snapshot
// directory. The manifest and schema are not data files.
func (l *Layout) SnapshotFiles(dir string) (map[string]int64, error) {
	files, err := l.LiveFiles(dir)
	if err != nil {
		return nil, err
	}
	delete(files, core.SnapshotManifestFileName)
	delete(files, core.SnapshotSchemaFileName)
	return files, nil
}

// DirSize sums the sizes of all regular files below dir. A missing dir is empty.
func (l *Layout) DirSize(dir string) (int64, error) {
	var total int64
	err := afero.Walk(l.fs, dir, func(_ string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("failed to size %s: %w", dir, err)
	}
	return total, nil
}

// TrueSize sums the snapshot files whose names are not in the live set.
func TrueSize(snapshotFiles map[string]int64, live map[string]struct{}) int64 {
	var total int64
	for name, size := range snapshotFiles {
		if _, ok := live[name]; !ok {
			total += size
		}
	}
	return total
}

// ValidateTag rejects tags that cannot be used as a single path component.
func ValidateTag(tag string) error {
	switch tag {
	case "":
		return fmt.Errorf("%w: tag must not be empty", ErrInvalidTag)
	case ".", "..":
		return fmt.Errorf("%w: %q is not a valid tag", ErrInvalidTag, tag)
	}
	if strings.ContainsAny(tag, `/\`) {
		return fmt.Errorf("%w: %q must not contain a path separator", ErrInvalidTag, tag)
	}
	for _, r := range tag {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q must not contain control characters", ErrInvalidTag, tag)
		}
	}
	return nil
}

func sortedNames(files map[string]int64) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
