package testutil

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/INLOpen/tablesnap/core"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// NewTable returns a two-column table "(id int, value text)" keyed on id,
// with a fresh id.
func NewTable(keyspace, name string) core.TableMetadata {
	return core.TableMetadata{
		Keyspace: keyspace,
		Name:     name,
		ID:       uuid.New(),
		Columns: []core.ColumnDef{
			{Name: "id", Type: "int"},
			{Name: "value", Type: "text"},
		},
		PartitionKey: []string{"id"},
	}
}

// TableDir is the directory of t under root.
func TableDir(root string, t core.TableMetadata) string {
	return filepath.Join(root, t.Keyspace, t.DirName())
}

// WriteDataFiles creates name -> content files in dir, creating dir if needed.
func WriteDataFiles(t *testing.T, fs afero.Fs, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(dir, 0755))
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, name), []byte(content), 0644))
	}
}

// ListFiles returns the sorted names of the regular files directly in dir.
func ListFiles(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if e.Mode().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// RequireSnapshotDir asserts that dir holds a manifest and a schema file.
func RequireSnapshotDir(t *testing.T, fs afero.Fs, dir string) {
	t.Helper()
	for _, name := range []string{core.SnapshotManifestFileName, core.SnapshotSchemaFileName} {
		ok, err := afero.Exists(fs, filepath.Join(dir, name))
		require.NoError(t, err)
		require.Truef(t, ok, "expected %s in snapshot directory %s", name, dir)
	}
}

// RequireNoDir asserts that dir does not exist.
func RequireNoDir(t *testing.T, fs afero.Fs, dir string) {
	t.Helper()
	ok, err := afero.Exists(fs, dir)
	require.NoError(t, err)
	require.Falsef(t, ok, "expected %s to be removed", dir)
}
