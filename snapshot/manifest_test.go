package snapshot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/INLOpen/tablesnap/core"
	"github.com/INLOpen/tablesnap/internal/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/data/ks/t-00000000000000000000000000000001/snapshots/tag"
	require.NoError(t, fs.MkdirAll(dir, 0755))

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(5 * time.Second)
	in := &core.SnapshotManifest{
		Files:     []string{"nb-1-big-Data.db", "nb-1-big-Index.db"},
		CreatedAt: created,
		ExpiresAt: &expires,
		Ephemeral: true,
	}
	table := testutil.NewTable("ks", "t")
	table.Indexes = []core.IndexDef{{Name: "value_idx", Column: "value"}}
	schema := table.CreateStatements()

	require.NoError(t, WriteManifest(fs, dir, in, schema))
	testutil.RequireSnapshotDir(t, fs, dir)

	out, gotSchema, err := ReadManifest(fs, dir)
	require.NoError(t, err)
	assert.Equal(t, in.Files, out.Files)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.NotNil(t, out.ExpiresAt)
	assert.True(t, expires.Equal(*out.ExpiresAt))
	assert.True(t, out.Ephemeral)
	assert.Equal(t, schema, gotSchema)
	assert.Equal(t, []string{core.SnapshotManifestFileName, core.SnapshotSchemaFileName}, testutil.ListFiles(t, fs, dir))
}

func TestManifest_NoExpirationOmitted(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/s", 0755))
	m := &core.SnapshotManifest{Files: []string{}, CreatedAt: time.Unix(1700000000, 0).UTC()}
	require.NoError(t, WriteManifest(fs, "/s", m, nil))

	raw, err := afero.ReadFile(fs, "/s/"+core.SnapshotManifestFileName)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "expires_at")

	out, schema, err := ReadManifest(fs, "/s")
	require.NoError(t, err)
	assert.False(t, out.IsExpiring())
	assert.Empty(t, schema)
}

func TestReadManifest_Errors(t *testing.T) {
	validSchema := []byte("CREATE TABLE IF NOT EXISTS ks.t (\n    id int,\n    PRIMARY KEY (id)\n) WITH ID = 1;\n")

	testCases := []struct {
		name        string
		files       map[string][]byte
		expectedErr error
	}{
		{
			name:        "missing manifest",
			files:       map[string][]byte{core.SnapshotSchemaFileName: validSchema},
			expectedErr: ErrCorruptManifest,
		},
		{
			name: "unparseable manifest",
			files: map[string][]byte{
				core.SnapshotManifestFileName: []byte("{not json"),
				core.SnapshotSchemaFileName:   validSchema,
			},
			expectedErr: ErrCorruptManifest,
		},
		{
			name: "manifest without creation time",
			files: map[string][]byte{
				core.SnapshotManifestFileName: []byte(`{"files":[]}`),
				core.SnapshotSchemaFileName:   validSchema,
			},
			expectedErr: ErrCorruptManifest,
		},
		{
			name: "missing schema",
			files: map[string][]byte{
				core.SnapshotManifestFileName: []byte(`{"files":[],"created_at":"2024-03-01T12:00:00Z"}`),
			},
			expectedErr: ErrMissingSchema,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, fs.MkdirAll("/s", 0755))
			for name, data := range tc.files {
				require.NoError(t, afero.WriteFile(fs, filepath.Join("/s", name), data, 0644))
			}
			_, _, err := ReadManifest(fs, "/s")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.expectedErr)
		})
	}
}
