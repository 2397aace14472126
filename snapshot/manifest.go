package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/INLOpen/tablesnap/core"
	"github.com/spf13/afero"
)

// WriteManifest writes schema.cql and then manifest.json into dir. A reader
// that finds the manifest can rely on the schema being there too.
func WriteManifest(afs afero.Fs, dir string, m *core.SnapshotManifest, schema []string) error {
	return writeManifest(func(path string, data []byte) error {
		return writeFileAtomic(afs, path, data)
	}, dir, m, schema)
}

func writeManifest(write func(path string, data []byte) error, dir string, m *core.SnapshotManifest, schema []string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot manifest: %w", err)
	}
	var sb strings.Builder
	for _, stmt := range schema {
		sb.WriteString(stmt)
		sb.WriteString("\n")
	}
	if err := write(filepath.Join(dir, core.SnapshotSchemaFileName), []byte(sb.String())); err != nil {
		return err
	}
	return write(filepath.Join(dir, core.SnapshotManifestFileName), data)
}

// ReadManifest loads the manifest and schema statements stored in dir.
func ReadManifest(afs afero.Fs, dir string) (*core.SnapshotManifest, []string, error) {
	data, err := afero.ReadFile(afs, filepath.Join(dir, core.SnapshotManifestFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: no %s in %s", ErrCorruptManifest, core.SnapshotManifestFileName, dir)
		}
		return nil, nil, fmt.Errorf("failed to read manifest in %s: %w", dir, err)
	}
	var m core.SnapshotManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrCorruptManifest, dir, err)
	}
	if m.CreatedAt.IsZero() {
		return nil, nil, fmt.Errorf("%w: %s has no created_at", ErrCorruptManifest, dir)
	}

	raw, err := afero.ReadFile(afs, filepath.Join(dir, core.SnapshotSchemaFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: no %s in %s", ErrMissingSchema, core.SnapshotSchemaFileName, dir)
		}
		return nil, nil, fmt.Errorf("failed to read schema in %s: %w", dir, err)
	}
	return &m, splitStatements(string(raw)), nil
}

// splitStatements splits a schema file on statement terminators.
func splitStatements(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";\n") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.HasSuffix(part, ";") {
			part += ";"
		}
		out = append(out, part)
	}
	return out
}
