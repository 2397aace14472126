package core

import "time"

const (
	// SnapshotManifestFileName is the structured metadata record of a snapshot directory.
	SnapshotManifestFileName = "manifest.json"
	// SnapshotSchemaFileName holds the DDL needed to recreate the source table.
	SnapshotSchemaFileName = "schema.cql"
	// SnapshotsDirName is the per-table directory that holds one subdirectory per tag.
	SnapshotsDirName = "snapshots"
	// BackupsDirName is reserved for incremental backups and is never part of the live file set.
	BackupsDirName = "backups"
)

// SnapshotManifest defines the structure of the snapshot manifest file.
// ExpiresAt is an absolute instant so that a restart needs no adjustment.
type SnapshotManifest struct {
	Files     []string   `json:"files"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Ephemeral bool       `json:"ephemeral"`
}

// IsExpiring reports whether the manifest carries an expiration instant.
func (m *SnapshotManifest) IsExpiring() bool {
	return m.ExpiresAt != nil
}
