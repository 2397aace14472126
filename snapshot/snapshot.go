package snapshot

import (
	"time"

	"github.com/INLOpen/tablesnap/core"
	"github.com/INLOpen/tablesnap/hooks"
	"github.com/google/uuid"
)

// TableSnapshot is one tagged, point-in-time capture of one table. It may
// span a directory in several data roots. Values are never mutated once
// they are visible in a Registry.
type TableSnapshot struct {
	Keyspace    string
	Table       string
	TableID     uuid.UUID
	Tag         string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Ephemeral   bool
	Files       []string
	Directories []string
}

func (s *TableSnapshot) QualifiedTable() string {
	return s.Keyspace + "." + s.Table
}

// IsExpiring reports whether the snapshot has a TTL.
func (s *TableSnapshot) IsExpiring() bool {
	return s.ExpiresAt != nil
}

// IsExpired reports whether now has reached the expiration instant.
func (s *TableSnapshot) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Size sums every byte under the snapshot's directories.
func (s *TableSnapshot) Size(layout *Layout) (int64, error) {
	var total int64
	for _, dir := range s.Directories {
		n, err := layout.DirSize(dir)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// TrueSize sums the snapshot's data files that the table no longer references.
func (s *TableSnapshot) TrueSize(layout *Layout, live map[string]struct{}) (int64, error) {
	var total int64
	for _, dir := range s.Directories {
		files, err := layout.SnapshotFiles(dir)
		if err != nil {
			return 0, err
		}
		total += TrueSize(files, live)
	}
	return total, nil
}

func (s *TableSnapshot) manifest() *core.SnapshotManifest {
	files := s.Files
	if files == nil {
		files = []string{}
	}
	return &core.SnapshotManifest{
		Files:     files,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		Ephemeral: s.Ephemeral,
	}
}

func (s *TableSnapshot) payload() hooks.SnapshotPayload {
	return hooks.SnapshotPayload{
		Tag:         s.Tag,
		Keyspace:    s.Keyspace,
		Table:       s.Table,
		TableID:     s.TableID.String(),
		Directories: append([]string(nil), s.Directories...),
		CreatedAt:   s.CreatedAt,
		ExpiresAt:   s.ExpiresAt,
	}
}

// describedBy reports whether m records the same creation as s. A snapshot
// cleared and re-created under the same tag differs in at least one instant.
func (s *TableSnapshot) describedBy(m *core.SnapshotManifest) bool {
	return s.CreatedAt.Equal(m.CreatedAt) && sameInstant(s.ExpiresAt, m.ExpiresAt) && s.Ephemeral == m.Ephemeral
}

func (s *TableSnapshot) sameCreation(o *TableSnapshot) bool {
	return s.describedBy(o.manifest())
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
