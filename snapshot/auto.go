package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/INLOpen/tablesnap/catalog"
	"github.com/INLOpen/tablesnap/core"
)

// AutoSnapshotter snapshots tables before the catalog drops or truncates
// them. A failed snapshot aborts the DDL.
type AutoSnapshotter struct {
	manager *Manager
	enabled bool
	ttl     *time.Duration
}

var _ catalog.DDLHook = (*AutoSnapshotter)(nil)

// NewAutoSnapshotter returns a hook that snapshots with the given TTL, or
// without expiry when ttl is nil. The operator TTL floor does not apply.
func NewAutoSnapshotter(manager *Manager, enabled bool, ttl *time.Duration) *AutoSnapshotter {
	if ttl != nil && *ttl <= 0 {
		ttl = nil
	}
	return &AutoSnapshotter{manager: manager, enabled: enabled, ttl: ttl}
}

// AutoSnapshotLabel returns the tag label and trigger recorded for kind.
func AutoSnapshotLabel(kind catalog.DDLKind) (string, Trigger) {
	if kind == catalog.DDLTruncate {
		return string(TriggerTruncated), TriggerTruncated
	}
	return string(TriggerDropped), TriggerDropped
}

// BeforeDestructive snapshots tables under one "<label>-<unix millis>" tag
// and one creation instant.
func (a *AutoSnapshotter) BeforeDestructive(ctx context.Context, kind catalog.DDLKind, tables []core.TableMetadata) error {
	if !a.enabled || len(tables) == 0 {
		return nil
	}
	label, trigger := AutoSnapshotLabel(kind)
	now := a.manager.clock.Now()
	tag := fmt.Sprintf("%s-%d", label, now.UnixMilli())

	req := CreateRequest{Tag: tag, TTL: a.ttl, Trigger: trigger}
	if _, err := a.manager.create(ctx, tables, req, now); err != nil {
		return fmt.Errorf("auto-snapshot %s before %s failed: %w", tag, kind, err)
	}
	return nil
}
