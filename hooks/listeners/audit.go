package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/tablesnap/hooks"
)

// AuditListener writes one structured log line for every snapshot that is
// created or cleared, so operators can reconstruct the snapshot history of a node.
type AuditListener struct {
	logger *slog.Logger
}

// NewAuditListener creates a new listener for snapshot lifecycle auditing.
func NewAuditListener(logger *slog.Logger) *AuditListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &AuditListener{
		logger: logger.With("component", "SnapshotAudit"),
	}
}

// Events lists the event types this listener should be registered for.
func (l *AuditListener) Events() []hooks.EventType {
	return []hooks.EventType{hooks.EventPostCreateSnapshot, hooks.EventPostClearSnapshot}
}

// OnEvent handles PostCreateSnapshot and PostClearSnapshot events.
func (l *AuditListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch event.Type() {
	case hooks.EventPostCreateSnapshot:
		payload, ok := event.Payload().(hooks.PostCreateSnapshotPayload)
		if !ok {
			l.logger.Error("Received PostCreateSnapshot event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
			return nil
		}
		attrs := []any{
			"tag", payload.Tag,
			"keyspace", payload.Keyspace,
			"table", payload.Table,
			"table_id", payload.TableID,
			"trigger", payload.Trigger,
			"created_at", payload.CreatedAt,
		}
		if payload.ExpiresAt != nil {
			attrs = append(attrs, "expires_at", *payload.ExpiresAt)
		}
		l.logger.Info("Snapshot created", attrs...)

	case hooks.EventPostClearSnapshot:
		payload, ok := event.Payload().(hooks.PostClearSnapshotPayload)
		if !ok {
			l.logger.Error("Received PostClearSnapshot event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
			return nil
		}
		if payload.Err != nil {
			l.logger.Warn("Snapshot clear failed",
				"tag", payload.Tag, "keyspace", payload.Keyspace, "table", payload.Table,
				"reason", payload.Reason, "error", payload.Err)
			return nil
		}
		l.logger.Info("Snapshot cleared",
			"tag", payload.Tag, "keyspace", payload.Keyspace, "table", payload.Table,
			"reason", payload.Reason)
	}
	return nil
}

// Priority defines the execution order.
func (l *AuditListener) Priority() int { return 100 }

// IsAsync indicates this listener can run in the background.
func (l *AuditListener) IsAsync() bool { return true }
