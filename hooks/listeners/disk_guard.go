package listeners

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/tablesnap/hooks"
	"github.com/shirou/gopsutil/v3/disk"
)

// ErrDiskTooFull is returned when a data directory is above the configured usage threshold.
var ErrDiskTooFull = errors.New("data directory disk usage above snapshot threshold")

// UsageFunc reports filesystem usage for a path. It matches disk.Usage.
type UsageFunc func(path string) (*disk.UsageStat, error)

// DiskGuardListener cancels snapshot creation when any target data directory
// is fuller than maxUsedPercent.
type DiskGuardListener struct {
	maxUsedPercent float64
	usage          UsageFunc
	logger         *slog.Logger
}

// NewDiskGuardListener creates a guard. A nil usage function uses disk.Usage.
func NewDiskGuardListener(maxUsedPercent float64, usage UsageFunc, logger *slog.Logger) *DiskGuardListener {
	if usage == nil {
		usage = disk.Usage
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DiskGuardListener{
		maxUsedPercent: maxUsedPercent,
		usage:          usage,
		logger:         logger.With("component", "DiskGuard"),
	}
}

// OnEvent handles the PreCreateSnapshot event.
func (l *DiskGuardListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPreCreateSnapshot || l.maxUsedPercent <= 0 {
		return nil
	}
	payload, ok := event.Payload().(hooks.PreCreateSnapshotPayload)
	if !ok {
		l.logger.Error("Received PreCreateSnapshot event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}

	for _, dir := range payload.DataDirs {
		stat, err := l.usage(dir)
		if err != nil {
			l.logger.Warn("Could not read disk usage, skipping guard for directory", "path", dir, "error", err)
			continue
		}
		if stat.UsedPercent > l.maxUsedPercent {
			return fmt.Errorf("%w: %s is %.1f%% used (limit %.1f%%)", ErrDiskTooFull, dir, stat.UsedPercent, l.maxUsedPercent)
		}
	}
	return nil
}

// Priority runs the guard before other pre-create listeners.
func (l *DiskGuardListener) Priority() int { return 10 }

// IsAsync is false; the guard must be able to cancel creation.
func (l *DiskGuardListener) IsAsync() bool { return false }
