package snapshot

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/INLOpen/tablesnap/utils/clock"
	"github.com/shirou/gopsutil/v3/disk"
)

// ExpirationScheduler periodically clears snapshots whose TTL has passed.
type ExpirationScheduler struct {
	manager      *Manager
	clock        clock.Clock
	initialDelay time.Duration
	period       time.Duration
	logger       *slog.Logger

	// usage reports disk usage of a data root; swapped in tests.
	usage func(path string) (*disk.UsageStat, error)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewExpirationScheduler(manager *Manager, clk clock.Clock, initialDelay, period time.Duration, logger *slog.Logger) *ExpirationScheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clk == nil {
		clk = manager.clock
	}
	return &ExpirationScheduler{
		manager:      manager,
		clock:        clk,
		initialDelay: initialDelay,
		period:       period,
		logger:       logger.With("component", "ExpirationScheduler"),
		usage:        disk.Usage,
		stopChan:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *ExpirationScheduler) Start() {
	s.logger.Info("Starting snapshot expiration scheduler", "initial_delay", s.initialDelay, "period", s.period)
	s.wg.Add(1)
	go s.loop()
}

// Stop terminates the loop and waits for an in-progress sweep to finish.
func (s *ExpirationScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping snapshot expiration scheduler")
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *ExpirationScheduler) loop() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	delay := time.NewTimer(s.initialDelay)
	defer delay.Stop()
	select {
	case <-delay.C:
	case <-s.stopChan:
		return
	}
	s.Sweep(ctx)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopChan:
			return
		}
	}
}

// Sweep refreshes the registry from disk, then clears every expired
// snapshot and returns how many were removed. Failures are logged and left
// for the next sweep.
func (s *ExpirationScheduler) Sweep(ctx context.Context) int {
	if err := s.manager.Refresh(ctx); err != nil {
		s.logger.Warn("Failed to refresh snapshot registry before sweep", "error", err)
	}
	now := s.clock.Now()
	cleared := 0
	for _, snap := range s.manager.registry.List(Filter{}) {
		if !snap.IsExpired(now) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		ok, err := s.manager.clearOne(ctx, snap, ClearExpired)
		if err != nil {
			s.logger.Warn("Failed to clear expired snapshot", "tag", snap.Tag, "table", snap.QualifiedTable(), "error", err)
			continue
		}
		if ok {
			cleared++
			s.logger.Info("Cleared expired snapshot", "tag", snap.Tag, "table", snap.QualifiedTable(), "expired_at", *snap.ExpiresAt)
		}
	}
	RegistrySnapshots.Set(float64(s.manager.registry.Len()))
	if cleared > 0 {
		s.reportDiskUsage()
	}
	return cleared
}

func (s *ExpirationScheduler) reportDiskUsage() {
	for _, root := range s.manager.layout.Roots() {
		du, err := s.usage(root)
		if err != nil {
			s.logger.Debug("Could not read disk usage", "root", root, "error", err)
			continue
		}
		DataDirUsedPercent.WithLabelValues(root).Set(du.UsedPercent)
		s.logger.Info("Data directory usage after sweep", "root", root, "used_percent", du.UsedPercent, "free_bytes", du.Free)
	}
}
