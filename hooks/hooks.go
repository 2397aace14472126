package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// EventType defines the type of a hook event.
type EventType string

// --- Event Type Constants ---
const (
	// Snapshot Lifecycle Events
	EventPreCreateSnapshot  EventType = "PreCreateSnapshot"
	EventPostCreateSnapshot EventType = "PostCreateSnapshot"
	EventPreClearSnapshot   EventType = "PreClearSnapshot"
	EventPostClearSnapshot  EventType = "PostClearSnapshot"

	// Registry Events
	EventPostRegistryRebuild EventType = "PostRegistryRebuild"
)

// --- HookManager Interface and Implementation ---

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	// It handles synchronous vs. asynchronous execution based on the event type and listener preference.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete. Useful for graceful shutdown.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	// Type returns the type of the event.
	Type() EventType
	// Payload returns the data associated with the event.
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// HookListener defines the interface for components that want to listen to events.
type HookListener interface {
	// OnEvent is called by the HookManager when a registered event is triggered.
	// Returning an error from a "Pre" hook (e.g., PreCreateSnapshot) cancels the operation.
	// Errors from "Post" hooks are logged without affecting the main operation.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers are executed first.
	Priority() int

	// IsAsync indicates if the listener should be called asynchronously for Post-events.
	IsAsync() bool
}

// PreCreateSnapshotPayload describes a snapshot operation about to run.
// DataDirs lists the data roots the snapshot will be materialized in.
type PreCreateSnapshotPayload struct {
	Tag       string
	Trigger   string   // "manual", "dropped", "truncated"
	Tables    []string // qualified "keyspace.table" names
	DataDirs  []string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// NewPreCreateSnapshotEvent creates a new event for before a snapshot is created.
func NewPreCreateSnapshotEvent(payload PreCreateSnapshotPayload) HookEvent {
	return &BaseEvent{
		eventType: EventPreCreateSnapshot,
		payload:   payload,
	}
}

// SnapshotPayload identifies one table snapshot.
type SnapshotPayload struct {
	Tag         string
	Keyspace    string
	Table       string
	TableID     string
	Directories []string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}

// PostCreateSnapshotPayload contains data for a PostCreateSnapshot event.
type PostCreateSnapshotPayload struct {
	SnapshotPayload
	Trigger string
}

// NewPostCreateSnapshotEvent creates a new event for after a snapshot is created.
func NewPostCreateSnapshotEvent(payload PostCreateSnapshotPayload) HookEvent {
	return &BaseEvent{
		eventType: EventPostCreateSnapshot,
		payload:   payload,
	}
}

// PreClearSnapshotPayload contains data for a PreClearSnapshot event.
type PreClearSnapshotPayload struct {
	SnapshotPayload
	Reason string // "manual", "expired", "ephemeral"
}

// NewPreClearSnapshotEvent creates an event for before a snapshot's directories are removed.
func NewPreClearSnapshotEvent(payload PreClearSnapshotPayload) HookEvent {
	return &BaseEvent{eventType: EventPreClearSnapshot, payload: payload}
}

// PostClearSnapshotPayload contains data for a PostClearSnapshot event.
// Err is set when removal failed and the snapshot was kept.
type PostClearSnapshotPayload struct {
	SnapshotPayload
	Reason string
	Err    error
}

// NewPostClearSnapshotEvent creates an event for after a snapshot clear attempt.
func NewPostClearSnapshotEvent(payload PostClearSnapshotPayload) HookEvent {
	return &BaseEvent{eventType: EventPostClearSnapshot, payload: payload}
}

// PostRegistryRebuildPayload reports the outcome of a startup scan.
type PostRegistryRebuildPayload struct {
	Snapshots int
	Skipped   int
	Duration  time.Duration
}

// NewPostRegistryRebuildEvent creates an event for after the registry was rebuilt from disk.
func NewPostRegistryRebuildEvent(payload PostRegistryRebuildPayload) HookEvent {
	return &BaseEvent{eventType: EventPostRegistryRebuild, payload: payload}
}

// listenerWithPriority wraps a listener with its priority.
type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// The map stores slices of listeners, kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup // For tracking async listeners
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	l := m.listeners[eventType]

	// First index whose priority is greater than the new one keeps equal
	// priorities in registration order.
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority > item.priority
	})

	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item

	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners, ok := m.listeners[event.Type()]
	m.mu.RUnlock()

	if !ok || len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		isListenerAsync := item.listener.IsAsync()

		// Pre-hooks MUST be synchronous to allow for cancellation.
		if isPreHook || !isListenerAsync {
			if isPreHook && isListenerAsync {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.", "event", event.Type(), "priority", item.priority)
			}

			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
		} else {
			m.wg.Add(1)
			go func(currentItem *listenerWithPriority) {
				defer m.wg.Done()
				// The triggering operation may already be done; async listeners
				// must not observe its cancellation.
				if err := currentItem.listener.OnEvent(context.WithoutCancel(ctx), event); err != nil {
					m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
				}
			}(item)
		}
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
