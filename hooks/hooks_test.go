package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder appends its name to a shared log and optionally fails.
type recorder struct {
	name     string
	priority int
	async    bool
	err      error
	fn       func(ctx context.Context, event HookEvent)

	mu  *sync.Mutex
	log *[]string
}

func (r *recorder) OnEvent(ctx context.Context, event HookEvent) error {
	if r.fn != nil {
		r.fn(ctx, event)
	}
	if r.log != nil {
		r.mu.Lock()
		*r.log = append(*r.log, r.name)
		r.mu.Unlock()
	}
	return r.err
}

func (r *recorder) Priority() int { return r.priority }
func (r *recorder) IsAsync() bool { return r.async }

func nightly() SnapshotPayload {
	return SnapshotPayload{
		Tag:         "nightly",
		Keyspace:    "ks",
		Table:       "events",
		TableID:     "5bc52802-de25-35ed-aeab-188eecebb090",
		Directories: []string{"/data1/ks/events-5bc52802de2535edaeab188eecebb090/snapshots/nightly"},
		CreatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHookManager_PriorityOrder(t *testing.T) {
	hm := NewHookManager(nil)
	var mu sync.Mutex
	var log []string
	hm.Register(EventPreCreateSnapshot, &recorder{name: "audit", priority: 100, mu: &mu, log: &log})
	hm.Register(EventPreCreateSnapshot, &recorder{name: "disk-guard", priority: 10, mu: &mu, log: &log})
	hm.Register(EventPreCreateSnapshot, &recorder{name: "quota", priority: 10, mu: &mu, log: &log})
	hm.Register(EventPostCreateSnapshot, &recorder{name: "other-event", mu: &mu, log: &log})

	err := hm.Trigger(context.Background(), NewPreCreateSnapshotEvent(PreCreateSnapshotPayload{
		Tag:     "nightly",
		Trigger: "manual",
		Tables:  []string{"ks.events"},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"disk-guard", "quota", "audit"}, log, "equal priorities keep registration order")
}

func TestHookManager_PreClearCancels(t *testing.T) {
	hm := NewHookManager(nil)
	var mu sync.Mutex
	var log []string
	errHold := errors.New("legal hold on ks.events")
	var seen PreClearSnapshotPayload
	hm.Register(EventPreClearSnapshot, &recorder{
		name:     "hold",
		priority: 5,
		err:      errHold,
		fn: func(_ context.Context, ev HookEvent) {
			seen = ev.Payload().(PreClearSnapshotPayload)
		},
		mu:  &mu,
		log: &log,
	})
	hm.Register(EventPreClearSnapshot, &recorder{name: "later", priority: 50, mu: &mu, log: &log})

	err := hm.Trigger(context.Background(), NewPreClearSnapshotEvent(PreClearSnapshotPayload{
		SnapshotPayload: nightly(),
		Reason:          "expired",
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, errHold)
	assert.Contains(t, err.Error(), "pre-hook for event PreClearSnapshot (priority 5) failed")
	assert.Equal(t, []string{"hold"}, log, "listeners after a cancelling one are skipped")
	assert.Equal(t, "nightly", seen.Tag)
	assert.Equal(t, "expired", seen.Reason)
}

func TestHookManager_PreHooksAlwaysRunInline(t *testing.T) {
	hm := NewHookManager(nil)
	var called atomic.Bool
	hm.Register(EventPreCreateSnapshot, &recorder{
		async: true,
		err:   errors.New("disk full"),
		fn:    func(context.Context, HookEvent) { called.Store(true) },
	})

	err := hm.Trigger(context.Background(), NewPreCreateSnapshotEvent(PreCreateSnapshotPayload{Tag: "x"}))
	assert.Error(t, err, "an async pre listener can still cancel")
	assert.True(t, called.Load())
}

func TestHookManager_AsyncPostClearReceivesFailure(t *testing.T) {
	hm := NewHookManager(nil)
	got := make(chan PostClearSnapshotPayload, 1)
	var ctxErr atomic.Value
	release := make(chan struct{})
	var finished atomic.Bool
	hm.Register(EventPostClearSnapshot, &recorder{
		async: true,
		fn: func(ctx context.Context, ev HookEvent) {
			<-release
			if err := ctx.Err(); err != nil {
				ctxErr.Store(err)
			}
			got <- ev.Payload().(PostClearSnapshotPayload)
			finished.Store(true)
		},
	})

	removeErr := errors.New("failed to remove snapshot directory: permission denied")
	ctx, cancel := context.WithCancel(context.Background())
	err := hm.Trigger(ctx, NewPostClearSnapshotEvent(PostClearSnapshotPayload{
		SnapshotPayload: nightly(),
		Reason:          "manual",
		Err:             removeErr,
	}))
	require.NoError(t, err, "post listeners never fail the operation")
	cancel()
	assert.False(t, finished.Load(), "async listeners do not block Trigger")

	close(release)
	hm.Stop()
	assert.True(t, finished.Load(), "Stop waits for async listeners")
	assert.Nil(t, ctxErr.Load(), "async listeners outlive the caller's context")

	p := <-got
	assert.Equal(t, "nightly", p.Tag)
	assert.Equal(t, "manual", p.Reason)
	assert.ErrorIs(t, p.Err, removeErr)
}

func TestHookManager_PostErrorsAreLogged(t *testing.T) {
	hm := NewHookManager(nil)
	var mu sync.Mutex
	var log []string
	hm.Register(EventPostCreateSnapshot, &recorder{name: "broken", err: errors.New("webhook down"), mu: &mu, log: &log})
	hm.Register(EventPostCreateSnapshot, &recorder{name: "audit", priority: 1, mu: &mu, log: &log})

	err := hm.Trigger(context.Background(), NewPostCreateSnapshotEvent(PostCreateSnapshotPayload{
		SnapshotPayload: nightly(),
		Trigger:         "dropped",
	}))
	assert.NoError(t, err)
	assert.Equal(t, []string{"broken", "audit"}, log)
}

func TestHookManager_NoListeners(t *testing.T) {
	hm := NewHookManager(nil)
	assert.NoError(t, hm.Trigger(context.Background(), NewPostRegistryRebuildEvent(PostRegistryRebuildPayload{Snapshots: 3})))
	hm.Stop()
}

func TestEventConstructors(t *testing.T) {
	testCases := []struct {
		event HookEvent
		want  EventType
	}{
		{NewPreCreateSnapshotEvent(PreCreateSnapshotPayload{}), EventPreCreateSnapshot},
		{NewPostCreateSnapshotEvent(PostCreateSnapshotPayload{}), EventPostCreateSnapshot},
		{NewPreClearSnapshotEvent(PreClearSnapshotPayload{}), EventPreClearSnapshot},
		{NewPostClearSnapshotEvent(PostClearSnapshotPayload{}), EventPostClearSnapshot},
		{NewPostRegistryRebuildEvent(PostRegistryRebuildPayload{Skipped: 1}), EventPostRegistryRebuild},
	}
	for _, tc := range testCases {
		t.Run(string(tc.want), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.event.Type())
			assert.NotNil(t, tc.event.Payload())
		})
	}
}
