package fstool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/sandbox"
)

// TestWatchSeesCreate tests the watch lifecycle: start, observe a change,
// drain, stop.
func TestWatchSeesCreate(t *testing.T) {
	tool, root := newTestTool(t, sandbox.Policy{})
	ctx := context.Background()

	wr := invoke(t, tool, map[string]any{"operation": "watch", "path": "."}).(WatchResult)
	require.NotEmpty(t, wr.WatchID)
	assert.Equal(t, root, wr.Path)

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("x"), 0o644))

	var events []WatchEvent
	require.Eventually(t, func() bool {
		out, err := tool.Invoke(ctx, map[string]any{"operation": "watch_events", "watch_id": wr.WatchID})
		if err != nil {
			return false
		}
		events = append(events, out.(WatchEventsResult).Events...)
		return len(events) > 0
	}, 2*time.Second, 20*time.Millisecond, "no filesystem event arrived")

	found := false
	for _, ev := range events {
		if strings.HasSuffix(ev.Path, "new.txt") {
			found = true
			assert.NotEmpty(t, ev.Op)
			assert.False(t, ev.At.IsZero())
		}
	}
	assert.True(t, found, "expected an event for new.txt, got %+v", events)

	sr := invoke(t, tool, map[string]any{"operation": "stop_watch", "watch_id": wr.WatchID}).(StopWatchResult)
	assert.True(t, sr.Stopped)

	// A stopped watcher is gone.
	kind := invokeKind(t, tool, map[string]any{"operation": "watch_events", "watch_id": wr.WatchID})
	assert.Equal(t, ports.KindNotFound, kind)
}

// TestWatchUnknownID tests lookups against absent watcher handles.
func TestWatchUnknownID(t *testing.T) {
	tool, _ := newTestTool(t, sandbox.Policy{})

	kind := invokeKind(t, tool, map[string]any{"operation": "stop_watch", "watch_id": "no-such-id"})
	assert.Equal(t, ports.KindNotFound, kind)

	kind = invokeKind(t, tool, map[string]any{"operation": "watch_events", "watch_id": "no-such-id"})
	assert.Equal(t, ports.KindNotFound, kind)
}

// TestWatchMissingPath tests that watching a nonexistent directory fails
// cleanly.
func TestWatchMissingPath(t *testing.T) {
	tool, _ := newTestTool(t, sandbox.Policy{})

	kind := invokeKind(t, tool, map[string]any{"operation": "watch", "path": "nowhere"})
	assert.Equal(t, ports.KindNotFound, kind)
}

// TestWatchIDsAreDistinct tests that parallel sessions on the same path get
// independent handles.
func TestWatchIDsAreDistinct(t *testing.T) {
	tool, _ := newTestTool(t, sandbox.Policy{})

	first := invoke(t, tool, map[string]any{"operation": "watch", "path": "."}).(WatchResult)
	second := invoke(t, tool, map[string]any{"operation": "watch", "path": "."}).(WatchResult)
	assert.NotEqual(t, first.WatchID, second.WatchID)

	invoke(t, tool, map[string]any{"operation": "stop_watch", "watch_id": first.WatchID})

	// The sibling session survives its peer's stop.
	out := invoke(t, tool, map[string]any{"operation": "watch_events", "watch_id": second.WatchID})
	assert.IsType(t, WatchEventsResult{}, out)
}

// TestCloseStopsAllWatchers tests that closing the tool tears every session
// down.
func TestCloseStopsAllWatchers(t *testing.T) {
	tool, _ := newTestTool(t, sandbox.Policy{})

	wr := invoke(t, tool, map[string]any{"operation": "watch", "path": "."}).(WatchResult)
	require.NoError(t, tool.Close())

	kind := invokeKind(t, tool, map[string]any{"operation": "watch_events", "watch_id": wr.WatchID})
	assert.Equal(t, ports.KindNotFound, kind)
}
