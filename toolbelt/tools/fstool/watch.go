package fstool

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/sandbox"
)

// watchBufferCap bounds the per-watcher event buffer; the oldest events
// fall off when a watcher goes undrained.
const watchBufferCap = 64

// WatchEvent is one buffered filesystem notification.
type WatchEvent struct {
	Op   string    `json:"op"`
	Path string    `json:"path"`
	At   time.Time `json:"at"`
}

// WatchResult is the payload returned by the watch operation.
type WatchResult struct {
	WatchID string `json:"watch_id"`
	Path    string `json:"path"`
}

// StopWatchResult is the payload returned by the stop_watch operation.
type StopWatchResult struct {
	WatchID string `json:"watch_id"`
	Stopped bool   `json:"stopped"`
}

// WatchEventsResult is the payload returned by the watch_events operation.
type WatchEventsResult struct {
	WatchID string       `json:"watch_id"`
	Events  []WatchEvent `json:"events"`
}

// watchSession owns one fsnotify watcher and its event buffer.
type watchSession struct {
	id   string
	path string
	fw   *fsnotify.Watcher

	mu     sync.Mutex
	events []WatchEvent

	stopOnce sync.Once
}

func (s *watchSession) run() {
	for {
		select {
		case ev, ok := <-s.fw.Events:
			if !ok {
				return
			}
			s.record(WatchEvent{Op: ev.Op.String(), Path: ev.Name, At: time.Now()})
		case _, ok := <-s.fw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *watchSession) record(ev WatchEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) >= watchBufferCap {
		s.events = s.events[1:]
	}
	s.events = append(s.events, ev)
}

func (s *watchSession) drain() []WatchEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = nil
	return events
}

func (s *watchSession) stop() {
	s.stopOnce.Do(func() {
		s.fw.Close()
	})
}

func (t *FileSystemTool) opWatch(ctx context.Context, a callArgs) (any, error) {
	if a.Path == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "watch requires path")
	}
	canonical, err := t.guard.Validate(a.Path, sandbox.OpList)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(canonical); err != nil {
		if os.IsNotExist(err) {
			return nil, ports.Errf(ports.KindNotFound, "no such path: %s", a.Path)
		}
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(canonical); err != nil {
		fw.Close()
		return nil, err
	}

	session := &watchSession{
		id:   uuid.NewString(),
		path: canonical,
		fw:   fw,
	}
	go session.run()

	t.mu.Lock()
	t.watchers[session.id] = session
	t.mu.Unlock()

	t.logger.Debug().Str("watch_id", session.id).Str("path", canonical).Msg("watch started")
	return WatchResult{WatchID: session.id, Path: canonical}, nil
}

func (t *FileSystemTool) opStopWatch(ctx context.Context, a callArgs) (any, error) {
	if a.WatchID == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "stop_watch requires watch_id")
	}

	t.mu.Lock()
	session, ok := t.watchers[a.WatchID]
	if ok {
		delete(t.watchers, a.WatchID)
	}
	t.mu.Unlock()

	if !ok {
		return nil, ports.Errf(ports.KindNotFound, "no such watcher: %s", a.WatchID)
	}
	session.stop()

	return StopWatchResult{WatchID: a.WatchID, Stopped: true}, nil
}

func (t *FileSystemTool) opWatchEvents(ctx context.Context, a callArgs) (any, error) {
	if a.WatchID == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "watch_events requires watch_id")
	}

	t.mu.Lock()
	session, ok := t.watchers[a.WatchID]
	t.mu.Unlock()

	if !ok {
		return nil, ports.Errf(ports.KindNotFound, "no such watcher: %s", a.WatchID)
	}

	return WatchEventsResult{WatchID: a.WatchID, Events: session.drain()}, nil
}
