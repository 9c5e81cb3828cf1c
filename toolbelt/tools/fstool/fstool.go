// Package fstool implements the sandboxed filesystem tool. Every path
// argument passes through the sandbox PathGuard before any OS access, and
// all mutating operations take a pre-change backup.
package fstool

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/sandbox"
)

// FileSystemTool executes filesystem operations inside the sandbox. The
// watcher table is its only mutable state; everything else is fixed at
// construction.
type FileSystemTool struct {
	guard  *sandbox.PathGuard
	arena  *sandbox.LockArena
	logger zerolog.Logger

	mu       sync.Mutex
	watchers map[string]*watchSession
}

// New creates the filesystem tool around an initialized path guard.
func New(guard *sandbox.PathGuard, arena *sandbox.LockArena, logger zerolog.Logger) *FileSystemTool {
	return &FileSystemTool{
		guard:    guard,
		arena:    arena,
		logger:   logger.With().Str("tool", "file_system").Logger(),
		watchers: make(map[string]*watchSession),
	}
}

// Name returns the tool name.
func (t *FileSystemTool) Name() string {
	return "file_system"
}

// Spec returns the tool descriptor advertised to the model.
func (t *FileSystemTool) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "file_system",
		Description: "Read, write, and manage files inside the sandboxed workspace. Destructive operations create a backup first.",
		Parameters: []ports.Parameter{
			{
				Name:        "operation",
				Type:        "string",
				Description: "The filesystem operation to perform",
				Required:    true,
				Enum: []string{
					"read", "write", "mkdir", "list", "copy", "move", "delete",
					"search", "hash", "info", "backup", "restore",
					"watch", "stop_watch", "watch_events",
				},
			},
			{Name: "path", Type: "string", Description: "Target path, absolute or relative to the workspace root"},
			{Name: "content", Type: "string", Description: "Content for write operations"},
			{Name: "encoding", Type: "string", Description: "Content encoding for write", Default: "utf-8", Enum: []string{"utf-8", "base64"}},
			{Name: "overwrite", Type: "boolean", Description: "Allow replacing an existing destination", Default: false},
			{Name: "recursive", Type: "boolean", Description: "Recurse into subdirectories (list, search)"},
			{Name: "src", Type: "string", Description: "Source path for copy and move"},
			{Name: "dst", Type: "string", Description: "Destination path for copy, move, and restore"},
			{Name: "pattern", Type: "string", Description: "Glob pattern for search, matched against entry names"},
			{Name: "algorithm", Type: "string", Description: "Digest algorithm for hash", Default: "sha256", Enum: []string{"md5", "sha1", "sha256"}},
			{Name: "backup_name", Type: "string", Description: "Backup file name for restore"},
			{Name: "watch_id", Type: "string", Description: "Watcher handle for stop_watch and watch_events"},
		},
	}
}

// Invoke routes the call to the requested operation. Returned errors carry
// taxonomy kinds; the dispatcher passes them through verbatim.
func (t *FileSystemTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	var a callArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, ports.Errf(ports.KindInvalidArguments, "invalid arguments: %v", err)
	}

	if timeout := t.guard.Policy().IOTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch a.Operation {
	case "read":
		return t.opRead(ctx, a)
	case "write":
		return t.opWrite(ctx, a)
	case "mkdir":
		return t.opMkdir(ctx, a)
	case "list":
		return t.opList(ctx, a)
	case "copy":
		return t.opCopy(ctx, a)
	case "move":
		return t.opMove(ctx, a)
	case "delete":
		return t.opDelete(ctx, a)
	case "search":
		return t.opSearch(ctx, a)
	case "hash":
		return t.opHash(ctx, a)
	case "info":
		return t.opInfo(ctx, a)
	case "backup":
		return t.opBackup(ctx, a)
	case "restore":
		return t.opRestore(ctx, a)
	case "watch":
		return t.opWatch(ctx, a)
	case "stop_watch":
		return t.opStopWatch(ctx, a)
	case "watch_events":
		return t.opWatchEvents(ctx, a)
	default:
		return nil, ports.Errf(ports.KindInvalidArguments, "unsupported operation: %s", a.Operation)
	}
}

// Close stops every active watcher. Safe to call more than once.
func (t *FileSystemTool) Close() error {
	t.mu.Lock()
	sessions := make([]*watchSession, 0, len(t.watchers))
	for _, s := range t.watchers {
		sessions = append(sessions, s)
	}
	t.watchers = make(map[string]*watchSession)
	t.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
	return nil
}

// callArgs is the decoded argument set shared by all operations. Fields a
// given operation does not use stay at their zero values.
type callArgs struct {
	Operation  string `json:"operation"`
	Path       string `json:"path"`
	Content    string `json:"content"`
	Encoding   string `json:"encoding"`
	Overwrite  bool   `json:"overwrite"`
	Recursive  *bool  `json:"recursive"`
	Src        string `json:"src"`
	Dst        string `json:"dst"`
	Pattern    string `json:"pattern"`
	Algorithm  string `json:"algorithm"`
	BackupName string `json:"backup_name"`
	WatchID    string `json:"watch_id"`
}

// recursive reports the recursion flag with a per-operation default.
func (a callArgs) recursive(def bool) bool {
	if a.Recursive == nil {
		return def
	}
	return *a.Recursive
}

// Ensure FileSystemTool implements the Tool interface.
var _ ports.Tool = (*FileSystemTool)(nil)
