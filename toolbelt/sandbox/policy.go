package sandbox

import (
	"time"

	internal "github.com/toolbelt-ai/agent-toolbelt/toolbelt"
)

// Policy is the process-wide filesystem access policy. It is built once at
// startup and read-only afterwards; concurrent readers need no locking.
type Policy struct {
	// AllowedRoots are the only directories file operations may touch.
	// Relative entries are resolved against the working directory when the
	// guard is constructed.
	AllowedRoots []string

	// DeniedPatterns are gitignore-style patterns matched against the
	// root-relative remainder of a candidate path.
	DeniedPatterns []string

	// DeniedExtensions are rejected outright (lowercase, with dot).
	DeniedExtensions []string

	// AllowedExtensions, when non-empty, is exhaustive: any other extension
	// is rejected. Empty means every extension not denied is fine.
	AllowedExtensions []string

	MaxFileSize int64
	MaxDepth    int
	BackupDir   string
	IOTimeout   time.Duration
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		AllowedRoots:     []string{internal.DefaultWorkspaceDir, internal.DefaultTempDir},
		DeniedExtensions: []string{".exe", ".bat", ".cmd", ".com", ".scr", ".vbs", ".dll"},
		MaxFileSize:      50 * 1024 * 1024,
		MaxDepth:         10,
		BackupDir:        internal.DefaultBackupDir,
		IOTimeout:        30 * time.Second,
	}
}
