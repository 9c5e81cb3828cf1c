// Package toolbelt holds the shared constants used across the module.
package toolbelt

const (
	DefaultAppName    = "toolbelt"
	DefaultConfigPath = "/etc/toolbelt"

	// DefaultWorkspaceDir and DefaultTempDir are the sandbox roots file
	// operations may touch unless the configuration says otherwise.
	DefaultWorkspaceDir = "data/workspace"
	DefaultTempDir      = "data/temp"

	// DefaultBackupDir receives the pre-overwrite and pre-delete copies made
	// by the filesystem tool. It lives outside the sandbox roots, so tools
	// cannot reach into it through a path argument.
	DefaultBackupDir = "data/backups"

	// DefaultDatabasePath is the audit journal location.
	DefaultDatabasePath = "data/toolbelt.db"
)
