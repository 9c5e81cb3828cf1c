package fstool

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/sandbox"
)

// BackupResult is the payload returned by the backup operation.
type BackupResult struct {
	Path   string `json:"path"`
	Backup string `json:"backup"`
}

// RestoreResult is the payload returned by the restore operation.
type RestoreResult struct {
	BackupName string `json:"backup_name"`
	Path       string `json:"path"`
	Backup     string `json:"backup,omitempty"` // safety copy of the replaced destination
}

// createBackup copies a file or directory tree into the backup directory
// under a timestamped name and returns the backup's absolute path. Callers
// abort their operation when this fails; a destructive change without a
// safety copy must never happen.
func (t *FileSystemTool) createBackup(canonical string) (string, error) {
	info, err := os.Stat(canonical)
	if err != nil {
		return "", err
	}

	backupDir := t.guard.Policy().BackupDir
	if backupDir == "" {
		return "", fmt.Errorf("no backup directory configured")
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create backup directory: %w", err)
	}

	stem, ext := splitName(sanitizeName(filepath.Base(canonical)))
	stamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s_%s%s", stem, stamp, ext))
	for i := 1; ; i++ {
		if _, err := os.Lstat(backupPath); os.IsNotExist(err) {
			break
		}
		backupPath = filepath.Join(backupDir, fmt.Sprintf("%s_%s_%d%s", stem, stamp, i, ext))
	}

	if info.IsDir() {
		err = copyTree(canonical, backupPath)
	} else {
		err = copyFile(canonical, backupPath, info.Mode().Perm())
	}
	if err != nil {
		os.RemoveAll(backupPath) // no partial copies left behind
		return "", err
	}

	t.logger.Debug().Str("path", canonical).Str("backup", backupPath).Msg("backup created")
	return backupPath, nil
}

func (t *FileSystemTool) opBackup(ctx context.Context, a callArgs) (any, error) {
	if a.Path == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "backup requires path")
	}
	canonical, err := t.guard.Validate(a.Path, sandbox.OpRead)
	if err != nil {
		return nil, err
	}
	release := t.arena.Acquire(canonical)
	defer release()

	if _, err := os.Stat(canonical); err != nil {
		if os.IsNotExist(err) {
			return nil, ports.Errf(ports.KindNotFound, "no such path: %s", a.Path)
		}
		return nil, err
	}

	backupPath, err := t.createBackup(canonical)
	if err != nil {
		return nil, ports.Errf(ports.KindInternal, "backup failed: %v", err)
	}
	return BackupResult{Path: canonical, Backup: backupPath}, nil
}

func (t *FileSystemTool) opRestore(ctx context.Context, a callArgs) (any, error) {
	if a.BackupName == "" || a.Dst == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "restore requires backup_name and dst")
	}
	if filepath.Base(a.BackupName) != a.BackupName || strings.Contains(a.BackupName, "..") {
		return nil, ports.Errf(ports.KindInvalidArguments, "backup_name must be a bare file name")
	}

	src := filepath.Join(t.guard.Policy().BackupDir, a.BackupName)
	srcInfo, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ports.Errf(ports.KindNotFound, "no such backup: %s", a.BackupName)
		}
		return nil, err
	}

	canonical, err := t.guard.Validate(a.Dst, sandbox.OpWrite)
	if err != nil {
		return nil, err
	}
	release := t.arena.Acquire(canonical)
	defer release()

	var replacedBackup string
	if _, statErr := os.Stat(canonical); statErr == nil {
		if !a.Overwrite {
			return nil, ports.Errf(ports.KindAlreadyExists, "%s exists, pass overwrite to replace it", a.Dst)
		}
		replacedBackup, err = t.createBackup(canonical)
		if err != nil {
			return nil, ports.Errf(ports.KindInternal, "backup failed, restore aborted: %v", err)
		}
		if err := os.RemoveAll(canonical); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(statErr) {
		return nil, statErr
	}

	if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		return nil, err
	}
	if srcInfo.IsDir() {
		err = copyTree(src, canonical)
	} else {
		err = copyFile(src, canonical, srcInfo.Mode().Perm())
	}
	if err != nil {
		return nil, err
	}

	return RestoreResult{BackupName: a.BackupName, Path: canonical, Backup: replacedBackup}, nil
}

// copyFile copies a regular file, creating or truncating dst with perm.
func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyTree replicates a directory tree, preserving permissions and
// recreating symlinks as links.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}
