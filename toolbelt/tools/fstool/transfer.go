package fstool

import (
	"context"
	"os"
	"path/filepath"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/sandbox"
)

// CopyResult is the payload returned by the copy operation.
type CopyResult struct {
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	IsDir  bool   `json:"is_dir"`
	Bytes  int64  `json:"bytes,omitempty"`
	Backup string `json:"backup,omitempty"`
}

// MoveResult is the payload returned by the move operation.
type MoveResult struct {
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Backup string `json:"backup,omitempty"`
}

// DeleteResult is the payload returned by the delete operation.
type DeleteResult struct {
	Path   string `json:"path"`
	Backup string `json:"backup"`
}

func (t *FileSystemTool) opCopy(ctx context.Context, a callArgs) (any, error) {
	if a.Src == "" || a.Dst == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "copy requires src and dst")
	}
	srcCanonical, err := t.guard.Validate(a.Src, sandbox.OpRead)
	if err != nil {
		return nil, err
	}
	dstCanonical, err := t.guard.Validate(a.Dst, sandbox.OpWrite)
	if err != nil {
		return nil, err
	}
	if srcCanonical == dstCanonical {
		return nil, ports.Errf(ports.KindInvalidArguments, "src and dst are the same path")
	}
	release := t.arena.AcquireAll(srcCanonical, dstCanonical)
	defer release()

	srcInfo, err := os.Stat(srcCanonical)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ports.Errf(ports.KindNotFound, "no such path: %s", a.Src)
		}
		return nil, err
	}

	backup, err := t.prepareDst(dstCanonical, a.Dst, a.Overwrite)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dstCanonical), 0o755); err != nil {
		return nil, err
	}
	if srcInfo.IsDir() {
		if err := copyTree(srcCanonical, dstCanonical); err != nil {
			return nil, err
		}
	} else {
		if err := copyFile(srcCanonical, dstCanonical, srcInfo.Mode().Perm()); err != nil {
			return nil, err
		}
	}

	result := CopyResult{Src: srcCanonical, Dst: dstCanonical, IsDir: srcInfo.IsDir(), Backup: backup}
	if !srcInfo.IsDir() {
		result.Bytes = srcInfo.Size()
	}
	return result, nil
}

func (t *FileSystemTool) opMove(ctx context.Context, a callArgs) (any, error) {
	if a.Src == "" || a.Dst == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "move requires src and dst")
	}
	// Moving removes the source, so it validates under delete rules.
	srcCanonical, err := t.guard.Validate(a.Src, sandbox.OpDelete)
	if err != nil {
		return nil, err
	}
	dstCanonical, err := t.guard.Validate(a.Dst, sandbox.OpWrite)
	if err != nil {
		return nil, err
	}
	if srcCanonical == dstCanonical {
		return nil, ports.Errf(ports.KindInvalidArguments, "src and dst are the same path")
	}
	release := t.arena.AcquireAll(srcCanonical, dstCanonical)
	defer release()

	srcInfo, err := os.Stat(srcCanonical)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ports.Errf(ports.KindNotFound, "no such path: %s", a.Src)
		}
		return nil, err
	}

	backup, err := t.prepareDst(dstCanonical, a.Dst, a.Overwrite)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dstCanonical), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(srcCanonical, dstCanonical); err != nil {
		// Rename fails across devices; fall back to copy and delete.
		if srcInfo.IsDir() {
			if err := copyTree(srcCanonical, dstCanonical); err != nil {
				return nil, err
			}
		} else {
			if err := copyFile(srcCanonical, dstCanonical, srcInfo.Mode().Perm()); err != nil {
				return nil, err
			}
		}
		if err := os.RemoveAll(srcCanonical); err != nil {
			return nil, err
		}
	}

	return MoveResult{Src: srcCanonical, Dst: dstCanonical, Backup: backup}, nil
}

func (t *FileSystemTool) opDelete(ctx context.Context, a callArgs) (any, error) {
	if a.Path == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "delete requires path")
	}
	canonical, err := t.guard.Validate(a.Path, sandbox.OpDelete)
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

	backup, err := t.createBackup(canonical)
	if err != nil {
		return nil, ports.Errf(ports.KindInternal, "backup failed, delete aborted: %v", err)
	}
	if err := os.RemoveAll(canonical); err != nil {
		return nil, err
	}

	t.logger.Debug().Str("path", canonical).Str("backup", backup).Msg("delete")
	return DeleteResult{Path: canonical, Backup: backup}, nil
}

// prepareDst enforces overwrite semantics on a transfer destination. An
// existing destination is backed up and cleared under overwrite; without
// overwrite it is an AlreadyExists failure. Missing destinations pass
// through untouched.
func (t *FileSystemTool) prepareDst(dstCanonical, display string, overwrite bool) (string, error) {
	_, err := os.Stat(dstCanonical)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !overwrite {
		return "", ports.Errf(ports.KindAlreadyExists, "%s exists, pass overwrite to replace it", display)
	}

	backup, err := t.createBackup(dstCanonical)
	if err != nil {
		return "", ports.Errf(ports.KindInternal, "backup failed, operation aborted: %v", err)
	}
	if err := os.RemoveAll(dstCanonical); err != nil {
		return "", err
	}
	return backup, nil
}
