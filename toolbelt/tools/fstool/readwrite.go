package fstool

import (
	"context"
	"os"
	"path/filepath"
	"time"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/sandbox"
)

// ReadResult is the payload returned by the read operation.
type ReadResult struct {
	Path     string    `json:"path"`
	Content  string    `json:"content"`
	Encoding string    `json:"encoding"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
}

// WriteResult is the payload returned by the write operation.
type WriteResult struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytes_written"`
	Backup       string `json:"backup,omitempty"`
}

// MkdirResult is the payload returned by the mkdir operation.
type MkdirResult struct {
	Path    string `json:"path"`
	Created bool   `json:"created"`
}

func (t *FileSystemTool) opRead(ctx context.Context, a callArgs) (any, error) {
	if a.Path == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "read requires path")
	}
	canonical, err := t.guard.Validate(a.Path, sandbox.OpRead)
	if err != nil {
		return nil, err
	}
	release := t.arena.Acquire(canonical)
	defer release()

	info, err := os.Stat(canonical)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ports.Errf(ports.KindNotFound, "no such file: %s", a.Path)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ports.Errf(ports.KindInvalidArguments, "%s is a directory, use list", a.Path)
	}
	if max := t.guard.Policy().MaxFileSize; max > 0 && info.Size() > max {
		return nil, ports.Errf(ports.KindTooLarge, "file is %d bytes, limit is %d", info.Size(), max)
	}

	data, err := os.ReadFile(canonical)
	if err != nil {
		return nil, err
	}

	content, encoding := decodeText(data)
	return ReadResult{
		Path:     canonical,
		Content:  content,
		Encoding: encoding,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}, nil
}

func (t *FileSystemTool) opWrite(ctx context.Context, a callArgs) (any, error) {
	if a.Path == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "write requires path")
	}
	canonical, err := t.guard.Validate(a.Path, sandbox.OpWrite)
	if err != nil {
		return nil, err
	}
	release := t.arena.Acquire(canonical)
	defer release()

	data, err := decodeContent(a.Content, a.Encoding)
	if err != nil {
		return nil, ports.Errf(ports.KindInvalidArguments, "%v", err)
	}
	if max := t.guard.Policy().MaxFileSize; max > 0 && int64(len(data)) > max {
		return nil, ports.Errf(ports.KindTooLarge, "content is %d bytes, limit is %d", len(data), max)
	}

	var backupPath string
	if info, statErr := os.Stat(canonical); statErr == nil {
		if info.IsDir() {
			return nil, ports.Errf(ports.KindAlreadyExists, "a directory occupies %s", a.Path)
		}
		if !a.Overwrite {
			return nil, ports.Errf(ports.KindAlreadyExists, "%s exists, pass overwrite to replace it", a.Path)
		}
		// An overwrite without a safety copy is never acceptable.
		backupPath, err = t.createBackup(canonical)
		if err != nil {
			return nil, ports.Errf(ports.KindInternal, "backup failed, write aborted: %v", err)
		}
	} else if !os.IsNotExist(statErr) {
		return nil, statErr
	}

	if err := os.MkdirAll(filepath.Dir(canonical), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(canonical, data, 0o644); err != nil {
		return nil, err
	}

	t.logger.Debug().Str("path", canonical).Int("bytes", len(data)).Str("backup", backupPath).Msg("write")
	return WriteResult{Path: canonical, BytesWritten: len(data), Backup: backupPath}, nil
}

func (t *FileSystemTool) opMkdir(ctx context.Context, a callArgs) (any, error) {
	if a.Path == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "mkdir requires path")
	}
	canonical, err := t.guard.Validate(a.Path, sandbox.OpWrite)
	if err != nil {
		return nil, err
	}
	release := t.arena.Acquire(canonical)
	defer release()

	if info, statErr := os.Stat(canonical); statErr == nil {
		if info.IsDir() {
			return MkdirResult{Path: canonical, Created: false}, nil
		}
		return nil, ports.Errf(ports.KindAlreadyExists, "a file occupies %s", a.Path)
	} else if !os.IsNotExist(statErr) {
		return nil, statErr
	}

	if err := os.MkdirAll(canonical, 0o755); err != nil {
		return nil, err
	}
	return MkdirResult{Path: canonical, Created: true}, nil
}
