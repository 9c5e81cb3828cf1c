package fstool

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/rwcarlsen/goexif/exif"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/sandbox"
)

// Entry is one listed or matched filesystem entry.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ListResult is the payload returned by the list operation.
type ListResult struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
}

// SearchResult is the payload returned by the search operation.
type SearchResult struct {
	Path    string  `json:"path"`
	Pattern string  `json:"pattern"`
	Matches []Entry `json:"matches"`
	Total   int     `json:"total"`
}

// HashResult is the payload returned by the hash operation.
type HashResult struct {
	Path      string `json:"path"`
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// InfoResult is the payload returned by the info operation.
type InfoResult struct {
	Path    string            `json:"path"`
	Name    string            `json:"name"`
	Size    int64             `json:"size"`
	Mode    string            `json:"mode"`
	ModTime time.Time         `json:"mod_time"`
	IsDir   bool              `json:"is_dir"`
	Mime    string            `json:"mime,omitempty"`
	Exif    map[string]string `json:"exif,omitempty"`
}

func (t *FileSystemTool) opList(ctx context.Context, a callArgs) (any, error) {
	if a.Path == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "list requires path")
	}
	canonical, err := t.guard.Validate(a.Path, sandbox.OpList)
	if err != nil {
		return nil, err
	}
	release := t.arena.Acquire(canonical)
	defer release()

	info, err := os.Stat(canonical)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ports.Errf(ports.KindNotFound, "no such directory: %s", a.Path)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ports.Errf(ports.KindInvalidArguments, "%s is not a directory", a.Path)
	}

	maxDepth := 1
	if a.recursive(false) {
		maxDepth = t.maxDepth()
	}

	var entries []Entry
	err = t.walk(ctx, canonical, info, maxDepth, func(entryPath string, d fs.DirEntry, depth int) error {
		fi, err := d.Info()
		if err != nil {
			return nil // entry vanished mid-walk
		}
		entries = append(entries, Entry{
			Name:    d.Name(),
			Path:    entryPath,
			IsDir:   d.IsDir(),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ListResult{Path: canonical, Entries: entries, Total: len(entries)}, nil
}

func (t *FileSystemTool) opSearch(ctx context.Context, a callArgs) (any, error) {
	if a.Path == "" || a.Pattern == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "search requires path and pattern")
	}
	if _, err := path.Match(a.Pattern, "probe"); err != nil {
		return nil, ports.Errf(ports.KindInvalidArguments, "invalid pattern: %s", a.Pattern)
	}
	canonical, err := t.guard.Validate(a.Path, sandbox.OpList)
	if err != nil {
		return nil, err
	}
	release := t.arena.Acquire(canonical)
	defer release()

	info, err := os.Stat(canonical)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ports.Errf(ports.KindNotFound, "no such directory: %s", a.Path)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ports.Errf(ports.KindInvalidArguments, "%s is not a directory", a.Path)
	}

	maxDepth := t.maxDepth()
	if !a.recursive(true) {
		maxDepth = 1
	}

	var matches []Entry
	err = t.walk(ctx, canonical, info, maxDepth, func(entryPath string, d fs.DirEntry, depth int) error {
		ok, _ := path.Match(a.Pattern, d.Name())
		if !ok {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		matches = append(matches, Entry{
			Name:    d.Name(),
			Path:    entryPath,
			IsDir:   d.IsDir(),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return SearchResult{Path: canonical, Pattern: a.Pattern, Matches: matches, Total: len(matches)}, nil
}

func (t *FileSystemTool) opHash(ctx context.Context, a callArgs) (any, error) {
	if a.Path == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "hash requires path")
	}

	var h hash.Hash
	algorithm := a.Algorithm
	if algorithm == "" {
		algorithm = "sha256"
	}
	switch algorithm {
	case "md5":
		h = md5.New()
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	default:
		return nil, ports.Errf(ports.KindInvalidArguments, "unsupported algorithm: %s", algorithm)
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
		return nil, ports.Errf(ports.KindInvalidArguments, "%s is a directory", a.Path)
	}

	f, err := os.Open(canonical)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Streamed so files beyond the read size limit still hash.
	if _, err := io.CopyBuffer(h, f, make([]byte, 8192)); err != nil {
		return nil, err
	}

	return HashResult{
		Path:      canonical,
		Algorithm: algorithm,
		Digest:    hex.EncodeToString(h.Sum(nil)),
		Size:      info.Size(),
	}, nil
}

func (t *FileSystemTool) opInfo(ctx context.Context, a callArgs) (any, error) {
	if a.Path == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "info requires path")
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
			return nil, ports.Errf(ports.KindNotFound, "no such path: %s", a.Path)
		}
		return nil, err
	}

	result := InfoResult{
		Path:    canonical,
		Name:    info.Name(),
		Size:    info.Size(),
		Mode:    info.Mode().String(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
	if !info.IsDir() {
		result.Mime = mimeGuess(filepath.Ext(canonical))
		result.Exif = readExifFields(canonical)
	}
	return result, nil
}

// maxDepth returns the traversal bound, never below one.
func (t *FileSystemTool) maxDepth() int {
	if d := t.guard.Policy().MaxDepth; d > 0 {
		return d
	}
	return 1
}

// walkFunc receives each visible entry with its canonical path and depth,
// where depth 1 is a direct child of the walk root.
type walkFunc func(path string, d fs.DirEntry, depth int) error

// walk traverses canonical up to maxDepth levels. Every entry re-validates
// through the guard, so denied names and symlinks escaping the sandbox stay
// invisible. Visited directory inodes are tracked in a bitmap to break
// symlink cycles.
func (t *FileSystemTool) walk(ctx context.Context, canonical string, rootInfo fs.FileInfo, maxDepth int, fn walkFunc) error {
	visited := roaring64.New()
	if ino, ok := inodeOf(rootInfo); ok {
		visited.Add(ino)
	}
	return t.walkDir(ctx, canonical, 1, maxDepth, visited, fn)
}

func (t *FileSystemTool) walkDir(ctx context.Context, dir string, depth, maxDepth int, visited *roaring64.Bitmap, fn walkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// os.ReadDir sorts by name, which keeps listings stable within a call.
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, d := range dirEntries {
		entryPath := filepath.Join(dir, d.Name())

		canonicalChild, err := t.guard.Validate(entryPath, sandbox.OpList)
		if err != nil {
			continue // denied or escaping entries stay invisible
		}
		if err := fn(canonicalChild, d, depth); err != nil {
			return err
		}

		if depth >= maxDepth {
			continue
		}
		if !d.IsDir() && d.Type()&fs.ModeSymlink == 0 {
			continue
		}
		info, err := os.Stat(canonicalChild)
		if err != nil || !info.IsDir() {
			continue
		}
		if ino, ok := inodeOf(info); ok {
			if visited.Contains(ino) {
				continue
			}
			visited.Add(ino)
		}
		if err := t.walkDir(ctx, canonicalChild, depth+1, maxDepth, visited, fn); err != nil {
			return err
		}
	}
	return nil
}

func inodeOf(info fs.FileInfo) (uint64, bool) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino, true
	}
	return 0, false
}

// mimeGuess resolves a content type from the extension, defaulting to a
// binary stream.
func mimeGuess(ext string) string {
	if mt := mime.TypeByExtension(strings.ToLower(ext)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// readExifFields pulls a handful of common EXIF tags from an image file.
// Best effort: any failure simply yields no fields.
func readExifFields(path string) map[string]string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".tif", ".tiff", ".png", ".heic":
	default:
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil
	}

	fields := make(map[string]string)
	for _, name := range []exif.FieldName{
		exif.Make, exif.Model, exif.DateTime,
		exif.PixelXDimension, exif.PixelYDimension, exif.Orientation,
	} {
		if tag, err := x.Get(name); err == nil {
			fields[string(name)] = strings.Trim(tag.String(), `"`)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
