package fstool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/sandbox"
)

func entryNames(entries []Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// TestListShallow tests a non-recursive listing: direct children only.
func TestListShallow(t *testing.T) {
	tool, _ := newTestTool(t, sandbox.Policy{MaxDepth: 5})

	invoke(t, tool, map[string]any{"operation": "write", "path": "a.txt", "content": "a"})
	invoke(t, tool, map[string]any{"operation": "write", "path": "sub/b.txt", "content": "b"})

	lr := invoke(t, tool, map[string]any{"operation": "list", "path": "."}).(ListResult)
	assert.Equal(t, 2, lr.Total)
	assert.ElementsMatch(t, []string{"a.txt", "sub"}, entryNames(lr.Entries))
}

// TestListRecursiveDepthBound tests that recursion stops at the policy's
// depth.
func TestListRecursiveDepthBound(t *testing.T) {
	tool, _ := newTestTool(t, sandbox.Policy{MaxDepth: 2})

	invoke(t, tool, map[string]any{"operation": "write", "path": "a.txt", "content": "a"})
	invoke(t, tool, map[string]any{"operation": "write", "path": "sub/b.txt", "content": "b"})
	invoke(t, tool, map[string]any{"operation": "write", "path": "sub/deep/c.txt", "content": "c"})

	lr := invoke(t, tool, map[string]any{"operation": "list", "path": ".", "recursive": true}).(ListResult)
	names := entryNames(lr.Entries)
	assert.ElementsMatch(t, []string{"a.txt", "sub", "b.txt", "deep"}, names)
	assert.NotContains(t, names, "c.txt", "depth 3 entry must stay out of a depth-2 walk")
}

// TestListHidesDeniedEntries tests that pattern-denied names never show up
// in listings.
func TestListHidesDeniedEntries(t *testing.T) {
	tool, root := newTestTool(t, sandbox.Policy{DeniedPatterns: []string{"*.env", "secrets/"}})

	require.NoError(t, os.WriteFile(filepath.Join(root, "ok.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "prod.env"), []byte("KEY=1"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "secrets"), 0o755))

	lr := invoke(t, tool, map[string]any{"operation": "list", "path": "."}).(ListResult)
	assert.ElementsMatch(t, []string{"ok.txt"}, entryNames(lr.Entries))
}

// TestListHidesEscapingSymlink tests that a symlink pointing outside the
// sandbox stays invisible.
func TestListHidesEscapingSymlink(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))

	tool, root := newTestTool(t, sandbox.Policy{})
	require.NoError(t, os.WriteFile(filepath.Join(root, "plain.txt"), []byte("p"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "leak")))

	lr := invoke(t, tool, map[string]any{"operation": "list", "path": "."}).(ListResult)
	assert.ElementsMatch(t, []string{"plain.txt"}, entryNames(lr.Entries))
}

// TestListSymlinkCycle tests that a directory symlink loop terminates.
func TestListSymlinkCycle(t *testing.T) {
	tool, root := newTestTool(t, sandbox.Policy{MaxDepth: 10})

	require.NoError(t, os.MkdirAll(filepath.Join(root, "loop"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "loop"), filepath.Join(root, "loop", "self")))

	lr := invoke(t, tool, map[string]any{"operation": "list", "path": ".", "recursive": true}).(ListResult)
	// One visit of the directory, one of the link; the cycle never expands.
	assert.LessOrEqual(t, lr.Total, 2)
}

// TestListFailureModes tests list argument errors.
func TestListFailureModes(t *testing.T) {
	tool, _ := newTestTool(t, sandbox.Policy{})

	kind := invokeKind(t, tool, map[string]any{"operation": "list", "path": "nope"})
	assert.Equal(t, ports.KindNotFound, kind)

	invoke(t, tool, map[string]any{"operation": "write", "path": "f.txt", "content": "x"})
	kind = invokeKind(t, tool, map[string]any{"operation": "list", "path": "f.txt"})
	assert.Equal(t, ports.KindInvalidArguments, kind)
}

// TestSearchGlob tests glob matching against entry names, recursive by
// default.
func TestSearchGlob(t *testing.T) {
	tool, _ := newTestTool(t, sandbox.Policy{MaxDepth: 4})

	invoke(t, tool, map[string]any{"operation": "write", "path": "main.go", "content": "x"})
	invoke(t, tool, map[string]any{"operation": "write", "path": "pkg/util.go", "content": "x"})
	invoke(t, tool, map[string]any{"operation": "write", "path": "pkg/util_test.go", "content": "x"})
	invoke(t, tool, map[string]any{"operation": "write", "path": "README.md", "content": "x"})

	sr := invoke(t, tool, map[string]any{"operation": "search", "path": ".", "pattern": "*.go"}).(SearchResult)
	assert.Equal(t, 3, sr.Total)
	assert.ElementsMatch(t, []string{"main.go", "util.go", "util_test.go"}, entryNames(sr.Matches))

	sr = invoke(t, tool, map[string]any{
		"operation": "search", "path": ".", "pattern": "*.go", "recursive": false,
	}).(SearchResult)
	assert.ElementsMatch(t, []string{"main.go"}, entryNames(sr.Matches))
}

// TestSearchInvalidPattern tests glob syntax rejection.
func TestSearchInvalidPattern(t *testing.T) {
	tool, _ := newTestTool(t, sandbox.Policy{})

	kind := invokeKind(t, tool, map[string]any{"operation": "search", "path": ".", "pattern": "[unclosed"})
	assert.Equal(t, ports.KindInvalidArguments, kind)
}

// TestHashKnownVectors tests digests against fixed reference values.
func TestHashKnownVectors(t *testing.T) {
	tool, root := newTestTool(t, sandbox.Policy{})
	require.NoError(t, os.WriteFile(filepath.Join(root, "v.txt"), []byte("hello world"), 0o644))

	hr := invoke(t, tool, map[string]any{"operation": "hash", "path": "v.txt"}).(HashResult)
	assert.Equal(t, "sha256", hr.Algorithm)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", hr.Digest)
	assert.EqualValues(t, 11, hr.Size)

	hr = invoke(t, tool, map[string]any{"operation": "hash", "path": "v.txt", "algorithm": "md5"}).(HashResult)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", hr.Digest)

	hr = invoke(t, tool, map[string]any{"operation": "hash", "path": "v.txt", "algorithm": "sha1"}).(HashResult)
	assert.Equal(t, "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", hr.Digest)

	kind := invokeKind(t, tool, map[string]any{"operation": "hash", "path": "v.txt", "algorithm": "crc32"})
	assert.Equal(t, ports.KindInvalidArguments, kind)
}

// TestHashStreamsBeyondReadLimit tests that hashing ignores the read size
// ceiling: digests stream.
func TestHashStreamsBeyondReadLimit(t *testing.T) {
	tool, root := newTestTool(t, sandbox.Policy{MaxFileSize: 4})
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), make([]byte, 64*1024), 0o644))

	hr := invoke(t, tool, map[string]any{"operation": "hash", "path": "big.bin"}).(HashResult)
	assert.NotEmpty(t, hr.Digest)
	assert.EqualValues(t, 64*1024, hr.Size)
}

// TestInfo tests metadata for files and directories, including the MIME
// guess.
func TestInfo(t *testing.T) {
	tool, root := newTestTool(t, sandbox.Policy{})

	require.NoError(t, os.WriteFile(filepath.Join(root, "page.html"), []byte("<html></html>"), 0o644))
	ir := invoke(t, tool, map[string]any{"operation": "info", "path": "page.html"}).(InfoResult)
	assert.Equal(t, "page.html", ir.Name)
	assert.False(t, ir.IsDir)
	assert.EqualValues(t, 13, ir.Size)
	assert.Contains(t, ir.Mime, "text/html")
	assert.Nil(t, ir.Exif, "plain html carries no exif")

	require.NoError(t, os.MkdirAll(filepath.Join(root, "d"), 0o755))
	ir = invoke(t, tool, map[string]any{"operation": "info", "path": "d"}).(InfoResult)
	assert.True(t, ir.IsDir)
	assert.Empty(t, ir.Mime)

	kind := invokeKind(t, tool, map[string]any{"operation": "info", "path": "ghost"})
	assert.Equal(t, ports.KindNotFound, kind)
}

// TestInfoExifBestEffort tests that a non-image or corrupt image simply
// yields no EXIF fields instead of failing the call.
func TestInfoExifBestEffort(t *testing.T) {
	tool, root := newTestTool(t, sandbox.Policy{})

	// A .jpg extension with garbage bytes: decode fails, info still returns.
	require.NoError(t, os.WriteFile(filepath.Join(root, "fake.jpg"), []byte("not a jpeg"), 0o644))
	ir := invoke(t, tool, map[string]any{"operation": "info", "path": "fake.jpg"}).(InfoResult)
	assert.Nil(t, ir.Exif)
	assert.Contains(t, ir.Mime, "image/jpeg")
}
