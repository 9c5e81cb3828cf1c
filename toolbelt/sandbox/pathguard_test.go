package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

func testGuard(t *testing.T, policy Policy) (*PathGuard, string) {
	t.Helper()
	root := t.TempDir()
	if len(policy.AllowedRoots) == 0 {
		policy.AllowedRoots = []string{root}
	}
	guard, err := NewPathGuard(policy, zerolog.New(zerolog.Nop()))
	require.NoError(t, err)
	return guard, guard.Roots()[0]
}

func kindOf(t *testing.T, err error) ports.ErrorKind {
	t.Helper()
	var perr *PathError
	require.ErrorAs(t, err, &perr)
	return perr.Kind
}

// TestPathGuard_AllowsInsideRoot checks the happy path for every op.
func TestPathGuard_AllowsInsideRoot(t *testing.T) {
	guard, root := testGuard(t, Policy{})

	target := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("hi"), 0o644))

	for _, op := range []Op{OpRead, OpWrite, OpDelete, OpList} {
		canonical, err := guard.Validate(target, op)
		assert.NoError(t, err, "op %s", op)
		assert.Equal(t, target, canonical)
	}
}

// TestPathGuard_RejectsOutsideRoot checks that paths outside every allowed
// base fail with NotAllowed.
func TestPathGuard_RejectsOutsideRoot(t *testing.T) {
	guard, _ := testGuard(t, Policy{})

	_, err := guard.Validate("/etc/passwd", OpRead)
	require.Error(t, err)
	assert.Equal(t, ports.KindNotAllowed, kindOf(t, err))
}

// TestPathGuard_SiblingPrefixRejected checks that a sibling directory whose
// name extends an allowed root's string is not accepted on the strength of
// the string prefix alone.
func TestPathGuard_SiblingPrefixRejected(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "workspace")
	evil := filepath.Join(base, "workspace-evil")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(evil, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(evil, "f.txt"), []byte("x"), 0o644))

	guard, err := NewPathGuard(Policy{AllowedRoots: []string{root}}, zerolog.New(zerolog.Nop()))
	require.NoError(t, err)

	_, err = guard.Validate(filepath.Join(evil, "f.txt"), OpRead)
	require.Error(t, err)
	assert.Equal(t, ports.KindNotAllowed, kindOf(t, err))

	// The true descendant is still fine.
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644))
	_, err = guard.Validate(filepath.Join(root, "f.txt"), OpRead)
	assert.NoError(t, err)
}

// TestPathGuard_SymlinkEscape checks that a symlink living inside the
// sandbox whose target resolves outside is rejected even though the literal
// argument looks allowed.
func TestPathGuard_SymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("s3cret"), 0o644))

	guard, root := testGuard(t, Policy{})
	link := filepath.Join(root, "innocent.txt")
	require.NoError(t, os.Symlink(secret, link))

	_, err := guard.Validate(link, OpRead)
	require.Error(t, err)
	assert.Equal(t, ports.KindNotAllowed, kindOf(t, err))
}

// TestPathGuard_DanglingSymlinkEscape checks that a symlink whose target
// does not exist yet still cannot redirect a write outside the sandbox.
func TestPathGuard_DanglingSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	guard, root := testGuard(t, Policy{})

	link := filepath.Join(root, "new.txt")
	require.NoError(t, os.Symlink(filepath.Join(outside, "not-yet.txt"), link))

	_, err := guard.Validate(link, OpWrite)
	require.Error(t, err)
	assert.Equal(t, ports.KindNotAllowed, kindOf(t, err))
}

// TestPathGuard_SymlinkWithinSandbox checks that internal symlinks resolve
// to their canonical target and stay allowed.
func TestPathGuard_SymlinkWithinSandbox(t *testing.T) {
	guard, root := testGuard(t, Policy{})

	target := filepath.Join(root, "real.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	link := filepath.Join(root, "alias.txt")
	require.NoError(t, os.Symlink(target, link))

	canonical, err := guard.Validate(link, OpRead)
	require.NoError(t, err)
	assert.Equal(t, target, canonical)
}

// TestPathGuard_DotDotTraversalDenied checks that traversal attempts that
// escape the sandbox are reported as Denied, not merely NotAllowed.
func TestPathGuard_DotDotTraversalDenied(t *testing.T) {
	guard, root := testGuard(t, Policy{})

	// Built by concatenation: filepath.Join would clean the dot-dots away
	// before the guard ever saw them.
	raw := root + string(filepath.Separator) + filepath.Join("..", "..", "etc", "passwd")
	_, err := guard.Validate(raw, OpRead)
	require.Error(t, err)
	assert.Equal(t, ports.KindDenied, kindOf(t, err))
}

// TestPathGuard_DeniedExtension checks the extension deny-list.
func TestPathGuard_DeniedExtension(t *testing.T) {
	guard, root := testGuard(t, Policy{DeniedExtensions: []string{".exe", ".dll"}})

	_, err := guard.Validate(filepath.Join(root, "malware.exe"), OpWrite)
	require.Error(t, err)
	assert.Equal(t, ports.KindDenied, kindOf(t, err))

	// Case-insensitive.
	_, err = guard.Validate(filepath.Join(root, "MALWARE.EXE"), OpWrite)
	require.Error(t, err)
	assert.Equal(t, ports.KindDenied, kindOf(t, err))
}

// TestPathGuard_AllowedExtensions checks that a non-empty allow set is
// exhaustive.
func TestPathGuard_AllowedExtensions(t *testing.T) {
	guard, root := testGuard(t, Policy{AllowedExtensions: []string{".txt", ".md"}})

	_, err := guard.Validate(filepath.Join(root, "ok.txt"), OpWrite)
	assert.NoError(t, err)

	_, err = guard.Validate(filepath.Join(root, "script.py"), OpWrite)
	require.Error(t, err)
	assert.Equal(t, ports.KindDenied, kindOf(t, err))
}

// TestPathGuard_DeniedPattern checks gitignore-style pattern matching
// against the root-relative remainder.
func TestPathGuard_DeniedPattern(t *testing.T) {
	guard, root := testGuard(t, Policy{DeniedPatterns: []string{"*.env", "secrets/"}})

	_, err := guard.Validate(filepath.Join(root, "prod.env"), OpRead)
	require.Error(t, err)
	assert.Equal(t, ports.KindDenied, kindOf(t, err))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "secrets"), 0o755))
	_, err = guard.Validate(filepath.Join(root, "secrets", "k.txt"), OpRead)
	require.Error(t, err)
	assert.Equal(t, ports.KindDenied, kindOf(t, err))

	_, err = guard.Validate(filepath.Join(root, "notes.txt"), OpRead)
	assert.NoError(t, err)
}

// TestPathGuard_RelativePathJoinsPrimaryRoot checks the workspace-relative
// convenience behavior.
func TestPathGuard_RelativePathJoinsPrimaryRoot(t *testing.T) {
	guard, root := testGuard(t, Policy{})

	canonical, err := guard.Validate("notes/todo.md", OpWrite)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "notes", "todo.md"), canonical)
}

// TestPathGuard_EnvAndTildeExpansion checks shell-style expansion before
// resolution.
func TestPathGuard_EnvAndTildeExpansion(t *testing.T) {
	guard, root := testGuard(t, Policy{})
	t.Setenv("TOOLBELT_TEST_SUBDIR", "expanded")

	canonical, err := guard.Validate(filepath.Join(root, "$TOOLBELT_TEST_SUBDIR", "a.txt"), OpWrite)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "expanded", "a.txt"), canonical)
}

// TestPathGuard_Malformed checks unparseable inputs.
func TestPathGuard_Malformed(t *testing.T) {
	guard, _ := testGuard(t, Policy{})

	for _, raw := range []string{"", "   ", "bad\x00path"} {
		_, err := guard.Validate(raw, OpRead)
		require.Error(t, err, "raw %q", raw)
		assert.Equal(t, ports.KindMalformed, kindOf(t, err))
	}
}

// TestPathGuard_WriteToRootRejected checks that the root directory itself is
// not a writable target (its parent is outside the sandbox).
func TestPathGuard_WriteToRootRejected(t *testing.T) {
	guard, root := testGuard(t, Policy{})

	_, err := guard.Validate(root, OpWrite)
	require.Error(t, err)
	assert.Equal(t, ports.KindNotAllowed, kindOf(t, err))

	// Listing the root is fine.
	_, err = guard.Validate(root, OpList)
	assert.NoError(t, err)
}

// TestPathGuard_NewFileInMissingSubdir checks that validation permits
// creating files in directories that do not exist yet, as long as the
// resolved location stays inside the sandbox.
func TestPathGuard_NewFileInMissingSubdir(t *testing.T) {
	guard, root := testGuard(t, Policy{})

	canonical, err := guard.Validate(filepath.Join(root, "deep", "deeper", "new.txt"), OpWrite)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "deep", "deeper", "new.txt"), canonical)
}

// TestPathGuard_NoRootsConfigured checks the startup failure contract.
func TestPathGuard_NoRootsConfigured(t *testing.T) {
	_, err := NewPathGuard(Policy{}, zerolog.New(zerolog.Nop()))
	assert.Error(t, err)
}

// TestPathGuard_ErrorMentionsAllowedRoots checks that rejection messages
// name the allowed directories so the model can explain the denial.
func TestPathGuard_ErrorMentionsAllowedRoots(t *testing.T) {
	guard, root := testGuard(t, Policy{})

	_, err := guard.Validate("/etc/passwd", OpRead)
	require.Error(t, err)
	assert.Contains(t, err.Error(), root)
}

// TestPathGuard_PathErrorUnwrapsAsToolKind checks errors.As interop used by
// the dispatcher's classifier.
func TestPathGuard_PathErrorUnwrapsAsToolKind(t *testing.T) {
	guard, _ := testGuard(t, Policy{})

	_, err := guard.Validate("/etc/passwd", OpRead)
	var perr *PathError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ports.KindNotAllowed, perr.Kind)
	assert.NotEmpty(t, perr.Error())
}

func BenchmarkPathGuard_Validate(b *testing.B) {
	root := b.TempDir()
	guard, err := NewPathGuard(Policy{AllowedRoots: []string{root}}, zerolog.New(zerolog.Nop()))
	if err != nil {
		b.Fatal(err)
	}
	target := filepath.Join(root, "bench.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := guard.Validate(target, OpRead); err != nil {
			b.Fatal(err)
		}
	}
}
