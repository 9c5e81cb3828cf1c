package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"
	radix "github.com/armon/go-radix"
	"github.com/rs/zerolog"
	gitignore "github.com/sabhiram/go-gitignore"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

// Op is the access mode a caller intends for a path.
type Op string

const (
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpDelete Op = "delete"
	OpList   Op = "list"
)

// maxSymlinkHops bounds manual resolution of dangling symlink leaves.
const maxSymlinkHops = 16

// PathError reports a path rejected by the guard. Kind is one of
// KindNotAllowed, KindDenied, KindMalformed.
type PathError struct {
	Kind   ports.ErrorKind
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Reason)
}

func pathErr(kind ports.ErrorKind, path, format string, args ...any) *PathError {
	return &PathError{Kind: kind, Path: path, Reason: fmt.Sprintf(format, args...)}
}

// PathGuard is the single authority on sandbox membership. Every filesystem
// operation resolves its path arguments here before any OS-level I/O; the
// canonical path it returns (symlinks resolved, dot segments eliminated) is
// what reaches the OS and the lock arena, never the raw argument.
//
// Validation is pure: the guard never creates, deletes, or modifies
// anything.
type PathGuard struct {
	policy   Policy
	roots    *radix.Tree // canonical roots keyed with a trailing separator
	rootList []string    // canonical roots in configuration order
	ignore   *gitignore.GitIgnore
	denyExt  map[string]struct{}
	allowExt map[string]struct{}
	assert   *assert.AssertHandler
	logger   zerolog.Logger
}

// NewPathGuard canonicalizes the policy's allowed roots and precompiles the
// deny matchers. An empty allow-list is a configuration error: a guard that
// allows nothing is never what the embedder meant.
func NewPathGuard(policy Policy, logger zerolog.Logger) (*PathGuard, error) {
	if len(policy.AllowedRoots) == 0 {
		return nil, fmt.Errorf("sandbox: no allowed roots configured")
	}

	g := &PathGuard{
		policy:   policy,
		roots:    radix.New(),
		ignore:   gitignore.CompileIgnoreLines(policy.DeniedPatterns...),
		denyExt:  extSet(policy.DeniedExtensions),
		allowExt: extSet(policy.AllowedExtensions),
		assert:   assert.NewAssertHandler(),
		logger:   logger.With().Str("component", "pathguard").Logger(),
	}

	for _, root := range policy.AllowedRoots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("sandbox: allowed root %q: %w", root, err)
		}
		abs = filepath.Clean(abs)
		// The roots themselves must be canonical, or a symlinked root would
		// never match a resolved candidate.
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		g.roots.Insert(withSep(abs), abs)
		g.rootList = append(g.rootList, abs)
	}

	return g, nil
}

// Policy returns the guard's immutable policy.
func (g *PathGuard) Policy() Policy { return g.policy }

// Roots returns the canonical allowed roots in configuration order.
func (g *PathGuard) Roots() []string {
	out := make([]string, len(g.rootList))
	copy(out, g.rootList)
	return out
}

// Validate decides whether rawPath may be touched with the intended op and
// returns the canonical path to use for the actual OS call.
//
// The candidate is made absolute and symlink-resolved first; every check
// runs against that canonical form. Checking the literal argument would
// accept a symlink that points outside the sandbox.
func (g *PathGuard) Validate(rawPath string, op Op) (string, error) {
	if strings.TrimSpace(rawPath) == "" {
		return "", pathErr(ports.KindMalformed, rawPath, "empty path")
	}
	if strings.ContainsRune(rawPath, 0) {
		return "", pathErr(ports.KindMalformed, rawPath, "path contains NUL byte")
	}

	expanded, err := g.expand(rawPath)
	if err != nil {
		return "", pathErr(ports.KindMalformed, rawPath, "%v", err)
	}

	hadDotDot := hasDotDotSegment(expanded)

	if !filepath.IsAbs(expanded) {
		// Relative arguments are resolved against the primary root, so a
		// model can say "notes/todo.md" and land in the workspace.
		expanded = filepath.Join(g.rootList[0], expanded)
	}
	abs := filepath.Clean(expanded)

	canonical, err := g.canonicalize(abs)
	if err != nil {
		return "", pathErr(ports.KindMalformed, rawPath, "cannot resolve path: %v", err)
	}

	root, inside := g.rootFor(canonical)
	if !inside {
		if hadDotDot {
			return "", pathErr(ports.KindDenied, rawPath, "path traversal escapes the allowed directories")
		}
		return "", pathErr(ports.KindNotAllowed, rawPath, "outside allowed directories (%s)", g.rootHint())
	}

	if reason := g.deniedReason(canonical, root); reason != "" {
		return "", pathErr(ports.KindDenied, rawPath, "%s", reason)
	}

	if op == OpWrite || op == OpDelete {
		// The leaf may not exist yet; its directory must itself live inside
		// an allowed root once resolved. This covers file creation, where
		// there is no symlink target to resolve on the leaf.
		parent, err := g.canonicalize(filepath.Dir(canonical))
		if err != nil {
			return "", pathErr(ports.KindMalformed, rawPath, "cannot resolve parent directory: %v", err)
		}
		if _, ok := g.rootFor(parent); !ok {
			return "", pathErr(ports.KindNotAllowed, rawPath, "parent directory outside allowed directories (%s)", g.rootHint())
		}
	}

	g.assert.Assert(context.Background(), filepath.IsAbs(canonical), "validated path must be absolute")
	g.logger.Debug().Str("raw", rawPath).Str("canonical", canonical).Str("op", string(op)).Msg("path validated")
	return canonical, nil
}

// expand handles ~ and environment references the way a shell would.
func (g *PathGuard) expand(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot expand ~: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return os.ExpandEnv(p), nil
}

// canonicalize resolves abs to its canonical form. For paths that do not
// fully exist it resolves the nearest existing ancestor and rejoins the
// remainder, following dangling symlink leaves manually so a link pointing
// outside the sandbox cannot hide behind a missing target.
func (g *PathGuard) canonicalize(abs string) (string, error) {
	return g.canonicalizeHops(abs, 0)
}

func (g *PathGuard) canonicalizeHops(abs string, hops int) (string, error) {
	if hops > maxSymlinkHops {
		return "", fmt.Errorf("too many levels of symbolic links")
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir, rest := abs, ""
	for {
		parent := filepath.Dir(dir)
		if rest == "" {
			rest = filepath.Base(dir)
		} else {
			rest = filepath.Join(filepath.Base(dir), rest)
		}
		dir = parent

		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			candidate := filepath.Join(resolved, rest)
			return g.followDangling(candidate, hops)
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		if parent == filepath.Dir(parent) {
			return filepath.Join(parent, rest), nil
		}
	}
}

// followDangling expands candidate when its leaf is a symlink whose target
// does not exist. EvalSymlinks reports ENOENT for those, but the link still
// redirects a future write; it must be resolved, not taken literally.
func (g *PathGuard) followDangling(candidate string, hops int) (string, error) {
	fi, err := os.Lstat(candidate)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return candidate, nil
	}
	target, err := os.Readlink(candidate)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(candidate), target)
	}
	return g.canonicalizeHops(filepath.Clean(target), hops+1)
}

// rootFor returns the allowed root that contains canonical, using a
// segment-exact prefix test: every stored key ends with a separator, so a
// sibling like /data/workspace-evil can never match /data/workspace.
func (g *PathGuard) rootFor(canonical string) (string, bool) {
	if _, root, ok := g.roots.LongestPrefix(withSep(canonical)); ok {
		return root.(string), true
	}
	return "", false
}

func (g *PathGuard) deniedReason(canonical, root string) string {
	ext := strings.ToLower(filepath.Ext(canonical))
	if ext != "" {
		if _, ok := g.denyExt[ext]; ok {
			return fmt.Sprintf("extension %q is blocked", ext)
		}
		if len(g.allowExt) > 0 {
			if _, ok := g.allowExt[ext]; !ok {
				return fmt.Sprintf("extension %q is not in the allowed set", ext)
			}
		}
	}

	rel := strings.TrimPrefix(canonical, withSep(root))
	if rel != "" && rel != canonical && g.ignore.MatchesPath(rel) {
		return "path matches a denied pattern"
	}
	return ""
}

// rootHint names the first few allowed roots for error messages without
// leaking the full filesystem layout.
func (g *PathGuard) rootHint() string {
	const max = 3
	if len(g.rootList) <= max {
		return strings.Join(g.rootList, ", ")
	}
	return strings.Join(g.rootList[:max], ", ") + ", ..."
}

func withSep(p string) string {
	if strings.HasSuffix(p, string(filepath.Separator)) {
		return p
	}
	return p + string(filepath.Separator)
}

func extSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return set
}

func hasDotDotSegment(p string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
