// Package pathguard validates and resolves every filesystem path the kernel
// touches, keeping all writes rooted under <worktree>/.omc/.
package pathguard

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/omc/kernel/internal/domain"
)

const omcDir = ".omc"

// Guard resolves and validates paths for one kernel process. It caches the
// worktree root per cwd; the cache is invalidated only for cwds whose root
// lookup failed, so a directory that later becomes a repo is re-detected.
type Guard struct {
	mu    sync.Mutex
	roots map[string]string // cwd -> resolved root
}

// New returns a Guard with an empty cache.
func New() *Guard {
	return &Guard{roots: make(map[string]string)}
}

// ResetCache clears the per-cwd root cache. Exported only for tests, per the
// "process-scoped cache with explicit clear()" design note.
func (g *Guard) ResetCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roots = make(map[string]string)
}

// WorktreeRoot derives the canonical worktree root for cwd: the nearest
// enclosing version-control checkout, falling back to cwd itself.
func (g *Guard) WorktreeRoot(cwd string) (string, error) {
	g.mu.Lock()
	if root, ok := g.roots[cwd]; ok {
		g.mu.Unlock()
		return root, nil
	}
	g.mu.Unlock()

	root, found := gitTopLevel(cwd)
	if !found {
		abs, err := filepath.Abs(cwd)
		if err != nil {
			return "", fmt.Errorf("pathguard: resolve cwd: %w", err)
		}
		root = abs
		// Not a repo: do not cache, so a later `git init` is re-detected.
		return root, nil
	}

	g.mu.Lock()
	g.roots[cwd] = root
	g.mu.Unlock()
	return root, nil
}

func gitTopLevel(dir string) (string, bool) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", false
	}
	top := strings.TrimSpace(string(out))
	if top == "" {
		return "", false
	}
	real, err := filepath.EvalSymlinks(top)
	if err != nil {
		return top, true
	}
	return real, true
}

// Validate fails with ErrInvalidPath when relative is absolute, begins with
// "~", or contains any ".." segment.
func Validate(relative string) error {
	if relative == "" {
		return nil
	}
	if filepath.IsAbs(relative) {
		return fmt.Errorf("pathguard: %q is absolute: %w", relative, domain.ErrInvalidPath)
	}
	if strings.HasPrefix(relative, "~") {
		return fmt.Errorf("pathguard: %q begins with ~: %w", relative, domain.ErrInvalidPath)
	}
	for _, seg := range strings.Split(filepath.ToSlash(relative), "/") {
		if seg == ".." {
			return fmt.Errorf("pathguard: %q contains ..: %w", relative, domain.ErrInvalidPath)
		}
	}
	return nil
}

// ResolveOmc joins relative to <root>/.omc/<relative>, normalizes, and
// verifies the result is still within root/.omc. Rejects symlink escapes by
// re-checking the real path once any existing prefix is resolved.
func ResolveOmc(relative, root string) (string, error) {
	if err := Validate(relative); err != nil {
		return "", err
	}
	base := filepath.Join(root, omcDir)
	joined := filepath.Clean(filepath.Join(base, relative))
	if !withinDir(joined, base) {
		return "", fmt.Errorf("pathguard: %q escapes %s: %w", relative, base, domain.ErrPathEscape)
	}
	if err := checkRealPathContainment(joined, base); err != nil {
		return "", err
	}
	return joined, nil
}

// withinDir reports whether child is base or a descendant of base, purely
// lexically (no filesystem access).
func withinDir(child, base string) bool {
	rel, err := filepath.Rel(base, child)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..") && rel != ".."
}

// checkRealPathContainment resolves symlinks on the longest existing prefix
// of path and re-verifies containment under base, defeating a symlink that
// points an on-disk entry outside the tree (spec §6.3).
func checkRealPathContainment(path, base string) error {
	existing := path
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return nil // nothing on disk yet; lexical check already passed
		}
		existing = parent
	}
	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return nil // best effort; genuinely missing paths are fine
	}
	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		realBase = base // base itself may not exist yet
	}
	if !withinDir(real, realBase) && real != realBase {
		return fmt.Errorf("pathguard: %q resolves outside %s via symlink: %w", path, base, domain.ErrPathEscape)
	}
	return nil
}

// ResolveState returns <root>/.omc/state/<modeName>-state.json. "swarm" is
// rejected: swarm state lives in SQLite, not JSON.
func ResolveState(modeName domain.ModeName, root string) (string, error) {
	if modeName == domain.ModeSwarm {
		return "", fmt.Errorf("pathguard: swarm has no JSON state file: %w", domain.ErrInvalidPath)
	}
	return ResolveOmc(filepath.Join("state", string(modeName)+"-state.json"), root)
}

// ResolveSessionState returns
// <root>/.omc/state/sessions/<sid>/<modeName>-state.json. sid is sanitized
// (path separators replaced with "_") before use, per spec §6.3.
func ResolveSessionState(modeName domain.ModeName, sid, root string) (string, error) {
	if modeName == domain.ModeSwarm {
		return "", fmt.Errorf("pathguard: swarm has no JSON state file: %w", domain.ErrInvalidPath)
	}
	safeSid := SanitizeSessionID(sid)
	return ResolveOmc(filepath.Join("state", "sessions", safeSid, string(modeName)+"-state.json"), root)
}

// SanitizeSessionID replaces path separators so a session id can be used
// verbatim as a directory component.
func SanitizeSessionID(sid string) string {
	r := strings.NewReplacer("/", "_", "\\", "_")
	return r.Replace(sid)
}

// ValidateWorkingDirectory derives a trusted root from cwd (never from user
// input) and refuses a user-supplied path whose resolved real path falls
// outside it.
func (g *Guard) ValidateWorkingDirectory(cwd, user string) (string, error) {
	root, err := g.WorktreeRoot(cwd)
	if err != nil {
		return "", err
	}
	if user == "" {
		return root, nil
	}
	candidate := user
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	real, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		real = filepath.Clean(candidate)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}
	if !withinDir(real, realRoot) && real != realRoot {
		return "", fmt.Errorf("pathguard: %q is outside worktree %s: %w", user, root, domain.ErrPathEscape)
	}
	return real, nil
}
