// Package authz implements the Authorization Gate: the decision of whether
// a filesystem-touching tool call may run without human sign-off, needs
// sign-off, or is denied outright. Read operations never reach the gate;
// only operations that mutate the filesystem do.
package authz

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Operation names the filesystem effect a tool call would have.
type Operation string

const (
	OpCreate    Operation = "create"
	OpWrite     Operation = "write"
	OpAppend    Operation = "append"
	OpDelete    Operation = "delete"
	OpRename    Operation = "rename"
	OpCreateDir Operation = "create_directory"
	OpRead      Operation = "read"
)

// mutating is the allowlist of operations the gate actually evaluates. Read
// operations bypass the gate entirely (IsMutating returns false for them).
var mutating = map[Operation]bool{
	OpCreate:    true,
	OpWrite:     true,
	OpAppend:    true,
	OpDelete:    true,
	OpRename:    true,
	OpCreateDir: true,
}

// IsMutating reports whether op requires a Decide call before executing.
func IsMutating(op Operation) bool {
	return mutating[op]
}

// Decision is the gate's verdict for a single tool call.
type Decision struct {
	Allowed               bool
	RequiresAuthorization bool
	Denied                bool
	Reason                string
}

// Gate evaluates filesystem-mutating tool calls against a working directory
// boundary and an approval policy.
type Gate struct {
	// WorkingDir is the root a resolved path must stay within.
	WorkingDir string

	// RequireApprovalPatterns are tool-name patterns (the same vocabulary
	// as internal/tools/policy's matchToolPattern: exact, "prefix.*", or
	// "mcp:*") that must be explicitly approved before running, even when
	// the path check passes.
	RequireApprovalPatterns []string
}

// New returns a Gate rooted at workingDir.
func New(workingDir string, requireApproval []string) *Gate {
	return &Gate{WorkingDir: workingDir, RequireApprovalPatterns: requireApproval}
}

// Decide evaluates a mutating operation against a target path and the tool
// name that would perform it. Callers should skip calling Decide entirely
// for operations where IsMutating(op) is false.
func (g *Gate) Decide(toolName, path string, op Operation) Decision {
	if !IsMutating(op) {
		return Decision{Allowed: true, Reason: "read operation bypasses gate"}
	}

	resolved, err := g.resolve(path)
	if err != nil {
		return Decision{Denied: true, Reason: err.Error()}
	}
	if !g.withinWorkingDir(resolved) {
		return Decision{Denied: true, Reason: fmt.Sprintf("path %q escapes working directory %q", path, g.WorkingDir)}
	}

	if matchesAny(g.RequireApprovalPatterns, toolName) {
		return Decision{RequiresAuthorization: true, Reason: fmt.Sprintf("%s requires approval for %s", toolName, op)}
	}

	return Decision{Allowed: true}
}

// resolve cleans path to an absolute form and resolves any symlinks in it,
// following internal/tools/files.Resolver's convention but additionally
// resolving symlinks so a mutating call can't escape the working directory
// through a symlinked intermediate directory.
func (g *Gate) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}

	root := strings.TrimSpace(g.WorkingDir)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	// EvalSymlinks requires the path to exist; a not-yet-created file (the
	// common case for "create"/"write") resolves its parent directory
	// instead and rejoins the leaf.
	if resolved, err := filepath.EvalSymlinks(targetAbs); err == nil {
		targetAbs = resolved
	} else if parent, perr := filepath.EvalSymlinks(filepath.Dir(targetAbs)); perr == nil {
		targetAbs = filepath.Join(parent, filepath.Base(targetAbs))
	}

	return targetAbs, nil
}

func (g *Gate) withinWorkingDir(resolvedPath string) bool {
	rootAbs, err := filepath.Abs(g.WorkingDir)
	if err != nil {
		return false
	}
	if rootResolved, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootAbs = rootResolved
	}

	rel, err := filepath.Rel(rootAbs, resolvedPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchesAny(patterns []string, toolName string) bool {
	for _, p := range patterns {
		if matchPattern(p, toolName) {
			return true
		}
	}
	return false
}

// matchPattern mirrors internal/tools/policy's matchToolPattern vocabulary:
// exact match, "mcp:*" namespace wildcard, and "prefix.*" wildcard.
func matchPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(toolName, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == toolName
}
