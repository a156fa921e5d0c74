package authz

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDecideReadBypassesGate(t *testing.T) {
	g := New(t.TempDir(), nil)
	d := g.Decide("read_file", "../../etc/passwd", OpRead)
	if !d.Allowed || d.Denied || d.RequiresAuthorization {
		t.Fatalf("expected read to bypass the gate unconditionally, got %+v", d)
	}
}

func TestDecideDeniesEscape(t *testing.T) {
	root := t.TempDir()
	g := New(root, nil)
	d := g.Decide("write_file", "../outside.txt", OpWrite)
	if !d.Denied {
		t.Fatalf("expected escape to be denied, got %+v", d)
	}
}

func TestDecideAllowsWithinRoot(t *testing.T) {
	root := t.TempDir()
	g := New(root, nil)
	d := g.Decide("write_file", "notes/today.md", OpWrite)
	if d.Denied || d.RequiresAuthorization || !d.Allowed {
		t.Fatalf("expected in-root write to be allowed, got %+v", d)
	}
}

func TestDecideRequiresApprovalForMatchedTool(t *testing.T) {
	root := t.TempDir()
	g := New(root, []string{"delete_file"})
	d := g.Decide("delete_file", "scratch.txt", OpDelete)
	if d.Allowed || d.Denied || !d.RequiresAuthorization {
		t.Fatalf("expected delete_file to require authorization, got %+v", d)
	}
}

func TestDecideRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	g := New(root, nil)
	d := g.Decide("write_file", filepath.Join("escape", "file.txt"), OpWrite)
	if !d.Denied {
		t.Fatalf("expected symlinked escape to be denied, got %+v", d)
	}
}
