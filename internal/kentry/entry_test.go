package kentry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnumerateSortsByArchivePath(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "zebra.txt"), "z")
	mustWrite(t, filepath.Join(dir, "alpha.txt"), "a")
	mustWrite(t, filepath.Join(dir, "sub", "beta.txt"), "b")

	entries, warnings, err := Enumerate([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].ArchivePath >= entries[i].ArchivePath {
			t.Fatalf("entries not sorted: %q before %q", entries[i-1].ArchivePath, entries[i].ArchivePath)
		}
	}
}

func TestEnumerateSkipsSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := mustWrite(t, filepath.Join(dir, "real.txt"), "content")
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	entries, warnings, err := Enumerate([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (symlink should be skipped)", len(entries))
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}
}

func TestEnumerateSingleFile(t *testing.T) {
	dir := t.TempDir()
	p := mustWrite(t, filepath.Join(dir, "solo.txt"), "solo")

	entries, _, err := Enumerate([]string{p})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].ArchivePath != "solo.txt" {
		t.Fatalf("ArchivePath = %q, want solo.txt", entries[0].ArchivePath)
	}
}

func mustWrite(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
