package katana

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/blitzarch/katana/internal/codec"
)

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testSourceTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "hello from a")
	writeTestFile(t, dir, "nested/b.txt", "hello from b, a little longer this time")
	writeTestFile(t, dir, "nested/deeper/c.bin", "binary-ish payload 0123456789")
	return dir
}

func TestCreateIsDeterministic(t *testing.T) {
	dir := testSourceTree(t)
	ctx := context.Background()

	out1 := filepath.Join(t.TempDir(), "a.blz")
	out2 := filepath.Join(t.TempDir(), "b.blz")
	if err := Create(ctx, []string{dir}, out1, CreateOptions{WorkerThreads: 2}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if err := Create(ctx, []string{dir}, out2, CreateOptions{WorkerThreads: 2}); err != nil {
		t.Fatalf("second Create: %v", err)
	}

	b1, err := os.ReadFile(out1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := os.ReadFile(out2)
	if err != nil {
		t.Fatal(err)
	}
	if len(b1) != len(b2) {
		t.Fatalf("archive sizes differ: %d vs %d", len(b1), len(b2))
	}
	for i := range b1 {
		if b1[i] != b2[i] {
			t.Fatalf("archives diverge at byte %d", i)
		}
	}
}

func TestCreateListRoundTrip(t *testing.T) {
	dir := testSourceTree(t)
	archivePath := filepath.Join(t.TempDir(), "out.blz")
	if err := Create(context.Background(), []string{dir}, archivePath, CreateOptions{
		Codec: codec.Config{Kind: codec.Zstd},
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	listed, err := List(archivePath, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var paths []string
	for _, e := range listed {
		paths = append(paths, e.Path)
	}
	sort.Strings(paths)
	want := []string{"a.txt", "nested/b.txt", "nested/deeper/c.bin"}
	sort.Strings(want)
	if len(paths) != len(want) {
		t.Fatalf("got %d listed entries, want %d: %v", len(paths), len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("listed paths = %v, want %v", paths, want)
		}
	}
}

func TestCreateRejectsDuplicateArchivePath(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeTestFile(t, dirA, "x.txt", "from a")
	writeTestFile(t, dirB, "x.txt", "from b")

	archivePath := filepath.Join(t.TempDir(), "dup.blz")
	err := Create(context.Background(), []string{dirA, dirB}, archivePath, CreateOptions{})
	if err == nil {
		t.Fatal("expected an error for colliding archive paths")
	}
	var kerr *Error
	if !errors.As(err, &kerr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if kerr.Kind != KindDuplicateEntry {
		t.Fatalf("got Kind %v, want KindDuplicateEntry", kerr.Kind)
	}
}
