// Package kentry enumerates input roots into a deterministic, sorted list
// of regular-file entries with canonical archive paths.
package kentry

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/blitzarch/katana/internal/kpath"
)

// Entry is a single regular file captured by the archive.
type Entry struct {
	// ArchivePath is the canonical, forward-slash, UTF-8 path recorded in
	// the index.
	ArchivePath string
	// SourcePath is the OS-native path to read file contents from; empty
	// when Entry describes an extraction target rather than a create
	// source.
	SourcePath string
	Size       uint64
	ModTime    time.Time
	HasModTime bool
	// ShardID is assigned by the sharder; zero until then.
	ShardID uint32
}

// Warning describes a non-fatal condition encountered while enumerating
// input roots (a skipped symlink or other non-regular file).
type Warning struct {
	Path    string
	Message string
}

// Enumerate walks roots in parallel, producing a deterministic, archive-path
// sorted list of regular-file entries. Symlinks are not followed.
// Device/FIFO/socket files are skipped and reported as warnings rather than
// failing the whole enumeration.
func Enumerate(roots []string) ([]Entry, []Warning, error) {
	var mu sync.Mutex
	var entries []Entry
	var warnings []Warning
	seen := make(map[string]string) // archive path -> first source path

	var eg errgroup.Group
	for _, root := range roots {
		root := root
		eg.Go(func() error {
			base := filepath.Dir(root)
			info, err := os.Lstat(root)
			if err != nil {
				return errIO(root, err)
			}
			if info.IsDir() {
				base = root
			}
			return filepath.Walk(root, func(p string, fi os.FileInfo, walkErr error) error {
				if walkErr != nil {
					return errIO(p, walkErr)
				}
				if fi.IsDir() {
					return nil
				}
				mode := fi.Mode()
				if mode&os.ModeSymlink != 0 {
					mu.Lock()
					warnings = append(warnings, Warning{Path: p, Message: "symlinks are not followed"})
					mu.Unlock()
					return nil
				}
				if !mode.IsRegular() {
					mu.Lock()
					warnings = append(warnings, Warning{Path: p, Message: "skipped non-regular file"})
					mu.Unlock()
					return nil
				}

				rel, err := filepath.Rel(base, p)
				if err != nil {
					return errIO(p, err)
				}
				archivePath := kpath.Canonicalize(rel)

				mtime := fi.ModTime()
				e := Entry{
					ArchivePath: archivePath,
					SourcePath:  p,
					Size:        uint64(fi.Size()),
					ModTime:     mtime,
					HasModTime:  !mtime.IsZero(),
				}

				mu.Lock()
				if prior, ok := seen[archivePath]; ok && prior != p {
					mu.Unlock()
					return errDuplicateEntry(archivePath)
				}
				seen[archivePath] = p
				entries = append(entries, e)
				mu.Unlock()
				return nil
			})
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ArchivePath < entries[j].ArchivePath
	})

	return entries, warnings, nil
}

func errIO(path string, err error) error {
	return xerrors.Errorf("enumerate %s: %w", path, err)
}

func errDuplicateEntry(path string) error {
	return &DuplicateEntryError{Path: path}
}

// DuplicateEntryError is returned when two distinct source paths canonicalize
// to the same archive path within a single create invocation.
type DuplicateEntryError struct {
	Path string
}

func (e *DuplicateEntryError) Error() string {
	return "duplicate archive path: " + e.Path
}
