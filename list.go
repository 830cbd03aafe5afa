package katana

import (
	"time"

	"github.com/blitzarch/katana/internal/kformat"
)

// ListedEntry describes one archive entry as reported by List, read
// directly from the index without decompressing any shard body.
type ListedEntry struct {
	Path        string
	Size        uint64
	ModTime     time.Time
	HasModTime  bool
	ContentHash [kformat.HashSize]byte
}

// List opens archivePath, verifies its footer, and returns every entry's
// metadata without decompressing any shard body.
func List(archivePath string, password []byte) ([]ListedEntry, error) {
	f, footer, keys, err := openAndVerify(archivePath, password)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if keys != nil {
		defer keys.Wipe()
	}

	entries, err := loadIndex(f, footer)
	if err != nil {
		return nil, err
	}

	out := make([]ListedEntry, len(entries))
	for i, e := range entries {
		out[i] = ListedEntry{
			Path:        e.Path,
			Size:        e.Length,
			HasModTime:  e.MTimeSecs != 0 || e.MTimeNanos != 0,
			ContentHash: e.ContentHash,
		}
		if out[i].HasModTime {
			out[i].ModTime = modTimeFromIndex(e)
		}
	}
	return out, nil
}
