package katana

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"time"

	"golang.org/x/exp/mmap"

	"github.com/blitzarch/katana/internal/budget"
	"github.com/blitzarch/katana/internal/codec"
	"github.com/blitzarch/katana/internal/dispatch"
	"github.com/blitzarch/katana/internal/kaead"
	"github.com/blitzarch/katana/internal/kformat"
	"github.com/blitzarch/katana/internal/kindex"
	"github.com/blitzarch/katana/internal/kpath"
	"github.com/blitzarch/katana/internal/ksession"
	"github.com/blitzarch/katana/internal/progress"
	"github.com/blitzarch/katana/internal/shardio"
)

// ExtractOptions is the public configuration record for Extract.
type ExtractOptions struct {
	WorkerThreads   int
	MemBudget       ksession.MemoryBudget
	Password        []byte
	Paranoid        bool
	SkipCheck       bool
	StripComponents int
	Globs           []string
	ProgressSink    func(progress.ProgressEvent)
}

func (o ExtractOptions) resolveParanoid() bool {
	return ksession.ExtractOptions{Paranoid: o.Paranoid, SkipCheck: o.SkipCheck}.ResolveParanoid()
}

// openAndVerify opens archivePath read-only, memory-mapped, and parses and
// authenticates its footer, returning the mapped reader, footer, and (if
// encrypted) derived keys. Callers must close the returned reader.
//
// Extraction never writes through this handle, so a positioned reader
// backed by a memory mapping replaces the create side's *os.File: the OS
// page cache serves shard reads directly instead of copying each one
// through a read(2) buffer first.
func openAndVerify(archivePath string, password []byte) (*mmap.ReaderAt, kformat.Footer, *kaead.Keys, error) {
	f, err := mmap.Open(archivePath)
	if err != nil {
		return nil, kformat.Footer{}, nil, errIO(archivePath, err)
	}

	footer, err := kformat.Read(f, int64(f.Len()))
	if err != nil {
		f.Close()
		return nil, kformat.Footer{}, nil, wrapFooterErr(err)
	}

	var keys *kaead.Keys
	if footer.Encrypted() {
		if len(password) == 0 {
			f.Close()
			return nil, kformat.Footer{}, nil, errAuthFailure(errors.New("archive is encrypted but no password was supplied"))
		}
		params := kaead.KDFParams{
			MemoryKiB:   footer.EncD.Argon2M,
			Iterations:  footer.EncD.Argon2T,
			Parallelism: footer.EncD.Argon2P,
			Salt:        footer.EncD.Salt,
		}
		keys, err = kaead.Derive(password, params)
		if err != nil {
			f.Close()
			return nil, kformat.Footer{}, nil, errIO(archivePath, err)
		}
		if !kaead.VerifyHMAC(keys.HMAC, kformat.HMACFields(footer), footer.HMAC) {
			keys.Wipe()
			f.Close()
			return nil, kformat.Footer{}, nil, errAuthFailure(errors.New("footer HMAC mismatch"))
		}
	}

	indexBytes := make([]byte, footer.IndexLen)
	if _, err := f.ReadAt(indexBytes, int64(footer.IndexOffset)); err != nil {
		f.Close()
		if keys != nil {
			keys.Wipe()
		}
		return nil, kformat.Footer{}, nil, errIO(archivePath, err)
	}
	if kformat.CRC32(indexBytes) != footer.IndexCRC32 {
		f.Close()
		if keys != nil {
			keys.Wipe()
		}
		return nil, kformat.Footer{}, nil, errCrcMismatch(archivePath)
	}

	return f, footer, keys, nil
}

// loadIndex decompresses and decodes the index from an already-validated
// archive file and footer.
func loadIndex(f *mmap.ReaderAt, footer kformat.Footer) ([]kindex.Entry, error) {
	compressed := make([]byte, footer.IndexLen)
	if _, err := f.ReadAt(compressed, int64(footer.IndexOffset)); err != nil {
		return nil, errIO("", err)
	}
	raw, err := kindex.Decompress(compressed)
	if err != nil {
		return nil, wrapIndexErr(err)
	}
	entries, err := kindex.Decode(raw)
	if err != nil {
		return nil, wrapIndexErr(err)
	}
	return entries, nil
}

// matchesAnyGlob reports whether archivePath matches any of patterns
// (forward-slash glob matching against the canonical path), or true if
// patterns is empty (no filter means "extract everything").
func matchesAnyGlob(archivePath string, patterns []string) (bool, error) {
	if len(patterns) == 0 {
		return true, nil
	}
	for _, pat := range patterns {
		ok, err := path.Match(pat, archivePath)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Extract opens a Katana archive, verifies its footer, and writes the
// selected entries under outputRoot.
func Extract(ctx context.Context, archivePath, outputRoot string, opts ExtractOptions) (err error) {
	machine := ksession.NewExtractMachine()
	sink := progress.NewSink(opts.ProgressSink)
	defer func() {
		if err != nil {
			machine.Advance(ksession.ExtractFailed)
		}
	}()

	f, footer, keys, err := openAndVerify(archivePath, opts.Password)
	if err != nil {
		return err
	}
	defer f.Close()
	if keys != nil {
		defer keys.Wipe()
	}

	if opts.resolveParanoid() {
		if err := verifyBodyHash(f, footer); err != nil {
			return err
		}
	}
	if err := machine.Advance(ksession.ExtractFooterVerified); err != nil {
		return err
	}

	entries, err := loadIndex(f, footer)
	if err != nil {
		return err
	}
	if err := machine.Advance(ksession.ExtractIndexLoaded); err != nil {
		return err
	}

	type job struct {
		entry kindex.Entry
	}
	byShard := make(map[uint32][]job)
	var selectedFiles uint64
	var selectedBytes uint64
	shardsSelected := make(map[uint32]bool)
	for _, e := range entries {
		match, err := matchesAnyGlob(e.Path, opts.Globs)
		if err != nil {
			return err
		}
		if !match {
			continue
		}
		if err := kpath.Validate(e.Path); err != nil {
			return errUnsafePath(e.Path)
		}
		byShard[e.ShardID] = append(byShard[e.ShardID], job{entry: e})
		selectedFiles++
		selectedBytes += e.Length
		shardsSelected[e.ShardID] = true
	}
	sink.SetTotals(selectedFiles, selectedBytes, len(shardsSelected))

	workerThreads := defaultWorkerThreads(opts.WorkerThreads)
	// The codec used per shard is self-described by its stream magic
	// (codec.Detect), so the creator's level/thread choice is not
	// recoverable here; the budget scheduler uses the estimate for a
	// zero-value Config (Zstd at its default level), which is the smallest
	// per-shard estimate EstimatePerShard produces.
	plan, err := budget.Compute(codec.Config{}, workerThreads, opts.MemBudget)
	if err != nil {
		return err
	}
	if plan.Warning != "" {
		sink.Warning(plan.Warning)
	}

	shardTable, err := loadShardTable(f, footer)
	if err != nil {
		return err
	}
	shardOffsets := make(map[uint32]shardRegion, len(shardTable))
	for _, e := range shardTable {
		shardOffsets[e.ShardID] = shardRegion{offset: e.Offset, length: e.StoredLength}
	}

	var key *[kaead.KeySize]byte
	if keys != nil {
		key = &keys.AEAD
	}

	pool := dispatch.NewPool(plan.Concurrency)
	var tasks []dispatch.Task
	for shardID, jobs := range byShard {
		shardID, jobs := shardID, jobs
		tasks = append(tasks, dispatch.Task{ID: shardID, Run: func(ctx context.Context) error {
			sink.ShardStarted(shardID)
			region, ok := shardOffsets[shardID]
			if !ok {
				return errCorruptEntry("(unknown shard region)")
			}
			stored := make([]byte, region.length)
			if _, err := f.ReadAt(stored, int64(region.offset)); err != nil {
				return errIO(archivePath, err)
			}
			frameStream, err := shardio.Decode(shardID, stored, key)
			if err != nil {
				return errAuthFailure(err)
			}
			var filesDone int
			var bytesDone uint64
			for _, j := range jobs {
				if err := ctx.Err(); err != nil {
					return err
				}
				data, hash, err := shardio.ExtractFile(frameStream, j.entry.OffsetInShard, j.entry.Length)
				if err != nil {
					return errCorruptEntry(j.entry.Path)
				}
				if !opts.SkipCheck && hash != j.entry.ContentHash {
					return errCorruptEntry(j.entry.Path)
				}
				if err := writeExtractedFile(outputRoot, j.entry, data, opts.StripComponents); err != nil {
					return err
				}
				if j.entry.MTimeSecs == 0 {
					sink.Warning(j.entry.Path + ": no modification time recorded")
				}
				filesDone++
				bytesDone += j.entry.Length
			}
			sink.ShardCompleted(shardID, filesDone, bytesDone)
			return nil
		}})
	}

	if err := machine.Advance(ksession.ExtractShardsInFlight); err != nil {
		return err
	}

	if err := pool.Run(ctx, tasks); err != nil {
		if ctx.Err() != nil {
			return errCancelled
		}
		var kerr *Error
		if errors.As(err, &kerr) {
			return kerr
		}
		return errIO(archivePath, err)
	}

	if err := machine.Advance(ksession.ExtractDone); err != nil {
		return err
	}
	sink.Done()
	return nil
}

func writeExtractedFile(outputRoot string, entry kindex.Entry, data []byte, stripComponents int) error {
	destPath := kpath.Join(outputRoot, entry.Path, stripComponents)
	if err := os.MkdirAll(parentDir(destPath), 0o755); err != nil {
		return errIO(destPath, err)
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return errIO(destPath, err)
	}
	if entry.MTimeSecs != 0 {
		mtime := modTimeFromIndex(entry)
		_ = os.Chtimes(destPath, mtime, mtime) // best effort, non-fatal
	}
	return nil
}

type shardRegion struct {
	offset uint64
	length uint64
}

// loadShardTable reads and validates the shard table located by the
// footer.
func loadShardTable(f *mmap.ReaderAt, footer kformat.Footer) ([]kformat.ShardTableEntry, error) {
	raw := make([]byte, footer.ShardTableLen)
	if _, err := f.ReadAt(raw, int64(footer.ShardTableOffset)); err != nil {
		return nil, errIO("", err)
	}
	if kformat.CRC32(raw) != footer.ShardTableCRC32 {
		return nil, errCrcMismatch("(shard table)")
	}
	entries, err := kformat.DecodeShardTable(raw)
	if err != nil {
		return nil, wrapFooterErr(err)
	}
	return entries, nil
}

func parentDir(p string) string {
	i := len(p) - 1
	for i >= 0 && p[i] != '/' && p[i] != os.PathSeparator {
		i--
	}
	if i < 0 {
		return "."
	}
	return p[:i]
}

// verifyBodyHash performs the paranoid second end-to-end pass: recomputing
// BLAKE3-256 over the archive body and comparing it to the footer's
// recorded value.
func verifyBodyHash(f *mmap.ReaderAt, footer kformat.Footer) error {
	section := io.NewSectionReader(f, 0, int64(footer.IndexOffset+footer.IndexLen))
	got, err := kformat.BodyHash(section, int64(footer.IndexOffset+footer.IndexLen))
	if err != nil {
		return errIO("", err)
	}
	if got != footer.BodyHash {
		return errCorruptEntry("(whole archive)")
	}
	return nil
}

func modTimeFromIndex(e kindex.Entry) (t time.Time) {
	return time.Unix(e.MTimeSecs, int64(e.MTimeNanos))
}
