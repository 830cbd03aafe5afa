package katana

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sort"

	"github.com/blitzarch/katana/internal/budget"
	"github.com/blitzarch/katana/internal/codec"
	"github.com/blitzarch/katana/internal/dispatch"
	"github.com/blitzarch/katana/internal/kaead"
	"github.com/blitzarch/katana/internal/kentry"
	"github.com/blitzarch/katana/internal/kformat"
	"github.com/blitzarch/katana/internal/kindex"
	"github.com/blitzarch/katana/internal/ksession"
	"github.com/blitzarch/katana/internal/progress"
	"github.com/blitzarch/katana/internal/sharder"
	"github.com/blitzarch/katana/internal/shardio"
)

// CreateOptions is the public configuration record for Create.
type CreateOptions struct {
	Codec          codec.Config
	WorkerThreads  int
	MemBudget      ksession.MemoryBudget
	BundleBytes    int
	Password       []byte
	Paranoid       bool
	FollowSymlinks bool // not read: Create always skips symlinks with a warning
	ProgressSink   func(progress.ProgressEvent)
}

func defaultWorkerThreads(n int) int {
	if n > 0 {
		return n
	}
	if cpu := numCPU(); cpu > 0 {
		return cpu
	}
	return 1
}

// Create builds a Katana archive at outputPath from the files and
// directories in roots.
func Create(ctx context.Context, roots []string, outputPath string, opts CreateOptions) (err error) {
	machine := ksession.NewCreateMachine()
	sink := progress.NewSink(opts.ProgressSink)
	defer func() {
		if err != nil {
			machine.Advance(ksession.CreateFailed)
		}
	}()

	entries, warnings, err := kentry.Enumerate(roots)
	if err != nil {
		var dup *kentry.DuplicateEntryError
		if errors.As(err, &dup) {
			return errDuplicateEntry(dup.Path)
		}
		return errIO("", err)
	}
	for _, w := range warnings {
		sink.Warning(w.Path + ": " + w.Message)
	}

	workerThreads := defaultWorkerThreads(opts.WorkerThreads)

	var totalBytes uint64
	for _, e := range entries {
		totalBytes += e.Size
	}
	shardCount := sharder.ComputeShardCount(totalBytes, workerThreads, opts.BundleBytes)
	shards := sharder.Assign(entries, shardCount)
	sink.SetTotals(uint64(len(entries)), totalBytes, len(shards))

	codecCfg := opts.Codec // zero value already selects Zstd at its default level

	plan, err := budget.Compute(codecCfg, workerThreads, opts.MemBudget)
	if err != nil {
		return err
	}
	if plan.Warning != "" {
		sink.Warning(plan.Warning)
	}
	codecCfg.Threads = plan.CodecThreads

	var keys *kaead.Keys
	var kdfParams kaead.KDFParams
	if len(opts.Password) > 0 {
		salt, err := kaead.NewSalt()
		if err != nil {
			return errIO("", err)
		}
		kdfParams = kaead.DefaultKDFParams()
		kdfParams.Salt = salt
		keys, err = kaead.Derive(opts.Password, kdfParams)
		if err != nil {
			return errIO("", err)
		}
		defer keys.Wipe()
	}

	tmpPath := outputPath + ".blz.tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errIO(tmpPath, err)
	}
	cleanupTemp := true
	defer func() {
		f.Close()
		if cleanupTemp {
			os.Remove(tmpPath)
		}
	}()

	results := make([]shardio.BuildResult, len(shards))
	pool := dispatch.NewPool(plan.Concurrency)
	tasks := make([]dispatch.Task, len(shards))
	for i, shard := range shards {
		i, shard := i, shard
		tasks[i] = dispatch.Task{ID: shard.ID, Run: func(ctx context.Context) error {
			sink.ShardStarted(shard.ID)
			var key *[kaead.KeySize]byte
			if keys != nil {
				key = &keys.AEAD
			}
			result, err := shardio.Build(ctx, shard, codecCfg, key)
			if err != nil {
				return err
			}
			results[i] = result
			sink.ShardCompleted(shard.ID, len(result.Files), result.UncompressedLength)
			return nil
		}}
	}
	if err := pool.Run(ctx, tasks); err != nil {
		if ctx.Err() != nil {
			return errCancelled
		}
		return errIO("", err)
	}

	if err := machine.Advance(ksession.CreateShardsWritten); err != nil {
		return err
	}

	var offset uint64
	var indexEntries []kindex.Entry
	shardTable := make([]kformat.ShardTableEntry, len(results))
	for i, r := range results {
		shardOffset := offset
		if _, err := f.WriteAt(r.StoredBytes, int64(shardOffset)); err != nil {
			return errIO(tmpPath, err)
		}
		offset += uint64(len(r.StoredBytes))

		shardTable[i] = kformat.ShardTableEntry{
			ShardID:            r.ShardID,
			Offset:             shardOffset,
			StoredLength:       uint64(len(r.StoredBytes)),
			UncompressedLength: r.UncompressedLength,
			ShardHash:          r.ShardHash,
			Encrypted:          r.Encrypted,
			Nonce:              r.Nonce,
			FileCount:          uint32(len(r.Files)),
		}

		for _, fr := range r.Files {
			mtimeSecs := int64(0)
			mtimeNanos := uint32(0)
			if fr.Entry.HasModTime {
				mtimeSecs = fr.Entry.ModTime.Unix()
				mtimeNanos = uint32(fr.Entry.ModTime.Nanosecond())
			}
			indexEntries = append(indexEntries, kindex.Entry{
				Path:          fr.Entry.ArchivePath,
				ShardID:       r.ShardID,
				OffsetInShard: fr.OffsetInShard,
				Length:        fr.Length,
				MTimeSecs:     mtimeSecs,
				MTimeNanos:    mtimeNanos,
				ContentHash:   fr.Hash,
			})
		}
	}
	sort.Slice(indexEntries, func(i, j int) bool { return indexEntries[i].Path < indexEntries[j].Path })

	shardTableOffset := offset
	rawShardTable := kformat.EncodeShardTable(shardTable)
	if _, err := f.WriteAt(rawShardTable, int64(shardTableOffset)); err != nil {
		return errIO(tmpPath, err)
	}
	shardTableLen := uint64(len(rawShardTable))
	shardTableCRC := kformat.CRC32(rawShardTable)
	offset += shardTableLen

	indexOffset := offset
	rawIndex := kindex.Encode(indexEntries)
	compressedIndex, err := kindex.Compress(rawIndex)
	if err != nil {
		return errIO(tmpPath, err)
	}
	if _, err := f.WriteAt(compressedIndex, int64(indexOffset)); err != nil {
		return errIO(tmpPath, err)
	}
	indexLen := uint64(len(compressedIndex))

	if err := machine.Advance(ksession.CreateIndexWritten); err != nil {
		return err
	}

	indexCRC := kformat.CRC32(compressedIndex)

	if _, err := f.Seek(0, 0); err != nil {
		return errIO(tmpPath, err)
	}
	bodyHash, err := kformat.BodyHash(f, int64(indexOffset+indexLen))
	if err != nil {
		return errIO(tmpPath, err)
	}

	footer := kformat.Footer{
		Version:          kformat.FormatVersion,
		ShardCount:       uint32(len(shards)),
		ShardTableOffset: shardTableOffset,
		ShardTableLen:    shardTableLen,
		ShardTableCRC32:  shardTableCRC,
		IndexOffset:      indexOffset,
		IndexLen:         indexLen,
		IndexCRC32:       indexCRC,
		BodyHash:         bodyHash,
	}
	if opts.Paranoid {
		footer.Flags |= kformat.FlagParanoidPresent
	}
	if keys != nil {
		footer.Flags |= kformat.FlagEncrypted
		footer.EncD = kformat.EncDescriptor{
			Encrypted: true,
			AlgID:     kformat.AlgAES256GCM,
			Argon2M:   kdfParams.MemoryKiB,
			Argon2T:   kdfParams.Iterations,
			Argon2P:   kdfParams.Parallelism,
			Salt:      kdfParams.Salt,
		}
		footer.HMAC = kaead.HMACSum(keys.HMAC, kformat.HMACFields(footer))
	}

	footerOffset := indexOffset + indexLen
	if err := f.Truncate(int64(footerOffset)); err != nil {
		return errIO(tmpPath, err)
	}
	if _, err := f.Seek(int64(footerOffset), 0); err != nil {
		return errIO(tmpPath, err)
	}
	if err := kformat.Write(f, footer); err != nil {
		return errIO(tmpPath, err)
	}

	if opts.Paranoid {
		if _, err := f.Seek(0, 0); err != nil {
			return errIO(tmpPath, err)
		}
		recomputed, err := kformat.BodyHash(f, int64(indexOffset+indexLen))
		if err != nil {
			return errIO(tmpPath, err)
		}
		if recomputed != bodyHash {
			return errCorruptEntry("(whole archive)")
		}
	}
	if err := machine.Advance(ksession.CreateVerified); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return errIO(tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return errIO(tmpPath, err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return errIO(outputPath, err)
	}
	cleanupTemp = false

	if err := machine.Advance(ksession.CreateCommitted); err != nil {
		return err
	}
	sink.Done()
	return nil
}

func numCPU() int {
	return cpuCountOverride()
}

// cpuCountOverride is a variable so tests can pin a deterministic worker
// count; production code leaves it at runtime.NumCPU.
var cpuCountOverride = func() int { return runtime.NumCPU() }
