// Package sharder assigns entries to shards using longest-processing-time
// (LPT) bin-packing, so that parallel shard workers get balanced work.
package sharder

import (
	"sort"

	"github.com/blitzarch/katana/internal/kentry"
)

const (
	// MinBundleBytes is the smallest auto-computed bundle target.
	MinBundleBytes = 8 * 1024 * 1024
)

// Shard groups the entries assigned to one shard, already sorted by
// archive path for deterministic layout.
type Shard struct {
	ID      uint32
	Entries []kentry.Entry
	// TotalBytes is the sum of uncompressed entry sizes in this shard.
	TotalBytes uint64
}

// ComputeShardCount picks N = max(1, min(workerThreads,
// ceil(totalBytes/bundleBytes))), so there are never more shards than
// worker threads to run them. bundleBytes of 0 means auto: max(8MiB,
// totalBytes/workerThreads).
func ComputeShardCount(totalBytes uint64, workerThreads, bundleBytes int) int {
	if workerThreads < 1 {
		workerThreads = 1
	}
	if bundleBytes <= 0 {
		auto := totalBytes / uint64(workerThreads)
		if auto < MinBundleBytes {
			auto = MinBundleBytes
		}
		bundleBytes = int(auto)
	}
	if bundleBytes < 1 {
		bundleBytes = 1
	}
	n := int(ceilDiv(totalBytes, uint64(bundleBytes)))
	if n < 1 {
		n = 1
	}
	if n > workerThreads {
		n = workerThreads
	}
	return n
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Assign partitions entries into shardCount shards via LPT bin-packing:
// entries sorted by size descending are repeatedly assigned to the
// currently-smallest shard (ties broken by lowest shard id), then each
// shard's entries are re-sorted by archive path ascending.
//
// Guarantee: max shard total <= min(optimal*4/3, optimal + largestEntry).
func Assign(entries []kentry.Entry, shardCount int) []Shard {
	if shardCount < 1 {
		shardCount = 1
	}
	shards := make([]Shard, shardCount)
	for i := range shards {
		shards[i].ID = uint32(i)
	}

	ordered := make([]kentry.Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Size > ordered[j].Size
	})

	for _, e := range ordered {
		best := 0
		for i := 1; i < shardCount; i++ {
			if shards[i].TotalBytes < shards[best].TotalBytes {
				best = i
			}
		}
		e.ShardID = uint32(best)
		shards[best].Entries = append(shards[best].Entries, e)
		shards[best].TotalBytes += e.Size
	}

	for i := range shards {
		sort.Slice(shards[i].Entries, func(a, b int) bool {
			return shards[i].Entries[a].ArchivePath < shards[i].Entries[b].ArchivePath
		})
	}

	return shards
}
