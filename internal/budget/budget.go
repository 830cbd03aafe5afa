// Package budget implements the memory-budget-aware concurrency scheduler:
// translating a MemoryBudget and a per-shard codec working-set estimate
// into a shard concurrency level and a codec thread count.
package budget

import (
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/blitzarch/katana/internal/codec"
	"github.com/blitzarch/katana/internal/ksession"
)

// windowMultiplier approximates the codec working-set multiplier of the
// compression window relative to its nominal level; Zstd and LZMA2 both
// keep roughly one window's worth of history per active thread.
const windowMultiplier = 4

// levelWindowBytes is a coarse per-level window-size table, large enough at
// high levels to make the budget clamp meaningful without requiring exact
// codec introspection.
func levelWindowBytes(level int) uint64 {
	switch {
	case level <= 0:
		return 1 << 20 // 1 MiB, codec default window
	case level < 10:
		return 1 << uint(20+level/3) // grows from ~1MiB to ~8MiB
	case level < 20:
		return 8 << 20
	default:
		return 128 << 20 // Zstd ultra levels 20-22
	}
}

// EstimatePerShard estimates the working-set bytes one shard worker needs at
// the given codec configuration and thread count.
func EstimatePerShard(cfg codec.Config, codecThreads int) uint64 {
	if codecThreads < 1 {
		codecThreads = 1
	}
	return levelWindowBytes(cfg.Level) * windowMultiplier * uint64(codecThreads)
}

// TotalRAMBytes returns total system RAM as reported by the kernel.
func TotalRAMBytes() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, xerrors.Errorf("sysinfo: %w", err)
	}
	return uint64(info.Totalram) * uint64(info.Unit), nil
}

// Resolve converts a MemoryBudget into an absolute byte ceiling. An
// unlimited budget returns (0, true) to signal "no ceiling".
func Resolve(b ksession.MemoryBudget) (bytes uint64, unlimited bool, err error) {
	switch b.Kind {
	case ksession.BudgetUnlimited:
		return 0, true, nil
	case ksession.BudgetAbsoluteMiB:
		return b.AbsoluteMiB * 1024 * 1024, false, nil
	case ksession.BudgetPercent:
		total, err := TotalRAMBytes()
		if err != nil {
			return 0, false, err
		}
		return total * uint64(b.PercentOfRAM) / 100, false, nil
	default:
		return 0, false, xerrors.Errorf("unknown memory budget kind %d", b.Kind)
	}
}

// Plan is the resolved concurrency and codec thread count for a session.
type Plan struct {
	Concurrency  int
	CodecThreads int
	// Warning is set when the budget could not be fully honored (a single
	// shard's estimate still exceeds budget even at codec_threads=1) but
	// the session can still proceed at minimum concurrency.
	Warning string
}

// Compute derives a Plan from the requested codec configuration, worker
// thread count, and memory budget:
//  1. concurrency C = floor(budget / per_shard_estimate), clamped to
//     [1, workerThreads];
//  2. codec thread count T such that C*T <= workerThreads;
//  3. if even C=1 exceeds budget, codecThreads is reduced toward 1 before
//     falling back to a warning rather than failing outright.
func Compute(cfg codec.Config, workerThreads int, b ksession.MemoryBudget) (Plan, error) {
	if workerThreads < 1 {
		workerThreads = 1
	}

	budgetBytes, unlimited, err := Resolve(b)
	if err != nil {
		return Plan{}, err
	}
	if unlimited {
		codecThreads := cfg.Threads
		if codecThreads < 1 {
			codecThreads = 1
		}
		concurrency := workerThreads / codecThreads
		if concurrency < 1 {
			concurrency = 1
		}
		return Plan{Concurrency: concurrency, CodecThreads: codecThreads}, nil
	}

	codecThreads := cfg.Threads
	if codecThreads < 1 {
		codecThreads = 1
	}

	for codecThreads >= 1 {
		perShard := EstimatePerShard(cfg, codecThreads)
		concurrency := workerThreads / codecThreads
		if concurrency < 1 {
			concurrency = 1
		}
		if perShard == 0 {
			return Plan{Concurrency: concurrency, CodecThreads: codecThreads}, nil
		}
		affordable := int(budgetBytes / perShard)
		if affordable < 1 {
			if codecThreads > 1 {
				codecThreads--
				continue
			}
			// Even single-threaded codec exceeds budget for one shard:
			// proceed at minimum concurrency with a warning instead of
			// failing the whole session.
			return Plan{
				Concurrency:  1,
				CodecThreads: 1,
				Warning:      "memory budget is smaller than one shard's estimated working set; proceeding at minimum concurrency",
			}, nil
		}
		if affordable < concurrency {
			concurrency = affordable
		}
		if concurrency < 1 {
			concurrency = 1
		}
		return Plan{Concurrency: concurrency, CodecThreads: codecThreads}, nil
	}

	return Plan{Concurrency: 1, CodecThreads: 1}, nil
}
