// Package progress implements the event sink a create or extract session
// reports through: per-shard progress, warnings, and a terminal completion
// event, carrying processed and total file/byte counts, completed/total
// shards, elapsed time, an ETA, and throughput.
//
// A single mutex-protected Sink accumulates running totals across
// concurrent shard workers and delivers typed ProgressEvent values to a
// caller-supplied callback rather than writing anywhere itself.
package progress

import (
	"sync"
	"time"
)

// EventKind tags the variants of ProgressEvent.
type EventKind int

const (
	EventShardStarted EventKind = iota
	EventShardCompleted
	EventWarning
	EventDone
)

// ProgressEvent is one unit of progress reported during a session: a
// snapshot of processed/total file and byte counts, completed/total
// shards, elapsed time, an ETA, and throughput in MB/s.
type ProgressEvent struct {
	Kind    EventKind
	ShardID uint32
	Message string // populated for EventWarning

	ProcessedFiles  uint64
	TotalFiles      uint64
	ProcessedBytes  uint64
	TotalBytes      uint64
	CompletedShards int
	TotalShards     int
	Elapsed         time.Duration
	ETA             time.Duration
	SpeedMBps       float64
}

// Sink delivers ProgressEvents to a single callback under a mutex, so
// callers may report from many concurrent shard workers without
// synchronizing themselves. It accumulates processed totals across calls so
// every emitted event carries a complete, monotonically-advancing snapshot
// rather than a single shard's delta.
type Sink struct {
	mu      sync.Mutex
	start   time.Time
	onEvent func(ProgressEvent)

	totalFiles  uint64
	totalBytes  uint64
	totalShards int

	processedFiles  uint64
	processedBytes  uint64
	completedShards int
}

// NewSink returns a Sink that calls onEvent for every reported event. A nil
// onEvent discards all events.
func NewSink(onEvent func(ProgressEvent)) *Sink {
	if onEvent == nil {
		onEvent = func(ProgressEvent) {}
	}
	return &Sink{start: time.Now(), onEvent: onEvent}
}

// SetTotals records the known totals (file count, uncompressed byte count,
// shard count) for a session before work begins, so subsequent events can
// report progress fractions and an ETA. Safe to call before any other
// method; totals are read under the same mutex as emit.
func (s *Sink) SetTotals(totalFiles, totalBytes uint64, totalShards int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalFiles = totalFiles
	s.totalBytes = totalBytes
	s.totalShards = totalShards
}

func (s *Sink) emitLocked(ev ProgressEvent) {
	ev.Elapsed = time.Since(s.start)
	ev.TotalFiles = s.totalFiles
	ev.TotalBytes = s.totalBytes
	ev.TotalShards = s.totalShards
	ev.ProcessedFiles = s.processedFiles
	ev.ProcessedBytes = s.processedBytes
	ev.CompletedShards = s.completedShards

	if elapsedSec := ev.Elapsed.Seconds(); elapsedSec > 0 && s.processedBytes > 0 {
		ev.SpeedMBps = float64(s.processedBytes) / (1024 * 1024) / elapsedSec
		if s.totalBytes > s.processedBytes {
			bytesPerSec := float64(s.processedBytes) / elapsedSec
			remaining := float64(s.totalBytes - s.processedBytes)
			ev.ETA = time.Duration(remaining/bytesPerSec) * time.Second
		}
	}

	s.onEvent(ev)
}

// ShardStarted reports that a shard worker began processing shardID.
func (s *Sink) ShardStarted(shardID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(ProgressEvent{Kind: EventShardStarted, ShardID: shardID})
}

// ShardCompleted reports that shardID finished, having moved filesDone
// files totaling bytesDone uncompressed bytes. The counts are added to the
// sink's running totals before the event is emitted.
func (s *Sink) ShardCompleted(shardID uint32, filesDone int, bytesDone uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processedFiles += uint64(filesDone)
	s.processedBytes += bytesDone
	s.completedShards++
	s.emitLocked(ProgressEvent{Kind: EventShardCompleted, ShardID: shardID})
}

// Warning reports a non-fatal problem (a skipped file, a stale symlink)
// that does not abort the session.
func (s *Sink) Warning(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(ProgressEvent{Kind: EventWarning, Message: message})
}

// Done reports that the session reached its terminal state.
func (s *Sink) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(ProgressEvent{Kind: EventDone})
}
