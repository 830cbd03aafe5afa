package progress

import (
	"sync"
	"testing"
)

func TestSinkDeliversEventsInOrder(t *testing.T) {
	var mu sync.Mutex
	var kinds []EventKind
	s := NewSink(func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
	})

	s.ShardStarted(0)
	s.ShardCompleted(0, 3, 1024)
	s.Warning("skipped a symlink")
	s.Done()

	want := []EventKind{EventShardStarted, EventShardCompleted, EventWarning, EventDone}
	if len(kinds) != len(want) {
		t.Fatalf("got %d events, want %d", len(kinds), len(want))
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("event %d: got %v want %v", i, kinds[i], k)
		}
	}
}

func TestNilCallbackDiscardsEvents(t *testing.T) {
	s := NewSink(nil)
	s.ShardStarted(0)
	s.Done() // must not panic
}

func TestSinkConcurrentReportsDoNotRace(t *testing.T) {
	var mu sync.Mutex
	count := 0
	s := NewSink(func(ProgressEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			s.ShardStarted(id)
			s.ShardCompleted(id, 1, 0)
		}(uint32(i))
	}
	wg.Wait()
	if count != 100 {
		t.Fatalf("got %d events, want 100", count)
	}
}
