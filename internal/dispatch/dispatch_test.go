package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestPoolRunsAllTasks(t *testing.T) {
	p := NewPool(4)
	var mu sync.Mutex
	seen := make(map[uint32]bool)

	var tasks []Task
	for i := uint32(0); i < 20; i++ {
		id := i
		tasks = append(tasks, Task{ID: id, Run: func(ctx context.Context) error {
			mu.Lock()
			seen[id] = true
			mu.Unlock()
			return nil
		}})
	}

	if err := p.Run(context.Background(), tasks); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 20 {
		t.Fatalf("got %d tasks run, want 20", len(seen))
	}
}

func TestPoolPropagatesFirstError(t *testing.T) {
	p := NewPool(2)
	wantErr := errors.New("boom")
	tasks := []Task{
		{ID: 0, Run: func(ctx context.Context) error { return wantErr }},
		{ID: 1, Run: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }},
	}
	if err := p.Run(context.Background(), tasks); err == nil {
		t.Fatal("expected an error")
	}
}

func TestNewPoolClampsToOne(t *testing.T) {
	p := NewPool(0)
	if p.Workers != 1 {
		t.Fatalf("got %d workers, want 1", p.Workers)
	}
}
