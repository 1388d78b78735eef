package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestParallelCollectProcessesAllItems(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4, 5}
	results, err := ParallelCollect(context.Background(), items, 3,
		func(ctx context.Context, n int) (int, error) { return n * 2, nil },
		nil,
	)
	if err != nil {
		t.Fatalf("ParallelCollect() = %v", err)
	}
	if len(results) != len(items) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(items))
	}
	sum := 0
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("result error = %v", res.Err)
		}
		sum += res.Value
	}
	if sum != 30 {
		t.Fatalf("sum = %d, want 30", sum)
	}
}

func TestParallelCollectEmptyItems(t *testing.T) {
	t.Parallel()

	results, err := ParallelCollect(context.Background(), nil, 4,
		func(ctx context.Context, n int) (int, error) { return n, nil },
		nil,
	)
	if results != nil || err != nil {
		t.Fatalf("ParallelCollect(nil items) = %v, %v, want nil, nil", results, err)
	}
}

func TestParallelCollectReturnsFirstNonCancelError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	_, err := ParallelCollect(context.Background(), items, 4,
		func(ctx context.Context, n int) (int, error) {
			if n == 7 {
				return 0, boom
			}
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return n, nil
		},
		nil,
	)
	if !errors.Is(err, boom) {
		t.Fatalf("ParallelCollect() = %v, want %v", err, boom)
	}
}

func TestParallelCollectReportsProgress(t *testing.T) {
	t.Parallel()

	var calls int64
	var lastTotal int64
	items := []string{"a", "b", "c"}
	_, err := ParallelCollect(context.Background(), items, 2,
		func(ctx context.Context, s string) (string, error) { return s, nil },
		func(done, total int64) {
			atomic.AddInt64(&calls, 1)
			atomic.StoreInt64(&lastTotal, total)
		},
	)
	if err != nil {
		t.Fatalf("ParallelCollect() = %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Fatalf("progress calls = %d, want 3", got)
	}
	if got := atomic.LoadInt64(&lastTotal); got != 3 {
		t.Fatalf("progress total = %d, want 3", got)
	}
}

func TestNormalizeWorkers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		workers int
		items   int
		want    int
	}{
		{0, 10, 1},
		{-3, 10, 1},
		{4, 10, 4},
		{16, 10, 10},
	}
	for _, tt := range tests {
		if got := normalizeWorkers(tt.workers, tt.items); got != tt.want {
			t.Fatalf("normalizeWorkers(%d, %d) = %d, want %d", tt.workers, tt.items, got, tt.want)
		}
	}
}
