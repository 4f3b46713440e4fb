package metrics

import (
	"testing"
	"time"
)

func TestLatencyTracker_Stats(t *testing.T) {
	tr := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		tr.Record(time.Duration(i) * time.Millisecond)
	}

	s := tr.Stats()
	if s.Count != 100 || s.Max != 100*time.Millisecond {
		t.Errorf("count=%d max=%v, want 100/100ms", s.Count, s.Max)
	}
	if s.P50 != 50*time.Millisecond || s.P99 != 99*time.Millisecond {
		t.Errorf("p50=%v p99=%v, want 50ms/99ms", s.P50, s.P99)
	}
}

func TestLatencyTracker_Window(t *testing.T) {
	tr := NewLatencyTracker(3)
	for _, ms := range []int{100, 100, 100, 1, 2, 3} {
		tr.Record(time.Duration(ms) * time.Millisecond)
	}

	s := tr.Stats()
	if s.Max != 3*time.Millisecond {
		t.Errorf("max = %v, want 3ms (old samples evicted)", s.Max)
	}
	if s.Count != 6 {
		t.Errorf("count = %d, want 6", s.Count)
	}
}

func TestLatencyTracker_Empty(t *testing.T) {
	if s := NewLatencyTracker(0).Stats(); s.Count != 0 || s.P50 != 0 {
		t.Errorf("empty stats = %+v", s)
	}
}

func TestLatencyRegistry(t *testing.T) {
	r := NewLatencyRegistry(10)
	r.Record("sync.user", time.Second)
	r.Record("sync.user", 3*time.Second)
	r.Record("sync.batch", time.Minute)

	all := r.AllStats()
	if len(all) != 2 {
		t.Fatalf("trackers = %d, want 2", len(all))
	}
	if all["sync.user"].Avg != 2*time.Second {
		t.Errorf("sync.user avg = %v, want 2s", all["sync.user"].Avg)
	}
}
