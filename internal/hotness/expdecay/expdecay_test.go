package expdecay

import (
	"math"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTrackerForTest(hl time.Duration) (*Tracker, *fakeClock) {
	fc := &fakeClock{now: time.Unix(0, 0).UTC()}
	tr := New(hl)
	tr.now = fc.Now
	return tr, fc
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestHalfLifeHalvesScore(t *testing.T) {
	tr, fc := newTrackerForTest(time.Minute)
	tr.Inc("75056")
	tr.Inc("75056")
	if s := tr.Score("75056"); !almost(s, 2) {
		t.Fatalf("score=%v want 2", s)
	}
	fc.Add(time.Minute)
	if s := tr.Score("75056"); !almost(s, 1) {
		t.Fatalf("score=%v want 1 after one half-life", s)
	}
	tr.Inc("75056")
	if s := tr.Score("75056"); !almost(s, 2) {
		t.Fatalf("score=%v want decayed 1 + 1", s)
	}
}

func TestResetAndEmptyKey(t *testing.T) {
	tr, _ := newTrackerForTest(time.Minute)
	tr.Inc("")
	tr.Inc("92012")
	if tr.Size() != 1 {
		t.Fatalf("size=%d", tr.Size())
	}
	tr.Reset("92012", "")
	if tr.Score("92012") != 0 || tr.Size() != 0 {
		t.Fatalf("reset did not clear")
	}
}

func TestPruneDropsColdKeys(t *testing.T) {
	tr, fc := newTrackerForTest(time.Second)
	tr.Inc("cold")
	fc.Add(10 * time.Second)
	for range 5 {
		tr.Inc("hot")
	}
	if n := tr.Prune(0.5); n != 1 {
		t.Fatalf("pruned=%d want 1", n)
	}
	if tr.Score("hot") < 4 {
		t.Fatalf("hot key lost")
	}
}

func TestConcurrentInc(t *testing.T) {
	tr, _ := newTrackerForTest(time.Hour)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				tr.Inc("93001")
			}
		}()
	}
	wg.Wait()
	if s := tr.Score("93001"); !almost(s, 800) {
		t.Fatalf("score=%v want 800", s)
	}
}
