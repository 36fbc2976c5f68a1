package speaking

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSource struct {
	muted atomic.Bool
}

func (f *fakeSource) IsMuted() bool { return f.muted.Load() }

type recorder struct {
	mu     sync.Mutex
	values []bool
}

func (r *recorder) publish(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder) last() (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return false, 0
	}
	return r.values[len(r.values)-1], len(r.values)
}

func waitFor(t *testing.T, r *recorder, want bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, n := r.last(); n > 0 && v == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	v, n := r.last()
	t.Fatalf("timed out waiting for %v (last=%v, samples=%d)", want, v, n)
}

func TestSampler_TracksMuteFlag(t *testing.T) {
	rec := &recorder{}
	src := &fakeSource{}
	src.muted.Store(true)

	s := NewSampler(5*time.Millisecond, rec.publish)
	s.Start(src)
	defer s.Stop()

	waitFor(t, rec, false)

	src.muted.Store(false)
	waitFor(t, rec, true)

	src.muted.Store(true)
	waitFor(t, rec, false)
}

func TestSampler_PublishesOnlyChanges(t *testing.T) {
	rec := &recorder{}
	src := &fakeSource{}

	s := NewSampler(time.Millisecond, rec.publish)
	s.Start(src)
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	// initial sample (true) followed by the false from Stop
	if len(rec.values) != 2 || rec.values[0] != true || rec.values[1] != false {
		t.Errorf("published %v, want [true false]", rec.values)
	}
}

func TestSampler_StopPublishesFalse(t *testing.T) {
	rec := &recorder{}
	src := &fakeSource{}

	s := NewSampler(5*time.Millisecond, rec.publish)
	s.Start(src)
	waitFor(t, rec, true)

	s.Stop()
	if v, _ := rec.last(); v {
		t.Error("expected false after Stop")
	}
	if s.Running() {
		t.Error("sampler still running after Stop")
	}

	_, n := rec.last()
	time.Sleep(20 * time.Millisecond)
	if _, after := rec.last(); after != n {
		t.Errorf("samples published after Stop: %d -> %d", n, after)
	}
}

func TestSampler_RestartReplacesSource(t *testing.T) {
	rec := &recorder{}
	first := &fakeSource{}
	second := &fakeSource{}
	second.muted.Store(true)

	s := NewSampler(5*time.Millisecond, rec.publish)
	s.Start(first)
	waitFor(t, rec, true)

	s.Start(second)
	defer s.Stop()
	waitFor(t, rec, false)

	// Changes on the replaced source are no longer observed.
	first.muted.Store(true)
	first.muted.Store(false)
	time.Sleep(20 * time.Millisecond)
	if v, _ := rec.last(); v {
		t.Error("replaced source still sampled")
	}
}

func TestSampler_StopWhenIdle(t *testing.T) {
	rec := &recorder{}
	s := NewSampler(0, rec.publish)

	s.Stop()
	s.Stop()

	if s.interval != DefaultInterval {
		t.Errorf("interval = %v, want default", s.interval)
	}
	if _, n := rec.last(); n != 2 {
		t.Errorf("expected one false per Stop, got %d samples", n)
	}
}

func TestSampler_StartNilSource(t *testing.T) {
	rec := &recorder{}
	s := NewSampler(time.Millisecond, rec.publish)

	s.Start(nil)

	if s.Running() {
		t.Error("nil source should not start sampling")
	}
	if v, n := rec.last(); n != 1 || v {
		t.Errorf("expected a single false, got %v (%d)", v, n)
	}
}
