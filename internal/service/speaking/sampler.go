// Package speaking derives a coarse "agent is speaking" signal by polling the
// mute flag of the agent's active audio source.
package speaking

import (
	"sync"
	"time"
)

// DefaultInterval is the polling cadence used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// AudioSource is the remote audio track being watched.
type AudioSource interface {
	IsMuted() bool
}

// PublishFunc receives each sampled value that differs from the previous one.
type PublishFunc func(speaking bool)

// Sampler polls one AudioSource at a fixed interval.
type Sampler struct {
	interval time.Duration
	publish  PublishFunc

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewSampler creates a stopped Sampler. A non-positive interval selects DefaultInterval.
func NewSampler(interval time.Duration, publish PublishFunc) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		interval: interval,
		publish:  publish,
	}
}

// Start begins sampling source, replacing any source sampled before.
func (s *Sampler) Start(source AudioSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if source == nil {
		s.publish(false)
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go s.run(source, s.stop, s.done)
}

// Stop halts sampling, releases the ticker and publishes false. Safe to call
// when not running.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.publish(false)
}

// Running reports whether a source is being sampled.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sampler) stopLocked() {
	if !s.running {
		return
	}
	close(s.stop)
	<-s.done
	s.running = false
}

func (s *Sampler) run(source AudioSource, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last := !source.IsMuted()
	s.publish(last)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			cur := !source.IsMuted()
			if cur != last {
				last = cur
				s.publish(cur)
			}
		}
	}
}
