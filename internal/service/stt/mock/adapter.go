// Package mock provides a scripted STT adapter for running the local speech
// channel without cloud credentials. Each audio frame advances the script by
// one partial; once the partials of an utterance are exhausted the next frame
// produces its final and an end-of-utterance, then the next utterance begins.
package mock

import (
	"context"
	"sync"
	"time"

	"voice-agent-dashboard/internal/service/stt"
)

// SimulatedUtterance is one scripted span of speech.
type SimulatedUtterance struct {
	Partials   []string
	Final      string
	Confidence float64
}

// DefaultUtterances is a short request to a calendar assistant.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Can you", "Can you move", "Can you move my standup"},
		Final:      "Can you move my standup to Monday morning",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"And book", "And book a flight", "And book a flight to Lisbon"},
		Final:      "And book a flight to Lisbon on Wednesday",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"Yes", "Yes that"},
		Final:      "Yes that works",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// DefaultDelay is how long each callback is held back to mimic recognition latency.
const DefaultDelay = 50 * time.Millisecond

// Adapter implements stt.Adapter by replaying a script. Callbacks are
// delivered in order from a single goroutine.
type Adapter struct {
	script []SimulatedUtterance
	delay  time.Duration

	mu           sync.Mutex
	cb           stt.Callback
	queue        chan func(stt.Callback)
	done         chan struct{}
	current      int
	partialIndex int
	finalSent    bool
	closed       bool
	frames       int
}

// New creates an adapter replaying DefaultUtterances.
func New() *Adapter {
	return NewWithScript(DefaultUtterances, DefaultDelay)
}

// NewWithScript creates an adapter replaying script with the given per-callback delay.
func NewWithScript(script []SimulatedUtterance, delay time.Duration) *Adapter {
	return &Adapter{
		script: script,
		delay:  delay,
	}
}

// Start attaches the callback and starts the delivery goroutine.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cb != nil || a.closed {
		return nil
	}
	a.cb = cb
	a.queue = make(chan func(stt.Callback), 64)
	a.done = make(chan struct{})
	go a.deliver(cb, a.queue, a.done)
	return nil
}

// SendAudio advances the script by one step.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.cb == nil || a.current >= len(a.script) {
		return nil
	}
	a.frames++

	utt := a.script[a.current]
	switch {
	case a.partialIndex < len(utt.Partials):
		text := utt.Partials[a.partialIndex]
		a.partialIndex++
		a.queue <- func(cb stt.Callback) { cb.OnPartial(text) }
	case !a.finalSent:
		a.finalSent = true
		a.queue <- func(cb stt.Callback) {
			cb.OnFinal(utt.Final, utt.Confidence)
			cb.OnEndOfUtterance()
		}
		a.current++
		a.partialIndex = 0
		a.finalSent = false
	}
	return nil
}

// Frames returns how many audio frames were accepted.
func (a *Adapter) Frames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

// Close finishes the utterance in progress with its final, then waits for all
// queued callbacks to be delivered. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.cb == nil {
		a.mu.Unlock()
		return nil
	}

	if a.partialIndex > 0 && a.current < len(a.script) {
		utt := a.script[a.current]
		a.queue <- func(cb stt.Callback) { cb.OnFinal(utt.Final, utt.Confidence) }
	}
	close(a.queue)
	done := a.done
	a.mu.Unlock()

	<-done
	return nil
}

func (a *Adapter) deliver(cb stt.Callback, queue <-chan func(stt.Callback), done chan<- struct{}) {
	defer close(done)
	for fn := range queue {
		if a.delay > 0 {
			time.Sleep(a.delay)
		}
		fn(cb)
	}
}
