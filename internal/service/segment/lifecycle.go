package segment

import (
	"errors"
	"fmt"
	"sync"

	"voice-agent-dashboard/internal/models"
)

// State is the lifecycle state of one local segment.
type State int

const (
	// StateOpen accepts partial revisions and one final.
	StateOpen State = iota
	// StateFinalEmitted has produced its final revision.
	StateFinalEmitted
	// StateClosed ended normally.
	StateClosed
	// StateDropped was abandoned without a final.
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinalEmitted:
		return "FINAL_EMITTED"
	case StateClosed:
		return "CLOSED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal reports whether no further revisions can be produced.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

var (
	ErrSegmentClosed               = errors.New("segment is closed")
	ErrFinalAlreadyEmitted         = errors.New("final already emitted for this segment")
	ErrCannotEmitPartialAfterFinal = errors.New("cannot emit partial after final")
)

// Lifecycle turns recognizer callbacks for one span of speech into Segment
// revisions that all share one id:
//
//	OPEN --Partial()*--> OPEN --Final()--> FINAL_EMITTED --Close()--> CLOSED
//	  \__ Drop() ______________________________________________> DROPPED
//
// Safe for concurrent use.
type Lifecycle struct {
	mu        sync.RWMutex
	id        string
	state     State
	revisions int
}

// NewLifecycle creates an open lifecycle for segment id.
func NewLifecycle(id string) *Lifecycle {
	return &Lifecycle{id: id, state: StateOpen}
}

// ID returns the current segment id.
func (l *Lifecycle) ID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.id
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Revisions returns how many revisions were produced for the current id.
func (l *Lifecycle) Revisions() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.revisions
}

// IsDropped reports whether the current segment was abandoned.
func (l *Lifecycle) IsDropped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateDropped
}

// Partial produces a non-final revision.
func (l *Lifecycle) Partial(text string) (models.Segment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.revisions++
		return models.Segment{ID: l.id, Text: text}, nil
	case StateFinalEmitted:
		return models.Segment{}, ErrCannotEmitPartialAfterFinal
	default:
		return models.Segment{}, ErrSegmentClosed
	}
}

// Final produces the final revision and moves to FINAL_EMITTED.
func (l *Lifecycle) Final(text string) (models.Segment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.state = StateFinalEmitted
		l.revisions++
		return models.Segment{ID: l.id, Text: text, Final: true}, nil
	case StateFinalEmitted:
		return models.Segment{}, ErrFinalAlreadyEmitted
	default:
		return models.Segment{}, ErrSegmentClosed
	}
}

// Close ends the segment from any state. Idempotent.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateDropped {
		l.state = StateClosed
	}
}

// Drop abandons the segment without a final. It returns false if the segment
// had already reached a terminal state.
func (l *Lifecycle) Drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateDropped
	return true
}

// Reset reopens the lifecycle under a new id.
func (l *Lifecycle) Reset(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.id = id
	l.state = StateOpen
	l.revisions = 0
}
