// Package transcript reconciles incrementally revised recognition segments from
// the user and agent channels into one ordered conversation log.
package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"voice-agent-dashboard/internal/models"
)

// UserTextPrefix namespaces ids of typed turns so they never collide with
// recognition segment ids.
const UserTextPrefix = "chat-"

// ApplyResult tallies what one ApplySegments call did to the log.
type ApplyResult struct {
	Created   []models.Turn
	Updated   []models.Turn
	Discarded int
	Clamped   int
}

// Changed reports whether the log was modified.
func (r ApplyResult) Changed() bool {
	return len(r.Created) > 0 || len(r.Updated) > 0
}

// Reconciler owns the Turn log for one session.
//
// A Reconciler is not safe for concurrent use. The session event loop is its
// only writer.
type Reconciler struct {
	turns []models.Turn
	index map[string]int
	now   func() time.Time
	newID func() string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the wall clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithIDGenerator overrides the id source for typed turns.
func WithIDGenerator(newID func() string) Option {
	return func(r *Reconciler) { r.newID = newID }
}

// New creates an empty Reconciler.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		index: make(map[string]int),
		now:   time.Now,
		newID: func() string { return UserTextPrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ApplySegments folds one batch of segments for role into the log, in order.
//
// A segment whose id is already known revises that Turn in place. An unknown id
// with non-blank text appends a Turn; an unknown id with blank text is dropped.
// Segments without an id are dropped and counted in Discarded.
// A final Turn never goes back to non-final: a non-final revision of it is
// ignored and counted in Clamped.
func (r *Reconciler) ApplySegments(role models.Role, segments []models.Segment) ApplyResult {
	var res ApplyResult
	for _, seg := range segments {
		if seg.ID == "" {
			res.Discarded++
			continue
		}
		if i, ok := r.index[seg.ID]; ok {
			t := &r.turns[i]
			if t.IsFinal && !seg.Final {
				res.Clamped++
				continue
			}
			if t.Content == seg.Text && t.IsFinal == seg.Final {
				continue
			}
			t.Content = seg.Text
			t.IsFinal = seg.Final
			res.Updated = append(res.Updated, *t)
			continue
		}

		if strings.TrimSpace(seg.Text) == "" {
			res.Discarded++
			continue
		}

		turn := models.Turn{
			ID:        seg.ID,
			Role:      role,
			Content:   seg.Text,
			CreatedAt: r.now(),
			IsFinal:   seg.Final,
		}
		r.index[seg.ID] = len(r.turns)
		r.turns = append(r.turns, turn)
		res.Created = append(res.Created, turn)
	}
	return res
}

// ApplyUserText appends a typed message as an already final user Turn.
func (r *Reconciler) ApplyUserText(text string) models.Turn {
	turn := models.Turn{
		ID:        r.newID(),
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: r.now(),
		IsFinal:   true,
	}
	r.index[turn.ID] = len(r.turns)
	r.turns = append(r.turns, turn)
	return turn
}

// Turns returns a copy of the log in insertion order.
func (r *Reconciler) Turns() []models.Turn {
	out := make([]models.Turn, len(r.turns))
	copy(out, r.turns)
	return out
}

// Len returns the number of turns in the log.
func (r *Reconciler) Len() int {
	return len(r.turns)
}

// Reset empties the log.
func (r *Reconciler) Reset() {
	r.turns = nil
	r.index = make(map[string]int)
}
