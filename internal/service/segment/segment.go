// Package segment issues recognition segment ids and enforces the per-segment
// revision lifecycle for locally recognized speech.
package segment

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator issues segment ids that are unique per role and per process run,
// so two runs feeding the same session never reuse an id.
type Generator struct {
	run     string
	counter uint64
}

// New creates a Generator with a random run prefix.
func New() *Generator {
	return NewWithRun(strings.SplitN(uuid.NewString(), "-", 2)[0])
}

// NewWithRun creates a Generator with a fixed run prefix.
func NewWithRun(run string) *Generator {
	return &Generator{run: run}
}

// Next returns the next id for the given channel, e.g. "user-1a2b3c4d-1".
func (g *Generator) Next(channel string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-%s-%d", channel, g.run, n)
}
