// Package state holds the latest session state snapshot broadcast by the agent.
package state

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/observability/logging"
	"voice-agent-dashboard/internal/observability/metrics"
)

// listIndex matches the element index in a warning path such as
// calendarEvents[0].attendees, so metrics are labelled per member, not per element.
var listIndex = regexp.MustCompile(`\[\d+\]`)

// Synchronizer keeps the last successfully decoded snapshot. Every accepted
// broadcast replaces the previous snapshot wholesale; a broadcast that fails to
// decode is reported and dropped, leaving the previous snapshot in place.
//
// A Synchronizer is not safe for concurrent use. The session event loop is its
// only writer.
type Synchronizer struct {
	decoder Decoder
	current *models.SessionState
	lastRaw string
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Synchronizer decoding the given variant.
func New(variant models.Variant, m *metrics.Metrics) (*Synchronizer, error) {
	dec, err := DecoderFor(variant)
	if err != nil {
		return nil, err
	}
	return NewWithDecoder(dec, m), nil
}

// NewWithDecoder creates a Synchronizer around an explicit decoder.
func NewWithDecoder(dec Decoder, m *metrics.Metrics) *Synchronizer {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Synchronizer{
		decoder: dec,
		logger:  logging.WithComponent("state-synchronizer"),
		metrics: m,
	}
}

// OnAttributeChanged applies a raw broadcast. An empty or blank value is ignored and
// does not clear the current snapshot. changed reports whether Current now
// returns a different snapshot.
func (s *Synchronizer) OnAttributeChanged(raw string) (changed bool, err error) {
	if strings.TrimSpace(raw) == "" {
		return false, nil
	}
	if s.current != nil && raw == s.lastRaw {
		return false, nil
	}

	variant := string(s.decoder.Variant())
	next, warnings, err := s.decoder.Decode([]byte(raw))
	if err != nil {
		s.metrics.RecordDecodeFailure(variant)
		s.logger.Warn().
			Err(err).
			Str("variant", variant).
			Int("bytes", len(raw)).
			Bool("hasPrevious", s.current != nil).
			Msg("Dropping undecodable session state, keeping previous snapshot")
		return false, fmt.Errorf("decode %s session state: %w", variant, err)
	}

	for _, w := range warnings {
		s.metrics.RecordFieldWarning(listIndex.ReplaceAllString(w.Field, "[]"))
		s.logger.Warn().
			Str("variant", variant).
			Str("field", w.Field).
			Str("reason", w.Reason).
			Msg("Session state field defaulted")
	}

	s.current = next
	s.lastRaw = raw
	s.metrics.RecordSnapshotApplied(variant)
	s.logger.Debug().
		Str("variant", variant).
		Int("warnings", len(warnings)).
		Msg("Session state snapshot applied")
	return true, nil
}

// Current returns the latest snapshot, or nil if none has been accepted.
// The returned value must not be modified; it is replaced, never mutated.
func (s *Synchronizer) Current() *models.SessionState {
	return s.current
}

// Variant returns the variant this synchronizer decodes.
func (s *Synchronizer) Variant() models.Variant {
	return s.decoder.Variant()
}

// Reset drops the current snapshot.
func (s *Synchronizer) Reset() {
	s.current = nil
	s.lastRaw = ""
}
