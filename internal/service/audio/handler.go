// Package audio turns a local speech-to-text stream into recognition segment
// batches for one role channel.
package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/observability/logging"
	"voice-agent-dashboard/internal/observability/metrics"
	"voice-agent-dashboard/internal/service/segment"
	"voice-agent-dashboard/internal/service/stt"
)

// SegmentLimits bounds a single local segment.
type SegmentLimits struct {
	MaxAudioBytes int64         // Max audio per segment
	MaxDuration   time.Duration // Max segment duration
	MaxPartials   int           // Max partial revisions per segment
}

// DefaultLimits returns the default limits.
func DefaultLimits() SegmentLimits {
	return SegmentLimits{
		MaxAudioBytes: 5 * 1024 * 1024, // ~160s at 16kHz 16-bit mono
		MaxDuration:   5 * time.Minute,
		MaxPartials:   500,
	}
}

// SegmentSink receives each segment batch produced by the handler.
type SegmentSink func(role models.Role, segments []models.Segment)

// Handler implements stt.Callback. Every recognizer result becomes a
// one-segment batch for its role; utterance boundaries open a new segment id.
type Handler struct {
	adapter stt.Adapter
	sink    SegmentSink
	gen     *segment.Generator
	role    models.Role
	limits  SegmentLimits
	metrics *metrics.Metrics
	logger  zerolog.Logger

	lifecycle *segment.Lifecycle

	mu               sync.RWMutex
	segmentStartTime time.Time
	audioBytes       int64
	partialCount     int
	utteranceCount   int
}

// NewHandler creates a handler for role using the default limits.
func NewHandler(adapter stt.Adapter, sink SegmentSink, gen *segment.Generator, role models.Role) *Handler {
	return NewHandlerWithLimits(adapter, sink, gen, role, DefaultLimits())
}

// NewHandlerWithLimits creates a handler with custom segment limits.
func NewHandlerWithLimits(
	adapter stt.Adapter,
	sink SegmentSink,
	gen *segment.Generator,
	role models.Role,
	limits SegmentLimits,
) *Handler {
	if gen == nil {
		gen = segment.New()
	}
	return &Handler{
		adapter:          adapter,
		sink:             sink,
		gen:              gen,
		role:             role,
		limits:           limits,
		metrics:          metrics.DefaultMetrics,
		logger:           logging.WithComponent("audio-handler").With().Str("role", string(role)).Logger(),
		lifecycle:        segment.NewLifecycle(gen.Next(string(role))),
		segmentStartTime: time.Now(),
	}
}

// Start begins the STT session with this handler as the callback receiver.
func (h *Handler) Start(ctx context.Context) error {
	return h.adapter.Start(ctx, h)
}

// SendAudio forwards audio to the adapter. Exceeding a limit drops the current
// segment and returns an error.
func (h *Handler) SendAudio(ctx context.Context, audio []byte) error {
	h.mu.Lock()
	h.audioBytes += int64(len(audio))
	currentBytes := h.audioBytes
	startTime := h.segmentStartTime
	h.mu.Unlock()

	if h.limits.MaxAudioBytes > 0 && currentBytes > h.limits.MaxAudioBytes {
		h.metrics.RecordLimitExceeded("audio_bytes")
		reason := fmt.Sprintf("max audio bytes exceeded: %d > %d", currentBytes, h.limits.MaxAudioBytes)
		h.DropSegment(reason)
		return fmt.Errorf("segment limit exceeded: %s", reason)
	}

	if elapsed := time.Since(startTime); h.limits.MaxDuration > 0 && elapsed > h.limits.MaxDuration {
		h.metrics.RecordLimitExceeded("duration")
		reason := fmt.Sprintf("max duration exceeded: %v > %v", elapsed, h.limits.MaxDuration)
		h.DropSegment(reason)
		return fmt.Errorf("segment limit exceeded: %s", reason)
	}

	return h.adapter.SendAudio(ctx, audio)
}

// Close closes the current segment and the adapter.
func (h *Handler) Close() error {
	err := h.adapter.Close()
	h.lifecycle.Close()
	return err
}

// SegmentID returns the current segment id.
func (h *Handler) SegmentID() string {
	return h.lifecycle.ID()
}

// SegmentState returns the current segment lifecycle state.
func (h *Handler) SegmentState() segment.State {
	return h.lifecycle.State()
}

// UtteranceCount returns the number of completed utterances.
func (h *Handler) UtteranceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.utteranceCount
}

// OnPartial emits a non-final revision of the current segment.
func (h *Handler) OnPartial(text string) {
	h.mu.Lock()
	h.partialCount++
	count := h.partialCount
	h.mu.Unlock()

	if h.limits.MaxPartials > 0 && count > h.limits.MaxPartials {
		h.metrics.RecordLimitExceeded("partials")
		h.DropSegment(fmt.Sprintf("max partials exceeded: %d > %d", count, h.limits.MaxPartials))
		return
	}

	seg, err := h.lifecycle.Partial(text)
	if err != nil {
		h.logger.Debug().Err(err).Str("segmentId", h.lifecycle.ID()).Msg("Partial ignored")
		return
	}
	h.sink(h.role, []models.Segment{seg})
}

// OnFinal emits the final revision of the current segment.
func (h *Handler) OnFinal(text string, confidence float64) {
	seg, err := h.lifecycle.Final(text)
	if err != nil {
		h.logger.Debug().Err(err).Str("segmentId", h.lifecycle.ID()).Msg("Final ignored")
		return
	}
	h.logger.Debug().
		Str("segmentId", seg.ID).
		Float64("confidence", confidence).
		Msg("Final transcript")
	h.sink(h.role, []models.Segment{seg})
}

// OnEndOfUtterance closes the current segment and opens the next one.
func (h *Handler) OnEndOfUtterance() {
	oldID := h.lifecycle.ID()
	oldState := h.lifecycle.State()
	h.lifecycle.Close()

	h.mu.Lock()
	h.utteranceCount++
	n := h.utteranceCount
	bytes, partials := h.audioBytes, h.partialCount
	duration := time.Since(h.segmentStartTime)
	h.audioBytes = 0
	h.partialCount = 0
	h.segmentStartTime = time.Now()
	h.mu.Unlock()

	newID := h.gen.Next(string(h.role))
	h.lifecycle.Reset(newID)
	h.metrics.RecordUtterance()

	h.logger.Info().
		Str("oldSegment", oldID).
		Str("oldState", oldState.String()).
		Str("newSegment", newID).
		Int("utterance", n).
		Int64("audioBytes", bytes).
		Int("partials", partials).
		Dur("duration", duration.Round(time.Millisecond)).
		Msg("End of utterance")
}

// OnError drops the current segment; no final will be emitted for it.
func (h *Handler) OnError(err error) {
	h.metrics.RecordSTTError("stream", "recognition")
	dropped := h.lifecycle.Drop()
	h.logger.Error().
		Err(err).
		Str("segmentId", h.lifecycle.ID()).
		Bool("dropped", dropped).
		Msg("STT error, segment dropped")
}

// DropSegment abandons the current segment. It returns false if the segment
// had already ended.
func (h *Handler) DropSegment(reason string) bool {
	dropped := h.lifecycle.Drop()
	if dropped {
		h.metrics.RecordSegmentDropped("limit")
	}
	h.logger.Warn().
		Str("segmentId", h.lifecycle.ID()).
		Str("reason", reason).
		Bool("dropped", dropped).
		Msg("Segment dropped")
	return dropped
}

// IsSegmentDropped reports whether the current segment was dropped.
func (h *Handler) IsSegmentDropped() bool {
	return h.lifecycle.IsDropped()
}

// SegmentMetrics holds usage of the current segment.
type SegmentMetrics struct {
	AudioBytes   int64
	PartialCount int
	Duration     time.Duration
}

// GetSegmentMetrics returns usage of the current segment.
func (h *Handler) GetSegmentMetrics() SegmentMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return SegmentMetrics{
		AudioBytes:   h.audioBytes,
		PartialCount: h.partialCount,
		Duration:     time.Since(h.segmentStartTime),
	}
}
