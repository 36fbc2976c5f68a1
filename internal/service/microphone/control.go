// Package microphone toggles the local participant's outgoing audio.
package microphone

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"voice-agent-dashboard/internal/observability/logging"
	"voice-agent-dashboard/internal/observability/metrics"
)

// LocalParticipant is the transport handle for the local user.
type LocalParticipant interface {
	MicrophoneEnabled() bool
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
}

// Control flips the microphone through whichever LocalParticipant is attached.
// It keeps no audio state of its own.
type Control struct {
	mu      sync.Mutex
	local   LocalParticipant
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewControl creates a Control with no participant attached.
func NewControl(m *metrics.Metrics) *Control {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Control{
		logger:  logging.WithComponent("microphone"),
		metrics: m,
	}
}

// Attach sets the local participant handle. nil detaches.
func (c *Control) Attach(local LocalParticipant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = local
}

// Enabled reports the transport's publish state, false when detached.
func (c *Control) Enabled() bool {
	c.mu.Lock()
	local := c.local
	c.mu.Unlock()
	if local == nil {
		return false
	}
	return local.MicrophoneEnabled()
}

// Toggle flips the publish state. Without a local participant it does nothing.
func (c *Control) Toggle(ctx context.Context) error {
	c.mu.Lock()
	local := c.local
	c.mu.Unlock()

	if local == nil {
		c.logger.Debug().Msg("Microphone toggle ignored, no local participant")
		return nil
	}

	next := !local.MicrophoneEnabled()
	if err := local.SetMicrophoneEnabled(ctx, next); err != nil {
		return fmt.Errorf("set microphone enabled=%v: %w", next, err)
	}
	c.metrics.RecordMicrophoneToggle()
	c.logger.Info().Bool("enabled", next).Msg("Microphone toggled")
	return nil
}
