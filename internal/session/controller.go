package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/observability/logging"
	"voice-agent-dashboard/internal/observability/metrics"
	"voice-agent-dashboard/internal/transport"
)

// Connection modes reported by Status.
const (
	ModeRoom   = "room"
	ModeIngest = "ingest"
)

// TokenSource issues room credentials.
type TokenSource interface {
	Fetch(ctx context.Context, room, participant string) (*transport.Credentials, error)
}

// DialFunc opens a room connection that reports its events to handler.
type DialFunc func(ctx context.Context, creds *transport.Credentials, handler transport.Handler, microphoneOn bool) (Room, error)

func dialRoom(ctx context.Context, creds *transport.Credentials, handler transport.Handler, microphoneOn bool) (Room, error) {
	return transport.Dial(ctx, creds, handler, microphoneOn)
}

// ControllerConfig is the template every session is created from.
type ControllerConfig struct {
	Session        Config
	Participant    string
	ConnectTimeout time.Duration
	MicrophoneOn   bool
}

// Status summarises the controller for the read surface.
type Status struct {
	Connected   bool       `json:"connected"`
	Mode        string     `json:"mode"`
	SessionID   string     `json:"sessionId,omitempty"`
	Room        string     `json:"room"`
	Participant string     `json:"participant"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithDialer replaces the websocket dialer.
func WithDialer(dial DialFunc) ControllerOption {
	return func(c *Controller) { c.dial = dial }
}

// WithObservers registers turn observers for every session the controller creates.
func WithObservers(observers ...TurnObserver) ControllerOption {
	return func(c *Controller) { c.observers = append(c.observers, observers...) }
}

// Controller owns the process's current session. Each connect creates a fresh
// session, so a reconnect never carries transcript or state over.
type Controller struct {
	cfg       ControllerConfig
	tokens    TokenSource
	dial      DialFunc
	observers []TurnObserver
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	// mu is not held while fetching a token or dialing. gen is bumped by
	// Disconnect and Reconnect so a connect that finishes afterwards is dropped.
	mu          sync.Mutex
	gen         uint64
	current     *Session
	connectedAt time.Time
	lastErr     error
}

// NewController creates a controller. A nil tokens source gives ingest-only
// sessions: segments and snapshots arrive through gRPC or Kafka, and typed
// messages are recorded without being sent.
func NewController(cfg ControllerConfig, tokens TokenSource, m *metrics.Metrics, opts ...ControllerOption) *Controller {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	c := &Controller{
		cfg:     cfg,
		tokens:  tokens,
		dial:    dialRoom,
		metrics: m,
		logger:  logging.WithComponent("controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect starts a session unless one is already running.
func (c *Controller) Connect(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.current != nil {
		s := c.current
		c.mu.Unlock()
		return s, nil
	}
	gen := c.gen
	c.mu.Unlock()

	s, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	return c.install(gen, s)
}

// Reconnect tears the current session down and starts a new one.
func (c *Controller) Reconnect(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	c.closeLocked()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	s, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	return c.install(gen, s)
}

// Disconnect closes the current session, if any, and abandons connects in flight.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.closeLocked()
}

// Session returns the running session or ErrNotConnected.
func (c *Controller) Session() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNotConnected
	}
	return c.current, nil
}

// ApplySegments routes a segment batch to the running session.
func (c *Controller) ApplySegments(role models.Role, segments []models.Segment) error {
	s, err := c.Session()
	if err != nil {
		return err
	}
	return s.ApplySegments(role, segments)
}

// Status reports the connection state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Mode:        c.mode(),
		Room:        c.cfg.Session.Room,
		Participant: c.cfg.Participant,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.current == nil {
		return st
	}
	st.Connected = true
	st.SessionID = c.current.ID()
	at := c.connectedAt
	st.ConnectedAt = &at
	if err := c.current.LinkError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

func (c *Controller) mode() string {
	if c.tokens == nil {
		return ModeIngest
	}
	return ModeRoom
}

// open creates a session and, in room mode, fetches a token and dials. It
// does not touch the current session.
func (c *Controller) open(ctx context.Context) (*Session, error) {
	cfg := c.cfg.Session
	cfg.ID = uuid.NewString()

	s, err := New(cfg, c.metrics, c.observers...)
	if err != nil {
		return nil, c.fail("session", err)
	}

	if c.tokens != nil {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()

		creds, err := c.tokens.Fetch(ctx, cfg.Room, c.cfg.Participant)
		if err != nil {
			s.Close()
			return nil, c.fail("token", err)
		}
		room, err := c.dial(ctx, creds, s, c.cfg.MicrophoneOn)
		if err != nil {
			s.Close()
			return nil, c.fail("dial", err)
		}
		if err := s.AttachRoom(room); err != nil {
			_ = room.Close()
			s.Close()
			return nil, c.fail("attach", err)
		}
	}
	return s, nil
}

// install makes s current if nothing overtook the connect that opened it.
// Otherwise s is closed: a concurrent connect's session wins, and a
// disconnect or reconnect since gen was taken supersedes it.
func (c *Controller) install(gen uint64, s *Session) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		s.Close()
		c.logger.Info().Str("sessionId", s.ID()).Msg("Dropping superseded session")
		return nil, ErrConnectSuperseded
	}
	if c.current != nil {
		s.Close()
		return c.current, nil
	}

	c.current = s
	c.connectedAt = time.Now()
	c.lastErr = nil

	c.logger.Info().
		Str("sessionId", s.ID()).
		Str("room", s.RoomName()).
		Str("mode", c.mode()).
		Msg("Session connected")
	return s, nil
}

func (c *Controller) closeLocked() {
	if c.current == nil {
		return
	}
	id := c.current.ID()
	c.current.Close()
	c.current = nil
	c.logger.Info().Str("sessionId", id).Msg("Session disconnected")
}

func (c *Controller) fail(stage string, err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.metrics.RecordConnectFailure(stage)
	c.logger.Error().Err(err).Str("stage", stage).Msg("Session connect failed")
	return fmt.Errorf("connect %s: %w", stage, err)
}

// Variant returns the SessionState variant sessions are created with.
func (c *Controller) Variant() models.Variant {
	if c.cfg.Session.Variant == "" {
		return models.VariantCalendar
	}
	return c.cfg.Session.Variant
}
