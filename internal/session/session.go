// Package session runs one dashboard session: a single goroutine owns the
// transcript reconciler, the state synchronizer and the speaking sampler, and
// every collaborator (room socket, Kafka consumer, gRPC ingest, sampler ticker)
// reaches them only by enqueueing work onto that goroutine.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/observability/logging"
	"voice-agent-dashboard/internal/observability/metrics"
	"voice-agent-dashboard/internal/service/microphone"
	"voice-agent-dashboard/internal/service/speaking"
	"voice-agent-dashboard/internal/service/state"
	"voice-agent-dashboard/internal/service/transcript"
	"voice-agent-dashboard/internal/transport"
)

// Room is the transport a session sends through.
type Room interface {
	SendChat(ctx context.Context, text string) error
	MicrophoneEnabled() bool
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	Close() error
}

// TurnObserver is offered every created or revised turn, on the session
// goroutine. Implementations must not block.
type TurnObserver interface {
	OnTurn(sessionID, room string, turn models.Turn)
}

// Config describes one session.
type Config struct {
	ID             string
	Room           string
	Variant        models.Variant
	AgentMarker    string
	StateAttribute string
	SampleInterval time.Duration
	InboxSize      int
}

func (c *Config) applyDefaults() {
	if c.Variant == "" {
		c.Variant = models.VariantCalendar
	}
	if c.AgentMarker == "" {
		c.AgentMarker = models.KindAgent
	}
	if c.StateAttribute == "" {
		c.StateAttribute = "state"
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = speaking.DefaultInterval
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
}

// linkError keeps atomic.Value stores of one concrete type.
type linkError struct{ err error }

type audioTrack struct {
	sid    string
	source speaking.AudioSource
}

// Session is one connected dashboard session.
type Session struct {
	cfg       Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	observers []TurnObserver

	reconciler *transcript.Reconciler
	states     *state.Synchronizer
	sampler    *speaking.Sampler
	mic        *microphone.Control

	inbox        chan func()
	speakingPoke chan struct{}
	speakingNow  atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	closeOnce    sync.Once
	linkErr      atomic.Value

	view       atomic.Pointer[View]
	subsMu     sync.Mutex
	subs       map[uint64]chan *View
	nextSub    uint64
	subsClosed bool

	roomMu sync.Mutex
	room   Room

	// Owned by the session goroutine.
	localIdentity string
	participants  map[string]models.Participant
	tracks        map[string]audioTrack
	agentIdentity string
	agentTrackSID string
	agentSpeaking bool
	version       uint64
}

// New creates a session and starts its event loop.
func New(cfg Config, m *metrics.Metrics, observers ...TurnObserver) (*Session, error) {
	cfg.applyDefaults()
	if m == nil {
		m = metrics.DefaultMetrics
	}

	states, err := state.New(cfg.Variant, m)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:          cfg,
		logger:       logging.WithSession(cfg.ID, cfg.Room).With().Str("component", "session").Logger(),
		metrics:      m,
		observers:    observers,
		reconciler:   transcript.New(),
		states:       states,
		mic:          microphone.NewControl(m),
		inbox:        make(chan func(), cfg.InboxSize),
		speakingPoke: make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		subs:         make(map[uint64]chan *View),
		participants: make(map[string]models.Participant),
		tracks:       make(map[string]audioTrack),
	}
	s.sampler = speaking.NewSampler(cfg.SampleInterval, s.onSample)

	s.publish()
	m.RecordSessionStart()
	go s.run()

	s.logger.Info().
		Str("variant", string(cfg.Variant)).
		Str("agentMarker", cfg.AgentMarker).
		Msg("Session started")
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.cfg.ID }

// RoomName returns the room the session belongs to.
func (s *Session) RoomName() string { return s.cfg.Room }

// Variant returns the configured SessionState variant.
func (s *Session) Variant() models.Variant { return s.cfg.Variant }

// Done is closed once the event loop has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// LinkError returns the error that ended the room connection, if any.
func (s *Session) LinkError() error {
	if le, ok := s.linkErr.Load().(linkError); ok {
		return le.err
	}
	return nil
}

// View returns the latest published view.
func (s *Session) View() *View {
	return s.view.Load()
}

// Subscribe returns a channel that always holds the most recent unread view.
// Views published while the reader is busy replace each other. The channel is
// closed when the session closes or cancel is called.
func (s *Session) Subscribe() (<-chan *View, func()) {
	ch := make(chan *View, 1)

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.subsClosed {
		close(ch)
		return ch, func() {}
	}
	if v := s.view.Load(); v != nil {
		ch <- v
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.metrics.SubscribersActive.Inc()

	return ch, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
			s.metrics.SubscribersActive.Dec()
		}
	}
}

// AttachRoom sets the transport used for chat and microphone control and
// waits until it is installed, so a later Close always closes room. On error
// the caller still owns room.
func (s *Session) AttachRoom(room Room) error {
	return s.call(context.Background(), func() {
		s.roomMu.Lock()
		s.room = room
		s.roomMu.Unlock()
		s.mic.Attach(room)
		s.publish()
	})
}

// ApplySegments feeds a batch of recognition segments for role.
func (s *Session) ApplySegments(role models.Role, segments []models.Segment) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if len(segments) == 0 {
		return nil
	}
	return s.enqueue(func() { s.applySegments(role, segments) })
}

// ParticipantJoined records a participant and, if it is the first agent
// observed, replays its current state attribute.
func (s *Session) ParticipantJoined(p models.Participant) error {
	return s.enqueue(func() {
		if s.onParticipant(p) {
			s.publish()
		}
	})
}

// ParticipantLeft removes a participant.
func (s *Session) ParticipantLeft(identity string) error {
	return s.enqueue(func() { s.participantLeft(identity) })
}

// AttributesChanged applies changed attributes of a participant.
func (s *Session) AttributesChanged(identity string, changed map[string]string) error {
	return s.enqueue(func() { s.attributesChanged(identity, changed) })
}

// AudioTrackPublished registers a remote audio track.
func (s *Session) AudioTrackPublished(identity, sid string, source speaking.AudioSource) error {
	return s.enqueue(func() { s.trackPublished(identity, sid, source) })
}

// AudioTrackUnpublished removes a remote audio track.
func (s *Session) AudioTrackUnpublished(identity, sid string) error {
	return s.enqueue(func() { s.trackUnpublished(identity, sid) })
}

// SendText records a typed message as a final user turn, then sends it. The
// turn is kept even if the send fails. ctx bounds only the send: once queued,
// the turn is always recorded and returned.
func (s *Session) SendText(ctx context.Context, text string) (models.Turn, error) {
	if strings.TrimSpace(text) == "" {
		return models.Turn{}, ErrEmptyMessage
	}

	var turn models.Turn
	err := s.call(context.WithoutCancel(ctx), func() {
		turn = s.reconciler.ApplyUserText(text)
		s.metrics.RecordUserTurn()
		s.notify(turn)
		s.publish()
	})
	if err != nil {
		return models.Turn{}, err
	}

	room := s.currentRoom()
	if room == nil {
		s.logger.Debug().Str("turnId", turn.ID).Msg("No room attached, typed message recorded locally")
		return turn, nil
	}
	err = room.SendChat(ctx, text)
	s.metrics.RecordChatSend(err)
	if err != nil {
		s.logger.Warn().Err(err).Str("turnId", turn.ID).Msg("Chat send failed")
		return turn, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return turn, nil
}

// ToggleMicrophone flips the local microphone through the room.
func (s *Session) ToggleMicrophone(ctx context.Context) error {
	if err := s.mic.Toggle(ctx); err != nil {
		return err
	}
	return s.enqueue(s.publish)
}

// Close stops the event loop and tears everything down as a set: the sampler
// is stopped, the room closed, subscribers released and both reducers reset.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done

		s.sampler.Stop()
		if room := s.swapRoom(nil); room != nil {
			if err := room.Close(); err != nil {
				s.logger.Debug().Err(err).Msg("Room close")
			}
		}
		s.mic.Attach(nil)
		s.reconciler.Reset()
		s.states.Reset()
		s.participants = map[string]models.Participant{}
		s.tracks = map[string]audioTrack{}
		s.agentIdentity = ""
		s.agentTrackSID = ""
		s.agentSpeaking = false

		s.version++
		s.view.Store(&View{
			SessionID:  s.cfg.ID,
			Room:       s.cfg.Room,
			Variant:    s.cfg.Variant,
			Transcript: []models.Turn{},
			Version:    s.version,
			UpdatedAt:  time.Now(),
		})

		s.subsMu.Lock()
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
			s.metrics.SubscribersActive.Dec()
		}
		s.subsClosed = true
		s.subsMu.Unlock()

		s.metrics.RecordSessionEnd()
		s.logger.Info().Msg("Session closed")
	})
}

// --- transport.Handler ---

var _ transport.Handler = (*Session)(nil)

// OnJoined records the local identity and the participants already present.
func (s *Session) OnJoined(localIdentity string, participants []models.Participant) {
	_ = s.enqueue(func() {
		s.localIdentity = localIdentity
		for _, p := range participants {
			s.onParticipant(p)
		}
		s.publish()
	})
}

// OnParticipantJoined implements transport.Handler.
func (s *Session) OnParticipantJoined(p models.Participant) { _ = s.ParticipantJoined(p) }

// OnParticipantLeft implements transport.Handler.
func (s *Session) OnParticipantLeft(identity string) { _ = s.ParticipantLeft(identity) }

// OnAttributesChanged implements transport.Handler.
func (s *Session) OnAttributesChanged(identity string, changed map[string]string) {
	_ = s.AttributesChanged(identity, changed)
}

// OnTranscription maps the speaker to a role and applies the segments.
// Transcriptions from anyone but the local user or the agent are ignored.
func (s *Session) OnTranscription(identity string, segments []models.Segment) {
	_ = s.enqueue(func() {
		role, ok := s.roleFor(identity)
		if !ok {
			s.logger.Debug().Str("participant", identity).Msg("Ignoring transcription from non-agent participant")
			return
		}
		s.applySegments(role, segments)
	})
}

// OnTrackPublished implements transport.Handler.
func (s *Session) OnTrackPublished(identity string, track *transport.RemoteAudioTrack) {
	_ = s.AudioTrackPublished(identity, track.SID, track)
}

// OnTrackUnpublished implements transport.Handler.
func (s *Session) OnTrackUnpublished(identity, trackSID string) {
	_ = s.AudioTrackUnpublished(identity, trackSID)
}

// OnDisconnected records why the room connection ended. The session stays
// open until it is closed or reconnected.
func (s *Session) OnDisconnected(err error) {
	if err == nil {
		return
	}
	s.linkErr.Store(linkError{err: err})
	s.logger.Error().Err(err).Msg("Room connection lost")
}

// --- event loop ---

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.inbox:
			fn()
		case <-s.speakingPoke:
			s.setSpeaking(s.speakingNow.Load())
		}
	}
}

func (s *Session) enqueue(fn func()) error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	select {
	case s.inbox <- fn:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// call runs fn on the event loop and waits for it to finish.
func (s *Session) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := s.enqueue(func() {
		fn()
		close(finished)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrSessionClosed
		}
	}
}

// onSample runs on the sampler goroutine and must not block.
func (s *Session) onSample(on bool) {
	s.speakingNow.Store(on)
	select {
	case s.speakingPoke <- struct{}{}:
	default:
	}
}

func (s *Session) applySegments(role models.Role, segments []models.Segment) {
	res := s.reconciler.ApplySegments(role, segments)
	s.metrics.RecordSegments(string(role), len(segments), len(res.Created), len(res.Updated), res.Discarded, res.Clamped)
	if res.Clamped > 0 {
		s.logger.Debug().Str("role", string(role)).Int("clamped", res.Clamped).Msg("Ignored non-final revisions of final turns")
	}
	if !res.Changed() {
		return
	}
	for _, t := range res.Created {
		s.notify(t)
	}
	for _, t := range res.Updated {
		s.notify(t)
	}
	s.publish()
}

// onParticipant records p and reports whether the view changed.
func (s *Session) onParticipant(p models.Participant) bool {
	s.participants[p.Identity] = p
	if p.Identity == s.localIdentity {
		return false
	}
	if s.agentIdentity == "" && p.IsAgent(s.cfg.AgentMarker) {
		s.setAgent(p)
		return true
	}
	if p.Identity == s.agentIdentity {
		return s.applyState(p.Attributes[s.cfg.StateAttribute])
	}
	return false
}

func (s *Session) participantLeft(identity string) {
	delete(s.participants, identity)
	delete(s.tracks, identity)
	if identity != s.agentIdentity {
		return
	}

	logger := logging.WithParticipant(s.cfg.ID, identity)
	logger.Info().Msg("Agent left")
	s.clearAgent()

	// Another agent may already be in the room.
	ids := make([]string, 0, len(s.participants))
	for id := range s.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := s.participants[id]
		if id != s.localIdentity && p.IsAgent(s.cfg.AgentMarker) {
			s.setAgent(p)
			break
		}
	}
	s.publish()
}

func (s *Session) attributesChanged(identity string, changed map[string]string) {
	p, ok := s.participants[identity]
	if !ok {
		p = models.Participant{Identity: identity}
	}
	merged := make(map[string]string, len(p.Attributes)+len(changed))
	for k, v := range p.Attributes {
		merged[k] = v
	}
	for k, v := range changed {
		merged[k] = v
	}
	p.Attributes = merged
	s.participants[identity] = p

	if s.agentIdentity == "" && identity != s.localIdentity && p.IsAgent(s.cfg.AgentMarker) {
		s.setAgent(p)
		s.publish()
		return
	}
	if identity != s.agentIdentity {
		return
	}
	raw, ok := changed[s.cfg.StateAttribute]
	if !ok {
		return
	}
	if s.applyState(raw) {
		s.publish()
	}
}

// setAgent makes p the agent and replays its current state attribute, so a
// snapshot published before we started listening is not missed.
func (s *Session) setAgent(p models.Participant) {
	s.agentIdentity = p.Identity
	s.metrics.SetAgentConnected(true)
	logger := logging.WithParticipant(s.cfg.ID, p.Identity)
	logger.Info().Msg("Agent identified")

	s.applyState(p.Attributes[s.cfg.StateAttribute])
	if t, ok := s.tracks[p.Identity]; ok {
		s.agentTrackSID = t.sid
		s.sampler.Start(t.source)
	}
}

func (s *Session) clearAgent() {
	s.agentIdentity = ""
	if s.agentTrackSID != "" {
		s.sampler.Stop()
		s.agentTrackSID = ""
	}
	s.agentSpeaking = false
	s.states.Reset()
	s.metrics.SetAgentConnected(false)
	s.metrics.SetAgentSpeaking(false)
}

func (s *Session) applyState(raw string) bool {
	changed, err := s.states.OnAttributeChanged(raw)
	if err != nil {
		// Reported by the synchronizer; the previous snapshot stays.
		return false
	}
	return changed
}

func (s *Session) trackPublished(identity, sid string, source speaking.AudioSource) {
	s.tracks[identity] = audioTrack{sid: sid, source: source}
	if identity == "" || identity != s.agentIdentity {
		return
	}
	s.agentTrackSID = sid
	s.sampler.Start(source)
}

func (s *Session) trackUnpublished(identity, sid string) {
	if t, ok := s.tracks[identity]; ok && t.sid == sid {
		delete(s.tracks, identity)
	}
	if sid != s.agentTrackSID {
		return
	}
	s.agentTrackSID = ""
	s.sampler.Stop()
}

func (s *Session) setSpeaking(on bool) {
	if s.agentIdentity == "" {
		on = false
	}
	if on == s.agentSpeaking {
		return
	}
	s.agentSpeaking = on
	s.metrics.SetAgentSpeaking(on)
	s.publish()
}

func (s *Session) roleFor(identity string) (models.Role, bool) {
	if identity == "" {
		return "", false
	}
	if identity == s.localIdentity {
		return models.RoleUser, true
	}
	if identity == s.agentIdentity {
		return models.RoleAgent, true
	}
	if p, ok := s.participants[identity]; ok && p.IsAgent(s.cfg.AgentMarker) {
		return models.RoleAgent, true
	}
	return "", false
}

func (s *Session) notify(turn models.Turn) {
	for _, o := range s.observers {
		o.OnTurn(s.cfg.ID, s.cfg.Room, turn)
	}
}

func (s *Session) currentRoom() Room {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()
	return s.room
}

func (s *Session) swapRoom(room Room) Room {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()
	old := s.room
	s.room = room
	return old
}

// publish builds a new view and hands it to readers. Runs on the event loop,
// except for the initial view built in New.
func (s *Session) publish() {
	s.version++
	v := &View{
		SessionID:         s.cfg.ID,
		Room:              s.cfg.Room,
		Variant:           s.cfg.Variant,
		Transcript:        s.reconciler.Turns(),
		AgentConnected:    s.agentIdentity != "",
		AgentIdentity:     s.agentIdentity,
		AgentSpeaking:     s.agentSpeaking,
		MicrophoneEnabled: s.mic.Enabled(),
		Version:           s.version,
		UpdatedAt:         time.Now(),
	}
	if v.AgentConnected {
		v.State = s.states.Current()
	}
	s.view.Store(v)
	s.metrics.RecordViewPublished()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		offer(ch, v)
	}
}

// offer replaces whatever view is pending in ch with v.
func offer(ch chan *View, v *View) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
