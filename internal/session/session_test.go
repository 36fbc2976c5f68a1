package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/observability/metrics"
	"voice-agent-dashboard/internal/transport"
)

type fakeRoom struct {
	mu      sync.Mutex
	mic     bool
	sent    []string
	sendErr error
	closed  int
}

func (r *fakeRoom) SendChat(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *fakeRoom) MicrophoneEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mic
}

func (r *fakeRoom) SetMicrophoneEnabled(_ context.Context, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mic = enabled
	return nil
}

func (r *fakeRoom) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *fakeRoom) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type recordingObserver struct {
	mu    sync.Mutex
	turns []models.Turn
}

func (o *recordingObserver) OnTurn(_, _ string, turn models.Turn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns = append(o.turns, turn)
}

func (o *recordingObserver) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.turns)
}

func newTestSession(t *testing.T, observers ...TurnObserver) *Session {
	t.Helper()
	s, err := New(Config{
		ID:             "sess-1",
		Room:           "room-1",
		Variant:        models.VariantCalendar,
		SampleInterval: 5 * time.Millisecond,
	}, metrics.NewMetricsWith(prometheus.NewRegistry()), observers...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// waitView polls until cond holds for the published view.
func waitView(t *testing.T, s *Session, what string, cond func(v *View) bool) *View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v := s.View(); v != nil && cond(v) {
			return v
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last view %+v", what, s.View())
	return nil
}

// flush waits until every event enqueued before it has been handled.
func flush(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.call(ctx, func() {}); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

const calendarState = `{"calendarEvents":[{"id":"e1","title":"Standup","attendees":null}],"bookedFlights":[],"movedMeetings":[]}`

func TestNew_InitialView(t *testing.T) {
	s := newTestSession(t)
	v := s.View()
	if v == nil {
		t.Fatal("expected an initial view")
	}
	if v.SessionID != "sess-1" || v.Room != "room-1" {
		t.Errorf("view identity = %q/%q", v.SessionID, v.Room)
	}
	if len(v.Transcript) != 0 || v.State != nil || v.AgentConnected {
		t.Errorf("initial view not empty: %+v", v)
	}
}

func TestNew_UnknownVariant(t *testing.T) {
	_, err := New(Config{Variant: "weather"}, metrics.NewMetricsWith(prometheus.NewRegistry()))
	if !errors.Is(err, models.ErrUnknownVariant) {
		t.Fatalf("err = %v, want ErrUnknownVariant", err)
	}
}

func TestApplySegments_PublishesAndNotifies(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestSession(t, obs)

	if err := s.ApplySegments(models.RoleAgent, []models.Segment{{ID: "a1", Text: "Hello"}}); err != nil {
		t.Fatalf("ApplySegments: %v", err)
	}
	if err := s.ApplySegments(models.RoleAgent, []models.Segment{{ID: "a1", Text: "Hello there", Final: true}}); err != nil {
		t.Fatalf("ApplySegments: %v", err)
	}

	v := waitView(t, s, "final agent turn", func(v *View) bool {
		return len(v.Transcript) == 1 && v.Transcript[0].IsFinal
	})
	if v.Transcript[0].Content != "Hello there" {
		t.Errorf("content = %q", v.Transcript[0].Content)
	}
	if obs.Len() != 2 {
		t.Errorf("observer saw %d turns, want 2", obs.Len())
	}
}

func TestApplySegments_InvalidRole(t *testing.T) {
	s := newTestSession(t)
	err := s.ApplySegments("narrator", []models.Segment{{ID: "x", Text: "hi"}})
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("err = %v, want ErrInvalidRole", err)
	}
}

func TestSendText(t *testing.T) {
	sendErr := errors.New("socket gone")

	tests := []struct {
		name     string
		room     *fakeRoom
		text     string
		wantErr  error
		wantTurn bool
		wantSent int
	}{
		{name: "sent", room: &fakeRoom{}, text: "move my 3pm", wantTurn: true, wantSent: 1},
		{name: "blank rejected", room: &fakeRoom{}, text: "   ", wantErr: ErrEmptyMessage},
		{name: "send failure keeps turn", room: &fakeRoom{sendErr: sendErr}, text: "book a flight", wantErr: ErrSendFailed, wantTurn: true},
		{name: "no room records locally", text: "hello", wantTurn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			if tt.room != nil {
				if err := s.AttachRoom(tt.room); err != nil {
					t.Fatalf("AttachRoom: %v", err)
				}
			}

			turn, err := s.SendText(context.Background(), tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("SendText: %v", err)
			}

			transcript := s.View().Transcript
			if !tt.wantTurn {
				if len(transcript) != 0 {
					t.Fatalf("transcript = %+v, want empty", transcript)
				}
				return
			}
			if len(transcript) != 1 {
				t.Fatalf("transcript len = %d, want 1", len(transcript))
			}
			got := transcript[0]
			if got.ID != turn.ID || got.Role != models.RoleUser || !got.IsFinal || got.Content != tt.text {
				t.Errorf("turn = %+v", got)
			}
			if !strings.HasPrefix(got.ID, "chat-") {
				t.Errorf("turn id %q lacks chat prefix", got.ID)
			}
			if tt.room != nil && len(tt.room.Sent()) != tt.wantSent {
				t.Errorf("sent = %v, want %d messages", tt.room.Sent(), tt.wantSent)
			}
		})
	}
}

func TestSendText_ExpiredContextKeepsTurn(t *testing.T) {
	tests := []struct {
		name    string
		room    *fakeRoom
		wantErr error
	}{
		{name: "room attached", room: &fakeRoom{}, wantErr: ErrSendFailed},
		{name: "no room", wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			if tt.room != nil {
				if err := s.AttachRoom(tt.room); err != nil {
					t.Fatal(err)
				}
			}

			// Hold the loop so the turn stays queued past the deadline.
			release := make(chan struct{})
			if err := s.enqueue(func() { <-release }); err != nil {
				t.Fatal(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			time.AfterFunc(60*time.Millisecond, func() { close(release) })

			turn, err := s.SendText(ctx, "move my 3pm")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("err = %v, want it to wrap the deadline", err)
			}
			if turn.ID == "" || turn.Content != "move my 3pm" || !turn.IsFinal {
				t.Fatalf("turn = %+v", turn)
			}

			flush(t, s)
			v := s.View()
			if len(v.Transcript) != 1 || v.Transcript[0].ID != turn.ID {
				t.Errorf("transcript = %+v", v.Transcript)
			}
			if tt.room != nil && len(tt.room.Sent()) != 0 {
				t.Errorf("sent = %v after the deadline", tt.room.Sent())
			}
		})
	}
}

func TestAgent_EagerReplayAndUpdates(t *testing.T) {
	s := newTestSession(t)

	agent := models.Participant{
		Identity:   "agent-7f3",
		Attributes: map[string]string{"state": calendarState},
	}
	if err := s.ParticipantJoined(agent); err != nil {
		t.Fatalf("ParticipantJoined: %v", err)
	}

	v := waitView(t, s, "agent state", func(v *View) bool { return v.AgentConnected && v.State != nil })
	if v.AgentIdentity != "agent-7f3" {
		t.Errorf("agent identity = %q", v.AgentIdentity)
	}
	events := v.State.Calendar.CalendarEvents
	if len(events) != 1 || events[0].Attendees == nil {
		t.Fatalf("calendar events = %+v", events)
	}

	// Malformed snapshots leave the previous one in place.
	if err := s.AttributesChanged("agent-7f3", map[string]string{"state": "{oops"}); err != nil {
		t.Fatal(err)
	}
	flush(t, s)
	if st := s.View().State; st == nil || len(st.Calendar.CalendarEvents) != 1 {
		t.Fatalf("state after malformed snapshot = %+v", st)
	}

	if err := s.AttributesChanged("agent-7f3", map[string]string{"state": `{"calendarEvents":[]}`}); err != nil {
		t.Fatal(err)
	}
	waitView(t, s, "replaced state", func(v *View) bool {
		return v.State != nil && len(v.State.Calendar.CalendarEvents) == 0
	})
}

func TestAgent_IdentifiedByAttributes(t *testing.T) {
	s := newTestSession(t)

	if err := s.AttributesChanged("worker-1", map[string]string{"state": calendarState}); err != nil {
		t.Fatal(err)
	}
	flush(t, s)
	if s.View().AgentConnected {
		t.Fatal("participant without agent marker treated as agent")
	}

	if err := s.ParticipantJoined(models.Participant{Identity: "worker-2", Kind: models.KindAgent}); err != nil {
		t.Fatal(err)
	}
	waitView(t, s, "agent by kind", func(v *View) bool { return v.AgentIdentity == "worker-2" })
}

func TestAgent_LeftClearsState(t *testing.T) {
	s := newTestSession(t)

	_ = s.ParticipantJoined(models.Participant{Identity: "agent-1", Attributes: map[string]string{"state": calendarState}})
	waitView(t, s, "agent state", func(v *View) bool { return v.State != nil })

	if err := s.ParticipantLeft("agent-1"); err != nil {
		t.Fatal(err)
	}
	v := waitView(t, s, "agent gone", func(v *View) bool { return !v.AgentConnected })
	if v.State != nil {
		t.Errorf("state = %+v, want nil placeholder", v.State)
	}

	// A returning agent with no state attribute must not resurrect the old snapshot.
	_ = s.ParticipantJoined(models.Participant{Identity: "agent-2"})
	v = waitView(t, s, "second agent", func(v *View) bool { return v.AgentConnected })
	if v.State != nil {
		t.Errorf("state = %+v, want nil before the new agent publishes", v.State)
	}
}

func TestOnTranscription_RoleMapping(t *testing.T) {
	s := newTestSession(t)

	s.OnJoined("dashboard-user", []models.Participant{{Identity: "agent-abc"}, {Identity: "observer-9"}})
	s.OnTranscription("dashboard-user", []models.Segment{{ID: "u1", Text: "What's on today?", Final: true}})
	s.OnTranscription("observer-9", []models.Segment{{ID: "o1", Text: "ignored", Final: true}})
	s.OnTranscription("agent-abc", []models.Segment{{ID: "a1", Text: "Two meetings.", Final: true}})

	v := waitView(t, s, "two turns", func(v *View) bool { return len(v.Transcript) == 2 })
	if v.Transcript[0].Role != models.RoleUser || v.Transcript[1].Role != models.RoleAgent {
		t.Errorf("roles = %s, %s", v.Transcript[0].Role, v.Transcript[1].Role)
	}
	flush(t, s)
	if n := len(s.View().Transcript); n != 2 {
		t.Errorf("transcript len = %d, want 2", n)
	}
}

func TestSpeaking_FollowsAgentTrack(t *testing.T) {
	s := newTestSession(t)

	_ = s.ParticipantJoined(models.Participant{Identity: "agent-1"})
	track := transport.NewRemoteAudioTrack("TR_1", "agent-1", false)
	s.OnTrackPublished("agent-1", track)

	waitView(t, s, "agent speaking", func(v *View) bool { return v.AgentSpeaking })

	track.SetMuted(true)
	waitView(t, s, "agent silent", func(v *View) bool { return !v.AgentSpeaking })

	track.SetMuted(false)
	waitView(t, s, "agent speaking again", func(v *View) bool { return v.AgentSpeaking })

	s.OnTrackUnpublished("agent-1", "TR_1")
	waitView(t, s, "track removed", func(v *View) bool { return !v.AgentSpeaking })
}

func TestSpeaking_IgnoresNonAgentTracks(t *testing.T) {
	s := newTestSession(t)

	s.OnJoined("me", nil)
	s.OnTrackPublished("someone", transport.NewRemoteAudioTrack("TR_9", "someone", false))
	flush(t, s)
	time.Sleep(20 * time.Millisecond)
	flush(t, s)
	if s.View().AgentSpeaking {
		t.Fatal("speaking set from a non-agent track")
	}
}

func TestToggleMicrophone(t *testing.T) {
	s := newTestSession(t)
	room := &fakeRoom{mic: true}
	if err := s.AttachRoom(room); err != nil {
		t.Fatal(err)
	}
	waitView(t, s, "mic on", func(v *View) bool { return v.MicrophoneEnabled })

	if err := s.ToggleMicrophone(context.Background()); err != nil {
		t.Fatalf("ToggleMicrophone: %v", err)
	}
	waitView(t, s, "mic off", func(v *View) bool { return !v.MicrophoneEnabled })
	if room.MicrophoneEnabled() {
		t.Error("room microphone still enabled")
	}
}

func TestSubscribe_LatestViewWins(t *testing.T) {
	s := newTestSession(t)
	views, cancel := s.Subscribe()

	first := <-views
	if first == nil || first.Version == 0 {
		t.Fatalf("first view = %+v", first)
	}

	for i := 0; i < 5; i++ {
		_ = s.ApplySegments(models.RoleAgent, []models.Segment{{ID: "a1", Text: strings.Repeat("x", i+1)}})
	}
	waitView(t, s, "five revisions", func(v *View) bool {
		return len(v.Transcript) == 1 && v.Transcript[0].Content == "xxxxx"
	})

	latest := <-views
	if latest.Version <= first.Version {
		t.Errorf("version %d not newer than %d", latest.Version, first.Version)
	}

	cancel()
	for range views {
	}
	cancel()
}

func TestClose_TearsDownTheSet(t *testing.T) {
	s := newTestSession(t)
	room := &fakeRoom{}
	_ = s.AttachRoom(room)
	_ = s.ParticipantJoined(models.Participant{Identity: "agent-1", Attributes: map[string]string{"state": calendarState}})
	_ = s.ApplySegments(models.RoleUser, []models.Segment{{ID: "u1", Text: "hi", Final: true}})
	waitView(t, s, "populated", func(v *View) bool { return v.State != nil && len(v.Transcript) == 1 })

	views, _ := s.Subscribe()

	s.Close()
	s.Close()

	if room.closed != 1 {
		t.Errorf("room closed %d times, want 1", room.closed)
	}
	v := s.View()
	if len(v.Transcript) != 0 || v.State != nil || v.AgentConnected {
		t.Errorf("view after close = %+v", v)
	}
	if err := s.ApplySegments(models.RoleUser, []models.Segment{{ID: "u2", Text: "late"}}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("ApplySegments after close: %v", err)
	}
	if _, err := s.SendText(context.Background(), "late"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendText after close: %v", err)
	}

	for range views {
	}
	if _, ok := <-views; ok {
		t.Error("subscriber channel still open")
	}
}

func TestOnDisconnected_RecordsLinkError(t *testing.T) {
	s := newTestSession(t)
	s.OnDisconnected(nil)
	if s.LinkError() != nil {
		t.Fatal("clean disconnect recorded an error")
	}
	s.OnDisconnected(errors.New("read: connection reset"))
	if err := s.LinkError(); err == nil || !strings.Contains(err.Error(), "reset") {
		t.Errorf("LinkError = %v", err)
	}
}
