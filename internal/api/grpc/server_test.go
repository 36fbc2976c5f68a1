package grpcapi

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/observability"
	"voice-agent-dashboard/internal/observability/metrics"
	"voice-agent-dashboard/internal/session"
)

func startServer(t *testing.T) (*Client, *session.Controller, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	ctrl := session.NewController(session.ControllerConfig{
		Session: session.Config{Room: "room-1", Variant: models.VariantCalendar, SampleInterval: 5 * time.Millisecond},
	}, nil, m)
	t.Cleanup(ctrl.Disconnect)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)))
	Register(srv, ctrl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, ctrl, m
}

func viewOf(t *testing.T, c *Client) session.View {
	t.Helper()
	raw, err := c.GetView(context.Background())
	if err != nil {
		t.Fatalf("GetView: %v", err)
	}
	var v session.View
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return v
}

func waitFor(t *testing.T, c *Client, what string, cond func(v session.View) bool) session.View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var v session.View
	for time.Now().Before(deadline) {
		v = viewOf(t, c)
		if cond(v) {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last view %+v", what, v)
	return v
}

func TestIngest_NotConnected(t *testing.T) {
	client, _, _ := startServer(t)

	err := client.PushSegments(context.Background(), models.RoleUser, []models.Segment{{ID: "u1", Text: "hi"}})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("PushSegments code = %v, want FailedPrecondition", status.Code(err))
	}
	if _, err := client.GetView(context.Background()); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("GetView code = %v, want FailedPrecondition", status.Code(err))
	}
}

func TestIngest_SegmentsStateAndText(t *testing.T) {
	client, ctrl, m := startServer(t)
	if _, err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ctx := context.Background()

	err := client.PushParticipant(ctx, ParticipantUpdate{
		Identity:   "agent-1",
		Attributes: map[string]string{"state": `{"calendarEvents":[{"id":"e1","title":"Standup"}]}`},
	})
	if err != nil {
		t.Fatalf("PushParticipant: %v", err)
	}
	if err := client.PushSegments(ctx, models.RoleAgent, []models.Segment{{ID: "a1", Text: "You have a standup", Final: true}}); err != nil {
		t.Fatalf("PushSegments: %v", err)
	}

	v := waitFor(t, client, "agent turn and state", func(v session.View) bool {
		return v.AgentConnected && len(v.Transcript) == 1
	})
	if v.Transcript[0].Role != models.RoleAgent {
		t.Errorf("role = %s", v.Transcript[0].Role)
	}

	turn, err := client.SendText(ctx, "move it to 10")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if turn.Role != models.RoleUser || !turn.IsFinal || turn.Content != "move it to 10" {
		t.Errorf("turn = %+v", turn)
	}

	if got := testutil.ToFloat64(m.GRPCCallsTotal.WithLabelValues(MethodSendText, "OK")); got != 1 {
		t.Errorf("grpc calls{SendText,OK} = %v, want 1", got)
	}
}

func TestIngest_AudioMutedDrivesSpeaking(t *testing.T) {
	client, ctrl, _ := startServer(t)
	if _, err := ctrl.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	unmuted, muted := false, true

	if err := client.PushParticipant(ctx, ParticipantUpdate{Identity: "agent-1", AudioMuted: &unmuted}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, client, "speaking", func(v session.View) bool { return v.AgentSpeaking })

	if err := client.PushParticipant(ctx, ParticipantUpdate{Identity: "agent-1", AudioMuted: &muted}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, client, "silent", func(v session.View) bool { return !v.AgentSpeaking })

	if err := client.PushParticipant(ctx, ParticipantUpdate{Identity: "agent-1", Left: true}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, client, "agent gone", func(v session.View) bool { return !v.AgentConnected })
}

func (s *Server) trackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracks)
}

func TestServer_TracksFollowTheSession(t *testing.T) {
	ctrl := session.NewController(session.ControllerConfig{
		Session: session.Config{Room: "room-1", Variant: models.VariantCalendar, SampleInterval: 5 * time.Millisecond},
	}, nil, metrics.NewMetricsWith(prometheus.NewRegistry()))
	t.Cleanup(ctrl.Disconnect)
	srv := NewServer(ctrl)
	ctx := context.Background()
	unmuted := false

	push := func(identity string) {
		t.Helper()
		req, err := toStruct(ParticipantUpdate{Identity: identity, AudioMuted: &unmuted})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := srv.PushParticipant(ctx, req); err != nil {
			t.Fatalf("PushParticipant(%s): %v", identity, err)
		}
	}

	if _, err := ctrl.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	push("agent-1")
	push("user-1")
	if n := srv.trackCount(); n != 2 {
		t.Fatalf("tracks = %d, want 2", n)
	}

	for i := 0; i < 3; i++ {
		if _, err := ctrl.Reconnect(ctx); err != nil {
			t.Fatal(err)
		}
		push("agent-1")
		if n := srv.trackCount(); n != 1 {
			t.Fatalf("reconnect %d: tracks = %d, want 1", i, n)
		}
	}

	sess, err := ctrl.Session()
	if err != nil {
		t.Fatal(err)
	}
	if srv.takeTrack(sess.ID(), "agent-1") == nil {
		t.Error("current session track missing")
	}
	if srv.trackCount() != 0 {
		t.Errorf("tracks = %d after the last one left", srv.trackCount())
	}
}

func TestIngest_InvalidArguments(t *testing.T) {
	client, ctrl, _ := startServer(t)
	if _, err := ctrl.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"blank text", func() error { _, err := client.SendText(ctx, "  "); return err }},
		{"unknown role", func() error {
			return client.PushSegments(ctx, "narrator", []models.Segment{{ID: "x", Text: "hi"}})
		}},
		{"missing identity", func() error { return client.PushParticipant(ctx, ParticipantUpdate{}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := status.Code(tt.call()); code != codes.InvalidArgument {
				t.Errorf("code = %v, want InvalidArgument", code)
			}
		})
	}
}
