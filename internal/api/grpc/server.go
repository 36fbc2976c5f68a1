// Package grpcapi exposes the running session to external producers: recognition
// pipelines push segments, agent simulators push participants and state, and
// scripted clients send typed messages.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/observability/logging"
	"voice-agent-dashboard/internal/session"
	"voice-agent-dashboard/internal/transport"
)

// SessionProvider returns the running session.
type SessionProvider interface {
	Session() (*session.Session, error)
}

// SegmentsRequest is the PushSegments document.
type SegmentsRequest struct {
	Role     models.Role      `json:"role"`
	Segments []models.Segment `json:"segments"`
}

// ParticipantUpdate is the PushParticipant document. AudioMuted, when set,
// publishes or updates an audio track for the participant.
type ParticipantUpdate struct {
	Identity   string            `json:"identity"`
	Kind       string            `json:"kind,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Left       bool              `json:"left,omitempty"`
	TrackSID   string            `json:"trackSid,omitempty"`
	AudioMuted *bool             `json:"audioMuted,omitempty"`
}

// TextRequest is the SendText document.
type TextRequest struct {
	Text string `json:"text"`
}

// TextResponse is the SendText reply.
type TextResponse struct {
	Turn models.Turn `json:"turn"`
}

// Server implements IngestServer on top of the running session.
type Server struct {
	sessions SessionProvider
	logger   zerolog.Logger

	// tracks holds the synthetic audio tracks of trackSession by identity.
	mu           sync.Mutex
	trackSession string
	tracks       map[string]*transport.RemoteAudioTrack
}

var _ IngestServer = (*Server)(nil)

// NewServer creates the ingest service.
func NewServer(sessions SessionProvider) *Server {
	return &Server{
		sessions: sessions,
		logger:   logging.WithComponent("grpc-ingest"),
		tracks:   make(map[string]*transport.RemoteAudioTrack),
	}
}

// Register creates the ingest service and registers it on g.
func Register(g *grpc.Server, sessions SessionProvider) *Server {
	s := NewServer(sessions)
	g.RegisterService(&ServiceDesc, s)
	return s
}

// PushSegments applies a batch of recognition segments.
func (s *Server) PushSegments(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var in SegmentsRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	sess, err := s.sessions.Session()
	if err != nil {
		return nil, toStatus(err)
	}
	if err := sess.ApplySegments(in.Role, in.Segments); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Debug().
		Str("sessionId", sess.ID()).
		Str("role", string(in.Role)).
		Int("segments", len(in.Segments)).
		Msg("Segments ingested")
	return &emptypb.Empty{}, nil
}

// PushParticipant announces a participant, its attributes and optionally its
// audio track mute state, or its departure.
func (s *Server) PushParticipant(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var in ParticipantUpdate
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	if in.Identity == "" {
		return nil, status.Error(codes.InvalidArgument, "identity is required")
	}
	sess, err := s.sessions.Session()
	if err != nil {
		return nil, toStatus(err)
	}

	if in.Left {
		s.logger.Debug().Str("sessionId", sess.ID()).Str("participant", in.Identity).Msg("Participant left")
		if track := s.takeTrack(sess.ID(), in.Identity); track != nil {
			_ = sess.AudioTrackUnpublished(in.Identity, track.SID)
		}
		return &emptypb.Empty{}, toStatus(sess.ParticipantLeft(in.Identity))
	}

	p := models.Participant{Identity: in.Identity, Kind: in.Kind, Attributes: in.Attributes}
	if err := sess.ParticipantJoined(p); err != nil {
		return nil, toStatus(err)
	}
	if in.AudioMuted != nil {
		track, created := s.track(sess.ID(), in.Identity, in.TrackSID, *in.AudioMuted)
		if created {
			if err := sess.AudioTrackPublished(in.Identity, track.SID, track); err != nil {
				if errors.Is(err, session.ErrSessionClosed) {
					s.dropTracks(sess.ID())
				}
				return nil, toStatus(err)
			}
		}
	}
	return &emptypb.Empty{}, nil
}

// SendText sends a typed message and returns the recorded turn.
func (s *Server) SendText(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in TextRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	sess, err := s.sessions.Session()
	if err != nil {
		return nil, toStatus(err)
	}
	turn, err := sess.SendText(ctx, in.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(TextResponse{Turn: turn})
}

// GetView returns the latest view of the running session.
func (s *Server) GetView(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	sess, err := s.sessions.Session()
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(sess.View())
}

// track returns the synthetic audio track for identity, creating it on first use.
func (s *Server) track(sessionID, identity, sid string, muted bool) (*transport.RemoteAudioTrack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracks := s.tracksLocked(sessionID)
	if t, ok := tracks[identity]; ok {
		t.SetMuted(muted)
		return t, false
	}
	if sid == "" {
		sid = "TR_" + identity
	}
	t := transport.NewRemoteAudioTrack(sid, identity, muted)
	tracks[identity] = t
	return t, true
}

func (s *Server) takeTrack(sessionID, identity string) *transport.RemoteAudioTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracks := s.tracksLocked(sessionID)
	t := tracks[identity]
	delete(tracks, identity)
	return t
}

// tracksLocked returns the track set of sessionID. Tracks of any earlier
// session are discarded.
func (s *Server) tracksLocked(sessionID string) map[string]*transport.RemoteAudioTrack {
	if s.trackSession != sessionID {
		s.trackSession = sessionID
		s.tracks = make(map[string]*transport.RemoteAudioTrack)
	}
	return s.tracks
}

func (s *Server) dropTracks(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackSession == sessionID {
		s.tracks = make(map[string]*transport.RemoteAudioTrack)
	}
}

// toStatus maps session errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotConnected):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrSendFailed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, session.ErrEmptyMessage), errors.Is(err, session.ErrInvalidRole):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func fromStruct(in *structpb.Struct, dst any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
