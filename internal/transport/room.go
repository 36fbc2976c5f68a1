package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/observability/logging"
)

// ErrRoomClosed is returned by sends after Close.
var ErrRoomClosed = errors.New("room connection closed")

const writeWait = 5 * time.Second

// Handler receives room events. Calls are made from the room's read goroutine,
// one at a time, in arrival order.
type Handler interface {
	OnJoined(localIdentity string, participants []models.Participant)
	OnParticipantJoined(p models.Participant)
	OnParticipantLeft(identity string)
	OnAttributesChanged(identity string, changed map[string]string)
	OnTranscription(identity string, segments []models.Segment)
	OnTrackPublished(identity string, track *RemoteAudioTrack)
	OnTrackUnpublished(identity, trackSID string)
	OnDisconnected(err error)
}

// RemoteAudioTrack is a remote participant's audio track. Its mute flag is
// updated by the room and can be read from any goroutine.
type RemoteAudioTrack struct {
	SID      string
	Identity string
	Source   string
	muted    atomic.Bool
}

// NewRemoteAudioTrack creates a track handle.
func NewRemoteAudioTrack(sid, identity string, muted bool) *RemoteAudioTrack {
	t := &RemoteAudioTrack{SID: sid, Identity: identity}
	t.muted.Store(muted)
	return t
}

// IsMuted reports the last known mute state.
func (t *RemoteAudioTrack) IsMuted() bool {
	return t.muted.Load()
}

// SetMuted updates the mute state.
func (t *RemoteAudioTrack) SetMuted(muted bool) {
	t.muted.Store(muted)
}

// Room is a live websocket connection to a room.
type Room struct {
	conn    *websocket.Conn
	handler Handler
	logger  zerolog.Logger

	writeMu sync.Mutex
	micOn   atomic.Bool
	closed  atomic.Bool
	done    chan struct{}

	// owned by the read goroutine
	tracks map[string]*RemoteAudioTrack
}

// Dial connects to the room described by creds and starts delivering events
// to handler. microphoneOn is the initial publish state announced to the server.
func Dial(ctx context.Context, creds *Credentials, handler Handler, microphoneOn bool) (*Room, error) {
	u, err := url.Parse(creds.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", creds.ParticipantToken)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial room: %w", err)
	}

	r := &Room{
		conn:    conn,
		handler: handler,
		logger:  logging.WithComponent("room"),
		done:    make(chan struct{}),
		tracks:  make(map[string]*RemoteAudioTrack),
	}
	if err := r.SetMicrophoneEnabled(ctx, microphoneOn); err != nil {
		conn.Close()
		return nil, err
	}

	go r.readLoop()
	r.logger.Info().Str("host", u.Host).Msg("Connected to room")
	return r, nil
}

// SendChat sends a typed message and waits for the write to complete.
func (r *Room) SendChat(ctx context.Context, text string) error {
	return r.write(ctx, Frame{Type: FrameChat, Message: text})
}

// MicrophoneEnabled reports the local publish state.
func (r *Room) MicrophoneEnabled() bool {
	return r.micOn.Load()
}

// SetMicrophoneEnabled asks the server to enable or disable the local microphone.
func (r *Room) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	if err := r.write(ctx, Frame{Type: FrameSetMicrophone, Enabled: &enabled}); err != nil {
		return err
	}
	r.micOn.Store(enabled)
	return nil
}

// Close sends a close frame, closes the socket and waits for the read loop to exit.
func (r *Room) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.writeMu.Lock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = r.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	r.writeMu.Unlock()

	err := r.conn.Close()
	<-r.done
	return err
}

func (r *Room) write(ctx context.Context, f Frame) error {
	if r.closed.Load() {
		return ErrRoomClosed
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = r.conn.SetWriteDeadline(deadline)
	if err := r.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (r *Room) readLoop() {
	defer close(r.done)

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if r.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				r.handler.OnDisconnected(nil)
			} else {
				r.logger.Warn().Err(err).Msg("Room connection lost")
				r.handler.OnDisconnected(err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			r.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Ignoring malformed room frame")
			continue
		}
		r.dispatch(f)
	}
}

func (r *Room) dispatch(f Frame) {
	switch f.Type {
	case FrameRoomJoined:
		r.handler.OnJoined(f.LocalIdentity, f.Participants)
	case FrameParticipantJoined:
		if f.Participant != nil {
			r.handler.OnParticipantJoined(*f.Participant)
		}
	case FrameParticipantLeft:
		for sid, t := range r.tracks {
			if t.Identity == f.Identity {
				delete(r.tracks, sid)
			}
		}
		r.handler.OnParticipantLeft(f.Identity)
	case FrameAttributesChanged:
		r.handler.OnAttributesChanged(f.Identity, f.Attributes)
	case FrameTranscription:
		r.handler.OnTranscription(f.Identity, f.Segments)
	case FrameTrackPublished:
		t := NewRemoteAudioTrack(f.TrackSID, f.Identity, f.Muted)
		t.Source = f.Source
		r.tracks[f.TrackSID] = t
		r.handler.OnTrackPublished(f.Identity, t)
	case FrameTrackUnpublished:
		delete(r.tracks, f.TrackSID)
		r.handler.OnTrackUnpublished(f.Identity, f.TrackSID)
	case FrameTrackMuted, FrameTrackUnmuted:
		if t, ok := r.tracks[f.TrackSID]; ok {
			t.SetMuted(f.Type == FrameTrackMuted)
		}
	default:
		r.logger.Debug().Str("type", f.Type).Msg("Ignoring unknown room frame")
	}
}
