package transport

import "voice-agent-dashboard/internal/models"

// Frame types exchanged with the room server.
const (
	FrameRoomJoined        = "room_joined"
	FrameParticipantJoined = "participant_joined"
	FrameParticipantLeft   = "participant_left"
	FrameAttributesChanged = "attributes_changed"
	FrameTranscription     = "transcription"
	FrameTrackPublished    = "track_published"
	FrameTrackUnpublished  = "track_unpublished"
	FrameTrackMuted        = "track_muted"
	FrameTrackUnmuted      = "track_unmuted"

	FrameChat          = "chat"
	FrameSetMicrophone = "set_microphone"
)

// Frame is one JSON message on the room socket. Which fields are set depends on Type.
type Frame struct {
	Type string `json:"type"`

	LocalIdentity string               `json:"localIdentity,omitempty"`
	Participants  []models.Participant `json:"participants,omitempty"`
	Participant   *models.Participant  `json:"participant,omitempty"`

	Identity   string            `json:"identity,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Segments   []models.Segment  `json:"segments,omitempty"`

	TrackSID string `json:"trackSid,omitempty"`
	Source   string `json:"source,omitempty"`
	Muted    bool   `json:"muted,omitempty"`

	Message string `json:"message,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}
