// Package models defines the data structures shared by the transcript and state engines.
package models

// Event types carried in the eventType field of transcript and turn events.
const (
	EventTranscriptPartial = "interaction.transcript.partial"
	EventTranscriptFinal   = "interaction.transcript.final"
	EventTurnUpdated       = "conversation.turn.updated"
	EventTurnFinal         = "conversation.turn.final"
)

// TranscriptPartial represents an interim/partial transcript result as published
// by the speech ingress service.
type TranscriptPartial struct {
	EventType     string `json:"eventType"`
	InteractionID string `json:"interactionId"`
	TenantID      string `json:"tenantId"`
	Timestamp     int64  `json:"timestamp"`
	SegmentID     string `json:"segmentId"`
	Text          string `json:"text"`
}

// Segment converts the partial into a non-final recognition segment.
func (p TranscriptPartial) Segment() Segment {
	return Segment{ID: p.SegmentID, Text: p.Text, Final: false}
}

// TranscriptFinal represents a final transcript result with confidence score.
type TranscriptFinal struct {
	EventType     string  `json:"eventType"`
	InteractionID string  `json:"interactionId"`
	TenantID      string  `json:"tenantId"`
	Timestamp     int64   `json:"timestamp"`
	SegmentID     string  `json:"segmentId"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	AudioOffsetMs int64   `json:"audioOffsetMs"`
}

// Segment converts the final transcript into a final recognition segment.
func (f TranscriptFinal) Segment() Segment {
	return Segment{ID: f.SegmentID, Text: f.Text, Final: true}
}

// TurnEvent is published whenever a reconciled turn is created or revised.
type TurnEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Room      string `json:"room"`
	TurnID    string `json:"turnId"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	IsFinal   bool   `json:"isFinal"`
	CreatedAt int64  `json:"createdAt"`
	Timestamp int64  `json:"timestamp"`
}
