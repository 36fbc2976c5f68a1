package session

import (
	"time"

	"voice-agent-dashboard/internal/models"
)

// View is an immutable snapshot of everything the presentation layer renders.
// A new View is published after every event that changes it.
type View struct {
	SessionID         string               `json:"sessionId"`
	Room              string               `json:"room"`
	Variant           models.Variant       `json:"variant"`
	Transcript        []models.Turn        `json:"transcript"`
	State             *models.SessionState `json:"state"`
	AgentConnected    bool                 `json:"agentConnected"`
	AgentIdentity     string               `json:"agentIdentity,omitempty"`
	AgentSpeaking     bool                 `json:"agentSpeaking"`
	MicrophoneEnabled bool                 `json:"microphoneEnabled"`
	Version           uint64               `json:"version"`
	UpdatedAt         time.Time            `json:"updatedAt"`
}

// StateView is the dashboard panel model: the snapshot when an agent is
// present, otherwise a placeholder.
type StateView struct {
	Connected bool                 `json:"connected"`
	Variant   models.Variant       `json:"variant"`
	State     *models.SessionState `json:"state"`
}

// StateView returns the dashboard panel model of v.
func (v *View) StateView() StateView {
	return StateView{
		Connected: v.AgentConnected,
		Variant:   v.Variant,
		State:     v.State,
	}
}
