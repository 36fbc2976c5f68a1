package models

import "time"

// Role is the speaker channel a segment or turn belongs to.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

// Segment is one revision of a recognized span of speech. The same ID arrives
// repeatedly while recognition firms up; Final marks the last revision.
type Segment struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Turn is one reconciled entry of the conversation transcript.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	IsFinal   bool      `json:"isFinal"`
}
