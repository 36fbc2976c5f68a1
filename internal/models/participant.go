package models

import "strings"

// KindAgent is the participant capability flag set by agent workers.
const KindAgent = "agent"

// Participant is a remote or local member of the room as reported by the transport.
type Participant struct {
	Identity   string            `json:"identity"`
	Kind       string            `json:"kind,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// IsAgent reports whether the participant claims the agent role, either through
// the capability flag or by carrying marker in its identity.
func (p Participant) IsAgent(marker string) bool {
	if strings.EqualFold(p.Kind, KindAgent) {
		return true
	}
	if marker == "" {
		return false
	}
	return strings.Contains(strings.ToLower(p.Identity), strings.ToLower(marker))
}
