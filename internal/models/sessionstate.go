package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Variant selects which SessionState shape a deployment broadcasts.
type Variant string

const (
	VariantCalendar Variant = "calendar"
	VariantHealth   Variant = "health"
	VariantGeneric  Variant = "generic"
)

// ErrUnknownVariant is returned when a variant name is not recognised.
var ErrUnknownVariant = errors.New("unknown session state variant")

// ParseVariant parses a variant name case-insensitively.
func ParseVariant(name string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(name))); v {
	case VariantCalendar, VariantHealth, VariantGeneric:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
}

// SessionState is the materialized snapshot broadcast by the agent. Exactly one
// of the variant payloads is set, matching Variant.
//
// A snapshot is always a complete replacement of the previous one; there is no
// delta or patch protocol.
type SessionState struct {
	Variant  Variant
	Calendar *CalendarState
	Health   *HealthState
	Generic  *structpb.Struct
}

// MarshalJSON renders the variant payload as the document the agent sent.
func (s *SessionState) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	switch s.Variant {
	case VariantCalendar:
		return json.Marshal(s.Calendar)
	case VariantHealth:
		return json.Marshal(s.Health)
	case VariantGeneric:
		if s.Generic == nil {
			return []byte("{}"), nil
		}
		return protojson.Marshal(s.Generic)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, s.Variant)
	}
}

// CalendarState is the calendar/travel assistant's dashboard state.
type CalendarState struct {
	CalendarEvents []CalendarEvent `json:"calendarEvents"`
	BookedFlights  []BookedFlight  `json:"bookedFlights"`
	MovedMeetings  []MovedMeeting  `json:"movedMeetings"`
}

// CalendarEvent is one entry on the user's calendar, including travel blocks
// added when a flight is booked.
type CalendarEvent struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Date              string   `json:"date"`
	Day               string   `json:"day"`
	StartTime         string   `json:"start_time"`
	EndTime           string   `json:"end_time"`
	Attendees         []string `json:"attendees"`
	Moved             bool     `json:"moved"`
	Type              string   `json:"type,omitempty"`
	OriginalDate      string   `json:"original_date,omitempty"`
	OriginalStartTime string   `json:"original_start_time,omitempty"`
	OriginalEndTime   string   `json:"original_end_time,omitempty"`
}

// BookedFlight is a flight the agent booked during the session.
type BookedFlight struct {
	ID            string `json:"id"`
	Airline       string `json:"airline"`
	Route         string `json:"route"`
	DepartureDate string `json:"departure_date"`
	DepartureTime string `json:"departure_time"`
	ArrivalTime   string `json:"arrival_time"`
	Price         string `json:"price"`
}

// MovedMeeting records a meeting the agent rescheduled.
type MovedMeeting struct {
	EventID   string   `json:"event_id"`
	Title     string   `json:"title"`
	Old       string   `json:"old"`
	New       string   `json:"new"`
	Attendees []string `json:"attendees"`
}

// Normalize replaces absent lists with empty ones.
func (c *CalendarState) Normalize() {
	c.CalendarEvents = orEmpty(c.CalendarEvents)
	c.BookedFlights = orEmpty(c.BookedFlights)
	c.MovedMeetings = orEmpty(c.MovedMeetings)
	for i := range c.CalendarEvents {
		c.CalendarEvents[i].Attendees = orEmpty(c.CalendarEvents[i].Attendees)
	}
	for i := range c.MovedMeetings {
		c.MovedMeetings[i].Attendees = orEmpty(c.MovedMeetings[i].Attendees)
	}
}

// HealthState is the patient intake assistant's dashboard state.
type HealthState struct {
	Consented         bool         `json:"consented"`
	Patient           *Patient     `json:"patient,omitempty"`
	Medications       []Medication `json:"medications"`
	Allergies         []string     `json:"allergies"`
	CurrentStep       string       `json:"currentStep,omitempty"`
	CompletedSteps    []string     `json:"completedSteps"`
	TransferRequested bool         `json:"transferRequested,omitempty"`
}

// Patient identifies the caller once the agent has verified them.
type Patient struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Verified    bool   `json:"verified"`
}

// Medication is one medication the patient reported or the agent reviewed.
type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Normalize replaces absent lists with empty ones.
func (h *HealthState) Normalize() {
	h.Medications = orEmpty(h.Medications)
	h.Allergies = orEmpty(h.Allergies)
	h.CompletedSteps = orEmpty(h.CompletedSteps)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
