package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"voice-agent-dashboard/internal/models"
)

// ErrNotObject is returned when a broadcast is valid JSON but not an object.
var ErrNotObject = errors.New("session state is not a JSON object")

// FieldWarning describes a field that was defaulted because its value had the
// wrong shape. The snapshot is still applied.
type FieldWarning struct {
	Field  string
	Reason string
}

func (w FieldWarning) String() string {
	return w.Field + ": " + w.Reason
}

// Decoder turns a raw broadcast into a SessionState of one variant.
type Decoder interface {
	Variant() models.Variant
	Decode(raw []byte) (*models.SessionState, []FieldWarning, error)
}

// DecoderFor returns the decoder for v.
func DecoderFor(v models.Variant) (Decoder, error) {
	switch v {
	case models.VariantCalendar:
		return calendarDecoder{}, nil
	case models.VariantHealth:
		return healthDecoder{}, nil
	case models.VariantGeneric:
		return genericDecoder{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownVariant, v)
	}
}

// fields splits a top-level JSON object into its raw members.
func fields(raw []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		var probe any
		return nil, json.Unmarshal(trimmed, &probe)
	}
	if trimmed[0] != '{' {
		return nil, ErrNotObject
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fieldDecoder accumulates warnings while pulling typed members out of an object.
// Nested decoders carry the path of their parent element in prefix.
type fieldDecoder struct {
	obj      map[string]json.RawMessage
	prefix   string
	warnings []FieldWarning
}

func (d *fieldDecoder) warn(field string, err error) {
	d.warnings = append(d.warnings, FieldWarning{Field: d.prefix + field, Reason: err.Error()})
}

// value decodes a scalar or object member into dst. Missing and null members
// leave dst untouched.
func (d *fieldDecoder) value(field string, dst any) {
	raw, ok := d.obj[field]
	if !ok || isNull(raw) {
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		d.warn(field, err)
	}
}

// elements returns the raw elements of an array member. A missing or null
// member yields none; a member that is not an array yields none and a warning.
func (d *fieldDecoder) elements(field string) []json.RawMessage {
	raw, ok := d.obj[field]
	if !ok || isNull(raw) {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		d.warn(field, fmt.Errorf("expected array"))
		return nil
	}
	return elems
}

// list decodes an array of scalars element by element. An element of the
// wrong shape is skipped.
func list[T any](d *fieldDecoder, field string) []T {
	out := []T{}
	for i, elem := range d.elements(field) {
		var v T
		if err := json.Unmarshal(elem, &v); err != nil {
			d.warn(fmt.Sprintf("%s[%d]", field, i), err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// objects decodes an array of objects, handing each element to decode with a
// decoder scoped to it, so a bad member defaults on its own. Elements that are
// not objects are skipped.
func objects[T any](d *fieldDecoder, field string, decode func(*fieldDecoder) T) []T {
	out := []T{}
	for i, elem := range d.elements(field) {
		path := fmt.Sprintf("%s[%d]", field, i)
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(elem, &obj); err != nil || obj == nil {
			d.warn(path, ErrNotObject)
			continue
		}
		child := &fieldDecoder{obj: obj, prefix: d.prefix + path + "."}
		out = append(out, decode(child))
		d.warnings = append(d.warnings, child.warnings...)
	}
	return out
}

func calendarEvent(d *fieldDecoder) models.CalendarEvent {
	var e models.CalendarEvent
	d.value("id", &e.ID)
	d.value("title", &e.Title)
	d.value("date", &e.Date)
	d.value("day", &e.Day)
	d.value("start_time", &e.StartTime)
	d.value("end_time", &e.EndTime)
	e.Attendees = list[string](d, "attendees")
	d.value("moved", &e.Moved)
	d.value("type", &e.Type)
	d.value("original_date", &e.OriginalDate)
	d.value("original_start_time", &e.OriginalStartTime)
	d.value("original_end_time", &e.OriginalEndTime)
	return e
}

func bookedFlight(d *fieldDecoder) models.BookedFlight {
	var f models.BookedFlight
	d.value("id", &f.ID)
	d.value("airline", &f.Airline)
	d.value("route", &f.Route)
	d.value("departure_date", &f.DepartureDate)
	d.value("departure_time", &f.DepartureTime)
	d.value("arrival_time", &f.ArrivalTime)
	d.value("price", &f.Price)
	return f
}

func movedMeeting(d *fieldDecoder) models.MovedMeeting {
	var m models.MovedMeeting
	d.value("event_id", &m.EventID)
	d.value("title", &m.Title)
	d.value("old", &m.Old)
	d.value("new", &m.New)
	m.Attendees = list[string](d, "attendees")
	return m
}

func medication(d *fieldDecoder) models.Medication {
	var m models.Medication
	d.value("name", &m.Name)
	d.value("dosage", &m.Dosage)
	d.value("frequency", &m.Frequency)
	d.value("status", &m.Status)
	return m
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

type calendarDecoder struct{}

func (calendarDecoder) Variant() models.Variant { return models.VariantCalendar }

func (calendarDecoder) Decode(raw []byte) (*models.SessionState, []FieldWarning, error) {
	obj, err := fields(raw)
	if err != nil {
		return nil, nil, err
	}
	d := &fieldDecoder{obj: obj}
	cal := &models.CalendarState{
		CalendarEvents: objects(d, "calendarEvents", calendarEvent),
		BookedFlights:  objects(d, "bookedFlights", bookedFlight),
		MovedMeetings:  objects(d, "movedMeetings", movedMeeting),
	}
	cal.Normalize()
	return &models.SessionState{Variant: models.VariantCalendar, Calendar: cal}, d.warnings, nil
}

type healthDecoder struct{}

func (healthDecoder) Variant() models.Variant { return models.VariantHealth }

func (healthDecoder) Decode(raw []byte) (*models.SessionState, []FieldWarning, error) {
	obj, err := fields(raw)
	if err != nil {
		return nil, nil, err
	}
	d := &fieldDecoder{obj: obj}
	h := &models.HealthState{
		Medications:    objects(d, "medications", medication),
		Allergies:      list[string](d, "allergies"),
		CompletedSteps: list[string](d, "completedSteps"),
	}
	d.value("consented", &h.Consented)
	d.value("currentStep", &h.CurrentStep)
	d.value("transferRequested", &h.TransferRequested)

	if raw, ok := obj["patient"]; ok && !isNull(raw) {
		var p models.Patient
		if err := json.Unmarshal(raw, &p); err != nil {
			d.warn("patient", err)
		} else {
			h.Patient = &p
		}
	}
	h.Normalize()
	return &models.SessionState{Variant: models.VariantHealth, Health: h}, d.warnings, nil
}

type genericDecoder struct{}

func (genericDecoder) Variant() models.Variant { return models.VariantGeneric }

func (genericDecoder) Decode(raw []byte) (*models.SessionState, []FieldWarning, error) {
	if _, err := fields(raw); err != nil {
		return nil, nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(bytes.TrimSpace(raw), s); err != nil {
		return nil, nil, err
	}
	return &models.SessionState{Variant: models.VariantGeneric, Generic: s}, nil, nil
}
