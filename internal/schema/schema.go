// Package schema publishes the JSON Schema of the SessionState document each
// variant expects in the agent's state attribute.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"voice-agent-dashboard/internal/models"
)

// Registry builds and caches the schema of each variant.
type Registry struct {
	mu    sync.Mutex
	cache map[models.Variant]*jsonschema.Schema
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{cache: make(map[models.Variant]*jsonschema.Schema)}
}

// Schema returns the schema for v.
func (r *Registry) Schema(v models.Variant) (*jsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.cache[v]; ok {
		return s, nil
	}
	s, err := build(v)
	if err != nil {
		return nil, err
	}
	r.cache[v] = s
	return s, nil
}

// JSON returns the schema for v as an indented document.
func (r *Registry) JSON(v models.Variant) ([]byte, error) {
	s, err := r.Schema(v)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(s, "", "  ")
}

func build(v models.Variant) (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}

	var s *jsonschema.Schema
	switch v {
	case models.VariantCalendar:
		s = reflector.Reflect(&models.CalendarState{})
		s.Title = "Calendar assistant session state"
	case models.VariantHealth:
		s = reflector.Reflect(&models.HealthState{})
		s.Title = "Patient intake session state"
	case models.VariantGeneric:
		s = &jsonschema.Schema{
			Version:              jsonschema.Version,
			Type:                 "object",
			Title:                "Generic session state",
			AdditionalProperties: jsonschema.TrueSchema,
		}
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownVariant, v)
	}
	s.Description = fmt.Sprintf("Document published by the agent in its state attribute (%s variant)", v)
	return s, nil
}
