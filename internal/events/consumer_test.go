package events

import (
	"errors"
	"testing"

	"voice-agent-dashboard/internal/models"
)

func TestConsumer_Handle(t *testing.T) {
	cfg := ConsumerConfig{
		TopicPartial: "interaction.transcript.partial",
		TopicFinal:   "interaction.transcript.final",
		Role:         models.RoleUser,
	}

	tests := []struct {
		name    string
		topic   string
		value   string
		want    *models.Segment
		wantErr bool
	}{
		{
			name:  "partial",
			topic: cfg.TopicPartial,
			value: `{"eventType":"interaction.transcript.partial","interactionId":"int-1","segmentId":"int-1-seg-1","text":"I want"}`,
			want:  &models.Segment{ID: "int-1-seg-1", Text: "I want"},
		},
		{
			name:  "final",
			topic: cfg.TopicFinal,
			value: `{"eventType":"interaction.transcript.final","interactionId":"int-1","segmentId":"int-1-seg-1","text":"I want to fly","confidence":0.93}`,
			want:  &models.Segment{ID: "int-1-seg-1", Text: "I want to fly", Final: true},
		},
		{
			name:    "malformed",
			topic:   cfg.TopicFinal,
			value:   `{"segmentId":`,
			wantErr: true,
		},
		{
			name:    "missing segment id",
			topic:   cfg.TopicPartial,
			value:   `{"text":"orphan"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []models.Segment
			var gotRole models.Role
			c := NewConsumer(cfg, func(role models.Role, segs []models.Segment) error {
				gotRole = role
				got = append(got, segs...)
				return nil
			})

			err := c.Handle(tt.topic, []byte(tt.value))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.want == nil {
				if len(got) != 0 {
					t.Errorf("unexpected segments %+v", got)
				}
				return
			}
			if len(got) != 1 || got[0] != *tt.want {
				t.Errorf("segments = %+v, want %+v", got, *tt.want)
			}
			if gotRole != models.RoleUser {
				t.Errorf("role = %s, want user", gotRole)
			}
		})
	}
}

func TestConsumer_InteractionFilter(t *testing.T) {
	calls := 0
	c := NewConsumer(ConsumerConfig{
		TopicPartial: "p",
		TopicFinal:   "f",
		Role:         models.RoleUser,
		Interactions: []string{"int-keep"},
	}, func(models.Role, []models.Segment) error {
		calls++
		return nil
	})

	c.Handle("p", []byte(`{"interactionId":"int-skip","segmentId":"s1","text":"x"}`))
	c.Handle("p", []byte(`{"interactionId":"int-keep","segmentId":"s2","text":"y"}`))

	if calls != 1 {
		t.Errorf("sink calls = %d, want 1", calls)
	}
}

func TestConsumer_SinkErrorReturned(t *testing.T) {
	boom := errors.New("not connected")
	c := NewConsumer(ConsumerConfig{TopicPartial: "p", TopicFinal: "f"}, func(models.Role, []models.Segment) error {
		return boom
	})

	if err := c.Handle("p", []byte(`{"segmentId":"s1","text":"x"}`)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
