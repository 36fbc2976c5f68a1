package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	grpcapi "voice-agent-dashboard/internal/api/grpc"
	"voice-agent-dashboard/internal/models"
)

const initialState = `{
  "calendarEvents": [
    {"id": "evt-1", "title": "Team standup", "date": "2025-06-02", "day": "Monday", "start_time": "09:00", "end_time": "09:30", "attendees": ["Priya", "Marco"], "moved": false},
    {"id": "evt-2", "title": "Design review", "date": "2025-06-02", "day": "Monday", "start_time": "15:00", "end_time": "16:00", "attendees": ["Lena"], "moved": false}
  ],
  "bookedFlights": [],
  "movedMeetings": []
}`

const movedState = `{
  "calendarEvents": [
    {"id": "evt-1", "title": "Team standup", "date": "2025-06-02", "day": "Monday", "start_time": "09:00", "end_time": "09:30", "attendees": ["Priya", "Marco"], "moved": false},
    {"id": "evt-2", "title": "Design review", "date": "2025-06-03", "day": "Tuesday", "start_time": "10:00", "end_time": "11:00", "attendees": ["Lena"], "moved": true,
     "original_date": "2025-06-02", "original_start_time": "15:00", "original_end_time": "16:00"}
  ],
  "bookedFlights": [],
  "movedMeetings": [
    {"event_id": "evt-2", "title": "Design review", "old": "Mon 15:00", "new": "Tue 10:00", "attendees": ["Lena"]}
  ]
}`

type step struct {
	name string
	run  func(ctx context.Context, c *grpcapi.Client) error
}

func segments(role models.Role, id string, revisions ...string) step {
	return step{
		name: string(role) + " speaks (" + id + ")",
		run: func(ctx context.Context, c *grpcapi.Client) error {
			for i, text := range revisions {
				seg := models.Segment{ID: id, Text: text, Final: i == len(revisions)-1}
				if err := c.PushSegments(ctx, role, []models.Segment{seg}); err != nil {
					return err
				}
				time.Sleep(150 * time.Millisecond)
			}
			return nil
		},
	}
}

func agentAudio(muted bool) step {
	return step{
		name: "agent audio muted=" + strconv.FormatBool(muted),
		run: func(ctx context.Context, c *grpcapi.Client) error {
			return c.PushParticipant(ctx, grpcapi.ParticipantUpdate{Identity: *agentIdentity, AudioMuted: &muted})
		},
	}
}

func agentState(raw string) step {
	return step{
		name: "agent publishes state",
		run: func(ctx context.Context, c *grpcapi.Client) error {
			return c.PushParticipant(ctx, grpcapi.ParticipantUpdate{
				Identity:   *agentIdentity,
				Attributes: map[string]string{"state": raw},
			})
		},
	}
}

var agentIdentity = flag.String("agent", "agent-AJ_demo", "Agent participant identity")

func main() {
	serverAddr := flag.String("server", "localhost:50061", "gRPC server address")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	client, err := grpcapi.Dial(*serverAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer client.Close()

	log.Info().Str("server", *serverAddr).Msg("Connected to server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	script := []step{
		agentState(initialState),
		agentAudio(false),
		segments(models.RoleAgent, "agent-seg-1", "Hi!", "Hi! How can I help", "Hi! How can I help with your calendar?"),
		agentAudio(true),
		segments(models.RoleUser, "user-seg-1", "move my", "move my design review", "Move my design review to tomorrow morning."),
		agentState(movedState),
		agentAudio(false),
		segments(models.RoleAgent, "agent-seg-2", "Done,", "Done, it's now Tuesday at 10."),
		agentAudio(true),
		{
			name: "user types",
			run: func(ctx context.Context, c *grpcapi.Client) error {
				turn, err := c.SendText(ctx, "Thanks, that's all.")
				if err == nil {
					log.Info().Str("turnId", turn.ID).Msg("Typed turn recorded")
				}
				return err
			},
		},
	}

	for _, s := range script {
		log.Info().Msg(s.name)
		if err := s.run(ctx, client); err != nil {
			log.Fatal().Err(err).Str("step", s.name).Msg("step failed")
		}
		time.Sleep(200 * time.Millisecond)
	}

	view, err := client.GetView(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to fetch view")
	}
	log.Info().RawJSON("view", view).Msg("Final view")
}
