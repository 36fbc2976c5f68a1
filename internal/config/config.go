// Package config loads the dashboard client configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Configuration holds all client configuration.
type Configuration struct {
	Service       ServiceConfig
	Session       SessionConfig
	Agent         AgentConfig
	State         StateConfig
	Sampler       SamplerConfig
	Kafka         KafkaConfig
	STT           STTConfig
	SegmentLimits SegmentLimitsConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Name     string
	Env      string
	GRPCPort string
	HTTPPort string
}

// SessionConfig holds room connection settings.
type SessionConfig struct {
	// TokenEndpoint is the credential service URL. Empty selects an ingest-only session.
	TokenEndpoint   string
	RoomName        string
	ParticipantName string
	ConnectTimeout  time.Duration
	AutoConnect     bool
	MicrophoneOn    bool
}

// AgentConfig identifies the agent participant and its state attribute.
type AgentConfig struct {
	IdentityMarker string
	StateAttribute string
}

// StateConfig selects the SessionState variant decoded from the agent.
type StateConfig struct {
	Variant string
}

// SamplerConfig controls the speaking-state poll.
type SamplerConfig struct {
	Interval time.Duration
}

// KafkaConfig holds Kafka publisher and consumer settings.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	Principal       string
	TopicTurnUpdate string
	TopicTurnFinal  string

	ConsumerEnabled      bool
	ConsumerGroup        string
	TopicPartial         string
	TopicFinal           string
	ConsumerRole         string
	ConsumerInteractions []string
}

// STTConfig holds settings for the local speech channel.
type STTConfig struct {
	Provider       string
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
}

// SegmentLimitsConfig bounds a single local STT segment.
type SegmentLimitsConfig struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
	MaxPartials   int
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// Load reads an optional .env file and then the environment.
func Load() *Configuration {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	serviceName := envOrDefault("SERVICE_NAME", "voice-agent-dashboard")

	return &Configuration{
		Service: ServiceConfig{
			Name:     serviceName,
			Env:      envOrDefault("ENV", "prod"),
			GRPCPort: envOrDefault("GRPC_PORT", "50061"),
			HTTPPort: envOrDefault("HTTP_PORT", "8080"),
		},
		Session: SessionConfig{
			TokenEndpoint:   os.Getenv("TOKEN_ENDPOINT"),
			RoomName:        envOrDefault("ROOM_NAME", "voice-assistant-room"),
			ParticipantName: envOrDefault("PARTICIPANT_NAME", "dashboard-user"),
			ConnectTimeout:  envOrDefaultDuration("SESSION_CONNECT_TIMEOUT", 10*time.Second),
			AutoConnect:     envOrDefaultBool("SESSION_AUTO_CONNECT", true),
			MicrophoneOn:    envOrDefaultBool("SESSION_MICROPHONE_ON", true),
		},
		Agent: AgentConfig{
			IdentityMarker: envOrDefault("AGENT_IDENTITY_MARKER", "agent"),
			StateAttribute: envOrDefault("AGENT_STATE_ATTRIBUTE", "state"),
		},
		State: StateConfig{
			Variant: strings.ToLower(envOrDefault("STATE_VARIANT", "calendar")),
		},
		Sampler: SamplerConfig{
			Interval: envOrDefaultDuration("SPEAKING_SAMPLE_INTERVAL", 100*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envOrDefaultList("KAFKA_BROKERS", nil),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", serviceName),
			TopicTurnUpdate: envOrDefault("KAFKA_TOPIC_TURN_UPDATED", "conversation.turn.updated"),
			TopicTurnFinal:  envOrDefault("KAFKA_TOPIC_TURN_FINAL", "conversation.turn.final"),

			ConsumerEnabled:      envOrDefaultBool("KAFKA_CONSUMER_ENABLED", false),
			ConsumerGroup:        envOrDefault("KAFKA_CONSUMER_GROUP", serviceName),
			TopicPartial:         envOrDefault("KAFKA_TOPIC_PARTIAL", "interaction.transcript.partial"),
			TopicFinal:           envOrDefault("KAFKA_TOPIC_FINAL", "interaction.transcript.final"),
			ConsumerRole:         strings.ToLower(envOrDefault("KAFKA_CONSUMER_ROLE", "user")),
			ConsumerInteractions: envOrDefaultList("KAFKA_CONSUMER_INTERACTIONS", nil),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
		},
		SegmentLimits: SegmentLimitsConfig{
			MaxAudioBytes: int64(envOrDefaultInt("SEGMENT_MAX_AUDIO_BYTES", 5*1024*1024)),
			MaxDuration:   envOrDefaultDuration("SEGMENT_MAX_DURATION", 5*time.Minute),
			MaxPartials:   envOrDefaultInt("SEGMENT_MAX_PARTIALS", 500),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// envOrDefaultList splits a comma separated value, dropping blanks.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
