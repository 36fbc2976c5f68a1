package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "voice-agent-dashboard/internal/api/grpc"
	"voice-agent-dashboard/internal/app"
	"voice-agent-dashboard/internal/config"
	"voice-agent-dashboard/internal/events"
	httpapi "voice-agent-dashboard/internal/http"
	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/observability"
	"voice-agent-dashboard/internal/observability/metrics"
	"voice-agent-dashboard/internal/schema"
	"voice-agent-dashboard/internal/session"
	"voice-agent-dashboard/internal/transport"
)

func main() {
	cfg := config.Load()
	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("application start failed")
	}

	variant, err := models.ParseVariant(cfg.State.Variant)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid STATE_VARIANT")
	}

	metricsServer := observability.NewServer(":" + cfg.Observability.MetricsPort)
	metricsServer.Start()

	// Turn updates and finals go to separate topics.
	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicUpdated: cfg.Kafka.TopicTurnUpdate,
		TopicFinal:   cfg.Kafka.TopicTurnFinal,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()

	// Without a token endpoint sessions are fed by gRPC and Kafka only.
	var tokens session.TokenSource
	if cfg.Session.TokenEndpoint != "" {
		tokens = transport.NewTokenClient(cfg.Session.TokenEndpoint, cfg.Session.ConnectTimeout)
	}

	ctrl := session.NewController(session.ControllerConfig{
		Session: session.Config{
			Room:           cfg.Session.RoomName,
			Variant:        variant,
			AgentMarker:    cfg.Agent.IdentityMarker,
			StateAttribute: cfg.Agent.StateAttribute,
			SampleInterval: cfg.Sampler.Interval,
		},
		Participant:    cfg.Session.ParticipantName,
		ConnectTimeout: cfg.Session.ConnectTimeout,
		MicrophoneOn:   cfg.Session.MicrophoneOn,
	}, tokens, metrics.DefaultMetrics, session.WithObservers(publisher))
	defer ctrl.Disconnect()

	if cfg.Session.AutoConnect {
		if _, err := ctrl.Connect(context.Background()); err != nil {
			// Surfaced through /v1/session; the user retries with /v1/session/connect.
			log.Error().Err(err).Msg("initial session connect failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Kafka.ConsumerEnabled {
		consumer := events.NewConsumer(events.ConsumerConfig{
			Brokers:      cfg.Kafka.Brokers,
			GroupID:      cfg.Kafka.ConsumerGroup,
			TopicPartial: cfg.Kafka.TopicPartial,
			TopicFinal:   cfg.Kafka.TopicFinal,
			Role:         models.Role(cfg.Kafka.ConsumerRole),
			Interactions: cfg.Kafka.ConsumerInteractions,
		}, ctrl.ApplySegments)
		consumer.Run(ctx)
		defer consumer.Close()
	}

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("failed to listen")
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(metrics.DefaultMetrics)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	grpcapi.Register(server, ctrl)

	// Reflection lists the services for grpcurl.
	reflection.Register(server)

	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC ingest started")
		if err := server.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("grpc serve failed")
		}
	}()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(application, ctrl, schema.New()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Service.HTTPPort).Msg("HTTP read surface started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	metricsServer.SetReady(true)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	metricsServer.SetReady(false)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	server.GracefulStop()
	cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics shutdown")
	}
	application.Shutdown()
}
