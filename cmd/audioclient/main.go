package main

import (
	"context"
	"encoding/binary"
	"flag"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	grpcapi "voice-agent-dashboard/internal/api/grpc"
	"voice-agent-dashboard/internal/config"
	"voice-agent-dashboard/internal/models"
	"voice-agent-dashboard/internal/service/audio"
	"voice-agent-dashboard/internal/service/segment"
	"voice-agent-dashboard/internal/service/stt"
	"voice-agent-dashboard/internal/service/stt/google"
	"voice-agent-dashboard/internal/service/stt/mock"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// 100ms of 16-bit mono audio at the configured sample rate.
const chunkInterval = 100 * time.Millisecond

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit mono PCM)")
	serverAddr := flag.String("server", "localhost:50061", "gRPC server address")
	role := flag.String("role", "user", "Transcript role for recognized speech (user or agent)")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	cfg := config.Load()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatal().Err(err).Msg("Failed to read WAV header")
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal().Msg("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Info().
		Uint16("format", audioFormat).
		Uint16("channels", numChannels).
		Uint32("sampleRate", sampleRate).
		Uint16("bitsPerSample", bitsPerSample).
		Msg("WAV file")

	if audioFormat != 1 {
		log.Fatal().Msg("Only PCM format supported")
	}
	if int(sampleRate) != cfg.STT.SampleRateHz {
		log.Warn().Uint32("sampleRate", sampleRate).Int("expected", cfg.STT.SampleRateHz).Msg("Sample rate mismatch")
	}

	client, err := grpcapi.Dial(*serverAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	adapter, err := newAdapter(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.STT.Provider).Msg("Failed to create STT adapter")
	}

	sink := func(r models.Role, segs []models.Segment) {
		if err := client.PushSegments(ctx, r, segs); err != nil {
			log.Error().Err(err).Msg("PushSegments failed")
			return
		}
		for _, s := range segs {
			log.Info().Str("segmentId", s.ID).Bool("final", s.Final).Str("text", s.Text).Msg("Segment pushed")
		}
	}

	handler := audio.NewHandlerWithLimits(adapter, sink, segment.New(), models.Role(*role), audio.SegmentLimits{
		MaxAudioBytes: cfg.SegmentLimits.MaxAudioBytes,
		MaxDuration:   cfg.SegmentLimits.MaxDuration,
		MaxPartials:   cfg.SegmentLimits.MaxPartials,
	})
	if err := handler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start STT")
	}

	chunk := make([]byte, int(sampleRate)*int(bitsPerSample/8)*int(numChannels)/10)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read audio")
		}
		chunkNum++
		totalBytes += int64(n)

		if err := handler.SendAudio(ctx, chunk[:n]); err != nil {
			log.Warn().Err(err).Int("chunk", chunkNum).Msg("SendAudio failed")
		}
		if chunkNum%10 == 0 {
			log.Info().Int("chunk", chunkNum).Int64("bytes", totalBytes).Msg("Streaming")
		}
		time.Sleep(chunkInterval)
	}

	log.Info().
		Int("chunks", chunkNum).
		Int64("bytes", totalBytes).
		Dur("elapsed", time.Since(startTime)).
		Msg("Finished streaming, waiting for final transcripts")

	if err := handler.Close(); err != nil {
		log.Warn().Err(err).Msg("Close STT")
	}
	log.Info().Int("utterances", handler.UtteranceCount()).Msg("Stream completed")
}

func newAdapter(ctx context.Context, cfg *config.Configuration) (stt.Adapter, error) {
	switch cfg.STT.Provider {
	case "google":
		return google.New(ctx, google.Config{
			LanguageCode:   cfg.STT.LanguageCode,
			SampleRateHz:   cfg.STT.SampleRateHz,
			InterimResults: cfg.STT.InterimResults,
			AudioEncoding:  cfg.STT.AudioEncoding,
		})
	default:
		return mock.New(), nil
	}
}
