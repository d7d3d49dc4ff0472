package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/amohajerani/call-center/config"
	"github.com/amohajerani/call-center/member"
	"github.com/amohajerani/call-center/server"
	"github.com/amohajerani/call-center/tts"
)

func main() {
	// Load .env if present
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctrl := server.NewTwilioController(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber)

	ttsClient, err := tts.NewClient(tts.Config{
		APIKey:  cfg.TTS.APIKey,
		VoiceID: cfg.TTS.VoiceID,
		ModelID: cfg.TTS.ModelID,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to build synthesis client", "error", err)
		os.Exit(1)
	}

	members := member.NewDirectory(map[string]member.Record{
		"857-222-9469": {
			Name:      "John Doe",
			LastVisit: "2024-01-15",
			NextVisit: "2024-07-15",
		},
	})

	srv := server.New(cfg, ctrl, ttsClient, members, logger)
	if err := srv.Listen(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
