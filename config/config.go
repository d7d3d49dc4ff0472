// Package config centralizes environment-backed configuration for the
// call-center service. All values are read once at startup and validated
// before any client is constructed.
package config

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Config is the complete service configuration.
type Config struct {
	Server ServerConfig
	Twilio TwilioConfig
	STT    STTConfig
	TTS    TTSConfig
	Agent  AgentConfig
	Log    LogConfig
}

// ServerConfig configures the HTTP/websocket server.
type ServerConfig struct {
	Port       int
	RemoteHost string // public hostname Twilio dials back to (no scheme)
}

// TwilioConfig holds the Twilio REST credentials and caller identity.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// STTConfig configures the Deepgram live transcription channel.
type STTConfig struct {
	APIKey string
}

// TTSConfig configures the ElevenLabs synthesis channel.
type TTSConfig struct {
	APIKey  string
	VoiceID string
	ModelID string
}

// AgentConfig configures the automated speaker role. When URL is set the
// HTTP responder is used; otherwise the OpenAI responder.
type AgentConfig struct {
	URL          string
	OpenAIAPIKey string
	OpenAIModel  string
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	port := 8080
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid PORT %q", v)
		}
		port = p
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:       port,
			RemoteHost: os.Getenv("REMOTE_HOST"),
		},
		Twilio: TwilioConfig{
			AccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
			FromNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
		},
		STT: STTConfig{
			APIKey: os.Getenv("DEEPGRAM_API_KEY"),
		},
		TTS: TTSConfig{
			APIKey:  envOr("ELEVENLABS_KEY", ""),
			VoiceID: envOr("ELEVENLABS_VOICE_ID", "Rachel"),
			ModelID: envOr("ELEVENLABS_MODEL_ID", "eleven_turbo_v2"),
		},
		Agent: AgentConfig{
			URL:          envOr("AGENT_URL", "http://localhost:5001/run_agent"),
			OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
			OpenAIModel:  envOr("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "text"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every required setting is present.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return errors.Wrap(err, "server config")
	}
	if err := c.Twilio.Validate(); err != nil {
		return errors.Wrap(err, "twilio config")
	}
	if c.STT.APIKey == "" {
		return errors.New("stt config: DEEPGRAM_API_KEY must be set")
	}
	if err := c.TTS.Validate(); err != nil {
		return errors.Wrap(err, "tts config")
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.RemoteHost == "" {
		return errors.New("REMOTE_HOST must be set")
	}
	return nil
}

func (c *TwilioConfig) Validate() error {
	if c.AccountSID == "" || c.AuthToken == "" || c.FromNumber == "" {
		return errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER must be set")
	}
	return nil
}

func (c *TTSConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("ELEVENLABS_KEY must be set")
	}
	if c.VoiceID == "" {
		return errors.New("voice id cannot be empty")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
