package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080, RemoteHost: "example.ngrok-free.app"},
		Twilio: TwilioConfig{
			AccountSID: "AC123",
			AuthToken:  "token",
			FromNumber: "+15555550100",
		},
		STT: STTConfig{APIKey: "dg-key"},
		TTS: TTSConfig{APIKey: "el-key", VoiceID: "Rachel", ModelID: "eleven_turbo_v2"},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:     "invalid port",
			mutate:   func(c *Config) { c.Server.Port = 0 },
			errorMsg: "port must be between",
		},
		{
			name:     "missing remote host",
			mutate:   func(c *Config) { c.Server.RemoteHost = "" },
			errorMsg: "REMOTE_HOST",
		},
		{
			name:     "missing twilio credentials",
			mutate:   func(c *Config) { c.Twilio.AuthToken = "" },
			errorMsg: "TWILIO_ACCOUNT_SID",
		},
		{
			name:     "missing deepgram key",
			mutate:   func(c *Config) { c.STT.APIKey = "" },
			errorMsg: "DEEPGRAM_API_KEY",
		},
		{
			name:     "missing elevenlabs key",
			mutate:   func(c *Config) { c.TTS.APIKey = "" },
			errorMsg: "ELEVENLABS_KEY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Fatalf("expected valid config, got error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REMOTE_HOST", "example.ngrok-free.app")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15555550100")
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("ELEVENLABS_KEY", "el-key")
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.TTS.VoiceID != "Rachel" {
		t.Errorf("expected default voice Rachel, got %s", cfg.TTS.VoiceID)
	}
	if cfg.Agent.URL != "http://localhost:5001/run_agent" {
		t.Errorf("unexpected default agent url: %s", cfg.Agent.URL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Log.Level)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric PORT")
	}
}
