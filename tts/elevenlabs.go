// Package tts streams synthesized speech from ElevenLabs as ordered
// audio chunks with playback-duration estimates.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/amohajerani/call-center/metrics"
)

// Twilio media streams carry mu-law mono at 8 kHz, one byte per sample.
const (
	SampleRate     = 8000
	BytesPerSample = 1
)

const defaultBaseURL = "https://api.elevenlabs.io"

// ErrNoAudio is returned when the backend accepted a request but
// produced no audio at all. Callers gate capture on playback having
// happened, so an empty sequence must be distinguishable from success.
var ErrNoAudio = errors.New("tts: no audio produced")

// Chunk is one ordered unit of synthesized audio. Duration is the
// estimated playback time of the chunk at the fixed output encoding.
type Chunk struct {
	Audio    []byte
	Duration time.Duration
}

// SpeechStream is a finite, non-restartable sequence of audio chunks.
// Next returns io.EOF after the last chunk.
type SpeechStream interface {
	Next() (Chunk, error)
	Close() error
}

// Config configures the ElevenLabs client.
type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string // defaults to the ElevenLabs API
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client calls the ElevenLabs streaming synthesis endpoint. Safe for
// concurrent use across call sessions.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient validates the configuration and returns a synthesis client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("tts: api key is required")
	}
	if cfg.VoiceID == "" {
		return nil, errors.New("tts: voice id is required")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        cfg.Logger.With("component", "tts"),
	}, nil
}

// Synthesize requests speech for text and returns the chunk stream. The
// request body is the mu-law 8 kHz format Twilio plays back directly.
func (c *Client) Synthesize(ctx context.Context, text string) (SpeechStream, error) {
	if text == "" {
		return nil, errors.New("tts: empty text")
	}
	metrics.SynthesisRequests.Inc()

	base, err := url.Parse(fmt.Sprintf("%s/v1/text-to-speech/%s/stream/with-timestamps", c.cfg.BaseURL, c.cfg.VoiceID))
	if err != nil {
		return nil, errors.Wrap(err, "tts: endpoint url")
	}
	q := base.Query()
	q.Set("output_format", "ulaw_8000")
	base.RawQuery = q.Encode()

	payload := map[string]interface{}{
		"text":     text,
		"model_id": c.cfg.ModelID,
		"voice_settings": map[string]float64{
			"stability":        0.75,
			"similarity_boost": 0.7,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "tts: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "tts: build request")
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SynthesisFailures.Inc()
		return nil, errors.Wrap(err, "tts: request")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		metrics.SynthesisFailures.Inc()
		return nil, errors.Errorf("tts: bad status %s: %s", resp.Status, msg)
	}

	return &speechStream{
		body: resp.Body,
		dec:  json.NewDecoder(resp.Body),
	}, nil
}

// speechStream lazily decodes the chunked JSON body. The endpoint
// returns one JSON object per audio chunk.
type speechStream struct {
	body    io.ReadCloser
	dec     *json.Decoder
	emitted int
	done    bool
}

func (s *speechStream) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	for {
		var frame struct {
			AudioBase64 string `json:"audio_base64"`
		}
		if err := s.dec.Decode(&frame); err != nil {
			s.done = true
			s.body.Close()
			if err == io.EOF {
				if s.emitted == 0 {
					metrics.SynthesisFailures.Inc()
					return Chunk{}, ErrNoAudio
				}
				return Chunk{}, io.EOF
			}
			return Chunk{}, errors.Wrap(err, "tts: decode chunk")
		}
		if frame.AudioBase64 == "" {
			continue
		}
		audio, err := base64.StdEncoding.DecodeString(frame.AudioBase64)
		if err != nil {
			s.done = true
			s.body.Close()
			return Chunk{}, errors.Wrap(err, "tts: decode audio")
		}
		if len(audio) == 0 {
			continue
		}
		s.emitted++
		return Chunk{Audio: audio, Duration: ChunkDuration(len(audio))}, nil
	}
}

func (s *speechStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.body.Close()
}

// ChunkDuration estimates playback time for n encoded bytes at the
// fixed output sample rate.
func ChunkDuration(n int) time.Duration {
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / SampleRate
}
