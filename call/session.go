// Package call owns one physical call's duplex media stream: it demuxes
// the Twilio event stream, routes inbound audio to transcription, and
// plays synthesized speech back out while gating capture against echo.
package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/amohajerani/call-center/metrics"
	"github.com/amohajerani/call-center/tts"
)

// ErrSessionEnded is returned by session operations invoked after
// teardown. Callers must never block on a dead session.
var ErrSessionEnded = errors.New("call: session ended")

// ErrNoStream is returned by Speak before the start event has supplied
// a stream id; outbound media cannot be addressed without one.
var ErrNoStream = errors.New("call: no stream sid, cannot send audio")

// Conn is the duplex media transport. Both gofiber/websocket and
// gorilla/websocket connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Transcriber is the session's audio transcription channel. The session
// owns it exclusively and closes it exactly once at teardown.
type Transcriber interface {
	Feed(frame []byte)
	NextUtterance(ctx context.Context) (string, error)
	Close() error
}

// Synthesizer produces speech for outbound playback.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (tts.SpeechStream, error)
}

// event is the Twilio media-stream message envelope.
type event struct {
	Event string `json:"event"` // "start", "media", "stop"
	Media struct {
		Payload string `json:"payload"` // base64 audio
	} `json:"media"`
	Start struct {
		CallSid   string `json:"callSid"`
		StreamSid string `json:"streamSid"`
	} `json:"start"`
}

type mediaMessage struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type markMessage struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Mark      struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// Session drives one call leg. Lifecycle: unconnected until the start
// event, connected while the media stream is live, ended on stop,
// transport close, or read failure. There is no way back.
type Session struct {
	conn        Conn
	transcriber Transcriber
	synth       Synthesizer
	log         *slog.Logger

	capture atomic.Bool // true: inbound audio forwarded to transcription
	started atomic.Bool // start event observed
	ended   atomic.Bool

	mu        sync.Mutex // guards callSid and streamSid
	callSid   string
	streamSid string

	wmu sync.Mutex // serializes outbound websocket writes
}

// NewSession wires a session around an accepted media connection. The
// capture gate starts open.
func NewSession(conn Conn, transcriber Transcriber, synth Synthesizer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		conn:        conn,
		transcriber: transcriber,
		synth:       synth,
		log:         logger.With("component", "call"),
	}
	s.capture.Store(true)
	return s
}

// IsConnected reports whether the start event has been observed and the
// session has not since been torn down.
func (s *Session) IsConnected() bool {
	return s.started.Load() && !s.ended.Load()
}

// Capturing reports whether inbound audio is currently forwarded to the
// transcription channel.
func (s *Session) Capturing() bool {
	return s.capture.Load()
}

// CallSid returns the call identifier, empty until connected.
func (s *Session) CallSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSid
}

// StreamSid returns the media stream identifier, empty until connected.
func (s *Session) StreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

// Transcriber exposes the session's transcription channel to the
// telephony speaker role.
func (s *Session) Transcriber() Transcriber {
	return s.transcriber
}

// IngestLoop is the session's only reader of the media stream. It runs
// until a stop event, transport close, or read failure, and always
// closes the transcription channel on exit; no transcriber may outlive
// its session.
func (s *Session) IngestLoop() {
	defer func() {
		s.ended.Store(true)
		if err := s.transcriber.Close(); err != nil {
			s.log.Warn("transcriber close failed", "error", err)
		}
	}()

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("media stream closed", "error", err)
			} else {
				s.log.Warn("media stream connection lost", "error", err)
			}
			return
		}
		if msg == nil {
			s.log.Info("media stream returned nil message")
			return
		}

		var ev event
		if err := json.Unmarshal(msg, &ev); err != nil {
			s.log.Warn("unparseable media stream event", "error", err)
			continue
		}

		switch ev.Event {
		case "start":
			s.mu.Lock()
			s.callSid = ev.Start.CallSid
			s.streamSid = ev.Start.StreamSid
			s.mu.Unlock()
			s.started.Store(true)
			s.log.Info("call connected", "call_sid", ev.Start.CallSid, "stream_sid", ev.Start.StreamSid)

		case "media":
			metrics.FramesReceived.Inc()
			if !s.capture.Load() {
				// Outbound playback in progress; drop the frame rather
				// than transcribe our own voice.
				metrics.FramesGated.Inc()
				continue
			}
			chunk, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
			if err != nil {
				s.log.Warn("base64 decode failed", "error", err)
				continue
			}
			s.transcriber.Feed(chunk)

		case "stop":
			s.log.Info("media stream ended")
			return
		}
	}
}

// Speak synthesizes text and plays it to the far end. The capture gate
// stays closed from the first outbound chunk until the estimated
// playback has drained: the caller's phone is still producing sound
// after the last byte is sent, and capturing during that window would
// transcribe the tail of our own utterance.
func (s *Session) Speak(ctx context.Context, text string) error {
	if s.ended.Load() {
		return ErrSessionEnded
	}
	streamSid := s.StreamSid()
	if streamSid == "" {
		return ErrNoStream
	}

	s.capture.Store(false)
	defer s.capture.Store(true)

	stream, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		return errors.Wrap(err, "call: synthesize")
	}
	defer stream.Close()

	var total time.Duration
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "call: synthesis stream")
		}
		if err := s.sendMedia(streamSid, chunk.Audio); err != nil {
			return errors.Wrap(err, "call: send media")
		}
		total += chunk.Duration
	}

	if err := s.sendMark(streamSid); err != nil {
		s.log.Warn("mark send failed", "error", err)
	}

	select {
	case <-time.After(total):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Session) sendMedia(streamSid string, audio []byte) error {
	var msg mediaMessage
	msg.Event = "media"
	msg.StreamSid = streamSid
	msg.Media.Payload = base64.StdEncoding.EncodeToString(audio)
	return s.writeJSON(msg)
}

// sendMark trails the utterance's media frames so playback progress is
// observable on the Twilio side.
func (s *Session) sendMark(streamSid string) error {
	var msg markMessage
	msg.Event = "mark"
	msg.StreamSid = streamSid
	msg.Mark.Name = uuid.NewString()
	return s.writeJSON(msg)
}

func (s *Session) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}
