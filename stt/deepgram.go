// Package stt wraps a Deepgram live-transcription websocket as the
// call's audio transcription channel. Raw audio frames go in, finalized
// utterances come out; interim results are never surfaced.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/amohajerani/call-center/metrics"
)

// DefaultEndpoint is the Deepgram live-listen URL for Twilio media
// streams: mu-law mono at 8 kHz, phone-call model, finals only.
const DefaultEndpoint = "wss://api.deepgram.com/v1/listen?model=nova-2-phonecall&encoding=mulaw&sample_rate=8000&channels=1&language=en-US&punctuate=true&smart_format=true&interim_results=false"

const (
	defaultBufferSize        = 256
	defaultKeepAliveInterval = 9 * time.Second
)

// ErrClosed is returned by NextUtterance when the stream has been
// closed; it is the expected unblock signal at session teardown.
var ErrClosed = errors.New("stt: stream closed")

// transcriptMessage mirrors the Deepgram live response envelope.
type transcriptMessage struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Config configures a DeepgramStream.
type Config struct {
	APIKey            string
	Endpoint          string        // defaults to DefaultEndpoint
	BufferSize        int           // frame buffer capacity, drop-on-full
	KeepAliveInterval time.Duration // defaults to 9s
	Logger            *slog.Logger
}

// DeepgramStream is a single-consumer transcription channel backed by
// one persistent Deepgram websocket. Feed never blocks; NextUtterance
// blocks until a final transcript, context cancellation, or Close.
type DeepgramStream struct {
	cfg Config
	log *slog.Logger

	frames     chan []byte
	utterances chan string
	done       chan struct{}
	closeOnce  sync.Once

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	// wmu serializes writes: the frame pump, the keep-alive loop and
	// the close handshake share one websocket writer.
	wmu sync.Mutex
}

func (s *DeepgramStream) writeMessage(conn *websocket.Conn, messageType int, data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// NewDeepgramStream dials the recognition backend and starts the write
// pump and keep-alive loops. The caller owns the stream and must Close
// it exactly once.
func NewDeepgramStream(cfg Config) (*DeepgramStream, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("stt: api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &DeepgramStream{
		cfg:        cfg,
		log:        cfg.Logger.With("component", "stt"),
		frames:     make(chan []byte, cfg.BufferSize),
		utterances: make(chan string, 4),
		done:       make(chan struct{}),
	}

	if err := s.connect(); err != nil {
		return nil, errors.Wrap(err, "stt: initial connect")
	}

	go s.writeLoop()
	go s.keepAliveLoop()

	return s, nil
}

// connect dials the backend, installs the connection, and starts a
// reader for it. Safe to call again after a drop.
func (s *DeepgramStream) connect() error {
	header := http.Header{
		"Authorization": {fmt.Sprintf("Token %s", s.cfg.APIKey)},
	}
	conn, _, err := websocket.DefaultDialer.Dial(s.cfg.Endpoint, header)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	go s.readLoop(conn)
	s.log.Info("connected to recognition backend")
	return nil
}

// Feed enqueues a raw audio frame without blocking. Frames are dropped
// when the stream is not connected or the buffer is full; audio capture
// must never stall on recognizer availability.
func (s *DeepgramStream) Feed(frame []byte) {
	if len(frame) == 0 {
		return
	}
	if !s.ready() {
		metrics.FramesDropped.Inc()
		return
	}
	select {
	case s.frames <- frame:
	default:
		metrics.FramesDropped.Inc()
		s.log.Warn("frame buffer full, dropping audio frame", "bytes", len(frame))
	}
}

// NextUtterance blocks until a finalized utterance is available. If the
// backend connection was lost it is re-established first. Returns
// ErrClosed once the stream is closed and ctx.Err() on cancellation.
// Single consumer only.
func (s *DeepgramStream) NextUtterance(ctx context.Context) (string, error) {
	select {
	case <-s.done:
		return "", ErrClosed
	default:
	}

	if !s.ready() {
		s.log.Info("recognition connection lost, re-establishing")
		metrics.STTReconnects.Inc()
		if err := s.connect(); err != nil {
			return "", errors.Wrap(err, "stt: reconnect")
		}
	}

	select {
	case text := <-s.utterances:
		return text, nil
	case <-s.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close tears the stream down: stops the keep-alive and write pumps,
// performs the websocket close handshake, and unblocks any pending
// NextUtterance. Idempotent.
func (s *DeepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.connected = false
		s.mu.Unlock()

		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
			if werr := s.writeMessage(conn, websocket.CloseMessage, msg); werr != nil {
				err = werr
			}
			if cerr := conn.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		s.log.Info("transcription channel closed")
	})
	return err
}

func (s *DeepgramStream) ready() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// writeLoop forwards buffered frames to the current connection in
// arrival order. Runs for the stream's lifetime.
func (s *DeepgramStream) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.frames:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				metrics.FramesDropped.Inc()
				continue
			}
			if err := s.writeMessage(conn, websocket.BinaryMessage, frame); err != nil {
				s.log.Warn("recognition write failed", "error", err)
				s.dropConn(conn)
			}
		}
	}
}

// readLoop consumes backend messages for one connection and surfaces
// final transcripts. Exits when the connection drops.
func (s *DeepgramStream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn("recognition read failed", "error", err)
			}
			s.dropConn(conn)
			return
		}

		var tm transcriptMessage
		if err := json.Unmarshal(message, &tm); err != nil {
			s.log.Warn("unparseable recognition message", "error", err)
			continue
		}
		if !tm.IsFinal || len(tm.Channel.Alternatives) == 0 {
			continue
		}
		text := tm.Channel.Alternatives[0].Transcript
		if text == "" {
			continue
		}

		metrics.FinalTranscripts.Inc()
		select {
		case s.utterances <- text:
		case <-s.done:
			return
		default:
			s.log.Warn("utterance buffer full, dropping transcript")
		}
	}
}

// keepAliveLoop sends a periodic no-op control message so the backend
// does not drop an idle connection between caller turns.
func (s *DeepgramStream) keepAliveLoop() {
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()

	msg := []byte(`{"type":"KeepAlive"}`)
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				continue
			}
			if err := s.writeMessage(conn, websocket.TextMessage, msg); err != nil {
				s.log.Warn("keep-alive send failed", "error", err)
				s.dropConn(conn)
				continue
			}
			metrics.KeepAlivesSent.Inc()
		}
	}
}

// dropConn marks the given connection dead if it is still current.
func (s *DeepgramStream) dropConn(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.connected = false
	}
	s.mu.Unlock()
	conn.Close()
}
