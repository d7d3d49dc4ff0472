package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/amohajerani/call-center/tts"
)

// fakeConn scripts the inbound event stream and records every outbound
// write. Closing the incoming channel simulates transport loss.
type fakeConn struct {
	incoming chan []byte

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.incoming
	if !ok {
		return 0, nil, errors.New("fake connection closed")
	}
	return 1, msg, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	c.incoming <- data
}

func startEvent(callSid, streamSid string) map[string]any {
	return map[string]any{
		"event": "start",
		"start": map[string]string{"callSid": callSid, "streamSid": streamSid},
	}
}

func mediaEvent(audio []byte) map[string]any {
	return map[string]any{
		"event": "media",
		"media": map[string]string{"payload": base64.StdEncoding.EncodeToString(audio)},
	}
}

// fakeTranscriber records fed frames and close calls.
type fakeTranscriber struct {
	mu     sync.Mutex
	frames [][]byte
	closes int
}

func (f *fakeTranscriber) Feed(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *fakeTranscriber) NextUtterance(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (f *fakeTranscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTranscriber) fed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeTranscriber) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// fakeSynth yields a scripted chunk sequence.
type fakeSynth struct {
	chunks []tts.Chunk
	err    error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) (tts.SpeechStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeStream{chunks: f.chunks}, nil
}

type fakeStream struct {
	chunks []tts.Chunk
	pos    int
}

func (f *fakeStream) Next() (tts.Chunk, error) {
	if f.pos >= len(f.chunks) {
		if len(f.chunks) == 0 {
			return tts.Chunk{}, tts.ErrNoAudio
		}
		return tts.Chunk{}, io.EOF
	}
	c := f.chunks[f.pos]
	f.pos++
	return c, nil
}

func (f *fakeStream) Close() error { return nil }

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartEventConnectsSession(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTranscriber{}
	s := NewSession(conn, tr, &fakeSynth{}, nil)

	if s.IsConnected() {
		t.Fatal("session connected before start event")
	}

	go s.IngestLoop()
	conn.push(t, startEvent("C1", "S1"))

	waitFor(t, s.IsConnected, "session never connected")
	if s.StreamSid() != "S1" {
		t.Errorf("streamSid = %q, want S1", s.StreamSid())
	}
	if s.CallSid() != "C1" {
		t.Errorf("callSid = %q, want C1", s.CallSid())
	}

	close(conn.incoming)
	waitFor(t, func() bool { return !s.IsConnected() }, "session still connected after transport loss")
	if tr.closeCount() != 1 {
		t.Errorf("transcriber closed %d times, want exactly 1", tr.closeCount())
	}
}

func TestMediaForwardedWhileCapturing(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTranscriber{}
	s := NewSession(conn, tr, &fakeSynth{}, nil)

	go s.IngestLoop()
	conn.push(t, startEvent("C1", "S1"))
	conn.push(t, mediaEvent([]byte{1, 2, 3}))
	conn.push(t, mediaEvent([]byte{4, 5, 6}))

	waitFor(t, func() bool { return tr.fed() == 2 }, "frames not forwarded to transcriber")
	close(conn.incoming)
}

func TestMediaDroppedWhileGateClosed(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTranscriber{}
	s := NewSession(conn, tr, &fakeSynth{}, nil)
	s.capture.Store(false)

	go s.IngestLoop()
	conn.push(t, startEvent("C1", "S1"))
	conn.push(t, mediaEvent([]byte{1, 2, 3}))
	conn.push(t, map[string]any{"event": "stop"})

	waitFor(t, func() bool { return !s.IsConnected() }, "ingest loop did not exit on stop")
	if tr.fed() != 0 {
		t.Errorf("expected gated frames to be dropped, transcriber got %d", tr.fed())
	}
}

func TestStopEventClosesTranscriber(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTranscriber{}
	s := NewSession(conn, tr, &fakeSynth{}, nil)

	go s.IngestLoop()
	conn.push(t, startEvent("C1", "S1"))
	conn.push(t, map[string]any{"event": "stop"})

	waitFor(t, func() bool { return tr.closeCount() == 1 }, "transcriber not closed on stop")
}

func TestSpeakRequiresStreamSid(t *testing.T) {
	s := NewSession(newFakeConn(), &fakeTranscriber{}, &fakeSynth{}, nil)
	err := s.Speak(context.Background(), "hello")
	if !errors.Is(err, ErrNoStream) {
		t.Errorf("expected ErrNoStream, got %v", err)
	}
	if !s.Capturing() {
		t.Error("capture gate left closed after failed Speak")
	}
}

func TestSpeakFailsFastOnEndedSession(t *testing.T) {
	s := NewSession(newFakeConn(), &fakeTranscriber{}, &fakeSynth{}, nil)
	s.ended.Store(true)
	if err := s.Speak(context.Background(), "hello"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
}

func TestSpeakStreamsInOrderAndGatesCapture(t *testing.T) {
	conn := newFakeConn()
	synth := &fakeSynth{chunks: []tts.Chunk{
		{Audio: []byte{0x01}, Duration: 40 * time.Millisecond},
		{Audio: []byte{0x02}, Duration: 40 * time.Millisecond},
	}}
	s := NewSession(conn, &fakeTranscriber{}, synth, nil)
	s.streamSid = "S1"

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- s.Speak(context.Background(), "hello") }()

	// Mid-playback the gate must be closed.
	time.Sleep(30 * time.Millisecond)
	if s.Capturing() {
		t.Error("capture gate open during playback")
	}

	err := <-done
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("Speak returned after %v, before the 80ms playback drain", elapsed)
	}
	if !s.Capturing() {
		t.Error("capture gate not reopened after Speak")
	}

	writes := conn.writes()
	if len(writes) != 3 {
		t.Fatalf("expected 2 media + 1 mark writes, got %d", len(writes))
	}
	for i, want := range [][]byte{{0x01}, {0x02}} {
		var msg struct {
			Event     string `json:"event"`
			StreamSid string `json:"streamSid"`
			Media     struct {
				Payload string `json:"payload"`
			} `json:"media"`
		}
		if err := json.Unmarshal(writes[i], &msg); err != nil {
			t.Fatalf("unmarshal write %d: %v", i, err)
		}
		if msg.Event != "media" || msg.StreamSid != "S1" {
			t.Errorf("write %d: unexpected envelope %+v", i, msg)
		}
		got, _ := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if fmt.Sprintf("%x", got) != fmt.Sprintf("%x", want) {
			t.Errorf("write %d: payload %x, want %x", i, got, want)
		}
	}
	var mark struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(writes[2], &mark); err != nil || mark.Event != "mark" {
		t.Errorf("expected trailing mark event, got %s", writes[2])
	}
}

func TestSpeakReportsNoAudio(t *testing.T) {
	s := NewSession(newFakeConn(), &fakeTranscriber{}, &fakeSynth{}, nil)
	s.streamSid = "S1"

	err := s.Speak(context.Background(), "hello")
	if !errors.Is(err, tts.ErrNoAudio) {
		t.Errorf("expected ErrNoAudio to surface, got %v", err)
	}
	if !s.Capturing() {
		t.Error("capture gate left closed after synthesis failure")
	}
}
