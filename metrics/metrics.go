// Package metrics registers the Prometheus instrumentation for the
// call-center service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call lifecycle
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callcenter_active_calls",
		Help: "Number of call sessions currently connected",
	})
	CallsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callcenter_calls_started_total",
		Help: "Total number of media streams accepted",
	})

	// Inbound media
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callcenter_frames_received_total",
		Help: "Total inbound audio frames decoded from the media stream",
	})
	FramesGated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callcenter_frames_gated_total",
		Help: "Inbound frames dropped because outbound playback was active",
	})
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callcenter_frames_dropped_total",
		Help: "Frames dropped because the transcription buffer was full or not ready",
	})

	// Transcription
	FinalTranscripts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callcenter_final_transcripts_total",
		Help: "Final utterances surfaced by the transcription channel",
	})
	KeepAlivesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callcenter_stt_keepalives_sent_total",
		Help: "Keep-alive control messages sent to the recognition backend",
	})
	STTReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callcenter_stt_reconnects_total",
		Help: "Times the recognition websocket was re-established",
	})

	// Synthesis
	SynthesisRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callcenter_synthesis_requests_total",
		Help: "Text-to-speech requests issued",
	})
	SynthesisFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callcenter_synthesis_failures_total",
		Help: "Text-to-speech requests that produced no playable audio",
	})

	// Conversation
	TurnPairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callcenter_turn_pairs_total",
		Help: "Completed agent/caller turn pairs across all conversations",
	})
	ResponderFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callcenter_responder_fallbacks_total",
		Help: "Times an LLM responder substituted the fixed fallback utterance",
	})
)
