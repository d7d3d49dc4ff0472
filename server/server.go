// Package server hosts the telephony webhooks and the media-stream
// websocket endpoint, and wires each accepted stream into a call
// session driving a live conversation.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amohajerani/call-center/agent"
	"github.com/amohajerani/call-center/call"
	"github.com/amohajerani/call-center/config"
	"github.com/amohajerani/call-center/convo"
	"github.com/amohajerani/call-center/member"
	"github.com/amohajerani/call-center/metrics"
	"github.com/amohajerani/call-center/phone"
	"github.com/amohajerani/call-center/stt"
	"github.com/amohajerani/call-center/tts"
)

const (
	inboundInitPhrase  = "Thank you for calling Signify. My name is Sarah. Can you verify your name please?"
	outboundInitPhrase = "Hi, this is Sarah from Signify Health. You are on a recorded call. I am calling to schedule your annual wellness visit."

	inboundSystemPrompt = `You are a call center agent at Signify Health. A member has called in, ` +
		`usually about their appointments. Answer their questions, manage their appointments, ` +
		`and provide the necessary information. Be brief: answers under 100 words. ` +
		`Verify the member's name before discussing their record, and never share information about other members.`

	outboundSystemPrompt = `You are a call center agent at Signify Health calling members to schedule ` +
		`their appointments. Gather the preferred date, time, and type of appointment, and confirm ` +
		`the details before ending the call. Be brief: answers under 100 words. ` +
		`Verify the member's name before discussing their record, and never share information about other members.`
)

// how long a freshly accepted stream may sit without its start event
// before the conversation gives up on it.
const connectTimeout = 60 * time.Second

// Server exposes the webhook and media-stream endpoints.
type Server struct {
	cfg     *config.Config
	app     *fiber.App
	ctrl    CallController
	tts     *tts.Client
	members *member.Directory
	log     *slog.Logger

	// newTranscriber builds the per-call transcription channel.
	newTranscriber func() (call.Transcriber, error)
}

// New assembles the server and its routes.
func New(cfg *config.Config, ctrl CallController, ttsClient *tts.Client, members *member.Directory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		app:     fiber.New(fiber.Config{DisableStartupMessage: true}),
		ctrl:    ctrl,
		tts:     ttsClient,
		members: members,
		log:     logger.With("component", "server"),
	}
	s.newTranscriber = func() (call.Transcriber, error) {
		return stt.NewDeepgramStream(stt.Config{
			APIKey: cfg.STT.APIKey,
			Logger: logger,
		})
	}
	s.routes()
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until the listener fails.
func (s *Server) Listen() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.log.Info("listening", "addr", addr, "webhook", "https://"+s.cfg.Server.RemoteHost+"/incoming-voice")
	return s.app.Listen(addr)
}

// Shutdown stops accepting new connections and drains the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) routes() {
	s.app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	s.app.Post("/incoming-voice", s.handleIncomingVoice)
	s.app.Post("/start-call", s.handleStartCall)

	s.app.Use("/audiostream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/audiostream/:direction/:phone", websocket.New(s.handleMediaStream))
}

// handleIncomingVoice is the Twilio voice webhook for inbound calls: it
// answers with markup that connects the call's audio to our stream
// endpoint.
func (s *Server) handleIncomingVoice(c *fiber.Ctx) error {
	from := c.FormValue("From")
	phoneNumber, err := phone.Format(from)
	if err != nil {
		s.log.Warn("inbound call with unusable number", "from", from, "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid phone number"})
	}
	s.log.Info("incoming call", "phone", phoneNumber)

	twiml := fmt.Sprintf(`<Response><Connect><Stream url="wss://%s/audiostream/inbound/%s"/></Connect></Response>`,
		s.cfg.Server.RemoteHost, phoneNumber)
	c.Type("xml")
	return c.SendString(twiml)
}

type startCallRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// handleStartCall places an outbound call whose audio streams back to
// this server.
func (s *Server) handleStartCall(c *fiber.Ctx) error {
	var req startCallRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	phoneNumber, err := phone.Format(req.PhoneNumber)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	twiml := fmt.Sprintf(`<Response><Connect><Stream url="wss://%s/audiostream/outbound/%s"/></Connect></Response>`,
		s.cfg.Server.RemoteHost, phoneNumber)
	sid, err := s.ctrl.PlaceCall(phoneNumber, twiml)
	if err != nil {
		s.log.Error("failed to place call", "phone", phoneNumber, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create call"})
	}

	s.log.Info("call initiated", "phone", phoneNumber, "call_sid", sid)
	return c.JSON(fiber.Map{"message": "call initiated", "call_sid": sid})
}

// handleMediaStream owns one accepted media websocket: it builds the
// session, spawns the conversation, and runs the ingest loop until the
// call ends.
func (s *Server) handleMediaStream(conn *websocket.Conn) {
	defer conn.Close()

	direction := conn.Params("direction")
	phoneNumber := conn.Params("phone")
	outbound := direction == "outbound"
	log := s.log.With("phone", phoneNumber, "direction", direction)

	transcriber, err := s.newTranscriber()
	if err != nil {
		log.Error("failed to open transcription channel", "error", err)
		return
	}

	metrics.CallsStarted.Inc()
	metrics.ActiveCalls.Inc()
	defer metrics.ActiveCalls.Dec()

	session := call.NewSession(conn, transcriber, s.tts, s.log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.runConversation(ctx, session, outbound, phoneNumber, log)

	session.IngestLoop()
	log.Info("media stream handler done")
}

// runConversation waits for the stream's start event, assembles the two
// speaker roles, and drives the turn loop.
func (s *Server) runConversation(ctx context.Context, session *call.Session, outbound bool, phoneNumber string, log *slog.Logger) {
	if !waitConnected(ctx, session) {
		log.Warn("media stream never connected, skipping conversation")
		return
	}

	memberInfo := s.members.Info(phoneNumber)

	initPhrase := inboundInitPhrase
	systemPrompt := inboundSystemPrompt
	if outbound {
		initPhrase = outboundInitPhrase
		systemPrompt = outboundSystemPrompt
	}
	if memberInfo != "" {
		systemPrompt += " Use the following member information to help the member. " + memberInfo
	}

	ai, err := s.newAgentSpeaker(phoneNumber, initPhrase, systemPrompt)
	if err != nil {
		log.Error("failed to build agent speaker", "error", err)
		return
	}
	caller := agent.NewCaller(ctx, session, s.log)

	convo.Run(ai, caller, memberInfo, s.log)
}

// newAgentSpeaker prefers the upstream agent service and falls back to
// direct chat completion when none is configured.
func (s *Server) newAgentSpeaker(phoneNumber, initPhrase, systemPrompt string) (agent.Responder, error) {
	if s.cfg.Agent.URL != "" {
		return agent.NewHTTPAgent(s.cfg.Agent.URL, phoneNumber, initPhrase, s.log)
	}
	return agent.NewOpenAIAgent(s.cfg.Agent.OpenAIAPIKey, s.cfg.Agent.OpenAIModel, systemPrompt, initPhrase, s.log)
}

// waitConnected polls until the session sees its start event. Returns
// false on timeout, context cancellation, or session teardown.
func waitConnected(ctx context.Context, session *call.Session) bool {
	deadline := time.NewTimer(connectTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		if session.IsConnected() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}
