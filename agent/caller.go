package agent

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/amohajerani/call-center/call"
	"github.com/amohajerani/call-center/stt"
)

// CallSession is the slice of a call session the telephony speaker
// needs; *call.Session satisfies it.
type CallSession interface {
	IsConnected() bool
	Speak(ctx context.Context, text string) error
	Transcriber() call.Transcriber
}

// Caller is the telephony-backed speaker: it voices the other side's
// last utterance down the phone line, then waits for the human's next
// transcribed utterance.
type Caller struct {
	ctx     context.Context
	session CallSession
	log     *slog.Logger
}

// NewCaller binds the speaker to a live call session. ctx bounds every
// turn; cancelling it ends the conversation.
func NewCaller(ctx context.Context, session CallSession, logger *slog.Logger) *Caller {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{
		ctx:     ctx,
		session: session,
		log:     logger.With("component", "agent", "kind", "caller"),
	}
}

func (c *Caller) Respond(transcript []string) (string, error) {
	if !c.session.IsConnected() {
		return "", ErrCallEnded
	}

	if len(transcript) > 0 {
		if err := c.session.Speak(c.ctx, transcript[len(transcript)-1]); err != nil {
			if errors.Is(err, call.ErrSessionEnded) {
				return "", ErrCallEnded
			}
			// Playback of this turn is lost but the line is still up;
			// keep listening rather than abandoning the call.
			c.log.Warn("playback failed, skipping turn audio", "error", err)
		}
	}

	text, err := c.session.Transcriber().NextUtterance(c.ctx)
	if err != nil {
		if errors.Is(err, stt.ErrClosed) || errors.Is(err, context.Canceled) {
			return "", ErrCallEnded
		}
		return "", errors.Wrap(err, "agent: await utterance")
	}
	return text, nil
}
