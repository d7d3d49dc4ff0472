// Package convo drives strict two-party turn-taking between an
// automated agent and a telephone caller.
package convo

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/amohajerani/call-center/agent"
	"github.com/amohajerani/call-center/metrics"
)

// Run alternates turns between the two speakers until one of them
// signals the call has ended or fails. The agent speaks the even
// transcript indices, the caller the odd ones; alternation is
// structural and never skipped, so the transcript any model sees is
// always well-formed dialogue.
//
// Once the first exchange is complete the opening utterance is enriched
// in place with the caller's profile information, exactly once, even
// if the loop is re-entered.
//
// Returns the number of completed turn pairs.
func Run(agentSpeaker, callerSpeaker agent.Responder, memberInfo string, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "convo")

	var transcript []string
	enriched := false

	for {
		if len(transcript) == 2 && memberInfo != "" && !enriched {
			transcript[0] = transcript[0] + " I have accessed your information. " + memberInfo
			enriched = true
		}

		text, err := agentSpeaker.Respond(transcript)
		if err != nil {
			logTermination(log, "agent", err)
			break
		}
		transcript = append(transcript, text)
		log.Info("turn", "speaker", "agent", "text", text)

		text, err = callerSpeaker.Respond(transcript)
		if err != nil {
			logTermination(log, "caller", err)
			break
		}
		transcript = append(transcript, text)
		log.Info("turn", "speaker", "caller", "text", text)
	}

	pairs := len(transcript) / 2
	metrics.TurnPairs.Add(float64(pairs))
	log.Info("conversation ended", "turn_pairs", pairs)
	return pairs
}

func logTermination(log *slog.Logger, speaker string, err error) {
	if errors.Is(err, agent.ErrCallEnded) {
		log.Info("call ended", "speaker", speaker)
		return
	}
	log.Error("conversation turn failed", "speaker", speaker, "error", err)
}
