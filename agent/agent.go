// Package agent defines the speaker roles of a conversation. Every
// variant exposes the single capability Respond: given the transcript
// so far, produce the speaker's next utterance.
package agent

import "github.com/pkg/errors"

// ErrCallEnded is the distinguished signal a speaker returns when the
// underlying call is confirmed disconnected. It is the expected way a
// conversation terminates, not a fault; match it with errors.Is.
var ErrCallEnded = errors.New("agent: call ended")

// ErrMissingAPIKey rejects construction of a model-backed responder
// without credentials.
var ErrMissingAPIKey = errors.New("agent: missing API key")

// FallbackUtterance keeps the conversation moving when an upstream
// language-model call fails; responder errors are never allowed to
// stall a live call.
const FallbackUtterance = "I'm sorry, but there is a technical issue."

// Responder produces the next utterance for one speaker role.
type Responder interface {
	Respond(transcript []string) (string, error)
}
