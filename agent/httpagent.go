package agent

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/amohajerani/call-center/metrics"
)

const defaultHTTPTimeout = 15 * time.Second

// HTTPAgent delegates utterance generation to an upstream agent
// service. Upstream failures are absorbed locally: the fixed fallback
// utterance is substituted so the conversation never hangs on a flaky
// model endpoint.
type HTTPAgent struct {
	url         string
	phoneNumber string
	initPhrase  string
	client      *http.Client
	log         *slog.Logger
}

// NewHTTPAgent targets the given /run_agent endpoint. initPhrase is
// spoken verbatim on the very first turn, before any caller input.
func NewHTTPAgent(url, phoneNumber, initPhrase string, logger *slog.Logger) (*HTTPAgent, error) {
	if url == "" {
		return nil, errors.New("agent: upstream url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAgent{
		url:         url,
		phoneNumber: phoneNumber,
		initPhrase:  initPhrase,
		client:      &http.Client{Timeout: defaultHTTPTimeout},
		log:         logger.With("component", "agent", "kind", "http"),
	}, nil
}

type runAgentRequest struct {
	Transcript  []string `json:"transcript"`
	PhoneNumber string   `json:"phone_number"`
}

type runAgentResponse struct {
	Result string `json:"result"`
}

func (a *HTTPAgent) Respond(transcript []string) (string, error) {
	if len(transcript) == 0 {
		return a.initPhrase, nil
	}

	body, err := json.Marshal(runAgentRequest{
		Transcript:  transcript,
		PhoneNumber: a.phoneNumber,
	})
	if err != nil {
		return "", errors.Wrap(err, "agent: marshal request")
	}

	resp, err := a.client.Post(a.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return a.fallback("upstream request failed", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return a.fallback("upstream returned non-200", errors.Errorf("status %s", resp.Status)), nil
	}

	var out runAgentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return a.fallback("upstream response unparseable", err), nil
	}
	if out.Result == "" {
		return a.fallback("upstream returned empty result", nil), nil
	}
	return out.Result, nil
}

func (a *HTTPAgent) fallback(msg string, err error) string {
	metrics.ResponderFallbacks.Inc()
	a.log.Warn(msg, "error", err)
	return FallbackUtterance
}
