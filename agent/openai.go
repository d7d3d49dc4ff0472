package agent

import (
	"context"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/amohajerani/call-center/metrics"
)

const defaultOpenAITimeout = 20 * time.Second

// chatCompleter is the slice of the OpenAI client this agent needs.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIAgent generates utterances with a chat-completion model. Like
// the HTTP agent, failures degrade to the fixed fallback utterance.
type OpenAIAgent struct {
	client       chatCompleter
	model        string
	systemPrompt string
	initPhrase   string
	timeout      time.Duration
	log          *slog.Logger
}

// NewOpenAIAgent builds a responder around the given model and system
// prompt. initPhrase is spoken on the first turn.
func NewOpenAIAgent(apiKey, model, systemPrompt, initPhrase string, logger *slog.Logger) (*OpenAIAgent, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIAgent{
		client:       openai.NewClient(apiKey),
		model:        model,
		systemPrompt: systemPrompt,
		initPhrase:   initPhrase,
		timeout:      defaultOpenAITimeout,
		log:          logger.With("component", "agent", "kind", "openai"),
	}, nil
}

func (a *OpenAIAgent) Respond(transcript []string) (string, error) {
	if len(transcript) == 0 {
		return a.initPhrase, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: buildMessages(a.systemPrompt, transcript),
	})
	if err != nil {
		metrics.ResponderFallbacks.Inc()
		a.log.Warn("chat completion failed", "error", err)
		return FallbackUtterance, nil
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		metrics.ResponderFallbacks.Inc()
		a.log.Warn("chat completion returned no content")
		return FallbackUtterance, nil
	}
	return resp.Choices[0].Message.Content, nil
}

// buildMessages maps the alternating transcript onto chat roles. The
// automated agent holds the even indices, so those entries replay as
// assistant messages and the caller's as user messages; the final entry
// is always the caller's latest utterance.
func buildMessages(systemPrompt string, transcript []string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for i, text := range transcript {
		role := openai.ChatMessageRoleUser
		if i%2 == 0 {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: text})
	}
	return messages
}
