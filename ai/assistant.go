// Package ai talks to an OpenAI compatible chat completions endpoint.
package ai

import (
	"chat-hub/contract"
	"chat-hub/errors"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shillcollin/gai/core"
	"github.com/shillcollin/gai/providers/compat"
)

// systemPrompt frames every request. The hub relays a single user question
// per call, so no conversation history is sent.
const systemPrompt = "You are a helpful assistant in a public chat room. Answer briefly."

type AssistantConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Assistant answers prompts through an OpenAI compatible provider.
// It satisfies contract.IAssistantClient.
type Assistant struct {
	provider *compat.Client
}

func NewAssistant(cfg AssistantConfig) *Assistant {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Assistant{
		provider: compat.New(compat.CompatOpts{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			HTTPClient: &http.Client{Timeout: timeout},
		}),
	}
}

var _ contract.IAssistantClient = (*Assistant)(nil)

// Complete sends the prompt and returns the model's reply. Every failure
// mode wraps errors.ErrUpstream so callers can treat the assistant as a
// single fallible dependency.
func (a *Assistant) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := a.provider.GenerateText(ctx, core.Request{
		Messages: []core.Message{
			core.SystemMessage(systemPrompt),
			core.UserMessage(core.TextPart(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrUpstream, err)
	}

	answer := strings.TrimSpace(result.Text)
	if answer == "" {
		return "", fmt.Errorf("%w: empty answer", errors.ErrUpstream)
	}
	return answer, nil
}
