// internal/providers/openaicompat/provider.go
// Package openaicompat provides the Adapter for self-hosted backends exposing an
// OpenAI-compatible chat completions endpoint (llama.cpp, vLLM, LM Studio and the like).
package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mwiater/chorus/internal/providers"
)

// Provider implements providers.Adapter using OpenAI-compatible HTTP APIs.
type Provider struct {
	client *http.Client
}

// New constructs a Provider. A nil client selects the shared default.
func New(client *http.Client) *Provider {
	if client == nil {
		client = providers.NewHTTPClient()
	}
	return &Provider{client: client}
}

type chatRequest struct {
	Model       string                  `json:"model"`
	Messages    []providers.ChatMessage `json:"messages"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Temperature float64                 `json:"temperature"`
	Stream      bool                    `json:"stream"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *providers.Usage `json:"usage"`
}

// Query sends message to the backend described by desc.
func (p *Provider) Query(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
	content, usage, err := p.query(ctx, message, desc, limits)
	if err != nil {
		return providers.Fail(desc.ID, err)
	}
	return providers.Success(desc.ID, content, usage)
}

func (p *Provider) query(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) (string, *providers.Usage, error) {
	endpoint := strings.TrimSpace(desc.Endpoint)
	if endpoint == "" {
		return "", nil, providers.Errorf(providers.ErrConfiguration, "no endpoint configured for %s", desc.ID)
	}

	var headers map[string]string
	if key := strings.TrimSpace(desc.Credential); key != "" {
		headers = map[string]string{"Authorization": "Bearer " + key}
	}

	payload := chatRequest{
		Model:       desc.WireModel(),
		Messages:    providers.UserMessage(message),
		MaxTokens:   limits.MaxTokens,
		Temperature: limits.Temperature,
		Stream:      false,
	}

	ex, err := providers.PostJSON(ctx, p.client, desc, endpoint, headers, payload)
	if err != nil {
		return "", nil, err
	}
	if !ex.OK() {
		return "", nil, providers.Errorf(providers.ErrProtocol, "HTTP %d: %s - %s", ex.StatusCode, statusText(ex), strings.TrimSpace(string(ex.Body)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(ex.Body, &parsed); err != nil {
		return "", nil, providers.Errorf(providers.ErrProtocol, "malformed response body: %v", err)
	}

	var raw string
	if len(parsed.Choices) > 0 {
		raw = parsed.Choices[0].Message.Content
	}
	content, err := providers.ContentOrPlaceholder(raw, limits)
	if err != nil {
		return "", nil, err
	}
	usage := parsed.Usage
	if usage == nil {
		usage = &providers.Usage{}
	}
	return content, usage, nil
}

// statusText returns the reason phrase for the exchange status code.
func statusText(ex providers.Exchange) string {
	if text := http.StatusText(ex.StatusCode); text != "" {
		return text
	}
	return ex.Status
}
