// internal/providers/openrouter/provider.go
// Package openrouter provides the Adapter for models reached through the hosted
// OpenRouter aggregation API.
package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mwiater/chorus/internal/providers"
)

const (
	// DefaultEndpoint is the aggregator's chat completions URL.
	DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	// MissingKeyMessage is reported for every hosted model when no credential is configured.
	MissingKeyMessage = "OpenRouter API Key is missing in settings."
	defaultReferer    = "http://localhost:3000"
	defaultTitle      = "Multi-Model Chat App"
)

// Provider implements providers.Adapter for the hosted aggregator.
type Provider struct {
	client  *http.Client
	referer string
	title   string
}

// Option customizes a Provider.
type Option func(*Provider)

// WithClient overrides the HTTP client.
func WithClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithAttribution sets the HTTP-Referer and X-Title headers the aggregator uses for app attribution.
func WithAttribution(referer, title string) Option {
	return func(p *Provider) {
		if strings.TrimSpace(referer) != "" {
			p.referer = referer
		}
		if strings.TrimSpace(title) != "" {
			p.title = title
		}
	}
}

// New constructs a Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		client:  providers.NewHTTPClient(),
		referer: defaultReferer,
		title:   defaultTitle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type chatRequest struct {
	Model       string                  `json:"model"`
	Messages    []providers.ChatMessage `json:"messages"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Temperature float64                 `json:"temperature"`
	Stream      bool                    `json:"stream"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *providers.Usage `json:"usage"`
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Query sends message to the hosted model described by desc.
func (p *Provider) Query(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
	content, usage, err := p.query(ctx, message, desc, limits)
	if err != nil {
		return providers.Fail(desc.ID, err)
	}
	return providers.Success(desc.ID, content, usage)
}

func (p *Provider) query(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) (string, *providers.Usage, error) {
	apiKey := strings.TrimSpace(desc.Credential)
	if apiKey == "" {
		return "", nil, providers.Errorf(providers.ErrConfiguration, MissingKeyMessage)
	}

	endpoint := desc.Endpoint
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}

	payload := chatRequest{
		Model:       desc.WireModel(),
		Messages:    providers.UserMessage(message),
		MaxTokens:   limits.MaxTokens,
		Temperature: limits.Temperature,
		Stream:      false,
	}
	headers := map[string]string{
		"Authorization": "Bearer " + apiKey,
		"HTTP-Referer":  p.referer,
		"X-Title":       p.title,
	}

	ex, err := providers.PostJSON(ctx, p.client, desc, endpoint, headers, payload)
	if err != nil {
		return "", nil, err
	}
	if !ex.OK() {
		return "", nil, providers.Errorf(providers.ErrProtocol, "%s", errorMessage(ex))
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

// errorMessage extracts the human readable message from the aggregator's error envelope,
// falling back to the status code.
func errorMessage(ex providers.Exchange) string {
	var parsed errorResponse
	if err := json.Unmarshal(ex.Body, &parsed); err == nil && parsed.Error != nil {
		if msg := strings.TrimSpace(parsed.Error.Message); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("HTTP %d", ex.StatusCode)
}
