// internal/providers/ollama/provider.go
// Package ollama provides the Adapter for self-hosted backends that speak the Ollama
// /api/chat and /api/generate protocol.
package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/mwiater/chorus/internal/providers"
)

const (
	chatRoute     = "/api/chat"
	apiRouteToken = "/api/"
)

// Provider implements providers.Adapter using Ollama HTTP APIs.
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

type options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type request struct {
	Model    string                  `json:"model"`
	Messages []providers.ChatMessage `json:"messages,omitempty"`
	Prompt   string                  `json:"prompt,omitempty"`
	Stream   bool                    `json:"stream"`
	Options  options                 `json:"options"`
}

// response covers both the /api/chat and the /api/generate shapes.
type response struct {
	Model   string `json:"model"`
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

// ResolveEndpoint returns the URL a request should be sent to and whether it is the chat route.
// An endpoint without an /api/ route segment is rewritten to the chat route on the same host.
func ResolveEndpoint(endpoint string) (string, bool, error) {
	raw := strings.TrimSpace(endpoint)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false, providers.Errorf(providers.ErrConfiguration, "invalid endpoint %q", endpoint)
	}
	if !strings.Contains(u.Path, apiRouteToken) {
		u.Path = chatRoute
		u.RawQuery = ""
		u.Fragment = ""
	}
	resolved := u.String()
	return resolved, strings.Contains(u.Path, chatRoute), nil
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
	endpoint, isChat, err := ResolveEndpoint(desc.Endpoint)
	if err != nil {
		return "", nil, err
	}

	payload := request{
		Model:  desc.WireModel(),
		Stream: false,
		Options: options{
			Temperature: limits.Temperature,
			NumPredict:  limits.MaxTokens,
		},
	}
	if isChat {
		payload.Messages = providers.UserMessage(message)
	} else {
		payload.Prompt = message
	}

	ex, err := providers.PostJSON(ctx, p.client, desc, endpoint, nil, payload)
	if err != nil {
		return "", nil, err
	}

	var parsed response
	decodeErr := json.Unmarshal(ex.Body, &parsed)
	if !ex.OK() {
		detail := "Unknown Ollama error"
		if decodeErr == nil && strings.TrimSpace(parsed.Error) != "" {
			detail = parsed.Error
		}
		return "", nil, providers.Errorf(providers.ErrProtocol, "HTTP %d: %s", ex.StatusCode, detail)
	}
	if decodeErr != nil {
		return "", nil, providers.Errorf(providers.ErrProtocol, "malformed response body: %v", decodeErr)
	}

	var raw string
	if isChat {
		if parsed.Message != nil {
			raw = parsed.Message.Content
		}
	} else {
		raw = parsed.Response
	}
	content, err := providers.ContentOrPlaceholder(raw, limits)
	if err != nil {
		return "", nil, err
	}

	usage := &providers.Usage{
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
		TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
	}
	return content, usage, nil
}
