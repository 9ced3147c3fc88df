// internal/providers/provider.go

// Package providers defines the contract between the dispatcher and the protocol adapters
// that talk to individual model backends. It provides the backend descriptor, the normalized
// per-model result, and the error taxonomy every adapter converts its failures into, regardless
// of the wire protocol the backend speaks (hosted aggregator, Ollama-style, OpenAI-compatible).
package providers

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind identifies where a backend lives.
type Kind int

const (
	// KindHosted is a model reached through the hosted aggregation API.
	KindHosted Kind = iota + 1
	// KindSelfHosted is a model served by an endpoint the user runs or configures.
	KindSelfHosted
)

// String returns the configuration spelling of the kind.
func (k Kind) String() string {
	switch k {
	case KindHosted:
		return "hosted"
	case KindSelfHosted:
		return "self-hosted"
	default:
		return "unknown"
	}
}

// Protocol identifies the wire format a backend speaks.
type Protocol int

const (
	// ProtocolAggregator is the hosted aggregator's chat-completions API.
	ProtocolAggregator Protocol = iota + 1
	// ProtocolGenerateChat is the Ollama-style /api/chat and /api/generate API.
	ProtocolGenerateChat
	// ProtocolOpenAICompatible is a generic OpenAI chat-completions endpoint.
	ProtocolOpenAICompatible
	// ProtocolCustom is a user supplied endpoint that accepts the OpenAI chat envelope.
	ProtocolCustom
)

// String returns the configuration spelling of the protocol.
func (p Protocol) String() string {
	switch p {
	case ProtocolAggregator:
		return "aggregator"
	case ProtocolGenerateChat:
		return "ollama"
	case ProtocolOpenAICompatible:
		return "openai-compatible"
	case ProtocolCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseProtocol converts a configured protocol name into a Protocol.
// An empty name selects the Ollama-style protocol, matching the default local backend.
func ParseProtocol(name string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ollama", "generate-chat", "generate":
		return ProtocolGenerateChat, nil
	case "openai-compatible", "openai", "llama.cpp", "llamacpp":
		return ProtocolOpenAICompatible, nil
	case "custom":
		return ProtocolCustom, nil
	case "aggregator", "openrouter", "hosted":
		return ProtocolAggregator, nil
	default:
		return 0, fmt.Errorf("%w: unknown protocol %q", ErrConfiguration, name)
	}
}

// Descriptor is the resolved, read-only description of one callable model.
type Descriptor struct {
	// ID is the identifier the caller selects the model by.
	ID string
	// Name is the display name.
	Name string
	// Model is the server-facing model name sent on the wire.
	Model      string
	Kind       Kind
	Protocol   Protocol
	Endpoint   string
	Credential string
	// MaxTokens and Temperature are the backend defaults used when the request carries no override.
	MaxTokens   int
	Temperature float64
	// Timeout is the per-request deadline for this backend.
	Timeout time.Duration
	Enabled bool
}

// WireModel returns the model name to put on the wire.
func (d Descriptor) WireModel() string {
	if m := strings.TrimSpace(d.Model); m != "" {
		return m
	}
	if d.Kind == KindHosted {
		return d.ID
	}
	return d.Name
}

// Limits are the effective generation limits for one query.
type Limits struct {
	MaxTokens   int
	Temperature float64
	// StrictContent turns a success response without content into a protocol failure
	// instead of substituting NoContentPlaceholder.
	StrictContent bool
}

// ChatMessage represents a single message in a chat envelope.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMessage wraps message as the single user-role entry of a chat envelope.
func UserMessage(message string) []ChatMessage {
	return []ChatMessage{{Role: "user", Content: message}}
}

// Adapter translates a generic query into one backend's wire format and back.
// Implementations never return errors: every failure is reported as a failed Result.
type Adapter interface {
	Query(ctx context.Context, message string, desc Descriptor, limits Limits) Result
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(ctx context.Context, message string, desc Descriptor, limits Limits) Result

// Query calls f.
func (f AdapterFunc) Query(ctx context.Context, message string, desc Descriptor, limits Limits) Result {
	return f(ctx, message, desc, limits)
}
