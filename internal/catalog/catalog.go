// internal/catalog/catalog.go
// Package catalog holds the hosted model catalog and resolves selected model identifiers
// into backend descriptors using an explicit configuration snapshot.
package catalog

import (
	"sort"
	"strings"

	"github.com/mwiater/chorus/internal/appconfig"
	"github.com/mwiater/chorus/internal/providers"
)

// Model describes one model offered through the hosted aggregator.
type Model struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Provider        string  `json:"provider"`
	Description     string  `json:"description"`
	ContextWindow   int     `json:"contextWindow"`
	CostPer1kTokens float64 `json:"costPer1kTokens"`
}

var hostedModels = []Model{
	{
		ID:              "openai/gpt-4o-mini",
		Name:            "GPT-4o Mini",
		Provider:        "OpenAI",
		Description:     "OpenAI's small multimodal model supporting text and image inputs with text outputs.",
		ContextWindow:   128000,
		CostPer1kTokens: 0.0006,
	},
	{
		ID:              "anthropic/claude-3-haiku",
		Name:            "Claude 3 Haiku",
		Provider:        "Anthropic",
		Description:     "Anthropic's fastest and most compact Claude 3 model for near-instant responsiveness.",
		ContextWindow:   200000,
		CostPer1kTokens: 0.00125,
	},
	{
		ID:              "mistralai/codestral-2508",
		Name:            "Mistral Codestral 2508",
		Provider:        "Mistral AI",
		Description:     "Low-latency coding model for fill-in-the-middle, code correction and test generation.",
		ContextWindow:   256000,
		CostPer1kTokens: 0.0009,
	},
	{
		ID:              "meta-llama/llama-3.1-405b-instruct",
		Name:            "Llama 3.1 405B Instruct",
		Provider:        "Meta",
		Description:     "The 400B class of Llama 3 with a 128k context window.",
		ContextWindow:   32768,
		CostPer1kTokens: 0.0008,
	},
	{
		ID:              "google/gemini-2.0-flash-001",
		Name:            "Gemini 2.0 Flash",
		Provider:        "Google",
		Description:     "Fast time to first token with quality on par with larger Gemini models.",
		ContextWindow:   1048576,
		CostPer1kTokens: 0.0004,
	},
}

// HostedModels returns a copy of the hosted catalog.
func HostedModels() []Model {
	out := make([]Model, len(hostedModels))
	copy(out, hostedModels)
	return out
}

// Lookup returns the hosted catalog entry for id.
func Lookup(id string) (Model, bool) {
	for _, m := range hostedModels {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// Entry is one selectable model, hosted or self-hosted.
type Entry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
	Protocol    string `json:"protocol"`
	Enabled     bool   `json:"enabled"`
}

// Entries lists the hosted catalog followed by the configured self-hosted backends.
func Entries(cfg appconfig.Config) []Entry {
	entries := make([]Entry, 0, len(hostedModels)+len(cfg.Backends))
	for _, m := range hostedModels {
		entries = append(entries, Entry{
			ID:          m.ID,
			Name:        m.Name,
			Provider:    m.Provider,
			Description: m.Description,
			Kind:        providers.KindHosted.String(),
			Protocol:    providers.ProtocolAggregator.String(),
			Enabled:     true,
		})
	}
	backends := make([]appconfig.Backend, len(cfg.Backends))
	copy(backends, cfg.Backends)
	sort.SliceStable(backends, func(i, j int) bool { return backends[i].ID < backends[j].ID })
	for _, b := range backends {
		protocol := b.Protocol
		if p, err := providers.ParseProtocol(b.Protocol); err == nil {
			protocol = p.String()
		}
		entries = append(entries, Entry{
			ID:          b.ID,
			Name:        b.Name,
			Provider:    "local",
			Description: b.Description,
			Kind:        providers.KindSelfHosted.String(),
			Protocol:    protocol,
			Enabled:     b.Enabled,
		})
	}
	return entries
}

// Resolver turns model identifiers into descriptors.
type Resolver interface {
	Resolve(id string) (providers.Descriptor, error)
}

// ConfigResolver resolves identifiers against one configuration snapshot.
type ConfigResolver struct {
	cfg appconfig.Config
}

// NewResolver returns a resolver over a copy of cfg.
func NewResolver(cfg appconfig.Config) *ConfigResolver {
	cfg.Backends = append([]appconfig.Backend(nil), cfg.Backends...)
	cfg.DefaultModels = append([]string(nil), cfg.DefaultModels...)
	cfg.ApplyDefaults()
	return &ConfigResolver{cfg: cfg}
}

// Resolve returns the descriptor for id. Configured self-hosted backends take precedence;
// catalog ids and other vendor/model ids are routed to the hosted aggregator. Unknown and
// disabled ids yield a configuration error.
func (r *ConfigResolver) Resolve(id string) (providers.Descriptor, error) {
	if b, ok := r.cfg.Backend(id); ok {
		return r.selfHosted(b)
	}
	if IsHostedID(id) {
		return r.hosted(id), nil
	}
	return providers.Descriptor{}, providers.Errorf(providers.ErrConfiguration, "unknown model %q", id)
}

// HasHostedModels reports whether any of ids would be routed to the hosted aggregator.
func (r *ConfigResolver) HasHostedModels(ids []string) bool {
	for _, id := range ids {
		if _, ok := r.cfg.Backend(id); ok {
			continue
		}
		if IsHostedID(id) {
			return true
		}
	}
	return false
}

// HostedCredentialConfigured reports whether the aggregator credential is set.
func (r *ConfigResolver) HostedCredentialConfigured() bool {
	return strings.TrimSpace(r.cfg.OpenRouterAPIKey) != ""
}

// IsHostedID reports whether id names a hosted aggregator model.
func IsHostedID(id string) bool {
	if _, ok := Lookup(id); ok {
		return true
	}
	id = strings.TrimSpace(id)
	vendor, model, found := strings.Cut(id, "/")
	return found && vendor != "" && model != "" && !strings.ContainsAny(id, " \t\n")
}

func (r *ConfigResolver) hosted(id string) providers.Descriptor {
	name := id
	if m, ok := Lookup(id); ok {
		name = m.Name
	}
	return providers.Descriptor{
		ID:          id,
		Name:        name,
		Model:       id,
		Kind:        providers.KindHosted,
		Protocol:    providers.ProtocolAggregator,
		Endpoint:    r.cfg.OpenRouterURL,
		Credential:  r.cfg.OpenRouterAPIKey,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.DefaultTemperatureValue(),
		Timeout:     r.cfg.RemoteTimeout(),
		Enabled:     true,
	}
}

func (r *ConfigResolver) selfHosted(b appconfig.Backend) (providers.Descriptor, error) {
	if !b.Enabled {
		return providers.Descriptor{}, providers.Errorf(providers.ErrConfiguration, "model %q is disabled", b.ID)
	}
	protocol, err := providers.ParseProtocol(b.Protocol)
	if err != nil {
		return providers.Descriptor{}, err
	}
	if protocol == providers.ProtocolAggregator {
		return providers.Descriptor{}, providers.Errorf(providers.ErrConfiguration, "model %q: self-hosted backends cannot use the aggregator protocol", b.ID)
	}

	maxTokens := b.MaxTokens
	if maxTokens <= 0 {
		maxTokens = r.cfg.MaxTokens
	}
	temperature := r.cfg.DefaultTemperatureValue()
	if b.Temperature != nil {
		temperature = *b.Temperature
	}
	name := b.Name
	if name == "" {
		name = b.ID
	}

	return providers.Descriptor{
		ID:          b.ID,
		Name:        name,
		Model:       b.Model,
		Kind:        providers.KindSelfHosted,
		Protocol:    protocol,
		Endpoint:    b.Endpoint,
		Credential:  b.APIKey,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Timeout:     r.cfg.Timeout(b),
		Enabled:     true,
	}, nil
}
