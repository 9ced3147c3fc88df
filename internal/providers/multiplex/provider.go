// internal/providers/multiplex/provider.go
// Package multiplex routes adapter calls based on the backend protocol.
package multiplex

import (
	"context"

	"github.com/mwiater/chorus/internal/providers"
)

// Provider delegates calls to an underlying adapter based on descriptor protocol.
type Provider struct {
	adapters map[providers.Protocol]providers.Adapter
}

// New constructs a Provider from a map of protocol to adapter implementation.
// ProtocolCustom falls back to the OpenAI-compatible adapter when it has no entry of its own.
func New(adapterMap map[providers.Protocol]providers.Adapter) *Provider {
	normalized := make(map[providers.Protocol]providers.Adapter, len(adapterMap))
	for key, adapter := range adapterMap {
		if adapter != nil {
			normalized[key] = adapter
		}
	}
	if _, ok := normalized[providers.ProtocolCustom]; !ok {
		if fallback, ok := normalized[providers.ProtocolOpenAICompatible]; ok {
			normalized[providers.ProtocolCustom] = fallback
		}
	}
	return &Provider{adapters: normalized}
}

// Query forwards to the adapter registered for desc.Protocol. A descriptor with no
// registered adapter settles as a configuration failure.
func (p *Provider) Query(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
	adapter, err := p.adapterFor(desc)
	if err != nil {
		return providers.Fail(desc.ID, err)
	}
	return adapter.Query(ctx, message, desc, limits)
}

func (p *Provider) adapterFor(desc providers.Descriptor) (providers.Adapter, error) {
	protocol := desc.Protocol
	if desc.Kind == providers.KindHosted {
		protocol = providers.ProtocolAggregator
	}
	if adapter, ok := p.adapters[protocol]; ok {
		return adapter, nil
	}
	return nil, providers.Errorf(providers.ErrConfiguration, "no adapter registered for %s backend %q (protocol %s)", desc.Kind, desc.ID, protocol)
}
