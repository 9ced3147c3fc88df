// internal/providerfactory/factory.go
package providerfactory

import (
	"fmt"

	"github.com/mwiater/chorus/internal/appconfig"
	"github.com/mwiater/chorus/internal/logging"
	"github.com/mwiater/chorus/internal/metrics"
	"github.com/mwiater/chorus/internal/providers"
	"github.com/mwiater/chorus/internal/providers/multiplex"
	"github.com/mwiater/chorus/internal/providers/ollama"
	"github.com/mwiater/chorus/internal/providers/openaicompat"
	"github.com/mwiater/chorus/internal/providers/openrouter"
)

// NewAdapter builds the adapter the dispatcher talks to: a multiplexer over the hosted,
// Ollama-style and OpenAI-compatible adapters, wrapped with metrics collection when
// cfg.Metrics is set and an aggregator is supplied.
func NewAdapter(cfg *appconfig.Config, aggregator *metrics.Aggregator) (providers.Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config provided to provider factory")
	}

	protocols, err := collectProtocols(cfg)
	if err != nil {
		return nil, err
	}

	client := providers.NewHTTPClient()
	adapters := map[providers.Protocol]providers.Adapter{
		providers.ProtocolAggregator: openrouter.New(
			openrouter.WithClient(client),
			openrouter.WithAttribution(cfg.Referer, cfg.Title),
		),
	}
	if protocols[providers.ProtocolGenerateChat] {
		adapters[providers.ProtocolGenerateChat] = ollama.New(client)
	}
	if protocols[providers.ProtocolOpenAICompatible] || protocols[providers.ProtocolCustom] {
		adapters[providers.ProtocolOpenAICompatible] = openaicompat.New(client)
	}

	var adapter providers.Adapter = multiplex.New(adapters)
	if cfg.Metrics && aggregator != nil {
		adapter = metrics.NewProvider(adapter, aggregator)
	}
	logging.LogEvent("adapter ready: %d protocol(s), metrics=%t", len(adapters), cfg.Metrics && aggregator != nil)
	return adapter, nil
}

// collectProtocols returns the protocols used by the enabled backends.
func collectProtocols(cfg *appconfig.Config) (map[providers.Protocol]bool, error) {
	protocols := make(map[providers.Protocol]bool)
	for _, b := range cfg.EnabledBackends() {
		p, err := providers.ParseProtocol(b.Protocol)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", b.ID, err)
		}
		protocols[p] = true
	}
	return protocols, nil
}
