// internal/metrics/provider.go
package metrics

import (
	"context"
	"time"

	"github.com/mwiater/chorus/internal/logging"
	"github.com/mwiater/chorus/internal/providers"
)

// Provider is a decorator that wraps an Adapter to record metrics.
type Provider struct {
	wrapped    providers.Adapter
	aggregator *Aggregator
}

// NewProvider creates a new metrics-enabled provider that wraps an existing Adapter.
func NewProvider(wrapped providers.Adapter, aggregator *Aggregator) *Provider {
	logging.LogEvent("[METRICS] Wrapping adapter with metrics provider")
	return &Provider{wrapped: wrapped, aggregator: aggregator}
}

// Query times the wrapped adapter's Query and records its outcome.
func (p *Provider) Query(ctx context.Context, message string, desc providers.Descriptor, limits providers.Limits) providers.Result {
	start := time.Now()
	res := p.wrapped.Query(ctx, message, desc, limits)
	if p.aggregator != nil {
		if res.Model == "" {
			res.Model = desc.ID
		}
		p.aggregator.Record(res, time.Since(start))
	}
	return res
}

// Aggregator returns the aggregator the provider records into.
func (p *Provider) Aggregator() *Aggregator {
	return p.aggregator
}
