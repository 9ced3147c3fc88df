// Package chat assembles the dispatcher, adapter stack, and metrics aggregator shared by the
// interactive chat and the one-shot ask command.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/mwiater/chorus/internal/appconfig"
	"github.com/mwiater/chorus/internal/catalog"
	"github.com/mwiater/chorus/internal/dispatch"
	"github.com/mwiater/chorus/internal/logging"
	"github.com/mwiater/chorus/internal/metrics"
	"github.com/mwiater/chorus/internal/providerfactory"
)

// ErrNoModels is returned when neither the caller nor the configuration selects a model.
var ErrNoModels = errors.New("no models selected: pass --models or set defaultModels in the config")

// Session holds everything needed to run rounds from a terminal.
type Session struct {
	Config     appconfig.Config
	Models     []string
	Dispatcher *dispatch.Dispatcher
	Aggregator *metrics.Aggregator
}

// NewSession builds a session over a copy of cfg. A nil cfg falls back to appconfig.Default.
// When models is empty the configured defaultModels are used.
func NewSession(cfg *appconfig.Config, models []string) (*Session, error) {
	var c appconfig.Config
	if cfg == nil {
		c = appconfig.Default()
	} else {
		c = *cfg
	}
	c.ApplyDefaults()

	selected := cleanModels(models)
	if len(selected) == 0 {
		selected = cleanModels(c.DefaultModels)
	}
	if len(selected) == 0 {
		return nil, ErrNoModels
	}

	var agg *metrics.Aggregator
	if c.Metrics {
		agg = metrics.NewAggregator(c.MetricsFile)
	}
	adapter, err := providerfactory.NewAdapter(&c, agg)
	if err != nil {
		if agg != nil {
			_ = agg.Close()
		}
		return nil, err
	}

	logging.WithFields(logging.Fields{"models": strings.Join(selected, ",")}).Debug("chat session ready")
	return &Session{
		Config:     c,
		Models:     selected,
		Dispatcher: dispatch.New(adapter, dispatch.WithStrictContent(c.StrictContent)),
		Aggregator: agg,
	}, nil
}

// Resolver returns a resolver over the session's configuration. Callers take a fresh one per
// round so credentials are read when the round starts.
func (s *Session) Resolver() dispatch.Resolver {
	return catalog.NewResolver(s.Config)
}

// Request builds a query for the session's models.
func (s *Session) Request(message string) dispatch.QueryRequest {
	return dispatch.QueryRequest{
		Message:  message,
		ModelIDs: append([]string(nil), s.Models...),
	}
}

// Close flushes collected metrics.
func (s *Session) Close() error {
	if s.Aggregator == nil {
		return nil
	}
	return s.Aggregator.Close()
}

// Run builds a session, hands it to start, and closes it when start returns.
func Run(ctx context.Context, cfg *appconfig.Config, models []string, start func(context.Context, *Session) error) error {
	session, err := NewSession(cfg, models)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logging.LogEvent("[METRICS] close failed: %v", err)
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return start(ctx, session)
}

// cleanModels trims ids, drops blanks, and splits comma-separated entries.
func cleanModels(models []string) []string {
	var out []string
	for _, m := range models {
		for _, part := range strings.Split(m, ",") {
			if id := strings.TrimSpace(part); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}
