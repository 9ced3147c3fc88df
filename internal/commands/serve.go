// internal/commands/serve.go
package chorus

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/mwiater/chorus/internal/appconfig"
	"github.com/mwiater/chorus/internal/dispatch"
	"github.com/mwiater/chorus/internal/logging"
	"github.com/mwiater/chorus/internal/metrics"
	"github.com/mwiater/chorus/internal/providerfactory"
	"github.com/mwiater/chorus/internal/server"
)

var serveAddr string

// serveCmd runs the HTTP chat API.
var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Serve the multi-model chat API over HTTP",
	Long:        `The 'serve' command exposes POST /api/chat (batch) and POST /api/chat/stream (Server-Sent Events), plus GET /api/models, GET /api/metrics and GET /health.`,
	Annotations: map[string]string{consoleLogAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		if serveAddr != "" {
			cfg.ListenAddr = serveAddr
		}

		srv, agg, err := newServer(cfg)
		if err != nil {
			return err
		}
		if agg != nil {
			defer func() {
				if err := agg.Close(); err != nil {
					logging.LogEvent("[METRICS] close failed: %v", err)
				}
			}()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx, cfg.ListenAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides listenAddr)")
	rootCmd.AddCommand(serveCmd)
}

// newServer wires the adapter stack, dispatcher and metrics aggregator behind the HTTP API.
func newServer(cfg appconfig.Config) (*server.Server, *metrics.Aggregator, error) {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	var agg *metrics.Aggregator
	if cfg.Metrics {
		agg = metrics.NewAggregator(cfg.MetricsFile)
	}
	adapter, err := providerfactory.NewAdapter(&cfg, agg)
	if err != nil {
		if agg != nil {
			_ = agg.Close()
		}
		return nil, nil, err
	}
	d := dispatch.New(adapter, dispatch.WithStrictContent(cfg.StrictContent))
	return server.New(cfg, d, agg), agg, nil
}
