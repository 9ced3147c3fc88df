package appconfig

import (
	"fmt"
	"io"
)

// ShowConfig prints the current configuration summary. Credentials are redacted.
func ShowConfig(out io.Writer, file string, cfg *Config) {
	if file == "" {
		fmt.Fprintln(out, "No config file loaded (using defaults).")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", file)
	}

	if cfg == nil {
		defaults := Default()
		cfg = &defaults
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  OpenRouter API Key: %s\n", Redact(cfg.OpenRouterAPIKey))
	fmt.Fprintf(out, "  Default Models:     %v\n", cfg.DefaultModels)
	fmt.Fprintf(out, "  Max Tokens:         %d\n", cfg.MaxTokens)
	fmt.Fprintf(out, "  Temperature:        %.2f\n", cfg.DefaultTemperatureValue())
	fmt.Fprintf(out, "  Remote Timeout:     %s\n", cfg.RemoteTimeout())
	fmt.Fprintf(out, "  Local Timeout:      %s\n", cfg.LocalTimeout())
	fmt.Fprintf(out, "  Strict Content:     %v\n", cfg.StrictContent)
	fmt.Fprintf(out, "  Debug:              %v\n", cfg.Debug)
	fmt.Fprintf(out, "  Metrics:            %v\n", cfg.Metrics)
	if cfg.MetricsFile != "" {
		fmt.Fprintf(out, "  Metrics File:       %s\n", cfg.MetricsFile)
	}
	fmt.Fprintf(out, "  Listen Address:     %s\n", cfg.ListenAddr)
	fmt.Fprintf(out, "  Log File:           %s\n", cfg.LogFilePath())

	if len(cfg.Backends) == 0 {
		fmt.Fprintln(out, "  Backends:           none")
		return
	}
	fmt.Fprintln(out, "  Backends:")
	for _, b := range cfg.Backends {
		state := "disabled"
		if b.Enabled {
			state = "enabled"
		}
		fmt.Fprintf(out, "    - %s (%s, %s) %s key=%s timeout=%s\n", b.ID, b.Protocol, state, b.Endpoint, Redact(b.APIKey), cfg.Timeout(b))
	}
}

// Redact masks all but the last four characters of a secret.
func Redact(secret string) string {
	switch {
	case secret == "":
		return "(not set)"
	case len(secret) <= 4:
		return "****"
	default:
		return "****" + secret[len(secret)-4:]
	}
}
