// internal/models/models.go
// Package models lists the selectable models and checks that configured self-hosted
// backends answer.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/mwiater/chorus/internal/appconfig"
	"github.com/mwiater/chorus/internal/catalog"
	"github.com/mwiater/chorus/internal/dispatch"
	"github.com/mwiater/chorus/internal/providers"
	"github.com/mwiater/chorus/internal/util"
)

// ProbePrompt is the message sent to every backend by Probe.
const ProbePrompt = "Hello! Please respond with a brief greeting."

// probeSnippetRunes bounds the reply excerpt printed per backend.
const probeSnippetRunes = 100

// ErrNoBackends is returned by Probe when no self-hosted backend is enabled.
var ErrNoBackends = errors.New("no enabled self-hosted backends in configuration")

// ListModels prints the hosted catalog followed by the configured self-hosted backends.
func ListModels(out io.Writer, cfg appconfig.Config) {
	groupStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	disabledStyle := lipgloss.NewStyle().Faint(true)

	var lastKind string
	for _, e := range catalog.Entries(cfg) {
		if e.Kind != lastKind {
			if lastKind != "" {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, groupStyle.Render(e.Kind+":"))
			lastKind = e.Kind
		}
		name := e.Name
		if name == "" {
			name = e.ID
		}
		line := fmt.Sprintf("  >>> %s (%s, %s)", e.ID, name, e.Protocol)
		if !e.Enabled {
			line = disabledStyle.Render(line + " [disabled]")
		}
		fmt.Fprintln(out, line)
	}
}

// ProbeResult is the outcome of probing one backend.
type ProbeResult struct {
	ID      string
	OK      bool
	Snippet string
	Error   string
	Kind    providers.ErrorKind
	Elapsed time.Duration
}

// Probe sends ProbePrompt to every enabled self-hosted backend concurrently and reports
// each reply, in configuration order.
func Probe(ctx context.Context, d *dispatch.Dispatcher, cfg appconfig.Config) ([]ProbeResult, error) {
	backends := cfg.EnabledBackends()
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	ids := make([]string, len(backends))
	for i, b := range backends {
		ids[i] = b.ID
	}

	round, err := d.Batch(ctx, catalog.NewResolver(cfg), dispatch.QueryRequest{
		Message:  ProbePrompt,
		ModelIDs: ids,
	})
	if err != nil {
		return nil, err
	}
	elapsed := round.Elapsed()

	results := make([]ProbeResult, len(round.Entries))
	for i, entry := range round.Entries {
		res := entry.Result
		pr := ProbeResult{ID: entry.ModelID, OK: res.OK(), Kind: res.ErrorKind, Elapsed: elapsed}
		if res.OK() {
			pr.Snippet = util.TruncateRunes(util.SingleLine(res.Content), probeSnippetRunes)
		} else {
			pr.Error = res.ErrorMessage
		}
		results[i] = pr
	}
	return results, nil
}

// PrintProbe writes one line per probed backend and a summary.
func PrintProbe(out io.Writer, results []ProbeResult) {
	ok := color.New(color.FgGreen).SprintFunc()
	failed := color.New(color.FgRed).SprintFunc()

	failures := 0
	for _, r := range results {
		if r.OK {
			fmt.Fprintf(out, "%s %s: %s\n", ok("✓"), r.ID, r.Snippet)
			continue
		}
		failures++
		fmt.Fprintf(out, "%s %s: [%s] %s\n", failed("✗"), r.ID, r.Kind, r.Error)
	}
	fmt.Fprintf(out, "\n%d of %d backend(s) responded\n", len(results)-failures, len(results))
}
