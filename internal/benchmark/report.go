// internal/benchmark/report.go
package benchmark

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// PrintReport writes a per-model summary of res to out.
func PrintReport(out io.Writer, res *Result) {
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Benchmark: %d iteration(s), %d model(s)", res.Iterations, len(res.Models))))
	fmt.Fprintf(out, "Prompt: %s\n\n", res.Prompt)

	for _, m := range res.Metrics {
		stats := m.OverallStats
		fmt.Fprintf(out, "%s\n", m.ModelName)
		fmt.Fprintf(out, "  requests: %d, failures: %d\n", stats.TotalRequests, m.Failures)
		fmt.Fprintf(out, "  latency:  mean %.0fms, stddev %.0fms, min %.0fms, max %.0fms\n",
			stats.LatencyMillis.Mean, stats.LatencyMillis.StdDev(), stats.LatencyMillis.Min, stats.LatencyMillis.Max)
		if stats.TotalTokens.Count > 0 {
			fmt.Fprintf(out, "  tokens:   mean %.1f output, %.1f total\n", stats.OutputTokens.Mean, stats.TotalTokens.Mean)
		}
		if len(m.FailuresByKind) > 0 {
			kinds := make([]string, 0, len(m.FailuresByKind))
			for k, n := range m.FailuresByKind {
				kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
			}
			sort.Strings(kinds)
			fmt.Fprintln(out, failStyle.Render("  failed:   "+strings.Join(kinds, ", ")))
		}
	}

	var total int64
	for _, r := range res.Rounds {
		total += r.ElapsedMillis
	}
	if n := len(res.Rounds); n > 0 {
		fmt.Fprintf(out, "\n%d round(s), mean round time %dms\n", n, total/int64(n))
	}
	if res.File != "" {
		fmt.Fprintf(out, "Results written to %s\n", res.File)
	}
}
