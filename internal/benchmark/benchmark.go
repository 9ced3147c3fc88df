// internal/benchmark/benchmark.go
package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mwiater/chorus/internal/dispatch"
	"github.com/mwiater/chorus/internal/logging"
	"github.com/mwiater/chorus/internal/metrics"
	"github.com/mwiater/chorus/internal/providers"
)

// DefaultPrompt is sent when no prompt is given.
const DefaultPrompt = "List 3 different fruits in alphabetical order? None of the three can be an apple."

// ErrNoIterations is returned when Options.Iterations is not positive.
var ErrNoIterations = errors.New("benchmark needs at least one iteration")

// Options controls a benchmark run.
type Options struct {
	Iterations int
	Prompt     string
	// OutputDir receives a JSON copy of the result when set.
	OutputDir string
}

// RoundSummary describes one settled round of a run.
type RoundSummary struct {
	Iteration     int   `json:"iteration"`
	ElapsedMillis int64 `json:"elapsed_ms"`
	Succeeded     int   `json:"succeeded"`
	Failed        int   `json:"failed"`
}

// Result is the outcome of a benchmark run.
type Result struct {
	Models     []string               `json:"models"`
	Prompt     string                 `json:"prompt"`
	Iterations int                    `json:"iterations"`
	StartedUTC time.Time              `json:"started_utc"`
	Rounds     []RoundSummary         `json:"rounds"`
	Metrics    []metrics.ModelMetrics `json:"metrics"`
	// File is where the result was written, if anywhere.
	File string `json:"-"`
}

// Run sends the same prompt to models opts.Iterations times, one Batch round after another,
// and collects per-model latency and token statistics.
func Run(ctx context.Context, adapter providers.Adapter, resolver dispatch.Resolver, models []string, opts Options) (*Result, error) {
	if opts.Iterations <= 0 {
		return nil, ErrNoIterations
	}
	prompt := strings.TrimSpace(opts.Prompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}

	agg := metrics.NewAggregator("")
	d := dispatch.New(metrics.NewProvider(adapter, agg))

	res := &Result{
		Models:     append([]string(nil), models...),
		Prompt:     prompt,
		Iterations: opts.Iterations,
		StartedUTC: time.Now().UTC(),
		Rounds:     make([]RoundSummary, 0, opts.Iterations),
	}
	logging.LogEvent("benchmark: %d iteration(s) over %s", opts.Iterations, strings.Join(models, ", "))

	for i := 1; i <= opts.Iterations; i++ {
		round, err := d.Batch(ctx, resolver, dispatch.QueryRequest{Message: prompt, ModelIDs: models})
		if err != nil {
			return nil, err
		}
		failed := len(round.Failures())
		res.Rounds = append(res.Rounds, RoundSummary{
			Iteration:     i,
			ElapsedMillis: round.Elapsed().Milliseconds(),
			Succeeded:     len(models) - failed,
			Failed:        failed,
		})
		if ctx.Err() != nil {
			break
		}
	}
	res.Metrics = agg.Snapshot()

	if opts.OutputDir != "" {
		path, err := writeResult(opts.OutputDir, res)
		if err != nil {
			return res, err
		}
		res.File = path
	}
	return res, nil
}

func writeResult(dir string, res *Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating results directory: %w", err)
	}
	name := fmt.Sprintf("%s-%d.json", Slugify(strings.Join(res.Models, "-")), res.Iterations)
	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("error creating result file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(res); err != nil {
		return "", fmt.Errorf("error writing results to file: %w", err)
	}
	logging.LogEvent("benchmark results written to %s", path)
	return path, nil
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9_]+`)
	slugDashes  = regexp.MustCompile(`-+`)
)

// Slugify converts a string into a file-name friendly slug, replacing colons and slashes
// with underscores.
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(":", "_", "/", "_").Replace(s)
	s = slugInvalid.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-_")
}
