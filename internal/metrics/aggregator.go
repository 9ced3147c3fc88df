// internal/metrics/aggregator.go
package metrics

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mwiater/chorus/internal/logging"
	"github.com/mwiater/chorus/internal/providers"
)

// Aggregator collects per-model query metrics. When constructed with a file path it loads
// previous metrics from that file and saves them periodically and on Close.
type Aggregator struct {
	mutex    sync.Mutex
	metrics  map[string]*ModelMetrics
	filePath string
	ticker   *time.Ticker
	stop     chan struct{}
	closed   sync.Once
}

// NewAggregator creates an Aggregator. An empty filePath keeps metrics in memory only.
func NewAggregator(filePath string) *Aggregator {
	agg := &Aggregator{
		metrics:  make(map[string]*ModelMetrics),
		filePath: filePath,
	}
	if filePath == "" {
		return agg
	}

	agg.load()

	ticker := time.NewTicker(1 * time.Minute)
	stop := make(chan struct{})
	agg.ticker = ticker
	agg.stop = stop
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := agg.save(); err != nil {
					logging.LogEvent("[METRICS] save failed: %v", err)
				}
			case <-stop:
				return
			}
		}
	}()

	return agg
}

// load reads metrics from the JSON file into memory.
func (a *Aggregator) load() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	data, err := os.ReadFile(a.filePath)
	if err != nil {
		return
	}

	var metricsSlice []*ModelMetrics
	if err := json.Unmarshal(data, &metricsSlice); err != nil {
		logging.LogEvent("[METRICS] ignoring unreadable metrics file %s: %v", a.filePath, err)
		return
	}

	for _, m := range metricsSlice {
		a.metrics[m.ModelName] = m
	}
}

// save writes the current metrics from memory to the JSON file.
func (a *Aggregator) save() error {
	if a.filePath == "" {
		return nil
	}
	logging.LogEvent("[METRICS] Saving metrics to %s", a.filePath)

	data, err := json.MarshalIndent(a.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(a.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(a.filePath, data, 0o644)
}

// Record updates the metrics for res.Model with one settled query.
func (a *Aggregator) Record(res providers.Result, latency time.Duration) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	modelMetrics, exists := a.metrics[res.Model]
	if !exists {
		modelMetrics = &ModelMetrics{
			ModelName: res.Model,
		}
		a.metrics[res.Model] = modelMetrics
	}

	modelMetrics.LastUpdatedUTC = time.Now().UTC()

	if !res.OK() {
		modelMetrics.Failures++
		if modelMetrics.FailuresByKind == nil {
			modelMetrics.FailuresByKind = make(map[string]int64)
		}
		modelMetrics.FailuresByKind[res.ErrorKind.String()]++
		modelMetrics.OverallStats.TotalRequests++
		updateRunningStat(&modelMetrics.OverallStats.LatencyMillis, float64(latency.Milliseconds()))
		return
	}

	var usage providers.Usage
	if res.Usage != nil {
		usage = *res.Usage
	}
	updateStats(&modelMetrics.OverallStats, usage, latency)

	bucket := getBucket(usage.PromptTokens)
	for i := range modelMetrics.PerformanceBuckets {
		if modelMetrics.PerformanceBuckets[i].Dimension == "input_tokens" && modelMetrics.PerformanceBuckets[i].Bucket == bucket {
			updateStats(&modelMetrics.PerformanceBuckets[i].Stats, usage, latency)
			return
		}
	}
	newBucket := PerformanceBucket{
		Dimension: "input_tokens",
		Bucket:    bucket,
	}
	updateStats(&newBucket.Stats, usage, latency)
	modelMetrics.PerformanceBuckets = append(modelMetrics.PerformanceBuckets, newBucket)
}

// Snapshot returns a copy of every model's metrics sorted by model name.
func (a *Aggregator) Snapshot() []ModelMetrics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	out := make([]ModelMetrics, 0, len(a.metrics))
	for _, m := range a.metrics {
		c := *m
		c.PerformanceBuckets = append([]PerformanceBucket(nil), m.PerformanceBuckets...)
		if m.FailuresByKind != nil {
			c.FailuresByKind = make(map[string]int64, len(m.FailuresByKind))
			for k, v := range m.FailuresByKind {
				c.FailuresByKind[k] = v
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelName < out[j].ModelName })
	return out
}

// Model returns a copy of the metrics recorded for model.
func (a *Aggregator) Model(model string) (ModelMetrics, bool) {
	for _, m := range a.Snapshot() {
		if m.ModelName == model {
			return m, true
		}
	}
	return ModelMetrics{}, false
}

// Reset drops every recorded metric.
func (a *Aggregator) Reset() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.metrics = make(map[string]*ModelMetrics)
}

// updateStats updates the running statistics with one successful query.
func updateStats(stats *RunningAggregatedStats, usage providers.Usage, latency time.Duration) {
	stats.TotalRequests++
	updateRunningStat(&stats.LatencyMillis, float64(latency.Milliseconds()))
	updateRunningStat(&stats.InputTokens, float64(usage.PromptTokens))
	updateRunningStat(&stats.OutputTokens, float64(usage.CompletionTokens))
	updateRunningStat(&stats.TotalTokens, float64(usage.TotalTokens))
}

// updateRunningStat updates a single running statistic using Welford's online algorithm.
func updateRunningStat(rs *RunningStat, value float64) {
	rs.Count++
	if rs.Count == 1 {
		rs.Min = value
		rs.Max = value
	} else {
		if value < rs.Min {
			rs.Min = value
		}
		if value > rs.Max {
			rs.Max = value
		}
	}

	delta := value - rs.Mean
	rs.Mean += delta / float64(rs.Count)
	delta2 := value - rs.Mean
	rs.M2 += delta * delta2
}

// getBucket determines the appropriate performance bucket for a given number of input tokens.
func getBucket(inputTokens int) string {
	switch {
	case inputTokens <= 256:
		return "0-256"
	case inputTokens <= 1024:
		return "257-1024"
	case inputTokens <= 4096:
		return "1025-4096"
	case inputTokens <= 8192:
		return "4097-8192"
	default:
		return "8192+"
	}
}

// Close stops periodic saving and writes the metrics one last time.
// Close is safe to call more than once; only the first call saves.
func (a *Aggregator) Close() error {
	if a.ticker == nil {
		return nil
	}
	var err error
	a.closed.Do(func() {
		a.ticker.Stop()
		close(a.stop)
		if saveErr := a.save(); saveErr != nil && !errors.Is(saveErr, os.ErrNotExist) {
			err = saveErr
		}
	})
	return err
}
