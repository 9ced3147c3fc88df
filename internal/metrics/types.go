// internal/metrics/types.go
package metrics

import (
	"math"
	"time"
)

// ModelMetrics is the aggregated document for a single model.
type ModelMetrics struct {
	ModelName      string                 `json:"model_name"`
	LastUpdatedUTC time.Time              `json:"last_updated_utc"`
	Failures       int64                  `json:"failures"`
	FailuresByKind map[string]int64       `json:"failures_by_kind,omitempty"`
	OverallStats   RunningAggregatedStats `json:"overall_stats"`
	// PerformanceBuckets group successful requests by prompt size.
	PerformanceBuckets []PerformanceBucket `json:"performance_buckets"`
}

// PerformanceBucket holds aggregated stats for a specific dimension, like input token count.
type PerformanceBucket struct {
	Dimension string                 `json:"dimension"`
	Bucket    string                 `json:"bucket"`
	Stats     RunningAggregatedStats `json:"stats"`
}

// RunningAggregatedStats stores the running statistical values for a set of metrics.
// It uses Welford's online algorithm for calculating mean and standard deviation.
type RunningAggregatedStats struct {
	TotalRequests int64 `json:"total_requests"`

	LatencyMillis RunningStat `json:"latency_ms"`
	InputTokens   RunningStat `json:"input_tokens"`
	OutputTokens  RunningStat `json:"output_tokens"`
	TotalTokens   RunningStat `json:"total_tokens"`
}

// RunningStat holds the necessary values for online calculation of mean, variance, and stddev.
type RunningStat struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"` // Sum of squares of differences from the current mean
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// StdDev returns the sample standard deviation.
func (rs RunningStat) StdDev() float64 {
	if rs.Count < 2 {
		return 0
	}
	return math.Sqrt(rs.M2 / float64(rs.Count-1))
}
