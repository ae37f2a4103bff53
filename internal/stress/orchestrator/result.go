package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/configuration"
	"github.com/rustyrazorblade/cassandra-easy-stress/internal/stress/metrics"
)

// Result is the summary of a run written to RunConfig.ResultFile.
type Result struct {
	RunID     string          `json:"runId"`
	Timestamp string          `json:"timestamp"`
	Workload  string          `json:"workload"`
	Config    ConfigSnapshot  `json:"config"`
	Measured  string          `json:"measuredDuration"`
	Errors    int64           `json:"errors"`
	FinalRate float64         `json:"finalRate,omitempty"`
	Latencies []LatencyResult `json:"latencies"`
}

type ConfigSnapshot struct {
	Store       string  `json:"store"`
	Threads     int     `json:"threads"`
	Concurrency int     `json:"concurrency"`
	Rate        float64 `json:"rate"`
	Duration    string  `json:"duration"`
	Warmup      string  `json:"warmup,omitempty"`
	Iterations  int64   `json:"iterations,omitempty"`
	Populate    int64   `json:"populate,omitempty"`
	ReadRate    float64 `json:"readRate"`
	DeleteRate  float64 `json:"deleteRate"`
	MaxLatency  string  `json:"maxLatency,omitempty"`
}

type LatencyResult struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
	P50      string `json:"p50"`
	P95      string `json:"p95"`
	P99      string `json:"p99"`
	P999     string `json:"p999"`
	Max      string `json:"max"`
	Mean     string `json:"mean"`
}

func buildResult(config configuration.RunConfig, workload string, report metrics.Report, measured time.Duration, finalRate float64, now time.Time) Result {
	result := Result{
		RunID:     uuid.New().String(),
		Timestamp: now.UTC().Format(time.RFC3339),
		Workload:  workload,
		Config: ConfigSnapshot{
			Store:       string(config.Store.Type),
			Threads:     config.Threads,
			Concurrency: config.Concurrency,
			Rate:        config.Rate,
			Duration:    config.Duration.String(),
			Iterations:  config.Iterations,
			Populate:    config.Populate,
			ReadRate:    float64(config.ReadRate),
			DeleteRate:  float64(config.DeleteRate),
		},
		Measured:  measured.Round(time.Millisecond).String(),
		Errors:    report.Errors,
		FinalRate: finalRate,
	}
	if config.Warmup > 0 {
		result.Config.Warmup = config.Warmup.String()
	}
	if !config.Unthrottled() {
		result.Config.MaxLatency = config.Optimizer.MaxLatency.String()
	}
	for _, c := range metrics.Categories {
		l := report.Latencies[c]
		result.Latencies = append(result.Latencies, LatencyResult{
			Category: c.String(),
			Count:    l.Count,
			P50:      l.P50.String(),
			P95:      l.P95.String(),
			P99:      l.P99.String(),
			P999:     l.P999.String(),
			Max:      l.Max.String(),
			Mean:     l.Mean.String(),
		})
	}
	return result
}

func writeResult(result Result, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "creating results directory")
		}
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing result to %s", path)
	}
	return nil
}
