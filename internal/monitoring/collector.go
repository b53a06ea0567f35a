package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover/internal/model"
	"github.com/sells-group/landcover/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Runs within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsActive   int     `json:"runs_active"`
	RunFailRate  float64 `json:"run_fail_rate"`
	AvgDurSecs   float64 `json:"avg_duration_secs"`

	// Region exports of completed runs.
	ExportsTotal    int      `json:"exports_total"`
	ExportsFailed   int      `json:"exports_failed"`
	ExportFailRate  float64  `json:"export_fail_rate"`
	FailingRegions  []string `json:"failing_regions,omitempty"`
	ApproximateRuns int      `json:"approximate_runs"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from run history.
type Collector struct {
	runs RunLister
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap := Summarize(runs)
	snap.LookbackHours = lookbackHours
	snap.CollectedAt = now
	return snap, nil
}

// Summarize computes run and export statistics from a set of runs.
func Summarize(runs []model.Run) *MetricsSnapshot {
	snap := &MetricsSnapshot{RunsTotal: len(runs)}

	var totalDur time.Duration
	failing := make(map[string]bool)

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
		case model.RunStatusFailed:
			snap.RunsFailed++
		default:
			snap.RunsActive++
		}

		if r.Result == nil {
			continue
		}
		if r.Result.Approximate {
			snap.ApproximateRuns++
		}
		if r.Status != model.RunStatusComplete {
			continue
		}
		for _, e := range r.Result.Exports {
			snap.ExportsTotal++
			if e.Status == model.ExportStatusFailed {
				snap.ExportsFailed++
				if !failing[e.Region] {
					failing[e.Region] = true
					snap.FailingRegions = append(snap.FailingRegions, e.Region)
				}
			}
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsComplete > 0 {
		snap.AvgDurSecs = totalDur.Seconds() / float64(snap.RunsComplete)
	}
	if snap.ExportsTotal > 0 {
		snap.ExportFailRate = float64(snap.ExportsFailed) / float64(snap.ExportsTotal)
	}
	return snap
}
