package model

import (
	"time"
)

// RunStatus represents the current state of a classification run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusFetching    RunStatus = "fetching"
	RunStatusCompositing RunStatus = "compositing"
	RunStatusSampling    RunStatus = "sampling"
	RunStatusTraining    RunStatus = "training"
	RunStatusClassifying RunStatus = "classifying"
	RunStatusExporting   RunStatus = "exporting"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// RunParams are the inputs a run was started with.
type RunParams struct {
	Collection string    `json:"collection"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Year       int       `json:"year"`
	AOI        string    `json:"aoi"`
	Regions    []string  `json:"regions"`
	Seed       uint64    `json:"seed"`
}

// Run represents a single land-cover classification run.
type Run struct {
	ID        string     `json:"id"`
	Params    RunParams  `json:"params"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Scenes            int            `json:"scenes"`
	TrainingSamples   int            `json:"training_samples"`
	ValidationSamples int            `json:"validation_samples"`
	Observations      int            `json:"observations"`
	ClassCounts       map[string]int `json:"class_counts,omitempty"`
	Normalization     []BandStats    `json:"normalization"`
	Approximate       bool           `json:"normalization_approximate"`
	ClassifiedPixels  int            `json:"classified_pixels"`
	Exports           []ExportResult `json:"exports"`
	Phases            []PhaseResult  `json:"phases"`
	ModelPath         string         `json:"model_path,omitempty"`
}

// FailedExports returns the number of regions that did not export.
func (r *RunResult) FailedExports() int {
	n := 0
	for _, e := range r.Exports {
		if e.Status == ExportStatusFailed {
			n++
		}
	}
	return n
}

// BandStats are the AOI-wide normalization bounds for one band.
type BandStats struct {
	Band       string  `json:"band"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Degenerate bool    `json:"degenerate,omitempty"`
}

// ExportStatus is the outcome of one region export.
type ExportStatus string

const (
	ExportStatusComplete ExportStatus = "complete"
	ExportStatusFailed   ExportStatus = "failed"
)

// ExportResult records what happened to one named region.
type ExportResult struct {
	Region      string       `json:"region"`
	Description string       `json:"description"`
	Status      ExportStatus `json:"status"`
	Width       int          `json:"width,omitempty"`
	Height      int          `json:"height,omitempty"`
	ValidPixels int          `json:"valid_pixels,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// RunPhase represents a phase within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
