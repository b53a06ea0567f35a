// Package store persists run history and the labeled reference and region
// geometries the pipeline reads.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover/internal/geo"
	"github.com/sells-group/landcover/internal/model"
)

// ErrNotFound is returned when a run, phase or region does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Year         int             `json:"year,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for classification runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, result *model.RunResult, reason string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
	ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error)

	// Reference geometries
	SaveLabels(ctx context.Context, samples []model.LabeledSample) (int, error)
	LoadLabeledGeometries(ctx context.Context, class model.Class) ([]model.LabeledSample, error)
	CountLabels(ctx context.Context) (map[model.Class]int, error)
	SaveRegions(ctx context.Context, regions []model.Region) (int, error)
	LoadRegionGeometry(ctx context.Context, name string) (geo.Geometry, error)
	ListRegions(ctx context.Context) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// RegionKey normalizes a region name for storage and lookup.
func RegionKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
