//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landcover/internal/geo"
	"github.com/sells-group/landcover/internal/model"
	"github.com/sells-group/landcover/internal/monitoring"
	"github.com/sells-group/landcover/internal/scene"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:     "abc12345-6789-0000-0000-000000000000",
			Params: model.RunParams{Year: 2010, AOI: "alabama"},
			Status: model.RunStatusComplete,
			Result: &model.RunResult{Exports: []model.ExportResult{
				{Region: "mobile", Status: model.ExportStatusComplete},
				{Region: "auburn", Status: model.ExportStatusFailed},
			}},
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Params:    model.RunParams{Year: 2015, AOI: "alabama"},
			Status:    model.RunStatusTraining,
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "2010")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "1/2")
	assert.Contains(t, output, "training")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "2m0s")
}

func TestFormatPhases(t *testing.T) {
	phases := []model.RunPhase{
		{Name: "1_fetch", Status: model.PhaseStatusComplete, Result: &model.PhaseResult{Duration: 1500}},
		{Name: "5_train", Status: model.PhaseStatusFailed, Result: &model.PhaseResult{Duration: 20, Error: "only one class"}},
		{Name: "6_classify", Status: model.PhaseStatusRunning},
	}

	var buf bytes.Buffer
	formatPhases(&buf, phases)

	output := buf.String()
	assert.Contains(t, output, "1_fetch")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "only one class")
	assert.Contains(t, output, "running")
}

func TestFormatScenes(t *testing.T) {
	refs := []scene.Ref{{ID: "LT05_021037_20100412", Acquired: time.Date(2010, 4, 12, 0, 0, 0, 0, time.UTC), CRS: "EPSG:32616", Width: 20, Height: 10}}

	var buf bytes.Buffer
	formatScenes(&buf, refs)
	assert.Contains(t, buf.String(), "2010-04-12")
	assert.Contains(t, buf.String(), "20x10")
}

func TestFormatRunStats(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		RunsTotal:      4,
		RunsComplete:   2,
		RunsFailed:     1,
		RunsActive:     1,
		AvgDurSecs:     90,
		ExportsTotal:   14,
		ExportsFailed:  2,
		FailingRegions: []string{"mobile"},
	}

	var buf bytes.Buffer
	formatRunStats(&buf, snap)

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "90.0s")
	assert.Contains(t, output, "14 (2 failed)")
	assert.Contains(t, output, "mobile")
	assert.NotContains(t, output, "Approximate")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000"))
	assert.Equal(t, "short", truncateID("short"))
}

func square(x0, y0 float64) geo.Geometry {
	return geo.Geometry{Geom: orb.Polygon{{{x0, y0}, {x0 + 1, y0}, {x0 + 1, y0 + 1}, {x0, y0 + 1}, {x0, y0}}}, SRID: 4326}
}

func TestLabelSamples(t *testing.T) {
	features := []geo.Feature{
		{Geometry: square(0, 0), Properties: map[string]any{"landcover": float64(2)}},
		{Geometry: square(1, 1), Properties: map[string]any{"landcover": "vegetation"}},
	}

	samples, err := labelSamples(features, "", "landcover")
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, model.ClassWater, samples[0].Class)
	assert.Equal(t, model.ClassVegetation, samples[1].Class)

	fixed, err := labelSamples(features, "urban", "landcover")
	require.NoError(t, err)
	assert.Equal(t, model.ClassUrban, fixed[0].Class)
	assert.Equal(t, model.ClassUrban, fixed[1].Class)

	_, err = labelSamples(features, "", "class")
	assert.Error(t, err)

	_, err = labelSamples([]geo.Feature{{Geometry: square(0, 0), Properties: map[string]any{"landcover": "7"}}}, "", "landcover")
	assert.Error(t, err)
}

func TestNamedRegions(t *testing.T) {
	features := []geo.Feature{{Geometry: square(0, 0), Properties: map[string]any{"name": "Mobile"}}}

	regions, err := namedRegions(features, "name")
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "Mobile", regions[0].Name)

	point := []geo.Feature{{Geometry: geo.Geometry{Geom: orb.Point{1, 1}, SRID: 4326}, Properties: map[string]any{"name": "x"}}}
	_, err = namedRegions(point, "name")
	assert.Error(t, err)

	_, err = namedRegions(features, "NAME")
	assert.Error(t, err)
}
