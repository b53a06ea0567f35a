// Package pipeline runs one land-cover classification end to end: fetch,
// mask, composite, derive indices, normalize, sample, train, classify and
// export, recording every phase in the store.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover/internal/composite"
	"github.com/sells-group/landcover/internal/config"
	"github.com/sells-group/landcover/internal/export"
	"github.com/sells-group/landcover/internal/forest"
	"github.com/sells-group/landcover/internal/geo"
	"github.com/sells-group/landcover/internal/indices"
	"github.com/sells-group/landcover/internal/mask"
	"github.com/sells-group/landcover/internal/model"
	"github.com/sells-group/landcover/internal/normalize"
	"github.com/sells-group/landcover/internal/predict"
	"github.com/sells-group/landcover/internal/raster"
	"github.com/sells-group/landcover/internal/sample"
	"github.com/sells-group/landcover/internal/scene"
	"github.com/sells-group/landcover/internal/store"
)

// Pipeline orchestrates a classification run.
type Pipeline struct {
	cfg    *config.Config
	store  store.Store
	source scene.Source
	sink   export.Sink
}

// New creates a Pipeline. src should already carry any retry policy.
func New(cfg *config.Config, st store.Store, src scene.Source, sink export.Sink) *Pipeline {
	return &Pipeline{cfg: cfg, store: st, source: src, sink: sink}
}

// Output is what a finished run produced.
type Output struct {
	RunID  string
	Result *model.RunResult
	// Features is the median composite with index bands, before
	// normalization.
	Features   *raster.Image
	Normalized *raster.Image
	Classified *raster.Image
	Forest     *forest.Forest
	Stats      *normalize.Stats
}

// ParamsFromConfig builds run parameters from the run section.
func ParamsFromConfig(cfg *config.Config) (model.RunParams, error) {
	start, end, err := cfg.Run.DateRange()
	if err != nil {
		return model.RunParams{}, err
	}
	regions := cfg.Run.Regions
	if len(regions) == 0 {
		regions = config.DefaultRegions
	}
	return model.RunParams{
		Collection: cfg.Source.Collection,
		Start:      start,
		End:        end,
		Year:       cfg.Run.Year,
		AOI:        cfg.Run.AOI,
		Regions:    regions,
		Seed:       cfg.Run.Seed,
	}, nil
}

// Run executes the pipeline. A fatal error marks the run failed and is
// returned; per-region export failures are recorded in the result only.
func (p *Pipeline) Run(ctx context.Context, params model.RunParams) (*Output, error) {
	log := zap.L().With(zap.Int("year", params.Year), zap.String("aoi", params.AOI))
	log.Info("pipeline: starting classification")

	run, err := p.store.CreateRun(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log = log.With(zap.String("run_id", run.ID))

	out := &Output{RunID: run.ID, Result: &model.RunResult{}}
	result := out.Result

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	var phasesMu sync.Mutex
	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) error {
		phase, phaseErr := p.store.CreatePhase(ctx, run.ID, name)
		if phaseErr != nil {
			log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		start := time.Now()
		phaseResult, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = duration

		if fnErr != nil {
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			phaseResult.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			if err := p.store.CompletePhase(ctx, phase.ID, phaseResult); err != nil {
				log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(err))
			}
		}
		phasesMu.Lock()
		result.Phases = append(result.Phases, *phaseResult)
		phasesMu.Unlock()
		return fnErr
	}

	fail := func(err error) (*Output, error) {
		if failErr := p.store.FailRun(context.WithoutCancel(ctx), run.ID, result, err.Error()); failErr != nil {
			log.Warn("pipeline: failed to record failure", zap.Error(failErr))
		}
		log.Error("pipeline: run failed", zap.Error(err))
		return out, err
	}

	// ===== Phase 1: Fetch and mask =====
	setStatus(model.RunStatusFetching)

	var aoi geo.Geometry
	var scenes []*raster.Image
	if err := trackPhase("1_fetch", func() (*model.PhaseResult, error) {
		var err error
		aoi, err = p.store.LoadRegionGeometry(ctx, params.AOI)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: load aoi %s", params.AOI)
		}
		scenes, err = p.fetch(ctx, params)
		if err != nil {
			return nil, err
		}
		result.Scenes = len(scenes)
		return &model.PhaseResult{Metadata: map[string]any{"scenes": len(scenes)}}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 2: Composite =====
	setStatus(model.RunStatusCompositing)

	var features *raster.Image
	var region []bool
	if err := trackPhase("2_composite", func() (*model.PhaseResult, error) {
		comp, err := composite.Compose(ctx, scenes, aoi, composite.Options{
			TileSize: p.cfg.Composite.TileSize,
			Workers:  p.cfg.Composite.Workers,
		})
		if err != nil {
			return nil, err
		}
		scenes = nil

		if features, err = indices.Add(comp); err != nil {
			return nil, err
		}
		out.Features = features
		if region, err = geo.Rasterize(aoi, features.Grid); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"bands":       features.BandNames(),
			"valid_cells": features.CountValid(),
		}}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 3: Normalize =====
	if err := trackPhase("3_normalize", func() (*model.PhaseResult, error) {
		normalized, stats, err := normalize.Normalize(ctx, features, region, normalize.Options{
			Scale:      p.cfg.Normalize.Scale,
			MaxPixels:  p.cfg.Normalize.MaxPixels,
			BestEffort: p.cfg.Normalize.BestEffort,
			TileSize:   p.cfg.Normalize.TileSize,
			Workers:    p.cfg.Normalize.Workers,
		})
		if err != nil {
			return nil, err
		}
		features = normalized
		out.Normalized = normalized
		out.Stats = stats
		result.Normalization = stats.Model()
		result.Approximate = stats.Approximate
		return &model.PhaseResult{Metadata: map[string]any{
			"stride":      stats.Stride,
			"sampled":     stats.Sampled,
			"approximate": stats.Approximate,
		}}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 4: Sample =====
	setStatus(model.RunStatusSampling)

	var table *sample.Table
	if err := trackPhase("4_sample", func() (*model.PhaseResult, error) {
		collections := make([][]model.LabeledSample, 0, len(model.Classes))
		for _, c := range model.Classes {
			labels, err := p.store.LoadLabeledGeometries(ctx, c)
			if err != nil {
				return nil, eris.Wrapf(err, "pipeline: load %s labels", c)
			}
			collections = append(collections, labels)
		}

		merged := sample.Merge(collections...)
		train, validation := sample.Split(merged, sample.NewRand(params.Seed), p.cfg.Sampling.SplitThreshold)
		result.TrainingSamples = len(train)
		result.ValidationSamples = len(validation)

		var err error
		if table, err = sample.Extract(features, train, p.cfg.Sampling.Scale); err != nil {
			return nil, err
		}
		result.Observations = table.Len()
		result.ClassCounts = table.ClassCounts()
		return &model.PhaseResult{Metadata: map[string]any{
			"samples":      len(merged),
			"training":     len(train),
			"validation":   len(validation),
			"observations": table.Len(),
		}}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 5: Train =====
	setStatus(model.RunStatusTraining)

	if err := trackPhase("5_train", func() (*model.PhaseResult, error) {
		labels := make([]int, len(table.Labels))
		for i, c := range table.Labels {
			labels[i] = int(c)
		}
		f, err := forest.Train(ctx, table.Bands, table.Rows, labels, forest.Options{
			Trees:            p.cfg.Forest.Trees,
			MaxDepth:         p.cfg.Forest.MaxDepth,
			MinLeafSize:      p.cfg.Forest.MinLeafSize,
			FeaturesPerSplit: p.cfg.Forest.FeaturesPerSplit,
			Workers:          p.cfg.Forest.Workers,
			Seed:             params.Seed,
		})
		if err != nil {
			return nil, err
		}
		out.Forest = f

		path, err := p.saveModel(f, params.Year)
		if err != nil {
			return nil, err
		}
		result.ModelPath = path
		return &model.PhaseResult{Metadata: map[string]any{
			"trees":   len(f.Trees),
			"classes": f.Classes,
		}}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 6: Classify =====
	setStatus(model.RunStatusClassifying)

	if err := trackPhase("6_classify", func() (*model.PhaseResult, error) {
		classified, err := predict.Classify(ctx, out.Forest, features, predict.Options{
			TileSize: p.cfg.Composite.TileSize,
			Workers:  p.cfg.Composite.Workers,
		})
		if err != nil {
			return nil, err
		}
		out.Classified = classified
		result.ClassifiedPixels = classified.CountValid()
		return &model.PhaseResult{Metadata: map[string]any{"pixels": result.ClassifiedPixels}}, nil
	}); err != nil {
		return fail(err)
	}

	// ===== Phase 7: Export =====
	setStatus(model.RunStatusExporting)

	if err := trackPhase("7_export", func() (*model.PhaseResult, error) {
		regions, missing := p.loadRegions(ctx, params)
		exporter := export.New(p.sink, export.Options{
			Scale:     p.cfg.Export.Scale,
			CRS:       p.cfg.Export.CRS,
			Year:      params.Year,
			Workers:   p.cfg.Export.Workers,
			MaxPixels: p.cfg.Export.MaxPixels,
		})
		byName := make(map[string]model.ExportResult, len(params.Regions))
		for _, r := range append(missing, exporter.ExportAll(ctx, out.Classified, regions)...) {
			byName[r.Region] = r
		}
		for _, name := range params.Regions {
			result.Exports = append(result.Exports, byName[name])
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"regions": len(result.Exports),
			"failed":  result.FailedExports(),
		}}, nil
	}); err != nil {
		return fail(err)
	}

	if err := p.store.UpdateRunResult(ctx, run.ID, result); err != nil {
		log.Warn("pipeline: failed to save run result", zap.Error(err))
	}

	log.Info("pipeline: classification complete",
		zap.Int("scenes", result.Scenes),
		zap.Int("observations", result.Observations),
		zap.Int("classified_pixels", result.ClassifiedPixels),
		zap.Int("exports", len(result.Exports)),
		zap.Int("failed_exports", result.FailedExports()),
	)
	return out, nil
}

// fetch loads and masks every scene in the run's window.
func (p *Pipeline) fetch(ctx context.Context, params model.RunParams) ([]*raster.Image, error) {
	var scenes []*raster.Image
	_, err := scene.Each(ctx, p.source, params.Collection, scene.DateRange{Start: params.Start, End: params.End},
		func(img *raster.Image) error {
			masked, err := mask.Apply(img)
			if err != nil {
				return eris.Wrapf(err, "pipeline: mask %s", img.ID)
			}
			scenes = append(scenes, masked)
			return nil
		})
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, composite.ErrNoScenes
	}
	return scenes, nil
}

// loadRegions resolves region names. Unknown regions become failed
// export results rather than aborting the run.
func (p *Pipeline) loadRegions(ctx context.Context, params model.RunParams) ([]model.Region, []model.ExportResult) {
	var regions []model.Region
	var missing []model.ExportResult
	for _, name := range params.Regions {
		g, err := p.store.LoadRegionGeometry(ctx, name)
		if err != nil {
			zap.L().Warn("pipeline: region unavailable", zap.String("region", name), zap.Error(err))
			missing = append(missing, model.ExportResult{
				Region:      name,
				Description: export.Description(name, params.Year),
				Status:      model.ExportStatusFailed,
				Error:       err.Error(),
			})
			continue
		}
		regions = append(regions, model.Region{Name: name, Geometry: g})
	}
	return regions, missing
}

// saveModel writes the trained forest to <export.dir>/model-<year>.json.
func (p *Pipeline) saveModel(f *forest.Forest, year int) (string, error) {
	dir := p.cfg.Export.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "pipeline: create model directory")
	}
	path := filepath.Join(dir, "model-"+strconv.Itoa(year)+".json")

	file, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: create model file")
	}
	if err := forest.Save(file, f); err != nil {
		_ = file.Close()
		return "", err
	}
	return path, eris.Wrap(file.Close(), "pipeline: close model file")
}
