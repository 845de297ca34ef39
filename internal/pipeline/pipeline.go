// Package pipeline sequences the fetch, load, and enrich stages in process.
// The external scheduler only triggers cycles and retries failed stages;
// nothing here retries its own units.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/telepharm/internal/enricher"
	"github.com/xaenox/telepharm/internal/fetcher"
	"github.com/xaenox/telepharm/internal/loader"
)

// StageResult is the structured outcome of one stage invocation.
type StageResult struct {
	Stage    string
	RunID    string
	Duration time.Duration
	Counts   Counts
	Err      error
}

// Counts carries the per-stage totals; unused fields stay zero.
type Counts struct {
	Channels    int
	Fetched     int
	Images      int
	RateLimited int
	Artifacts   int
	Inserted    int
	Skipped     int
	Enriched    int
	Detections  int
	Missing     int
	Failed      int
}

type Pipeline struct {
	fetcher  *fetcher.Fetcher
	loader   *loader.Loader
	enricher *enricher.Enricher
	logger   *zap.Logger
}

func New(f *fetcher.Fetcher, l *loader.Loader, e *enricher.Enricher, logger *zap.Logger) *Pipeline {
	return &Pipeline{fetcher: f, loader: l, enricher: e, logger: logger}
}

// RunCycle executes fetch, load, and enrich in order under one run id. It
// stops at the first failed stage and returns the results gathered so far
// together with that stage's error.
func (p *Pipeline) RunCycle(ctx context.Context) ([]StageResult, error) {
	runID := uuid.New().String()
	logger := p.logger.With(zap.String("run_id", runID))
	logger.Info("Starting pipeline cycle")

	stages := []func(context.Context, string) StageResult{
		p.runFetch,
		p.runLoad,
		p.runEnrich,
	}

	var results []StageResult
	for _, stage := range stages {
		res := stage(ctx, runID)
		results = append(results, res)
		if res.Err != nil {
			logger.Error("Stage failed",
				zap.String("stage", res.Stage), zap.Error(res.Err))
			return results, fmt.Errorf("stage %s: %w", res.Stage, res.Err)
		}
		logger.Info("Stage completed",
			zap.String("stage", res.Stage),
			zap.Duration("duration", res.Duration))
	}

	logger.Info("Pipeline cycle completed")
	return results, nil
}

func (p *Pipeline) runFetch(ctx context.Context, runID string) StageResult {
	started := time.Now()
	res, err := p.fetcher.Run(ctx)
	return StageResult{
		Stage:    "fetch",
		RunID:    runID,
		Duration: time.Since(started),
		Counts: Counts{
			Channels:    res.Channels,
			Fetched:     res.Messages,
			Images:      res.Images,
			RateLimited: res.RateLimited,
			Failed:      res.Failed,
		},
		Err: err,
	}
}

func (p *Pipeline) runLoad(ctx context.Context, runID string) StageResult {
	started := time.Now()
	res, err := p.loader.Run(ctx)
	return StageResult{
		Stage:    "load",
		RunID:    runID,
		Duration: time.Since(started),
		Counts: Counts{
			Artifacts: res.Artifacts,
			Inserted:  res.Inserted,
			Skipped:   res.Skipped,
			Failed:    res.Failed,
		},
		Err: err,
	}
}

func (p *Pipeline) runEnrich(ctx context.Context, runID string) StageResult {
	started := time.Now()
	res, err := p.enricher.Run(ctx)
	return StageResult{
		Stage:    "enrich",
		RunID:    runID,
		Duration: time.Since(started),
		Counts: Counts{
			Enriched:   res.Images,
			Detections: res.Detections,
			Missing:    res.Missing,
			Failed:     res.Failed,
		},
		Err: err,
	}
}
