// Package pipeline runs one archive end to end: extract, validate, stream,
// batch, route. Archives are processed strictly sequentially; the extraction
// directory and validation cache are shared between runs, so concurrency
// would mean cross-archive interference.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pcpkit/pcpflux/pkg/config"
	"github.com/pcpkit/pcpflux/pkg/control"
	"github.com/pcpkit/pcpflux/pkg/export"
	"github.com/pcpkit/pcpflux/pkg/history"
	"github.com/pcpkit/pcpflux/pkg/ledger"
	"github.com/pcpkit/pcpflux/pkg/pcp"
	"github.com/pcpkit/pcpflux/pkg/validate"
)

// ErrNoValidMetrics aborts an archive whose inventory survives neither
// probing nor category filtering.
var ErrNoValidMetrics = errors.New("no valid metrics found in archive")

// Pipeline processes archives one at a time.
type Pipeline struct {
	cfg       *config.Config
	log       *logrus.Logger
	extractor pcp.Extractor
	writer    export.PointWriter
	validator *validate.Validator
	streamer  *export.Streamer
	store     *history.Store
	hub       *control.Hub
	status    *control.StatusBoard
}

// Deps are the pipeline's collaborators.
type Deps struct {
	Runner    pcp.Runner
	Extractor pcp.Extractor
	Writer    export.PointWriter
	Ledger    *ledger.Ledger
	History   *history.Store
	Hub       *control.Hub
	Status    *control.StatusBoard
}

// New wires a pipeline from its collaborators.
func New(cfg *config.Config, log *logrus.Logger, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		log:       log,
		extractor: deps.Extractor,
		writer:    deps.Writer,
		validator: validate.New(deps.Runner, log, cfg),
		streamer:  export.NewStreamer(deps.Runner, deps.Ledger, log, cfg),
		store:     deps.History,
		hub:       deps.Hub,
		status:    deps.Status,
	}
}

// ProcessAll handles every archive currently in the watch directory and
// reports how many succeeded and failed. Failures are per-archive: one bad
// archive never stops the batch.
func (p *Pipeline) ProcessAll(ctx context.Context) (succeeded, failed int, err error) {
	matches, err := filepath.Glob(filepath.Join(p.cfg.WatchDir, "*.tar.xz"))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to scan watch directory: %w", err)
	}
	if len(matches) == 0 {
		p.log.Info("No archives found to process")
		return 0, 0, nil
	}
	p.log.Infof("Found %d archive(s) to process", len(matches))

	for _, archivePath := range matches {
		if p.Process(ctx, archivePath) {
			succeeded++
		} else {
			failed++
		}
	}

	p.log.Infof("Processing complete: %d successful, %d failed", succeeded, failed)
	return succeeded, failed, nil
}

// Process runs one archive to completion and routes it to the processed or
// failed directory. Returns true on success. There is no mid-archive
// cancellation: once started, a run ends in success or a fatal error.
func (p *Pipeline) Process(ctx context.Context, archivePath string) bool {
	archiveName := filepath.Base(archivePath)
	run := history.Run{
		ID:        uuid.NewString(),
		Archive:   archiveName,
		StartedAt: time.Now().UTC(),
	}

	p.status.SetProcessing(archiveName)
	defer p.status.SetIdle()
	p.hub.Publish(control.Event{Type: "run_started", RunID: run.ID, Archive: archiveName})

	p.log.Infof("START: Processing %s", archiveName)
	err := p.runArchive(ctx, archivePath, &run)
	run.FinishedAt = time.Now().UTC()

	if err != nil {
		run.Outcome = "failed"
		run.Error = err.Error()
		p.log.Errorf("✗ Failed to process %s: %v", archiveName, err)
		p.moveArchive(archivePath, p.cfg.FailedDir)
	} else {
		run.Outcome = "processed"
		p.log.Infof("✓ Successfully exported %s (%d points)", archiveName, run.Points)
		p.moveArchive(archivePath, p.cfg.ProcessedDir)
	}

	if storeErr := p.store.Append(run); storeErr != nil {
		p.log.Warnf("Failed to record run history: %v", storeErr)
	}
	p.hub.Publish(control.Event{
		Type:    "run_finished",
		RunID:   run.ID,
		Archive: archiveName,
		Outcome: run.Outcome,
		Points:  run.Points,
	})
	p.log.Infof("COMPLETE: Finished processing %s", archiveName)

	return err == nil
}

// runArchive is the fatal-error path: any error returned here routes the
// archive to the failed directory.
func (p *Pipeline) runArchive(ctx context.Context, archivePath string, run *history.Run) error {
	archiveName := run.Archive

	extractStart := time.Now()
	p.log.Info("Extracting archive...")
	extractDir, err := p.extractor.Extract(archivePath, p.cfg.ExtractDir)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	defer os.RemoveAll(extractDir)

	base, err := p.extractor.FindArchiveBase(extractDir)
	if err != nil {
		return err
	}
	run.ExtractSeconds = time.Since(extractStart).Seconds()
	p.log.Infof("Found PCP archive: %s (extracted in %.2fs)", base, run.ExtractSeconds)

	validateStart := time.Now()
	names, err := p.validatedMetrics(ctx, base)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return ErrNoValidMetrics
	}
	run.ValidateSeconds = time.Since(validateStart).Seconds()
	run.MetricCount = len(names)
	run.Fingerprint = validate.Fingerprint(names)
	p.log.Infof("Validated metric set: %d names, fingerprint %016x (%.2fs)",
		len(names), run.Fingerprint, run.ValidateSeconds)
	p.hub.Publish(control.Event{
		Type:    "validation_done",
		RunID:   run.ID,
		Archive: archiveName,
		Metrics: len(names),
	})

	exportStart := time.Now()
	batcher := export.NewBatcher(p.writer, p.log, p.cfg.WriteBatchSize, p.cfg.ProgressInterval)
	batcher.Progress = func(written, flushes int) {
		p.hub.Publish(control.Event{
			Type:    "flush_progress",
			RunID:   run.ID,
			Archive: archiveName,
			Points:  written,
			Flushes: flushes,
		})
	}

	stats, err := p.streamer.Run(ctx, base, archiveName, names, batcher)
	if stats != nil {
		run.Lines = stats.Lines
		run.Points = stats.Points
		run.BadRows = stats.BadRows
		run.InvalidValues = stats.InvalidValues
		run.FilteredValues = stats.FilteredValues
	}
	if err != nil {
		return err
	}
	run.ExportSeconds = time.Since(exportStart).Seconds()

	p.log.Infof("Timings: extract %.2fs, validate %.2fs, export %.2fs",
		run.ExtractSeconds, run.ValidateSeconds, run.ExportSeconds)
	return nil
}

// validatedMetrics loads the cached validated set or runs validation and
// caches the result. Cache problems never fail the archive.
func (p *Pipeline) validatedMetrics(ctx context.Context, base string) ([]string, error) {
	names, err := validate.LoadCache(p.cfg.ValidationCache, p.cfg.ForceRevalidate)
	if err != nil {
		p.log.Warnf("Failed to load validation cache: %v", err)
	}
	if names != nil {
		p.log.Infof("Using %d cached validated metrics (skipping validation)", len(names))
		return names, nil
	}

	names, err = p.validator.Validate(ctx, base)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		if err := validate.SaveCache(p.cfg.ValidationCache, names); err != nil {
			p.log.Warnf("Failed to save validation cache: %v", err)
		}
	}
	return names, nil
}

// moveArchive routes an archive to its destination directory. A failed move
// is logged and swallowed since the export outcome already stands.
func (p *Pipeline) moveArchive(archivePath, destDir string) {
	dest := filepath.Join(destDir, filepath.Base(archivePath))
	if err := os.Rename(archivePath, dest); err != nil {
		p.log.Warnf("Failed to move %s to %s: %v", filepath.Base(archivePath), destDir, err)
		return
	}
	p.log.Infof("Moved %s to %s", filepath.Base(archivePath), destDir)
}
