// Package watch is the outer control loop: a low-frequency poll for the
// trigger file that operators (or the control API) drop to request a
// processing pass.
package watch

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pcpkit/pcpflux/pkg/config"
	"github.com/pcpkit/pcpflux/pkg/pipeline"
)

// Watcher polls for the trigger file and kicks the pipeline.
type Watcher struct {
	cfg  *config.Config
	log  *logrus.Logger
	pipe *pipeline.Pipeline
}

// New creates a watcher.
func New(cfg *config.Config, log *logrus.Logger, pipe *pipeline.Pipeline) *Watcher {
	return &Watcher{cfg: cfg, log: log, pipe: pipe}
}

// Run polls until the context is cancelled. The loop only idles between
// checks; once a pass starts it runs to completion regardless of
// cancellation, there is no mid-archive abort.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Infof("Waiting for trigger file %s (polling every %s)", w.cfg.TriggerFile, w.cfg.PollInterval)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !w.triggered() {
				continue
			}
			w.log.Info("Trigger detected, starting processing pass...")
			w.runPass(ctx)
			w.log.Info("Waiting for next trigger...")
		}
	}
}

// triggered checks for the trigger file and removes it so a pass runs once
// per trigger.
func (w *Watcher) triggered() bool {
	if _, err := os.Stat(w.cfg.TriggerFile); err != nil {
		return false
	}
	if err := os.Remove(w.cfg.TriggerFile); err != nil {
		w.log.Warnf("Failed to remove trigger file: %v", err)
	}
	return true
}

func (w *Watcher) runPass(ctx context.Context) {
	// Identity tags may have been redeployed since the last pass
	if err := w.cfg.LoadIdentityTags(); err != nil {
		w.log.Warnf("Failed to reload identity tags: %v", err)
	}
	w.log.Infof("Tagging points with product_type=%s serialNumber=%s", w.cfg.ProductType, w.cfg.SerialNumber)

	if _, _, err := w.pipe.ProcessAll(ctx); err != nil {
		w.log.Errorf("Processing pass failed: %v", err)
	}
}
