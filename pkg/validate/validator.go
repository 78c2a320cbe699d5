// Package validate decides which of an archive's metrics are worth exporting.
// An archive's inventory routinely lists derived or unsupported metrics that
// the sampling tool rejects; validation separates those from the queryable
// set before the expensive streaming pass starts.
package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pcpkit/pcpflux/pkg/config"
	"github.com/pcpkit/pcpflux/pkg/pcp"
)

// Validator probes an archive's metric inventory against the sampling tool.
type Validator struct {
	runner    pcp.Runner
	log       *logrus.Logger
	batchSize int
	skip      bool
	cats      config.Categories
}

// New creates a validator using the configured batch size and category flags.
func New(runner pcp.Runner, log *logrus.Logger, cfg *config.Config) *Validator {
	return &Validator{
		runner:    runner,
		log:       log,
		batchSize: cfg.ValidationBatchSize,
		skip:      cfg.SkipValidation,
		cats:      cfg.Categories,
	}
}

// Validate returns the archive's queryable metric names after category
// filtering, preserving inventory order. Inventory failure is fatal to the
// archive; individual probe failures only shrink the result.
func (v *Validator) Validate(ctx context.Context, archive string) ([]string, error) {
	v.log.Info("Discovering metrics in archive...")

	inventory, err := v.runner.Inventory(ctx, archive)
	if err != nil {
		return nil, fmt.Errorf("metric inventory failed: %w", err)
	}
	v.log.Infof("Found %d metrics in inventory", len(inventory))

	var valid []string
	if v.skip {
		v.log.Warn("Validation skipped by configuration, accepting full inventory unchecked")
		valid = inventory
	} else {
		valid, err = v.probeAll(ctx, archive, inventory)
		if err != nil {
			return nil, err
		}
	}

	filtered, dropped := ApplyCategoryFilters(valid, v.cats)
	if len(dropped) > 0 {
		total := 0
		for _, n := range dropped {
			total += n
		}
		v.log.Infof("Category filters dropped %d metrics", total)
		for category, count := range dropped {
			v.log.Infof("  - %s: %d filtered", category, count)
		}
	}
	v.log.Infof("Final metric count after filtering: %d", len(filtered))

	return filtered, nil
}

// probeAll validates names in batches. A batch that samples cleanly is
// accepted wholesale, so the common case costs one subprocess per batch;
// only a failing batch pays the per-name fallback.
func (v *Validator) probeAll(ctx context.Context, archive string, inventory []string) ([]string, error) {
	valid := make([]string, 0, len(inventory))
	invalid := 0

	for start := 0; start < len(inventory); start += v.batchSize {
		end := min(start+v.batchSize, len(inventory))
		batch := inventory[start:end]

		ok, err := v.runner.Probe(ctx, archive, batch)
		if err != nil {
			return nil, fmt.Errorf("metric probe failed: %w", err)
		}

		if ok {
			valid = append(valid, batch...)
		} else {
			for _, name := range batch {
				ok, err := v.runner.Probe(ctx, archive, []string{name})
				if err != nil {
					return nil, fmt.Errorf("metric probe failed: %w", err)
				}
				if ok {
					valid = append(valid, name)
				} else {
					invalid++
				}
			}
		}

		if end%200 == 0 || end == len(inventory) {
			v.log.Infof("Validated %d/%d metrics...", end, len(inventory))
		}
	}

	v.log.Infof("Found %d valid metrics (%d invalid or derived)", len(valid), invalid)
	return valid, nil
}

// category groups metric name prefixes under one enable flag.
type category struct {
	name     string
	prefixes []string
	enabled  func(config.Categories) bool
}

var categories = []category{
	{"proc", []string{"proc."}, func(c config.Categories) bool { return c.Process }},
	{"disk", []string{"disk."}, func(c config.Categories) bool { return c.Disk }},
	{"file", []string{"vfs.", "filesys."}, func(c config.Categories) bool { return c.File }},
	{"mem", []string{"mem."}, func(c config.Categories) bool { return c.Memory }},
	{"network", []string{"network."}, func(c config.Categories) bool { return c.Network }},
	{"kernel", []string{"kernel."}, func(c config.Categories) bool { return c.Kernel }},
	{"swap", []string{"swap."}, func(c config.Categories) bool { return c.Swap }},
	{"nfs", []string{"nfs."}, func(c config.Categories) bool { return c.NFS }},
}

// ApplyCategoryFilters drops names whose category is disabled and reports
// per-category drop counts. Names matching no known prefix are kept; order
// is preserved.
func ApplyCategoryFilters(names []string, cats config.Categories) ([]string, map[string]int) {
	kept := make([]string, 0, len(names))
	dropped := make(map[string]int)

next:
	for _, name := range names {
		for _, c := range categories {
			for _, prefix := range c.prefixes {
				if strings.HasPrefix(name, prefix) {
					if !c.enabled(cats) {
						dropped[c.name]++
						continue next
					}
					kept = append(kept, name)
					continue next
				}
			}
		}
		kept = append(kept, name)
	}
	return kept, dropped
}
