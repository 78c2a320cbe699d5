package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pcpkit/pcpflux/pkg/config"
	"github.com/pcpkit/pcpflux/pkg/ledger"
	"github.com/pcpkit/pcpflux/pkg/pcp"
)

// Timestamps arrive in the sampling tool's archive-local form and are
// interpreted as UTC.
const timestampLayout = "2006-01-02 15:04:05"

// Stats counts what happened to the stream. Invalid and filtered values are
// bookkept separately: both drop a field, but only invalid ones indicate a
// problem with the data.
type Stats struct {
	Lines          int
	Rows           int
	Points         int
	BadRows        int
	BadTimestamps  int
	InvalidValues  int
	FilteredValues int
}

// Streamer drives one sampling run over an archive and feeds the batcher.
type Streamer struct {
	runner pcp.Runner
	filter ValueFilter
	ledger *ledger.Ledger
	log    *logrus.Logger
	cfg    *config.Config
	step   time.Duration
}

// NewStreamer wires a streamer from configuration. Identity tags are read
// from the config at run time: the dotenv file may be reloaded between
// triggers, but tags stay fixed within one run.
func NewStreamer(runner pcp.Runner, led *ledger.Ledger, log *logrus.Logger, cfg *config.Config) *Streamer {
	return &Streamer{
		runner: runner,
		filter: NewValueFilter(cfg.ValueFilterRules),
		ledger: led,
		log:    log,
		cfg:    cfg,
		step:   config.DefaultSampleStep,
	}
}

// Run spawns the sampling tool for the whole archive and streams its rows
// into the batcher. Malformed rows and values are counted and skipped; only
// spawn failures, read failures and flush failures abort the run. A trailing
// non-zero exit from the tool is a warning: points already parsed are kept.
func (s *Streamer) Run(ctx context.Context, archive, archiveName string, names []string, batcher *Batcher) (*Stats, error) {
	s.log.Infof("Sampling %d metrics at %s intervals...", len(names), s.step)

	stream, err := s.runner.Stream(ctx, archive, s.step, names)
	if err != nil {
		return nil, fmt.Errorf("failed to start sampling: %w", err)
	}

	rawPath := filepath.Join(s.cfg.LogDir, rawLogName(archiveName))
	rawLog, err := os.Create(rawPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create sample log: %w", err)
	}
	defer rawLog.Close()
	s.log.Infof("Raw sample output mirrored to %s", rawPath)

	tags := map[string]string{
		"product_type": s.cfg.ProductType,
		"serialNumber": s.cfg.SerialNumber,
	}

	stats := &Stats{}
	var header []string

	for stream.Scan() {
		line := stream.Text()
		rawLog.WriteString(line + "\n")

		if strings.TrimSpace(line) == "" {
			continue
		}
		stats.Lines++

		if header == nil {
			header = parseHeader(line)
			s.log.Infof("Found %d columns (first column is timestamp)", len(header))
			continue
		}
		stats.Rows++

		values := strings.Split(line, ",")
		if len(values) != len(header) {
			stats.BadRows++
			continue
		}

		ts, err := time.Parse(timestampLayout, strings.Trim(strings.TrimSpace(values[0]), `"`))
		if err != nil {
			stats.BadTimestamps++
			continue
		}

		fields := make(map[string]float64)
		for i := 1; i < len(values); i++ {
			raw := strings.Trim(strings.TrimSpace(values[i]), `"`)

			if isMissing(raw) {
				stats.InvalidValues++
				continue
			}
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				// Non-numeric payloads (addresses, hostnames) are expected
				// for some metrics and dropped without aborting.
				stats.InvalidValues++
				continue
			}
			if s.filter.ShouldSkip(raw) {
				stats.FilteredValues++
				continue
			}

			fields[sanitizeFieldName(header[i])] = value
			s.ledger.Add(header[i])
		}

		if len(fields) == 0 {
			continue
		}

		point := &Point{Timestamp: ts.UTC(), Tags: tags, Fields: fields}
		if err := batcher.Add(ctx, point); err != nil {
			return stats, fmt.Errorf("database write failed: %w", err)
		}
		stats.Points++
	}

	if err := stream.Err(); err != nil {
		return stats, fmt.Errorf("error reading sample output: %w", err)
	}
	if err := stream.Wait(); err != nil {
		s.log.Warnf("Sampling tool exited with error: %v", err)
	}

	if err := batcher.Finish(ctx); err != nil {
		return stats, fmt.Errorf("database write failed: %w", err)
	}

	s.log.Infof("Processed %d lines, wrote %d points (%d invalid values, %d filtered)",
		stats.Lines, batcher.Written(), stats.InvalidValues, stats.FilteredValues)

	return stats, nil
}

// parseHeader splits the first output line into column names, stripping
// quoting. Column 0 is the timestamp.
func parseHeader(line string) []string {
	raw := strings.Split(line, ",")
	header := make([]string, len(raw))
	for i, col := range raw {
		header[i] = strings.Trim(strings.TrimSpace(col), `"`)
	}
	return header
}

// isMissing reports the sampling tool's placeholders for absent values.
func isMissing(raw string) bool {
	if raw == "" || raw == "?" {
		return true
	}
	switch strings.ToLower(raw) {
	case "n/a", "none", "null":
		return true
	}
	return false
}

// sanitizeFieldName maps a metric name to a database field name.
func sanitizeFieldName(name string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return replacer.Replace(name)
}

func rawLogName(archiveName string) string {
	return fmt.Sprintf("pmrep_output_%s.csv", strings.TrimSuffix(archiveName, ".tar.xz"))
}
