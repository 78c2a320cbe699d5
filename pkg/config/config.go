package config

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v3"
)

// Defaults for the processing pipeline
const (
	DefaultValidationBatchSize = 100
	DefaultWriteBatchSize      = 50000
	DefaultProgressInterval    = 50
	DefaultPollInterval        = 2 * time.Second
	DefaultSampleStep          = 1 * time.Second
)

// Directory defaults (overridable via flags or PCPFLUX_* environment variables)
const (
	DefaultWatchDir     = "/srv/pcpflux/input/raw"
	DefaultExtractDir   = "/tmp/pcpflux/archives"
	DefaultProcessedDir = "/srv/pcpflux/archive/processed"
	DefaultFailedDir    = "/srv/pcpflux/archive/failed"
	DefaultLogDir       = "/srv/pcpflux/logs"
	DefaultHistoryDir   = "/srv/pcpflux/history"
	DefaultEnvFile      = "/srv/pcpflux/.env"
	DefaultTriggerFile  = "/srv/pcpflux/.process_trigger"
)

// Categories holds the per-category metric enable flags. A metric whose name
// starts with a disabled category's prefix is dropped during validation;
// names matching no known prefix are always kept.
type Categories struct {
	Process bool
	Disk    bool
	File    bool
	Memory  bool
	Network bool
	Kernel  bool
	Swap    bool
	NFS     bool
}

// Config is built once at startup and passed by reference into every
// component. Core logic never reads the environment directly.
type Config struct {
	WatchDir     string
	ExtractDir   string
	ProcessedDir string
	FailedDir    string
	LogDir       string
	HistoryDir   string
	EnvFile      string
	TriggerFile  string

	MetricsLedger   string
	ValidationCache string

	InfluxURL         string
	InfluxToken       string
	InfluxOrg         string
	InfluxBucket      string
	InfluxMeasurement string

	ProductType  string
	SerialNumber string

	ValueFilterRules    string
	ValidationBatchSize int
	WriteBatchSize      int
	ProgressInterval    int
	SkipValidation      bool
	ForceRevalidate     bool

	PollInterval time.Duration
	ListenAddr   string

	Categories Categories
}

// Load parses configuration from flags and PCPFLUX_* environment variables.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("pcpflux", flag.ContinueOnError)

	fs.StringVar(&cfg.WatchDir, "watch-dir", DefaultWatchDir, "directory scanned for incoming .tar.xz archives")
	fs.StringVar(&cfg.ExtractDir, "extract-dir", DefaultExtractDir, "scratch directory for archive extraction")
	fs.StringVar(&cfg.ProcessedDir, "processed-dir", DefaultProcessedDir, "destination for successfully exported archives")
	fs.StringVar(&cfg.FailedDir, "failed-dir", DefaultFailedDir, "destination for archives that failed processing")
	fs.StringVar(&cfg.LogDir, "log-dir", DefaultLogDir, "directory for process logs and per-run sample logs")
	fs.StringVar(&cfg.HistoryDir, "history-dir", DefaultHistoryDir, "directory for the run history database")
	fs.StringVar(&cfg.EnvFile, "env-file", DefaultEnvFile, "dotenv file holding device identity tags")
	fs.StringVar(&cfg.TriggerFile, "trigger-file", DefaultTriggerFile, "trigger file polled by the watch loop")

	fs.StringVar(&cfg.MetricsLedger, "metrics-ledger", "", "metric-name ledger CSV (default <log-dir>/metrics_labels.csv)")
	fs.StringVar(&cfg.ValidationCache, "validation-cache", "", "validated-metric cache file (default <log-dir>/validated_metrics.txt)")

	fs.StringVar(&cfg.InfluxURL, "influx-url", "http://influxdb:8086", "InfluxDB endpoint")
	fs.StringVar(&cfg.InfluxToken, "influx-token", "", "InfluxDB API token")
	fs.StringVar(&cfg.InfluxOrg, "influx-org", "pcp-org", "InfluxDB organization")
	fs.StringVar(&cfg.InfluxBucket, "influx-bucket", "pcp-metrics", "InfluxDB bucket")
	fs.StringVar(&cfg.InfluxMeasurement, "influx-measurement", "pcp_metrics", "measurement name for exported points")

	fs.StringVar(&cfg.ProductType, "product-type", "SERVER1", "device product-type tag applied to every point")
	fs.StringVar(&cfg.SerialNumber, "serial-number", "1234", "device serial-number tag applied to every point")

	fs.StringVar(&cfg.ValueFilterRules, "value-filter", "", "comma-separated value filter rules (skip_zero, skip_empty, skip_none)")
	fs.IntVar(&cfg.ValidationBatchSize, "validation-batch-size", DefaultValidationBatchSize, "metric names probed per validation batch")
	fs.IntVar(&cfg.WriteBatchSize, "write-batch-size", DefaultWriteBatchSize, "points per database write")
	fs.IntVar(&cfg.ProgressInterval, "progress-interval", DefaultProgressInterval, "log progress every N flushes")
	fs.BoolVar(&cfg.SkipValidation, "skip-validation", false, "accept the full inventory without probing (no correctness guarantee)")
	fs.BoolVar(&cfg.ForceRevalidate, "force-revalidate", false, "ignore the validation cache and re-probe the inventory")

	fs.DurationVar(&cfg.PollInterval, "poll-interval", DefaultPollInterval, "trigger-file poll interval")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", ":8086", "control API listen address (empty disables the API)")

	fs.BoolVar(&cfg.Categories.Process, "enable-process-metrics", false, "export proc.* metrics")
	fs.BoolVar(&cfg.Categories.Disk, "enable-disk-metrics", true, "export disk.* metrics")
	fs.BoolVar(&cfg.Categories.File, "enable-file-metrics", true, "export vfs.* and filesys.* metrics")
	fs.BoolVar(&cfg.Categories.Memory, "enable-memory-metrics", true, "export mem.* metrics")
	fs.BoolVar(&cfg.Categories.Network, "enable-network-metrics", true, "export network.* metrics")
	fs.BoolVar(&cfg.Categories.Kernel, "enable-kernel-metrics", true, "export kernel.* metrics")
	fs.BoolVar(&cfg.Categories.Swap, "enable-swap-metrics", true, "export swap.* metrics")
	fs.BoolVar(&cfg.Categories.NFS, "enable-nfs-metrics", false, "export nfs.* metrics")

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("PCPFLUX"),
	); err != nil {
		return nil, err
	}

	if cfg.MetricsLedger == "" {
		cfg.MetricsLedger = filepath.Join(cfg.LogDir, "metrics_labels.csv")
	}
	if cfg.ValidationCache == "" {
		cfg.ValidationCache = filepath.Join(cfg.LogDir, "validated_metrics.txt")
	}

	if cfg.ValidationBatchSize < 1 {
		return nil, fmt.Errorf("validation-batch-size must be positive, got %d", cfg.ValidationBatchSize)
	}
	if cfg.WriteBatchSize < 1 {
		return nil, fmt.Errorf("write-batch-size must be positive, got %d", cfg.WriteBatchSize)
	}
	if cfg.ProgressInterval < 1 {
		return nil, fmt.Errorf("progress-interval must be positive, got %d", cfg.ProgressInterval)
	}

	return cfg, nil
}

// LoadIdentityTags overrides the device identity tags from a dotenv-style
// file when present. Deployments drop the file next to the archives so the
// tags travel with the device, not the service environment. A missing file
// leaves the configured values untouched.
func (c *Config) LoadIdentityTags() error {
	file, err := os.Open(c.EnvFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "PRODUCT_TYPE":
			c.ProductType = strings.TrimSpace(value)
		case "SERIAL_NUMBER":
			c.SerialNumber = strings.TrimSpace(value)
		}
	}
	return scanner.Err()
}

// EnsureDirs creates every directory the pipeline writes into.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.WatchDir, c.ExtractDir, c.ProcessedDir, c.FailedDir, c.LogDir, c.HistoryDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
