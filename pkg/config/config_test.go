package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	require.Equal(t, DefaultWatchDir, cfg.WatchDir)
	require.Equal(t, DefaultValidationBatchSize, cfg.ValidationBatchSize)
	require.Equal(t, DefaultWriteBatchSize, cfg.WriteBatchSize)
	require.False(t, cfg.SkipValidation)

	// Derived paths land under the log dir
	require.Equal(t, filepath.Join(cfg.LogDir, "metrics_labels.csv"), cfg.MetricsLedger)
	require.Equal(t, filepath.Join(cfg.LogDir, "validated_metrics.txt"), cfg.ValidationCache)

	// proc and nfs are opt-in, everything else opt-out
	require.False(t, cfg.Categories.Process)
	require.False(t, cfg.Categories.NFS)
	require.True(t, cfg.Categories.Disk)
	require.True(t, cfg.Categories.Kernel)
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{
		"-watch-dir", "/data/in",
		"-log-dir", "/data/logs",
		"-write-batch-size", "1000",
		"-value-filter", "skip_zero,skip_none",
		"-enable-disk-metrics=false",
	})
	require.NoError(t, err)

	require.Equal(t, "/data/in", cfg.WatchDir)
	require.Equal(t, 1000, cfg.WriteBatchSize)
	require.Equal(t, "skip_zero,skip_none", cfg.ValueFilterRules)
	require.False(t, cfg.Categories.Disk)
	require.Equal(t, "/data/logs/metrics_labels.csv", cfg.MetricsLedger)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("PCPFLUX_INFLUX_BUCKET", "custom-bucket")
	t.Setenv("PCPFLUX_SKIP_VALIDATION", "true")

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "custom-bucket", cfg.InfluxBucket)
	require.True(t, cfg.SkipValidation)
}

func TestLoadRejectsBadSizes(t *testing.T) {
	_, err := Load([]string{"-write-batch-size", "0"})
	require.Error(t, err)

	_, err = Load([]string{"-validation-batch-size", "-5"})
	require.Error(t, err)
}

func TestLoadIdentityTags(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "# device identity\nPRODUCT_TYPE=STORled\nPRODUCT_TYPE = GATEWAY9\nSERIAL_NUMBER=SN-0042\nBOGUS LINE\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	cfg, err := Load([]string{"-env-file", envFile})
	require.NoError(t, err)
	require.NoError(t, cfg.LoadIdentityTags())

	// Last assignment wins, whitespace around = is tolerated
	require.Equal(t, "GATEWAY9", cfg.ProductType)
	require.Equal(t, "SN-0042", cfg.SerialNumber)
}

func TestLoadIdentityTagsMissingFile(t *testing.T) {
	cfg, err := Load([]string{"-env-file", filepath.Join(t.TempDir(), "nope")})
	require.NoError(t, err)
	require.NoError(t, cfg.LoadIdentityTags())
	require.Equal(t, "SERVER1", cfg.ProductType)
	require.Equal(t, "1234", cfg.SerialNumber)
}
