package watch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/pcpkit/pcpflux/pkg/config"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestTriggeredConsumesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{TriggerFile: filepath.Join(dir, ".process_trigger")}
	w := New(cfg, quietLogger(), nil)

	require.False(t, w.triggered())

	require.NoError(t, os.WriteFile(cfg.TriggerFile, nil, 0o644))
	require.True(t, w.triggered())

	// The trigger is consumed, so a second check is idle again
	_, err := os.Stat(cfg.TriggerFile)
	require.True(t, os.IsNotExist(err))
	require.False(t, w.triggered())
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		TriggerFile:  filepath.Join(dir, ".process_trigger"),
		PollInterval: 10 * time.Millisecond,
	}
	w := New(cfg, quietLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}
