package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pcpkit/pcpflux/pkg/config"
	"github.com/pcpkit/pcpflux/pkg/control"
	"github.com/pcpkit/pcpflux/pkg/export"
	"github.com/pcpkit/pcpflux/pkg/history"
	"github.com/pcpkit/pcpflux/pkg/ledger"
	"github.com/pcpkit/pcpflux/pkg/logging"
	"github.com/pcpkit/pcpflux/pkg/pcp"
	"github.com/pcpkit/pcpflux/pkg/pipeline"
	"github.com/pcpkit/pcpflux/pkg/watch"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	shutdownTimeout    = 30 * time.Second

	influxWaitInterval = 2 * time.Second
	influxWaitAttempts = 30
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		logrus.Fatalf("Failed to create working directories: %v", err)
	}

	log, logCloser, err := logging.New(cfg.LogDir)
	if err != nil {
		logrus.Fatalf("Failed to open log file: %v", err)
	}
	defer logCloser.Close()

	log.Info("Starting pcpflux...")

	if err := cfg.LoadIdentityTags(); err != nil {
		log.Warnf("Failed to load identity tags from %s: %v (using defaults)", cfg.EnvFile, err)
	}
	log.Infof("Identity tags: product_type=%s serialNumber=%s", cfg.ProductType, cfg.SerialNumber)

	led, err := ledger.Open(cfg.MetricsLedger, log)
	if err != nil {
		log.Fatalf("Failed to open metrics ledger: %v", err)
	}
	log.Infof("Metrics ledger loaded (%d known metrics)", led.Len())

	store, err := history.Open(history.Config{Path: cfg.HistoryDir})
	if err != nil {
		log.Fatalf("Failed to open run history store: %v", err)
	}
	defer store.Close()
	log.Info("✓ Run history store initialized")

	writer := export.NewInfluxWriter(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, cfg.InfluxMeasurement)
	defer writer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	waitForInflux(ctx, writer, cfg.InfluxURL, log)

	hub := control.NewHub(log)
	status := control.NewStatusBoard()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	pipe := pipeline.New(cfg, log, pipeline.Deps{
		Runner:    pcp.ExecRunner{},
		Extractor: pcp.TarExtractor{},
		Writer:    writer,
		Ledger:    led,
		History:   store,
		Hub:       hub,
		Status:    status,
	})

	var server *http.Server
	if cfg.ListenAddr != "" {
		ctl := control.NewServer(cfg, log, store, hub, status)
		server = &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      ctl.Router(),
			ReadTimeout:  serverReadTimeout,
			WriteTimeout: serverWriteTimeout,
		}
		go func() {
			log.Infof("Control API listening on %s", cfg.ListenAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Control API failed: %v", err)
			}
		}()
	}

	watcher := watch.New(cfg, log, pipe)
	log.Infof("Watching %s (trigger file %s, poll every %v)", cfg.WatchDir, cfg.TriggerFile, cfg.PollInterval)

	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		log.Errorf("Watch loop failed: %v", err)
	}

	log.Info("Shutdown signal received, stopping...")

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Control API shutdown: %v", err)
		}
	}

	cancel()
	wg.Wait()
	log.Info("pcpflux exited cleanly")
}

// waitForInflux blocks until the database answers a ping or the retries run
// out. A database that never comes up is not fatal here; archives that
// cannot be written are routed to the failed directory with a recorded error.
func waitForInflux(ctx context.Context, writer *export.InfluxWriter, url string, log *logrus.Logger) {
	log.Infof("Waiting for InfluxDB at %s...", url)
	for attempt := 1; attempt <= influxWaitAttempts; attempt++ {
		ok, err := writer.Ping(ctx)
		if ok && err == nil {
			log.Info("✓ InfluxDB is ready")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(influxWaitInterval):
		}
	}
	log.Warnf("InfluxDB not reachable after %d attempts, continuing anyway", influxWaitAttempts)
}
