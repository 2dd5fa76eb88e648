package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coffersTech/logstore/internal/config"
	"github.com/coffersTech/logstore/internal/engine"
	"github.com/coffersTech/logstore/internal/ingest"
	"github.com/coffersTech/logstore/internal/metrics"
	"github.com/coffersTech/logstore/internal/registry"
	"github.com/coffersTech/logstore/internal/server"
	"github.com/coffersTech/logstore/internal/sink/elastic"
	"github.com/coffersTech/logstore/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	pingInterval    = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the log store server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cfg, logger)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON config file")
	f.String("listen", "", "Listen address (overrides listen_addr)")
	f.String("allowed-client", "", "Only peer IP allowed on /ws (overrides allowed_client_address)")
	f.String("data-dir", "", "Directory for hourly log files (overrides data_dir)")
	f.String("mode", "", "Storage mode: file|index (overrides mode)")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
	f.Duration("flush-interval", 0, "Retry pending writes at this interval (0 disables)")
	f.Duration("retention", 0, "Remove hourly files older than this (0 disables)")
	f.Duration("archive-after", 0, "Compress hourly files older than this (0 disables)")
	return cmd
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	strs := map[string]*string{
		"listen":         &cfg.ListenAddr,
		"allowed-client": &cfg.AllowedClientAddress,
		"data-dir":       &cfg.DataDir,
		"mode":           &cfg.Mode,
		"log-level":      &cfg.LogLevel,
		"log-format":     &cfg.LogFormat,
	}
	for name, dst := range strs {
		if f.Changed(name) {
			v, err := f.GetString(name)
			if err != nil {
				return err
			}
			*dst = v
		}
	}
	durations := map[string]*time.Duration{
		"flush-interval": &cfg.FlushInterval,
		"retention":      &cfg.Retention,
		"archive-after":  &cfg.ArchiveAfter,
	}
	for name, dst := range durations {
		if f.Changed(name) {
			v, err := f.GetDuration(name)
			if err != nil {
				return err
			}
			*dst = v
		}
	}
	return nil
}

func runServe(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	gin.SetMode(gin.ReleaseMode)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	var (
		pipeline ingest.Pipeline
		eng      *engine.Engine
	)
	switch cfg.Mode {
	case config.ModeIndex:
		sink, err := elastic.New(elastic.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
		}, logger)
		if err != nil {
			return err
		}
		p := ingest.NewIndexPipeline(sink, cfg.Elasticsearch.Index, logger, m)
		ensureCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = p.EnsureIndex(ensureCtx)
		cancel()
		if err != nil {
			return err
		}
		pipeline = p
	default:
		store, err := storage.NewStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		eng, err = engine.Open(store, engine.Options{
			Logger:       logger,
			Metrics:      m,
			Retention:    cfg.Retention,
			ArchiveAfter: cfg.ArchiveAfter,
		})
		if err != nil {
			return err
		}
		pipeline = ingest.NewFilePipeline(eng, logger)
	}

	conns := registry.NewStore()
	opts := server.Options{
		AllowedClientAddress: cfg.AllowedClientAddress,
		Pipeline:             pipeline,
		Registry:             conns,
		Metrics:              m,
		Gatherer:             promReg,
		Logger:               logger,
		IngestTokenHash:      cfg.IngestTokenHash,
		PingInterval:         pingInterval,
	}
	if eng != nil {
		opts.Stats = eng
	}
	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"addr":           l.Addr().String(),
		"mode":           cfg.Mode,
		"data_dir":       cfg.DataDir,
		"allowed_client": cfg.AllowedClientAddress,
	}).Info("logstore started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(l) })
	// The gateway closes silent peers after PongWaitFactor pings; the loop only
	// collects entries whose handler is already gone.
	conns.StartCleanupLoop(gctx, time.Minute, 2*server.PongWaitFactor*pingInterval)
	if eng != nil {
		g.Go(func() error {
			eng.RunFlusher(gctx, cfg.FlushInterval)
			return nil
		})
		g.Go(func() error {
			eng.RunCleaner(gctx, cfg.CleanerInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if eng != nil {
			logger.Info("Flushing buffered records to disk")
			err = errors.Join(err, eng.Close(shutdownCtx))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("logstore stopped with error")
		return err
	}
	logger.Info("logstore exited gracefully")
	return nil
}
