package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Cathyyyy1/anomaly-monitor/internal/api"
	"github.com/Cathyyyy1/anomaly-monitor/internal/config"
	"github.com/Cathyyyy1/anomaly-monitor/internal/engine"
	"github.com/Cathyyyy1/anomaly-monitor/internal/logging"
	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
	"github.com/Cathyyyy1/anomaly-monitor/internal/pipeline"
	"github.com/Cathyyyy1/anomaly-monitor/internal/publish"
	"github.com/Cathyyyy1/anomaly-monitor/internal/recognize"
	"github.com/Cathyyyy1/anomaly-monitor/internal/results"
	"github.com/Cathyyyy1/anomaly-monitor/internal/stats"
	"github.com/Cathyyyy1/anomaly-monitor/internal/storage"
	"github.com/Cathyyyy1/anomaly-monitor/internal/video"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "anomaly-monitor.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	mgr, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("anomaly-monitor starting", "version", version, "config", mgr.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recognizer, err := buildRecognizer(cfg)
	if err != nil {
		logger.Error("recognizer setup failed", "err", err)
		os.Exit(1)
	}
	adapter := recognize.NewAdapter(recognizer, cfg.Recognizer)
	eng := engine.New(cfg.Rules, logger)
	freqStore := stats.NewStore()
	resultsStore := results.NewStore(cfg.Results.StoreLimit)

	journal, err := storage.NewJournal(cfg.Journal)
	if err != nil {
		logger.Error("journal setup failed", "err", err)
		os.Exit(1)
	}
	if journal != nil {
		if err := journal.Init(ctx); err != nil {
			logger.Error("journal init failed", "err", err)
			os.Exit(1)
		}
		defer journal.Close()
	}

	publisher := publish.NewPublisher(cfg.Publish, logger)
	defer publisher.Close()

	pipe := pipeline.New(cfg.Scheduler, logger, adapter, eng, freqStore, resultsStore, journal, publisher)

	if err := loadWithRetry(ctx, pipe, logger); err != nil {
		logger.Error("giving up on model load", "err", err)
		os.Exit(1)
	}

	src, err := buildSource(cfg)
	if err != nil {
		logger.Error("video source setup failed", "err", err)
		os.Exit(1)
	}
	defer src.Close()

	exporter := stats.NewExporter(pipe.Counters())
	api.Start(ctx, mgr, resultsStore, freqStore, pipe, exporter.Handler(), logger, version)

	go mgr.Watch(3*time.Second,
		func(next *config.Config) {
			logger.Info("config reloaded")
			pipe.UpdateConfig(next)
		},
		func(err error) {
			logger.Warn("config reload error", "err", err)
		},
		ctx.Done(),
	)

	onResult := func(detections []model.Detection, result model.AnomalyResult) {
		logger.Debug("frame result",
			"detections", len(detections),
			"has_anomaly", result.HasAnomaly,
			"score", result.AnomalyScore,
		)
	}
	onError := func(err error) {
		logger.Warn("pipeline error", "err", err)
	}
	if err := pipe.DetectObjectsOnVideo(ctx, src, onResult, onError); err != nil {
		logger.Error("pipeline start failed", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := pipe.Close(); err != nil {
		logger.Warn("pipeline close error", "err", err)
	}
}

func buildRecognizer(cfg *config.Config) (recognize.Recognizer, error) {
	switch cfg.Recognizer.Kind {
	case "", "remote":
		client := &http.Client{Timeout: cfg.Recognizer.RequestTimeout}
		return recognize.NewRemoteRecognizer(cfg.Recognizer.Endpoint, cfg.Recognizer.MaxImageDim, client), nil
	case "static":
		return recognize.NewStaticRecognizer(nil), nil
	default:
		return nil, fmt.Errorf("unsupported recognizer kind: %q", cfg.Recognizer.Kind)
	}
}

func buildSource(cfg *config.Config) (video.Source, error) {
	switch cfg.Video.Source {
	case "", "sequence":
		return video.NewSequenceSource(cfg.Video.Dir, cfg.Video.FPS, cfg.Video.Loop)
	default:
		return nil, fmt.Errorf("unsupported video source: %q", cfg.Video.Source)
	}
}

// loadWithRetry retries the model load a few times with a flat delay;
// a cold inference service usually comes up within seconds.
func loadWithRetry(ctx context.Context, pipe *pipeline.Pipeline, logger *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		if err = pipe.LoadModel(ctx); err == nil {
			return nil
		}
		logger.Warn("model load retry", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return err
}
