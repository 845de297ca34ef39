package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xaenox/telepharm/internal/analytics"
	"github.com/xaenox/telepharm/internal/enricher"
	"github.com/xaenox/telepharm/internal/feed"
	"github.com/xaenox/telepharm/internal/fetcher"
	"github.com/xaenox/telepharm/internal/loader"
	"github.com/xaenox/telepharm/internal/pipeline"
	"github.com/xaenox/telepharm/internal/storage"
	"github.com/xaenox/telepharm/internal/vision"
	"github.com/xaenox/telepharm/pkg/config"
)

const usage = `usage: telepharm [-config path] <command>

commands:
  fetch                      scrape configured channels into batch artifacts
  load                       load batch artifacts into the canonical store
  enrich                     classify stored images
  cycle                      run fetch, load, and enrich in sequence
  report top-products [n]    ranked product mentions
  report activity <channel>  per-channel daily activity
  report search <query>      full-text message search
`

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "fetch":
		res, err := newFetcher(cfg, logger).Run(ctx)
		exit(logger, "fetch", err,
			zap.Int("channels", res.Channels),
			zap.Int("messages", res.Messages),
			zap.Int("images", res.Images),
			zap.Int("rate_limited", res.RateLimited),
			zap.Int("failed", res.Failed))
	case "load":
		res, err := loader.New(store, cfg.Fetcher.DataDir, logger).Run(ctx)
		exit(logger, "load", err,
			zap.Int("artifacts", res.Artifacts),
			zap.Int("inserted", res.Inserted),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed))
	case "enrich":
		e, err := newEnricher(cfg, store, logger)
		if err != nil {
			logger.Fatal("Failed to initialize enricher", zap.Error(err))
		}
		res, err := e.Run(ctx)
		exit(logger, "enrich", err,
			zap.Int("images", res.Images),
			zap.Int("detections", res.Detections),
			zap.Int("missing", res.Missing),
			zap.Int("failed", res.Failed))
	case "cycle":
		e, err := newEnricher(cfg, store, logger)
		if err != nil {
			logger.Fatal("Failed to initialize enricher", zap.Error(err))
		}
		l := loader.New(store, cfg.Fetcher.DataDir, logger)
		_, err = pipeline.New(newFetcher(cfg, logger), l, e, logger).RunCycle(ctx)
		if err != nil {
			logger.Fatal("Cycle failed", zap.Error(err))
		}
	case "report":
		if err := runReport(ctx, analytics.New(store, cfg.Analytics.Products), args[1:]); err != nil {
			logger.Fatal("Report failed", zap.Error(err))
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func newFetcher(cfg *config.Config, logger *zap.Logger) *fetcher.Fetcher {
	source := feed.NewWebSource(cfg.Telegram.BaseURL, nil)
	return fetcher.New(source, cfg.Telegram.Channels, cfg.Fetcher.Limit, cfg.Fetcher.DataDir, logger)
}

func newEnricher(cfg *config.Config, store storage.Storage, logger *zap.Logger) (*enricher.Enricher, error) {
	mode, err := enricher.ParseMode(cfg.Enricher.Mode)
	if err != nil {
		return nil, err
	}

	var detector vision.Detector
	switch cfg.Vision.Provider {
	case "openai":
		detector = vision.NewOpenAIDetector(cfg.Vision.APIKey, cfg.Vision.Model, cfg.Vision.MaxTokens, logger)
	case "http":
		detector = vision.NewHTTPDetector(cfg.Vision.InferenceURL, cfg.Vision.APIKey)
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Vision.Provider)
	}

	mapping := vision.DefaultMapping()
	if len(cfg.Vision.Mapping) > 0 {
		mapping = vision.Mapping(cfg.Vision.Mapping)
	}

	return enricher.New(store, detector, mapping, mode, logger), nil
}

func runReport(ctx context.Context, engine *analytics.Engine, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("report: missing report name")
	}

	var result any
	var err error
	switch args[0] {
	case "top-products":
		limit := 10
		if len(args) > 1 {
			if _, scanErr := fmt.Sscanf(args[1], "%d", &limit); scanErr != nil {
				return fmt.Errorf("report: invalid limit %q", args[1])
			}
		}
		result, err = engine.TopProducts(ctx, limit)
	case "activity":
		if len(args) < 2 {
			return fmt.Errorf("report: activity needs a channel name")
		}
		result, err = engine.ChannelActivity(ctx, args[1])
	case "search":
		if len(args) < 2 {
			return fmt.Errorf("report: search needs a query")
		}
		result, err = engine.SearchMessages(ctx, args[1])
	default:
		return fmt.Errorf("report: unknown report %q", args[0])
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func exit(logger *zap.Logger, stage string, err error, fields ...zap.Field) {
	if err != nil {
		logger.Fatal("Stage failed", append([]zap.Field{zap.String("stage", stage), zap.Error(err)}, fields...)...)
	}
	logger.Info("Stage completed", append([]zap.Field{zap.String("stage", stage)}, fields...)...)
}
