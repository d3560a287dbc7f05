package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"athome-scraper/api"
	"athome-scraper/config"
	"athome-scraper/notify"
	"athome-scraper/scraper/athome"
	"athome-scraper/services"
	"athome-scraper/storage"
	"athome-scraper/utils"
)

const usage = `usage: athome-scraper <command>

commands:
  run     crawl once, export CSV and print the status report (default)
  status  print the status report
  export  write active listings to a CSV file
  serve   serve the HTTP API and crawl at SCHEDULE_HOURS
  help    show this message
`

func main() {
	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		fmt.Print(usage)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.NewLoggerWithOptions(utils.LoggerOptions{
		Writer: os.Stdout,
		Level:  utils.ParseLevel(cfg.LogLevel),
		JSON:   cfg.LogFormat == "json",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var code int
	switch cmd {
	case "run":
		code = runOnce(ctx, cfg, logger)
	case "status":
		code = status(ctx, cfg, logger)
	case "export":
		code = export(ctx, cfg, logger)
	case "serve":
		code = serve(ctx, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		code = 2
	}

	stop()
	os.Exit(code)
}

func runOnce(ctx context.Context, cfg *config.Config, logger *utils.Logger) int {
	logger.Info("=== athome land crawler starting ===")
	logger.Info("Config: pages %d | concurrency %d | delay %s | fetch %s | store %s",
		cfg.MaxPages, cfg.MaxConcurrency, cfg.RequestDelay, cfg.FetchStrategy, cfg.Store)

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to open store: %v", err)
		return 1
	}
	defer store.Close()

	crawler, cleanup, err := newCrawler(cfg, store, logger)
	if err != nil {
		logger.Error("Failed to set up crawler: %v", err)
		return 1
	}
	defer cleanup()

	code := 0
	if _, err := crawler.Run(ctx); err != nil {
		logger.Error("Crawl failed: %v", err)
		code = 1
	}

	if _, err := exportCSV(ctx, cfg, store, logger); err != nil {
		logger.Error("Export failed: %v", err)
	}
	if err := printStatus(ctx, store, logger); err != nil {
		logger.Error("Status report failed: %v", err)
	}
	return code
}

func status(ctx context.Context, cfg *config.Config, logger *utils.Logger) int {
	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to open store: %v", err)
		return 1
	}
	defer store.Close()

	if err := printStatus(ctx, store, logger); err != nil {
		logger.Error("Status report failed: %v", err)
		return 1
	}
	return 0
}

func export(ctx context.Context, cfg *config.Config, logger *utils.Logger) int {
	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to open store: %v", err)
		return 1
	}
	defer store.Close()

	path, err := exportCSV(ctx, cfg, store, logger)
	if err != nil {
		logger.Error("Export failed: %v", err)
		return 1
	}
	fmt.Printf("  Done. CSV → %s\n", path)
	return 0
}

func serve(ctx context.Context, cfg *config.Config, logger *utils.Logger) int {
	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to open store: %v", err)
		return 1
	}
	defer store.Close()

	crawler, cleanup, err := newCrawler(cfg, store, logger)
	if err != nil {
		logger.Error("Failed to set up crawler: %v", err)
		return 1
	}
	defer cleanup()

	scheduler, err := services.NewScheduler(crawler, cfg.ScheduleHours, cfg.ScheduleTZ, logger)
	if err != nil {
		logger.Error("Failed to set up scheduler: %v", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	server := api.NewServer(gctx, store, crawler, logger)
	g.Go(func() error { return server.ListenAndServe(gctx, cfg.APIAddr) })
	g.Go(func() error { return scheduler.Start(gctx) })

	if err := g.Wait(); err != nil {
		logger.Error("Serve stopped: %v", err)
		return 1
	}
	return 0
}

func openStore(cfg *config.Config, logger *utils.Logger) (storage.ListingStore, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("Using the in-memory store; nothing survives this process")
		return storage.NewMemoryStore(), nil
	case config.StorePostgres:
		store, err := storage.NewPostgresStore(cfg.DSN(), logger)
		if err != nil {
			logger.Error("Make sure PostgreSQL is reachable at %s:%s, or set STORE=memory", cfg.PostgresHost, cfg.PostgresPort)
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown STORE %q", cfg.Store)
}

// newCrawler wires fetcher, notifier and the crawl pipeline. cleanup closes
// what it opened.
func newCrawler(cfg *config.Config, store storage.ListingStore, logger *utils.Logger) (*services.Crawler, func(), error) {
	opts := athome.Options{
		SearchURL:  cfg.SearchURL,
		UserAgent:  cfg.UserAgent,
		ChromeBin:  cfg.ChromeBin,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RequestDelay,
	}

	var fetcher services.PageFetcher
	var err error
	switch cfg.FetchStrategy {
	case config.StrategyHTTP:
		fetcher, err = athome.NewHTTPFetcher(opts, logger)
	case config.StrategyBrowser:
		fetcher, err = athome.NewBrowserFetcher(opts, logger)
	default:
		err = fmt.Errorf("unknown FETCH_STRATEGY %q", cfg.FetchStrategy)
	}
	if err != nil {
		return nil, nil, err
	}

	var notifier services.Notifier
	var amqpNotifier *notify.AMQPNotifier
	if cfg.AMQPURL != "" {
		amqpNotifier, err = notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			// Announcements are optional; crawl without them.
			logger.Warn("Notifications disabled: %v", err)
		} else {
			notifier = amqpNotifier
		}
	}

	crawler := services.NewCrawler(
		fetcher,
		services.NewExtractor(logger),
		services.NewRanker(cfg.Rubric, logger),
		store,
		notifier,
		services.CrawlerConfig{
			MaxPages:       cfg.MaxPages,
			MaxConcurrency: cfg.MaxConcurrency,
			RequestDelay:   cfg.RequestDelay,
			NotifyGrades:   cfg.NotifyGrades,
			NotifyNewOnly:  cfg.NotifyNewOnly,
		},
		logger,
	)

	cleanup := func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("Closing fetcher: %v", err)
		}
		if notifier != nil {
			if err := amqpNotifier.Close(); err != nil {
				logger.Warn("Closing notifier: %v", err)
			}
		}
	}
	return crawler, cleanup, nil
}

// exportCSV writes the active listings of the export grades to a timestamped
// file and uploads it when S3_BUCKET is set.
func exportCSV(ctx context.Context, cfg *config.Config, store storage.ListingStore, logger *utils.Logger) (string, error) {
	listings, err := store.QueryActive(ctx, cfg.ExportGrades...)
	if err != nil {
		return "", err
	}

	path := storage.ExportPath(cfg.ExportDir, time.Now())
	w, err := storage.NewCSVWriter(path)
	if err != nil {
		return "", err
	}
	if err := w.Write(listings); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	logger.Info("Exported %d listings to %s", len(listings), path)

	if cfg.S3Bucket == "" {
		return path, nil
	}
	uploader, err := storage.NewS3Uploader(ctx, storage.S3Options{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
		Prefix:   cfg.S3Prefix,
		Key:      cfg.S3Key,
		Secret:   cfg.S3Secret,
	})
	if err != nil {
		return path, err
	}
	key, err := uploader.Upload(ctx, path)
	if err != nil {
		return path, err
	}
	logger.Info("Uploaded export to s3://%s/%s", cfg.S3Bucket, key)
	return path, nil
}

func printStatus(ctx context.Context, store storage.ListingStore, logger *utils.Logger) error {
	stats, err := store.AggregateStats(ctx)
	if err != nil {
		return err
	}
	active, err := store.QueryActive(ctx)
	if err != nil {
		return err
	}

	insights := services.NewInsightService(logger)
	insights.Print(os.Stdout, insights.Generate(stats, active))
	return nil
}
