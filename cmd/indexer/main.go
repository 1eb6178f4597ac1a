package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/lowmem"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/rebuild"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/resilience"
)

const publishTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file")
	dir := flag.String("dir", "", "index every file in this directory, flush, and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg, *dir); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

func run(cfg *config.Config, dir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	checker := health.NewChecker()

	watcher := lowmem.NewWatcher(cfg.LowMemory.HeapThresholdBytes, cfg.LowMemory.PollInterval, lowmem.RuntimeHeap, m)
	watcher.Start(ctx)

	requester, closeSink, err := openRebuildSink(ctx, cfg, checker)
	if err != nil {
		return err
	}
	defer closeSink()

	var onModified func(indexer.ModificationEvent)
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexModified, true)
		defer producer.Close()
		onModified = consumer.PublishModifications(producer, publishTimeout)
	}

	be, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.close(); err != nil {
			slog.Error("closing index backend", "error", err)
		}
	}()
	if be.redis != nil {
		checker.Register("redis", health.PingCheck(be.ping))
	}

	s := shared{
		backend:    be,
		metrics:    m,
		rebuild:    requester,
		lowMemory:  watcher,
		onModified: onModified,
	}
	wordsEngine, err := buildWordsEngine(s)
	if err != nil {
		return err
	}
	sizesEngine, err := buildSizesEngine(s)
	if err != nil {
		_ = wordsEngine.Dispose()
		return err
	}

	registry := indexer.NewRegistry()
	defer func() {
		if err := registry.DisposeAll(); err != nil {
			slog.Error("disposing indexes", "error", err)
		}
	}()
	for _, e := range []indexer.Managed{wordsEngine, sizesEngine} {
		if err := registry.Register(e); err != nil {
			return err
		}
		checker.Register("index:"+e.ID(), health.IndexCheck(e))
	}

	if dir != "" {
		inputs, err := readDir(dir)
		if err != nil {
			return err
		}
		for _, e := range []interface {
			IndexAll(context.Context, []indexer.Input[string], int) (int, error)
		}{wordsEngine, sizesEngine} {
			if _, err := e.IndexAll(ctx, inputs, cfg.Index.Concurrency); err != nil {
				return err
			}
		}
		return registry.FlushAll()
	}

	if cfg.Metrics.Enabled {
		instrument := middleware.Metrics(m)
		shutdown := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"/live":  instrument(checker.LiveHandler()),
			"/ready": instrument(checker.ReadyHandler()),
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown", "error", err)
			}
		}()
	}

	flushed := registry.StartFlushLoop(ctx, cfg.Index.FlushInterval)

	if len(cfg.Kafka.Brokers) > 0 {
		feed := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.InputChanges, consumer.HandleMessage(wordsEngine, sizesEngine))
		slog.Info("indexer service ready, consuming from kafka",
			"topic", cfg.Kafka.Topics.InputChanges,
			"group", cfg.Kafka.ConsumerGroup,
			"backend", cfg.Index.Backend,
		)
		if err := feed.Start(ctx); err != nil {
			slog.Error("consumer error", "error", err)
		}
	} else {
		slog.Info("indexer service ready, no change feed configured", "backend", cfg.Index.Backend)
		<-ctx.Done()
	}

	<-flushed
	return nil
}

// openRebuildSink returns where engines report untrustworthy data, plus a
// function that releases it.
func openRebuildSink(ctx context.Context, cfg *config.Config, checker *health.Checker) (indexer.RebuildRequester, func(), error) {
	if cfg.Rebuild.Sink != "postgres" {
		return rebuild.NewLogRequester(), func() {}, nil
	}
	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	checker.Register("postgres", health.PingCheck(pg.Ping))

	requester := rebuild.NewPostgresRequester(pg, 0, resilience.RetryConfig{})
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		requester.Run(runCtx)
	}()
	return requester, func() {
		cancel()
		<-done
		pg.Close()
	}, nil
}

// readDir loads every regular file under dir as one input. Ids follow the
// sorted file names, so re-running on the same directory updates in place.
func readDir(dir string) ([]indexer.Input[string], error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	slices.Sort(paths)

	inputs := make([]indexer.Input[string], 0, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		text := string(data)
		inputs = append(inputs, indexer.Input[string]{ID: uint32(i), Value: &text})
	}
	slog.Info("loaded inputs", "dir", dir, "count", len(inputs))
	return inputs, nil
}
