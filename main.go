package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"qsearch/internal/app"
	"qsearch/internal/config"
	"qsearch/internal/logger"
)

func main() {
	base := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(logger.NewContextHandler(base)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	a, err := app.New(ctx, cfg, deps.DB, deps.VectorStore, deps.NSQProducer)
	if err != nil {
		slog.Error("failed to build app", "error", err)
		os.Exit(1)
	}

	if cfg.EnableWorker {
		ingestConsumer, err := startConsumer(cfg, config.TopicIngestTask, a.IngestConsumer)
		if err != nil {
			slog.Error("failed to start ingest consumer", "error", err)
			os.Exit(1)
		}
		defer ingestConsumer.Stop()

		deleteConsumer, err := startConsumer(cfg, config.TopicDeleteTask, a.DeleteConsumer)
		if err != nil {
			slog.Error("failed to start delete consumer", "error", err)
			os.Exit(1)
		}
		defer deleteConsumer.Stop()

		go a.PurgeLoop(ctx)
		slog.Info("worker started", "concurrency", cfg.IngestionConcurrency)
	}

	if cfg.EnableAPI {
		if err := a.Run(ctx); err != nil {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	<-ctx.Done()
}

func startConsumer(cfg *config.Config, topic string, handler nsq.Handler) (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = cfg.IngestionConcurrency

	consumer, err := nsq.NewConsumer(topic, config.ChannelWorker, nsqCfg)
	if err != nil {
		return nil, err
	}
	consumer.AddConcurrentHandlers(handler, cfg.IngestionConcurrency)

	if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
		return nil, err
	}
	slog.Info("consumer connected", "topic", topic, "channel", config.ChannelWorker)
	return consumer, nil
}
