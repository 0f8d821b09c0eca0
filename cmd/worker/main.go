package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	fitq "github.com/wearlab/fitq"
	"github.com/wearlab/fitq/config"
	"github.com/wearlab/fitq/fitting"
	"github.com/wearlab/fitq/jobs"
)

func main() {
	zl, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zl.Sync()
	log := fitq.NewZapLogger(zl)

	cfg := config.Load()

	broker := fitq.NewBroker(fitq.BrokerConfig{
		URL:      cfg.RedisURL,
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	defer broker.Close()

	ctx := context.Background()
	store, err := jobs.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Errorf("store connect failed: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	engine, err := fitting.NewLocalEngine(cfg.ResultsDir, log)
	if err != nil {
		log.Errorf("engine init failed: %v", err)
		os.Exit(1)
	}

	queue := fitq.NewTaskQueue(broker, cfg.QueueName, fitq.WithLogger(log))
	mux := fitq.NewMux()
	fitting.NewHandler(store, engine, cfg.TempDir, log).Register(mux)

	worker := fitq.NewWorker(queue, mux, fitq.WorkerConfig{
		Concurrency:    cfg.WorkerCount,
		DequeueTimeout: cfg.DequeueTimeout,
		HandlerTimeout: cfg.HandlerTimeout,
		Logger:         log,
	})
	worker.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Infof("signal received: %v, draining", s)
	worker.Stop()
	log.Infof("worker stopped")
}
