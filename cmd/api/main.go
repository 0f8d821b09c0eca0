package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	fitq "github.com/wearlab/fitq"
	"github.com/wearlab/fitq/config"
	"github.com/wearlab/fitq/fitting"
	"github.com/wearlab/fitq/internal/api"
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

	queue := fitq.NewTaskQueue(broker, cfg.QueueName, fitq.WithLogger(log))
	svc := fitting.NewService(store, queue, cfg.SelectedDir, log)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.New(svc, log).Router(),
	}

	go func() {
		log.Infof("api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("serve failed: %v", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Infof("signal received: %v, shutting down", s)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown failed: %v", err)
	}
}
