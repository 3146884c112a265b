package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"snipeqc/internal/api"
	"snipeqc/internal/config"
	"snipeqc/internal/engine"
	fileutil "snipeqc/internal/file"
	"snipeqc/internal/reference"
	"snipeqc/internal/results"
	"snipeqc/internal/task"
	"snipeqc/internal/worker"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	fetcher, err := reference.NewFetcher(cfg.ReferenceBase, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("build reference fetcher")
	}
	refs := reference.NewLoader(fetcher)
	table := results.NewTable()
	wrk := worker.New(engine.NewSnipe(cfg.KSize), cfg.QueueCapacity)
	orch := task.NewOrchestrator(refs, wrk, table, task.Options{DataDir: cfg.DataDir})
	if err := orch.LoadFromDisk(); err != nil {
		log.Warn().Err(err).Msg("restore persisted tasks")
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	wrk.Start(baseCtx)
	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		orch.ConsumeEvents(baseCtx, wrk.Events())
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestLogger())
	api.New(orch, refs, table, wrk).RegisterRoutes(router)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()
	gracefulShutdown(srv, baseCancel, eventsDone, shutdownTimeout)
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, eventsDone <-chan struct{}, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	select {
	case <-eventsDone:
	case <-ctx.Done():
		log.Warn().Msg("worker event loop did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
