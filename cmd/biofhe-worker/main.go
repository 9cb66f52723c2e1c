// Command biofhe-worker runs authentication jobs from a Redis queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/biofhe"
	"github.com/luxfi/biofhe/internal/queue"
	"github.com/luxfi/biofhe/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "TOML settings file")
		numWorkers  = flag.Int("workers", 4, "number of worker goroutines")
		engineName  = flag.String("engine", server.EngineTFHE, "engine: tfhe or cleartext")
		keyPath     = flag.String("key", "", "secret key file shared with the server")
		queueName   = flag.String("queue", "default", "queue name")
		metricsAddr = flag.String("metrics", ":9090", "metrics server address")
		jsonLogs    = flag.Bool("log-json", false, "emit JSON logs")
	)
	flag.Parse()

	settings, err := biofhe.LoadSettings(*configPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	cfg, err := settings.Config()
	if err != nil {
		return err
	}

	log.Printf("BioFHE Worker starting...")
	log.Printf("  Workers: %d", *numWorkers)
	log.Printf("  Dataset: %s", cfg)
	log.Printf("  Redis: %s", settings.Redis.Addr)
	log.Printf("  Storage: %s", settings.Storage.Backend)
	log.Printf("  Rate limit: %.1f/s", settings.RateLimit)
	log.Printf("  Metrics: %s", *metricsAddr)

	logger := biofhe.NewTextLogger(slog.LevelInfo)
	if *jsonLogs {
		logger = biofhe.NewJSONLogger(slog.LevelInfo)
	}

	// Queue.
	q, err := queue.NewRedisQueue(queue.RedisConfig{
		Addr:     settings.Redis.Addr,
		Password: settings.Redis.Password,
		DB:       settings.Redis.DB,
	}, *queueName)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer q.Close()

	// Engine, tables and storage.
	engine, err := server.NewEngine(*engineName, cfg, *keyPath)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	v, _, err := server.Open(settings, engine, logger)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	defer v.Close()

	pool := server.NewWorkerPool(v, q, *numWorkers, settings.RateLimit, settings.Burst)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	// Metrics server.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "# HELP biofhe_authentications_total Total authentication jobs\n")
		fmt.Fprintf(w, "# TYPE biofhe_authentications_total counter\n")
		fmt.Fprintf(w, "biofhe_authentications_total{status=\"success\"} %d\n", pool.Succeeded())
		fmt.Fprintf(w, "biofhe_authentications_total{status=\"failure\"} %d\n", pool.Failed())
	})

	metrics := &http.Server{
		Addr:    *metricsAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("Metrics server starting on %s", *metricsAddr)
		if err := metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Printf("Received signal: %s", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := metrics.Shutdown(shutdownCtx); err != nil {
		log.Printf("Metrics server shutdown error: %v", err)
	}
	if err := pool.Stop(30 * time.Second); err != nil {
		log.Printf("Worker pool shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
