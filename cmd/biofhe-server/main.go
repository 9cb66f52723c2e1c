// Command biofhe-server serves encrypted biometric verification over HTTP.
//
// It holds the secret key, compiles templates against the dataset score
// tables and runs the matching pipeline on request:
//
//	biofhe-server -config biofhe.toml -addr :8449 -queue memory
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
	var (
		configPath = flag.String("config", "", "TOML settings file")
		addr       = flag.String("addr", ":8449", "HTTP server address")
		engineName = flag.String("engine", server.EngineTFHE, "engine: tfhe or cleartext")
		keyPath    = flag.String("key", "", "secret key file, generated when missing")
		dataDir    = flag.String("data", "", "dataset directory (overrides settings)")
		dataset    = flag.String("dataset", "", "dataset preset (overrides settings)")
		strategy   = flag.String("strategy", "", "default strategy (overrides settings)")
		workers    = flag.Int("workers", 0, "lookup workers per authentication")
		queueMode  = flag.String("queue", "memory", "job queue: memory, redis or none")
		queueName  = flag.String("queue-name", "default", "Redis queue name")
		poolSize   = flag.Int("pool", 2, "in-process job workers for the memory queue")
		jsonLogs   = flag.Bool("log-json", false, "emit JSON logs")
	)
	flag.Parse()

	settings, err := biofhe.LoadSettings(*configPath)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	if *dataDir != "" {
		settings.DataDir = *dataDir
	}
	if *dataset != "" {
		settings.Dataset = *dataset
	}
	if *strategy != "" {
		settings.Strategy = *strategy
	}
	if *workers > 0 {
		settings.Workers = *workers
	}
	cfg, err := settings.Config()
	if err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}

	log.Printf("BioFHE Server starting...")
	log.Printf("  Address: %s", *addr)
	log.Printf("  Dataset: %s", cfg)
	log.Printf("  Engine: %s", *engineName)
	log.Printf("  Strategy: %s", settings.Strategy)
	log.Printf("  Storage: %s", settings.Storage.Backend)
	log.Printf("  Queue: %s", *queueMode)
	if st, err := settings.ParsedStrategy(); err == nil && st.Mode == biofhe.MultiBit && *engineName != server.EngineCleartext {
		log.Printf("  Note: the tfhe engine runs multibit lookups with classic blind rotation")
	}

	logger := biofhe.NewTextLogger(slog.LevelInfo)
	if *jsonLogs {
		logger = biofhe.NewJSONLogger(slog.LevelInfo)
	}

	engine, err := server.NewEngine(*engineName, cfg, *keyPath)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	v, provider, err := server.Open(settings, engine, logger)
	if err != nil {
		log.Fatalf("Failed to create verifier: %v", err)
	}
	defer v.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		q    queue.Queue
		pool *server.WorkerPool
	)
	switch *queueMode {
	case "memory":
		mq := queue.NewMemoryQueue(1024)
		pool = server.NewWorkerPool(v, mq, *poolSize, settings.RateLimit, settings.Burst)
		if err := pool.Start(ctx); err != nil {
			log.Fatalf("Failed to start workers: %v", err)
		}
		q = mq
	case "redis":
		rq, err := queue.NewRedisQueue(queue.RedisConfig{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		}, *queueName)
		if err != nil {
			log.Fatalf("Failed to connect queue: %v", err)
		}
		q = rq
	case "none":
	default:
		log.Fatalf("Unknown queue mode %q", *queueMode)
	}

	srv := server.New(server.Config{
		Address: *addr,
		Queue:   q,
		Samples: provider,
	}, v)

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		log.Printf("BioFHE Server listening on %s", *addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down BioFHE Server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if pool != nil {
		if err := pool.Stop(30 * time.Second); err != nil {
			log.Printf("Worker pool shutdown error: %v", err)
		}
	}
	if q != nil {
		q.Close()
	}

	fmt.Println("BioFHE Server stopped")
}
