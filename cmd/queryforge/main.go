package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/jordanhubbard/queryforge/internal/api"
	"github.com/jordanhubbard/queryforge/internal/database"
	"github.com/jordanhubbard/queryforge/internal/engine"
	"github.com/jordanhubbard/queryforge/internal/events"
	"github.com/jordanhubbard/queryforge/internal/memory"
	"github.com/jordanhubbard/queryforge/internal/orchestrator"
	"github.com/jordanhubbard/queryforge/internal/reasoning"
	"github.com/jordanhubbard/queryforge/internal/retry"
	"github.com/jordanhubbard/queryforge/internal/schema"
	"github.com/jordanhubbard/queryforge/internal/session"
	"github.com/jordanhubbard/queryforge/internal/temporal"
	"github.com/jordanhubbard/queryforge/pkg/config"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	promptAPIKey := flag.Bool("prompt-api-key", false, "Prompt for the reasoning API key instead of reading config")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("QueryForge v%s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config from %s: %v", *configPath, err)
	}

	if *promptAPIKey {
		key, err := readAPIKey()
		if err != nil {
			log.Fatalf("failed to read API key: %v", err)
		}
		cfg.Reasoning.APIKey = key
	}

	// Lesson and session storage
	var db *database.Database
	switch cfg.Database.Type {
	case "postgres":
		db, err = database.NewPostgres(cfg.Database.DSN)
	default:
		db, err = database.New(cfg.Database.Path)
	}
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	store, closeStore, err := buildSessionStore(cfg, db)
	if err != nil {
		log.Fatalf("failed to create session store: %v", err)
	}
	defer closeStore()

	// Lesson memory
	curated, err := memory.NewCuratedStore(cfg.Memory.CuratedPath)
	if err != nil {
		log.Fatalf("failed to load curated lessons: %v", err)
	}
	if cfg.Memory.HotReload {
		if err := curated.Watch(); err != nil {
			log.Printf("Warning: curated lesson hot-reload disabled: %v", err)
		}
	}
	defer curated.Close()
	mem := memory.NewEngine(curated, db)

	// Reasoning backend
	client := reasoning.NewOpenAIClient(cfg.Reasoning.Endpoint, cfg.Reasoning.APIKey)
	reasoner := reasoning.NewService(client, cfg.Reasoning.Model)

	// Warehouse
	warehouse, err := sql.Open(cfg.Warehouse.Driver, cfg.Warehouse.DSN)
	if err != nil {
		log.Fatalf("failed to open warehouse: %v", err)
	}
	defer warehouse.Close()
	executor := engine.New(warehouse,
		engine.WithMaxRows(cfg.Warehouse.MaxRows),
		engine.WithTimeout(cfg.Warehouse.QueryTimeout),
	)

	// Event publisher is optional; the pipeline runs without it.
	var pub *events.Publisher
	if cfg.Events.Enabled {
		pub, err = events.Connect(cfg.Events.URL, cfg.Events.SubjectPrefix)
		if err != nil {
			log.Printf("Warning: event publishing disabled: %v", err)
		} else {
			defer pub.Close()
		}
	}

	orch, err := orchestrator.New(orchestrator.Config{
		SchemaSource:   cfg.Schema.Source,
		MaxSQLCycles:   cfg.Pipeline.MaxSQLCycles,
		MaxCorrections: cfg.Pipeline.MaxCorrections,
	}, store, schema.NewFileProvider(), reasoner, executor, mem, pub)
	if err != nil {
		log.Fatalf("failed to create orchestrator: %v", err)
	}
	orch.SetRetryConfig(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.JitterEnabled(),
	})

	// Optional Temporal worker for long-running pipelines.
	if cfg.Temporal.Enabled {
		tw, err := temporal.NewWorker(cfg.Temporal.HostPort, cfg.Temporal.Namespace, orch)
		if err != nil {
			log.Fatalf("failed to start temporal worker: %v", err)
		}
		defer tw.Stop()
		go func() {
			if err := tw.Run(); err != nil {
				log.Printf("Temporal worker stopped: %v", err)
			}
		}()
	}

	server := api.NewServer(orch, store, db, cfg)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("QueryForge v%s listening on :%d", version, cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
}

// buildSessionStore picks the checkpoint backend from config. The
// returned closer is a no-op for backends owned elsewhere.
func buildSessionStore(cfg *config.Config, db *database.Database) (session.Store, func(), error) {
	switch cfg.Sessions.Store {
	case "file":
		fs, err := session.NewFileStore(cfg.Sessions.Dir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rs, err := session.NewRedisStore(ctx,
			cfg.Sessions.Redis.Addr,
			cfg.Sessions.Redis.Password,
			cfg.Sessions.Redis.DB,
			cfg.Sessions.Redis.TTL,
		)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { rs.Close() }, nil
	default:
		return database.NewSessionStore(db), func() {}, nil
	}
}

// readAPIKey reads the reasoning API key without echoing it.
func readAPIKey() (string, error) {
	fmt.Fprint(os.Stderr, "Reasoning API key: ")
	key, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(key), nil
}
