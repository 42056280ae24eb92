package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/newsletter-engine/internal/api"
	"github.com/ignite/newsletter-engine/internal/audience"
	"github.com/ignite/newsletter-engine/internal/config"
	"github.com/ignite/newsletter-engine/internal/events"
	"github.com/ignite/newsletter-engine/internal/export"
	"github.com/ignite/newsletter-engine/internal/idempotency"
	"github.com/ignite/newsletter-engine/internal/orchestrator"
	"github.com/ignite/newsletter-engine/internal/pkg/distlock"
	"github.com/ignite/newsletter-engine/internal/pkg/ratelimit"
	"github.com/ignite/newsletter-engine/internal/provider"
	"github.com/ignite/newsletter-engine/internal/queue"
	"github.com/ignite/newsletter-engine/internal/scheduler"
	"github.com/ignite/newsletter-engine/internal/store"
	"github.com/ignite/newsletter-engine/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("[Main] Configuration error: %v", err)
	}
	log.Printf("[Main] Starting newsletter engine (env=%s)", cfg.Server.Environment)

	st, err := store.New(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		log.Fatalf("[Main] Database connection failed: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		log.Fatalf("[Main] Migration failed: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("[Main] Warning: redis unavailable, degrading to single-instance locking: %v", err)
			redisClient = nil
		}
	}

	registry := buildRegistry(cfg, redisClient)

	rec := events.NewRecorder(st.DB())
	engine := orchestrator.NewEngine(
		st,
		audience.NewResolver(st.DB()),
		queue.NewManager(st.DB()),
		idempotency.NewGuard(rec),
		rec,
		registry,
		cfg.Defaults.Provider,
	)

	reconciler := webhook.NewReconciler(st.DB(), rec, engine)
	lock := distlock.NewLock(redisClient, st.DB(), "newsletter-engine:dispatch", 10*time.Minute)
	dispatcher := scheduler.NewDispatcher(st, engine, lock)

	var ticker *scheduler.Ticker
	if cfg.Cron.Spec != "" {
		ticker, err = scheduler.StartTicker(dispatcher, cfg.Cron.Spec)
		if err != nil {
			log.Fatalf("[Main] Invalid cron spec %q: %v", cfg.Cron.Spec, err)
		}
	}

	limiter := ratelimit.New(redisClient, 60, time.Minute)
	server := api.NewServer(cfg, engine, reconciler, dispatcher, st, limiter)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	go func() {
		log.Printf("[Main] Listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Main] Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("[Main] Shutting down")
	if ticker != nil {
		ticker.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[Main] Shutdown error: %v", err)
	}
}

// buildRegistry wires the configured provider adapters. Missing
// credentials leave an adapter out of the registry; selecting it at send
// time then fails cleanly.
func buildRegistry(cfg *config.Config, _ *redis.Client) *provider.Registry {
	var senders []provider.Sender

	if cfg.Postmark.ServerToken != "" {
		senders = append(senders, provider.NewPostmark(cfg.Postmark, cfg.Defaults.UnsubscribeBaseURL))
		log.Printf("[Main] Postmark adapter enabled")
	}
	if cfg.Mailchimp.APIKey != "" {
		senders = append(senders, provider.NewMailchimp(cfg.Mailchimp))
		log.Printf("[Main] Mailchimp adapter enabled")
	}

	var objStore provider.ObjectStore
	uploader, err := export.NewUploader(context.Background(), cfg.Export)
	if err != nil {
		log.Printf("[Main] Warning: export uploads disabled: %v", err)
	} else if uploader != nil {
		objStore = uploader
	}
	senders = append(senders, provider.NewHTMLExport(objStore))

	return provider.NewRegistry(senders...)
}
