package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/eventbook/project/internal/app/eventapi"
	"github.com/eventbook/project/internal/app/events"
	"github.com/eventbook/project/internal/app/identity"
	"github.com/eventbook/project/internal/platform/dbpool"
	"github.com/eventbook/project/internal/platform/env"
	"github.com/eventbook/project/internal/platform/kv"
	"github.com/eventbook/project/internal/platform/metrics"
	"github.com/eventbook/project/internal/platform/natsutil"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiAddr := env.String("EVENT_API_ADDR", env.DefaultAPIAddr)
	uiOrigin := env.String("UI_ORIGIN", "")
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	jwtSecret := env.String("JWT_SECRET", "dev-insecure-change-me")
	uploadDir := env.String("UPLOAD_DIR", "uploads")
	eventsBackend := env.String("EVENTS_BACKEND", "postgres")
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	identityRepo := identity.NewPostgresRepository(pool)
	pgKV := kv.NewPostgresStore(pool)
	if err := waitForSchema(runCtx, identityRepo, pgKV, 30*time.Second); err != nil {
		log.Fatal(err)
	}
	identitySvc := identity.NewService(identityRepo, identity.NewTokenManager(jwtSecret))

	var natsClient *natsutil.Client
	var eventsKV kv.Store = pgKV
	switch eventsBackend {
	case "memory":
		// Dev-only: events vanish on restart.
		eventsKV = kv.NewMemory()
	case "nats":
		natsClient, err = natsutil.ConnectWithRetry(env.String("NATS_URL", env.DefaultNATSURL), 20*time.Second)
		if err != nil {
			log.Fatal(err)
		}
		defer natsClient.Close()
		bucket, err := natsClient.KeyValue(env.String("EVENTS_BUCKET", env.DefaultEventsBucket))
		if err != nil {
			log.Fatal(err)
		}
		eventsKV = natsutil.KVStore{Bucket: bucket}
	}

	eventsSvc := events.NewService(events.NewStore(eventsKV))
	handler := eventapi.NewHandler(eventsSvc, identitySvc, uploadDir, uiOrigin)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := checkReadiness(r.Context(), pool, natsClient); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              apiAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	fmt.Printf("Event API listening on %s (events backend: %s)\n", apiAddr, eventsBackend)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("event-api graceful shutdown failed: %v", err)
	}
}

func waitForSchema(ctx context.Context, repo *identity.PostgresRepository, store *kv.PostgresStore, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = repo.EnsureSchema(attemptCtx)
		if lastErr == nil {
			lastErr = store.EnsureSchema(attemptCtx)
		}
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Printf("waiting for schema readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

func checkReadiness(ctx context.Context, pool *pgxpool.Pool, natsClient *natsutil.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	if natsClient != nil && natsClient.Conn.Status() != nats.CONNECTED {
		return fmt.Errorf("nats is not connected: %s", natsClient.Conn.Status().String())
	}
	return nil
}
