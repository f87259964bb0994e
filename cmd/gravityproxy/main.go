// Package main is the entry point for the gravityproxy gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"gravityproxy/internal/config"
	"gravityproxy/internal/cooldown"
	"gravityproxy/internal/mapping"
	"gravityproxy/internal/metrics"
	"gravityproxy/internal/orchestrator"
	"gravityproxy/internal/server"
	"gravityproxy/internal/signature"
	"gravityproxy/internal/tokenpool"
	"gravityproxy/internal/upstream"
)

// shutdownTimeout bounds how long in-flight requests get to finish once
// a shutdown signal arrives.
const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	tokens := make([]tokenpool.Token, len(cfg.Accounts))
	for i, acct := range cfg.Accounts {
		tokens[i] = tokenpool.Token{
			AccountIdentifier: acct.Identifier,
			AccessToken:       acct.AccessToken,
			ProjectID:         acct.ProjectID,
			SessionID:         acct.SessionID,
		}
		log.Printf("registered account %q", acct.Identifier)
	}
	pool := tokenpool.NewStaticPool(tokens)

	store, err := buildCooldownStore(cfg.Cooldown)
	if err != nil {
		log.Fatalf("failed to build cooldown store: %v", err)
	}

	httpClient := upstream.NewClient(
		time.Duration(cfg.Upstream.RequestTimeoutSecs)*time.Second,
		cfg.Upstream.Proxy.Enabled,
		cfg.Upstream.Proxy.URL,
	)
	dispatcher := upstream.NewDispatcher(httpClient, cfg.Upstream.BaseURL)

	sigCache := signature.New(0)
	metricsSink := metrics.New()
	orch := orchestrator.New(pool, dispatcher, store, sigCache, metricsSink)

	mappingWatch := func() mapping.Snapshot {
		return mapping.NewStaticSnapshot(cfg.AnthropicModelMapping)
	}
	if w, err := mapping.NewWatcher("config.yaml", "anthropic_model_mapping"); err != nil {
		log.Printf("model mapping hot-reload disabled, using config snapshot: %v", err)
	} else {
		mappingWatch = w.Current
	}

	srv := server.New(orch, mappingWatch, cfg.Server.ReadTimeout, metricsSink)

	// Bind to loopback only (spec §4.C11): this proxy is a local
	// protocol-translation helper, never meant to accept connections
	// from outside the host it runs on.
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("gravityproxy listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	// Graceful shutdown on a one-shot signal (spec §4.C11).
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	case <-sigChan:
		log.Printf("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatalf("graceful shutdown failed: %v", err)
		}
	}
}

func buildCooldownStore(cfg config.CooldownConfig) (cooldown.Store, error) {
	if cfg.Backend == "redis" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis_url: %w", err)
		}
		return cooldown.NewRedisStore(redis.NewClient(opts)), nil
	}
	return cooldown.NewMemoryStore(), nil
}
