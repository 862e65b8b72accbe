// Command webshell runs the single-operator session console: it signs the
// operator in against the session-intelligence backend through the SDK,
// serves the session and admin views, and exposes health and metrics. All
// session semantics live in the SDK; main only wires dependencies and the
// server lifecycle.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	sessionintel "github.com/rutvikpatel14/session-intelligence-go"
	"github.com/rutvikpatel14/session-intelligence-go/audit"
	"github.com/rutvikpatel14/session-intelligence-go/internal/shell/config"
	"github.com/rutvikpatel14/session-intelligence-go/internal/shell/handlers"
	"github.com/rutvikpatel14/session-intelligence-go/internal/shell/httpserver"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	log := newLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store audit.Store = audit.NewMemoryStore()
	if cfg.Audit.Enabled() {
		kafka, err := audit.NewKafkaStore(ctx, cfg.Audit.Brokers, cfg.Audit.Topic)
		if err != nil {
			log.Error("connect audit kafka", "brokers", cfg.Audit.Brokers, "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		store = kafka
		log.Info("audit events flowing to kafka", "topic", cfg.Audit.Topic)
	}
	publisher := audit.NewPublisher(store,
		audit.WithAsyncBuffer(cfg.Audit.Buffer),
		audit.WithLogger(log))
	defer publisher.Close()

	registry := prometheus.NewRegistry()
	client, err := sessionintel.New(sessionintel.Options{
		BaseURL:      cfg.Backend.URL,
		Logger:       log,
		Registry:     registry,
		Audit:        publisher,
		PollInterval: cfg.Backend.PollInterval,
		OnSessionEnd: func(reason string) {
			log.Warn("session ended, operator must sign in again", "reason", reason)
		},
	})
	if err != nil {
		log.Error("build session client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	if client.Bootstrap(ctx) {
		log.Info("session recovered from persisted refresh cookie")
	}

	handler := handlers.New(client, registry, log)
	srv := httpserver.New(cfg.HTTP.Addr(), handler.Router())

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()
	log.Info("web shell listening", "addr", cfg.HTTP.Addr(), "backend", cfg.Backend.URL)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// newLogger picks the slog handler by environment: human-readable locally,
// JSON everywhere else.
func newLogger(env string) *slog.Logger {
	if env == "local" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
