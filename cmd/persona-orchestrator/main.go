// Command persona-orchestrator runs the group-chat session orchestrator as
// a standalone HTTP service, grounded on telnet2-opencode's
// cmd/opencode-server entrypoint (config load → component wiring → listen
// → signal-driven graceful shutdown).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beeper/persona-session-orchestrator/internal/api"
	"github.com/beeper/persona-session-orchestrator/internal/config"
	"github.com/beeper/persona-session-orchestrator/internal/crypto"
	"github.com/beeper/persona-session-orchestrator/internal/logging"
	"github.com/beeper/persona-session-orchestrator/internal/orchestrator"
	"github.com/beeper/persona-session-orchestrator/internal/retrieval"
	"github.com/beeper/persona-session-orchestrator/internal/store"
)

var configPath = flag.String("config", "config.yaml", "path to the YAML config file")

func main() {
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Logging)

	box, err := crypto.NewKeyBox(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("building key box: %w", err)
	}

	db, err := store.Open(cfg.DatabaseURL, box, log.With().Str("component", "store").Logger())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	personas := db.PersonaStore()
	conversations := db.ConversationStore()

	var engine *retrieval.Engine
	if cfg.VectorStoreURL != "" {
		vectorStore := retrieval.NewVectorStore(cfg.VectorStoreURL, cfg.LLMCallTimeout())
		engine = retrieval.New(vectorStore, retrieval.DefaultProviderFactory, log.With().Str("component", "retrieval").Logger())
	} else {
		log.Warn().Msg("vector_store_url not configured, retrieval-augmented personas will fall back to direct mode")
	}

	orch := orchestrator.New(personas, conversations, engine, orchestrator.Config{
		LLMCallTimeout:      cfg.LLMCallTimeout(),
		SessionIdleEviction: cfg.SessionIdleEviction(),
		MaxHistory:          cfg.MaxHistoryPerRequest,
		EventBusBuffer:      cfg.EventBusPerSubscriberBuffer,
	}, log.With().Str("component", "orchestrator").Logger())
	defer orch.Stop()

	srv := api.New(personas, conversations, engine, orch, log.With().Str("component", "api").Logger())

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
	case <-quit:
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}
	return nil
}
