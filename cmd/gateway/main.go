package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"modelgate/internal/gateway/auth"
	"modelgate/internal/gateway/catalog"
	"modelgate/internal/gateway/forward"
	"modelgate/internal/gateway/handlers"
	"modelgate/internal/gateway/route"
	"modelgate/internal/shared/auditlog"
	"modelgate/internal/shared/config"
	"modelgate/internal/shared/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	closeLog, err := logging.Setup(cfg.ServiceLogFile, cfg.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open service log")
	}
	defer closeLog()

	log.Info().
		Str("port", cfg.Port).
		Str("env", cfg.Env).
		Int("backends", len(cfg.Backends)).
		Int("credentials", len(cfg.Credentials)).
		Msg("starting modelgate")

	authenticator := auth.New(cfg.Credentials)

	cat, err := catalog.New(catalog.OpenAILister{Timeout: cfg.CatalogTimeout}, cfg.CatalogCapacity)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize model catalog")
	}

	resolver := route.New(cfg.Backends, cat)
	forwarder := forward.New(cfg.ForwardTimeout)
	audit := auditlog.New(cfg.AuditLogFile)

	gateway := handlers.NewGateway(cfg, authenticator, cat, resolver, forwarder, audit)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      gateway.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}
