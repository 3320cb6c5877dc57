package main

import (
	"chat-hub/ai"
	"chat-hub/auth"
	"chat-hub/gateway"
	"chat-hub/internal"
	"chat-hub/moderation"
	"chat-hub/repositories"
	"chat-hub/runtime"
	"chat-hub/runtime/workers"
	"chat-hub/services"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires all components and manages the server lifecycle. Errors flow
// back here so every defer (database close included) executes before exit.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := internal.LoggerFromLevel(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Identity & persistence
	userRepository := repositories.NewUserRepository(db)
	messageRepository := repositories.NewMessageRepository(db, log)
	tokens := auth.NewTokenIssuer(config.JWTSecret, config.AuthTokenDuration)
	identity := services.NewAuthService(userRepository, tokens, log)
	recorder := services.NewMessageRecorder(messageRepository)

	// 4. Moderation
	replacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return err
	}
	censored, err := runtime.LoadCensoredWords()
	if err != nil {
		return fmt.Errorf("loading censored words failed: %w", err)
	}
	moderator, err := moderation.NewModerator(censored.Words, replacement)
	if err != nil {
		return fmt.Errorf("building moderator failed: %w", err)
	}
	log.Info("Moderation ready", "words", len(censored.Words), "languages", censored.Languages)

	// 5. Assistant
	assistant := ai.NewAssistant(ai.AssistantConfig{
		BaseURL: config.AssistantBaseURL,
		APIKey:  config.AssistantAPIKey,
		Model:   config.AssistantModel,
		Timeout: config.AssistantTimeout,
	})

	// 6. Coordinator
	registry := runtime.NewRegistry()
	gate := runtime.NewCooldownGate(config.AssistantCooldown)
	coordinator := runtime.NewCoordinator(
		log, registry, gate, identity, assistant, recorder, moderator.Censor,
		runtime.CoordinatorConfig{
			AssistantTimeout: config.AssistantTimeout,
			MaxReplyRunes:    config.MaxReplyLength,
		},
	)

	// 7. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 8. Background workers
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		workers.NewMidnightWorker(log, coordinator),
		workers.NewTelemetryWorker(log, registry, config.MetricInterval),
	)
	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	// 9. WebSocket server
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	handler := gateway.NewHandler(log, coordinator, config.ConnectionBufferSize)
	server := &http.Server{Addr: address, Handler: handler.Routes()}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// 10. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 11. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	sup.Stop()
	<-supDone
	log.Info("Program stopped cleanly")

	return nil
}
