package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/biocypher/biochatter-server/internal/config"
	"github.com/biocypher/biochatter-server/internal/httpapi"
	"github.com/biocypher/biochatter-server/internal/logger"
	"github.com/biocypher/biochatter-server/pkg/llm"
	"github.com/biocypher/biochatter-server/pkg/session"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the BioChatter HTTP server in the foreground. The server keeps
chat sessions in memory and recycles expired ones on a fixed schedule.
SIGINT or SIGTERM triggers a graceful shutdown.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()

	factory := llm.NewFactory(llm.EngineSettings{
		APIType:        cfg.OpenAI.APIType,
		APIKey:         cfg.OpenAI.APIKey,
		Endpoint:       cfg.OpenAI.Endpoint,
		DeploymentName: cfg.OpenAI.DeploymentName,
		Model:          cfg.OpenAI.Model,
		APIVersion:     cfg.OpenAI.APIVersion,
		EmbeddedModel:  cfg.OpenAI.EmbeddedModel,
	})

	store := session.NewStore(factory, cfg.Session.MaxAge)
	recycler := session.NewRecycler(store, cfg.Session.RecycleInterval)
	if err := recycler.Start(); err != nil {
		return fmt.Errorf("failed to start recycler: %w", err)
	}

	server := httpapi.NewServer(cfg, store)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-errCh:
		recycler.Stop()
		return err
	}

	// Teardown order: stop the schedule, drain HTTP, drop sessions.
	recycler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}

	store.Clear()
	log.Info().Msg("Server stopped")
	return nil
}
