package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kabuscan/kabuscan/internal/config"
	"github.com/kabuscan/kabuscan/internal/database"
	"github.com/kabuscan/kabuscan/internal/modelstore"
	"github.com/kabuscan/kabuscan/internal/pipeline"
	"github.com/kabuscan/kabuscan/internal/server"
	"github.com/kabuscan/kabuscan/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting kabuscan")

	opts, err := config.LoadOptions(cfg.OptionsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load scoring options")
	}

	db, err := database.New(filepath.Join(cfg.DataDir, "kabuscan.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	store, err := modelstore.New(db, filepath.Join(cfg.DataDir, "models"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize model store")
	}

	runs, err := pipeline.NewRunRepository(db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize run repository")
	}

	svc := pipeline.New(opts, store, runs, log)

	srv := server.New(server.Config{
		Port:     cfg.Port,
		Log:      log,
		Pipeline: svc,
		Runs:     runs,
		Store:    store,
		DevMode:  cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
