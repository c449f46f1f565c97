package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aluque/prospecto/internal/api"
	"github.com/aluque/prospecto/internal/log"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Arranca el servidor HTTP del API de sesiones",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{Level: envLogLevel(), JSON: true})

	a, err := setup(ctx, logger)
	if err != nil {
		return err
	}
	a.store.StartSweeper(ctx)

	srv, err := api.NewServer(api.ServerConfig{
		Logger:   logger,
		Store:    a.store,
		Searcher: a.registry,
		Fetcher:  a.fetcher,
		Engine:   a.engine,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Addr
	}

	logger.Info("prospecto API ready",
		"version", AppVersion,
		"model", a.cfg.ModelName,
		"addr", addr,
	)
	return srv.Run(ctx, addr)
}

// envLogLevel reads PROSPECTO_LOG_LEVEL, defaulting to info.
func envLogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("PROSPECTO_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
