package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itchan-dev/itchat/backend/internal/router"
	"github.com/itchan-dev/itchat/backend/internal/setup"
	"github.com/itchan-dev/itchat/backend/internal/storage/pg"
	"github.com/itchan-dev/itchat/shared/config"
	jwt_internal "github.com/itchan-dev/itchat/shared/jwt"
	"github.com/itchan-dev/itchat/shared/logger"

	"github.com/spf13/cobra"
)

var configFolder string

func main() {
	root := &cobra.Command{
		Use:           "itchat",
		Short:         "Facility messaging backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFolder, "config_folder", "config", "path to folder with public.yaml and private.yaml")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tokenCmd())

	if err := root.Execute(); err != nil {
		logger.Log.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg := config.MustLoad(configFolder)
	logger.Initialize(cfg.Public.LogLevel, cfg.Public.LogJSON)
	return cfg
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := setup.SetupDependencies(cfg)
			if err != nil {
				return fmt.Errorf("failed to setup dependencies: %w", err)
			}
			defer func() {
				if err := deps.Cleanup(); err != nil {
					logger.Log.Error("cleanup failed", "error", err)
				}
			}()

			if migrate {
				if err := deps.Storage.Migrate(ctx); err != nil {
					return err
				}
			}

			// no WriteTimeout: event streams stay open
			server := &http.Server{
				Addr:              cfg.Public.HTTPAddr,
				Handler:           router.New(deps),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       2 * time.Minute,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Log.Info("server started", "addr", server.Addr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Log.Info("shutting down")
			// views are closed first so open event streams return
			deps.Registry.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			storage, err := pg.New(cfg)
			if err != nil {
				return err
			}
			defer storage.Cleanup()

			if err := storage.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Log.Info("schema applied", "dbname", cfg.Private.Pg.Dbname)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Print an access token for an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			token, err := jwt_internal.New(cfg.JwtKey(), cfg.JwtTTL()).NewToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
