package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ziadkadry99/askdb/internal/audit"
	"github.com/ziadkadry99/askdb/internal/config"
	"github.com/ziadkadry99/askdb/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the askdb HTTP API",
	Long:  `Starts the HTTP API under /api/v0 with question, training and audit endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, appOptions{database: true, audit: true, llm: true})
		if err != nil {
			return err
		}
		defer a.Close()

		port := a.cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv := server.New(server.Config{
			Port:           port,
			AllowAll:       a.cfg.Server.AllowAllOrigins,
			RequestTimeout: 2 * time.Minute,
			Info: map[string]any{
				"version":      Version,
				"llm_provider": string(a.cfg.LLM.Provider),
				"llm_model":    a.cfg.LLM.Model,
				"database":     string(a.cfg.Database.Driver),
			},
		}, a.engine, a.logger)

		audit.RegisterRoutes(srv.Router(), a.audit)

		go func() {
			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "\nShutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("shutdown failed", zap.Error(err))
			}
		}()

		fmt.Fprintf(os.Stderr, "askdb server %s starting on port %d\n", Version, port)
		fmt.Fprintf(os.Stderr, "  Dialect: %s\n", a.engine.Options().Dialect)
		if note := config.DialectNote(a.engine.Options().Dialect); note != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", note)
		}
		fmt.Fprintf(os.Stderr, "  Database connected: %t\n", a.engine.CanExecute())
		fmt.Fprintf(os.Stderr, "  Training items: %d\n", a.store.Count())

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8000, "port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
