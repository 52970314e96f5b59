package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdxmph/archdedup/pkg/batch"
	"github.com/pdxmph/archdedup/pkg/duplicate"
	"github.com/pdxmph/archdedup/pkg/remote"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Process JSON-lines requests from stdin, answering on stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}

			mode, err := duplicate.ParseMode(cfg.Check.Mode)
			if err != nil {
				return err
			}

			be, err := openBackend(cfg, logger)
			if err != nil {
				return err
			}
			defer be.Close()

			server := batch.NewServer(os.Stdin, os.Stdout, newManager(be, logger), batch.Options{
				Mode:          mode,
				Filters:       cfg.Check.Filters,
				Distance:      cfg.Distance(),
				QuarantineDir: cfg.Retire.QuarantineDir,
				Jobs:          cfg.Check.Jobs,
			}, logger)

			// Handle graceful shutdown
			ctx, cancel := signalContext()
			defer cancel()

			if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
}

func newIndexServerCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "index-server",
		Short: "Serve the local index and hashing service over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			if cfg.Remote.URL != "" {
				return fmt.Errorf("index-server needs a local index; unset remote.url")
			}

			idx, svc, err := openLocal(cfg, logger)
			if err != nil {
				return err
			}
			defer idx.Close()

			srv := &http.Server{
				Addr:              addr,
				Handler:           remote.NewServer(idx, svc, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, cancel := signalContext()
			defer cancel()

			errChan := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", addr).Str("index", cfg.Index.Path).Msg("index server listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errChan <- err
				}
				close(errChan)
			}()

			select {
			case err := <-errChan:
				return err
			case <-ctx.Done():
			}

			logger.Info().Msg("shutting down")
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7878", "Listen address")
	return cmd
}
