package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"soraq/api"
	"soraq/artifact"
	"soraq/usage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the websocket hub and the queue scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		retriever, err := artifact.NewRetriever(cfg, a.client)
		if err != nil {
			return err
		}
		a.queue.SetArtifactCollector(retriever)

		usageStore, err := usage.Open(ctx, cfg.UsageDriver, cfg.UsageDSN)
		if err != nil {
			return fmt.Errorf("failed to open usage store: %w", err)
		}
		recorder := usage.NewRecorder(usageStore)
		defer recorder.Close()
		a.queue.SetUsageRecorder(recorder)

		hub := api.NewHub(cfg)
		a.queue.SetNotifier(hub.Publish)

		h := api.NewHandler(cfg, api.Deps{
			Queue:       a.queue,
			Provider:    a.client,
			Ledger:      a.book,
			Credentials: a.store,
			Artifacts:   retriever,
			Usage:       recorder,
			Hub:         hub,
		})
		srv := &http.Server{
			Addr:    ":" + cfg.Port,
			Handler: api.SetupRouter(cfg, h),
		}

		go hub.Run(ctx)
		go retriever.CleanupLoop(ctx)
		a.queue.Start(ctx)

		errCh := make(chan error, 1)
		go func() {
			slog.Info("server starting", "port", cfg.Port, "state", cfg.StateFile, "usage_driver", cfg.UsageDriver)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			stop()
			a.queue.Wait()
			return fmt.Errorf("listen: %w", err)
		}

		stop()
		slog.Info("shutting down gracefully, press Ctrl+C again to force")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		a.queue.Wait()

		slog.Info("server exiting")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
