package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/canopy"
	httpAdapter "github.com/aretw0/canopy/pkg/adapters/http"
	"github.com/aretw0/canopy/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Serves the tree over HTTP: administration of nodes and tools, synchronous and
streamed (SSE) runs, stored conversations and Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		logger, err := newLogger(cmd)
		if err != nil {
			return err
		}
		reg := prometheus.NewRegistry()
		metrics, err := observability.NewMetrics(reg)
		if err != nil {
			return err
		}
		hooks := observability.Combine(metrics.Hooks(), observability.LogHooks(logger))

		a, err := setup(cmd, canopy.WithLifecycleHooks(hooks))
		if err != nil {
			return err
		}
		sessions, closeStore, err := a.file.OpenSessions(a.logger)
		if err != nil {
			return err
		}
		defer closeStore()

		handler := httpAdapter.NewHandler(a.router,
			httpAdapter.WithCatalog(a.catalog),
			httpAdapter.WithSessions(sessions),
			httpAdapter.WithMetrics(reg),
			httpAdapter.WithLogger(a.logger),
		)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			a.logger.Info("HTTP server listening", "address", srv.Addr, "tree", a.router.Name)
			fmt.Fprintf(cmd.ErrOrStderr(), "Serving %q on %s\n", a.router.Name, srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-cmd.Context().Done():
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				a.logger.Error("graceful shutdown did not complete", "err", err)
				return srv.Close()
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
}
