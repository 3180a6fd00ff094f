package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/scripthost"
	"github.com/aretw0/scripthost/internal/logging"
	httpAdapter "github.com/aretw0/scripthost/pkg/adapters/http"
	"github.com/aretw0/scripthost/pkg/config"
	"github.com/aretw0/scripthost/pkg/observability"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control server",
	Long: `Loads the sessions of a session file and exposes them over a JSON API.
Prometheus metrics are served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		addr, _ := cmd.Flags().GetString("addr")

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("log-level") {
			logger = logging.New(logging.ParseLevel(cfg.LogLevel))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		metrics := observability.NewMetrics(reg)
		streams := httpAdapter.NewStreamManager()

		mgr, err := scripthost.FromConfig(ctx, cfg,
			scripthost.WithLogger(logger),
			scripthost.WithLifecycleHooks(observability.Chain(
				metrics.Hooks(),
				streams.Hooks(),
				observability.LoggingHooks(logger),
			)),
		)
		if err != nil {
			return err
		}
		defer mgr.Close()

		r := chi.NewRouter()
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		r.Mount("/", httpAdapter.NewHandler(mgr,
			httpAdapter.WithStreams(streams),
			httpAdapter.WithLogger(logger),
		))

		srv := &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			fmt.Printf("Starting scripthost server on %s\n", srv.Addr)
			fmt.Printf("Sessions: %v\n", mgr.List())
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case <-ctx.Done():
			fmt.Println("\nStart shutdown...")

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
				if err := srv.Close(); err != nil {
					fmt.Printf("Error killing server: %v\n", err)
				}
			}
			fmt.Println("scripthost server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("config", "sessions.yaml", "Session file (YAML or JSON)")
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
}
