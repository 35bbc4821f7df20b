package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/core"
)

func newWorkerCmd() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the scheduled maintenance jobs until interrupted",
		Long: `worker starts the consolidation, decay, reflection and graph jobs on
their cron schedules and serves Prometheus metrics on metrics.addr when
metrics are enabled. It stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient()
			if err != nil {
				return err
			}
			return runWorker(client, shutdownTimeout)
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Time allowed for running jobs to finish")

	return cmd
}

func runWorker(client *core.Client, shutdownTimeout time.Duration) error {
	logger := client.Logger()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var srv *http.Server
	if m := client.Metrics(); m != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
		srv = &http.Server{
			Addr:              client.Config().Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics endpoint listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint failed", zap.Error(err))
				cancel()
			}
		}()
	}

	client.StartScheduler()
	for _, job := range client.Scheduler().Scheduled() {
		logger.Info("job scheduled",
			zap.String("job", job),
			zap.Time("next", client.Scheduler().Next(job)))
	}

	<-ctx.Done()
	logger.Info("shutting down worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics endpoint shutdown failed", zap.Error(err))
		}
	}

	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case err := <-done:
		return err
	case <-shutdownCtx.Done():
		logger.Warn("worker shutdown timeout exceeded")
		return shutdownCtx.Err()
	}
}
