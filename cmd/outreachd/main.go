// Command outreachd runs the outbound outreach service: the batch
// dispatcher, the company crawl queue and the HTTP API.
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

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/app"
	"github.com/skuwata/outreachd/internal/config"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outreachd",
		Short: "Outbound outreach automation service",
		Long: `outreachd delivers outreach campaigns to companies over their contact
forms or direct messages, and keeps company profiles fresh by crawling
their websites on a schedule.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newServeCmd(), newCrawlCmd(), newRunJobCmd())
	return cmd
}

func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled crawl cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app.App) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New()
	_, err := scheduler.AddFunc(a.Cfg.Crawler.CycleSchedule, func() {
		cycleCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		if _, err := a.Processor.RunCycle(cycleCtx); err != nil {
			a.Logger.Error("crawl cycle failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule crawl cycle: %w", err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.Server.Port),
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl queue cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sample, err := a.Processor.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			a.Logger.Info("crawl cycle finished",
				zap.Int("batch_size", sample.BatchSize),
				zap.Int("success", sample.SuccessCount),
				zap.Int("failure", sample.FailureCount),
				zap.Duration("took", sample.ProcessingTime),
			)
			return nil
		},
	}
}

func newRunJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-job <job-id>",
		Short: "Run one batch job to completion and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Dispatcher.Run(cmd.Context(), args[0])
		},
	}
}
