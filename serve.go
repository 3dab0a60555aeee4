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

	"splitpay-api/app"
	"splitpay-api/config"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	servePort   string
	sweepPeriod time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the SplitPay HTTP API.

Expired reservations are released lazily on read. --sweep-every additionally
runs a background sweep so abandoned claims free up balance on quiet tables.

Examples:
  splitpay serve
  splitpay serve --port 9000 --sweep-every 1m
  SPLITPAY_PAYMENTS_SANDBOX_ENABLED=true splitpay serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (overrides server.port)")
	serveCmd.Flags().DurationVar(&sweepPeriod, "sweep-every", 0, "background sweep period, 0 disables it")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Server.Port = servePort
	}
	gin.SetMode(cfg.Server.Mode)
	logger := app.NewLogger(cfg.Server.Mode, os.Stdout)

	db, err := config.OpenDatabase(cfg.Database)
	if err != nil {
		return err
	}
	a := app.New(cfg, db, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sweepPeriod > 0 {
		go func() {
			ticker := time.NewTicker(sweepPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n, err := a.Claims.SweepExpired(ctx); err != nil {
						logger.Error("background sweep failed", "error", err)
					} else if n > 0 {
						logger.Info("background sweep expired claims", "count", n)
					}
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "mode", cfg.Server.Mode, "sandbox", cfg.Payments.SandboxEnabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
