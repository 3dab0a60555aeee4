package main

import (
	"fmt"
	"io"
	"log/slog"

	"splitpay-api/claims"
	"splitpay-api/config"
	"splitpay-api/ledger"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire every lapsed reservation and release its balance",
	Long: `Expire every reserved claim whose window has passed without a payment.

Claims already handed to the processor are left alone. Safe to run from cron
alongside a live server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		db, err := config.OpenDatabase(cfg.Database)
		if err != nil {
			return err
		}
		store := claims.NewStore(db, ledger.New(cfg.Payments.PaidTolerance), claims.Options{
			FixedFee: cfg.Payments.FixedSplitFee,
			Window:   cfg.Payments.ClaimWindow,
			Logger:   newCLILogger(cmd.ErrOrStderr()),
		})
		n, err := store.SweepExpired(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Expired %d claim(s)\n", n)
		return nil
	},
}

func newCLILogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
