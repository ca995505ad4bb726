package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/app"
	"github.com/sudo-init-do/mkopo/internal/auth"
	"github.com/sudo-init-do/mkopo/internal/config"
	"github.com/sudo-init-do/mkopo/internal/db"
	"github.com/sudo-init-do/mkopo/internal/ledger"
	"github.com/sudo-init-do/mkopo/internal/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "adminutil",
		Short:         "Operator tools for the mkopo payment service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(hashPasswordCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(pendingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func setup(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel, false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.Connect(ctx, cfg.DatabaseURL, log)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.EnsureSchema(ctx, pool, log); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [reference]",
		Short: "Query the gateway once for a payment and apply the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			done, err := a.Reconciler.Poll(ctx, args[0])
			if err != nil {
				return err
			}
			tx, err := a.Store.GetTransaction(ctx, args[0])
			if err != nil {
				return err
			}
			a.Log.Info("reconciled", zap.String("reference", tx.Reference), zap.Bool("final", done))
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tfinal=%t\n", tx.Reference, tx.Status, done)
			return nil
		},
	}
}

func pendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List payments and withdrawals that have not reached a final status",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			txs, err := a.Store.ListTransactionsByStatus(ctx, nil,
				[]ledger.Status{ledger.StatusPending, ledger.StatusProcessing}, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REFERENCE\tTYPE\tPHONE\tAMOUNT\tSTATUS\tCREATED")
			for _, tx := range txs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					tx.Reference, tx.Type, tx.UserPhone, tx.Amount.StringFixed(2), tx.Status,
					tx.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntP("limit", "n", ledger.MaxListLimit, "Maximum rows to print")
	return cmd
}
