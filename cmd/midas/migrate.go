package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piukhq/midas-sub000/internal/state"
)

var migrateLedger bool

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the retry_task and user_consent tables",
		Long: `Create or update the database schema for local development.

The migration:
1. Runs gorm AutoMigrate for retry_task and user_consent
2. With --ledger, creates the DynamoDB terminal ledger table with TTL

Examples:
  midas migrate
  LEDGER_TABLE=midas-ledger midas migrate --ledger`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, "migrate")
			if err != nil {
				return err
			}
			defer a.Close()

			if err := state.Migrate(a.db); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			a.logger.Info("database schema up to date")

			if !migrateLedger {
				return nil
			}
			if a.cfg.LedgerTable == "" {
				return fmt.Errorf("--ledger needs LEDGER_TABLE")
			}
			client, err := a.dynamo(ctx)
			if err != nil {
				return err
			}
			if err := state.NewDynamoLedger(client, a.cfg.LedgerTable, 0).EnsureTable(ctx); err != nil {
				return fmt.Errorf("ensure ledger table: %w", err)
			}
			a.logger.Info("ledger table ready", "table", a.cfg.LedgerTable)
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateLedger, "ledger", false, "also create the DynamoDB ledger table")

	return cmd
}
