package cli

import (
	"github.com/spf13/cobra"

	"trailing-return-alerts/internal/app"
)

var migrateSeed string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and optionally import seed history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context(), app.MigrateOptions{SeedDir: migrateSeed})
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateSeed, "seed", "", "Directory of <TICKER>.prices.csv / <TICKER>.dividends.csv files to import")
}
